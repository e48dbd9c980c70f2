package api

import (
	"net/http"

	"github.com/evetabi/resolution-engine/internal/api/handler"
	"github.com/evetabi/resolution-engine/internal/api/middleware"
	"github.com/evetabi/resolution-engine/internal/config"
	"github.com/evetabi/resolution-engine/internal/engine"
	"github.com/evetabi/resolution-engine/internal/ledger"
	"github.com/evetabi/resolution-engine/internal/service"
	"github.com/evetabi/resolution-engine/internal/ws"
	"github.com/gin-gonic/gin"
)

// RouterDeps bundles every dependency needed to build the router.
// Populated once in main() and passed to SetupRouter.
type RouterDeps struct {
	AuthSvc *service.AuthService
	Ledger  *ledger.Ledger
	Engine  *engine.Engine
	WS      *ws.Server // may be nil: SUB market then responds 503
	Cfg     *config.Config
}

// SetupRouter creates and configures the main Gin engine with all routes,
// middleware, CORS, and rate limiting rules.
func SetupRouter(deps RouterDeps) *gin.Engine {
	if deps.Cfg.IsProd() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())

	// ── CORS ─────────────────────────────────────────────────────────────────
	r.Use(corsMiddleware(deps.Cfg))

	// ── Health check ─────────────────────────────────────────────────────────
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// ── Handlers ─────────────────────────────────────────────────────────────
	userH := handler.NewUserHandler(deps.AuthSvc, deps.Ledger)
	resH := handler.NewResolutionHandler(deps.Engine, deps.WS)

	// ── JWT middleware (shared) ───────────────────────────────────────────────
	jwtMW := middleware.JWTMiddleware(deps.AuthSvc)
	adminMW := middleware.AdminMiddleware()

	// ── Rate limiters ─────────────────────────────────────────────────────────
	authRL := middleware.RateLimitMiddleware(10) // 10 req/s per IP for auth endpoints

	api := r.Group("/api")
	{
		// ── Auth (public, strict rate limit) ─────────────────────────────────
		auth := api.Group("/auth")
		auth.Use(authRL)
		{
			auth.POST("/register", userH.Register)
			auth.POST("/login", userH.Login)
			auth.POST("/refresh", userH.Refresh)
		}

		// ── Authenticated routes ──────────────────────────────────────────────
		authed := api.Group("")
		authed.Use(jwtMW)
		{
			authed.GET("/me", userH.Me)

			// ── Resolution & payout operations ────────────────────────────────
			markets := authed.Group("/markets")
			{
				markets.GET("/pending", resH.Pending)
				markets.GET("/:marketId/preview", resH.Preview)
				markets.GET("/:marketId/status", resH.Status)

				admin := markets.Group("")
				admin.Use(adminMW)
				{
					admin.POST("/:marketId/resolve", resH.Resolve)
					admin.POST("/:marketId/cancel", resH.Cancel)
				}
			}

			distributions := authed.Group("/distributions")
			distributions.Use(adminMW)
			{
				distributions.POST("/:distributionId/rollback", resH.Rollback)
			}
		}
	}

	// ── WebSocket ("SUB market") ────────────────────────────────────────────
	r.GET("/ws/markets/:marketId", resH.Subscribe)

	return r
}

// ── CORS helper ───────────────────────────────────────────────────────────────

// corsMiddleware returns a gin middleware that sets appropriate CORS headers.
// In DEBUG mode all origins are allowed; in production only configured origins.
func corsMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		if !cfg.IsProd() {
			// Development: allow any origin
			c.Header("Access-Control-Allow-Origin", "*")
		} else if origin != "" {
			// Production: allow only evetabi.com (and www.)
			allowed := map[string]bool{
				"https://evetabi.com":     true,
				"https://www.evetabi.com": true,
			}
			if allowed[origin] {
				c.Header("Access-Control-Allow-Origin", origin)
			}
		}

		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
