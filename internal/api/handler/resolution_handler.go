package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/evetabi/resolution-engine/internal/domain"
	"github.com/evetabi/resolution-engine/internal/engine"
	"github.com/evetabi/resolution-engine/internal/ws"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ResolutionHandler exposes the six inbound resolution operations (resolve,
// rollback, cancel, preview, pending, status) plus the websocket
// subscription, all routed through a single *engine.Engine.
type ResolutionHandler struct {
	engine *engine.Engine
	ws     *ws.Server
}

// NewResolutionHandler creates a ResolutionHandler. wsServer may be nil,
// in which case SUB market responds 503 rather than panicking.
func NewResolutionHandler(e *engine.Engine, wsServer *ws.Server) *ResolutionHandler {
	return &ResolutionHandler{engine: e, ws: wsServer}
}

// ── request/response bodies ──────────────────────────────────────────────

type resolveRequest struct {
	WinningOptionID    string            `json:"winning_option_id" binding:"required"`
	Evidence           []evidenceRequest `json:"evidence" binding:"required,min=1"`
	OperatorID         string            `json:"operator_id" binding:"required"`
	CreatorFeeFraction float64           `json:"creator_fee_fraction"`
}

type evidenceRequest struct {
	Type        string `json:"type" binding:"required"`
	Content     string `json:"content"`
	Description string `json:"description"`
}

type rollbackRequest struct {
	Reason     string `json:"reason"`
	OperatorID string `json:"operator_id" binding:"required"`
}

type cancelRequest struct {
	Reason       string `json:"reason"`
	OperatorID   string `json:"operator_id" binding:"required"`
	RefundTokens *bool  `json:"refund_tokens"`
}

// ── POST /api/resolutions/:marketId/resolve ──────────────────────────────

func (h *ResolutionHandler) Resolve(c *gin.Context) {
	marketID, err := uuid.Parse(c.Param("marketId"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", "invalid market id")
		return
	}
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}
	operatorID, err := uuid.Parse(req.OperatorID)
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", "invalid operator id")
		return
	}

	evidence := make([]domain.Evidence, 0, len(req.Evidence))
	now := time.Now().UTC()
	for _, e := range req.Evidence {
		evidence = append(evidence, domain.Evidence{
			ID:          uuid.New().String(),
			Type:        domain.EvidenceType(e.Type),
			Content:     e.Content,
			Description: e.Description,
			UploadedAt:  now,
		})
	}

	resolution, distribution, err := h.engine.Resolve(
		c.Request.Context(), marketID, req.WinningOptionID, evidence, operatorID,
		decimal.NewFromFloat(req.CreatorFeeFraction),
	)
	if err != nil {
		respondEngineError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{
		"resolution_id": resolution.ID,
		"summary":       resolution,
		"distribution":  distribution,
	})
}

// ── POST /api/distributions/:distributionId/rollback ─────────────────────

func (h *ResolutionHandler) Rollback(c *gin.Context) {
	distributionID, err := uuid.Parse(c.Param("distributionId"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", "invalid distribution id")
		return
	}
	var req rollbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}
	operatorID, err := uuid.Parse(req.OperatorID)
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", "invalid operator id")
		return
	}

	result, err := h.engine.Rollback(c.Request.Context(), distributionID, req.Reason, operatorID)
	if err != nil {
		respondEngineError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{
		"rollback_transaction_ids": result.RollbackTransactionIDs,
		"affected_users":           result.AffectedUsers,
		"distribution":             result.Distribution,
	})
}

// ── POST /api/markets/:marketId/cancel ────────────────────────────────────

func (h *ResolutionHandler) Cancel(c *gin.Context) {
	marketID, err := uuid.Parse(c.Param("marketId"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", "invalid market id")
		return
	}
	var req cancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}
	operatorID, err := uuid.Parse(req.OperatorID)
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", "invalid operator id")
		return
	}
	refund := true
	if req.RefundTokens != nil {
		refund = *req.RefundTokens
	}

	market, err := h.engine.Cancel(c.Request.Context(), marketID, req.Reason, operatorID, refund)
	if err != nil {
		respondEngineError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"market": market})
}

// ── GET /api/markets/:marketId/preview ────────────────────────────────────

func (h *ResolutionHandler) Preview(c *gin.Context) {
	marketID, err := uuid.Parse(c.Param("marketId"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", "invalid market id")
		return
	}
	winningOptionID := c.Query("winning_option_id")
	if winningOptionID == "" {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", "winning_option_id is required")
		return
	}
	creatorFeeFraction := decimal.Zero
	if raw := c.Query("creator_fee_fraction"); raw != "" {
		parsed, perr := decimal.NewFromString(raw)
		if perr != nil {
			respondError(c, http.StatusBadRequest, "ERR_VALIDATION", "invalid creator_fee_fraction")
			return
		}
		creatorFeeFraction = parsed
	}

	plan, err := h.engine.PayoutPreview(c.Request.Context(), marketID, winningOptionID, creatorFeeFraction)
	if err != nil {
		respondEngineError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, plan)
}

// ── GET /api/markets/pending ───────────────────────────────────────────────

func (h *ResolutionHandler) Pending(c *gin.Context) {
	markets, err := h.engine.GetPendingResolution(c.Request.Context())
	if err != nil {
		respondEngineError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, markets)
}

// ── GET /api/markets/:marketId/status ──────────────────────────────────────

func (h *ResolutionHandler) Status(c *gin.Context) {
	marketID, err := uuid.Parse(c.Param("marketId"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", "invalid market id")
		return
	}
	status, err := h.engine.Status(c.Request.Context(), marketID)
	if err != nil {
		respondEngineError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{
		"status":     status.Market.Status,
		"last_event": lastEvent(status.Logs),
		"logs":       status.Logs,
	})
}

// ── GET /ws/markets/:marketId ───────────────────────────────────────────────

func (h *ResolutionHandler) Subscribe(c *gin.Context) {
	marketID, err := uuid.Parse(c.Param("marketId"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", "invalid market id")
		return
	}
	if h.ws == nil {
		respondError(c, http.StatusServiceUnavailable, "ERR_UNAVAILABLE", "changefeed is not enabled")
		return
	}
	h.ws.ServeMarket(c.Writer, c.Request, marketID)
}

func lastEvent(logs []domain.ResolutionLog) *domain.ResolutionLog {
	if len(logs) == 0 {
		return nil
	}
	return &logs[len(logs)-1]
}

// ── Error translation ────────────────────────────────────────────────────

// respondEngineError maps a domain.EngineError's Kind to an HTTP status;
// unrecognized errors become 500s.
func respondEngineError(c *gin.Context, err error) {
	var ee *domain.EngineError
	if !errors.As(err, &ee) {
		respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", err.Error())
		return
	}

	status, code := http.StatusInternalServerError, "ERR_INTERNAL"
	switch ee.Kind {
	case domain.KindUnauthorized:
		status, code = http.StatusUnauthorized, "ERR_UNAUTHORIZED"
	case domain.KindNotFound:
		status, code = http.StatusNotFound, "ERR_NOT_FOUND"
	case domain.KindInvalidInput:
		status, code = http.StatusBadRequest, "ERR_INVALID_INPUT"
	case domain.KindConflictState:
		status, code = http.StatusConflict, "ERR_CONFLICT"
	case domain.KindInsufficient:
		status, code = http.StatusUnprocessableEntity, "ERR_INSUFFICIENT_FUNDS"
	case domain.KindConcurrencyExhaus:
		status, code = http.StatusConflict, "ERR_CONCURRENCY_EXHAUSTED"
	case domain.KindInvariantViolated:
		status, code = http.StatusInternalServerError, "ERR_INVARIANT_VIOLATED"
	case domain.KindFatal:
		status, code = http.StatusInternalServerError, "ERR_FATAL"
	}
	if ee.Reason != "" {
		code = code + ":" + ee.Reason
	}
	respondError(c, status, code, ee.Message)
}
