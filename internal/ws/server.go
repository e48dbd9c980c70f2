// Package ws is the websocket transport for per-market change subscriptions:
// one connection subscribes to exactly one market and receives its
// changefeed.Updates as JSON frames — each paired with a fresh market
// snapshot when a SnapshotFunc is configured — until it disconnects or the
// subscription is cancelled. Liveness is ping/pong; the read loop exists
// only to notice the peer going away.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/evetabi/resolution-engine/internal/changefeed"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeDeadline  = 10 * time.Second
	pingInterval   = 30 * time.Second
	pongWait       = 35 * time.Second // must be > pingInterval
	maxMessageSize = 512              // bytes; clients only send pongs

	snapshotTimeout = 5 * time.Second
)

// SnapshotFunc loads the current view of a market — its commitments and
// aggregated per-option analytics — for delivery to a subscriber. Snapshots
// are read outside any transaction and are eventually consistent: a
// subscriber may see the same state twice, never a torn write.
type SnapshotFunc func(ctx context.Context, marketID uuid.UUID) (any, error)

// frame is the wire shape every subscriber receives: the triggering event
// (empty on the initial frame) plus a fresh market snapshot when a
// SnapshotFunc is configured.
type frame struct {
	Event    *changefeed.Update `json:"event,omitempty"`
	Snapshot any                `json:"snapshot,omitempty"`
}

// Server upgrades HTTP requests into per-market changefeed subscriptions.
type Server struct {
	feed     *changefeed.Hub
	snapshot SnapshotFunc // may be nil: subscribers get events only
	upgrader websocket.Upgrader
	log      *slog.Logger
}

// NewServer builds a Server over feed. An empty allowedOrigins means
// "allow all" (local/dev).
func NewServer(feed *changefeed.Hub, allowedOrigins []string, log *slog.Logger) *Server {
	return &Server{
		feed: feed,
		log:  log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if len(allowedOrigins) == 0 {
					return true
				}
				origin := r.Header.Get("Origin")
				for _, o := range allowedOrigins {
					if o == "*" || o == origin {
						return true
					}
				}
				return false
			},
		},
	}
}

// WithSnapshot attaches a SnapshotFunc so every subscriber receives the
// market's current commitments/analytics on connect and with each event.
// Returns s for chaining at construction time.
func (s *Server) WithSnapshot(fn SnapshotFunc) *Server {
	s.snapshot = fn
	return s
}

// ServeMarket upgrades the request and streams marketID's changefeed.Updates
// to the client until it disconnects.
func (s *Server) ServeMarket(w http.ResponseWriter, r *http.Request, marketID uuid.UUID) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("ws: upgrade failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	updates, unsubscribe := s.feed.Subscribe(ctx, marketID)

	go s.readPump(conn, cancel)
	s.writePump(ctx, conn, marketID, updates, unsubscribe)
}

// writePump drains updates to the connection and sends periodic pings until
// either the feed subscription or the connection itself ends. The first
// frame is an unsolicited snapshot so a late joiner does not have to wait
// for the next lifecycle event to learn the market's state.
func (s *Server) writePump(ctx context.Context, conn *websocket.Conn, marketID uuid.UUID, updates <-chan changefeed.Update, unsubscribe func()) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		unsubscribe()
		_ = conn.Close()
	}()

	if err := s.writeFrame(ctx, conn, marketID, nil); err != nil {
		return
	}

	for {
		select {
		case update, ok := <-updates:
			if !ok {
				_ = conn.SetWriteDeadline(time.Now().Add(writeDeadline))
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.writeFrame(ctx, conn, marketID, &update); err != nil {
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// writeFrame sends one frame, attaching a fresh snapshot when configured. A
// failed snapshot read degrades to an event-only frame rather than dropping
// the connection — the next event carries a fresh attempt.
func (s *Server) writeFrame(ctx context.Context, conn *websocket.Conn, marketID uuid.UUID, event *changefeed.Update) error {
	f := frame{Event: event}
	if s.snapshot != nil {
		snapCtx, cancel := context.WithTimeout(ctx, snapshotTimeout)
		snap, err := s.snapshot(snapCtx, marketID)
		cancel()
		if err != nil {
			s.log.Warn("ws: snapshot load failed", "market_id", marketID, "error", err)
		} else {
			f.Snapshot = snap
		}
	}
	if f.Event == nil && f.Snapshot == nil {
		return nil
	}

	data, err := json.Marshal(f)
	if err != nil {
		return nil
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// readPump only exists to detect the connection closing (this is a
// server-push-only protocol, so every inbound frame besides pongs is
// discarded) and to cancel the subscription's context when it does.
func (s *Server) readPump(conn *websocket.Conn, cancel func()) {
	defer cancel()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
