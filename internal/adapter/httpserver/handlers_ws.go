package httpserver

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/pscheid92/radar/internal/domain"
	"github.com/pscheid92/radar/internal/metrics"
	apperrors "github.com/pscheid92/radar/internal/platform/errors"
	"golang.org/x/time/rate"
)

func newUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		// Origins are checked by the handler before upgrading.
		CheckOrigin: func(*http.Request) bool { return true },
	}
}

// handleWebSocket admits a connection, upgrades it and runs its read pump
// until the peer goes away or the hub closes the socket.
func (s *Server) handleWebSocket(c echo.Context) error {
	req := c.Request()
	ip := c.RealIP()

	if ok, reason := s.limits.Acquire(ip); !ok {
		metrics.WebSocketConnectionsRejected.WithLabelValues(string(reason)).Inc()
		metrics.WebSocketConnectionsTotal.WithLabelValues("rejected").Inc()
		return limitError(reason)
	}

	if !s.checkOrigin(req) {
		s.limits.Release(ip)
		metrics.WebSocketConnectionsRejected.WithLabelValues("origin").Inc()
		metrics.WebSocketConnectionsTotal.WithLabelValues("rejected").Inc()
		return apperrors.ForbiddenError("origin not allowed").WithContext("origin", req.Header.Get("Origin"))
	}

	socket, err := s.upgrader.Upgrade(c.Response(), req, nil)
	if err != nil {
		// The upgrader has already answered the request.
		s.limits.Release(ip)
		metrics.WebSocketConnectionsTotal.WithLabelValues("error").Inc()
		slog.DebugContext(req.Context(), "WebSocket upgrade failed", "remote_ip", ip, "error", err)
		return nil
	}
	socket.SetReadLimit(s.config.MaxFrameBytes)

	// The request context carries the correlation id; the connection outlives
	// any cancellation of it.
	ctx := context.WithoutCancel(req.Context())
	conn := uuid.New()

	if err := s.hub.Register(conn, socket); err != nil {
		_ = socket.Close()
		s.limits.Release(ip)
		metrics.WebSocketConnectionsTotal.WithLabelValues("error").Inc()
		slog.ErrorContext(ctx, "Failed to register websocket", "conn_id", conn.String(), "error", err)
		return nil
	}

	metrics.WebSocketConnectionsTotal.WithLabelValues("success").Inc()
	metrics.WebSocketConnectionsCurrent.Inc()
	connectedAt := s.clock.Now()

	defer func() {
		s.router.HandleDisconnect(ctx, conn)
		s.hub.Unregister(conn)
		s.limits.Release(ip)

		metrics.WebSocketConnectionsCurrent.Dec()
		metrics.WebSocketConnectionDuration.Observe(s.clock.Since(connectedAt).Seconds())
		slog.InfoContext(ctx, "WebSocket disconnected", "conn_id", conn.String(), "remote_ip", ip)
	}()

	participant := s.router.HandleConnect(ctx, conn)
	slog.InfoContext(ctx, "WebSocket connected", "conn_id", conn.String(), "participant_id", participant.ID, "remote_ip", ip)

	s.readPump(ctx, conn, socket)
	return nil
}

// readPump hands every data frame to the router. With a positive
// MessageRate, frames over the per-connection rate are dropped without
// notice; otherwise nothing is throttled.
func (s *Server) readPump(ctx context.Context, conn domain.ConnID, socket *websocket.Conn) {
	var limiter *rate.Limiter
	if s.config.MessageRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(s.config.MessageRate), s.config.MessageBurst)
	}

	for {
		_, frame, err := socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				slog.DebugContext(ctx, "WebSocket read failed", "conn_id", conn.String(), "error", err)
			}
			return
		}

		if limiter != nil && !limiter.AllowN(s.clock.Now(), 1) {
			metrics.WebSocketInboundDropped.Inc()
			continue
		}

		s.router.HandleMessage(ctx, conn, frame)
	}
}

func limitError(reason LimitReason) *apperrors.Error {
	if reason == LimitReasonRate {
		return apperrors.RateLimitedError("too many connection attempts").WithContext("reason", string(reason))
	}
	return apperrors.UnavailableError("server at capacity").WithContext("reason", string(reason))
}
