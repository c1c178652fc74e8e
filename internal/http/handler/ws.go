package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"shopscout.app/research/core/config"
	"shopscout.app/research/internal/model"
	"shopscout.app/research/internal/pubsub"
	"shopscout.app/research/internal/service"
	"shopscout.app/research/internal/ws"
)

// Close codes for subscriptions rejected after the upgrade.
const (
	closeInvalidJobID       websocket.StatusCode = 4000
	closeJobNotFound        websocket.StatusCode = 4004
	closeTooManyConnections websocket.StatusCode = 4008
	closeInternalError      websocket.StatusCode = 4500
)

const wsWriteTimeout = 10 * time.Second

type WSHandler struct {
	manager *ws.ConnectionManager
	jobs    service.JobManager
	cfg     config.WebSocketConfig
}

func NewWSHandler(manager *ws.ConnectionManager, jobs service.JobManager, cfg config.WebSocketConfig) *WSHandler {
	return &WSHandler{manager: manager, jobs: jobs, cfg: cfg}
}

// Subscribe upgrades the request and streams updates for one job until the
// client disconnects or goes idle. The handshake is validated after the
// upgrade so rejections reach the client as websocket close codes instead of
// opaque HTTP errors.
func (h *WSHandler) Subscribe(c *gin.Context) {
	ctx := c.Request.Context()
	clientIP := c.ClientIP()
	rawID := c.Param("job_id")

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		// Browser clients connect from a separately hosted frontend origin.
		InsecureSkipVerify: true,
	})
	if err != nil {
		slog.WarnContext(ctx, "websocket upgrade failed", "error", err, "client_ip", clientIP)
		return
	}

	if h.cfg.MaxConnectionsPerIP > 0 && h.manager.CountForClient(clientIP) >= h.cfg.MaxConnectionsPerIP {
		closeConn(conn, closeTooManyConnections, "too many connections from this IP")
		return
	}

	jobID, err := uuid.Parse(rawID)
	if err != nil {
		closeConn(conn, closeInvalidJobID, "invalid job ID format")
		return
	}

	job, err := h.jobs.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, service.ErrJobNotFound) {
			closeConn(conn, closeJobNotFound, "job not found")
			return
		}
		slog.ErrorContext(ctx, "failed to validate websocket job", "error", err, "job_id", jobID)
		closeConn(conn, closeInternalError, "internal server error")
		return
	}

	h.manager.Register(conn, jobID.String(), clientIP)
	start := time.Now()
	defer func() {
		h.manager.Unregister(conn)
		closeConn(conn, websocket.StatusNormalClosure, "")
		slog.InfoContext(ctx, "websocket session ended",
			"job_id", jobID,
			"client_ip", clientIP,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}()

	h.pushStatus(ctx, conn, jobID, job)
	h.readLoop(ctx, conn, jobID)
}

// readLoop services client messages until disconnect. A read that exceeds
// the idle timeout ends the session; any client message resets the clock.
func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, jobID uuid.UUID) {
	for {
		readCtx, cancel := h.readContext(ctx)
		_, data, err := conn.Read(readCtx)
		cancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				slog.InfoContext(ctx, "disconnecting idle websocket", "job_id", jobID)
			}
			return
		}

		switch string(data) {
		case "ping":
			h.write(ctx, conn, []byte("pong"))
		case "get_status":
			job, err := h.jobs.GetJob(ctx, jobID)
			if err != nil {
				slog.WarnContext(ctx, "failed to refresh job status", "error", err, "job_id", jobID)
				continue
			}
			h.pushStatus(ctx, conn, jobID, job)
		default:
			slog.DebugContext(ctx, "unknown websocket message", "job_id", jobID, "message", string(data))
		}
	}
}

func (h *WSHandler) readContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if h.cfg.IdleTimeout > 0 {
		return context.WithTimeout(ctx, h.cfg.IdleTimeout)
	}
	return context.WithCancel(ctx)
}

// closeConn sends a close frame, ignoring failures on connections that are
// already gone.
func closeConn(conn *websocket.Conn, code websocket.StatusCode, reason string) {
	_ = conn.Close(code, reason)
}

// pushStatus writes the job's current status to one connection, the same
// shape broadcast on the update channel.
func (h *WSHandler) pushStatus(ctx context.Context, conn ws.Conn, jobID uuid.UUID, job *model.ResearchJob) {
	env := ws.Envelope{
		Type:      ws.EventJobStatus,
		JobID:     jobID.String(),
		Data:      pubsub.StatusData(job),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if err := h.manager.SendEnvelope(ctx, conn, env); err != nil {
		slog.WarnContext(ctx, "failed to push job status", "error", err, "job_id", jobID)
	}
}

func (h *WSHandler) write(ctx context.Context, conn *websocket.Conn, p []byte) {
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	if err := conn.Write(writeCtx, websocket.MessageText, p); err != nil {
		slog.WarnContext(ctx, "websocket write failed", "error", err)
	}
}

// Stats serves connection counts for monitoring.
func (h *WSHandler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.manager.Stats())
}
