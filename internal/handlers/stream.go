package handlers

import (
	"context"
	"log/slog"

	"github.com/gofiber/websocket/v2"
)

// StreamHandler pushes job progress over WebSocket
type StreamHandler struct {
	jobs   JobService
	logger *slog.Logger
}

// NewStreamHandler creates a new stream handler
func NewStreamHandler(jobs JobService, logger *slog.Logger) *StreamHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamHandler{
		jobs:   jobs,
		logger: logger.With("component", "ws"),
	}
}

// Handle sends the job snapshot first, then every live event until the client
// disconnects or falls too far behind.
func (h *StreamHandler) Handle(c *websocket.Conn) {
	defer c.Close()

	jobID := c.Params("id")
	logger := h.logger.With("job_id", jobID)

	sub, first, err := h.jobs.Subscribe(context.Background(), jobID)
	if err != nil {
		status, code := classify(err)
		logger.Info("subscribe rejected", "status", status, "error", err)
		_ = c.WriteJSON(map[string]string{"error": err.Error(), "code": code})
		return
	}
	defer h.jobs.Unsubscribe(sub)
	logger.Debug("websocket subscribed")

	if err := c.WriteJSON(first); err != nil {
		logger.Debug("write snapshot failed", "error", err)
		return
	}

	// Reads only detect the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				logger.Warn("closing slow websocket consumer")
				_ = c.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "consumer too slow"))
				return
			}
			if err := c.WriteJSON(ev); err != nil {
				logger.Debug("websocket write failed", "error", err)
				return
			}
		case <-gone:
			logger.Debug("websocket closed by client")
			return
		}
	}
}
