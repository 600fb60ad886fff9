package handlers

import (
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/essay-grader/backend/internal/batch"
	"github.com/essay-grader/backend/pkg/logger"
)

type WebSocketHandler struct {
	tracker *batch.Tracker
}

func NewWebSocketHandler(tracker *batch.Tracker) *WebSocketHandler {
	return &WebSocketHandler{
		tracker: tracker,
	}
}

// HandleConnection streams progress snapshots until the run finishes or the
// client goes away.
func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("WebSocket connection established")

	updates, cancel := h.tracker.Subscribe()
	defer func() {
		cancel()
		c.Close()
		logger.Info("WebSocket connection closed")
	}()

	// the read loop only exists to notice the client closing
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
		case <-gone:
			return
		case p, ok := <-updates:
			if !ok {
				return
			}
			if err := h.sendProgress(c, p); err != nil {
				logger.Error("Failed to send progress", zap.Error(err))
				return
			}
			if p.Done() {
				h.sendComplete(c, p)
				return
			}
		}
	}
}

func (h *WebSocketHandler) sendProgress(c *websocket.Conn, p batch.Progress) error {
	msg := map[string]interface{}{
		"type":     "progress",
		"progress": p,
	}

	return c.WriteJSON(msg)
}

func (h *WebSocketHandler) sendComplete(c *websocket.Conn, p batch.Progress) {
	msg := map[string]interface{}{
		"type":    "complete",
		"run_id":  p.RunID,
		"written": p.Written,
		"skipped": p.Skipped,
		"error":   p.Error,
	}

	if err := c.WriteJSON(msg); err != nil {
		logger.Error("Failed to send completion", zap.Error(err))
	}
}
