package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/essay-grader/backend/internal/batch"
)

type ProgressHandler struct {
	tracker *batch.Tracker
}

func NewProgressHandler(tracker *batch.Tracker) *ProgressHandler {
	return &ProgressHandler{
		tracker: tracker,
	}
}

func (h *ProgressHandler) GetProgress(c *fiber.Ctx) error {
	p := h.tracker.Snapshot()

	percent := 0.0
	if p.Total > 0 {
		percent = float64(p.Completed) / float64(p.Total) * 100
	}

	return c.JSON(fiber.Map{
		"progress": p,
		"percent":  percent,
		"done":     p.Done(),
	})
}

// GetActiveEssay returns the in-flight essay at the given 1-based index.
func (h *ProgressHandler) GetActiveEssay(c *fiber.Ctx) error {
	index, err := strconv.Atoi(c.Params("index"))
	if err != nil || index < 1 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "index must be a positive integer",
		})
	}

	for _, a := range h.tracker.Snapshot().Active {
		if a.Index == index {
			return c.JSON(a)
		}
	}

	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
		"error": "essay not in progress",
	})
}
