package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"pulsewatch/internal/bus"
	"pulsewatch/internal/clients"
	"pulsewatch/internal/store"
)

// HealthHandler handles health check requests
type HealthHandler struct {
	bus     *bus.Bus
	memory  clients.Memory
	archive *store.ConversationArchive
}

// NewHealthHandler creates a new health handler. memory and archive may be
// nil when those collaborators are not configured.
func NewHealthHandler(b *bus.Bus, memory clients.Memory, archive *store.ConversationArchive) *HealthHandler {
	return &HealthHandler{bus: b, memory: memory, archive: archive}
}

// Handle responds with server health status
func (h *HealthHandler) Handle(c *fiber.Ctx) error {
	checks := fiber.Map{}
	if h.memory != nil {
		checks["memory"] = h.memory.IsHealthy(c.Context())
	}
	if h.archive != nil {
		checks["archive"] = h.archive.Ping(c.Context()) == nil
	}

	return c.JSON(fiber.Map{
		"status":        "healthy",
		"conversations": h.bus.ConversationCount(),
		"checks":        checks,
		"timestamp":     time.Now().Format(time.RFC3339),
	})
}
