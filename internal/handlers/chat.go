package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"pulsewatch/internal/services"
	"pulsewatch/internal/store"
)

// ChatRequest is the POST /api/chat body
type ChatRequest struct {
	Message        string `json:"message"`
	UserID         string `json:"user_id"`
	UserName       string `json:"user_name,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// ChatHandler exposes the orchestration pipeline over HTTP
type ChatHandler struct {
	orchestrator  *services.Orchestrator
	conversations *services.ConversationManager
	archive       *store.ConversationArchive
	log           *logrus.Entry
}

// NewChatHandler creates the chat handler. archive may be nil.
func NewChatHandler(o *services.Orchestrator, cm *services.ConversationManager, archive *store.ConversationArchive) *ChatHandler {
	return &ChatHandler{
		orchestrator:  o,
		conversations: cm,
		archive:       archive,
		log:           logrus.WithField("component", "chat_handler"),
	}
}

// Handle processes one user message
// POST /api/chat
func (h *ChatHandler) Handle(c *fiber.Ctx) error {
	var req ChatRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Message is required",
		})
	}
	if req.UserID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "User ID is required",
		})
	}
	if len(req.Message) > 4000 {
		return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{
			"error": "Message too long (max 4000 characters)",
		})
	}

	result, err := h.orchestrator.ProcessUserQuery(c.Context(), req.Message,
		services.Identity{ID: req.UserID, Name: req.UserName}, req.ConversationID)
	if err != nil {
		h.log.WithError(err).Error("turn processing failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to process message",
		})
	}
	return c.JSON(result)
}

// History returns the bounded message log of a conversation
// GET /api/conversations/:id
func (h *ChatHandler) History(c *fiber.Ctx) error {
	conversationID := c.Params("id")
	if conversationID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Conversation ID is required",
		})
	}

	conv, ok := h.conversations.Get(conversationID)
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Conversation not found",
		})
	}
	return c.JSON(fiber.Map{
		"id":            conv.ID,
		"user_id":       conv.UserID,
		"status":        conv.Status,
		"started_at":    conv.StartedAt,
		"last_activity": conv.LastActivity,
		"messages":      h.conversations.History(conversationID, c.QueryInt("limit", 0)),
	})
}

// Stats returns usage statistics for a conversation
// GET /api/conversations/:id/stats
func (h *ChatHandler) Stats(c *fiber.Ctx) error {
	conversationID := c.Params("id")
	stats, ok := h.conversations.Stats(conversationID)
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Conversation not found",
		})
	}
	return c.JSON(stats)
}

// ArchivedConversations returns a user's recently archived conversations
// GET /api/users/:id/conversations
func (h *ChatHandler) ArchivedConversations(c *fiber.Ctx) error {
	if h.archive == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Conversation archive not available",
		})
	}
	userID := c.Params("id")
	if userID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "User ID is required",
		})
	}

	records, err := h.archive.RecentForUser(c.Context(), userID, c.QueryInt("limit", 10))
	if err != nil {
		h.log.WithError(err).Error("archive lookup failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load archived conversations",
		})
	}
	return c.JSON(fiber.Map{"conversations": records, "count": len(records)})
}
