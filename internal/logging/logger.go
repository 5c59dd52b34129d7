package logging

import (
	"log/slog"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Init configures the global slog logger.
// In production (ENVIRONMENT=production) it uses JSON output for log aggregation.
// Otherwise it uses the human-readable text handler.
func Init() {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))

	var handler slog.Handler
	if env == "production" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})
	}

	slog.SetDefault(slog.New(handler))
}

// WithConversation attaches the turn's conversation fields to a component
// logger. Use this for all logging within one orchestrated turn.
func WithConversation(log *logrus.Entry, conversationID, userID string) *logrus.Entry {
	return log.WithFields(logrus.Fields{
		"conversation_id": conversationID,
		"user_id":         userID,
	})
}

// WithAgent scopes a logger to one agent executing a capability.
func WithAgent(log *logrus.Entry, agent, capability string) *logrus.Entry {
	return log.WithFields(logrus.Fields{
		"agent":      agent,
		"capability": capability,
	})
}
