package models

import "time"

// ConversationStatus represents the lifecycle state of a conversation
type ConversationStatus string

const (
	ConversationStatusActive   ConversationStatus = "active"
	ConversationStatusTimedOut ConversationStatus = "timed_out"
	ConversationStatusArchived ConversationStatus = "archived"
)

// Conversation is one chat session between a user and the orchestrator.
// The message log is bounded; once it exceeds the configured cap the oldest
// entries are evicted. Shared context and agent state are mirrored inside
// the communication bus for cross-agent visibility — callers read them
// through the bus, never by holding this struct's maps directly.
type Conversation struct {
	ID           string             `bson:"_id" json:"id"`
	UserID       string             `bson:"userId" json:"user_id"`
	SessionID    string             `bson:"sessionId,omitempty" json:"session_id,omitempty"`
	Status       ConversationStatus `bson:"status" json:"status"`
	StartedAt    time.Time          `bson:"startedAt" json:"started_at"`
	LastActivity time.Time          `bson:"lastActivity" json:"last_activity"`

	Messages     []ConversationTurn    `bson:"messages" json:"messages"`
	Participants []string              `bson:"participants,omitempty" json:"participants,omitempty"`
	AgentStates  map[string]AgentState `bson:"agentStates,omitempty" json:"agent_states,omitempty"`
}

// ConversationTurn is one user or assistant entry in the history
type ConversationTurn struct {
	Role      string    `bson:"role" json:"role"` // "user" or "assistant"
	Content   string    `bson:"content" json:"content"`
	Agent     string    `bson:"agent,omitempty" json:"agent,omitempty"`
	Intent    string    `bson:"intent,omitempty" json:"intent,omitempty"`
	Timestamp time.Time `bson:"timestamp" json:"timestamp"`
}

// AgentState tracks what an agent last did inside a conversation
type AgentState struct {
	Status    string    `bson:"status" json:"status"`
	LastTask  string    `bson:"lastTask,omitempty" json:"last_task,omitempty"`
	UpdatedAt time.Time `bson:"updatedAt" json:"updated_at"`
}

// ConversationArchiveRecord is the shape written to the archive store when
// an idle conversation is evicted.
type ConversationArchiveRecord struct {
	ConversationID string             `bson:"conversationId" json:"conversation_id"`
	UserID         string             `bson:"userId" json:"user_id"`
	Status         ConversationStatus `bson:"status" json:"status"`
	StartedAt      time.Time          `bson:"startedAt" json:"started_at"`
	LastActivity   time.Time          `bson:"lastActivity" json:"last_activity"`
	MessageCount   int                `bson:"messageCount" json:"message_count"`
	Messages       []ConversationTurn `bson:"messages" json:"messages"`
	ArchivedAt     time.Time          `bson:"archivedAt" json:"archived_at"`
}
