package models

import "time"

// MessageType classifies inter-agent messages on the communication bus
type MessageType string

const (
	MessageTypeTask          MessageType = "task"
	MessageTypeHandoff       MessageType = "handoff"
	MessageTypeContextUpdate MessageType = "context_update"
)

// MessageStatus is the delivery state of a bus message. A sent message
// either reaches delivered or expires to timed_out after the bus delivery
// timeout; timeout is observable but non-fatal.
type MessageStatus string

const (
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusTimedOut  MessageStatus = "timed_out"
)

// BroadcastRecipient addresses a message to every registered agent in the
// conversation instead of a single named one.
const BroadcastRecipient = "broadcast"

// AgentMessage is one immutable message on the communication bus. The
// payload has already been filtered: private fields are stripped before the
// message is created, so no receiver ever sees them.
type AgentMessage struct {
	ID             string                 `bson:"_id" json:"id"`
	ConversationID string                 `bson:"conversationId" json:"conversation_id"`
	From           string                 `bson:"from" json:"from"`
	To             string                 `bson:"to" json:"to"`
	Type           MessageType            `bson:"type" json:"type"`
	Payload        map[string]interface{} `bson:"payload,omitempty" json:"payload,omitempty"`
	Status         MessageStatus          `bson:"status" json:"status"`
	SentAt         time.Time              `bson:"sentAt" json:"sent_at"`
	DeliveredAt    *time.Time             `bson:"deliveredAt,omitempty" json:"delivered_at,omitempty"`
}

// BusEvent is a coordination event emitted by the communication bus
// (handoffs, registrations, evictions). Subscribers receive these over
// buffered channels; important types are retained for offline subscribers.
type BusEvent struct {
	Type           string                 `json:"type"`
	ConversationID string                 `json:"conversation_id"`
	Agent          string                 `json:"agent,omitempty"`
	Data           map[string]interface{} `json:"data,omitempty"`
	Timestamp      time.Time              `json:"timestamp"`
}
