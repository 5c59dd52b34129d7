// Package bus implements the inter-agent communication fabric: conversation
// and agent registration, filtered message delivery, shared-context merging,
// handoff coordination and idle-conversation eviction.
//
// A Bus is an explicitly constructed instance injected into every component.
// There is no package-level state.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"pulsewatch/internal/models"
)

// privateFields are payload keys that are never forwarded across agents
var privateFields = map[string]bool{
	"internal_notes": true,
	"debug_info":     true,
}

// importantEventTypes are the event types worth buffering when a
// conversation has no active subscribers. Transient progress events are not.
var importantEventTypes = map[string]bool{
	"handoff_completed":    true,
	"agent_results_added":  true,
	"conversation_evicted": true,
	"error":                true,
}

// EventRelay republishes bus events to an external channel (e.g. Redis).
// Optional; a nil relay disables it.
type EventRelay interface {
	Relay(ctx context.Context, event models.BusEvent) error
}

// HandoffHandler receives a coordinated handoff on behalf of an agent.
// Handlers run synchronously on the initiator's goroutine and must not
// assume any lock is held.
type HandoffHandler func(ctx context.Context, conversationID string, payload map[string]interface{})

type conversationState struct {
	id           string
	userID       string
	startedAt    time.Time
	lastActivity time.Time
	status       models.ConversationStatus
	participants map[string]bool
	agentStates  map[string]models.AgentState
	sharedState  map[string]interface{}
	messages     []*models.AgentMessage
}

// Bus routes messages and shared context between agents within registered
// conversations. All mutation of per-conversation state goes through its
// methods so concurrent writers merge under one serialization point.
type Bus struct {
	mu             sync.RWMutex
	conversations  map[string]*conversationState
	subscribers    map[string]map[string]chan models.BusEvent // conversationID → subID → chan
	pending        map[string][]models.BusEvent
	messageTimeout time.Duration
	eventBufSize   int
	maxPending     int
	relay          EventRelay
	handlers       map[string]HandoffHandler
	onHandoff      func(outcome string)
	log            *slog.Logger
}

// Option configures a Bus
type Option func(*Bus)

// WithRelay attaches an external event relay
func WithRelay(r EventRelay) Option {
	return func(b *Bus) { b.relay = r }
}

// WithMessageTimeout overrides the delivery timeout (default 30s)
func WithMessageTimeout(d time.Duration) Option {
	return func(b *Bus) { b.messageTimeout = d }
}

// WithEventBufferSize overrides the per-subscriber channel capacity (default 64)
func WithEventBufferSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.eventBufSize = n
		}
	}
}

// WithHandoffObserver reports each handoff outcome ("success" or "failure"),
// typically into a metrics counter
func WithHandoffObserver(fn func(outcome string)) Option {
	return func(b *Bus) { b.onHandoff = fn }
}

// New creates a communication bus
func New(opts ...Option) *Bus {
	b := &Bus{
		conversations:  make(map[string]*conversationState),
		subscribers:    make(map[string]map[string]chan models.BusEvent),
		pending:        make(map[string][]models.BusEvent),
		messageTimeout: 30 * time.Second,
		eventBufSize:   64,
		maxPending:     50,
		handlers:       make(map[string]HandoffHandler),
		log:            slog.Default().With("component", "bus"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// RegisterConversation creates bus state for a conversation. Registering an
// existing conversation only refreshes its activity clock.
func (b *Bus) RegisterConversation(conversationID, userID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if conv, ok := b.conversations[conversationID]; ok {
		conv.lastActivity = time.Now()
		return
	}
	now := time.Now()
	b.conversations[conversationID] = &conversationState{
		id:           conversationID,
		userID:       userID,
		startedAt:    now,
		lastActivity: now,
		status:       models.ConversationStatusActive,
		participants: make(map[string]bool),
		agentStates:  make(map[string]models.AgentState),
		sharedState:  make(map[string]interface{}),
	}
	b.log.Debug("conversation registered", "conversation_id", conversationID, "user_id", userID)
}

// RegisterAgent adds an agent to a conversation's participant set
func (b *Bus) RegisterAgent(conversationID, agent string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	conv, ok := b.conversations[conversationID]
	if !ok {
		return fmt.Errorf("conversation %s not registered", conversationID)
	}
	if !conv.participants[agent] {
		conv.participants[agent] = true
		conv.agentStates[agent] = models.AgentState{Status: "registered", UpdatedAt: time.Now()}
	}
	conv.lastActivity = time.Now()
	return nil
}

// Participants returns the registered agent names for a conversation
func (b *Bus) Participants(conversationID string) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	conv, ok := b.conversations[conversationID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(conv.participants))
	for name := range conv.participants {
		out = append(out, name)
	}
	return out
}

// SendMessage creates and delivers a filtered message. Private payload
// fields are stripped before the message exists, so no receiver ever sees
// them. Delivery to a registered recipient is immediate; otherwise the
// message stays sent and expires to timed_out after the delivery timeout.
// Timeout is observable through the message history but never fatal.
func (b *Bus) SendMessage(from, to, conversationID string, msgType models.MessageType, payload map[string]interface{}) (*models.AgentMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	conv, ok := b.conversations[conversationID]
	if !ok {
		return nil, fmt.Errorf("conversation %s not registered", conversationID)
	}

	msg := &models.AgentMessage{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		From:           from,
		To:             to,
		Type:           msgType,
		Payload:        filterPayload(payload),
		Status:         models.MessageStatusSent,
		SentAt:         time.Now(),
	}
	conv.messages = append(conv.messages, msg)
	conv.lastActivity = time.Now()

	delivered := to == models.BroadcastRecipient && len(conv.participants) > 0
	if conv.participants[to] {
		delivered = true
	}
	if delivered {
		now := time.Now()
		msg.Status = models.MessageStatusDelivered
		msg.DeliveredAt = &now
	} else {
		id := msg.ID
		time.AfterFunc(b.messageTimeout, func() { b.expireMessage(conversationID, id) })
	}
	return msg, nil
}

// expireMessage marks a still-undelivered message as timed out
func (b *Bus) expireMessage(conversationID, messageID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	conv, ok := b.conversations[conversationID]
	if !ok {
		return
	}
	for _, msg := range conv.messages {
		if msg.ID == messageID && msg.Status == models.MessageStatusSent {
			msg.Status = models.MessageStatusTimedOut
			b.log.Warn("message delivery timed out",
				"conversation_id", conversationID, "message_id", messageID, "to", msg.To)
			return
		}
	}
}

// MergeContext merges an agent's context contribution into the shared
// state under the agent's namespace key. Callers never hold the shared map;
// they read it back through SharedContext.
func (b *Bus) MergeContext(conversationID, agent string, data map[string]interface{}) error {
	b.mu.Lock()
	conv, ok := b.conversations[conversationID]
	if !ok {
		b.mu.Unlock()
		return fmt.Errorf("conversation %s not registered", conversationID)
	}

	key := agent + "_context"
	existing, _ := conv.sharedState[key].(map[string]interface{})
	if existing == nil {
		existing = make(map[string]interface{})
	}
	for k, v := range filterPayload(data) {
		existing[k] = v
	}
	conv.sharedState[key] = existing
	conv.sharedState["last_update"] = time.Now()
	conv.sharedState["last_updated_by"] = agent
	conv.lastActivity = time.Now()
	b.mu.Unlock()

	// Context updates are announced to all participants
	if _, err := b.SendMessage(agent, models.BroadcastRecipient, conversationID, models.MessageTypeContextUpdate, data); err != nil {
		return err
	}
	b.publish(conversationID, models.BusEvent{
		Type:           "context_updated",
		ConversationID: conversationID,
		Agent:          agent,
		Timestamp:      time.Now(),
	})
	return nil
}

// SharedContext returns a copy of the conversation's shared state
func (b *Bus) SharedContext(conversationID string) (map[string]interface{}, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	conv, ok := b.conversations[conversationID]
	if !ok {
		return nil, fmt.Errorf("conversation %s not registered", conversationID)
	}
	out := make(map[string]interface{}, len(conv.sharedState))
	for k, v := range conv.sharedState {
		out[k] = v
	}
	return out, nil
}

// AddAgentResults records an agent's task results in shared state so other
// participants can build on them.
func (b *Bus) AddAgentResults(conversationID, agent string, results map[string]interface{}) error {
	b.mu.Lock()
	conv, ok := b.conversations[conversationID]
	if !ok {
		b.mu.Unlock()
		return fmt.Errorf("conversation %s not registered", conversationID)
	}
	all, _ := conv.sharedState["agent_results"].(map[string]interface{})
	if all == nil {
		all = make(map[string]interface{})
	}
	all[agent] = filterPayload(results)
	conv.sharedState["agent_results"] = all
	conv.lastActivity = time.Now()
	b.mu.Unlock()

	b.publish(conversationID, models.BusEvent{
		Type:           "agent_results_added",
		ConversationID: conversationID,
		Agent:          agent,
		Timestamp:      time.Now(),
	})
	return nil
}

// RegisterHandoffHandler binds an agent's handoff receiver. A coordinated
// handoff whose target has a registered handler is delivered to it after the
// state change commits.
func (b *Bus) RegisterHandoffHandler(agent string, h HandoffHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[agent] = h
}

// CoordinateHandoff transfers task ownership from one agent to another.
// It is atomic: the handoff message, both agent state updates and the
// coordination event happen together, or the handoff fails with no partial
// state change.
func (b *Bus) CoordinateHandoff(conversationID, from, to string, taskContext map[string]interface{}) error {
	b.mu.Lock()
	conv, ok := b.conversations[conversationID]
	if !ok {
		b.mu.Unlock()
		b.reportHandoff("failure")
		return fmt.Errorf("conversation %s not registered", conversationID)
	}
	if !conv.participants[from] {
		b.mu.Unlock()
		b.reportHandoff("failure")
		return fmt.Errorf("handoff source %s not registered in conversation %s", from, conversationID)
	}
	if !conv.participants[to] {
		b.mu.Unlock()
		b.reportHandoff("failure")
		return fmt.Errorf("handoff target %s not registered in conversation %s", to, conversationID)
	}

	now := time.Now()
	payload := filterPayload(taskContext)
	msg := &models.AgentMessage{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		From:           from,
		To:             to,
		Type:           models.MessageTypeHandoff,
		Payload:        payload,
		Status:         models.MessageStatusDelivered,
		SentAt:         now,
		DeliveredAt:    &now,
	}
	conv.messages = append(conv.messages, msg)
	conv.agentStates[from] = models.AgentState{Status: "handoff_completed", LastTask: msg.ID, UpdatedAt: now}
	conv.agentStates[to] = models.AgentState{Status: "handoff_received", LastTask: msg.ID, UpdatedAt: now}
	conv.lastActivity = now
	b.mu.Unlock()

	b.publish(conversationID, models.BusEvent{
		Type:           "handoff_completed",
		ConversationID: conversationID,
		Agent:          from,
		Data:           map[string]interface{}{"to": to, "message_id": msg.ID},
		Timestamp:      now,
	})
	b.log.Info("handoff coordinated", "conversation_id", conversationID, "from", from, "to", to)
	b.reportHandoff("success")

	b.mu.RLock()
	handler := b.handlers[to]
	b.mu.RUnlock()
	if handler != nil {
		ctx, cancel := context.WithTimeout(context.Background(), b.messageTimeout)
		defer cancel()
		handler(ctx, conversationID, payload)
	}
	return nil
}

func (b *Bus) reportHandoff(outcome string) {
	if b.onHandoff != nil {
		b.onHandoff(outcome)
	}
}

// AgentState returns an agent's current state within a conversation
func (b *Bus) AgentState(conversationID, agent string) (models.AgentState, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	conv, ok := b.conversations[conversationID]
	if !ok {
		return models.AgentState{}, false
	}
	st, ok := conv.agentStates[agent]
	return st, ok
}

// MessageHistory returns a copy of the conversation's message log
func (b *Bus) MessageHistory(conversationID string) []models.AgentMessage {
	b.mu.RLock()
	defer b.mu.RUnlock()

	conv, ok := b.conversations[conversationID]
	if !ok {
		return nil
	}
	out := make([]models.AgentMessage, len(conv.messages))
	for i, msg := range conv.messages {
		out[i] = *msg
	}
	return out
}

// Touch refreshes a conversation's activity clock so it is not evicted
// while a turn is in flight.
func (b *Bus) Touch(conversationID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if conv, ok := b.conversations[conversationID]; ok {
		conv.lastActivity = time.Now()
	}
}

// EvictIdle removes conversations idle past maxAge and returns archive
// records for them. Safe to run concurrently with in-flight turns: new
// activity resets the clock under the same lock this reads it.
func (b *Bus) EvictIdle(maxAge time.Duration) []models.ConversationArchiveRecord {
	cutoff := time.Now().Add(-maxAge)

	b.mu.Lock()
	var evicted []models.ConversationArchiveRecord
	for id, conv := range b.conversations {
		if conv.lastActivity.After(cutoff) {
			continue
		}
		evicted = append(evicted, models.ConversationArchiveRecord{
			ConversationID: id,
			UserID:         conv.userID,
			Status:         models.ConversationStatusTimedOut,
			StartedAt:      conv.startedAt,
			LastActivity:   conv.lastActivity,
			MessageCount:   len(conv.messages),
			ArchivedAt:     time.Now(),
		})
		delete(b.conversations, id)
	}
	b.mu.Unlock()

	for _, rec := range evicted {
		b.publish(rec.ConversationID, models.BusEvent{
			Type:           "conversation_evicted",
			ConversationID: rec.ConversationID,
			Timestamp:      time.Now(),
		})
		b.log.Info("evicted idle conversation", "conversation_id", rec.ConversationID,
			"idle_since", rec.LastActivity)
	}
	return evicted
}

// ConversationCount returns the number of active conversations
func (b *Bus) ConversationCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.conversations)
}

// filterPayload returns a copy of payload with private fields stripped
func filterPayload(payload map[string]interface{}) map[string]interface{} {
	if payload == nil {
		return nil
	}
	out := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		if privateFields[k] {
			continue
		}
		out[k] = v
	}
	return out
}
