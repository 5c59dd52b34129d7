package services

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"pulsewatch/internal/logging"
	"pulsewatch/internal/models"
)

// topicCategories maps a category label to the keywords that vote for it.
// Each user turn increments every category whose keyword appears.
var topicCategories = map[string][]string{
	"politica":   {"congreso", "diputado", "eleccion", "elección", "gobierno", "presidente", "partido", "ley"},
	"transporte": {"transporte", "transito", "tránsito", "trafico", "tráfico", "bus", "transmetro"},
	"seguridad":  {"seguridad", "violencia", "robo", "extorsion", "extorsión", "policia", "policía"},
	"economia":   {"economia", "economía", "precio", "canasta", "empleo", "impuesto", "presupuesto"},
	"social":     {"marcha", "protesta", "manifestacion", "manifestación", "comunidad", "educacion", "educación", "salud"},
}

// RelevantContext is what the orchestrator reads back before routing a new
// turn: recent history plus continuity signals.
type RelevantContext struct {
	RecentTurns     []models.ConversationTurn `json:"recent_turns"`
	TopTopics       []TopicWeight             `json:"top_topics"`
	AgentsByUsage   []string                  `json:"agents_by_usage"`
	Recommendations []string                  `json:"recommendations,omitempty"`
}

// TopicWeight is a topic category weighted by frequency and overlap with
// the incoming query.
type TopicWeight struct {
	Topic  string  `json:"topic"`
	Weight float64 `json:"weight"`
}

type conversationRecord struct {
	conversation *models.Conversation
	topics       map[string]int
	agentUsage   map[string]int
	totalLength  int
	hourCounts   [24]int
}

// ConversationManager owns per-session history and the behavioral stats
// derived from it. History is bounded; the oldest turns are evicted past
// the cap. All methods are safe for concurrent use.
type ConversationManager struct {
	mu       sync.RWMutex
	sessions map[string]*conversationRecord
	maxMsgs  int
	log      *logrus.Entry
}

// NewConversationManager creates a manager with the given history cap
func NewConversationManager(maxMessages int) *ConversationManager {
	if maxMessages <= 0 {
		maxMessages = 50
	}
	return &ConversationManager{
		sessions: make(map[string]*conversationRecord),
		maxMsgs:  maxMessages,
		log:      logrus.WithField("component", "conversation_manager"),
	}
}

// Ensure returns the conversation for a session, creating it on first use.
// An empty sessionID starts a fresh conversation.
func (m *ConversationManager) Ensure(sessionID, userID string) *models.Conversation {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sessionID != "" {
		if rec, ok := m.sessions[sessionID]; ok {
			rec.conversation.LastActivity = time.Now()
			return rec.conversation
		}
	}

	id := sessionID
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now()
	conv := &models.Conversation{
		ID:           id,
		UserID:       userID,
		SessionID:    id,
		Status:       models.ConversationStatusActive,
		StartedAt:    now,
		LastActivity: now,
	}
	m.sessions[id] = &conversationRecord{
		conversation: conv,
		topics:       make(map[string]int),
		agentUsage:   make(map[string]int),
	}
	logging.WithConversation(m.log, id, userID).Debug("conversation created")
	return conv
}

// AddUserTurn appends a user message and updates the derived stats
func (m *ConversationManager) AddUserTurn(conversationID, content string, intent models.Intent) {
	m.addTurn(conversationID, models.ConversationTurn{
		Role:      "user",
		Content:   content,
		Intent:    string(intent),
		Timestamp: time.Now(),
	})
}

// AddAssistantTurn appends the reply produced for a turn
func (m *ConversationManager) AddAssistantTurn(conversationID, content, agent string) {
	m.addTurn(conversationID, models.ConversationTurn{
		Role:      "assistant",
		Content:   content,
		Agent:     agent,
		Timestamp: time.Now(),
	})
}

func (m *ConversationManager) addTurn(conversationID string, turn models.ConversationTurn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.sessions[conversationID]
	if !ok {
		return
	}
	conv := rec.conversation
	conv.Messages = append(conv.Messages, turn)
	if len(conv.Messages) > m.maxMsgs {
		conv.Messages = conv.Messages[len(conv.Messages)-m.maxMsgs:]
	}
	conv.LastActivity = turn.Timestamp

	if turn.Role == "user" {
		rec.totalLength += len(turn.Content)
		rec.hourCounts[turn.Timestamp.Hour()]++
		lowered := strings.ToLower(turn.Content)
		for category, keywords := range topicCategories {
			for _, kw := range keywords {
				if strings.Contains(lowered, kw) {
					rec.topics[category]++
					break
				}
			}
		}
	}
	if turn.Agent != "" {
		rec.agentUsage[turn.Agent]++
	}
}

// RecordAgentUse bumps the usage counter for an agent dispatched this turn
func (m *ConversationManager) RecordAgentUse(conversationID, agent string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.sessions[conversationID]; ok {
		rec.agentUsage[agent]++
	}
}

// Get returns the conversation if it exists
func (m *ConversationManager) Get(conversationID string) (*models.Conversation, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.sessions[conversationID]
	if !ok {
		return nil, false
	}
	return rec.conversation, true
}

// History returns a copy of the recent turns, newest last
func (m *ConversationManager) History(conversationID string, limit int) []models.ConversationTurn {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.sessions[conversationID]
	if !ok {
		return nil
	}
	msgs := rec.conversation.Messages
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]models.ConversationTurn, len(msgs))
	copy(out, msgs)
	return out
}

// RelevantContext assembles the continuity signals for a new query: the
// last turns, topics weighted by frequency and keyword overlap with the
// query, agents ranked by past usage, and advisory recommendations.
func (m *ConversationManager) RelevantContext(conversationID, newQuery string) RelevantContext {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.sessions[conversationID]
	if !ok {
		return RelevantContext{}
	}

	ctx := RelevantContext{RecentTurns: lastTurns(rec.conversation.Messages, 6)}

	lowered := strings.ToLower(newQuery)
	for category, count := range rec.topics {
		weight := float64(count)
		for _, kw := range topicCategories[category] {
			if strings.Contains(lowered, kw) {
				weight *= 2
				break
			}
		}
		ctx.TopTopics = append(ctx.TopTopics, TopicWeight{Topic: category, Weight: weight})
	}
	sort.Slice(ctx.TopTopics, func(i, j int) bool {
		if ctx.TopTopics[i].Weight != ctx.TopTopics[j].Weight {
			return ctx.TopTopics[i].Weight > ctx.TopTopics[j].Weight
		}
		return ctx.TopTopics[i].Topic < ctx.TopTopics[j].Topic
	})
	if len(ctx.TopTopics) > 3 {
		ctx.TopTopics = ctx.TopTopics[:3]
	}

	type agentCount struct {
		agent string
		count int
	}
	var usage []agentCount
	for agent, count := range rec.agentUsage {
		usage = append(usage, agentCount{agent, count})
	}
	sort.Slice(usage, func(i, j int) bool {
		if usage[i].count != usage[j].count {
			return usage[i].count > usage[j].count
		}
		return usage[i].agent < usage[j].agent
	})
	for _, u := range usage {
		ctx.AgentsByUsage = append(ctx.AgentsByUsage, u.agent)
	}

	ctx.Recommendations = m.recommendations(rec, lowered)
	return ctx
}

// recommendations produces advisory continuity hints. They bias routing but
// never bind it.
func (m *ConversationManager) recommendations(rec *conversationRecord, loweredQuery string) []string {
	var out []string

	var topTopic string
	best := 0
	for category, count := range rec.topics {
		if count > best {
			best = count
			topTopic = category
		}
	}
	if topTopic != "" && best >= 2 {
		matched := false
		for _, kw := range topicCategories[topTopic] {
			if strings.Contains(loweredQuery, kw) {
				matched = true
				break
			}
		}
		if matched {
			out = append(out, "topic_follow_up:"+topTopic)
		}
	}

	var topAgent string
	best = 0
	for agent, count := range rec.agentUsage {
		if count > best {
			best = count
			topAgent = agent
		}
	}
	if topAgent != "" && best >= 2 {
		out = append(out, "agent_preference:"+topAgent)
	}

	if idle := time.Since(rec.conversation.LastActivity); idle > 30*time.Minute {
		out = append(out, "stale_context")
	}
	return out
}

// Stats are the lightweight behavioral aggregates for one conversation
type Stats struct {
	MessageCount     int            `json:"message_count"`
	AvgMessageLength float64        `json:"avg_message_length"`
	TopicCounts      map[string]int `json:"topic_counts"`
	AgentUsage       map[string]int `json:"agent_usage"`
	BusiestHour      int            `json:"busiest_hour"`
}

// Stats returns the behavioral aggregates for a conversation
func (m *ConversationManager) Stats(conversationID string) (Stats, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.sessions[conversationID]
	if !ok {
		return Stats{}, false
	}

	userTurns := 0
	for _, t := range rec.conversation.Messages {
		if t.Role == "user" {
			userTurns++
		}
	}
	s := Stats{
		MessageCount: len(rec.conversation.Messages),
		TopicCounts:  copyCounts(rec.topics),
		AgentUsage:   copyCounts(rec.agentUsage),
	}
	if userTurns > 0 {
		s.AvgMessageLength = float64(rec.totalLength) / float64(userTurns)
	}
	for hour, count := range rec.hourCounts {
		if count > rec.hourCounts[s.BusiestHour] {
			s.BusiestHour = hour
		}
	}
	return s, true
}

// EvictIdle removes sessions idle past maxAge and returns archive records
// carrying their transcripts. Conversational-only sessions never register on
// the bus, so the manager sweeps its own map.
func (m *ConversationManager) EvictIdle(maxAge time.Duration) []models.ConversationArchiveRecord {
	cutoff := time.Now().Add(-maxAge)
	m.mu.Lock()
	defer m.mu.Unlock()

	var evicted []models.ConversationArchiveRecord
	for id, rec := range m.sessions {
		conv := rec.conversation
		if conv.LastActivity.After(cutoff) {
			continue
		}
		msgs := make([]models.ConversationTurn, len(conv.Messages))
		copy(msgs, conv.Messages)
		evicted = append(evicted, models.ConversationArchiveRecord{
			ConversationID: id,
			UserID:         conv.UserID,
			Status:         models.ConversationStatusTimedOut,
			StartedAt:      conv.StartedAt,
			LastActivity:   conv.LastActivity,
			MessageCount:   len(msgs),
			Messages:       msgs,
			ArchivedAt:     time.Now(),
		})
		delete(m.sessions, id)
		m.log.WithField("conversation_id", id).Info("idle session evicted")
	}
	return evicted
}

// Drop removes a conversation, typically after bus eviction
func (m *ConversationManager) Drop(conversationID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, conversationID)
}

// Count returns the number of live conversations
func (m *ConversationManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func lastTurns(turns []models.ConversationTurn, n int) []models.ConversationTurn {
	if len(turns) > n {
		turns = turns[len(turns)-n:]
	}
	out := make([]models.ConversationTurn, len(turns))
	copy(out, turns)
	return out
}

func copyCounts(in map[string]int) map[string]int {
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
