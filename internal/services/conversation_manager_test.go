package services

import (
	"fmt"
	"testing"
	"time"

	"pulsewatch/internal/models"
)

func TestEnsure_ReusesSession(t *testing.T) {
	m := NewConversationManager(50)

	first := m.Ensure("", "u1")
	if first.ID == "" {
		t.Fatal("new conversation needs an id")
	}
	same := m.Ensure(first.ID, "u1")
	if same.ID != first.ID {
		t.Errorf("session id %s not reused, got %s", first.ID, same.ID)
	}
	if m.Count() != 1 {
		t.Errorf("expected 1 conversation, got %d", m.Count())
	}
}

func TestHistory_Bounded(t *testing.T) {
	m := NewConversationManager(5)
	conv := m.Ensure("", "u1")

	for i := 0; i < 12; i++ {
		m.AddUserTurn(conv.ID, fmt.Sprintf("mensaje %d", i), models.IntentSocialSearch)
	}

	history := m.History(conv.ID, 0)
	if len(history) != 5 {
		t.Fatalf("history not bounded: %d entries", len(history))
	}
	if history[len(history)-1].Content != "mensaje 11" {
		t.Errorf("newest turn lost, last = %q", history[len(history)-1].Content)
	}
	if history[0].Content != "mensaje 7" {
		t.Errorf("oldest entries should be evicted first, first = %q", history[0].Content)
	}
}

func TestTopicsAndStats(t *testing.T) {
	m := NewConversationManager(50)
	conv := m.Ensure("", "u1")

	m.AddUserTurn(conv.ID, "que se dice del congreso y la nueva ley", models.IntentSocialSearch)
	m.AddUserTurn(conv.ID, "y del trafico en el transmetro", models.IntentSocialSearch)
	m.AddUserTurn(conv.ID, "mas sobre el congreso", models.IntentSocialSearch)
	m.AddAssistantTurn(conv.ID, "respuesta", models.AgentSocial)

	stats, ok := m.Stats(conv.ID)
	if !ok {
		t.Fatal("stats missing")
	}
	if stats.TopicCounts["politica"] != 2 {
		t.Errorf("politica count = %d, want 2", stats.TopicCounts["politica"])
	}
	if stats.TopicCounts["transporte"] != 1 {
		t.Errorf("transporte count = %d, want 1", stats.TopicCounts["transporte"])
	}
	if stats.AgentUsage[models.AgentSocial] != 1 {
		t.Errorf("agent usage = %d, want 1", stats.AgentUsage[models.AgentSocial])
	}
	if stats.AvgMessageLength <= 0 {
		t.Error("average message length should be positive")
	}
}

func TestRelevantContext_WeightsOverlap(t *testing.T) {
	m := NewConversationManager(50)
	conv := m.Ensure("", "u1")

	// Two transporte turns, one politica turn
	m.AddUserTurn(conv.ID, "como esta el trafico hoy", models.IntentSocialSearch)
	m.AddUserTurn(conv.ID, "y los buses del transmetro", models.IntentSocialSearch)
	m.AddUserTurn(conv.ID, "algo del congreso", models.IntentSocialSearch)
	m.RecordAgentUse(conv.ID, models.AgentSocial)
	m.RecordAgentUse(conv.ID, models.AgentSocial)
	m.RecordAgentUse(conv.ID, models.AgentPersonal)

	ctx := m.RelevantContext(conv.ID, "sigue el problema del transporte?")
	if len(ctx.TopTopics) == 0 || ctx.TopTopics[0].Topic != "transporte" {
		t.Errorf("transporte should rank first with overlap boost, got %+v", ctx.TopTopics)
	}
	if len(ctx.AgentsByUsage) == 0 || ctx.AgentsByUsage[0] != models.AgentSocial {
		t.Errorf("social agent should rank first by usage, got %v", ctx.AgentsByUsage)
	}
	if len(ctx.RecentTurns) != 3 {
		t.Errorf("expected 3 recent turns, got %d", len(ctx.RecentTurns))
	}

	// Recommendations are advisory hints, keyed by kind
	foundTopic, foundAgent := false, false
	for _, rec := range ctx.Recommendations {
		if rec == "topic_follow_up:transporte" {
			foundTopic = true
		}
		if rec == "agent_preference:"+models.AgentSocial {
			foundAgent = true
		}
	}
	if !foundTopic || !foundAgent {
		t.Errorf("expected follow-up and preference hints, got %v", ctx.Recommendations)
	}
}

func TestRelevantContext_UnknownConversation(t *testing.T) {
	m := NewConversationManager(50)
	ctx := m.RelevantContext("missing", "algo")
	if len(ctx.RecentTurns) != 0 || len(ctx.TopTopics) != 0 {
		t.Errorf("unknown conversation should yield empty context, got %+v", ctx)
	}
}

func TestDrop(t *testing.T) {
	m := NewConversationManager(50)
	conv := m.Ensure("", "u1")

	m.Drop(conv.ID)
	if _, ok := m.Get(conv.ID); ok {
		t.Error("dropped conversation still present")
	}
}

func TestEvictIdle_SweepsIdleSessionsWithTranscript(t *testing.T) {
	m := NewConversationManager(50)

	conv := m.Ensure("", "u1")
	m.AddUserTurn(conv.ID, "hola, como estas", models.IntentCasualConversation)
	m.AddAssistantTurn(conv.ID, "¡Hola! ¿En qué te ayudo?", models.AgentOrchestrator)

	time.Sleep(5 * time.Millisecond)
	records := m.EvictIdle(time.Millisecond)
	if len(records) != 1 {
		t.Fatalf("expected 1 eviction record, got %d", len(records))
	}
	rec := records[0]
	if rec.ConversationID != conv.ID || rec.UserID != "u1" {
		t.Errorf("record identity mismatch: %+v", rec)
	}
	if rec.Status != models.ConversationStatusTimedOut {
		t.Errorf("evicted session status = %s, want timed_out", rec.Status)
	}
	if len(rec.Messages) != 2 || rec.MessageCount != 2 {
		t.Errorf("record should carry the transcript, got %d messages", len(rec.Messages))
	}
	if m.Count() != 0 {
		t.Errorf("manager still holds %d sessions", m.Count())
	}
}

func TestEvictIdle_KeepsActiveSessions(t *testing.T) {
	m := NewConversationManager(50)
	conv := m.Ensure("", "u1")
	m.AddUserTurn(conv.ID, "hola", models.IntentCasualConversation)

	if records := m.EvictIdle(time.Hour); len(records) != 0 {
		t.Fatalf("active session evicted: %+v", records)
	}
	if m.Count() != 1 {
		t.Errorf("manager lost an active session")
	}
}
