package jobs

import (
	"testing"
	"time"

	"pulsewatch/internal/bus"
	"pulsewatch/internal/models"
	"pulsewatch/internal/services"
)

func TestRunCleanup_EvictsIdleConversations(t *testing.T) {
	b := bus.New()
	cm := services.NewConversationManager(50)

	conv := cm.Ensure("", "u1")
	b.RegisterConversation(conv.ID, "u1")
	if err := b.RegisterAgent(conv.ID, "social"); err != nil {
		t.Fatal(err)
	}

	s, err := NewMaintenanceScheduler(b, cm, nil, nil, nil, time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(5 * time.Millisecond)
	s.RunCleanup()

	if b.ConversationCount() != 0 {
		t.Errorf("bus still holds %d conversations", b.ConversationCount())
	}
	if cm.Count() != 0 {
		t.Errorf("manager still holds %d conversations", cm.Count())
	}
}

func TestRunCleanup_KeepsActiveConversations(t *testing.T) {
	b := bus.New()
	cm := services.NewConversationManager(50)

	conv := cm.Ensure("", "u1")
	b.RegisterConversation(conv.ID, "u1")

	s, err := NewMaintenanceScheduler(b, cm, nil, nil, nil, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	s.RunCleanup()

	if b.ConversationCount() != 1 {
		t.Errorf("active conversation evicted early")
	}
}

func TestScheduler_StartAndShutdown(t *testing.T) {
	s, err := NewMaintenanceScheduler(bus.New(), services.NewConversationManager(50), nil, nil, nil, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Start(time.Hour); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := s.Shutdown(); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}

func TestRunCleanup_SweepsSessionsNeverOnBus(t *testing.T) {
	b := bus.New()
	cm := services.NewConversationManager(50)

	// A purely conversational exchange creates a session without any bus state
	conv := cm.Ensure("", "u1")
	cm.AddUserTurn(conv.ID, "hola, como estas", models.IntentCasualConversation)
	cm.AddAssistantTurn(conv.ID, "¡Hola!", models.AgentOrchestrator)

	s, err := NewMaintenanceScheduler(b, cm, nil, nil, nil, time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(5 * time.Millisecond)
	s.RunCleanup()

	if cm.Count() != 0 {
		t.Errorf("conversational-only session leaked, manager holds %d", cm.Count())
	}
}
