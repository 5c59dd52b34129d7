package agents

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"pulsewatch/internal/bus"
	"pulsewatch/internal/models"
	"pulsewatch/internal/store"
)

func newTestPersonalAgent(t *testing.T) (*PersonalAgent, *store.PersonalStore, *bus.Bus) {
	t.Helper()
	s, err := store.NewPersonalStore(filepath.Join(t.TempDir(), "personal.db"))
	if err != nil {
		t.Fatalf("store init failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	b := bus.New()
	return NewPersonalAgent(s, b, 5*time.Minute), s, b
}

func personalTask(capability models.Capability, userID string, args map[string]interface{}) *models.AgentTask {
	return &models.AgentTask{
		ID:             "p-task",
		ConversationID: "c1",
		Agent:          models.AgentPersonal,
		Capability:     capability,
		Args:           args,
		UserID:         userID,
		Status:         models.TaskStatusQueued,
		CreatedAt:      time.Now(),
	}
}

func TestPersonalAgent_Projects(t *testing.T) {
	agent, s, b := newTestPersonalAgent(t)
	ctx := context.Background()
	b.RegisterConversation("c1", "u1")

	for _, title := range []string{"Monitoreo electoral", "Cobertura congreso"} {
		if _, err := s.SeedProject(ctx, store.Project{UserID: "u1", Title: title}); err != nil {
			t.Fatal(err)
		}
	}

	result := agent.ExecuteTask(ctx, personalTask(models.CapabilityUserProjects, "u1", nil))
	if !result.Success {
		t.Fatalf("project lookup failed: %s", result.Error)
	}
	if result.Findings["project_count"] != 2 {
		t.Errorf("expected 2 projects, got %v", result.Findings["project_count"])
	}
	if result.Summary == "" {
		t.Error("expected a non-empty summary")
	}
}

func TestPersonalAgent_CacheServesUntilInvalidated(t *testing.T) {
	agent, s, _ := newTestPersonalAgent(t)
	ctx := context.Background()

	if _, err := s.SeedProject(ctx, store.Project{UserID: "u1", Title: "Primero"}); err != nil {
		t.Fatal(err)
	}
	first := agent.ExecuteTask(ctx, personalTask(models.CapabilityUserProjects, "u1", nil))
	if first.Findings["project_count"] != 1 {
		t.Fatalf("expected 1 project, got %v", first.Findings["project_count"])
	}

	// A write that bypasses the agent is invisible while the cache is warm
	if _, err := s.SeedProject(ctx, store.Project{UserID: "u1", Title: "Directo"}); err != nil {
		t.Fatal(err)
	}
	cached := agent.ExecuteTask(ctx, personalTask(models.CapabilityUserProjects, "u1", nil))
	if cached.Findings["project_count"] != 1 {
		t.Errorf("cache should still serve 1 project, got %v", cached.Findings["project_count"])
	}

	// A write through the agent invalidates and the next read sees all rows
	if _, err := agent.AddProject(ctx, store.Project{UserID: "u1", Title: "Tercero"}); err != nil {
		t.Fatal(err)
	}
	fresh := agent.ExecuteTask(ctx, personalTask(models.CapabilityUserProjects, "u1", nil))
	if fresh.Findings["project_count"] != 3 {
		t.Errorf("invalidated read should see 3 projects, got %v", fresh.Findings["project_count"])
	}
}

func TestPersonalAgent_DocumentsRelevanceFilter(t *testing.T) {
	agent, s, _ := newTestPersonalAgent(t)
	ctx := context.Background()

	docs := []store.Document{
		{UserID: "u1", Title: "entrevista sobre transporte urbano", Type: "audio"},
		{UserID: "u1", Title: "acta presupuestaria", Type: "pdf"},
	}
	for _, d := range docs {
		if _, err := s.SeedDocument(ctx, d); err != nil {
			t.Fatal(err)
		}
	}

	result := agent.ExecuteTask(ctx, personalTask(models.CapabilityUserDocuments, "u1",
		map[string]interface{}{"query": "transporte"}))
	if !result.Success {
		t.Fatalf("document lookup failed: %s", result.Error)
	}
	if result.Findings["document_count"] != 1 {
		t.Errorf("expected 1 relevant document, got %v", result.Findings["document_count"])
	}
	if result.Findings["total_in_codex"] != 2 {
		t.Errorf("expected 2 total documents, got %v", result.Findings["total_in_codex"])
	}
}

func TestPersonalAgent_Decisions(t *testing.T) {
	agent, s, _ := newTestPersonalAgent(t)
	ctx := context.Background()

	pid, err := s.SeedProject(ctx, store.Project{UserID: "u1", Title: "Monitoreo"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.SeedDecision(ctx, store.Decision{UserID: "u1", ProjectID: pid, Title: "ampliar cobertura"}); err != nil {
		t.Fatal(err)
	}

	result := agent.ExecuteTask(ctx, personalTask(models.CapabilityUserDecisions, "u1",
		map[string]interface{}{"project_id": int(pid)}))
	if !result.Success || result.Findings["decision_count"] != 1 {
		t.Errorf("unexpected decisions result %+v", result)
	}
}

func TestPersonalAgent_RejectsForeignCapability(t *testing.T) {
	agent, _, _ := newTestPersonalAgent(t)

	result := agent.ExecuteTask(context.Background(),
		personalTask(models.CapabilitySocialSearch, "u1", nil))
	if result.Success {
		t.Fatal("foreign capability must fail")
	}
}

func TestPersonalAgent_HandoffNeedsDataKeyword(t *testing.T) {
	agent, s, b := newTestPersonalAgent(t)
	ctx := context.Background()
	b.RegisterConversation("c1", "u1")
	b.RegisterAgent("c1", models.AgentPersonal)

	if _, err := s.SeedProject(ctx, store.Project{UserID: "u1", Title: "Monitoreo transporte"}); err != nil {
		t.Fatal(err)
	}

	// Handoff without a data-need keyword is ignored
	agent.HandleHandoff(ctx, "c1", map[string]interface{}{
		"user_id": "u1", "topic": "situación del tránsito",
	})
	shared, _ := b.SharedContext("c1")
	if shared["agent_results"] != nil {
		t.Error("keyword-free handoff should not produce results")
	}

	// Handoff mentioning user data triggers context provisioning
	agent.HandleHandoff(ctx, "c1", map[string]interface{}{
		"user_id": "u1", "topic": "necesito los proyectos del usuario",
	})
	shared, _ = b.SharedContext("c1")
	results, _ := shared["agent_results"].(map[string]interface{})
	if results[models.AgentPersonal] == nil {
		t.Error("data-need handoff should share personal results")
	}
}

func TestPersonalAgent_DocumentCacheKeyedByTypeFilter(t *testing.T) {
	agent, s, _ := newTestPersonalAgent(t)
	ctx := context.Background()

	docs := []store.Document{
		{UserID: "u1", Title: "acta presupuestaria", Type: "pdf"},
		{UserID: "u1", Title: "entrevista alcaldía", Type: "audio"},
	}
	for _, d := range docs {
		if _, err := s.SeedDocument(ctx, d); err != nil {
			t.Fatal(err)
		}
	}

	pdf := agent.ExecuteTask(ctx, personalTask(models.CapabilityUserDocuments, "u1",
		map[string]interface{}{"type": "pdf", "query": ""}))
	if pdf.Findings["total_in_codex"] != 1 {
		t.Fatalf("pdf filter should see 1 document, got %v", pdf.Findings["total_in_codex"])
	}

	// A differently filtered query must not be served from the pdf cache entry
	audio := agent.ExecuteTask(ctx, personalTask(models.CapabilityUserDocuments, "u1",
		map[string]interface{}{"type": "audio", "query": ""}))
	if audio.Findings["total_in_codex"] != 1 {
		t.Errorf("audio filter should see 1 document, got %v", audio.Findings["total_in_codex"])
	}

	// A write through the agent invalidates filtered variants too
	if _, err := agent.AddDocument(ctx, store.Document{UserID: "u1", Title: "informe anual", Type: "pdf"}); err != nil {
		t.Fatal(err)
	}
	fresh := agent.ExecuteTask(ctx, personalTask(models.CapabilityUserDocuments, "u1",
		map[string]interface{}{"type": "pdf", "query": ""}))
	if fresh.Findings["total_in_codex"] != 2 {
		t.Errorf("invalidated pdf read should see 2 documents, got %v", fresh.Findings["total_in_codex"])
	}
}
