package services

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"pulsewatch/internal/agents"
	"pulsewatch/internal/bus"
	"pulsewatch/internal/clients"
	"pulsewatch/internal/models"
)

// stubAgent executes tasks with a scripted function and counts dispatches
type stubAgent struct {
	name string
	caps []models.Capability
	fn   func(task *models.AgentTask) *models.TaskResult

	mu    sync.Mutex
	tasks []*models.AgentTask
}

func (s *stubAgent) Name() string                      { return s.name }
func (s *stubAgent) Capabilities() []models.Capability { return s.caps }

func (s *stubAgent) ExecuteTask(_ context.Context, task *models.AgentTask) *models.TaskResult {
	s.mu.Lock()
	s.tasks = append(s.tasks, task)
	s.mu.Unlock()
	if s.fn != nil {
		return s.fn(task)
	}
	return &models.TaskResult{Success: true, Agent: s.name, Summary: "ok",
		Findings: map[string]interface{}{"done": true}}
}

func (s *stubAgent) HandleHandoff(context.Context, string, map[string]interface{}) {}

func (s *stubAgent) taskCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

func stubSocialAgent(fn func(*models.AgentTask) *models.TaskResult) *stubAgent {
	return &stubAgent{
		name: models.AgentSocial,
		caps: []models.Capability{
			models.CapabilitySocialSearch, models.CapabilitySocialProfile,
			models.CapabilityWebSearch, models.CapabilityResolveHandle,
		},
		fn: fn,
	}
}

func stubPersonalAgent(fn func(*models.AgentTask) *models.TaskResult) *stubAgent {
	return &stubAgent{
		name: models.AgentPersonal,
		caps: []models.Capability{
			models.CapabilityUserProjects, models.CapabilityUserDocuments,
			models.CapabilityUserDecisions,
		},
		fn: fn,
	}
}

type noopMemory struct{}

func (noopMemory) IsHealthy(context.Context) bool { return true }
func (noopMemory) EnhanceQuery(_ context.Context, q string) (*clients.EnhancedQuery, error) {
	return &clients.EnhancedQuery{EnhancedQuery: q}, nil
}
func (noopMemory) Search(context.Context, string, int) ([]models.MemoryMatch, error) {
	return nil, nil
}
func (noopMemory) SaveDiscovery(context.Context, models.DiscoveredEntity) (bool, error) {
	return true, nil
}
func (noopMemory) SearchDomainContext(context.Context, string, int) ([]models.MemoryMatch, error) {
	return nil, nil
}

func newTestOrchestrator(t *testing.T, llm clients.LLM, social, personal *stubAgent) (*Orchestrator, *bus.Bus) {
	t.Helper()
	b := bus.New()
	o, err := NewOrchestrator(
		NewIntentClassifier(llm),
		NewRoutingEngine(),
		NewConversationManager(50),
		NewResponseOrchestrator(),
		b,
		noopMemory{},
		nil,
		[]agents.Agent{social, personal},
		OrchestratorConfig{},
	)
	if err != nil {
		t.Fatalf("NewOrchestrator failed: %v", err)
	}
	return o, b
}

func TestNewOrchestrator_RejectsIncompleteHandlerTable(t *testing.T) {
	social := stubSocialAgent(nil)
	// Personal agent missing: user_* capabilities have no handler
	_, err := NewOrchestrator(
		NewIntentClassifier(&scriptedLLM{}),
		NewRoutingEngine(),
		NewConversationManager(50),
		NewResponseOrchestrator(),
		bus.New(),
		noopMemory{},
		nil,
		[]agents.Agent{social},
		OrchestratorConfig{},
	)
	if err == nil {
		t.Fatal("incomplete handler table must fail construction")
	}
}

func TestNewOrchestrator_RejectsDuplicateCapability(t *testing.T) {
	social := stubSocialAgent(nil)
	rogue := &stubAgent{name: "rogue", caps: []models.Capability{models.CapabilitySocialSearch}}
	_, err := NewOrchestrator(
		NewIntentClassifier(&scriptedLLM{}),
		NewRoutingEngine(),
		NewConversationManager(50),
		NewResponseOrchestrator(),
		bus.New(),
		noopMemory{},
		nil,
		[]agents.Agent{social, rogue, stubPersonalAgent(nil)},
		OrchestratorConfig{},
	)
	if err == nil {
		t.Fatal("duplicate capability claim must fail construction")
	}
}

func TestProcessUserQuery_ConversationalShortCircuit(t *testing.T) {
	social := stubSocialAgent(nil)
	personal := stubPersonalAgent(nil)
	o, b := newTestOrchestrator(t, &scriptedLLM{response: "casual_conversation"}, social, personal)

	result, err := o.ProcessUserQuery(context.Background(), "hola, como estas", Identity{ID: "u1"}, "")
	if err != nil {
		t.Fatalf("ProcessUserQuery failed: %v", err)
	}
	if result.Response.Message == "" {
		t.Error("conversational turn must return a non-empty direct message")
	}
	if result.Metadata.Intent != models.IntentCasualConversation {
		t.Errorf("intent = %s, want casual_conversation", result.Metadata.Intent)
	}
	// Zero tasks and zero bus side effects
	if social.taskCount() != 0 || personal.taskCount() != 0 {
		t.Errorf("conversational turn dispatched tasks: social=%d personal=%d",
			social.taskCount(), personal.taskCount())
	}
	if b.ConversationCount() != 0 {
		t.Errorf("conversational turn registered %d conversations on the bus", b.ConversationCount())
	}
	if result.ConversationID == "" {
		t.Error("conversation id must be set")
	}
}

func TestProcessUserQuery_TaskTurnDispatches(t *testing.T) {
	social := stubSocialAgent(nil)
	personal := stubPersonalAgent(nil)
	o, b := newTestOrchestrator(t, &scriptedLLM{response: "social_search"}, social, personal)

	result, err := o.ProcessUserQuery(context.Background(), "busca tweets del congreso", Identity{ID: "u1"}, "")
	if err != nil {
		t.Fatalf("ProcessUserQuery failed: %v", err)
	}
	if social.taskCount() != 1 {
		t.Errorf("expected 1 social task, got %d", social.taskCount())
	}
	if result.Response.Type == "error" {
		t.Errorf("expected a successful turn, got %+v", result.Response)
	}
	participants := b.Participants(result.ConversationID)
	if len(participants) != 1 || participants[0] != models.AgentSocial {
		t.Errorf("expected social registered on the bus, got %v", participants)
	}
}

func TestProcessUserQuery_ParallelPartialFailure(t *testing.T) {
	// Mixed route fans out to both agents; the personal task fails. The
	// social result must be unaffected and the reply must still answer.
	social := stubSocialAgent(nil)
	personal := stubPersonalAgent(func(*models.AgentTask) *models.TaskResult {
		return &models.TaskResult{Success: false, Agent: models.AgentPersonal, Error: "store down"}
	})
	o, _ := newTestOrchestrator(t, &scriptedLLM{response: "mixed_analysis"}, social, personal)

	result, err := o.ProcessUserQuery(context.Background(),
		"compara lo que dicen las redes con mis proyectos", Identity{ID: "u1"}, "")
	if err != nil {
		t.Fatalf("ProcessUserQuery failed: %v", err)
	}
	if social.taskCount() != 1 || personal.taskCount() != 1 {
		t.Fatalf("both agents should be dispatched: social=%d personal=%d",
			social.taskCount(), personal.taskCount())
	}
	if result.Response.Type != "analysis" {
		t.Errorf("partial failure must still produce an analysis, got %s", result.Response.Type)
	}
	if result.Metadata.Mode != models.ExecutionModeParallel {
		t.Errorf("mode = %s, want parallel", result.Metadata.Mode)
	}
}

func TestExecuteParallel_ThreeTasksOneFails(t *testing.T) {
	social := stubSocialAgent(func(task *models.AgentTask) *models.TaskResult {
		if task.Capability == models.CapabilityWebSearch {
			panic("collaborator blew up")
		}
		return &models.TaskResult{Success: true, Agent: models.AgentSocial, Summary: "ok"}
	})
	o, _ := newTestOrchestrator(t, &scriptedLLM{}, social, stubPersonalAgent(nil))

	plan := []*models.AgentTask{
		{ID: "1", Capability: models.CapabilitySocialSearch, Agent: models.AgentSocial},
		{ID: "2", Capability: models.CapabilityWebSearch, Agent: models.AgentSocial},
		{ID: "3", Capability: models.CapabilitySocialProfile, Agent: models.AgentSocial},
	}
	results := o.executeParallel(context.Background(), plan)

	successes, failures := 0, 0
	for _, r := range results {
		if r.Success {
			successes++
		} else {
			failures++
		}
	}
	if successes != 2 || failures != 1 {
		t.Errorf("got %d successes and %d failures, want 2 and 1", successes, failures)
	}
}

func TestDispatch_PanicIsolatedToTask(t *testing.T) {
	social := stubSocialAgent(func(*models.AgentTask) *models.TaskResult {
		panic("agent exploded")
	})
	o, _ := newTestOrchestrator(t, &scriptedLLM{}, social, stubPersonalAgent(nil))

	result := o.dispatch(context.Background(), &models.AgentTask{
		ID: "t", Capability: models.CapabilitySocialSearch, Agent: models.AgentSocial,
	})
	if result.Success {
		t.Fatal("panicked task must report failure")
	}
	if result.Error == "" {
		t.Error("panicked task must carry an error message")
	}
}

func TestExecuteSequential_EarlyExit(t *testing.T) {
	items := make([]models.SocialItem, 20)
	social := stubSocialAgent(func(*models.AgentTask) *models.TaskResult {
		return &models.TaskResult{
			Success:  true,
			Agent:    models.AgentSocial,
			Items:    items,
			Analysis: &models.AnalysisResult{Relevance: 8},
		}
	})
	o, _ := newTestOrchestrator(t, &scriptedLLM{}, social, stubPersonalAgent(nil))

	plan := []*models.AgentTask{
		{ID: "1", Capability: models.CapabilitySocialSearch, Agent: models.AgentSocial},
		{ID: "2", Capability: models.CapabilitySocialSearch, Agent: models.AgentSocial},
		{ID: "3", Capability: models.CapabilitySocialSearch, Agent: models.AgentSocial},
	}
	results := o.executeSequential(context.Background(), plan)
	if len(results) != 1 {
		t.Errorf("sufficient first step should skip the rest, got %d results", len(results))
	}
}

func TestExecuteSequential_FailureDoesNotAbort(t *testing.T) {
	calls := 0
	social := stubSocialAgent(func(*models.AgentTask) *models.TaskResult {
		calls++
		if calls == 1 {
			return &models.TaskResult{Success: false, Agent: models.AgentSocial, Error: "step down"}
		}
		return &models.TaskResult{Success: true, Agent: models.AgentSocial}
	})
	o, _ := newTestOrchestrator(t, &scriptedLLM{}, social, stubPersonalAgent(nil))

	plan := []*models.AgentTask{
		{ID: "1", Capability: models.CapabilitySocialSearch, Agent: models.AgentSocial, Priority: models.PriorityNormal},
		{ID: "2", Capability: models.CapabilitySocialSearch, Agent: models.AgentSocial, Priority: models.PriorityNormal},
	}
	results := o.executeSequential(context.Background(), plan)
	if len(results) != 2 {
		t.Fatalf("non-critical failure must not abort the sequence, got %d results", len(results))
	}
	if results[0].Success || !results[1].Success {
		t.Errorf("unexpected result pattern: %+v", results)
	}
}

func TestProcessUserQuery_PanicReturnsGenericErrorWithConversation(t *testing.T) {
	social := stubSocialAgent(nil)
	personal := stubPersonalAgent(nil)
	o, _ := newTestOrchestrator(t, &scriptedLLM{response: "social_search"}, social, personal)

	// Corrupt the router to force a panic mid-turn
	o.router = nil

	result, err := o.ProcessUserQuery(context.Background(), "busca algo", Identity{ID: "u1"}, "")
	if err != nil {
		t.Fatalf("panic must be converted, not returned: %v", err)
	}
	if result.Response.Type != "error" || result.ConversationID == "" {
		t.Errorf("expected generic error preserving conversation id, got %+v", result)
	}

	// The session survives for the next turn
	o2, _ := newTestOrchestrator(t, &scriptedLLM{response: "casual_conversation"}, social, personal)
	next, err := o2.ProcessUserQuery(context.Background(), "hola", Identity{ID: "u1"}, result.ConversationID)
	if err != nil || next.ConversationID == "" {
		t.Errorf("session must continue after a failed turn: %v %+v", err, next)
	}
}

var _ agents.Agent = (*stubAgent)(nil)

func TestTurnMetadata_TimingFieldsCarryMilliseconds(t *testing.T) {
	meta, err := json.Marshal(TurnMetadata{ProcessingTime: 1500})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(meta), `"processing_time_ms":1500`) {
		t.Errorf("metadata JSON = %s", meta)
	}

	res, err := json.Marshal(models.TaskResult{Agent: models.AgentSocial, Elapsed: 800})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(res), `"elapsed_ms":800`) {
		t.Errorf("task result JSON = %s", res)
	}
}
