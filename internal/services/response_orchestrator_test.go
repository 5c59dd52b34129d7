package services

import (
	"strings"
	"testing"

	"pulsewatch/internal/models"
)

func socialSuccess() *models.TaskResult {
	return &models.TaskResult{
		Success: true,
		Agent:   models.AgentSocial,
		Summary: "Lo encontrado sobre el tema muestra un debate activo.",
		Findings: map[string]interface{}{
			"mentions_count": 25,
			"relevance_tier": models.RelevanceAlta,
		},
		Analysis: &models.AnalysisResult{
			Sentiment:      -0.4,
			SentimentLabel: models.SentimentNegative,
			Momentum:       0.6,
			Actors:         []string{"@congreso", "#ley"},
		},
		Elapsed: 800,
	}
}

func personalSuccess() *models.TaskResult {
	return &models.TaskResult{
		Success: true,
		Agent:   models.AgentPersonal,
		Summary: "Tienes 2 proyectos activos.",
		Findings: map[string]interface{}{
			"project_count": 2,
		},
		Elapsed: 120,
	}
}

func failed(agent, msg string) *models.TaskResult {
	return &models.TaskResult{Success: false, Agent: agent, Error: msg}
}

func TestAggregate_AllSuccess(t *testing.T) {
	r := NewResponseOrchestrator()

	resp := r.Aggregate("c1", "tema", []*models.TaskResult{socialSuccess(), personalSuccess()})
	if resp.Type != "analysis" {
		t.Errorf("type = %s, want analysis", resp.Type)
	}
	if !strings.Contains(resp.Message, "debate activo") || !strings.Contains(resp.Message, "2 proyectos") {
		t.Errorf("message missing agent sections: %q", resp.Message)
	}
	if resp.Agent != models.AgentSocial {
		t.Errorf("lead agent = %s, want social (higher confidence)", resp.Agent)
	}
}

func TestAggregate_SocialConfidenceBonuses(t *testing.T) {
	r := NewResponseOrchestrator()

	// Full bonus set: success, summary, mentions, alta tier
	full := r.Aggregate("c1", "q", []*models.TaskResult{socialSuccess()})
	if full.Confidence != 1.0 {
		t.Errorf("full-bonus confidence = %f, want 1.0", full.Confidence)
	}

	bare := socialSuccess()
	bare.Summary = ""
	bare.Findings = map[string]interface{}{}
	got := r.Aggregate("c1", "q", []*models.TaskResult{bare})
	if got.Confidence != 0.8 {
		t.Errorf("base success confidence = %f, want 0.8", got.Confidence)
	}
}

func TestAggregate_PartialFailureKeepsSuccesses(t *testing.T) {
	r := NewResponseOrchestrator()

	resp := r.Aggregate("c1", "q", []*models.TaskResult{
		socialSuccess(),
		failed(models.AgentPersonal, "store unavailable"),
	})
	if resp.Type != "analysis" {
		t.Fatalf("partial failure must still answer, got type %s", resp.Type)
	}
	if !strings.Contains(resp.Message, models.AgentPersonal) {
		t.Errorf("partial failure note missing: %q", resp.Message)
	}
}

func TestAggregate_TotalFailureListsAgents(t *testing.T) {
	r := NewResponseOrchestrator()

	resp := r.Aggregate("c1", "q", []*models.TaskResult{
		failed(models.AgentSocial, "search down"),
		failed(models.AgentPersonal, "store down"),
	})
	if resp.Type != "error" || resp.Confidence != 0 {
		t.Fatalf("expected error response, got %+v", resp)
	}
	if !strings.Contains(resp.Message, "search down") || !strings.Contains(resp.Message, "store down") {
		t.Errorf("per-agent errors missing: %q", resp.Message)
	}
}

func TestAggregate_SentimentFormatting(t *testing.T) {
	r := NewResponseOrchestrator()

	resp := r.Aggregate("c1", "q", []*models.TaskResult{socialSuccess()})
	if !strings.Contains(resp.Message, "negativo") {
		t.Errorf("sentiment label missing from message: %q", resp.Message)
	}
	if !strings.Contains(resp.Message, "@congreso") {
		t.Errorf("key actors missing from message: %q", resp.Message)
	}
}
