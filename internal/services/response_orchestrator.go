package services

import (
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"pulsewatch/internal/models"
)

// AggregatedResponse is the single reply built from all agent results
type AggregatedResponse struct {
	Agent      string    `json:"agent"`
	Message    string    `json:"message"`
	Type       string    `json:"type"` // "analysis", "data", "direct" or "error"
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
}

// ResponseOrchestrator merges heterogeneous agent outputs into one ranked
// human-readable answer. When nothing usable came back it degrades to a
// structured failure message that still names the conversation.
type ResponseOrchestrator struct {
	log *logrus.Entry
}

// NewResponseOrchestrator creates the aggregator
func NewResponseOrchestrator() *ResponseOrchestrator {
	return &ResponseOrchestrator{log: logrus.WithField("component", "response_orchestrator")}
}

// Aggregate builds the reply for one turn from the settled task results
func (r *ResponseOrchestrator) Aggregate(conversationID, query string, results []*models.TaskResult) AggregatedResponse {
	var successes, failures []*models.TaskResult
	for _, res := range results {
		if res == nil {
			continue
		}
		if res.Success {
			successes = append(successes, res)
		} else {
			failures = append(failures, res)
		}
	}

	if len(successes) == 0 {
		return r.failureResponse(conversationID, failures)
	}

	var (
		sections   []string
		confidence float64
		lead       string
	)
	for _, res := range successes {
		var section string
		var c float64
		switch res.Agent {
		case models.AgentSocial:
			section, c = r.formatSocial(res)
		case models.AgentPersonal:
			section, c = r.formatPersonal(res)
		default:
			section, c = res.Summary, 0.5
		}
		if section != "" {
			sections = append(sections, section)
		}
		if c > confidence {
			confidence = c
			lead = res.Agent
		}
	}

	if len(failures) > 0 {
		sections = append(sections, r.partialFailureNote(failures))
	}

	return AggregatedResponse{
		Agent:      lead,
		Message:    strings.Join(sections, "\n\n"),
		Type:       "analysis",
		Confidence: confidence,
		Timestamp:  time.Now(),
	}
}

// formatSocial renders a social result. Confidence starts at the 0.5 base
// and earns fixed bonuses for a completed run, found mentions, an alta
// relevance assessment and an LLM-produced summary.
func (r *ResponseOrchestrator) formatSocial(res *models.TaskResult) (string, float64) {
	confidence := 0.5 + 0.3

	var sb strings.Builder
	if res.Summary != "" {
		sb.WriteString(res.Summary)
		confidence += 0.1
	}

	mentions, _ := res.Findings["mentions_count"].(int)
	if mentions > 0 {
		confidence += 0.1
	}
	if tier, ok := res.Findings["relevance_tier"].(models.RelevanceTier); ok && tier == models.RelevanceAlta {
		confidence += 0.1
	}

	if res.Analysis != nil {
		var details []string
		details = append(details, fmt.Sprintf("Sentimiento general: %s (%.2f)",
			sentimentLabel(res.Analysis.SentimentLabel), res.Analysis.Sentiment))
		if res.Analysis.IsViral {
			details = append(details, fmt.Sprintf("El tema muestra un patrón viral (score %.2f).", res.Analysis.ViralScore))
		} else if res.Analysis.Momentum > 0.3 {
			details = append(details, fmt.Sprintf("La conversación está acelerando (momentum %.2f).", res.Analysis.Momentum))
		}
		if len(res.Analysis.Actors) > 0 {
			limit := len(res.Analysis.Actors)
			if limit > 3 {
				limit = 3
			}
			details = append(details, "Actores destacados: "+strings.Join(res.Analysis.Actors[:limit], ", "))
		}
		if len(details) > 0 {
			if sb.Len() > 0 {
				sb.WriteString("\n\n")
			}
			sb.WriteString(strings.Join(details, "\n"))
		}
	}

	if confidence > 1 {
		confidence = 1
	}
	return sb.String(), confidence
}

// formatPersonal renders a personal-data result. Bonuses: findings present,
// meaningful volume, fast lookup.
func (r *ResponseOrchestrator) formatPersonal(res *models.TaskResult) (string, float64) {
	confidence := 0.5
	if len(res.Findings) > 0 {
		confidence += 0.3
	}

	volume := 0
	for _, key := range []string{"project_count", "document_count", "decision_count"} {
		if n, ok := res.Findings[key].(int); ok {
			volume += n
		}
	}
	if volume > 0 {
		confidence += 0.1
	}
	if res.Elapsed > 0 && res.Elapsed < 2000 {
		confidence += 0.1
	}

	if confidence > 1 {
		confidence = 1
	}
	return res.Summary, confidence
}

// sentimentLabel renders a category for humans
func sentimentLabel(c models.SentimentCategory) string {
	switch c {
	case models.SentimentVeryPositive:
		return "muy positivo"
	case models.SentimentPositive:
		return "positivo"
	case models.SentimentNegative:
		return "negativo"
	case models.SentimentVeryNegative:
		return "muy negativo"
	default:
		return "neutral"
	}
}

func (r *ResponseOrchestrator) partialFailureNote(failures []*models.TaskResult) string {
	var parts []string
	for _, f := range failures {
		parts = append(parts, f.Agent)
	}
	return fmt.Sprintf("Nota: no se pudo completar la parte de %s.", strings.Join(parts, ", "))
}

// failureResponse lists what each agent reported when nothing succeeded
func (r *ResponseOrchestrator) failureResponse(conversationID string, failures []*models.TaskResult) AggregatedResponse {
	var sb strings.Builder
	sb.WriteString("No pude completar el análisis solicitado.")
	for _, f := range failures {
		fmt.Fprintf(&sb, "\n- %s: %s", f.Agent, f.Error)
	}
	if len(failures) == 0 {
		sb.WriteString(" Ningún agente produjo resultados.")
	}

	r.log.WithFields(logrus.Fields{
		"conversation_id": conversationID,
		"failures":        len(failures),
	}).Warn("aggregation produced no usable content")

	return AggregatedResponse{
		Agent:      models.AgentOrchestrator,
		Message:    sb.String(),
		Type:       "error",
		Confidence: 0,
		Timestamp:  time.Now(),
	}
}
