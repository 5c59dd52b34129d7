package services

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"pulsewatch/internal/models"
)

// RoutePattern is one entry of the priority-ordered routing table. A pattern
// matches when the classified intent is in its intent list, or when any of
// its keywords appears in the message. Patterns are evaluated in declared
// order; the first match wins.
type RoutePattern struct {
	Name         string              `yaml:"name"`
	Intents      []models.Intent     `yaml:"intents,omitempty"`
	Keywords     []string            `yaml:"keywords,omitempty"`
	Agents       []string            `yaml:"agents"`
	Capabilities []models.Capability `yaml:"capabilities"`
	Mode         models.ExecutionMode `yaml:"mode"`
	Priority     string              `yaml:"priority"`
	Confidence   float64             `yaml:"confidence"`
	EnhanceMemory bool               `yaml:"enhance_memory,omitempty"`
	DomainContext bool               `yaml:"domain_context,omitempty"`
}

// defaultPatterns is the built-in routing table. A YAML file can replace it
// at startup and hot-reload on change.
var defaultPatterns = []RoutePattern{
	{
		Name:          "mixed_analysis",
		Intents:       []models.Intent{models.IntentMixedAnalysis},
		Agents:        []string{models.AgentSocial, models.AgentPersonal},
		Capabilities:  []models.Capability{models.CapabilitySocialSearch, models.CapabilityUserProjects},
		Mode:          models.ExecutionModeParallel,
		Priority:      models.PriorityHigh,
		Confidence:    0.85,
		EnhanceMemory: true,
		DomainContext: true,
	},
	{
		Name:         "profile_lookup",
		Intents:      []models.Intent{models.IntentProfileLookup},
		Agents:       []string{models.AgentSocial},
		Capabilities: []models.Capability{models.CapabilitySocialProfile},
		Mode:         models.ExecutionModeSequential,
		Priority:     models.PriorityHigh,
		Confidence:   0.9,
	},
	{
		Name:          "social_sentiment",
		Intents:       []models.Intent{models.IntentSocialAnalysis},
		Keywords:      []string{"sentimiento", "percepción", "percepcion"},
		Agents:        []string{models.AgentSocial},
		Capabilities:  []models.Capability{models.CapabilitySocialSearch},
		Mode:          models.ExecutionModeSequential,
		Priority:      models.PriorityHigh,
		Confidence:    0.85,
		EnhanceMemory: true,
		DomainContext: true,
	},
	{
		Name:          "social_search",
		Intents:       []models.Intent{models.IntentSocialSearch},
		Keywords:      []string{"tweets", "redes sociales", "tendencia"},
		Agents:        []string{models.AgentSocial},
		Capabilities:  []models.Capability{models.CapabilitySocialSearch},
		Mode:          models.ExecutionModeSequential,
		Priority:      models.PriorityNormal,
		Confidence:    0.85,
		EnhanceMemory: true,
	},
	{
		Name:         "web_research",
		Intents:      []models.Intent{models.IntentWebResearch},
		Keywords:     []string{"noticias", "investiga"},
		Agents:       []string{models.AgentSocial},
		Capabilities: []models.Capability{models.CapabilityWebSearch},
		Mode:         models.ExecutionModeParallel,
		Priority:     models.PriorityNormal,
		Confidence:   0.8,
	},
	{
		Name:         "document_search",
		Intents:      []models.Intent{models.IntentDocumentSearch, models.IntentDocumentAnalyze},
		Keywords:     []string{"documento", "transcripción", "transcripcion", "codex"},
		Agents:       []string{models.AgentPersonal},
		Capabilities: []models.Capability{models.CapabilityUserDocuments},
		Mode:         models.ExecutionModeParallel,
		Priority:     models.PriorityNormal,
		Confidence:   0.85,
	},
	{
		Name:         "project_search",
		Intents:      []models.Intent{models.IntentProjectSearch},
		Keywords:     []string{"proyecto", "proyectos"},
		Agents:       []string{models.AgentPersonal},
		Capabilities: []models.Capability{models.CapabilityUserProjects, models.CapabilityUserDecisions},
		Mode:         models.ExecutionModeParallel,
		Priority:     models.PriorityNormal,
		Confidence:   0.85,
	},
}

// fallbackDecision routes unmatched task intents to the social agent with
// low priority instead of failing the turn.
func fallbackDecision() models.RoutingDecision {
	return models.RoutingDecision{
		Agents:       []string{models.AgentSocial},
		Mode:         models.ExecutionModeSequential,
		Priority:     models.PriorityLow,
		Confidence:   0.4,
		Pattern:      "fallback_social",
		Capabilities: []models.Capability{models.CapabilitySocialSearch},
	}
}

// RoutingEngine maps a classified turn to target agents, execution mode and
// priority. The pattern table can be overridden from a YAML file and is
// hot-reloaded when that file changes.
type RoutingEngine struct {
	mu       sync.RWMutex
	patterns []RoutePattern
	watcher  *fsnotify.Watcher
	log      *logrus.Entry
}

// NewRoutingEngine creates a routing engine with the built-in table
func NewRoutingEngine() *RoutingEngine {
	return &RoutingEngine{
		patterns: defaultPatterns,
		log:      logrus.WithField("component", "routing_engine"),
	}
}

// LoadFile replaces the pattern table from a YAML file
func (r *RoutingEngine) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read routing file: %w", err)
	}
	var doc struct {
		Patterns []RoutePattern `yaml:"patterns"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse routing file: %w", err)
	}
	if len(doc.Patterns) == 0 {
		return fmt.Errorf("routing file %s defines no patterns", path)
	}
	for _, p := range doc.Patterns {
		if len(p.Agents) == 0 {
			return fmt.Errorf("routing pattern %q has no agents", p.Name)
		}
	}

	r.mu.Lock()
	r.patterns = doc.Patterns
	r.mu.Unlock()
	r.log.WithFields(logrus.Fields{"file": path, "patterns": len(doc.Patterns)}).
		Info("routing table loaded")
	return nil
}

// Watch reloads the routing table whenever the file changes. A reload that
// fails to parse keeps the previous table.
func (r *RoutingEngine) Watch(path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create routing watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch routing file: %w", err)
	}
	r.watcher = watcher

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					if err := r.LoadFile(path); err != nil {
						r.log.WithError(err).Warn("routing reload failed, keeping previous table")
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				r.log.WithError(err).Warn("routing watcher error")
			}
		}
	}()
	return nil
}

// Close stops the file watcher if one is running
func (r *RoutingEngine) Close() error {
	if r.watcher != nil {
		return r.watcher.Close()
	}
	return nil
}

// Route decides how to handle one classified turn. Conversational intents
// bypass agents entirely; the orchestrator fills in the direct response.
func (r *RoutingEngine) Route(classification models.IntentClassification, message string) models.RoutingDecision {
	if classification.Intent.IsConversational() {
		return models.RoutingDecision{
			Mode:       models.ExecutionModeDirect,
			Priority:   models.PriorityImmediate,
			Confidence: classification.Confidence,
			Pattern:    "conversational",
		}
	}

	lowered := strings.ToLower(message)

	r.mu.RLock()
	patterns := r.patterns
	r.mu.RUnlock()

	for _, p := range patterns {
		if p.matches(classification.Intent, lowered) {
			return models.RoutingDecision{
				Agents:        p.Agents,
				Mode:          p.Mode,
				Priority:      p.Priority,
				Confidence:    p.Confidence,
				Pattern:       p.Name,
				EnhanceMemory: p.EnhanceMemory,
				DomainContext: p.DomainContext,
				Capabilities:  p.Capabilities,
			}
		}
	}

	r.log.WithField("intent", classification.Intent).Debug("no routing pattern matched, using fallback")
	return fallbackDecision()
}

func (p RoutePattern) matches(intent models.Intent, loweredMessage string) bool {
	for _, i := range p.Intents {
		if i == intent {
			return true
		}
	}
	for _, kw := range p.Keywords {
		if strings.Contains(loweredMessage, kw) {
			return true
		}
	}
	return false
}
