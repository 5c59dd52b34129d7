package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"pulsewatch/internal/agents"
	"pulsewatch/internal/bus"
	"pulsewatch/internal/clients"
	"pulsewatch/internal/logging"
	"pulsewatch/internal/metrics"
	"pulsewatch/internal/models"
)

// turnState is the per-turn pipeline position, logged at every transition
type turnState string

const (
	stateClassifying turnState = "classifying"
	stateRouting     turnState = "routing"
	statePlanning    turnState = "planning"
	stateExecuting   turnState = "executing"
	stateAggregating turnState = "aggregating"
	stateDone        turnState = "done"
)

// Identity is the authenticated user behind a turn
type Identity struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// TurnMetadata describes how a turn was processed
type TurnMetadata struct {
	Intent         models.Intent        `json:"intent"`
	Confidence     float64              `json:"confidence"`
	Method         string               `json:"method"`
	Mode           models.ExecutionMode `json:"mode"`
	Pattern        string               `json:"pattern,omitempty"`
	ProcessingTime int64                `json:"processing_time_ms"` // milliseconds
}

// TurnResult is the outcome of one processed user query
type TurnResult struct {
	ConversationID string             `json:"conversation_id"`
	Response       AggregatedResponse `json:"response"`
	Metadata       TurnMetadata       `json:"metadata"`
}

// OrchestratorConfig carries the tunable execution thresholds
type OrchestratorConfig struct {
	EarlyExitMinItems     int
	EarlyExitMinRelevance float64
}

// Orchestrator is the top-level control loop: classify, route, plan,
// execute, aggregate, commit. Conversational turns short-circuit after
// routing with zero side effects on agents or shared state.
type Orchestrator struct {
	classifier    *IntentClassifier
	router        *RoutingEngine
	conversations *ConversationManager
	responses     *ResponseOrchestrator
	bus           *bus.Bus
	memory        clients.Memory
	metrics       *metrics.Metrics

	agents   map[string]agents.Agent
	handlers map[models.Capability]agents.Agent

	cfg OrchestratorConfig
	log *logrus.Entry
}

// NewOrchestrator wires the pipeline. It fails when the registered agents
// do not cover every declared capability: an incomplete handler table is a
// construction error, not a runtime surprise.
func NewOrchestrator(
	classifier *IntentClassifier,
	router *RoutingEngine,
	conversations *ConversationManager,
	responses *ResponseOrchestrator,
	b *bus.Bus,
	memory clients.Memory,
	m *metrics.Metrics,
	agentList []agents.Agent,
	cfg OrchestratorConfig,
) (*Orchestrator, error) {
	if cfg.EarlyExitMinItems <= 0 {
		cfg.EarlyExitMinItems = 15
	}
	if cfg.EarlyExitMinRelevance <= 0 {
		cfg.EarlyExitMinRelevance = 7
	}

	byName := make(map[string]agents.Agent, len(agentList))
	handlers := make(map[models.Capability]agents.Agent)
	for _, a := range agentList {
		byName[a.Name()] = a
		for _, c := range a.Capabilities() {
			if existing, dup := handlers[c]; dup {
				return nil, fmt.Errorf("capability %s claimed by both %s and %s", c, existing.Name(), a.Name())
			}
			handlers[c] = a
		}
	}
	for _, c := range models.AllCapabilities {
		a, ok := handlers[c]
		if !ok {
			return nil, fmt.Errorf("no agent handles capability %s", c)
		}
		if want := models.AgentForCapability[c]; a.Name() != want {
			return nil, fmt.Errorf("capability %s handled by %s, expected %s", c, a.Name(), want)
		}
	}

	return &Orchestrator{
		classifier:    classifier,
		router:        router,
		conversations: conversations,
		responses:     responses,
		bus:           b,
		memory:        memory,
		metrics:       m,
		agents:        byName,
		handlers:      handlers,
		cfg:           cfg,
		log:           logrus.WithField("component", "orchestrator"),
	}, nil
}

// ProcessUserQuery runs one full turn. A panic anywhere below surfaces as a
// generic error that still carries the conversation id, so the session
// continues on the next turn.
func (o *Orchestrator) ProcessUserQuery(ctx context.Context, message string, user Identity, sessionID string) (result *TurnResult, err error) {
	start := time.Now()
	conv := o.conversations.Ensure(sessionID, user.ID)
	log := logging.WithConversation(o.log, conv.ID, user.ID)

	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("turn processing panicked")
			if o.metrics != nil {
				o.metrics.TurnErrors.WithLabelValues("panic").Inc()
			}
			result = &TurnResult{
				ConversationID: conv.ID,
				Response: AggregatedResponse{
					Agent:     models.AgentOrchestrator,
					Message:   "Ocurrió un error procesando tu mensaje. Intenta de nuevo.",
					Type:      "error",
					Timestamp: time.Now(),
				},
				Metadata: TurnMetadata{ProcessingTime: time.Since(start).Milliseconds()},
			}
			err = nil
		}
		if o.metrics != nil {
			o.metrics.Turns.Inc()
			o.metrics.TurnLatency.Observe(time.Since(start).Seconds())
		}
	}()

	state := stateClassifying
	log.WithField("state", state).Debug("turn started")
	recentIntents := historyLines(o.conversations.History(conv.ID, 4))
	classification := o.classifier.Classify(ctx, message, recentIntents)
	if o.metrics != nil {
		o.metrics.Intents.WithLabelValues(string(classification.Intent)).Inc()
		o.metrics.ClassifierPath.WithLabelValues(classification.Method).Inc()
	}

	state = stateRouting
	log.WithFields(logrus.Fields{"state": state, "intent": classification.Intent}).Debug("classified")
	decision := o.router.Route(classification, message)

	o.conversations.AddUserTurn(conv.ID, message, classification.Intent)

	metadata := TurnMetadata{
		Intent:     classification.Intent,
		Confidence: classification.Confidence,
		Method:     classification.Method,
		Mode:       decision.Mode,
		Pattern:    decision.Pattern,
	}

	// Conversational short-circuit: no bus registrations, no tasks
	if decision.Mode == models.ExecutionModeDirect {
		reply := o.classifier.ConversationalReply(ctx, classification.Intent, message, user.Name)
		o.conversations.AddAssistantTurn(conv.ID, reply, models.AgentOrchestrator)
		metadata.ProcessingTime = time.Since(start).Milliseconds()
		log.WithField("state", stateDone).Debug("conversational turn answered directly")
		return &TurnResult{
			ConversationID: conv.ID,
			Response: AggregatedResponse{
				Agent:      models.AgentOrchestrator,
				Message:    reply,
				Type:       "direct",
				Confidence: classification.Confidence,
				Timestamp:  time.Now(),
			},
			Metadata: metadata,
		}, nil
	}

	state = statePlanning
	log.WithFields(logrus.Fields{"state": state, "pattern": decision.Pattern, "agents": decision.Agents}).Debug("routed")

	query := message
	if decision.EnhanceMemory {
		if enhanced, err := o.memory.EnhanceQuery(ctx, message); err == nil && enhanced != nil && enhanced.EnhancedQuery != "" {
			query = enhanced.EnhancedQuery
		}
	}
	plan := o.buildPlan(conv.ID, user.ID, query, message, decision)

	o.bus.RegisterConversation(conv.ID, user.ID)
	for _, agent := range decision.Agents {
		if err := o.bus.RegisterAgent(conv.ID, agent); err != nil {
			log.WithError(err).Warn("agent registration failed")
		}
		o.conversations.RecordAgentUse(conv.ID, agent)
	}

	state = stateExecuting
	log.WithFields(logrus.Fields{"state": state, "tasks": len(plan), "mode": decision.Mode}).Debug("executing plan")
	o.bus.Touch(conv.ID)

	var results []*models.TaskResult
	if decision.Mode == models.ExecutionModeParallel {
		results = o.executeParallel(ctx, plan)
	} else {
		results = o.executeSequential(ctx, plan)
	}

	state = stateAggregating
	log.WithField("state", state).Debug("aggregating results")
	response := o.responses.Aggregate(conv.ID, message, results)

	o.conversations.AddAssistantTurn(conv.ID, response.Message, response.Agent)
	o.bus.Touch(conv.ID)

	metadata.ProcessingTime = time.Since(start).Milliseconds()
	log.WithFields(logrus.Fields{"state": stateDone, "elapsed_ms": metadata.ProcessingTime}).Info("turn completed")
	return &TurnResult{
		ConversationID: conv.ID,
		Response:       response,
		Metadata:       metadata,
	}, nil
}

// buildPlan creates one AgentTask per routed capability
func (o *Orchestrator) buildPlan(conversationID, userID, query, original string, decision models.RoutingDecision) []*models.AgentTask {
	capabilities := decision.Capabilities
	if len(capabilities) == 0 {
		capabilities = []models.Capability{models.CapabilitySocialSearch}
	}

	plan := make([]*models.AgentTask, 0, len(capabilities))
	for _, c := range capabilities {
		plan = append(plan, &models.AgentTask{
			ID:             uuid.NewString(),
			ConversationID: conversationID,
			Agent:          models.AgentForCapability[c],
			Capability:     c,
			Args:           map[string]interface{}{"query": query},
			OriginalQuery:  original,
			UserID:         userID,
			Priority:       decision.Priority,
			Status:         models.TaskStatusQueued,
			CreatedAt:      time.Now(),
		})
	}
	return plan
}

// executeParallel fans the plan out and collects every settled result. A
// task failing, or even panicking, never disturbs its siblings.
func (o *Orchestrator) executeParallel(ctx context.Context, plan []*models.AgentTask) []*models.TaskResult {
	results := make([]*models.TaskResult, len(plan))
	var wg sync.WaitGroup
	for i, task := range plan {
		wg.Add(1)
		go func(i int, task *models.AgentTask) {
			defer wg.Done()
			results[i] = o.dispatch(ctx, task)
		}(i, task)
	}
	wg.Wait()
	return results
}

// executeSequential runs the plan in order. Once accumulated results clear
// the sufficiency bar the remaining tasks are skipped. A failed step is
// recorded and the sequence continues unless the task was immediate
// priority.
func (o *Orchestrator) executeSequential(ctx context.Context, plan []*models.AgentTask) []*models.TaskResult {
	var results []*models.TaskResult
	itemTotal := 0
	for _, task := range plan {
		result := o.dispatch(ctx, task)
		results = append(results, result)

		if !result.Success {
			if task.Priority == models.PriorityImmediate {
				break
			}
			continue
		}

		itemTotal += len(result.Items)
		if itemTotal >= o.cfg.EarlyExitMinItems &&
			result.Analysis != nil && result.Analysis.Relevance >= o.cfg.EarlyExitMinRelevance {
			o.log.WithFields(logrus.Fields{
				"completed": len(results), "planned": len(plan),
			}).Debug("sequential early exit, results sufficient")
			break
		}
	}
	return results
}

// dispatch hands one task to its owning agent, isolating panics to that
// task's result.
func (o *Orchestrator) dispatch(ctx context.Context, task *models.AgentTask) (result *models.TaskResult) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			o.log.WithFields(logrus.Fields{"task_id": task.ID, "panic": r}).Error("task panicked")
			task.Status = models.TaskStatusError
			result = &models.TaskResult{
				Success: false,
				Agent:   task.Agent,
				Error:   fmt.Sprintf("internal error executing %s", task.Capability),
				Elapsed: time.Since(start).Milliseconds(),
			}
		}
		if o.metrics != nil {
			outcome := "success"
			if result == nil || !result.Success {
				outcome = "failure"
			}
			o.metrics.Tasks.WithLabelValues(task.Agent, outcome).Inc()
			o.metrics.TaskLatency.Observe(time.Since(start).Seconds())
		}
	}()

	agent, ok := o.handlers[task.Capability]
	if !ok {
		// Unreachable given the construction check, kept as a guard
		return &models.TaskResult{
			Success: false,
			Agent:   task.Agent,
			Error:   fmt.Sprintf("no handler for capability %s", task.Capability),
		}
	}
	return agent.ExecuteTask(ctx, task)
}

func historyLines(turns []models.ConversationTurn) []string {
	out := make([]string, 0, len(turns))
	for _, t := range turns {
		out = append(out, fmt.Sprintf("%s: %s", t.Role, t.Content))
	}
	return out
}
