// Package agents contains the capability agents the orchestrator dispatches
// tasks to. Each agent implements the same ExecuteTask contract: it owns its
// task's lifecycle, never lets a collaborator failure escape as a panic, and
// reports shared findings through the communication bus.
package agents

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"pulsewatch/internal/bus"
	"pulsewatch/internal/clients"
	"pulsewatch/internal/engines"
	"pulsewatch/internal/logging"
	"pulsewatch/internal/models"
)

// Agent is the uniform task-execution contract
type Agent interface {
	Name() string
	Capabilities() []models.Capability
	ExecuteTask(ctx context.Context, task *models.AgentTask) *models.TaskResult
	HandleHandoff(ctx context.Context, conversationID string, payload map[string]interface{})
}

// SocialAgentConfig carries the tunable thresholds for plan execution
type SocialAgentConfig struct {
	EarlyExitMinItems     int
	EarlyExitMinRelevance float64
	CallTimeout           time.Duration
	TaskRetention         time.Duration
}

// SocialAgent runs social-monitoring capabilities: content search, profile
// analysis, web research and handle resolution. It composes the analysis
// engines and records every dispatched task for a bounded retention window.
type SocialAgent struct {
	llm       clients.LLM
	social    clients.SocialContent
	web       clients.WebSearch
	memory    clients.Memory
	bus       *bus.Bus
	sentiment *engines.SentimentEngine
	trends    *engines.TrendEngine
	analysis  *engines.SocialAnalysisEngine
	discovery *engines.UserDiscoveryEngine

	cfg SocialAgentConfig
	log *logrus.Entry

	mu    sync.Mutex
	tasks map[string]*models.AgentTask
}

// NewSocialAgent creates the social agent
func NewSocialAgent(
	llm clients.LLM,
	social clients.SocialContent,
	web clients.WebSearch,
	memory clients.Memory,
	b *bus.Bus,
	sentiment *engines.SentimentEngine,
	trends *engines.TrendEngine,
	analysis *engines.SocialAnalysisEngine,
	discovery *engines.UserDiscoveryEngine,
	cfg SocialAgentConfig,
) *SocialAgent {
	if cfg.EarlyExitMinItems <= 0 {
		cfg.EarlyExitMinItems = 15
	}
	if cfg.EarlyExitMinRelevance <= 0 {
		cfg.EarlyExitMinRelevance = 7
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	if cfg.TaskRetention <= 0 {
		cfg.TaskRetention = time.Hour
	}
	return &SocialAgent{
		llm:       llm,
		social:    social,
		web:       web,
		memory:    memory,
		bus:       b,
		sentiment: sentiment,
		trends:    trends,
		analysis:  analysis,
		discovery: discovery,
		cfg:       cfg,
		log:       logrus.WithField("agent", models.AgentSocial),
		tasks:     make(map[string]*models.AgentTask),
	}
}

// Name returns the agent's bus name
func (a *SocialAgent) Name() string { return models.AgentSocial }

// Capabilities lists what this agent can execute
func (a *SocialAgent) Capabilities() []models.Capability {
	return []models.Capability{
		models.CapabilitySocialSearch,
		models.CapabilitySocialProfile,
		models.CapabilityWebSearch,
		models.CapabilityResolveHandle,
	}
}

func (a *SocialAgent) supports(c models.Capability) bool {
	for _, cap := range a.Capabilities() {
		if cap == c {
			return true
		}
	}
	return false
}

// ExecuteTask runs one task end to end. Collaborator failures surface as a
// failed result on this task only; they never escape the agent boundary.
func (a *SocialAgent) ExecuteTask(ctx context.Context, task *models.AgentTask) *models.TaskResult {
	start := time.Now()
	log := logging.WithAgent(a.log, a.Name(), string(task.Capability)).
		WithFields(logrus.Fields{"task_id": task.ID, "conversation_id": task.ConversationID})

	if !a.supports(task.Capability) {
		return a.finishTask(task, &models.TaskResult{
			Success: false,
			Agent:   a.Name(),
			Error:   fmt.Sprintf("capability %s not supported by %s", task.Capability, a.Name()),
			Elapsed: time.Since(start).Milliseconds(),
		})
	}

	a.trackTask(task)
	now := time.Now()
	task.Status = models.TaskStatusExecuting
	task.StartedAt = &now
	log.Info("executing task")

	var result *models.TaskResult
	switch task.Capability {
	case models.CapabilitySocialSearch:
		result = a.executeSearch(ctx, task)
	case models.CapabilitySocialProfile:
		result = a.executeProfile(ctx, task)
	case models.CapabilityWebSearch:
		result = a.executeWebSearch(ctx, task)
	case models.CapabilityResolveHandle:
		result = a.executeResolveHandle(ctx, task)
	}
	result.Elapsed = time.Since(start).Milliseconds()

	if result.Success {
		a.shareFindings(task.ConversationID, result)
		if task.Capability == models.CapabilitySocialSearch {
			a.maybeHandoffToPersonal(ctx, task)
		}
		log.WithField("elapsed_ms", result.Elapsed).Info("task completed")
	} else {
		log.WithField("error", result.Error).Warn("task failed")
	}
	return a.finishTask(task, result)
}

// personalDataHints mark queries that also reference the user's own codex
var personalDataHints = []string{"mis proyectos", "mi proyecto", "mis documentos", "mis decisiones", "mi codex"}

// maybeHandoffToPersonal hands the query over to the personal-data agent
// when the user also asked about their own artifacts and that agent is not
// already part of the turn. A failed handoff is logged and ignored; the
// search result stands on its own.
func (a *SocialAgent) maybeHandoffToPersonal(ctx context.Context, task *models.AgentTask) {
	if task.UserID == "" || !mentionsPersonalData(task.OriginalQuery) {
		return
	}
	for _, p := range a.bus.Participants(task.ConversationID) {
		if p == models.AgentPersonal {
			return
		}
	}
	if err := a.bus.RegisterAgent(task.ConversationID, models.AgentPersonal); err != nil {
		a.log.WithError(err).Debug("could not register handoff target")
		return
	}
	if err := a.bus.CoordinateHandoff(task.ConversationID, a.Name(), models.AgentPersonal, map[string]interface{}{
		"topic":   task.OriginalQuery,
		"query":   task.OriginalQuery,
		"user_id": task.UserID,
	}); err != nil {
		a.log.WithError(err).Warn("handoff to personal agent failed, continuing with search result only")
	}
}

func mentionsPersonalData(query string) bool {
	lowered := strings.ToLower(query)
	for _, hint := range personalDataHints {
		if strings.Contains(lowered, hint) {
			return true
		}
	}
	return false
}

// executeSearch runs the multi-step content search plan with early exit
func (a *SocialAgent) executeSearch(ctx context.Context, task *models.AgentTask) *models.TaskResult {
	query := argString(task.Args, "query", task.OriginalQuery)
	location := argString(task.Args, "location", "guatemala")
	limit := argInt(task.Args, "limit", 25)

	// Memory enhancement is best effort
	if enhanced, err := a.memory.EnhanceQuery(ctx, query); err == nil && enhanced != nil && enhanced.EnhancedQuery != "" {
		query = enhanced.EnhancedQuery
	}

	plan := a.buildSearchPlan(query, task.OriginalQuery, location, limit)
	var (
		items     []models.SocialItem
		seen      = make(map[string]bool)
		stepNotes []string
	)
	for i, step := range plan {
		stepQuery := argString(step.Args, "query", query)
		found, err := clients.CallWithTimeout(ctx, a.cfg.CallTimeout,
			func(ctx context.Context) ([]models.SocialItem, error) {
				return a.social.SearchByQuery(ctx, stepQuery, location, limit)
			})
		if err != nil {
			stepNotes = append(stepNotes, fmt.Sprintf("step %d (%s) failed: %v", i+1, step.Reason, err))
			if step.Critical {
				return &models.TaskResult{
					Success: false, Agent: a.Name(),
					Error: fmt.Sprintf("critical search step failed: %v", err),
				}
			}
			continue
		}
		for _, item := range found {
			key := item.ID
			if key == "" {
				key = item.Author + "|" + item.Text
			}
			if !seen[key] {
				seen[key] = true
				items = append(items, item)
			}
		}

		// Early exit once the partial result set is already sufficient
		if len(items) >= a.cfg.EarlyExitMinItems &&
			a.analysis.AssessRelevance(items, query) >= a.cfg.EarlyExitMinRelevance {
			a.log.WithFields(logrus.Fields{"step": i + 1, "items": len(items)}).
				Debug("early exit, partial results sufficient")
			break
		}
	}

	if len(items) == 0 {
		return &models.TaskResult{
			Success: false, Agent: a.Name(),
			Error: fmt.Sprintf("no content found for %q (%s)", query, strings.Join(stepNotes, "; ")),
		}
	}

	ranked := a.analysis.FilterAndRank(items, query)
	return a.analyzeItems(ctx, ranked, query)
}

// buildSearchPlan produces the ordered broaden-then-narrow search steps.
// Only the first step is critical: a plan with zero results fails, a plan
// where only refinement steps fail still returns what it found.
func (a *SocialAgent) buildSearchPlan(query, original, location string, limit int) []models.PlanStep {
	optimized := a.analysis.OptimizeQuery(query)
	plan := []models.PlanStep{
		{
			Capability: models.CapabilitySocialSearch,
			Args:       map[string]interface{}{"query": optimized, "location": location, "limit": limit},
			Reason:     "optimized query",
			Critical:   true,
		},
	}
	if original != "" && !strings.EqualFold(original, optimized) {
		plan = append(plan, models.PlanStep{
			Capability: models.CapabilitySocialSearch,
			Args:       map[string]interface{}{"query": original, "location": location, "limit": limit},
			Reason:     "original phrasing",
		})
	}
	if broad := broadenQuery(query); broad != "" && !strings.EqualFold(broad, optimized) {
		plan = append(plan, models.PlanStep{
			Capability: models.CapabilitySocialSearch,
			Args:       map[string]interface{}{"query": broad, "location": location, "limit": limit},
			Reason:     "broadened terms",
		})
	}
	return plan
}

// broadenQuery keeps the two longest words of the query
func broadenQuery(query string) string {
	words := strings.Fields(query)
	if len(words) <= 2 {
		return ""
	}
	first, second := "", ""
	for _, w := range words {
		switch {
		case len(w) > len(first):
			second = first
			first = w
		case len(w) > len(second):
			second = w
		}
	}
	if second == "" {
		return first
	}
	return first + " " + second
}

// analyzeItems runs the engines over a ranked result set and builds the
// structured findings the response orchestrator consumes.
func (a *SocialAgent) analyzeItems(ctx context.Context, items []models.SocialItem, query string) *models.TaskResult {
	texts := make([]string, len(items))
	for i := range items {
		items[i].Sentiment = a.sentiment.Score(items[i].Text)
		texts[i] = items[i].Text
	}
	sentimentSummary := a.sentiment.Summarize(texts)
	trendReport := a.trends.Report(items, time.Now())
	actors := a.analysis.ExtractKeyActors(items)
	topics := a.analysis.ExtractKeyTopics(items)
	relevance := a.analysis.AssessRelevance(items, query)

	analysis := &models.AnalysisResult{
		Sentiment:      sentimentSummary.Average,
		SentimentLabel: sentimentSummary.Category,
		Momentum:       trendReport.Momentum,
		IsViral:        trendReport.IsViral,
		ViralScore:     trendReport.ViralScore,
		Relevance:      relevance,
		RelevanceTier:  engines.RelevanceTier(relevance),
	}
	for _, t := range topics {
		analysis.Topics = append(analysis.Topics, t.Topic)
	}
	for _, ka := range actors {
		analysis.Actors = append(analysis.Actors, ka.Name)
	}

	topCount := len(items)
	if topCount > 5 {
		topCount = 5
	}
	findings := map[string]interface{}{
		"query":          query,
		"mentions_count": len(items),
		"sentiment":      sentimentSummary,
		"trend":          trendReport,
		"key_actors":     actors,
		"key_topics":     topics,
		"relevance":      relevance,
		"relevance_tier": analysis.RelevanceTier,
		"top_posts":      items[:topCount],
	}

	return &models.TaskResult{
		Success:  true,
		Agent:    a.Name(),
		Findings: findings,
		Analysis: analysis,
		Items:    items,
		Summary:  a.analysis.Summarize(ctx, items, query),
	}
}

// executeProfile resolves the subject to a handle if needed, fetches the
// profile and analyzes its recent activity.
func (a *SocialAgent) executeProfile(ctx context.Context, task *models.AgentTask) *models.TaskResult {
	subject := argString(task.Args, "handle", task.OriginalQuery)
	limit := argInt(task.Args, "limit", 20)

	handle := strings.TrimPrefix(strings.TrimSpace(subject), "@")
	if strings.ContainsAny(handle, " ") {
		resolution, err := a.discovery.Resolve(ctx, subject)
		if err != nil || resolution.Outcome != models.OutcomeResolved {
			reason := "no handle found"
			if err != nil {
				reason = err.Error()
			}
			return &models.TaskResult{
				Success: false, Agent: a.Name(),
				Error: fmt.Sprintf("could not resolve %q to a handle: %s", subject, reason),
			}
		}
		handle = resolution.Handle
	}

	type profileFetch struct {
		profile *clients.SocialProfile
		items   []models.SocialItem
	}
	fetched, err := clients.CallWithTimeout(ctx, a.cfg.CallTimeout,
		func(ctx context.Context) (profileFetch, error) {
			p, items, err := a.social.FetchProfile(ctx, handle, limit)
			return profileFetch{p, items}, err
		})
	if err != nil {
		return &models.TaskResult{
			Success: false, Agent: a.Name(),
			Error: fmt.Sprintf("profile fetch for @%s failed: %v", handle, err),
		}
	}

	result := a.analyzeItems(ctx, fetched.items, handle)
	result.Findings["handle"] = handle
	if fetched.profile != nil {
		result.Findings["profile"] = fetched.profile
	}
	return result
}

// executeWebSearch delegates to the grounded web-search collaborator
func (a *SocialAgent) executeWebSearch(ctx context.Context, task *models.AgentTask) *models.TaskResult {
	query := argString(task.Args, "query", task.OriginalQuery)
	location := argString(task.Args, "location", "Guatemala")

	answer, err := clients.CallWithTimeout(ctx, a.cfg.CallTimeout,
		func(ctx context.Context) (string, error) {
			return a.web.Search(ctx, query, location)
		})
	if err != nil {
		return &models.TaskResult{
			Success: false, Agent: a.Name(),
			Error: fmt.Sprintf("web search failed: %v", err),
		}
	}
	return &models.TaskResult{
		Success:  true,
		Agent:    a.Name(),
		Findings: map[string]interface{}{"query": query, "answer": answer},
		Summary:  answer,
	}
}

// executeResolveHandle runs the discovery pipeline as a standalone task
func (a *SocialAgent) executeResolveHandle(ctx context.Context, task *models.AgentTask) *models.TaskResult {
	query := argString(task.Args, "query", task.OriginalQuery)

	resolution, err := a.discovery.Resolve(ctx, query)
	if err != nil {
		return &models.TaskResult{
			Success: false, Agent: a.Name(),
			Error: fmt.Sprintf("handle resolution failed: %v", err),
		}
	}

	findings := map[string]interface{}{
		"query":   query,
		"outcome": resolution.Outcome,
		"method":  resolution.Method,
	}
	if resolution.Handle != "" {
		findings["handle"] = resolution.Handle
		findings["confidence"] = resolution.Confidence
	}

	summary := fmt.Sprintf("No se encontró una cuenta relevante para %q.", query)
	switch resolution.Outcome {
	case models.OutcomeResolved:
		summary = fmt.Sprintf("%q corresponde a @%s (confianza %.2f).", query, resolution.Handle, resolution.Confidence)
	case models.OutcomeRelevantNoData:
		summary = fmt.Sprintf("%q es una persona relevante pero no se encontró su cuenta.", query)
	}

	return &models.TaskResult{
		Success:  resolution.Outcome != models.OutcomeNotRelevant,
		Agent:    a.Name(),
		Findings: findings,
		Summary:  summary,
	}
}

// shareFindings publishes the result into the conversation's shared context
func (a *SocialAgent) shareFindings(conversationID string, result *models.TaskResult) {
	if conversationID == "" || a.bus == nil {
		return
	}
	if err := a.bus.AddAgentResults(conversationID, a.Name(), result.Findings); err != nil {
		a.log.WithError(err).Debug("could not share results on bus")
	}
	if err := a.bus.MergeContext(conversationID, a.Name(), map[string]interface{}{
		"last_summary": result.Summary,
	}); err != nil {
		a.log.WithError(err).Debug("could not merge context on bus")
	}
}

// HandleHandoff receives task context from another agent and answers with a
// quick content search over the handed-off topic.
func (a *SocialAgent) HandleHandoff(ctx context.Context, conversationID string, payload map[string]interface{}) {
	topic, _ := payload["topic"].(string)
	if topic == "" {
		topic, _ = payload["query"].(string)
	}
	if topic == "" {
		a.log.WithField("conversation_id", conversationID).Debug("handoff without topic, ignoring")
		return
	}

	task := &models.AgentTask{
		ID:             fmt.Sprintf("handoff-%d", time.Now().UnixNano()),
		ConversationID: conversationID,
		Agent:          a.Name(),
		Capability:     models.CapabilitySocialSearch,
		Args:           map[string]interface{}{"query": topic},
		OriginalQuery:  topic,
		Status:         models.TaskStatusQueued,
		CreatedAt:      time.Now(),
	}
	a.ExecuteTask(ctx, task)
}

// trackTask records a task for the diagnostics retention window
func (a *SocialAgent) trackTask(task *models.AgentTask) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tasks[task.ID] = task
}

func (a *SocialAgent) finishTask(task *models.AgentTask, result *models.TaskResult) *models.TaskResult {
	now := time.Now()
	task.CompletedAt = &now
	task.Result = result
	if result.Success {
		task.Status = models.TaskStatusCompleted
	} else {
		task.Status = models.TaskStatusError
		task.Error = result.Error
	}
	return result
}

// Task returns a tracked task by id
func (a *SocialAgent) Task(id string) (*models.AgentTask, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	t, ok := a.tasks[id]
	return t, ok
}

// PruneTasks drops tracked tasks older than the retention window and
// returns how many were removed.
func (a *SocialAgent) PruneTasks() int {
	cutoff := time.Now().Add(-a.cfg.TaskRetention)

	a.mu.Lock()
	defer a.mu.Unlock()
	removed := 0
	for id, task := range a.tasks {
		if task.CreatedAt.Before(cutoff) {
			delete(a.tasks, id)
			removed++
		}
	}
	return removed
}

func argString(args map[string]interface{}, key, def string) string {
	if v, ok := args[key].(string); ok && v != "" {
		return v
	}
	return def
}

func argInt(args map[string]interface{}, key string, def int) int {
	switch v := args[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return def
}
