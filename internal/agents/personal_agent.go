package agents

import (
	"context"
	"fmt"
	"strings"
	"time"

	cache "github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"

	"pulsewatch/internal/bus"
	"pulsewatch/internal/logging"
	"pulsewatch/internal/models"
	"pulsewatch/internal/store"
)

// dataNeedKeywords trigger user-context provisioning when they appear in a
// handoff payload from another agent.
var dataNeedKeywords = []string{
	"proyecto", "proyectos", "documento", "documentos", "archivo",
	"decision", "decisión", "decisiones", "transcripcion", "transcripción",
}

// PersonalAgent answers read queries over the user's own data: projects,
// analyzed documents and recorded decisions. Lookups are memoized per user
// for a short TTL; any write through this agent invalidates the user's
// cached entries.
type PersonalAgent struct {
	store *store.PersonalStore
	bus   *bus.Bus
	cache *cache.Cache
	log   *logrus.Entry
}

// NewPersonalAgent creates the personal-data agent
func NewPersonalAgent(s *store.PersonalStore, b *bus.Bus, cacheTTL time.Duration) *PersonalAgent {
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	return &PersonalAgent{
		store: s,
		bus:   b,
		cache: cache.New(cacheTTL, 10*time.Minute),
		log:   logrus.WithField("agent", models.AgentPersonal),
	}
}

// Name returns the agent's bus name
func (a *PersonalAgent) Name() string { return models.AgentPersonal }

// Capabilities lists what this agent can execute
func (a *PersonalAgent) Capabilities() []models.Capability {
	return []models.Capability{
		models.CapabilityUserProjects,
		models.CapabilityUserDocuments,
		models.CapabilityUserDecisions,
	}
}

// cacheKey namespaces cached lookups per user and capability. Filters that
// change the result set must be part of the key, or filtered queries would
// serve each other's cached rows.
func cacheKey(userID string, kind models.Capability, filters ...string) string {
	key := fmt.Sprintf("user_context_%s_%s", userID, kind)
	for _, f := range filters {
		if f != "" {
			key += "_" + f
		}
	}
	return key
}

// ExecuteTask runs one personal-data lookup
func (a *PersonalAgent) ExecuteTask(ctx context.Context, task *models.AgentTask) *models.TaskResult {
	start := time.Now()
	log := logging.WithAgent(a.log, a.Name(), string(task.Capability)).
		WithFields(logrus.Fields{"task_id": task.ID, "user_id": task.UserID})

	now := time.Now()
	task.Status = models.TaskStatusExecuting
	task.StartedAt = &now

	var result *models.TaskResult
	switch task.Capability {
	case models.CapabilityUserProjects:
		result = a.executeProjects(ctx, task)
	case models.CapabilityUserDocuments:
		result = a.executeDocuments(ctx, task)
	case models.CapabilityUserDecisions:
		result = a.executeDecisions(ctx, task)
	default:
		result = &models.TaskResult{
			Success: false,
			Agent:   a.Name(),
			Error:   fmt.Sprintf("capability %s not supported by %s", task.Capability, a.Name()),
		}
	}
	result.Elapsed = time.Since(start).Milliseconds()

	done := time.Now()
	task.CompletedAt = &done
	task.Result = result
	if result.Success {
		task.Status = models.TaskStatusCompleted
		a.shareFindings(task.ConversationID, result)
		log.WithField("elapsed_ms", result.Elapsed).Info("task completed")
	} else {
		task.Status = models.TaskStatusError
		task.Error = result.Error
		log.WithField("error", result.Error).Warn("task failed")
	}
	return result
}

func (a *PersonalAgent) executeProjects(ctx context.Context, task *models.AgentTask) *models.TaskResult {
	key := cacheKey(task.UserID, models.CapabilityUserProjects)
	query := argString(task.Args, "query", "")

	var projects []store.Project
	if cached, ok := a.cache.Get(key); ok && query == "" {
		projects = cached.([]store.Project)
	} else {
		var err error
		projects, err = a.store.Projects(ctx, task.UserID, store.ListOptions{
			Status: argString(task.Args, "status", ""),
			Query:  query,
			SortBy: "updated_at",
			Desc:   true,
		})
		if err != nil {
			return &models.TaskResult{Success: false, Agent: a.Name(),
				Error: fmt.Sprintf("project lookup failed: %v", err)}
		}
		if query == "" {
			a.cache.Set(key, projects, cache.DefaultExpiration)
		}
	}

	counts, err := a.store.CountProjects(ctx, task.UserID)
	if err != nil {
		counts = nil
	}
	return &models.TaskResult{
		Success: true,
		Agent:   a.Name(),
		Findings: map[string]interface{}{
			"projects":      projects,
			"project_count": len(projects),
			"status_counts": counts,
		},
		Summary: a.summarizeProjects(projects),
	}
}

func (a *PersonalAgent) executeDocuments(ctx context.Context, task *models.AgentTask) *models.TaskResult {
	docType := argString(task.Args, "type", "")
	key := cacheKey(task.UserID, models.CapabilityUserDocuments, docType)
	query := argString(task.Args, "query", task.OriginalQuery)

	var docs []store.Document
	if cached, ok := a.cache.Get(key); ok {
		docs = cached.([]store.Document)
	} else {
		var err error
		docs, err = a.store.Documents(ctx, task.UserID, store.ListOptions{
			Type:   docType,
			SortBy: "created_at",
			Desc:   true,
		})
		if err != nil {
			return &models.TaskResult{Success: false, Agent: a.Name(),
				Error: fmt.Sprintf("document lookup failed: %v", err)}
		}
		a.cache.Set(key, docs, cache.DefaultExpiration)
	}

	relevant := store.FilterRelevant(docs, query)
	return &models.TaskResult{
		Success: true,
		Agent:   a.Name(),
		Findings: map[string]interface{}{
			"documents":      relevant,
			"document_count": len(relevant),
			"total_in_codex": len(docs),
		},
		Summary: a.summarizeDocuments(relevant, len(docs)),
	}
}

func (a *PersonalAgent) executeDecisions(ctx context.Context, task *models.AgentTask) *models.TaskResult {
	projectID := int64(argInt(task.Args, "project_id", 0))

	decisions, err := a.store.Decisions(ctx, task.UserID, projectID)
	if err != nil {
		return &models.TaskResult{Success: false, Agent: a.Name(),
			Error: fmt.Sprintf("decision lookup failed: %v", err)}
	}

	summary := "No hay decisiones registradas."
	if len(decisions) > 0 {
		summary = fmt.Sprintf("Hay %d decisiones registradas; la más reciente es %q.",
			len(decisions), decisions[0].Title)
	}
	return &models.TaskResult{
		Success: true,
		Agent:   a.Name(),
		Findings: map[string]interface{}{
			"decisions":      decisions,
			"decision_count": len(decisions),
		},
		Summary: summary,
	}
}

func (a *PersonalAgent) summarizeProjects(projects []store.Project) string {
	if len(projects) == 0 {
		return "No tienes proyectos registrados."
	}
	var titles []string
	for i, p := range projects {
		if i == 3 {
			break
		}
		titles = append(titles, p.Title)
	}
	return fmt.Sprintf("Tienes %d proyectos. Los más recientes: %s.",
		len(projects), strings.Join(titles, ", "))
}

func (a *PersonalAgent) summarizeDocuments(docs []store.Document, total int) string {
	if len(docs) == 0 {
		if total == 0 {
			return "Tu codex está vacío."
		}
		return fmt.Sprintf("Ninguno de tus %d documentos coincide con la consulta.", total)
	}
	return fmt.Sprintf("Encontré %d documentos relevantes de %d en tu codex.", len(docs), total)
}

// AddProject writes through to the store and invalidates the user's cache
func (a *PersonalAgent) AddProject(ctx context.Context, p store.Project) (int64, error) {
	id, err := a.store.SeedProject(ctx, p)
	if err == nil {
		a.invalidate(p.UserID)
	}
	return id, err
}

// AddDocument writes through to the store and invalidates the user's cache
func (a *PersonalAgent) AddDocument(ctx context.Context, d store.Document) (int64, error) {
	id, err := a.store.SeedDocument(ctx, d)
	if err == nil {
		a.invalidate(d.UserID)
	}
	return id, err
}

// AddDecision writes through to the store and invalidates the user's cache
func (a *PersonalAgent) AddDecision(ctx context.Context, d store.Decision) (int64, error) {
	id, err := a.store.SeedDecision(ctx, d)
	if err == nil {
		a.invalidate(d.UserID)
	}
	return id, err
}

// invalidate drops every cached entry for the user, filtered variants included
func (a *PersonalAgent) invalidate(userID string) {
	prefix := fmt.Sprintf("user_context_%s_", userID)
	for key := range a.cache.Items() {
		if strings.HasPrefix(key, prefix) {
			a.cache.Delete(key)
		}
	}
}

// HandleHandoff inspects the handed-off context for data needs and, when
// found, contributes the user's project context back to the conversation.
func (a *PersonalAgent) HandleHandoff(ctx context.Context, conversationID string, payload map[string]interface{}) {
	userID, _ := payload["user_id"].(string)
	topic, _ := payload["topic"].(string)
	if topic == "" {
		topic, _ = payload["query"].(string)
	}
	if userID == "" || !needsUserData(topic) {
		a.log.WithField("conversation_id", conversationID).Debug("handoff carries no data need, ignoring")
		return
	}

	task := &models.AgentTask{
		ID:             fmt.Sprintf("handoff-%d", time.Now().UnixNano()),
		ConversationID: conversationID,
		Agent:          a.Name(),
		Capability:     models.CapabilityUserProjects,
		Args:           map[string]interface{}{"query": topic},
		OriginalQuery:  topic,
		UserID:         userID,
		Status:         models.TaskStatusQueued,
		CreatedAt:      time.Now(),
	}
	a.ExecuteTask(ctx, task)
}

func needsUserData(text string) bool {
	lowered := strings.ToLower(text)
	for _, kw := range dataNeedKeywords {
		if strings.Contains(lowered, kw) {
			return true
		}
	}
	return false
}

func (a *PersonalAgent) shareFindings(conversationID string, result *models.TaskResult) {
	if conversationID == "" || a.bus == nil {
		return
	}
	if err := a.bus.AddAgentResults(conversationID, a.Name(), result.Findings); err != nil {
		a.log.WithError(err).Debug("could not share results on bus")
	}
}
