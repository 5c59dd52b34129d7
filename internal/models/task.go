package models

import "time"

// Capability is the closed set of agent tools the orchestrator can dispatch.
// Adding a capability requires registering a handler for it; the handler
// table is checked for completeness when the orchestrator is constructed.
type Capability string

const (
	CapabilitySocialSearch  Capability = "social_search"
	CapabilitySocialProfile Capability = "social_profile"
	CapabilityWebSearch     Capability = "web_search"
	CapabilityResolveHandle Capability = "resolve_handle"
	CapabilityUserProjects  Capability = "user_projects"
	CapabilityUserDocuments Capability = "user_documents"
	CapabilityUserDecisions Capability = "user_decisions"
)

// AllCapabilities enumerates every dispatchable capability. Used to verify
// handler-table completeness at construction time.
var AllCapabilities = []Capability{
	CapabilitySocialSearch,
	CapabilitySocialProfile,
	CapabilityWebSearch,
	CapabilityResolveHandle,
	CapabilityUserProjects,
	CapabilityUserDocuments,
	CapabilityUserDecisions,
}

// AgentForCapability maps each capability to the agent that executes it
var AgentForCapability = map[Capability]string{
	CapabilitySocialSearch:  AgentSocial,
	CapabilitySocialProfile: AgentSocial,
	CapabilityWebSearch:     AgentSocial,
	CapabilityResolveHandle: AgentSocial,
	CapabilityUserProjects:  AgentPersonal,
	CapabilityUserDocuments: AgentPersonal,
	CapabilityUserDecisions: AgentPersonal,
}

// Agent names used across the bus, routing table and task plans
const (
	AgentOrchestrator = "orchestrator"
	AgentSocial       = "social"
	AgentPersonal     = "personal"
)

// TaskStatus is the execution state of an AgentTask
type TaskStatus string

const (
	TaskStatusQueued    TaskStatus = "queued"
	TaskStatusExecuting TaskStatus = "executing"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusError     TaskStatus = "error"
)

// AgentTask is one unit of work dispatched to an agent. Created by the
// orchestrator, mutated only by the executing agent.
type AgentTask struct {
	ID             string                 `bson:"_id" json:"id"`
	ConversationID string                 `bson:"conversationId" json:"conversation_id"`
	Agent          string                 `bson:"agent" json:"agent"`
	Capability     Capability             `bson:"capability" json:"capability"`
	Args           map[string]interface{} `bson:"args,omitempty" json:"args,omitempty"`
	OriginalQuery  string                 `bson:"originalQuery" json:"original_query"`
	UserID         string                 `bson:"userId" json:"user_id"`
	Priority       string                 `bson:"priority" json:"priority"`

	Status      TaskStatus  `bson:"status" json:"status"`
	Result      *TaskResult `bson:"result,omitempty" json:"result,omitempty"`
	Error       string      `bson:"error,omitempty" json:"error,omitempty"`
	CreatedAt   time.Time   `bson:"createdAt" json:"created_at"`
	StartedAt   *time.Time  `bson:"startedAt,omitempty" json:"started_at,omitempty"`
	CompletedAt *time.Time  `bson:"completedAt,omitempty" json:"completed_at,omitempty"`
}

// TaskResult is the output of a completed task
type TaskResult struct {
	Success  bool                   `bson:"success" json:"success"`
	Agent    string                 `bson:"agent" json:"agent"`
	Findings map[string]interface{} `bson:"findings,omitempty" json:"findings,omitempty"`
	Analysis *AnalysisResult        `bson:"analysis,omitempty" json:"analysis,omitempty"`
	Items    []SocialItem           `bson:"items,omitempty" json:"items,omitempty"`
	Summary  string                 `bson:"summary,omitempty" json:"summary,omitempty"`
	Error    string                 `bson:"error,omitempty" json:"error,omitempty"`
	Elapsed  int64                  `bson:"elapsedMs" json:"elapsed_ms"` // milliseconds
}

// PlanStep is one step of a sequential multi-step execution plan
type PlanStep struct {
	Capability Capability             `json:"capability"`
	Args       map[string]interface{} `json:"args,omitempty"`
	Reason     string                 `json:"reason,omitempty"`
	Critical   bool                   `json:"critical,omitempty"`
}
