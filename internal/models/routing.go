package models

// Intent is the classified purpose of a user turn
type Intent string

const (
	// Conversational intents — answered directly, no agent dispatch
	IntentCasualConversation Intent = "casual_conversation"
	IntentCapabilityQuestion Intent = "capability_question"
	IntentHelpRequest        Intent = "help_request"
	IntentSmallTalk          Intent = "small_talk"

	// Task intents — delegated to agents
	IntentSocialSearch    Intent = "social_search"
	IntentSocialAnalysis  Intent = "social_analysis"
	IntentProfileLookup   Intent = "profile_lookup"
	IntentWebResearch     Intent = "web_research"
	IntentDocumentSearch  Intent = "document_search"
	IntentProjectSearch   Intent = "project_search"
	IntentDocumentAnalyze Intent = "document_analyze"
	IntentMixedAnalysis   Intent = "mixed_analysis"

	IntentUnknown Intent = "unknown"
)

// ValidIntents is the closed classification enumeration. LLM output that
// is not in this set is a classifier failure, never a new label.
var ValidIntents = map[Intent]bool{
	IntentCasualConversation: true,
	IntentCapabilityQuestion: true,
	IntentHelpRequest:        true,
	IntentSmallTalk:          true,
	IntentSocialSearch:       true,
	IntentSocialAnalysis:     true,
	IntentProfileLookup:      true,
	IntentWebResearch:        true,
	IntentDocumentSearch:     true,
	IntentProjectSearch:      true,
	IntentDocumentAnalyze:    true,
	IntentMixedAnalysis:      true,
	IntentUnknown:            true,
}

// IsConversational reports whether the intent is answered without agents
func (i Intent) IsConversational() bool {
	switch i {
	case IntentCasualConversation, IntentCapabilityQuestion, IntentHelpRequest, IntentSmallTalk:
		return true
	}
	return false
}

// IntentClassification is the classifier output
type IntentClassification struct {
	Intent     Intent  `json:"intent"`
	Confidence float64 `json:"confidence"`
	Method     string  `json:"method"` // "llm" or "regex_fallback"
}

// ExecutionMode determines how a task plan is run
type ExecutionMode string

const (
	ExecutionModeParallel   ExecutionMode = "parallel"
	ExecutionModeSequential ExecutionMode = "sequential"
	ExecutionModeDirect     ExecutionMode = "direct"
)

// Priority levels for routing decisions and tasks
const (
	PriorityImmediate = "immediate"
	PriorityHigh      = "high"
	PriorityNormal    = "normal"
	PriorityLow       = "low"
)

// RoutingDecision is the routing engine output for one turn
type RoutingDecision struct {
	Agents           []string      `json:"agents"`
	Mode             ExecutionMode `json:"mode"`
	Priority         string        `json:"priority"`
	Confidence       float64       `json:"confidence"`
	Pattern          string        `json:"pattern"`
	DirectResponse   string        `json:"direct_response,omitempty"`
	EnhanceMemory    bool          `json:"enhance_memory,omitempty"`
	DomainContext    bool          `json:"domain_context,omitempty"`
	Capabilities     []Capability  `json:"capabilities,omitempty"`
}
