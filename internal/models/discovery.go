package models

// ResolutionOutcome distinguishes the three terminal states of handle
// resolution. Callers need all three: a relevant person without a known
// handle is not the same as an irrelevant query.
type ResolutionOutcome string

const (
	OutcomeResolved       ResolutionOutcome = "resolved"
	OutcomeRelevantNoData ResolutionOutcome = "relevant_no_handle"
	OutcomeNotRelevant    ResolutionOutcome = "not_relevant"
)

// Resolution methods, one per pipeline stage
const (
	MethodKnownEntities   = "known_entities"
	MethodMemoryLookup    = "memory_lookup"
	MethodLLMExtraction   = "llm_extraction"
	MethodDirectSearch    = "direct_search"
	MethodMultiStrategy   = "multi_strategy_search"
	MethodOpenDiscovery   = "open_discovery"
)

// HandleResolution maps a free-text person reference to a platform handle.
// Once resolved above the save threshold the (query, handle) pair is
// persisted to the memory store so future identical queries short-circuit
// at the memory lookup stage.
type HandleResolution struct {
	Query      string            `json:"query"`
	Handle     string            `json:"handle,omitempty"`
	Name       string            `json:"name,omitempty"`
	Confidence float64           `json:"confidence"`
	Method     string            `json:"method"`
	Outcome    ResolutionOutcome `json:"outcome"`
	Category   string            `json:"category,omitempty"`
	Reasoning  string            `json:"reasoning,omitempty"`
	FromMemory bool              `json:"from_memory,omitempty"`
}

// MemoryMatch is one result from the long-term memory store
type MemoryMatch struct {
	Content    string  `json:"content"`
	Similarity float64 `json:"similarity"`
	Source     string  `json:"source,omitempty"`
}

// DiscoveredEntity is what gets written back to the memory store after a
// successful external resolution.
type DiscoveredEntity struct {
	UserName        string `json:"user_name"`
	TwitterUsername string `json:"twitter_username"`
	Description     string `json:"description,omitempty"`
	Category        string `json:"category,omitempty"`
}
