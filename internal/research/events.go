// Package research implements the research-session event reducer: the
// component that consumes the ordered progress-event stream emitted by the
// research orchestrator and folds it into a bounded, queryable session
// state (per-round views, per-sub-agent progress, artifacts, running
// synthesis).
//
// The reducer is deliberately passive:
//   - It never talks to a model or search API.
//   - It never performs I/O; event delivery and persistence belong to the
//     transport and store collaborators.
//   - It is single-writer: all mutation happens inside a synchronous
//     Dispatch call, so there is no internal locking.
package research

import "encoding/json"

// EventType tags each inbound orchestrator event. The set is closed; the
// dispatcher lists every variant and degrades unknown tags to generic
// logging.
type EventType string

const (
	// Session lifecycle
	EventSessionStarted        EventType = "session_started"
	EventSessionCompleted      EventType = "session_completed"
	EventSessionFailed         EventType = "session_failed"
	EventSessionCancelled      EventType = "session_cancelled"
	EventCancellationRequested EventType = "cancellation_requested"

	// Round lifecycle
	EventRoundStarted   EventType = "round_started"
	EventRoundExecuting EventType = "round_executing"

	// Planning
	EventPlanPendingApproval EventType = "plan_pending_approval"
	EventPlanGenerated       EventType = "plan_generated"
	EventQueriesPrepared     EventType = "queries_prepared"

	// Retrieval / selection
	EventRetrievalCompleted      EventType = "retrieval_completed"
	EventSelectionCompleted      EventType = "selection_completed"
	EventCandidateRankingStarted EventType = "candidate_ranking_started"
	EventDedupeCompleted         EventType = "dedupe_completed"
	EventPerDocCapApplied        EventType = "per_doc_cap_applied"
	EventKeywordFilterApplied    EventType = "keyword_filter_applied"
	EventFilterShortTextApplied  EventType = "filter_short_text_applied"

	// Sub-agents
	EventSubAgentStarted    EventType = "subagent_started"
	EventSubAgentThought    EventType = "subagent_thought"
	EventSubAgentToolCall   EventType = "subagent_tool_call"
	EventSubAgentToolResult EventType = "subagent_tool_result"
	EventSubAgentCompleted  EventType = "subagent_completed"
	EventSubAgentFailed     EventType = "subagent_failed"
	EventSubAgentsDone      EventType = "subagents_done"

	// Synthesis / critique
	EventSynthesisUpdated      EventType = "synthesis_updated"
	EventCriticUpdated         EventType = "critic_updated"
	EventRoundMetrics          EventType = "round_metrics"
	EventMacroInsightGenerated EventType = "macro_insight_generated"
	EventMacroInsightProgress  EventType = "macro_insight_progress"

	// Misc
	EventArtifactCreated   EventType = "artifact_created"
	EventIngestionProgress EventType = "ingestion_progress"
	EventAgentRequest      EventType = "agent_request"
	EventAgentResponse     EventType = "agent_response"
	EventError             EventType = "error"
)

// Event is one entry of the orchestrator's progress stream. Every variant
// carries Type plus whichever payload fields apply; unused fields stay at
// their zero value. Embedded documents (plan, citations, metrics, ...)
// arrive as raw JSON and are only parsed field-by-field, so a malformed
// blob degrades that field, never the whole event.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id,omitempty"`
	Round     int       `json:"round,omitempty"`
	TS        int64     `json:"ts,omitempty"` // unix milliseconds

	// Session lifecycle
	Question    string `json:"question,omitempty"`
	OptionsJSON string `json:"options_json,omitempty"`
	Message     string `json:"message,omitempty"`
	AtRound     int    `json:"at_round,omitempty"`

	// Planning
	Plan    json.RawMessage `json:"plan,omitempty"`
	Queries []string        `json:"queries,omitempty"`

	// Retrieval / selection
	Fetched        int             `json:"fetched,omitempty"`
	Selected       int             `json:"selected,omitempty"`
	Citations      json.RawMessage `json:"citations,omitempty"`
	CandidateCount int             `json:"candidate_count,omitempty"`

	// Sub-agents
	SubID         int             `json:"sub_id,omitempty"`
	Query         string          `json:"query,omitempty"`
	Step          int             `json:"step,omitempty"`
	LLMJSON       string          `json:"llm_json,omitempty"`
	DisplayText   string          `json:"display_text,omitempty"`
	ElapsedMS     int64           `json:"elapsed_ms,omitempty"`
	Tool          string          `json:"tool,omitempty"`
	Args          json.RawMessage `json:"args,omitempty"`
	Info          json.RawMessage `json:"info,omitempty"`
	Steps         int             `json:"steps,omitempty"`
	SummaryMD     string          `json:"summary_md,omitempty"`
	KeyFindings   []string        `json:"key_findings,omitempty"`
	Confidence    float64         `json:"confidence,omitempty"`
	Uncertainties []string        `json:"uncertainties,omitempty"`
	Error         string          `json:"error,omitempty"`
	Metrics       json.RawMessage `json:"metrics,omitempty"`
	SubReports    json.RawMessage `json:"sub_reports,omitempty"`

	// Synthesis / critique
	Synthesis       string          `json:"synthesis,omitempty"`
	Critic          json.RawMessage `json:"critic,omitempty"`
	Insight         json.RawMessage `json:"insight,omitempty"`
	TotalChunks     int             `json:"total_chunks,omitempty"`
	CompletedChunks int             `json:"completed_chunks,omitempty"`

	// Misc
	Artifact json.RawMessage `json:"artifact,omitempty"`
	Agent    string          `json:"agent,omitempty"`
	Phase    string          `json:"phase,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`

	// Ingestion (transient, excluded from the event log)
	Total     int     `json:"total,omitempty"`
	Completed int     `json:"completed,omitempty"`
	Percent   float64 `json:"percent,omitempty"`
}

// ExecutionMode distinguishes autonomous runs from supervised runs where
// each plan needs human approval before execution.
type ExecutionMode string

const (
	ModeUnset      ExecutionMode = ""
	ModeAutonomous ExecutionMode = "autonomous"
	ModeSupervised ExecutionMode = "supervised"
)

// IngestionProgress is the transient document-ingestion scalar. It is not
// part of the event log and is overwritten wholesale by each
// ingestion_progress event.
type IngestionProgress struct {
	Total     int     `json:"total"`
	Completed int     `json:"completed"`
	Percent   float64 `json:"percent"`
}
