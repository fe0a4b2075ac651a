package research

import (
	"encoding/json"

	"studynerd/internal/logging"
)

// Reducer owns session identity, round number and execution mode, and
// folds every inbound event into the composed read model. It is the
// single-writer state machine behind the research dashboard: exactly one
// consumer calls Dispatch in stream order, so no locking is needed and
// Dispatch never blocks.
type Reducer struct {
	sessionID string
	question  string
	round     int
	mode      ExecutionMode

	plan           string
	synthesis      string
	critic         string
	retrievalCount int
	selectedCount  int
	metrics        string
	retrievedItems string
	ingestion      IngestionProgress

	log       eventLog
	rounds    map[int]*RoundView
	subAgents map[int]*SubAgentView
	artifacts map[int][]Artifact

	// maxSteps is the assumed per-sub-agent step budget for live
	// progress estimates.
	maxSteps int
}

// NewReducer returns an empty reducer ready to consume a session stream.
func NewReducer() *Reducer {
	return &Reducer{
		rounds:    make(map[int]*RoundView),
		subAgents: make(map[int]*SubAgentView),
		artifacts: make(map[int][]Artifact),
		maxSteps:  defaultMaxSteps,
	}
}

// SetMaxSteps overrides the assumed sub-agent step budget used for live
// progress estimates. Values below 1 are ignored.
func (r *Reducer) SetMaxSteps(n int) {
	if n >= 1 {
		r.maxSteps = n
	}
}

// Dispatch consumes exactly one event. It is synchronous, returns nothing,
// and never panics: handlers isolate per-field parse failures via the
// attempt/rawField helpers, and a recover backstop keeps one bad event
// from poisoning the stream.
//
// Every event except ingestion_progress is appended to the bounded log
// before type-specific processing; agent_request/agent_response are logged
// through this generic path only and must not be re-logged per type.
func (r *Reducer) Dispatch(evt Event) {
	defer func() {
		if rec := recover(); rec != nil {
			logging.ResearchError("Dispatch recovered from %q handler: %v", evt.Type, rec)
		}
	}()

	if evt.Type != EventIngestionProgress {
		r.log.append(evt)
	}

	switch evt.Type {
	// --- Session lifecycle -------------------------------------------
	case EventSessionStarted:
		r.startSession(evt)
	case EventSessionCompleted:
		if evt.Round > 0 {
			r.round = evt.Round
		}
		r.log.trimTo(maxArchivedLogEntries)
	case EventSessionFailed:
		r.failLiveSubAgents(true)
		if evt.Round > 0 {
			r.round = evt.Round
		}
		r.log.trimTo(maxArchivedLogEntries)
		logging.Research("Session failed: %s", evt.Message)
	case EventSessionCancelled:
		r.failLiveSubAgents(false)

	// --- Round lifecycle ---------------------------------------------
	case EventRoundStarted:
		r.startRound(evt.Round)
	case EventRoundExecuting:
		r.ensureRound(evt.Round).Status = RoundExecuting

	// --- Planning ----------------------------------------------------
	case EventPlanPendingApproval:
		rv := r.ensureRound(evt.Round)
		rv.Status = RoundPendingApproval
		r.applyPlan(rv, evt.Plan)
		r.mode = ModeSupervised
	case EventPlanGenerated:
		r.applyPlan(r.ensureRound(evt.Round), evt.Plan)
		if r.mode == ModeUnset {
			r.mode = ModeAutonomous
		}
	case EventQueriesPrepared:
		if s, ok := attempt(map[string][]string{"queries": evt.Queries}); ok {
			r.ensureRound(evt.Round).QueriesJSON = s
		}

	// --- Retrieval / selection ---------------------------------------
	case EventRetrievalCompleted:
		r.retrievalCount = evt.Fetched
		r.ensureRound(evt.Round).Status = RoundRetrieved
	case EventSelectionCompleted:
		r.applySelection(evt)
	case EventCandidateRankingStarted:
		rv := r.ensureRound(evt.Round)
		rv.Status = RoundRanking
		rv.MetricsJSON = mergeMetrics(rv.MetricsJSON, "candidate_count", evt.CandidateCount)

	// --- Sub-agents --------------------------------------------------
	case EventSubAgentStarted:
		r.startSubAgent(evt)
	case EventSubAgentThought:
		r.appendStep(evt, StepThought)
	case EventSubAgentToolCall:
		r.appendStep(evt, StepToolCall)
	case EventSubAgentToolResult:
		r.appendStep(evt, StepToolResult)
	case EventSubAgentCompleted:
		r.completeSubAgent(evt)
	case EventSubAgentFailed:
		r.failSubAgent(evt)
	case EventSubAgentsDone:
		rv := r.ensureRound(evt.Round)
		rv.MetricsJSON = mergeMetrics(rv.MetricsJSON, "subagents_done", rawOrNull(evt.Metrics))
		rv.Status = RoundCompleted

	// --- Synthesis / critique ----------------------------------------
	case EventSynthesisUpdated:
		r.applySynthesis(evt)
	case EventCriticUpdated:
		rv := r.ensureRound(evt.Round)
		if s, ok := rawField(evt.Critic); ok {
			rv.CriticJSON = s
			r.critic = s
		}
		rv.Status = RoundCritic
	case EventRoundMetrics:
		if s, ok := rawField(evt.Metrics); ok {
			r.ensureRound(evt.Round).MetricsJSON = s
			r.metrics = s
		}
	case EventMacroInsightGenerated:
		if s, ok := rawField(evt.Insight); ok {
			r.ensureRound(evt.Round).InsightJSON = s
		}
	case EventMacroInsightProgress:
		rv := r.ensureRound(evt.Round)
		rv.MetricsJSON = mergeMetrics(rv.MetricsJSON, "macro_insight_progress", map[string]int{
			"total_chunks":     evt.TotalChunks,
			"completed_chunks": evt.CompletedChunks,
		})
		r.metrics = rv.MetricsJSON

	// --- Misc --------------------------------------------------------
	case EventArtifactCreated:
		r.applyArtifactCreated(evt)
	case EventIngestionProgress:
		r.ingestion = IngestionProgress{Total: evt.Total, Completed: evt.Completed, Percent: evt.Percent}
	case EventError:
		logging.Research("Orchestrator error event: %s", evt.Message)

	// Accepted for the timeline but not individually projected. The
	// retrieval-shaping events are reserved for future projection;
	// agent traffic is intentionally log-only.
	case EventCancellationRequested,
		EventDedupeCompleted, EventPerDocCapApplied,
		EventKeywordFilterApplied, EventFilterShortTextApplied,
		EventAgentRequest, EventAgentResponse:

	default:
		logging.ResearchDebug("Unknown event type %q ignored", evt.Type)
	}
}

// startSession initializes session identity and resets derived per-session
// state. The event log is intentionally kept: only Clear empties it.
func (r *Reducer) startSession(evt Event) {
	r.sessionID = evt.SessionID
	r.question = evt.Question
	r.round = 0
	r.mode = ModeUnset
	r.plan = ""
	r.synthesis = ""
	r.critic = ""
	r.retrievalCount = 0
	r.selectedCount = 0
	r.metrics = ""
	r.retrievedItems = ""
	r.ingestion = IngestionProgress{}
	r.rounds = make(map[int]*RoundView)
	r.subAgents = make(map[int]*SubAgentView)
	r.artifacts = make(map[int][]Artifact)

	if evt.OptionsJSON != "" {
		var opts struct {
			Mode string `json:"mode"`
		}
		if err := json.Unmarshal([]byte(evt.OptionsJSON), &opts); err == nil {
			switch ExecutionMode(opts.Mode) {
			case ModeAutonomous, ModeSupervised:
				r.mode = ExecutionMode(opts.Mode)
			}
		}
	}
	logging.Research("Session started: id=%s mode=%s", r.sessionID, r.mode)
}

// startRound advances the session to a new round. Sub-agent state is
// scoped to the current round and starts fresh.
func (r *Reducer) startRound(roundNo int) {
	if roundNo != r.round {
		r.round = roundNo
		r.subAgents = make(map[int]*SubAgentView)
	}
	r.ensureRound(roundNo).Status = RoundStarted
}

// Reset re-initializes the reducer for the given session identity, as used
// when attaching to a session already in flight.
func (r *Reducer) Reset(sessionID string, round int) {
	r.Clear()
	r.sessionID = sessionID
	r.round = round
}

// Clear drops all session state including the event log. This is the only
// operation that empties the log; no inbound event does.
func (r *Reducer) Clear() {
	r.sessionID = ""
	r.question = ""
	r.round = 0
	r.mode = ModeUnset
	r.plan = ""
	r.synthesis = ""
	r.critic = ""
	r.retrievalCount = 0
	r.selectedCount = 0
	r.metrics = ""
	r.retrievedItems = ""
	r.ingestion = IngestionProgress{}
	r.log.clear()
	r.rounds = make(map[int]*RoundView)
	r.subAgents = make(map[int]*SubAgentView)
	r.artifacts = make(map[int][]Artifact)
}

// rawOrNull keeps raw JSON usable as a merge value: empty payloads become
// explicit null instead of failing the surrounding marshal.
func rawOrNull(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 || !json.Valid(raw) {
		return json.RawMessage("null")
	}
	return raw
}

// =============================================================================
// READ SURFACE - the entire contract the rendering layer depends on
// =============================================================================

// SessionID returns the current session identity ("" when no session).
func (r *Reducer) SessionID() string { return r.sessionID }

// Question returns the research question that started the session.
func (r *Reducer) Question() string { return r.question }

// Round returns the current round number.
func (r *Reducer) Round() int { return r.round }

// Mode returns the session's execution mode.
func (r *Reducer) Mode() ExecutionMode { return r.mode }

// Plan returns the latest serialized plan.
func (r *Reducer) Plan() string { return r.plan }

// Synthesis returns the accumulated narrative answer text.
func (r *Reducer) Synthesis() string { return r.synthesis }

// Critic returns the latest serialized critic output.
func (r *Reducer) Critic() string { return r.critic }

// RetrievalCount returns the last reported fetched-item count.
func (r *Reducer) RetrievalCount() int { return r.retrievalCount }

// SelectedCount returns the last reported selected-item count.
func (r *Reducer) SelectedCount() int { return r.selectedCount }

// LiveMetrics returns the session-level live metrics document.
func (r *Reducer) LiveMetrics() string { return r.metrics }

// RetrievedItems returns the flattened items of the most recent selection.
func (r *Reducer) RetrievedItems() string { return r.retrievedItems }

// Ingestion returns the transient ingestion progress scalar.
func (r *Reducer) Ingestion() IngestionProgress { return r.ingestion }

// EventLog returns the retained raw event trail, oldest first.
func (r *Reducer) EventLog() []Event { return r.log.entries }

// Rounds returns the round-number-keyed view map.
func (r *Reducer) Rounds() map[int]*RoundView { return r.rounds }

// Round view lookup for a single round.
func (r *Reducer) RoundView(roundNo int) (*RoundView, bool) {
	rv, ok := r.rounds[roundNo]
	return rv, ok
}

// SubAgents returns the current round's sub-agent map.
func (r *Reducer) SubAgents() map[int]*SubAgentView { return r.subAgents }

// Artifacts returns the round's artifact list, sorted by ascending id.
func (r *Reducer) Artifacts(roundNo int) []Artifact { return r.artifacts[roundNo] }
