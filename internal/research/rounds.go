package research

import (
	"encoding/json"
	"time"

	"studynerd/internal/logging"
)

// RoundStatus tracks where a round is in the research loop. The projector
// overwrites status to whatever the latest structurally relevant event
// indicates; the orchestrator is the source of truth for ordering, so no
// forward-only transition check is enforced here.
type RoundStatus string

const (
	RoundStarted         RoundStatus = "started"
	RoundExecuting       RoundStatus = "executing"
	RoundPendingApproval RoundStatus = "pending_approval"
	RoundRetrieved       RoundStatus = "retrieved"
	RoundRanking         RoundStatus = "ranking"
	RoundStreaming       RoundStatus = "streaming"
	RoundCritic          RoundStatus = "critic"
	RoundCompleted       RoundStatus = "completed"
)

// RoundView is the per-round read model. Once created a view is never
// removed, only updated: each field, once set, is only overwritten by a
// newer event of the same kind, never cleared. Serialized document fields
// hold JSON text so the rendering layer can lazily decode what it shows.
type RoundView struct {
	Round     int         `json:"round"`
	Status    RoundStatus `json:"status"`
	CreatedAt time.Time   `json:"created_at"`

	PlanJSON      string `json:"plan_json,omitempty"`
	QueriesJSON   string `json:"queries_json,omitempty"`
	CitationsJSON string `json:"citations_json,omitempty"`
	RetrievedJSON string `json:"retrieved_json,omitempty"`
	SummaryMD     string `json:"summary_md,omitempty"`
	CriticJSON    string `json:"critic_json,omitempty"`
	MetricsJSON   string `json:"metrics_json,omitempty"`
	InsightJSON   string `json:"insight_json,omitempty"`
}

// ensureRound returns the view for roundNo, lazily creating it with default
// status "started" when an event references a round the reducer has not
// seen yet (missing causal predecessor tolerance).
func (r *Reducer) ensureRound(roundNo int) *RoundView {
	if rv, ok := r.rounds[roundNo]; ok {
		return rv
	}
	rv := &RoundView{
		Round:     roundNo,
		Status:    RoundStarted,
		CreatedAt: time.Now(),
	}
	r.rounds[roundNo] = rv
	logging.ResearchDebug("Round view created: round=%d", roundNo)
	return rv
}

// applyPlan stores the plan document on the round and, when the plan
// carries a core.queries array, derives the queries field from it.
// Best-effort: a plan that fails to probe simply leaves queries unset.
func (r *Reducer) applyPlan(rv *RoundView, plan json.RawMessage) {
	if s, ok := rawField(plan); ok {
		rv.PlanJSON = s
		r.plan = s
	}
	var probe struct {
		Core struct {
			Queries []string `json:"queries"`
		} `json:"core"`
	}
	if err := json.Unmarshal(plan, &probe); err != nil || len(probe.Core.Queries) == 0 {
		return
	}
	if s, ok := attempt(map[string][]string{"queries": probe.Core.Queries}); ok {
		rv.QueriesJSON = s
	}
}

// applySelection records selection counts and, when a citations payload
// with an items array is present, stores both the citations and the
// flattened retrieved-items list (round-scoped and session-scoped).
func (r *Reducer) applySelection(evt Event) {
	r.selectedCount = evt.Selected
	rv := r.ensureRound(evt.Round)
	rv.Status = RoundRetrieved
	if len(evt.Citations) == 0 {
		return
	}
	var probe struct {
		Items []json.RawMessage `json:"items"`
	}
	if err := json.Unmarshal(evt.Citations, &probe); err != nil || probe.Items == nil {
		return
	}
	if s, ok := rawField(evt.Citations); ok {
		rv.CitationsJSON = s
	}
	if s, ok := attempt(probe.Items); ok {
		rv.RetrievedJSON = s
		r.retrievedItems = s
	}
}

// applySynthesis appends a synthesis fragment to the session accumulator
// and mirrors the full accumulated text into the round's summary.
func (r *Reducer) applySynthesis(evt Event) {
	r.synthesis += evt.Synthesis
	rv := r.ensureRound(evt.Round)
	rv.SummaryMD = r.synthesis
	rv.Status = RoundStreaming
}

// mergeMetrics folds key=value into a metrics JSON object held as text.
// A prior value that does not parse starts over from an empty object
// rather than failing; a value that cannot marshal leaves prior intact.
func mergeMetrics(prior, key string, value any) string {
	obj := map[string]any{}
	if prior != "" {
		if err := json.Unmarshal([]byte(prior), &obj); err != nil {
			obj = map[string]any{}
		}
	}
	obj[key] = value
	data, err := json.Marshal(obj)
	if err != nil {
		logging.ResearchDebug("Metrics merge skipped for key %s: %v", key, err)
		return prior
	}
	return string(data)
}

// rawField returns raw as a string when it holds valid JSON. Invalid or
// empty payloads report ok=false so the caller keeps the prior value.
func rawField(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 || !json.Valid(raw) {
		return "", false
	}
	return string(raw), true
}

// attempt marshals v, reporting ok=false instead of propagating failure.
// This is the single defensive seam for every "serialize, on failure keep
// the old value" site in the reducer.
func attempt(v any) (string, bool) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", false
	}
	return string(data), true
}
