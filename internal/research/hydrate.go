package research

import (
	"time"

	"studynerd/internal/logging"
)

// syntheticSubIDBase is where hydration-assigned sub-agent ids start, kept
// clear of the orchestrator's live numeric ids for the same session.
const syntheticSubIDBase = 1000

// VisualSummary is the persisted, non-event-stream representation of a
// round's outcome, produced by the snapshot store. Every field is
// optional; the document fields are deliberately untyped because snapshots
// written by other clients may shape them differently.
type VisualSummary struct {
	Plan      any               `json:"plan,omitempty"`
	Queries   any               `json:"queries,omitempty"`
	Retrieved any               `json:"retrieved,omitempty"`
	Citations any               `json:"citations,omitempty"`
	Metrics   any               `json:"metrics,omitempty"`
	SummaryMD string            `json:"summary_md,omitempty"`
	SubAgents []SummarySubAgent `json:"subagents,omitempty"`
}

// SummarySubAgent is one sub-agent record inside a visual summary.
type SummarySubAgent struct {
	SubID       int      `json:"sub_id,omitempty"`
	Query       string   `json:"query,omitempty"`
	Steps       int      `json:"steps,omitempty"`
	SummaryMD   string   `json:"summary_md,omitempty"`
	Citations   any      `json:"citations,omitempty"`
	KeyFindings []string `json:"key_findings,omitempty"`
}

// HydrateRoundFromVisualSummary reconstructs a round view and a partial
// sub-agent map directly from a persisted snapshot, without replaying the
// original event stream. Used when a session is opened that this client
// never witnessed live (app restart, imported session).
//
// Hydration is best-effort per field: a field that fails to serialize is
// left unset, never aborting the rest. Sub-agents are installed terminal
// (completed, progress 1) because a snapshot never represents in-flight
// work.
func (r *Reducer) HydrateRoundFromVisualSummary(sessionID string, roundNo int, snap *VisualSummary) {
	if snap == nil {
		return
	}
	r.sessionID = sessionID
	if roundNo > r.round {
		r.round = roundNo
	}

	rv := r.ensureRound(roundNo)
	rv.Status = RoundCompleted
	if rv.CreatedAt.IsZero() {
		rv.CreatedAt = time.Now()
	}

	if snap.Plan != nil {
		if s, ok := attempt(snap.Plan); ok {
			rv.PlanJSON = s
			r.plan = s
		}
	}
	if snap.Queries != nil {
		if s, ok := attempt(snap.Queries); ok {
			rv.QueriesJSON = s
		}
	}
	if snap.Retrieved != nil {
		if s, ok := attempt(snap.Retrieved); ok {
			rv.RetrievedJSON = s
			r.retrievedItems = s
		}
	}
	if snap.Citations != nil {
		if s, ok := attempt(snap.Citations); ok {
			rv.CitationsJSON = s
		}
	}
	if snap.Metrics != nil {
		if s, ok := attempt(snap.Metrics); ok {
			rv.MetricsJSON = s
			r.metrics = s
		}
	}
	if snap.SummaryMD != "" {
		rv.SummaryMD = snap.SummaryMD
		r.synthesis = snap.SummaryMD
	}

	nextSynthetic := syntheticSubIDBase
	for _, rec := range snap.SubAgents {
		id := rec.SubID
		if id == 0 {
			id = nextSynthetic
			nextSynthetic++
		}
		sa := &SubAgentView{
			SubID:        id,
			Status:       SubAgentCompleted,
			Query:        rec.Query,
			Steps:        make([]SubAgentStep, 0),
			LastActivity: completedActivity,
			Progress:     1,
			SummaryMD:    rec.SummaryMD,
			KeyFindings:  rec.KeyFindings,
		}
		if rec.Citations != nil {
			if s, ok := attempt(rec.Citations); ok {
				sa.CitationsJSON = s
			}
		}
		r.subAgents[id] = sa
	}

	logging.Research("Hydrated round %d for session %s from visual summary (subagents=%d)",
		roundNo, sessionID, len(snap.SubAgents))
}
