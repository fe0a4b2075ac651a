package research

import (
	"encoding/json"
	"sort"
)

// SummaryFromRound builds a persistable visual summary from the derived
// state of one round. This is the inverse of HydrateRoundFromVisualSummary
// up to field availability: fields the stream never filled stay absent.
//
// Sub-agent records are included only for the round currently tracked,
// since sub-agent state is scoped to the current round.
func SummaryFromRound(r *Reducer, rv *RoundView) *VisualSummary {
	if rv == nil {
		return nil
	}
	snap := &VisualSummary{
		Plan:      decodeAny(rv.PlanJSON),
		Queries:   decodeAny(rv.QueriesJSON),
		Retrieved: decodeAny(rv.RetrievedJSON),
		Citations: decodeAny(rv.CitationsJSON),
		Metrics:   decodeAny(rv.MetricsJSON),
		SummaryMD: rv.SummaryMD,
	}

	if rv.Round != r.round || len(r.subAgents) == 0 {
		return snap
	}
	ids := make([]int, 0, len(r.subAgents))
	for id := range r.subAgents {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		sa := r.subAgents[id]
		snap.SubAgents = append(snap.SubAgents, SummarySubAgent{
			SubID:       sa.SubID,
			Query:       sa.Query,
			Steps:       len(sa.Steps),
			SummaryMD:   sa.SummaryMD,
			Citations:   decodeAny(sa.CitationsJSON),
			KeyFindings: sa.KeyFindings,
		})
	}
	return snap
}

// decodeAny turns stored JSON text back into a generic value, or nil when
// empty/unparseable so the field is simply omitted from the summary.
func decodeAny(s string) any {
	if s == "" {
		return nil
	}
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil
	}
	return v
}
