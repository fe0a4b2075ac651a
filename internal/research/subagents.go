package research

import (
	"fmt"
	"strings"
	"time"

	"studynerd/internal/logging"
)

// SubAgentStatus is the lifecycle state of one parallel sub-query worker.
type SubAgentStatus string

const (
	SubAgentPending   SubAgentStatus = "pending"
	SubAgentRunning   SubAgentStatus = "running"
	SubAgentCompleted SubAgentStatus = "completed"
	SubAgentFailed    SubAgentStatus = "failed"
)

// StepKind classifies one entry of a sub-agent's step trail.
type StepKind string

const (
	StepThought    StepKind = "thought"
	StepToolCall   StepKind = "tool_call"
	StepToolResult StepKind = "tool_result"
	StepError      StepKind = "error"
)

// defaultMaxSteps is the assumed step budget used for the progress
// estimate when the caller does not override it.
const defaultMaxSteps = 8

// completedActivity is the display string shown for a finished sub-agent.
const completedActivity = "Completed"

// SubAgentStep is one append-only entry of a sub-agent's activity trail.
type SubAgentStep struct {
	Kind      StepKind  `json:"kind"`
	Text      string    `json:"text,omitempty"`
	Tool      string    `json:"tool,omitempty"`
	ElapsedMS int64     `json:"elapsed_ms,omitempty"`
	At        time.Time `json:"at"`
}

// SubAgentView is the live progress record for one sub-agent, keyed by its
// integer id and scoped to the current round only. Step list is
// append-only; status transitions are monotonic except for the terminal
// failure overrides applied at session end.
type SubAgentView struct {
	SubID        int            `json:"sub_id"`
	Status       SubAgentStatus `json:"status"`
	Query        string         `json:"query,omitempty"`
	Steps        []SubAgentStep `json:"steps"`
	LastActivity string         `json:"last_activity,omitempty"`
	Progress     float64        `json:"progress"`

	// Terminal-only fields
	SummaryMD     string   `json:"summary_md,omitempty"`
	CitationsJSON string   `json:"citations_json,omitempty"`
	KeyFindings   []string `json:"key_findings,omitempty"`
	Confidence    float64  `json:"confidence,omitempty"`
	Uncertainties []string `json:"uncertainties,omitempty"`
}

// ensureSubAgent returns the record for subID, lazily creating a running
// entry when a step event arrives before (or without) subagent_started.
func (r *Reducer) ensureSubAgent(subID int) *SubAgentView {
	if sa, ok := r.subAgents[subID]; ok {
		return sa
	}
	sa := &SubAgentView{
		SubID:  subID,
		Status: SubAgentRunning,
		Steps:  make([]SubAgentStep, 0, defaultMaxSteps),
	}
	r.subAgents[subID] = sa
	return sa
}

// startSubAgent installs a fresh record, replacing any prior entry for the
// same id (a restarted sub-agent begins a new trail).
func (r *Reducer) startSubAgent(evt Event) {
	r.subAgents[evt.SubID] = &SubAgentView{
		SubID:  evt.SubID,
		Status: SubAgentRunning,
		Query:  evt.Query,
		Steps:  make([]SubAgentStep, 0, defaultMaxSteps),
	}
	logging.ResearchDebug("Sub-agent started: sub_id=%d query=%s", evt.SubID, evt.Query)
}

// appendStep records one activity step and refreshes the progress
// estimate. Tool results do not advance progress; they only extend the
// trail.
func (r *Reducer) appendStep(evt Event, kind StepKind) {
	sa := r.ensureSubAgent(evt.SubID)
	step := SubAgentStep{
		Kind:      kind,
		Tool:      evt.Tool,
		ElapsedMS: evt.ElapsedMS,
		At:        time.Now(),
	}
	switch {
	case evt.DisplayText != "":
		step.Text = evt.DisplayText
	case kind == StepError:
		step.Text = evt.Error
	case evt.Tool != "":
		step.Text = evt.Tool
	}
	sa.Steps = append(sa.Steps, step)

	if kind == StepThought || kind == StepToolCall {
		if step.Text != "" {
			sa.LastActivity = step.Text
		}
		sa.Progress = clamp01(float64(len(sa.Steps)) / float64(r.maxSteps))
	}
}

// completeSubAgent attaches the terminal report and forces progress to 1.
//
// As a resilience measure, when the accumulated session synthesis does not
// already contain the heading derived from this sub-agent's query, the
// summary is appended under a new heading. This covers orchestrators whose
// synthesis_updated stream under-reports a sub-agent's contribution; the
// literal substring check keeps an already-present section from being
// duplicated.
func (r *Reducer) completeSubAgent(evt Event) {
	sa := r.ensureSubAgent(evt.SubID)
	sa.Status = SubAgentCompleted
	sa.Progress = 1
	sa.LastActivity = completedActivity
	sa.SummaryMD = evt.SummaryMD
	if s, ok := rawField(evt.Citations); ok {
		sa.CitationsJSON = s
	}
	sa.KeyFindings = evt.KeyFindings
	sa.Confidence = evt.Confidence
	sa.Uncertainties = evt.Uncertainties

	if evt.SummaryMD == "" || sa.Query == "" {
		return
	}
	marker := subAgentHeading(sa.Query)
	if strings.Contains(r.synthesis, marker) {
		return
	}
	r.synthesis += fmt.Sprintf("\n\n%s\n\n%s", marker, evt.SummaryMD)
	if rv, ok := r.rounds[r.round]; ok {
		rv.SummaryMD = r.synthesis
	}
	logging.ResearchDebug("Sub-agent %d summary folded into synthesis (fallback)", evt.SubID)
}

// failSubAgent marks the sub-agent failed and appends an error step with
// the failure message. Prior steps are preserved.
func (r *Reducer) failSubAgent(evt Event) {
	sa := r.ensureSubAgent(evt.SubID)
	sa.Status = SubAgentFailed
	r.appendStep(evt, StepError)
	if evt.Error != "" {
		sa.LastActivity = evt.Error
	}
}

// failLiveSubAgents forces non-terminal sub-agents to failed at session
// end. Completed sub-agents are always preserved untouched: a late partial
// failure must not erase results that already landed.
func (r *Reducer) failLiveSubAgents(includePending bool) {
	for _, sa := range r.subAgents {
		if sa.Status == SubAgentRunning || (includePending && sa.Status == SubAgentPending) {
			sa.Status = SubAgentFailed
		}
	}
}

// SubAgentProgress reports the progress estimate for subID in [0,1].
// The stored estimate wins when present; otherwise the step count against
// defaultMax approximates it. Unknown ids report 0.
func (r *Reducer) SubAgentProgress(subID, defaultMax int) float64 {
	sa, ok := r.subAgents[subID]
	if !ok {
		return 0
	}
	if sa.Progress > 0 {
		return clamp01(sa.Progress)
	}
	if defaultMax < 1 {
		defaultMax = 1
	}
	return clamp01(float64(len(sa.Steps)) / float64(defaultMax))
}

// subAgentHeading builds the synthesis section heading for a sub-query.
// The literal string doubles as the dedupe marker, so the format must stay
// stable across sessions.
func subAgentHeading(query string) string {
	return "## " + strings.TrimSpace(query)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
