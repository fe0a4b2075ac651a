package research

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgressStaysInUnitInterval(t *testing.T) {
	r := NewReducer()
	r.Dispatch(Event{Type: EventSubAgentStarted, SubID: 1, Query: "q"})

	// Push well past the assumed step budget.
	for i := 0; i < defaultMaxSteps*3; i++ {
		r.Dispatch(Event{Type: EventSubAgentThought, SubID: 1, DisplayText: fmt.Sprintf("t%d", i)})
		p := r.SubAgents()[1].Progress
		assert.GreaterOrEqual(t, p, float64(0))
		assert.LessOrEqual(t, p, float64(1))
	}
	assert.Equal(t, float64(1), r.SubAgents()[1].Progress)
}

func TestCompletionForcesProgressOne(t *testing.T) {
	r := NewReducer()
	r.Dispatch(Event{Type: EventSubAgentStarted, SubID: 2, Query: "q"})
	r.Dispatch(Event{Type: EventSubAgentThought, SubID: 2, DisplayText: "t"})
	require.Less(t, r.SubAgents()[2].Progress, float64(1))

	r.Dispatch(Event{Type: EventSubAgentCompleted, SubID: 2, SummaryMD: "s"})

	sa := r.SubAgents()[2]
	assert.Equal(t, SubAgentCompleted, sa.Status)
	assert.Equal(t, float64(1), sa.Progress)
	assert.Equal(t, completedActivity, sa.LastActivity)
}

func TestToolResultExtendsTrailWithoutAdvancing(t *testing.T) {
	r := NewReducer()
	r.Dispatch(Event{Type: EventSubAgentToolResult, SubID: 3, Tool: "web_search"})

	sa := r.SubAgents()[3]
	require.Len(t, sa.Steps, 1)
	assert.Equal(t, StepToolResult, sa.Steps[0].Kind)
	assert.Equal(t, float64(0), sa.Progress)
}

func TestLazyCreationOnMissedStart(t *testing.T) {
	r := NewReducer()
	// Terminal report arrives for an id never started.
	r.Dispatch(Event{Type: EventSubAgentCompleted, SubID: 9, SummaryMD: "late"})

	sa := r.SubAgents()[9]
	require.NotNil(t, sa)
	assert.Equal(t, SubAgentCompleted, sa.Status)
	assert.Equal(t, "late", sa.SummaryMD)
}

func TestRestartReplacesTrail(t *testing.T) {
	r := NewReducer()
	r.Dispatch(Event{Type: EventSubAgentStarted, SubID: 1, Query: "first"})
	r.Dispatch(Event{Type: EventSubAgentThought, SubID: 1, DisplayText: "t"})
	r.Dispatch(Event{Type: EventSubAgentStarted, SubID: 1, Query: "second"})

	sa := r.SubAgents()[1]
	assert.Equal(t, "second", sa.Query)
	assert.Empty(t, sa.Steps)
	assert.Equal(t, SubAgentRunning, sa.Status)
}

func TestFailureAppendsErrorStep(t *testing.T) {
	r := NewReducer()
	r.Dispatch(Event{Type: EventSubAgentStarted, SubID: 4, Query: "q"})
	r.Dispatch(Event{Type: EventSubAgentThought, SubID: 4, DisplayText: "t"})
	r.Dispatch(Event{Type: EventSubAgentFailed, SubID: 4, Error: "rate limited"})

	sa := r.SubAgents()[4]
	assert.Equal(t, SubAgentFailed, sa.Status)
	require.Len(t, sa.Steps, 2)
	assert.Equal(t, StepError, sa.Steps[1].Kind)
	assert.Equal(t, "rate limited", sa.Steps[1].Text)
	assert.Equal(t, "rate limited", sa.LastActivity)
}

func TestSessionFailedPreservesCompleted(t *testing.T) {
	r := NewReducer()
	r.Dispatch(Event{Type: EventSubAgentStarted, SubID: 1, Query: "a"})
	r.Dispatch(Event{Type: EventSubAgentStarted, SubID: 2, Query: "b"})
	r.Dispatch(Event{Type: EventSubAgentCompleted, SubID: 2, SummaryMD: "done"})
	r.subAgents[3] = &SubAgentView{SubID: 3, Status: SubAgentPending}

	r.Dispatch(Event{Type: EventSessionFailed, Message: "boom"})

	assert.Equal(t, SubAgentFailed, r.SubAgents()[1].Status)
	assert.Equal(t, SubAgentCompleted, r.SubAgents()[2].Status)
	assert.Equal(t, SubAgentFailed, r.SubAgents()[3].Status)
}

func TestSessionCancelledFailsRunningOnly(t *testing.T) {
	r := NewReducer()
	r.Dispatch(Event{Type: EventSubAgentStarted, SubID: 1, Query: "a"})
	r.Dispatch(Event{Type: EventSubAgentCompleted, SubID: 1, SummaryMD: "done"})
	r.Dispatch(Event{Type: EventSubAgentStarted, SubID: 2, Query: "b"})
	r.subAgents[3] = &SubAgentView{SubID: 3, Status: SubAgentPending}

	r.Dispatch(Event{Type: EventSessionCancelled})

	assert.Equal(t, SubAgentCompleted, r.SubAgents()[1].Status)
	assert.Equal(t, SubAgentFailed, r.SubAgents()[2].Status)
	assert.Equal(t, SubAgentPending, r.SubAgents()[3].Status)
}

func TestNewRoundClearsSubAgents(t *testing.T) {
	r := NewReducer()
	r.Dispatch(Event{Type: EventRoundStarted, Round: 1})
	r.Dispatch(Event{Type: EventSubAgentStarted, SubID: 1, Query: "a"})
	r.Dispatch(Event{Type: EventRoundStarted, Round: 2})

	assert.Empty(t, r.SubAgents())
	assert.Equal(t, 2, r.Round())
}

func TestSynthesisFallbackAppendsMissingSection(t *testing.T) {
	r := NewReducer()
	r.Dispatch(Event{Type: EventRoundStarted, Round: 1})
	r.Dispatch(Event{Type: EventSynthesisUpdated, Round: 1, Synthesis: "intro"})
	r.Dispatch(Event{Type: EventSubAgentStarted, SubID: 1, Query: "battery tech"})
	r.Dispatch(Event{Type: EventSubAgentCompleted, SubID: 1, SummaryMD: "findings here"})

	syn := r.Synthesis()
	assert.Contains(t, syn, "## battery tech")
	assert.Contains(t, syn, "findings here")
	assert.True(t, strings.HasPrefix(syn, "intro"))

	rv, _ := r.RoundView(1)
	assert.Equal(t, syn, rv.SummaryMD)
}

func TestSynthesisFallbackSkipsPresentSection(t *testing.T) {
	r := NewReducer()
	r.Dispatch(Event{Type: EventRoundStarted, Round: 1})
	r.Dispatch(Event{Type: EventSynthesisUpdated, Round: 1, Synthesis: "## battery tech\n\nalready covered"})
	r.Dispatch(Event{Type: EventSubAgentStarted, SubID: 1, Query: "battery tech"})
	r.Dispatch(Event{Type: EventSubAgentCompleted, SubID: 1, SummaryMD: "duplicate findings"})

	assert.Equal(t, 1, strings.Count(r.Synthesis(), "## battery tech"))
	assert.NotContains(t, r.Synthesis(), "duplicate findings")
}

func TestCompletionStoresTerminalReport(t *testing.T) {
	r := NewReducer()
	r.Dispatch(Event{Type: EventSubAgentStarted, SubID: 5, Query: "q"})
	r.Dispatch(Event{
		Type:          EventSubAgentCompleted,
		SubID:         5,
		SummaryMD:     "summary",
		Citations:     json.RawMessage(`[{"url":"u"}]`),
		KeyFindings:   []string{"f1", "f2"},
		Confidence:    0.8,
		Uncertainties: []string{"u1"},
	})

	sa := r.SubAgents()[5]
	assert.Equal(t, "summary", sa.SummaryMD)
	assert.Equal(t, `[{"url":"u"}]`, sa.CitationsJSON)
	assert.Equal(t, []string{"f1", "f2"}, sa.KeyFindings)
	assert.Equal(t, 0.8, sa.Confidence)
	assert.Equal(t, []string{"u1"}, sa.Uncertainties)
}

func TestSubAgentProgressQuery(t *testing.T) {
	r := NewReducer()

	assert.Equal(t, float64(0), r.SubAgentProgress(99, 8))

	// Trail of tool results only: stored estimate is 0, step-count
	// fallback applies.
	r.Dispatch(Event{Type: EventSubAgentToolResult, SubID: 1, Tool: "t"})
	r.Dispatch(Event{Type: EventSubAgentToolResult, SubID: 1, Tool: "t"})
	r.Dispatch(Event{Type: EventSubAgentToolResult, SubID: 1, Tool: "t"})
	assert.Equal(t, 0.75, r.SubAgentProgress(1, 4))

	// Stored estimate wins once thoughts advance it.
	r.Dispatch(Event{Type: EventSubAgentThought, SubID: 1, DisplayText: "t"})
	stored := r.SubAgents()[1].Progress
	assert.Equal(t, stored, r.SubAgentProgress(1, 1000))

	// Degenerate budget is clamped, never divides by zero.
	r.Dispatch(Event{Type: EventSubAgentToolResult, SubID: 2, Tool: "t"})
	assert.Equal(t, float64(1), r.SubAgentProgress(2, 0))
}
