package research

import (
	"encoding/json"
	"sort"
	"time"

	"studynerd/internal/logging"
)

// Artifact is an opaque, agent-produced byproduct emitted mid-session,
// tagged with the round and producing agent. The payload is kept as an
// uninterpreted serialized blob; only the renderer decodes it.
type Artifact struct {
	ID           string    `json:"id"`
	RoundNo      int       `json:"round_no"`
	Agent        string    `json:"agent"`
	ArtifactType string    `json:"artifact_type"`
	PayloadJSON  string    `json:"payload_json,omitempty"`
	Size         int       `json:"size"`
	CreatedAt    time.Time `json:"created_at"`
}

// MergeArtifacts folds a batch into the round's collection, deduplicating
// by id (newer entry for the same id wins) and keeping the result sorted
// by ascending id. Merging the same batch twice is a no-op.
func (r *Reducer) MergeArtifacts(roundNo int, items []Artifact) {
	if len(items) == 0 {
		return
	}
	byID := make(map[string]Artifact, len(r.artifacts[roundNo])+len(items))
	for _, a := range r.artifacts[roundNo] {
		byID[a.ID] = a
	}
	for _, a := range items {
		a.RoundNo = roundNo
		byID[a.ID] = a
	}
	merged := make([]Artifact, 0, len(byID))
	for _, a := range byID {
		merged = append(merged, a)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].ID < merged[j].ID })
	r.artifacts[roundNo] = merged
}

// applyArtifactCreated synthesizes one Artifact from an artifact_created
// event. The embedded record is parsed defensively: a malformed payload is
// dropped without raising, absent size defaults to 0 and absent
// agent/artifact_type to "unknown".
func (r *Reducer) applyArtifactCreated(evt Event) {
	if len(evt.Artifact) == 0 {
		return
	}
	var rec struct {
		ID           string          `json:"id"`
		Agent        string          `json:"agent"`
		ArtifactType string          `json:"artifact_type"`
		PayloadJSON  json.RawMessage `json:"payload_json"`
		Size         int             `json:"size"`
	}
	if err := json.Unmarshal(evt.Artifact, &rec); err != nil {
		logging.ResearchDebug("Dropping malformed artifact payload: %v", err)
		return
	}
	if rec.Agent == "" {
		rec.Agent = "unknown"
	}
	if rec.ArtifactType == "" {
		rec.ArtifactType = "unknown"
	}
	a := Artifact{
		ID:           rec.ID,
		RoundNo:      evt.Round,
		Agent:        rec.Agent,
		ArtifactType: rec.ArtifactType,
		Size:         rec.Size,
		CreatedAt:    time.Now(),
	}
	if s, ok := rawField(rec.PayloadJSON); ok {
		a.PayloadJSON = s
	}
	r.MergeArtifacts(evt.Round, []Artifact{a})
}
