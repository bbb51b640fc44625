// Package verdict defines judge verdicts and the aggregated results the
// pipeline returns to callers.
package verdict

import (
	"time"

	"github.com/sentinelguard/sentinel/internal/domain/incident"
)

// Verdict values used by judges and the aggregated consensus.
const (
	Approved = "APPROVED"
	Denied   = "DENIED"
)

// JudgeVerdict is one judge's opinion on a proposal.
type JudgeVerdict struct {
	Judge      string `json:"judge,omitempty"`
	Verdict    string `json:"verdict"`
	Confidence int    `json:"confidence"`
	Reason     string `json:"reason"`
}

// Aggregate is the merged outcome of a multi-judge consensus round:
// APPROVED iff every judge approved, confidence is the minimum across
// judges.
type Aggregate struct {
	Verdict    string         `json:"verdict"`
	Confidence int            `json:"confidence"`
	Reason     string         `json:"reason"`
	Judges     []JudgeVerdict `json:"judges"`
}

// Result is the pipeline's answer for one proposal. It is transient;
// only the incident (for denials) is persisted.
type Result struct {
	AgentID    string             `json:"agent_id"`
	Consensus  string             `json:"consensus"`
	Confidence int                `json:"confidence"`
	Reason     string             `json:"reason"`
	Judges     []JudgeVerdict     `json:"judges,omitempty"`
	Incident   *incident.Incident `json:"-"`
	Timestamp  time.Time          `json:"timestamp"`
}

// Approved reports whether both layers passed.
func (r *Result) Approved() bool {
	return r.Consensus == Approved
}

// AppealResult is the outcome of a one-shot incident appeal.
type AppealResult struct {
	IncidentID string                `json:"incident_id"`
	Status     incident.AppealStatus `json:"status"`
	Verdict    string                `json:"verdict"`
	Confidence int                   `json:"confidence"`
	Reason     string                `json:"reason"`
}
