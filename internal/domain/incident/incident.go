// Package incident defines the append-only denial record and its appeal
// lifecycle.
package incident

import (
	"math/big"
	"time"
)

// Type classifies what triggered the incident.
type Type string

const (
	TypePolicyViolation  Type = "PolicyViolation"
	TypeConsensusFailure Type = "ConsensusFailure"
	TypeRateLimit        Type = "RateLimit"
	TypeAnomalyDetected  Type = "AnomalyDetected"
	TypeManualFreeze     Type = "ManualFreeze"
)

// Severity grades an incident. CRITICAL incidents carry no appeal window.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityCritical Severity = "CRITICAL"
)

// AppealStatus tracks the one-shot appeal lifecycle of an incident.
type AppealStatus string

const (
	AppealNone       AppealStatus = "None"
	AppealPending    AppealStatus = "Pending"
	AppealUpheld     AppealStatus = "Upheld"
	AppealOverturned AppealStatus = "Overturned"
	AppealExpired    AppealStatus = "Expired"
)

// Incident is the immutable record of a denial. The proposal snapshot
// (selector, amounts, description) is carried so an appeal can re-evaluate
// the original action without the proposal being resubmitted.
type Incident struct {
	ID                 string
	AgentID            string
	Timestamp          time.Time
	Type               Type
	Reason             string
	TargetContract     string
	FunctionSelector   string
	AttemptedValue     *big.Int
	AttemptedMint      *big.Int
	Description        string
	Severity           Severity
	AppealWindowExpiry *time.Time
	AppealStatus       AppealStatus
}

// Appealable reports whether this incident can still enter an appeal at
// the given instant. It does not consult agent lifecycle; the guardian
// checks that separately under the agent's lock.
func (i *Incident) Appealable(now time.Time) bool {
	if i.Severity == SeverityCritical {
		return false
	}
	if i.AppealStatus != AppealNone {
		return false
	}
	if i.AppealWindowExpiry == nil {
		return false
	}
	return now.Before(*i.AppealWindowExpiry)
}

// WindowExpired reports whether an unused appeal window has lapsed.
func (i *Incident) WindowExpired(now time.Time) bool {
	return i.AppealStatus == AppealNone &&
		i.AppealWindowExpiry != nil &&
		!now.Before(*i.AppealWindowExpiry)
}
