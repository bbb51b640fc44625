// Package agent defines the per-agent policy, runtime state, and lifecycle
// model. Policies are owned by administrators; runtime state is owned
// exclusively by the guardian pipeline.
package agent

import (
	"math/big"
	"strings"
	"time"
)

// LifecycleState is the agent's position in the circuit-breaker lifecycle.
type LifecycleState string

const (
	StateActive  LifecycleState = "Active"
	StateFrozen  LifecycleState = "Frozen"
	StateRevoked LifecycleState = "Revoked"
)

// Registration holds the administrative metadata recorded when an agent
// is registered.
type Registration struct {
	AgentID      string    `json:"agent_id"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	Owner        string    `json:"owner"`
	RegisteredAt time.Time `json:"registered_at"`
}

// Policy is the deterministic limit set enforced for one agent.
// A zero MaxTransactionValue or MaxMintAmount means the operation is not
// permitted at all.
type Policy struct {
	MaxTransactionValue      *big.Int `json:"max_transaction_value"`
	MaxDailyVolume           *big.Int `json:"max_daily_volume"`
	MaxMintAmount            *big.Int `json:"max_mint_amount"`
	ApprovedContracts        []string `json:"approved_contracts"`
	BlockedFunctionSelectors []string `json:"blocked_function_selectors"`
	RateLimit                int      `json:"rate_limit"`
	RateLimitWindowSeconds   int      `json:"rate_limit_window_seconds"`
	RequireConsensus         bool     `json:"require_consensus"`
	IsActive                 bool     `json:"is_active"`
}

// IsContractApproved reports whether the address is on the approved list.
// Comparison is case-insensitive on the hex form.
func (p *Policy) IsContractApproved(addr string) bool {
	for _, a := range p.ApprovedContracts {
		if strings.EqualFold(a, addr) {
			return true
		}
	}
	return false
}

// IsSelectorBlocked reports whether the 4-byte selector is blocklisted.
func (p *Policy) IsSelectorBlocked(sel string) bool {
	for _, s := range p.BlockedFunctionSelectors {
		if strings.EqualFold(s, sel) {
			return true
		}
	}
	return false
}

// RuntimeState is the mutable per-agent state the pipeline maintains.
// WindowActionCount and DailyVolume are reset exactly once when their
// window elapses, as a pure function of the stored window start and the
// pipeline's single clock reading.
type RuntimeState struct {
	AgentID           string
	Lifecycle         LifecycleState
	WindowActionCount int
	WindowStart       time.Time
	DailyVolume       *big.Int
	DailyWindowStart  time.Time
	TotalApproved     int64
	TotalDenied       int64
}

// NewRuntimeState returns the initial state for a freshly registered agent.
func NewRuntimeState(agentID string, now time.Time) *RuntimeState {
	return &RuntimeState{
		AgentID:          agentID,
		Lifecycle:        StateActive,
		WindowStart:      now,
		DailyVolume:      big.NewInt(0),
		DailyWindowStart: now,
	}
}

// Clone returns a deep copy. The pipeline mutates a copy and commits it
// atomically rather than editing shared state in place.
func (s *RuntimeState) Clone() *RuntimeState {
	c := *s
	c.DailyVolume = new(big.Int).Set(s.DailyVolume)
	return &c
}
