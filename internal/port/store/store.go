// Package store defines the port interface for persisting agent policies,
// runtime state, and the incident log. Committed decisions must be durable:
// once a verdict is returned to the caller it survives process restart.
package store

import (
	"context"

	"github.com/sentinelguard/sentinel/internal/domain/agent"
	"github.com/sentinelguard/sentinel/internal/domain/incident"
)

// DecisionCommit is the atomic write produced by one pipeline run:
// the agent's new runtime state plus, for denials, the incident record.
// Either everything in it is persisted or nothing is.
type DecisionCommit struct {
	State    *agent.RuntimeState
	Incident *incident.Incident
}

// AppealCommit is the atomic write produced by one appeal: the incident's
// new appeal status and the agent's resulting lifecycle state.
type AppealCommit struct {
	AgentID    string
	IncidentID string
	Status     incident.AppealStatus
	Lifecycle  agent.LifecycleState
}

// Store is the port interface for agent registry, policy, state, and
// incident persistence.
type Store interface {
	// RegisterAgent creates the registration, its policy, and the initial
	// runtime state in one transaction.
	RegisterAgent(ctx context.Context, reg *agent.Registration, pol *agent.Policy, state *agent.RuntimeState) error

	GetAgent(ctx context.Context, agentID string) (*agent.Registration, error)
	ListAgents(ctx context.Context) ([]agent.Registration, error)

	GetPolicy(ctx context.Context, agentID string) (*agent.Policy, error)
	UpdatePolicy(ctx context.Context, agentID string, pol *agent.Policy) error

	GetState(ctx context.Context, agentID string) (*agent.RuntimeState, error)
	SetLifecycle(ctx context.Context, agentID string, state agent.LifecycleState) error

	// CommitDecision persists the outcome of one pipeline run atomically.
	CommitDecision(ctx context.Context, commit *DecisionCommit) error

	// CommitAppeal persists the outcome of one appeal atomically.
	CommitAppeal(ctx context.Context, commit *AppealCommit) error

	// MarkAppealExpired records a lapsed, unused appeal window. Called
	// lazily when an expired incident is read.
	MarkAppealExpired(ctx context.Context, agentID, incidentID string) error

	GetIncident(ctx context.Context, agentID, incidentID string) (*incident.Incident, error)

	// ListIncidents returns the most recent incidents for the agent,
	// newest first, up to limit.
	ListIncidents(ctx context.Context, agentID string, limit int) ([]incident.Incident, error)
}
