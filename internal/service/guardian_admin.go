package service

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/sentinelguard/sentinel/internal/domain"
	"github.com/sentinelguard/sentinel/internal/domain/agent"
	"github.com/sentinelguard/sentinel/internal/domain/incident"
	"github.com/sentinelguard/sentinel/internal/domain/proposal"
	"github.com/sentinelguard/sentinel/internal/port/store"
)

// RegisterAgent creates an agent with its policy and initial runtime
// state. The agent starts Active with empty counters.
func (g *Guardian) RegisterAgent(ctx context.Context, reg *agent.Registration, pol *agent.Policy) error {
	if !proposal.ValidAgentID(reg.AgentID) {
		return fmt.Errorf("%w: agent_id must be a 0x-prefixed 32-byte hex string", domain.ErrValidation)
	}
	if reg.Name == "" {
		return fmt.Errorf("%w: name is required", domain.ErrValidation)
	}
	if err := validatePolicy(pol); err != nil {
		return err
	}

	unlock := g.lockAgent(reg.AgentID)
	defer unlock()

	now := g.now()
	reg.RegisteredAt = now
	state := agent.NewRuntimeState(reg.AgentID, now)

	if err := g.store.RegisterAgent(ctx, reg, pol, state); err != nil {
		return storeErr("register agent", err)
	}
	g.log.Info("agent registered", "agent_id", reg.AgentID, "name", reg.Name)
	return nil
}

// UpdatePolicy replaces the agent's policy and invalidates the cached
// copy. In-flight pipeline runs keep the snapshot they loaded.
func (g *Guardian) UpdatePolicy(ctx context.Context, agentID string, pol *agent.Policy) error {
	if err := validatePolicy(pol); err != nil {
		return err
	}

	unlock := g.lockAgent(agentID)
	defer unlock()

	if err := g.store.UpdatePolicy(ctx, agentID, pol); err != nil {
		return storeErr("update policy", err)
	}
	if err := g.cache.Delete(ctx, policyKey(agentID)); err != nil {
		g.log.Warn("policy cache invalidation failed", "agent_id", agentID, "error", err)
	}
	g.log.Info("policy updated", "agent_id", agentID)
	return nil
}

// Freeze manually freezes an agent and records a ManualFreeze incident.
// Manual freezes carry no appeal window; only Unfreeze reverses them.
func (g *Guardian) Freeze(ctx context.Context, agentID, reason string) error {
	unlock := g.lockAgent(agentID)
	defer unlock()

	st, err := g.store.GetState(ctx, agentID)
	if err != nil {
		return storeErr("load agent state", err)
	}
	if st.Lifecycle == agent.StateRevoked {
		return fmt.Errorf("%w: agent is revoked", domain.ErrAgentNotActive)
	}

	now := g.now()
	inc := &incident.Incident{
		ID:             g.newID(),
		AgentID:        agentID,
		Timestamp:      now,
		Type:           incident.TypeManualFreeze,
		Reason:         reason,
		AttemptedValue: big.NewInt(0),
		AttemptedMint:  big.NewInt(0),
		Severity:       incident.SeverityMedium,
		AppealStatus:   incident.AppealNone,
	}

	next := st.Clone()
	next.Lifecycle = agent.StateFrozen

	if err := g.store.CommitDecision(ctx, &store.DecisionCommit{State: next, Incident: inc}); err != nil {
		return storeErr("commit manual freeze", err)
	}

	g.metrics.RecordIncident(ctx, string(inc.Type), string(inc.Severity))
	if data, err := json.Marshal(incidentPayload(inc)); err == nil {
		if err := g.bus.Publish(ctx, SubjectIncidentCreated, data); err != nil {
			g.log.Warn("incident publish failed", "error", err)
		}
	}
	if g.hub != nil {
		g.hub.Broadcast("incident.created", incidentPayload(inc))
	}
	g.log.Info("agent frozen", "agent_id", agentID, "reason", reason)
	return nil
}

// Unfreeze returns a frozen agent to Active. Revoked agents stay revoked.
func (g *Guardian) Unfreeze(ctx context.Context, agentID string) error {
	unlock := g.lockAgent(agentID)
	defer unlock()

	st, err := g.store.GetState(ctx, agentID)
	if err != nil {
		return storeErr("load agent state", err)
	}
	switch st.Lifecycle {
	case agent.StateActive:
		return nil
	case agent.StateRevoked:
		return fmt.Errorf("%w: agent is revoked", domain.ErrAgentNotActive)
	}

	if err := g.store.SetLifecycle(ctx, agentID, agent.StateActive); err != nil {
		return storeErr("set lifecycle", err)
	}
	g.log.Info("agent unfrozen", "agent_id", agentID)
	return nil
}

// Revoke permanently retires an agent. Revocation is terminal.
func (g *Guardian) Revoke(ctx context.Context, agentID string) error {
	unlock := g.lockAgent(agentID)
	defer unlock()

	st, err := g.store.GetState(ctx, agentID)
	if err != nil {
		return storeErr("load agent state", err)
	}
	if st.Lifecycle == agent.StateRevoked {
		return nil
	}

	if err := g.store.SetLifecycle(ctx, agentID, agent.StateRevoked); err != nil {
		return storeErr("set lifecycle", err)
	}
	g.log.Info("agent revoked", "agent_id", agentID)
	return nil
}

// Agent returns the agent's registration.
func (g *Guardian) Agent(ctx context.Context, agentID string) (*agent.Registration, error) {
	reg, err := g.store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, storeErr("load agent", err)
	}
	return reg, nil
}

// Agents lists all registered agents.
func (g *Guardian) Agents(ctx context.Context) ([]agent.Registration, error) {
	regs, err := g.store.ListAgents(ctx)
	if err != nil {
		return nil, storeErr("list agents", err)
	}
	return regs, nil
}

// Policy returns the agent's current policy, bypassing the cache so
// administrators always read the stored value.
func (g *Guardian) Policy(ctx context.Context, agentID string) (*agent.Policy, error) {
	pol, err := g.store.GetPolicy(ctx, agentID)
	if err != nil {
		return nil, storeErr("load policy", err)
	}
	return pol, nil
}

// State returns the agent's runtime state.
func (g *Guardian) State(ctx context.Context, agentID string) (*agent.RuntimeState, error) {
	st, err := g.store.GetState(ctx, agentID)
	if err != nil {
		return nil, storeErr("load agent state", err)
	}
	return st, nil
}

// Incidents lists the agent's most recent incidents. Unused appeal
// windows that have lapsed are marked Expired on the way out.
func (g *Guardian) Incidents(ctx context.Context, agentID string, limit int) ([]incident.Incident, error) {
	incs, err := g.store.ListIncidents(ctx, agentID, limit)
	if err != nil {
		return nil, storeErr("list incidents", err)
	}
	now := g.now()
	for i := range incs {
		if incs[i].WindowExpired(now) {
			if err := g.store.MarkAppealExpired(ctx, agentID, incs[i].ID); err != nil {
				g.log.Warn("appeal expiry mark failed", "incident_id", incs[i].ID, "error", err)
				continue
			}
			incs[i].AppealStatus = incident.AppealExpired
		}
	}
	return incs, nil
}

// validatePolicy rejects policies with missing or negative limits.
func validatePolicy(pol *agent.Policy) error {
	if pol.MaxTransactionValue == nil || pol.MaxTransactionValue.Sign() < 0 {
		return fmt.Errorf("%w: max_transaction_value must be a non-negative integer", domain.ErrValidation)
	}
	if pol.MaxDailyVolume == nil || pol.MaxDailyVolume.Sign() < 0 {
		return fmt.Errorf("%w: max_daily_volume must be a non-negative integer", domain.ErrValidation)
	}
	if pol.MaxMintAmount == nil || pol.MaxMintAmount.Sign() < 0 {
		return fmt.Errorf("%w: max_mint_amount must be a non-negative integer", domain.ErrValidation)
	}
	if pol.RateLimit < 1 {
		return fmt.Errorf("%w: rate_limit must be at least 1", domain.ErrValidation)
	}
	if pol.RateLimitWindowSeconds < 1 {
		return fmt.Errorf("%w: rate_limit_window_seconds must be at least 1", domain.ErrValidation)
	}
	return nil
}
