// Package service implements the verdict pipeline: deterministic policy
// validation, multi-judge consensus, severity grading, and the agent
// lifecycle circuit breaker.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sentinelguard/sentinel/internal/config"
	"github.com/sentinelguard/sentinel/internal/domain"
	"github.com/sentinelguard/sentinel/internal/domain/agent"
	"github.com/sentinelguard/sentinel/internal/domain/incident"
	"github.com/sentinelguard/sentinel/internal/domain/proposal"
	"github.com/sentinelguard/sentinel/internal/domain/verdict"
	"github.com/sentinelguard/sentinel/internal/port/cache"
	"github.com/sentinelguard/sentinel/internal/port/eventbus"
	"github.com/sentinelguard/sentinel/internal/port/store"
	"github.com/sentinelguard/sentinel/internal/telemetry"
)

// Event subjects published after a decision is committed.
const (
	SubjectVerdictApproved = "verdicts.approved"
	SubjectVerdictDenied   = "verdicts.denied"
	SubjectIncidentCreated = "incidents.created"
	SubjectIncidentAppeal  = "incidents.appealed"
)

// Broadcaster pushes committed events to live dashboard connections.
type Broadcaster interface {
	Broadcast(event string, payload any)
}

// Guardian is the verdict pipeline. All evaluation for one agent runs
// inside that agent's critical section: state reads, policy checks,
// consensus, and the decision commit are never interleaved with another
// run for the same agent. Different agents evaluate concurrently.
type Guardian struct {
	store     store.Store
	cache     cache.Cache
	bus       eventbus.Publisher
	consensus *Consensus
	validator Validator
	tracker   Tracker
	hub       Broadcaster
	metrics   *telemetry.Metrics
	log       *slog.Logger
	cfg       config.Guardian
	policyTTL time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	now   func() time.Time // for testing
	newID func() string
}

// NewGuardian wires the verdict pipeline.
func NewGuardian(
	st store.Store,
	c cache.Cache,
	bus eventbus.Publisher,
	consensus *Consensus,
	hub Broadcaster,
	metrics *telemetry.Metrics,
	cfg config.Guardian,
	policyTTL time.Duration,
	log *slog.Logger,
) *Guardian {
	tracker := Tracker{DailyWindow: cfg.DailyWindow}
	return &Guardian{
		store:     st,
		cache:     c,
		bus:       bus,
		consensus: consensus,
		validator: NewValidator(tracker),
		tracker:   tracker,
		hub:       hub,
		metrics:   metrics,
		log:       log,
		cfg:       cfg,
		policyTTL: policyTTL,
		locks:     make(map[string]*sync.Mutex),
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// SubmitProposal evaluates one action proposal end to end and returns the
// verdict. Denials freeze the agent and append an incident; the state
// update and incident are committed atomically before the result is
// returned or any event is published.
func (g *Guardian) SubmitProposal(ctx context.Context, raw proposal.Raw) (*verdict.Result, error) {
	p, err := proposal.Parse(raw)
	if err != nil {
		return nil, err
	}

	unlock := g.lockAgent(p.AgentID)
	defer unlock()

	started := g.now()

	st, err := g.store.GetState(ctx, p.AgentID)
	if err != nil {
		return nil, storeErr("load agent state", err)
	}
	if st.Lifecycle != agent.StateActive {
		return nil, fmt.Errorf("%w: agent is %s", domain.ErrAgentNotActive, st.Lifecycle)
	}

	pol, err := g.policy(ctx, p.AgentID)
	if err != nil {
		return nil, storeErr("load agent policy", err)
	}

	now := g.now()

	var agg verdict.Aggregate
	var incType incident.Type

	if reason, dangerous := screenProposal(p); dangerous {
		agg = verdict.Aggregate{Verdict: verdict.Denied, Confidence: 100, Reason: reason}
		incType = incident.TypeAnomalyDetected
	} else if viol := g.validator.Validate(p, pol, st, now); viol != nil {
		agg = verdict.Aggregate{Verdict: verdict.Denied, Confidence: 100, Reason: viol.Reason}
		incType = incident.TypePolicyViolation
		if viol.Check == CheckRateLimitExceeded {
			incType = incident.TypeRateLimit
		}
	} else if pol.RequireConsensus {
		agg = g.consensus.Evaluate(ctx, EvaluationPrompt(p, pol))
		incType = incident.TypeConsensusFailure
	} else {
		agg = verdict.Aggregate{
			Verdict:    verdict.Approved,
			Confidence: 100,
			Reason:     "consensus not required by policy",
		}
	}

	next := st.Clone()
	var inc *incident.Incident

	if agg.Verdict == verdict.Approved {
		g.tracker.Advance(next, p, now, pol.RateLimitWindowSeconds)
		next.TotalApproved++
	} else {
		severity := g.classify(p, pol, incType)
		inc = g.buildIncident(p, incType, severity, agg.Reason, now)
		next.Lifecycle = agent.StateFrozen
		next.TotalDenied++
	}

	// Nothing is committed for a caller that has already gone away.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := g.store.CommitDecision(ctx, &store.DecisionCommit{State: next, Incident: inc}); err != nil {
		return nil, storeErr("commit decision", err)
	}

	res := &verdict.Result{
		AgentID:    p.AgentID,
		Consensus:  agg.Verdict,
		Confidence: agg.Confidence,
		Reason:     agg.Reason,
		Judges:     agg.Judges,
		Incident:   inc,
		Timestamp:  now,
	}

	g.metrics.RecordDecision(ctx, agg.Verdict, g.now().Sub(started))
	g.publishDecision(ctx, res, inc)
	return res, nil
}

// publishDecision emits the committed decision to the event bus and the
// live feed. Delivery failures are logged and otherwise ignored; the
// decision itself is already durable.
func (g *Guardian) publishDecision(ctx context.Context, res *verdict.Result, inc *incident.Incident) {
	subject := SubjectVerdictApproved
	event := "verdict.approved"
	if !res.Approved() {
		subject = SubjectVerdictDenied
		event = "verdict.denied"
	}

	if data, err := json.Marshal(res); err == nil {
		if err := g.bus.Publish(ctx, subject, data); err != nil {
			g.log.Warn("verdict publish failed", "subject", subject, "error", err)
		}
	}
	if g.hub != nil {
		g.hub.Broadcast(event, res)
	}

	if inc == nil {
		return
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
}

// buildIncident assembles the denial record, including the proposal
// snapshot an appeal needs.
func (g *Guardian) buildIncident(p *proposal.ActionProposal, t incident.Type, sev incident.Severity, reason string, now time.Time) *incident.Incident {
	inc := &incident.Incident{
		ID:               g.newID(),
		AgentID:          p.AgentID,
		Timestamp:        now,
		Type:             t,
		Reason:           reason,
		TargetContract:   p.TargetContract,
		FunctionSelector: p.FunctionSelector,
		AttemptedValue:   p.Value,
		AttemptedMint:    p.MintAmount,
		Description:      p.Description,
		Severity:         sev,
		AppealStatus:     incident.AppealNone,
	}
	switch sev {
	case incident.SeverityMedium:
		exp := now.Add(g.cfg.MediumAppealWindow)
		inc.AppealWindowExpiry = &exp
	case incident.SeverityLow:
		exp := now.Add(g.cfg.LowAppealWindow)
		inc.AppealWindowExpiry = &exp
	}
	return inc
}

// classify grades a denial. Value and mint overages scale with how far
// past the limit the attempt went; anomalies are always critical.
func (g *Guardian) classify(p *proposal.ActionProposal, pol *agent.Policy, t incident.Type) incident.Severity {
	if t == incident.TypeAnomalyDetected {
		return incident.SeverityCritical
	}

	if p.Value.Sign() > 0 {
		if pol.MaxTransactionValue.Sign() == 0 {
			return incident.SeverityCritical
		}
		if p.Value.Cmp(scaled(pol.MaxTransactionValue, g.cfg.CriticalValueMultiplier)) >= 0 {
			return incident.SeverityCritical
		}
		if p.Value.Cmp(pol.MaxTransactionValue) > 0 &&
			p.Value.Cmp(scaled(pol.MaxTransactionValue, g.cfg.MediumValueMultiplier)) >= 0 {
			return incident.SeverityMedium
		}
	}

	if p.MintAmount.Sign() > 0 {
		if pol.MaxMintAmount.Sign() == 0 {
			return incident.SeverityCritical
		}
		if p.MintAmount.Cmp(scaled(pol.MaxMintAmount, g.cfg.CriticalMintMultiplier)) >= 0 {
			return incident.SeverityCritical
		}
	}

	return incident.SeverityLow
}

// policy loads the agent's policy through the cache.
func (g *Guardian) policy(ctx context.Context, agentID string) (*agent.Policy, error) {
	key := policyKey(agentID)
	if data, ok, err := g.cache.Get(ctx, key); err == nil && ok {
		var pol agent.Policy
		if err := json.Unmarshal(data, &pol); err == nil {
			return &pol, nil
		}
	}

	pol, err := g.store.GetPolicy(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(pol); err == nil {
		_ = g.cache.Set(ctx, key, data, g.policyTTL)
	}
	return pol, nil
}

// lockAgent acquires the agent's critical section and returns the unlock.
func (g *Guardian) lockAgent(agentID string) func() {
	g.mu.Lock()
	l, ok := g.locks[agentID]
	if !ok {
		l = &sync.Mutex{}
		g.locks[agentID] = l
	}
	g.mu.Unlock()

	l.Lock()
	return l.Unlock
}

func policyKey(agentID string) string {
	return "policy:" + agentID
}

func scaled(limit *big.Int, mult int64) *big.Int {
	return new(big.Int).Mul(limit, big.NewInt(mult))
}

// storeErr wraps persistence failures so callers can distinguish an
// unavailable store from a domain denial. Not-found passes through.
func storeErr(op string, err error) error {
	if errors.Is(err, domain.ErrNotFound) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", domain.ErrStoreUnavailable, op, err)
}

func incidentPayload(inc *incident.Incident) map[string]any {
	payload := map[string]any{
		"id":                inc.ID,
		"agent_id":          inc.AgentID,
		"timestamp":         inc.Timestamp,
		"type":              inc.Type,
		"reason":            inc.Reason,
		"target_contract":   inc.TargetContract,
		"function_selector": inc.FunctionSelector,
		"attempted_value":   inc.AttemptedValue.String(),
		"attempted_mint":    inc.AttemptedMint.String(),
		"severity":          inc.Severity,
		"appeal_status":     inc.AppealStatus,
	}
	if inc.AppealWindowExpiry != nil {
		payload["appeal_window_expiry"] = *inc.AppealWindowExpiry
	}
	return payload
}
