package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sentinelguard/sentinel/internal/domain"
	"github.com/sentinelguard/sentinel/internal/domain/agent"
	"github.com/sentinelguard/sentinel/internal/domain/incident"
	"github.com/sentinelguard/sentinel/internal/domain/verdict"
	"github.com/sentinelguard/sentinel/internal/port/store"
)

// AppealIncident runs the one-shot lenient re-evaluation of a denied
// action. Value and mint limits are relaxed by the configured leniency
// factor; the dangerous-pattern screen and zero limits are not relaxed.
// An overturned appeal unfreezes the agent; an upheld appeal leaves it
// frozen. Either way the incident's appeal is consumed.
func (g *Guardian) AppealIncident(ctx context.Context, agentID, incidentID string) (*verdict.AppealResult, error) {
	unlock := g.lockAgent(agentID)
	defer unlock()

	now := g.now()

	inc, err := g.store.GetIncident(ctx, agentID, incidentID)
	if err != nil {
		return nil, storeErr("load incident", err)
	}
	if inc.WindowExpired(now) {
		if err := g.store.MarkAppealExpired(ctx, agentID, incidentID); err != nil {
			return nil, storeErr("expire appeal", err)
		}
		return nil, fmt.Errorf("%w: appeal window has expired", domain.ErrAppealNotEligible)
	}
	if !inc.Appealable(now) {
		return nil, fmt.Errorf("%w: incident is not appealable (severity %s, appeal status %s)",
			domain.ErrAppealNotEligible, inc.Severity, inc.AppealStatus)
	}

	st, err := g.store.GetState(ctx, agentID)
	if err != nil {
		return nil, storeErr("load agent state", err)
	}
	if st.Lifecycle == agent.StateRevoked {
		return nil, fmt.Errorf("%w: agent is revoked", domain.ErrAgentNotActive)
	}

	pol, err := g.policy(ctx, agentID)
	if err != nil {
		return nil, storeErr("load agent policy", err)
	}

	agg := g.reevaluate(ctx, inc, pol)

	status := incident.AppealUpheld
	lifecycle := st.Lifecycle
	if agg.Verdict == verdict.Approved {
		status = incident.AppealOverturned
		lifecycle = agent.StateActive
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := g.store.CommitAppeal(ctx, &store.AppealCommit{
		AgentID:    agentID,
		IncidentID: incidentID,
		Status:     status,
		Lifecycle:  lifecycle,
	}); err != nil {
		return nil, storeErr("commit appeal", err)
	}

	res := &verdict.AppealResult{
		IncidentID: incidentID,
		Status:     status,
		Verdict:    agg.Verdict,
		Confidence: agg.Confidence,
		Reason:     agg.Reason,
	}

	g.metrics.RecordAppeal(ctx, string(status))
	if data, err := json.Marshal(res); err == nil {
		if err := g.bus.Publish(ctx, SubjectIncidentAppeal, data); err != nil {
			g.log.Warn("appeal publish failed", "error", err)
		}
	}
	if g.hub != nil {
		g.hub.Broadcast("incident.appealed", res)
	}
	return res, nil
}

// reevaluate produces the appeal verdict: the screen and the relaxed
// deterministic limits run first, then the judges if the policy requires
// consensus.
func (g *Guardian) reevaluate(ctx context.Context, inc *incident.Incident, pol *agent.Policy) verdict.Aggregate {
	if reason, dangerous := screenIncident(inc); dangerous {
		return verdict.Aggregate{Verdict: verdict.Denied, Confidence: 100, Reason: reason}
	}
	if reason, ok := g.lenientCheck(inc, pol); !ok {
		return verdict.Aggregate{Verdict: verdict.Denied, Confidence: 100, Reason: reason}
	}
	if !pol.RequireConsensus {
		return verdict.Aggregate{
			Verdict:    verdict.Approved,
			Confidence: 100,
			Reason:     "action within relaxed limits; consensus not required by policy",
		}
	}
	return g.consensus.Evaluate(ctx, AppealPrompt(inc, pol, g.cfg.AppealLeniency))
}

// lenientCheck re-applies the value and mint limits at leniency times
// their configured amounts. A zero limit still forbids the operation.
func (g *Guardian) lenientCheck(inc *incident.Incident, pol *agent.Policy) (string, bool) {
	if inc.AttemptedValue.Sign() > 0 {
		if pol.MaxTransactionValue.Sign() == 0 {
			return "value transfers are not permitted for this agent", false
		}
		relaxed := scaled(pol.MaxTransactionValue, g.cfg.AppealLeniency)
		if inc.AttemptedValue.Cmp(relaxed) > 0 {
			return fmt.Sprintf("value %s exceeds even the relaxed limit %s", inc.AttemptedValue, relaxed), false
		}
	}
	if inc.AttemptedMint.Sign() > 0 {
		if pol.MaxMintAmount.Sign() == 0 {
			return "minting is not permitted for this agent", false
		}
		relaxed := scaled(pol.MaxMintAmount, g.cfg.AppealLeniency)
		if inc.AttemptedMint.Cmp(relaxed) > 0 {
			return fmt.Sprintf("mint amount %s exceeds even the relaxed cap %s", inc.AttemptedMint, relaxed), false
		}
	}
	return "", true
}
