package service

import (
	"fmt"
	"math/big"
	"time"

	"github.com/sentinelguard/sentinel/internal/domain/agent"
	"github.com/sentinelguard/sentinel/internal/domain/proposal"
)

// Check identifies which policy check a proposal failed.
type Check string

const (
	CheckPolicyInactive      Check = "PolicyInactive"
	CheckTargetNotApproved   Check = "TargetNotApproved"
	CheckFunctionBlocked     Check = "FunctionBlocked"
	CheckValueLimitExceeded  Check = "ValueLimitExceeded"
	CheckDailyVolumeExceeded Check = "DailyVolumeExceeded"
	CheckMintCapExceeded     Check = "MintCapExceeded"
	CheckRateLimitExceeded   Check = "RateLimitExceeded"
)

// Violation is the first failed check of a policy evaluation. A nil
// *Violation means the proposal is policy-compliant.
type Violation struct {
	Check  Check
	Reason string
}

// Validator evaluates proposals against a policy snapshot and tracker
// state. Checks run in a fixed order and the first failure wins, so the
// reported reason is reproducible across replays.
type Validator struct {
	tracker Tracker
}

// NewValidator creates a Validator using the given tracker for window
// arithmetic.
func NewValidator(tracker Tracker) Validator {
	return Validator{tracker: tracker}
}

// Validate runs the six policy checks in order: active, target, function,
// value (transaction then daily volume), mint, rate. All limits are
// inclusive: a value equal to the limit passes. A zero transaction or
// mint limit forbids the operation entirely.
func (v Validator) Validate(p *proposal.ActionProposal, pol *agent.Policy, st *agent.RuntimeState, now time.Time) *Violation {
	if !pol.IsActive {
		return &Violation{
			Check:  CheckPolicyInactive,
			Reason: "agent policy is inactive",
		}
	}

	if impliesCall(p) && !pol.IsContractApproved(p.TargetContract) {
		return &Violation{
			Check:  CheckTargetNotApproved,
			Reason: fmt.Sprintf("target contract %s is not on the approved list", p.TargetContract),
		}
	}

	if pol.IsSelectorBlocked(p.FunctionSelector) {
		return &Violation{
			Check:  CheckFunctionBlocked,
			Reason: fmt.Sprintf("function %s is blocked by policy", p.FunctionSelector),
		}
	}

	if p.Value.Cmp(pol.MaxTransactionValue) > 0 {
		return &Violation{
			Check:  CheckValueLimitExceeded,
			Reason: fmt.Sprintf("transaction value %s exceeds limit %s", p.Value, pol.MaxTransactionValue),
		}
	}

	projected := new(big.Int).Add(v.tracker.DailyVolume(st, now), p.Value)
	if projected.Cmp(pol.MaxDailyVolume) > 0 {
		return &Violation{
			Check:  CheckDailyVolumeExceeded,
			Reason: fmt.Sprintf("daily volume %s would exceed limit %s", projected, pol.MaxDailyVolume),
		}
	}

	if p.MintAmount.Cmp(pol.MaxMintAmount) > 0 {
		return &Violation{
			Check:  CheckMintCapExceeded,
			Reason: fmt.Sprintf("mint amount %s exceeds cap %s", p.MintAmount, pol.MaxMintAmount),
		}
	}

	if v.tracker.ActionCount(st, now, pol.RateLimitWindowSeconds) >= pol.RateLimit {
		return &Violation{
			Check:  CheckRateLimitExceeded,
			Reason: fmt.Sprintf("rate limit of %d actions per %ds exceeded", pol.RateLimit, pol.RateLimitWindowSeconds),
		}
	}

	return nil
}

// impliesCall reports whether the proposal implies an on-chain call that
// must go to an approved target: value transfers, mints, and any calldata.
func impliesCall(p *proposal.ActionProposal) bool {
	return p.Value.Sign() > 0 || p.MintAmount.Sign() > 0 || p.Calldata != ""
}
