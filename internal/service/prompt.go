package service

import (
	"fmt"
	"strings"

	"github.com/sentinelguard/sentinel/internal/domain/agent"
	"github.com/sentinelguard/sentinel/internal/domain/incident"
	"github.com/sentinelguard/sentinel/internal/domain/proposal"
)

// EvaluationPrompt renders the prompt sent to every judge for a proposal.
// Judges see the same policy context the deterministic validator used, so
// their reasoning can cite concrete limits rather than guessing intent.
func EvaluationPrompt(p *proposal.ActionProposal, pol *agent.Policy) string {
	var b strings.Builder

	b.WriteString("You are a security judge reviewing an autonomous agent's proposed on-chain action.\n")
	b.WriteString("Respond ONLY with a JSON object: {\"verdict\": \"APPROVED\" or \"DENIED\", \"confidence\": 0-100, \"reason\": \"...\"}.\n\n")

	b.WriteString("Proposed action:\n")
	fmt.Fprintf(&b, "- agent: %s\n", p.AgentID)
	fmt.Fprintf(&b, "- target contract: %s\n", p.TargetContract)
	fmt.Fprintf(&b, "- function selector: %s\n", p.FunctionSelector)
	fmt.Fprintf(&b, "- value (wei): %s\n", p.Value)
	fmt.Fprintf(&b, "- mint amount: %s\n", p.MintAmount)
	if p.Calldata != "" {
		fmt.Fprintf(&b, "- calldata: %s\n", p.Calldata)
	}
	fmt.Fprintf(&b, "- stated purpose: %s\n\n", p.Description)

	writePolicyContext(&b, pol)

	b.WriteString("\nDeny the action if it could drain funds, upgrade or replace contract code, ")
	b.WriteString("transfer ownership, manipulate prices, or otherwise harm the protocol. ")
	b.WriteString("Deny if the stated purpose does not match the technical details. ")
	b.WriteString("Approve only if the action is clearly safe and consistent with the policy.")

	return b.String()
}

// AppealPrompt renders the lenient re-evaluation prompt for an appealed
// incident. Effective limits are doubled, but judges are still instructed
// to deny dangerous patterns outright.
func AppealPrompt(inc *incident.Incident, pol *agent.Policy, leniency int64) string {
	var b strings.Builder

	b.WriteString("You are a security judge reviewing an APPEAL of a previously denied on-chain action.\n")
	b.WriteString("Respond ONLY with a JSON object: {\"verdict\": \"APPROVED\" or \"DENIED\", \"confidence\": 0-100, \"reason\": \"...\"}.\n\n")

	b.WriteString("Original denial:\n")
	fmt.Fprintf(&b, "- reason: %s\n", inc.Reason)
	fmt.Fprintf(&b, "- severity: %s\n\n", inc.Severity)

	b.WriteString("Denied action:\n")
	fmt.Fprintf(&b, "- agent: %s\n", inc.AgentID)
	fmt.Fprintf(&b, "- target contract: %s\n", inc.TargetContract)
	fmt.Fprintf(&b, "- function selector: %s\n", inc.FunctionSelector)
	fmt.Fprintf(&b, "- value (wei): %s\n", inc.AttemptedValue)
	fmt.Fprintf(&b, "- mint amount: %s\n", inc.AttemptedMint)
	fmt.Fprintf(&b, "- stated purpose: %s\n\n", inc.Description)

	writePolicyContext(&b, pol)

	fmt.Fprintf(&b, "\nFor this appeal, treat value and mint limits as %dx their configured amounts. ", leniency)
	b.WriteString("Leniency NEVER extends to dangerous patterns: deny any action involving ")
	b.WriteString("delegatecall, selfdestruct, proxy upgrades, ownership transfer, fund draining, ")
	b.WriteString("or oracle and price manipulation, regardless of size.")

	return b.String()
}

// writePolicyContext appends the policy limits shared by both prompts.
func writePolicyContext(b *strings.Builder, pol *agent.Policy) {
	b.WriteString("Agent policy:\n")
	fmt.Fprintf(b, "- max transaction value (wei): %s\n", pol.MaxTransactionValue)
	fmt.Fprintf(b, "- max daily volume (wei): %s\n", pol.MaxDailyVolume)
	fmt.Fprintf(b, "- max mint amount: %s\n", pol.MaxMintAmount)
	if len(pol.ApprovedContracts) > 0 {
		fmt.Fprintf(b, "- approved contracts: %s\n", strings.Join(pol.ApprovedContracts, ", "))
	}
	if len(pol.BlockedFunctionSelectors) > 0 {
		fmt.Fprintf(b, "- blocked function selectors: %s\n", strings.Join(pol.BlockedFunctionSelectors, ", "))
	}
	fmt.Fprintf(b, "- rate limit: %d actions per %d seconds\n", pol.RateLimit, pol.RateLimitWindowSeconds)
}
