package service

import (
	"fmt"
	"strings"

	"github.com/sentinelguard/sentinel/internal/domain/incident"
	"github.com/sentinelguard/sentinel/internal/domain/proposal"
)

// Selectors that are denied unconditionally: delegatecall relays, proxy
// upgrade entry points, and ownership handover functions.
var dangerousSelectors = map[string]string{
	"0xff00ff00": "delegatecall relay",
	"0x3659cfe6": "proxy upgradeTo",
	"0x4f1ef286": "proxy upgradeToAndCall",
	"0x715018a6": "renounceOwnership",
	"0xf2fde38b": "transferOwnership",
}

// Phrases in the stated purpose that mark a proposal as hostile or as a
// prompt-injection attempt against the judges.
var dangerousPhrases = []string{
	"delegatecall",
	"selfdestruct",
	"drain",
	"rug",
	"ignore previous",
	"flash loan",
	"manipulate oracle",
	"price manipulation",
	"transfer all funds",
	"proxy upgrade",
}

// screenProposal checks a proposal against the hard blocklist. Matches
// are denied before any judge sees the action; the screen also applies
// during appeals, where leniency never extends to it.
func screenProposal(p *proposal.ActionProposal) (string, bool) {
	return screen(p.FunctionSelector, p.Description)
}

// screenIncident re-applies the blocklist to a denied action under appeal.
func screenIncident(inc *incident.Incident) (string, bool) {
	return screen(inc.FunctionSelector, inc.Description)
}

func screen(selector, description string) (string, bool) {
	if label, ok := dangerousSelectors[strings.ToLower(selector)]; ok {
		return fmt.Sprintf("function selector %s is blocked (%s)", selector, label), true
	}
	desc := strings.ToLower(description)
	for _, phrase := range dangerousPhrases {
		if strings.Contains(desc, phrase) {
			return fmt.Sprintf("description contains blocked pattern %q", phrase), true
		}
	}
	return "", false
}
