// Package proposal defines the action proposal submitted by an agent for
// evaluation. A proposal is immutable once parsed; the pipeline only reads it.
package proposal

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/sentinelguard/sentinel/internal/domain"
)

var (
	agentIDPattern  = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)
	addressPattern  = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
	selectorPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{8}$`)
	hexPattern      = regexp.MustCompile(`^0x[0-9a-fA-F]*$`)
)

// ValidAgentID reports whether s is a well-formed agent identifier.
func ValidAgentID(s string) bool {
	return agentIDPattern.MatchString(s)
}

// Raw is the wire form of a proposal as submitted by an agent.
// Numeric amounts travel as decimal strings because wei-scale values
// exceed what JSON numbers can carry safely.
type Raw struct {
	AgentID          string `json:"agentId"`
	TargetContract   string `json:"targetContract"`
	FunctionSelector string `json:"functionSelector"`
	Value            string `json:"value"`
	MintAmount       string `json:"mintAmount"`
	Calldata         string `json:"calldata"`
	Description      string `json:"description"`
}

// ActionProposal is a validated, immutable proposal ready for evaluation.
type ActionProposal struct {
	AgentID          string
	TargetContract   string
	FunctionSelector string
	Value            *big.Int
	MintAmount       *big.Int
	Calldata         string
	Description      string
}

// Parse validates a raw proposal and converts it into an ActionProposal.
// All failures wrap domain.ErrValidation.
func Parse(raw Raw) (*ActionProposal, error) {
	if !agentIDPattern.MatchString(raw.AgentID) {
		return nil, fmt.Errorf("%w: agentId must be a 0x-prefixed 32-byte hex string", domain.ErrValidation)
	}
	if !addressPattern.MatchString(raw.TargetContract) {
		return nil, fmt.Errorf("%w: targetContract must be a 0x-prefixed 20-byte address", domain.ErrValidation)
	}
	if !selectorPattern.MatchString(raw.FunctionSelector) {
		return nil, fmt.Errorf("%w: functionSelector must be a 0x-prefixed 4-byte selector", domain.ErrValidation)
	}
	if raw.Calldata != "" && !hexPattern.MatchString(raw.Calldata) {
		return nil, fmt.Errorf("%w: calldata must be a 0x-prefixed hex string", domain.ErrValidation)
	}

	value, err := parseAmount(raw.Value, "value")
	if err != nil {
		return nil, err
	}
	mint, err := parseAmount(raw.MintAmount, "mintAmount")
	if err != nil {
		return nil, err
	}

	return &ActionProposal{
		AgentID:          strings.ToLower(raw.AgentID),
		TargetContract:   strings.ToLower(raw.TargetContract),
		FunctionSelector: strings.ToLower(raw.FunctionSelector),
		Value:            value,
		MintAmount:       mint,
		Calldata:         raw.Calldata,
		Description:      raw.Description,
	}, nil
}

// parseAmount converts a decimal string into a non-negative big.Int.
// Empty strings mean zero.
func parseAmount(s, field string) (*big.Int, error) {
	if s == "" {
		return big.NewInt(0), nil
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %s must be a decimal integer", domain.ErrValidation, field)
	}
	if n.Sign() < 0 {
		return nil, fmt.Errorf("%w: %s must be non-negative", domain.ErrValidation, field)
	}
	return n, nil
}
