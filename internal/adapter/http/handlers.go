// Package http implements the REST adapter for the Sentinel API.
package http

import (
	"fmt"
	"math/big"
	"net/http"
	"strconv"

	"github.com/sentinelguard/sentinel/internal/domain"
	"github.com/sentinelguard/sentinel/internal/domain/agent"
	"github.com/sentinelguard/sentinel/internal/domain/incident"
	"github.com/sentinelguard/sentinel/internal/domain/proposal"
	"github.com/sentinelguard/sentinel/internal/service"
)

const defaultIncidentLimit = 50

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	Guardian *service.Guardian
}

// --- Proposals ---

// SubmitProposal evaluates one action proposal. Denials are still 200:
// the verdict is the resource, not an error.
func (h *Handlers) SubmitProposal(w http.ResponseWriter, r *http.Request) {
	raw, ok := readJSON[proposal.Raw](w, r)
	if !ok {
		return
	}

	res, err := h.Guardian.SubmitProposal(r.Context(), raw)
	if err != nil {
		writeDomainError(w, err, "agent not found")
		return
	}

	resp := map[string]any{
		"agent_id":   res.AgentID,
		"consensus":  res.Consensus,
		"confidence": res.Confidence,
		"reason":     res.Reason,
		"timestamp":  res.Timestamp,
	}
	if len(res.Judges) > 0 {
		resp["judges"] = res.Judges
	}
	if res.Incident != nil {
		resp["incident"] = incidentDTO(res.Incident)
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- Agents ---

type registerAgentRequest struct {
	AgentID     string    `json:"agent_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Owner       string    `json:"owner"`
	Policy      policyDTO `json:"policy"`
}

func (h *Handlers) RegisterAgent(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[registerAgentRequest](w, r)
	if !ok {
		return
	}
	pol, err := req.Policy.toDomain()
	if err != nil {
		writeDomainError(w, err, "")
		return
	}

	reg := &agent.Registration{
		AgentID:     req.AgentID,
		Name:        req.Name,
		Description: req.Description,
		Owner:       req.Owner,
	}
	if err := h.Guardian.RegisterAgent(r.Context(), reg, pol); err != nil {
		writeDomainError(w, err, "agent not found")
		return
	}
	writeJSON(w, http.StatusCreated, reg)
}

func (h *Handlers) ListAgents(w http.ResponseWriter, r *http.Request) {
	regs, err := h.Guardian.Agents(r.Context())
	if err != nil {
		writeDomainError(w, err, "")
		return
	}
	if regs == nil {
		regs = []agent.Registration{}
	}
	writeJSON(w, http.StatusOK, regs)
}

func (h *Handlers) GetAgent(w http.ResponseWriter, r *http.Request) {
	reg, err := h.Guardian.Agent(r.Context(), urlParam(r, "agentID"))
	if err != nil {
		writeDomainError(w, err, "agent not found")
		return
	}
	writeJSON(w, http.StatusOK, reg)
}

func (h *Handlers) GetState(w http.ResponseWriter, r *http.Request) {
	st, err := h.Guardian.State(r.Context(), urlParam(r, "agentID"))
	if err != nil {
		writeDomainError(w, err, "agent not found")
		return
	}
	writeJSON(w, http.StatusOK, stateDTO(st))
}

// --- Policies ---

func (h *Handlers) GetPolicy(w http.ResponseWriter, r *http.Request) {
	pol, err := h.Guardian.Policy(r.Context(), urlParam(r, "agentID"))
	if err != nil {
		writeDomainError(w, err, "policy not found")
		return
	}
	writeJSON(w, http.StatusOK, policyToDTO(pol))
}

func (h *Handlers) UpdatePolicy(w http.ResponseWriter, r *http.Request) {
	dto, ok := readJSON[policyDTO](w, r)
	if !ok {
		return
	}
	pol, err := dto.toDomain()
	if err != nil {
		writeDomainError(w, err, "")
		return
	}
	if err := h.Guardian.UpdatePolicy(r.Context(), urlParam(r, "agentID"), pol); err != nil {
		writeDomainError(w, err, "policy not found")
		return
	}
	writeJSON(w, http.StatusOK, policyToDTO(pol))
}

// --- Lifecycle ---

type freezeRequest struct {
	Reason string `json:"reason"`
}

func (h *Handlers) FreezeAgent(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[freezeRequest](w, r)
	if !ok {
		return
	}
	if req.Reason == "" {
		req.Reason = "manual freeze by administrator"
	}
	if err := h.Guardian.Freeze(r.Context(), urlParam(r, "agentID"), req.Reason); err != nil {
		writeDomainError(w, err, "agent not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"lifecycle": string(agent.StateFrozen)})
}

func (h *Handlers) UnfreezeAgent(w http.ResponseWriter, r *http.Request) {
	if err := h.Guardian.Unfreeze(r.Context(), urlParam(r, "agentID")); err != nil {
		writeDomainError(w, err, "agent not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"lifecycle": string(agent.StateActive)})
}

func (h *Handlers) RevokeAgent(w http.ResponseWriter, r *http.Request) {
	if err := h.Guardian.Revoke(r.Context(), urlParam(r, "agentID")); err != nil {
		writeDomainError(w, err, "agent not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"lifecycle": string(agent.StateRevoked)})
}

// --- Incidents ---

func (h *Handlers) ListIncidents(w http.ResponseWriter, r *http.Request) {
	limit := defaultIncidentLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	incs, err := h.Guardian.Incidents(r.Context(), urlParam(r, "agentID"), limit)
	if err != nil {
		writeDomainError(w, err, "agent not found")
		return
	}

	dtos := make([]map[string]any, 0, len(incs))
	for i := range incs {
		dtos = append(dtos, incidentDTO(&incs[i]))
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handlers) AppealIncident(w http.ResponseWriter, r *http.Request) {
	res, err := h.Guardian.AppealIncident(r.Context(), urlParam(r, "agentID"), urlParam(r, "incidentID"))
	if err != nil {
		writeDomainError(w, err, "incident not found")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// --- DTOs ---

// policyDTO is the wire form of a policy. Amounts travel as decimal
// strings because wei-scale values exceed what JSON numbers carry safely.
type policyDTO struct {
	MaxTransactionValue      string   `json:"max_transaction_value"`
	MaxDailyVolume           string   `json:"max_daily_volume"`
	MaxMintAmount            string   `json:"max_mint_amount"`
	ApprovedContracts        []string `json:"approved_contracts"`
	BlockedFunctionSelectors []string `json:"blocked_function_selectors"`
	RateLimit                int      `json:"rate_limit"`
	RateLimitWindowSeconds   int      `json:"rate_limit_window_seconds"`
	RequireConsensus         bool     `json:"require_consensus"`
	IsActive                 bool     `json:"is_active"`
}

func (d policyDTO) toDomain() (*agent.Policy, error) {
	maxValue, err := parseAmount(d.MaxTransactionValue, "max_transaction_value")
	if err != nil {
		return nil, err
	}
	maxVolume, err := parseAmount(d.MaxDailyVolume, "max_daily_volume")
	if err != nil {
		return nil, err
	}
	maxMint, err := parseAmount(d.MaxMintAmount, "max_mint_amount")
	if err != nil {
		return nil, err
	}
	return &agent.Policy{
		MaxTransactionValue:      maxValue,
		MaxDailyVolume:           maxVolume,
		MaxMintAmount:            maxMint,
		ApprovedContracts:        d.ApprovedContracts,
		BlockedFunctionSelectors: d.BlockedFunctionSelectors,
		RateLimit:                d.RateLimit,
		RateLimitWindowSeconds:   d.RateLimitWindowSeconds,
		RequireConsensus:         d.RequireConsensus,
		IsActive:                 d.IsActive,
	}, nil
}

func policyToDTO(pol *agent.Policy) policyDTO {
	contracts := pol.ApprovedContracts
	if contracts == nil {
		contracts = []string{}
	}
	selectors := pol.BlockedFunctionSelectors
	if selectors == nil {
		selectors = []string{}
	}
	return policyDTO{
		MaxTransactionValue:      pol.MaxTransactionValue.String(),
		MaxDailyVolume:           pol.MaxDailyVolume.String(),
		MaxMintAmount:            pol.MaxMintAmount.String(),
		ApprovedContracts:        contracts,
		BlockedFunctionSelectors: selectors,
		RateLimit:                pol.RateLimit,
		RateLimitWindowSeconds:   pol.RateLimitWindowSeconds,
		RequireConsensus:         pol.RequireConsensus,
		IsActive:                 pol.IsActive,
	}
}

func stateDTO(st *agent.RuntimeState) map[string]any {
	return map[string]any{
		"agent_id":            st.AgentID,
		"lifecycle":           st.Lifecycle,
		"window_action_count": st.WindowActionCount,
		"window_start":        st.WindowStart,
		"daily_volume":        st.DailyVolume.String(),
		"daily_window_start":  st.DailyWindowStart,
		"total_approved":      st.TotalApproved,
		"total_denied":        st.TotalDenied,
	}
}

func incidentDTO(inc *incident.Incident) map[string]any {
	dto := map[string]any{
		"id":                inc.ID,
		"agent_id":          inc.AgentID,
		"timestamp":         inc.Timestamp,
		"type":              inc.Type,
		"reason":            inc.Reason,
		"target_contract":   inc.TargetContract,
		"function_selector": inc.FunctionSelector,
		"attempted_value":   inc.AttemptedValue.String(),
		"attempted_mint":    inc.AttemptedMint.String(),
		"description":       inc.Description,
		"severity":          inc.Severity,
		"appeal_status":     inc.AppealStatus,
	}
	if inc.AppealWindowExpiry != nil {
		dto["appeal_window_expiry"] = *inc.AppealWindowExpiry
	}
	return dto
}

func parseAmount(s, field string) (*big.Int, error) {
	if s == "" {
		return big.NewInt(0), nil
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok || n.Sign() < 0 {
		return nil, fmt.Errorf("%w: %s must be a non-negative decimal integer", domain.ErrValidation, field)
	}
	return n, nil
}
