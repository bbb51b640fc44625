package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sentinelguard/sentinel/internal/domain/agent"
)

// Store implements the store port using PostgreSQL.
type Store struct {
	pool        *pgxpool.Pool
	incidentCap int
}

// NewStore creates a Store backed by the given connection pool. Each
// agent keeps at most incidentCap incidents; older ones are evicted when
// a new incident is committed.
func NewStore(pool *pgxpool.Pool, incidentCap int) *Store {
	return &Store{pool: pool, incidentCap: incidentCap}
}

// --- Agents ---

func (s *Store) RegisterAgent(ctx context.Context, reg *agent.Registration, pol *agent.Policy, state *agent.RuntimeState) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin register agent: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`INSERT INTO agents (agent_id, name, description, owner, registered_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		reg.AgentID, reg.Name, reg.Description, reg.Owner, reg.RegisteredAt)
	if err != nil {
		return fmt.Errorf("insert agent %s: %w", reg.AgentID, err)
	}

	if err := insertPolicy(ctx, tx, reg.AgentID, pol); err != nil {
		return err
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO agent_states (agent_id, lifecycle, window_action_count, window_start, daily_volume, daily_window_start, total_approved, total_denied)
		 VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8)`,
		state.AgentID, state.Lifecycle, state.WindowActionCount, state.WindowStart,
		numeric(state.DailyVolume), state.DailyWindowStart, state.TotalApproved, state.TotalDenied)
	if err != nil {
		return fmt.Errorf("insert agent state %s: %w", reg.AgentID, err)
	}

	return tx.Commit(ctx)
}

func (s *Store) GetAgent(ctx context.Context, agentID string) (*agent.Registration, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT agent_id, name, description, owner, registered_at
		 FROM agents WHERE agent_id = $1`, agentID)

	var reg agent.Registration
	if err := row.Scan(&reg.AgentID, &reg.Name, &reg.Description, &reg.Owner, &reg.RegisteredAt); err != nil {
		return nil, notFoundWrap(err, "get agent %s", agentID)
	}
	return &reg, nil
}

func (s *Store) ListAgents(ctx context.Context) ([]agent.Registration, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT agent_id, name, description, owner, registered_at
		 FROM agents ORDER BY registered_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var regs []agent.Registration
	for rows.Next() {
		var reg agent.Registration
		if err := rows.Scan(&reg.AgentID, &reg.Name, &reg.Description, &reg.Owner, &reg.RegisteredAt); err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		regs = append(regs, reg)
	}
	return regs, rows.Err()
}

// --- Policies ---

func (s *Store) GetPolicy(ctx context.Context, agentID string) (*agent.Policy, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT max_transaction_value::text, max_daily_volume::text, max_mint_amount::text,
		        approved_contracts, blocked_function_selectors,
		        rate_limit, rate_limit_window_seconds, require_consensus, is_active
		 FROM policies WHERE agent_id = $1`, agentID)

	pol, err := scanPolicy(row)
	if err != nil {
		return nil, notFoundWrap(err, "get policy %s", agentID)
	}
	return pol, nil
}

func (s *Store) UpdatePolicy(ctx context.Context, agentID string, pol *agent.Policy) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE policies SET
		    max_transaction_value = $2::numeric,
		    max_daily_volume = $3::numeric,
		    max_mint_amount = $4::numeric,
		    approved_contracts = $5,
		    blocked_function_selectors = $6,
		    rate_limit = $7,
		    rate_limit_window_seconds = $8,
		    require_consensus = $9,
		    is_active = $10,
		    updated_at = now()
		 WHERE agent_id = $1`,
		agentID, numeric(pol.MaxTransactionValue), numeric(pol.MaxDailyVolume), numeric(pol.MaxMintAmount),
		pgTextArray(pol.ApprovedContracts), pgTextArray(pol.BlockedFunctionSelectors),
		pol.RateLimit, pol.RateLimitWindowSeconds, pol.RequireConsensus, pol.IsActive)
	return execExpectOne(tag, err, "update policy %s", agentID)
}

func insertPolicy(ctx context.Context, tx pgx.Tx, agentID string, pol *agent.Policy) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO policies (agent_id, max_transaction_value, max_daily_volume, max_mint_amount,
		                       approved_contracts, blocked_function_selectors,
		                       rate_limit, rate_limit_window_seconds, require_consensus, is_active)
		 VALUES ($1, $2::numeric, $3::numeric, $4::numeric, $5, $6, $7, $8, $9, $10)`,
		agentID, numeric(pol.MaxTransactionValue), numeric(pol.MaxDailyVolume), numeric(pol.MaxMintAmount),
		pgTextArray(pol.ApprovedContracts), pgTextArray(pol.BlockedFunctionSelectors),
		pol.RateLimit, pol.RateLimitWindowSeconds, pol.RequireConsensus, pol.IsActive)
	if err != nil {
		return fmt.Errorf("insert policy %s: %w", agentID, err)
	}
	return nil
}

func scanPolicy(row scannable) (*agent.Policy, error) {
	var pol agent.Policy
	var maxValue, maxVolume, maxMint string
	err := row.Scan(&maxValue, &maxVolume, &maxMint,
		&pol.ApprovedContracts, &pol.BlockedFunctionSelectors,
		&pol.RateLimit, &pol.RateLimitWindowSeconds, &pol.RequireConsensus, &pol.IsActive)
	if err != nil {
		return nil, err
	}
	if pol.MaxTransactionValue, err = parseNumeric(maxValue); err != nil {
		return nil, err
	}
	if pol.MaxDailyVolume, err = parseNumeric(maxVolume); err != nil {
		return nil, err
	}
	if pol.MaxMintAmount, err = parseNumeric(maxMint); err != nil {
		return nil, err
	}
	return &pol, nil
}

// --- Runtime state ---

func (s *Store) GetState(ctx context.Context, agentID string) (*agent.RuntimeState, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT agent_id, lifecycle, window_action_count, window_start,
		        daily_volume::text, daily_window_start, total_approved, total_denied
		 FROM agent_states WHERE agent_id = $1`, agentID)

	st, err := scanState(row)
	if err != nil {
		return nil, notFoundWrap(err, "get agent state %s", agentID)
	}
	return st, nil
}

func (s *Store) SetLifecycle(ctx context.Context, agentID string, state agent.LifecycleState) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE agent_states SET lifecycle = $2 WHERE agent_id = $1`, agentID, state)
	return execExpectOne(tag, err, "set lifecycle %s", agentID)
}

func scanState(row scannable) (*agent.RuntimeState, error) {
	var st agent.RuntimeState
	var volume string
	err := row.Scan(&st.AgentID, &st.Lifecycle, &st.WindowActionCount, &st.WindowStart,
		&volume, &st.DailyWindowStart, &st.TotalApproved, &st.TotalDenied)
	if err != nil {
		return nil, err
	}
	if st.DailyVolume, err = parseNumeric(volume); err != nil {
		return nil, err
	}
	return &st, nil
}

func updateState(ctx context.Context, tx pgx.Tx, st *agent.RuntimeState) error {
	tag, err := tx.Exec(ctx,
		`UPDATE agent_states SET
		    lifecycle = $2,
		    window_action_count = $3,
		    window_start = $4,
		    daily_volume = $5::numeric,
		    daily_window_start = $6,
		    total_approved = $7,
		    total_denied = $8
		 WHERE agent_id = $1`,
		st.AgentID, st.Lifecycle, st.WindowActionCount, st.WindowStart,
		numeric(st.DailyVolume), st.DailyWindowStart, st.TotalApproved, st.TotalDenied)
	return execExpectOne(tag, err, "update agent state %s", st.AgentID)
}
