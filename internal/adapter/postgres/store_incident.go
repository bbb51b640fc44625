package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/sentinelguard/sentinel/internal/domain/incident"
	"github.com/sentinelguard/sentinel/internal/port/store"
)

// CommitDecision persists one pipeline outcome in a single transaction:
// the updated runtime state and, for denials, the incident record. The
// per-agent incident cap is enforced on the same transaction.
func (s *Store) CommitDecision(ctx context.Context, commit *store.DecisionCommit) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin decision commit: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := updateState(ctx, tx, commit.State); err != nil {
		return err
	}

	if inc := commit.Incident; inc != nil {
		_, err = tx.Exec(ctx,
			`INSERT INTO incidents (id, agent_id, occurred_at, type, reason,
			                        target_contract, function_selector,
			                        attempted_value, attempted_mint, description,
			                        severity, appeal_window_expiry, appeal_status)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8::numeric, $9::numeric, $10, $11, $12, $13)`,
			inc.ID, inc.AgentID, inc.Timestamp, inc.Type, inc.Reason,
			inc.TargetContract, inc.FunctionSelector,
			numeric(inc.AttemptedValue), numeric(inc.AttemptedMint), inc.Description,
			inc.Severity, inc.AppealWindowExpiry, inc.AppealStatus)
		if err != nil {
			return fmt.Errorf("insert incident %s: %w", inc.ID, err)
		}

		if s.incidentCap > 0 {
			_, err = tx.Exec(ctx,
				`DELETE FROM incidents WHERE agent_id = $1 AND id IN (
				    SELECT id FROM incidents WHERE agent_id = $1
				    ORDER BY occurred_at DESC OFFSET $2)`,
				inc.AgentID, s.incidentCap)
			if err != nil {
				return fmt.Errorf("evict incidents %s: %w", inc.AgentID, err)
			}
		}
	}

	return tx.Commit(ctx)
}

// CommitAppeal persists one appeal outcome in a single transaction: the
// incident's consumed appeal and the agent's resulting lifecycle.
func (s *Store) CommitAppeal(ctx context.Context, commit *store.AppealCommit) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin appeal commit: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`UPDATE incidents SET appeal_status = $3
		 WHERE agent_id = $1 AND id = $2`,
		commit.AgentID, commit.IncidentID, commit.Status)
	if err := execExpectOne(tag, err, "update incident appeal %s", commit.IncidentID); err != nil {
		return err
	}

	tag, err = tx.Exec(ctx,
		`UPDATE agent_states SET lifecycle = $2 WHERE agent_id = $1`,
		commit.AgentID, commit.Lifecycle)
	if err := execExpectOne(tag, err, "update lifecycle %s", commit.AgentID); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// MarkAppealExpired records a lapsed, unused appeal window. The guard on
// appeal_status keeps a concurrent appeal from being overwritten.
func (s *Store) MarkAppealExpired(ctx context.Context, agentID, incidentID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE incidents SET appeal_status = $3
		 WHERE agent_id = $1 AND id = $2 AND appeal_status = $4`,
		agentID, incidentID, incident.AppealExpired, incident.AppealNone)
	if err != nil {
		return fmt.Errorf("mark appeal expired %s: %w", incidentID, err)
	}
	return nil
}

func (s *Store) GetIncident(ctx context.Context, agentID, incidentID string) (*incident.Incident, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, agent_id, occurred_at, type, reason,
		        target_contract, function_selector,
		        attempted_value::text, attempted_mint::text, description,
		        severity, appeal_window_expiry, appeal_status
		 FROM incidents WHERE agent_id = $1 AND id = $2`, agentID, incidentID)

	inc, err := scanIncident(row)
	if err != nil {
		return nil, notFoundWrap(err, "get incident %s", incidentID)
	}
	return inc, nil
}

func (s *Store) ListIncidents(ctx context.Context, agentID string, limit int) ([]incident.Incident, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, agent_id, occurred_at, type, reason,
		        target_contract, function_selector,
		        attempted_value::text, attempted_mint::text, description,
		        severity, appeal_window_expiry, appeal_status
		 FROM incidents WHERE agent_id = $1
		 ORDER BY occurred_at DESC LIMIT $2`, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("list incidents %s: %w", agentID, err)
	}
	defer rows.Close()

	var incs []incident.Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, fmt.Errorf("scan incident: %w", err)
		}
		incs = append(incs, *inc)
	}
	return incs, rows.Err()
}

func scanIncident(row scannable) (*incident.Incident, error) {
	var inc incident.Incident
	var value, mint string
	var expiry *time.Time
	err := row.Scan(&inc.ID, &inc.AgentID, &inc.Timestamp, &inc.Type, &inc.Reason,
		&inc.TargetContract, &inc.FunctionSelector,
		&value, &mint, &inc.Description,
		&inc.Severity, &expiry, &inc.AppealStatus)
	if err != nil {
		return nil, err
	}
	if inc.AttemptedValue, err = parseNumeric(value); err != nil {
		return nil, err
	}
	if inc.AttemptedMint, err = parseNumeric(mint); err != nil {
		return nil, err
	}
	inc.AppealWindowExpiry = expiry
	return &inc, nil
}
