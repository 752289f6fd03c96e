package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/lib/pq"

	"github.com/Mindburn-Labs/gate/pkg/contracts"
)

// PostgresApprovalSchema creates the approvals table.
const PostgresApprovalSchema = `
CREATE TABLE IF NOT EXISTS gate_approvals (
	decision_id  TEXT PRIMARY KEY,
	request_id   TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL,
	requested_at TIMESTAMPTZ NOT NULL,
	expires_at   TIMESTAMPTZ NOT NULL,
	decided_at   TIMESTAMPTZ,
	decided_by   TEXT NOT NULL DEFAULT '',
	notes        TEXT NOT NULL DEFAULT '',
	auto_action  TEXT NOT NULL DEFAULT 'EXPIRE'
);
CREATE INDEX IF NOT EXISTS gate_approvals_pending ON gate_approvals (requested_at) WHERE status = 'PENDING';
`

// PostgresApprovalStore is a durable ApprovalStore on PostgreSQL.
type PostgresApprovalStore struct {
	db *sql.DB
}

func NewPostgresApprovalStore(db *sql.DB) *PostgresApprovalStore {
	return &PostgresApprovalStore{db: db}
}

// Migrate creates the approvals table if it does not exist.
func (s *PostgresApprovalStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, PostgresApprovalSchema); err != nil {
		return fmt.Errorf("store: migrate approvals: %w", err)
	}
	return nil
}

func (s *PostgresApprovalStore) Create(ctx context.Context, rec *contracts.ApprovalRecord) error {
	query := `
		INSERT INTO gate_approvals (decision_id, request_id, status, requested_at, expires_at, decided_at, decided_by, notes, auto_action)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := s.db.ExecContext(ctx, query,
		rec.DecisionID,
		rec.RequestID,
		string(rec.Status),
		rec.RequestedAt.UTC(),
		rec.ExpiresAt.UTC(),
		nullTime(rec.DecidedAt),
		rec.DecidedBy,
		rec.Notes,
		rec.AutoAction,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return fmt.Errorf("%w: %s", ErrApprovalExists, rec.DecisionID)
		}
		return fmt.Errorf("failed to insert approval: %w", err)
	}
	return nil
}

func (s *PostgresApprovalStore) Get(ctx context.Context, decisionID string) (*contracts.ApprovalRecord, error) {
	query := `
		SELECT decision_id, request_id, status, requested_at, expires_at, decided_at, decided_by, notes, auto_action
		FROM gate_approvals
		WHERE decision_id = $1
	`
	rec, err := scanApproval(s.db.QueryRowContext(ctx, query, decisionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: approval %s", ErrNotFound, decisionID)
	}
	return rec, err
}

func (s *PostgresApprovalStore) CompareAndSetStatus(ctx context.Context, decisionID string, from contracts.ApprovalStatus, next *contracts.ApprovalRecord) (bool, error) {
	query := `
		UPDATE gate_approvals
		SET status = $1, decided_at = $2, decided_by = $3, notes = $4
		WHERE decision_id = $5 AND status = $6
	`
	res, err := s.db.ExecContext(ctx, query,
		string(next.Status),
		nullTime(next.DecidedAt),
		next.DecidedBy,
		next.Notes,
		decisionID,
		string(from),
	)
	if err != nil {
		return false, fmt.Errorf("failed to update approval: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to update approval: %w", err)
	}
	if n == 1 {
		return true, nil
	}
	if _, err := s.Get(ctx, decisionID); err != nil {
		return false, err
	}
	return false, nil
}

func (s *PostgresApprovalStore) ListPending(ctx context.Context, limit int) ([]*contracts.ApprovalRecord, error) {
	query := `
		SELECT decision_id, request_id, status, requested_at, expires_at, decided_at, decided_by, notes, auto_action
		FROM gate_approvals
		WHERE status = 'PENDING'
		ORDER BY requested_at ASC, decision_id ASC
		LIMIT $1
	`
	rows, err := s.db.QueryContext(ctx, query, limitOrAll(limit))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*contracts.ApprovalRecord
	for rows.Next() {
		rec, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanApproval(row rowScanner) (*contracts.ApprovalRecord, error) {
	var (
		rec       contracts.ApprovalRecord
		status    string
		decidedAt sql.NullTime
	)
	if err := row.Scan(&rec.DecisionID, &rec.RequestID, &status, &rec.RequestedAt, &rec.ExpiresAt, &decidedAt, &rec.DecidedBy, &rec.Notes, &rec.AutoAction); err != nil {
		return nil, err
	}
	rec.Status = contracts.ApprovalStatus(status)
	rec.RequestedAt = rec.RequestedAt.UTC()
	rec.ExpiresAt = rec.ExpiresAt.UTC()
	if decidedAt.Valid {
		t := decidedAt.Time.UTC()
		rec.DecidedAt = &t
	}
	return &rec, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

// limitOrAll maps a non-positive limit to "no limit" for LIMIT clauses.
func limitOrAll(limit int) int {
	if limit <= 0 {
		return math.MaxInt32
	}
	return limit
}
