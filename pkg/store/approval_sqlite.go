package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Mindburn-Labs/gate/pkg/contracts"

	_ "modernc.org/sqlite"
)

// SQLiteApprovalStore is an ApprovalStore for single-node deployments.
// Timestamps are stored as RFC 3339 text in UTC.
type SQLiteApprovalStore struct {
	db *sql.DB
}

// NewSQLiteApprovalStore opens the store and creates its table if needed.
func NewSQLiteApprovalStore(db *sql.DB) (*SQLiteApprovalStore, error) {
	s := &SQLiteApprovalStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteApprovalStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS gate_approvals (
		decision_id TEXT PRIMARY KEY,
		request_id TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		requested_at TEXT NOT NULL,
		expires_at TEXT NOT NULL,
		decided_at TEXT,
		decided_by TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT '',
		auto_action TEXT NOT NULL DEFAULT 'EXPIRE'
	);`
	if _, err := s.db.ExecContext(context.Background(), query); err != nil {
		return fmt.Errorf("store: migrate approvals: %w", err)
	}
	return nil
}

func (s *SQLiteApprovalStore) Create(ctx context.Context, rec *contracts.ApprovalRecord) error {
	query := `INSERT INTO gate_approvals (
		decision_id, request_id, status, requested_at, expires_at, decided_at, decided_by, notes, auto_action
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (decision_id) DO NOTHING`

	res, err := s.db.ExecContext(ctx, query,
		rec.DecisionID, rec.RequestID, string(rec.Status),
		formatTime(rec.RequestedAt), formatTime(rec.ExpiresAt), formatNullTime(rec.DecidedAt),
		rec.DecidedBy, rec.Notes, rec.AutoAction,
	)
	if err != nil {
		return fmt.Errorf("failed to insert approval: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrApprovalExists, rec.DecisionID)
	}
	return nil
}

func (s *SQLiteApprovalStore) Get(ctx context.Context, decisionID string) (*contracts.ApprovalRecord, error) {
	query := `
		SELECT decision_id, request_id, status, requested_at, expires_at, decided_at, decided_by, notes, auto_action
		FROM gate_approvals
		WHERE decision_id = ?
	`
	rec, err := scanSQLiteApproval(s.db.QueryRowContext(ctx, query, decisionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: approval %s", ErrNotFound, decisionID)
	}
	return rec, err
}

func (s *SQLiteApprovalStore) CompareAndSetStatus(ctx context.Context, decisionID string, from contracts.ApprovalStatus, next *contracts.ApprovalRecord) (bool, error) {
	query := `
		UPDATE gate_approvals
		SET status = ?, decided_at = ?, decided_by = ?, notes = ?
		WHERE decision_id = ? AND status = ?
	`
	res, err := s.db.ExecContext(ctx, query,
		string(next.Status), formatNullTime(next.DecidedAt), next.DecidedBy, next.Notes,
		decisionID, string(from),
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

func (s *SQLiteApprovalStore) ListPending(ctx context.Context, limit int) ([]*contracts.ApprovalRecord, error) {
	query := `
		SELECT decision_id, request_id, status, requested_at, expires_at, decided_at, decided_by, notes, auto_action
		FROM gate_approvals
		WHERE status = 'PENDING'
		ORDER BY requested_at ASC, decision_id ASC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, limitOrAll(limit))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*contracts.ApprovalRecord
	for rows.Next() {
		rec, err := scanSQLiteApproval(rows)
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

func scanSQLiteApproval(row rowScanner) (*contracts.ApprovalRecord, error) {
	var (
		rec         contracts.ApprovalRecord
		status      string
		requestedAt string
		expiresAt   string
		decidedAt   sql.NullString
	)
	if err := row.Scan(&rec.DecisionID, &rec.RequestID, &status, &requestedAt, &expiresAt, &decidedAt, &rec.DecidedBy, &rec.Notes, &rec.AutoAction); err != nil {
		return nil, err
	}
	rec.Status = contracts.ApprovalStatus(status)

	var err error
	if rec.RequestedAt, err = parseTime(requestedAt); err != nil {
		return nil, err
	}
	if rec.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return nil, err
	}
	if decidedAt.Valid && decidedAt.String != "" {
		t, err := parseTime(decidedAt.String)
		if err != nil {
			return nil, err
		}
		rec.DecidedAt = &t
	}
	return &rec, nil
}

// formatTime uses a fixed-width layout so stored values sort lexically in time order.
func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func formatNullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("store: bad timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}
