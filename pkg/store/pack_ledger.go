package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Mindburn-Labs/gate/pkg/canonicalize"
	"github.com/Mindburn-Labs/gate/pkg/contracts"
)

// Dialect selects placeholder and DDL syntax for SQLPackLedger.
type Dialect int

const (
	DialectPostgres Dialect = iota
	DialectSQLite
)

// SQLPackLedger stores evidence packs as canonical JSON, keyed by gate id.
// The table has no UPDATE or DELETE path.
type SQLPackLedger struct {
	db      *sql.DB
	dialect Dialect
}

func NewSQLPackLedger(db *sql.DB, dialect Dialect) *SQLPackLedger {
	return &SQLPackLedger{db: db, dialect: dialect}
}

// Migrate creates the ledger table if it does not exist.
func (l *SQLPackLedger) Migrate(ctx context.Context) error {
	ts := "TIMESTAMPTZ"
	if l.dialect == DialectSQLite {
		ts = "TEXT"
	}
	query := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS gate_evidence_packs (
		gate_id TEXT PRIMARY KEY,
		request_id TEXT NOT NULL,
		verdict TEXT NOT NULL,
		receipt_hash TEXT NOT NULL,
		generated_at %s NOT NULL,
		pack TEXT NOT NULL
	);`, ts)
	if _, err := l.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("store: migrate evidence packs: %w", err)
	}
	return nil
}

// rebind rewrites ? placeholders to $n for Postgres.
func (l *SQLPackLedger) rebind(query string) string {
	if l.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (l *SQLPackLedger) Append(ctx context.Context, pack *contracts.EvidencePack) error {
	body, err := canonicalize.JCS(pack)
	if err != nil {
		return fmt.Errorf("store: encode pack %s: %w", pack.GateID, err)
	}

	var generatedAt any = pack.GeneratedAt.UTC()
	if l.dialect == DialectSQLite {
		generatedAt = formatTime(pack.GeneratedAt)
	}

	query := l.rebind(`
		INSERT INTO gate_evidence_packs (gate_id, request_id, verdict, receipt_hash, generated_at, pack)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (gate_id) DO NOTHING
	`)
	requestID := ""
	if pack.Request != nil {
		requestID = pack.Request.ID
	}
	res, err := l.db.ExecContext(ctx, query,
		pack.GateID, requestID, string(pack.Verdict()), pack.ReceiptHash, generatedAt, string(body),
	)
	if err != nil {
		return fmt.Errorf("failed to insert evidence pack: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to insert evidence pack: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrPackExists, pack.GateID)
	}
	return nil
}

func (l *SQLPackLedger) Get(ctx context.Context, gateID string) (*contracts.EvidencePack, error) {
	query := l.rebind(`SELECT pack FROM gate_evidence_packs WHERE gate_id = ?`)
	var body string
	if err := l.db.QueryRowContext(ctx, query, gateID).Scan(&body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: pack %s", ErrNotFound, gateID)
		}
		return nil, err
	}
	return decodePack(body)
}

func (l *SQLPackLedger) List(ctx context.Context, limit int) ([]*contracts.EvidencePack, error) {
	query := l.rebind(`
		SELECT pack FROM gate_evidence_packs
		ORDER BY generated_at DESC, gate_id DESC
		LIMIT ?
	`)
	rows, err := l.db.QueryContext(ctx, query, limitOrAll(limit))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*contracts.EvidencePack
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		p, err := decodePack(body)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func decodePack(body string) (*contracts.EvidencePack, error) {
	var p contracts.EvidencePack
	if err := json.Unmarshal([]byte(body), &p); err != nil {
		return nil, fmt.Errorf("store: decode pack: %w", err)
	}
	return &p, nil
}
