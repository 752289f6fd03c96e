package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"

	_ "github.com/lib/pq" // Postgres Driver
	_ "modernc.org/sqlite"

	"github.com/Mindburn-Labs/gate/pkg/config"
	"github.com/Mindburn-Labs/gate/pkg/store"
)

// stores is the persistence wired for one server process.
type stores struct {
	db        *sql.DB
	approvals store.ApprovalStore
	ledger    store.PackLedger
}

func (s *stores) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func setupStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	if cfg.LiteMode() {
		return setupLiteMode(ctx, cfg)
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to DB: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("DB ping failed: %w", err)
	}
	log.Println("[gate] postgres: connected")

	approvals := store.NewPostgresApprovalStore(db)
	if err := approvals.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to init approval store: %w", err)
	}
	ledger := store.NewSQLPackLedger(db, store.DialectPostgres)
	if err := ledger.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to init pack ledger: %w", err)
	}
	return &stores{db: db, approvals: approvals, ledger: ledger}, nil
}

func setupLiteMode(ctx context.Context, cfg *config.Config) (*stores, error) {
	if err := os.MkdirAll(cfg.DataDir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	dbPath := cfg.SQLitePath()
	log.Printf("[gate] lite mode: using sqlite at %s", dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// One writer keeps SQLite's locking out of the CAS path.
	db.SetMaxOpenConns(1)

	approvals, err := store.NewSQLiteApprovalStore(db)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to init sqlite approval store: %w", err)
	}
	ledger := store.NewSQLPackLedger(db, store.DialectSQLite)
	if err := ledger.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to init sqlite pack ledger: %w", err)
	}
	return &stores{db: db, approvals: approvals, ledger: ledger}, nil
}
