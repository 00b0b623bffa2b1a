package records

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/WessleyAI/wessley-pricing/engine/domain"
)

func init() {
	// modernc registers itself as "sqlite", which sqlx does not know.
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS research_records (
		id            TEXT PRIMARY KEY,
		item_id       TEXT NOT NULL,
		context_hash  TEXT NOT NULL,
		query         TEXT NOT NULL,
		analysis      TEXT NOT NULL,
		researched_at BIGINT NOT NULL,
		is_active     BOOLEAN NOT NULL
	)`,
	// At most one active record per key; a racing insert fails here.
	`CREATE UNIQUE INDEX IF NOT EXISTS research_records_active
		ON research_records (item_id, context_hash) WHERE is_active`,
	`CREATE INDEX IF NOT EXISTS research_records_item
		ON research_records (item_id, researched_at)`,
}

type recordRow struct {
	ID           string `db:"id"`
	ItemID       string `db:"item_id"`
	ContextHash  string `db:"context_hash"`
	Query        string `db:"query"`
	Analysis     string `db:"analysis"`
	ResearchedAt int64  `db:"researched_at"`
	IsActive     bool   `db:"is_active"`
}

func toRow(r domain.ResearchRecord) (recordRow, error) {
	q, err := json.Marshal(r.Query)
	if err != nil {
		return recordRow{}, fmt.Errorf("encode query: %w", err)
	}
	a, err := json.Marshal(r.MarketAnalysis)
	if err != nil {
		return recordRow{}, fmt.Errorf("encode analysis: %w", err)
	}
	return recordRow{
		ID:           r.ID,
		ItemID:       r.ItemID,
		ContextHash:  r.ContextHash,
		Query:        string(q),
		Analysis:     string(a),
		ResearchedAt: r.ResearchDate.UnixNano(),
		IsActive:     r.IsActive,
	}, nil
}

func (row recordRow) record() (domain.ResearchRecord, error) {
	r := domain.ResearchRecord{
		ID:           row.ID,
		ItemID:       row.ItemID,
		ContextHash:  row.ContextHash,
		ResearchDate: time.Unix(0, row.ResearchedAt).UTC(),
		IsActive:     row.IsActive,
	}
	if err := json.Unmarshal([]byte(row.Query), &r.Query); err != nil {
		return r, fmt.Errorf("decode query for %s: %w", row.ID, err)
	}
	if err := json.Unmarshal([]byte(row.Analysis), &r.MarketAnalysis); err != nil {
		return r, fmt.Errorf("decode analysis for %s: %w", row.ID, err)
	}
	return r, nil
}

// SQLStore keeps records in SQLite or PostgreSQL.
type SQLStore struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewSQLStore wraps an open database. The schema must already exist.
func NewSQLStore(db *sqlx.DB) *SQLStore {
	return &SQLStore{db: db, now: time.Now}
}

// OpenSQL opens driver ("sqlite" or "postgres") at dsn and creates the
// schema if needed. For sqlite, dsn is a file path.
func OpenSQL(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	if driver == "sqlite" {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}
	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", driver, err)
	}
	if driver == "sqlite" {
		// One writer at a time; sqlite reports SQLITE_BUSY otherwise.
		db.SetMaxOpenConns(1)
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting journal mode: %w", err)
		}
	}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrating schema: %w", err)
		}
	}
	return NewSQLStore(db), nil
}

func (s *SQLStore) Active(ctx context.Context, itemID, contextHash string) (domain.ResearchRecord, error) {
	var row recordRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(
		`SELECT * FROM research_records WHERE item_id = ? AND context_hash = ? AND is_active = ?`),
		itemID, contextHash, true)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ResearchRecord{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.ResearchRecord{}, fmt.Errorf("load active record: %w", err)
	}
	return row.record()
}

func (s *SQLStore) Put(ctx context.Context, rec domain.ResearchRecord) (domain.ResearchRecord, error) {
	rec = prepare(rec, s.now())
	row, err := toRow(rec)
	if err != nil {
		return rec, err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return rec, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, tx.Rebind(
		`UPDATE research_records SET is_active = ? WHERE item_id = ? AND context_hash = ? AND is_active = ?`),
		false, rec.ItemID, rec.ContextHash, true); err != nil {
		return rec, classifySQL("supersede", err)
	}
	if _, err := tx.NamedExecContext(ctx,
		`INSERT INTO research_records (id, item_id, context_hash, query, analysis, researched_at, is_active)
		 VALUES (:id, :item_id, :context_hash, :query, :analysis, :researched_at, :is_active)`, row); err != nil {
		return rec, classifySQL("insert", err)
	}
	if err := tx.Commit(); err != nil {
		return rec, classifySQL("commit", err)
	}
	return rec, nil
}

func (s *SQLStore) History(ctx context.Context, itemID string, limit int) ([]domain.ResearchRecord, error) {
	q := `SELECT * FROM research_records WHERE item_id = ? ORDER BY researched_at DESC`
	args := []any{itemID}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	var rows []recordRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(q), args...); err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	out := make([]domain.ResearchRecord, 0, len(rows))
	for _, row := range rows {
		r, err := row.record()
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *SQLStore) Close() error { return s.db.Close() }

// classifySQL turns a unique or serialization violation into
// domain.ErrWriteConflict.
func classifySQL(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505", "40001":
			return fmt.Errorf("%s: %w", op, domain.ErrWriteConflict)
		}
	}
	msg := err.Error()
	if strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "SQLITE_BUSY") {
		return fmt.Errorf("%s: %w", op, domain.ErrWriteConflict)
	}
	return fmt.Errorf("%s: %w", op, err)
}
