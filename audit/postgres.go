package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/glimte/mandate-go/integrity"
	"github.com/jackc/pgx/v5/pgxpool"
)

var schemaSQL = []string{`
CREATE TABLE IF NOT EXISTS mandate_ledger (
  seq         BIGSERIAL PRIMARY KEY,
  context_id  TEXT NOT NULL,
  kind        TEXT NOT NULL,
  subject_id  TEXT NOT NULL,
  digest      TEXT NOT NULL DEFAULT '',
  token       TEXT NOT NULL DEFAULT '',
  payload     JSONB NOT NULL,
  recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
	`CREATE INDEX IF NOT EXISTS mandate_ledger_context_idx ON mandate_ledger (context_id, seq)`,
}

// PostgresLedger stores entries in a PostgreSQL table
type PostgresLedger struct {
	DB *pgxpool.Pool
}

// NewPostgresLedger wraps an existing pool
func NewPostgresLedger(db *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{DB: db}
}

// Connect opens a pool for dsn
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres dsn: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 1
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return pool, nil
}

// Migrate creates the ledger table when missing
func (l *PostgresLedger) Migrate(ctx context.Context) error {
	for _, stmt := range schemaSQL {
		if _, err := l.DB.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate mandate ledger: %w", err)
		}
	}
	return nil
}

// Append implements Ledger
func (l *PostgresLedger) Append(ctx context.Context, entry Entry) (Entry, error) {
	if err := validate(entry); err != nil {
		return Entry{}, err
	}
	err := l.DB.QueryRow(ctx, `
INSERT INTO mandate_ledger(context_id,kind,subject_id,digest,token,payload)
VALUES ($1,$2,$3,$4,$5,$6)
RETURNING seq,recorded_at`,
		entry.ContextID, string(entry.Kind), entry.SubjectID, string(entry.Digest), entry.Token, []byte(entry.Payload),
	).Scan(&entry.Seq, &entry.RecordedAt)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to append ledger entry: %w", err)
	}
	entry.RecordedAt = entry.RecordedAt.UTC()
	return entry, nil
}

// Entries implements Ledger
func (l *PostgresLedger) Entries(ctx context.Context, contextID string) ([]Entry, error) {
	rows, err := l.DB.Query(ctx, `
SELECT seq,context_id,kind,subject_id,digest,token,payload,recorded_at
FROM mandate_ledger
WHERE context_id=$1
ORDER BY seq ASC`, contextID)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e       Entry
			kind    string
			digest  string
			payload []byte
		)
		if err := rows.Scan(&e.Seq, &e.ContextID, &kind, &e.SubjectID, &digest, &e.Token, &payload, &e.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		e.Kind = EntryKind(kind)
		e.Digest = integrity.Hash(digest)
		e.Payload = payload
		e.RecordedAt = e.RecordedAt.UTC()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read ledger: %w", err)
	}
	return out, nil
}

// Ping implements health.Pinger
func (l *PostgresLedger) Ping(ctx context.Context) error {
	return l.DB.Ping(ctx)
}
