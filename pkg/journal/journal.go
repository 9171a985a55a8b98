// Package journal keeps a SQLite record of generation runs: what was asked
// for, which files fed the table, and what came out. It is a history, not a
// model store; tables are always rebuilt from source text.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// ErrRunNotFound is returned by Get when no run has the requested ID.
var ErrRunNotFound = errors.New("journal: run not found")

// Source is one input file of a run.
type Source struct {
	Path   string `json:"path"`
	Tokens int    `json:"tokens"`
}

// Run is a single recorded generation.
type Run struct {
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	Unit         string    `json:"unit"`
	Order        int       `json:"order"`
	TargetLength int       `json:"target_length"`
	TokenCount   int       `json:"token_count"`
	Seed         *uint64   `json:"seed,omitempty"`
	Interactive  bool      `json:"interactive"`
	Sources      []Source  `json:"sources"`
	Output       string    `json:"output"`
}

// Stats summarises the whole journal.
type Stats struct {
	Runs            int64 `json:"runs"`
	TokensGenerated int64 `json:"tokens_generated"`
	InteractiveRuns int64 `json:"interactive_runs"`
	DistinctSources int64 `json:"distinct_sources"`
}

// SetupSchema creates the journal tables. It is idempotent and safe to call
// on an already-initialized database.
func SetupSchema(db *sql.DB) error {

	const (
		schemaRuns = `
CREATE TABLE IF NOT EXISTS journal_runs (
    run_id TEXT PRIMARY KEY,
    created_at INTEGER NOT NULL,
    unit TEXT NOT NULL,
    model_order INTEGER NOT NULL,
    target_length INTEGER NOT NULL,
    token_count INTEGER NOT NULL,
    seed INTEGER,
    interactive INTEGER NOT NULL DEFAULT 0,
    output TEXT NOT NULL
);
`
		schemaSources = `
CREATE TABLE IF NOT EXISTS journal_sources (
    run_id TEXT NOT NULL,
    position INTEGER NOT NULL,
    path TEXT NOT NULL,
    token_count INTEGER NOT NULL,
    PRIMARY KEY (run_id, position)
);
`
		indexCreated = `CREATE INDEX IF NOT EXISTS journal_runs_created ON journal_runs (created_at);`
	)

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	if _, err = tx.Exec(schemaRuns); err != nil {
		return fmt.Errorf("could not create runs schema: %w", err)
	}
	if _, err = tx.Exec(schemaSources); err != nil {
		return fmt.Errorf("could not create sources schema: %w", err)
	}
	if _, err = tx.Exec(indexCreated); err != nil {
		return fmt.Errorf("could not create runs index: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("could not commit transaction: %w", err)
	}
	return nil
}

// Journal records and queries runs. It holds prepared statements for the
// read paths; writes run inside their own transactions.
type Journal struct {
	db             *sql.DB
	stmtGetRun     *sql.Stmt
	stmtGetSources *sql.Stmt
	stmtRecent     *sql.Stmt
	stmtAll        *sql.Stmt
	logger         *slog.Logger
	now            func() time.Time
}

// New prepares the journal's statements against a database on which
// SetupSchema has already run. On failure every statement prepared so far is
// closed.
func New(db *sql.DB) (_ *Journal, err error) {
	const runColumns = `run_id, created_at, unit, model_order, target_length, token_count, seed, interactive, output`

	var prepared []*sql.Stmt
	defer func() {
		if err != nil {
			for _, stmt := range prepared {
				_ = stmt.Close()
			}
		}
	}()
	prepare := func(query string) (*sql.Stmt, error) {
		stmt, err := db.Prepare(query)
		if err != nil {
			return nil, fmt.Errorf("failed to prepare statement: %w", err)
		}
		prepared = append(prepared, stmt)
		return stmt, nil
	}

	stmtGetRun, err := prepare(`SELECT ` + runColumns + ` FROM journal_runs WHERE run_id = ?;`)
	if err != nil {
		return nil, err
	}

	stmtGetSources, err := prepare(`SELECT path, token_count FROM journal_sources WHERE run_id = ? ORDER BY position;`)
	if err != nil {
		return nil, err
	}

	stmtRecent, err := prepare(`SELECT ` + runColumns + ` FROM journal_runs ORDER BY created_at DESC, rowid DESC LIMIT ?;`)
	if err != nil {
		return nil, err
	}

	stmtAll, err := prepare(`SELECT ` + runColumns + ` FROM journal_runs ORDER BY created_at, rowid;`)
	if err != nil {
		return nil, err
	}

	return &Journal{
		db:             db,
		stmtGetRun:     stmtGetRun,
		stmtGetSources: stmtGetSources,
		stmtRecent:     stmtRecent,
		stmtAll:        stmtAll,
		logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:            time.Now,
	}, nil
}

// Close releases the prepared statements.
func (j *Journal) Close() {
	_ = j.stmtGetRun.Close()
	_ = j.stmtGetSources.Close()
	_ = j.stmtRecent.Close()
	_ = j.stmtAll.Close()
}

// SetLogger sets the logger for the Journal. By default, all logs are discarded.
func (j *Journal) SetLogger(logger *slog.Logger) {
	if logger != nil {
		j.logger = logger
	}
}

// Record stores run and its sources in one transaction. A new ID is always
// assigned; CreatedAt is set to the current time unless the caller provided
// one. The stored run is returned.
func (j *Journal) Record(ctx context.Context, run Run) (Run, error) {
	run.ID = uuid.NewString()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = j.now()
	}
	run.CreatedAt = run.CreatedAt.UTC().Truncate(time.Millisecond)

	var seed sql.NullInt64
	if run.Seed != nil {
		// SQLite integers are signed; the bits round-trip through int64.
		seed = sql.NullInt64{Int64: int64(*run.Seed), Valid: true}
	}

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return Run{}, fmt.Errorf("could not begin transaction: %w", err)
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	_, err = tx.ExecContext(ctx, `
        INSERT INTO journal_runs (run_id, created_at, unit, model_order, target_length, token_count, seed, interactive, output)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
    `, run.ID, run.CreatedAt.UnixMilli(), run.Unit, run.Order, run.TargetLength, run.TokenCount, seed, run.Interactive, run.Output)
	if err != nil {
		return Run{}, fmt.Errorf("failed to insert run: %w", err)
	}

	for i, src := range run.Sources {
		_, err = tx.ExecContext(ctx, `INSERT INTO journal_sources (run_id, position, path, token_count) VALUES (?, ?, ?, ?)`,
			run.ID, i, src.Path, src.Tokens)
		if err != nil {
			return Run{}, fmt.Errorf("failed to insert source %s: %w", src.Path, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return Run{}, fmt.Errorf("failed to commit run: %w", err)
	}

	j.logger.DebugContext(ctx, "Run recorded",
		slog.String("run_id", run.ID),
		slog.Int("token_count", run.TokenCount),
		slog.Int("sources", len(run.Sources)),
	)
	return run, nil
}

// Get returns the run with the given ID, or ErrRunNotFound.
func (j *Journal) Get(ctx context.Context, id string) (Run, error) {
	run, err := scanRun(j.stmtGetRun.QueryRowContext(ctx, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return Run{}, fmt.Errorf("failed to load run %s: %w", id, err)
	}
	if run.Sources, err = j.sources(ctx, run.ID); err != nil {
		return Run{}, err
	}
	return run, nil
}

// Recent returns up to limit runs, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		return []Run{}, nil
	}
	rows, err := j.stmtRecent.QueryContext(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("could not query recent runs: %w", err)
	}
	return j.collect(ctx, rows)
}

// Stats returns totals over every recorded run.
func (j *Journal) Stats(ctx context.Context) (*Stats, error) {
	var stats Stats
	err := j.db.QueryRowContext(ctx, `
        SELECT COUNT(*), COALESCE(SUM(token_count), 0), COALESCE(SUM(interactive), 0)
        FROM journal_runs
    `).Scan(&stats.Runs, &stats.TokensGenerated, &stats.InteractiveRuns)
	if err != nil {
		return nil, fmt.Errorf("failed to query run totals: %w", err)
	}
	err = j.db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT path) FROM journal_sources`).Scan(&stats.DistinctSources)
	if err != nil {
		return nil, fmt.Errorf("failed to count sources: %w", err)
	}
	return &stats, nil
}

// Prune deletes every run created before the cutoff and returns how many were
// removed.
func (j *Journal) Prune(ctx context.Context, before time.Time) (int64, error) {
	cutoff := before.UnixMilli()

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("could not begin transaction: %w", err)
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	_, err = tx.ExecContext(ctx, `DELETE FROM journal_sources WHERE run_id IN (SELECT run_id FROM journal_runs WHERE created_at < ?)`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune sources: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM journal_runs WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit prune: %w", err)
	}

	j.logger.InfoContext(ctx, "Journal pruned",
		slog.Time("before", before),
		slog.Int64("runs_removed", removed),
	)
	return removed, nil
}

// Export writes every run, oldest first, to w as indented JSON.
func (j *Journal) Export(ctx context.Context, w io.Writer) error {
	rows, err := j.stmtAll.QueryContext(ctx)
	if err != nil {
		return fmt.Errorf("could not query runs for export: %w", err)
	}
	runs, err := j.collect(ctx, rows)
	if err != nil {
		return err
	}

	j.logger.InfoContext(ctx, "Journal exported", slog.Int("runs_exported", len(runs)))

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(runs)
}

// collect drains rows and attaches sources to each run. The rows are closed
// before the source lookups so a single-connection pool cannot deadlock.
func (j *Journal) collect(ctx context.Context, rows *sql.Rows) ([]Run, error) {
	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	for i := range runs {
		sources, err := j.sources(ctx, runs[i].ID)
		if err != nil {
			return nil, err
		}
		runs[i].Sources = sources
	}
	return runs, nil
}

func (j *Journal) sources(ctx context.Context, id string) ([]Source, error) {
	rows, err := j.stmtGetSources.QueryContext(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("could not query sources for run %s: %w", id, err)
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	sources := []Source{}
	for rows.Next() {
		var src Source
		if err = rows.Scan(&src.Path, &src.Tokens); err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	return sources, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var (
		run         Run
		createdAt   int64
		seed        sql.NullInt64
		interactive bool
	)
	err := row.Scan(&run.ID, &createdAt, &run.Unit, &run.Order, &run.TargetLength, &run.TokenCount, &seed, &interactive, &run.Output)
	if err != nil {
		return Run{}, err
	}
	run.CreatedAt = time.UnixMilli(createdAt).UTC()
	run.Interactive = interactive
	if seed.Valid {
		s := uint64(seed.Int64)
		run.Seed = &s
	}
	return run, nil
}
