// Package migrate applies plain-SQL schema migrations and seed files in
// lexical order, recording what ran in a single bookkeeping table.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const historyTable = "schema_history"

// Kinds of tracked SQL files.
const (
	KindMigration = "migration"
	KindSeed      = "seed"
)

// Runner applies SQL files from disk against a live database. Migrations use
// the NNNN_name.up.sql / NNNN_name.down.sql convention; seeds are bare .sql
// files applied once each.
type Runner struct {
	db            *sql.DB
	migrationsDir string
	seedsDir      string
}

// NewRunner constructs a Runner over the given directories.
func NewRunner(db *sql.DB, migrationsDir, seedsDir string) *Runner {
	return &Runner{db: db, migrationsDir: migrationsDir, seedsDir: seedsDir}
}

// Up applies every pending migration in lexical order.
func (r *Runner) Up(ctx context.Context) error {
	if err := r.ensureHistory(ctx); err != nil {
		return err
	}
	applied, err := r.applied(ctx, KindMigration)
	if err != nil {
		return err
	}
	files, err := listSQL(r.migrationsDir, ".up.sql")
	if err != nil {
		return err
	}
	for _, f := range files {
		if applied[f.name] {
			continue
		}
		if err := r.applyFile(ctx, f.path); err != nil {
			return fmt.Errorf("migration %s: %w", f.name, err)
		}
		if err := r.record(ctx, KindMigration, f.name); err != nil {
			return err
		}
	}
	return nil
}

// Down rolls back the most recently applied migration.
func (r *Runner) Down(ctx context.Context) error {
	if err := r.ensureHistory(ctx); err != nil {
		return err
	}
	history, err := r.History(ctx)
	if err != nil {
		return err
	}
	if len(history) == 0 {
		return errors.New("nothing to roll back")
	}
	last := history[len(history)-1]
	down := strings.TrimSuffix(filepath.Join(r.migrationsDir, last), ".up.sql") + ".down.sql"
	if _, err := os.Stat(down); err != nil {
		return fmt.Errorf("no down file for %s", last)
	}
	if err := r.applyFile(ctx, down); err != nil {
		return fmt.Errorf("rollback %s: %w", last, err)
	}
	_, err = r.db.ExecContext(ctx,
		`delete from `+historyTable+` where kind = $1 and name = $2`, KindMigration, last)
	return err
}

// Seed applies each seed file at most once.
func (r *Runner) Seed(ctx context.Context) error {
	if err := r.ensureHistory(ctx); err != nil {
		return err
	}
	applied, err := r.applied(ctx, KindSeed)
	if err != nil {
		return err
	}
	files, err := listSQL(r.seedsDir, ".sql")
	if err != nil {
		return err
	}
	for _, f := range files {
		if applied[f.name] {
			continue
		}
		if err := r.applyFile(ctx, f.path); err != nil {
			return fmt.Errorf("seed %s: %w", f.name, err)
		}
		if err := r.record(ctx, KindSeed, f.name); err != nil {
			return err
		}
	}
	return nil
}

// History returns applied migration names in application order.
func (r *Runner) History(ctx context.Context) ([]string, error) {
	if err := r.ensureHistory(ctx); err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx,
		`select name from `+historyTable+` where kind = $1 order by applied_at asc, name asc`,
		KindMigration)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (r *Runner) ensureHistory(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		create table if not exists `+historyTable+` (
			kind       text        not null,
			name       text        not null,
			applied_at timestamptz not null default now(),
			primary key (kind, name)
		)`)
	return err
}

func (r *Runner) applied(ctx context.Context, kind string) (map[string]bool, error) {
	rows, err := r.db.QueryContext(ctx,
		`select name from `+historyTable+` where kind = $1`, kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	seen := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		seen[name] = true
	}
	return seen, rows.Err()
}

// applyFile runs a whole SQL file inside one transaction. Files must not
// contain statements that cannot run in a transaction block.
func (r *Runner) applyFile(ctx context.Context, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, stmt := range splitStatements(string(raw)) {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *Runner) record(ctx context.Context, kind, name string) error {
	_, err := r.db.ExecContext(ctx,
		`insert into `+historyTable+`(kind, name, applied_at) values ($1, $2, $3)`,
		kind, name, time.Now().UTC())
	return err
}

type sqlFile struct {
	name string
	path string
}

func listSQL(dir, suffix string) ([]sqlFile, error) {
	if dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var files []sqlFile
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), suffix) {
			continue
		}
		files = append(files, sqlFile{name: e.Name(), path: filepath.Join(dir, e.Name())})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].name < files[j].name })
	return files, nil
}

// splitStatements splits on semicolons outside single-quoted strings.
func splitStatements(script string) []string {
	var (
		stmts    []string
		current  strings.Builder
		inString bool
	)
	for _, r := range script {
		current.WriteRune(r)
		switch r {
		case '\'':
			inString = !inString
		case ';':
			if !inString {
				stmts = append(stmts, current.String())
				current.Reset()
			}
		}
	}
	if strings.TrimSpace(current.String()) != "" {
		stmts = append(stmts, current.String())
	}
	return stmts
}
