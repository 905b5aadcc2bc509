// Package postgres is the PostgreSQL implementation of store.Store for
// server deployments. Workflows are stored as JSONB documents.
package postgres

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mzli/pillarflow/internal/store"
	"github.com/mzli/pillarflow/pkg/models"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is the PostgreSQL implementation of store.Store.
type Store struct {
	Pool *pgxpool.Pool
}

// Open opens a PostgreSQL connection pool and runs migrations. dsn may be
// empty to use DATABASE_URL env.
func Open(dsn string) (store.Store, error) {
	if dsn == "" {
		dsn = os.Getenv("DATABASE_URL")
	}
	if dsn == "" {
		return nil, errors.New("postgres DSN or DATABASE_URL required")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 20
	pool, err := pgxpool.NewWithConfig(context.Background(), cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, err
	}
	s := &Store{Pool: pool}
	if err := s.Migrate(context.Background()); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	if s == nil || s.Pool == nil {
		return nil
	}
	s.Pool.Close()
	return nil
}

// Migrate runs pending migrations (only those not already in schema_migrations).
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.Pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
  version INTEGER PRIMARY KEY,
  applied_at BIGINT NOT NULL
);`); err != nil {
		return err
	}

	applied := make(map[int]bool)
	rows, err := s.Pool.Query(ctx, `SELECT version FROM schema_migrations`)
	if err == nil {
		defer rows.Close()
		for rows.Next() {
			var v int
			if err := rows.Scan(&v); err != nil {
				break
			}
			applied[v] = true
		}
	}

	type mig struct {
		version int
		name    string
		sql     string
	}
	var migs []mig
	files, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return err
	}
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".sql") {
			continue
		}
		v, err := strconv.Atoi(strings.SplitN(strings.TrimSuffix(f.Name(), ".sql"), "_", 2)[0])
		if err != nil {
			continue
		}
		if applied[v] {
			continue
		}
		body, _ := migrationsFS.ReadFile("migrations/" + f.Name())
		migs = append(migs, mig{v, f.Name(), string(body)})
	}
	sort.Slice(migs, func(i, j int) bool { return migs[i].version < migs[j].version })

	for _, m := range migs {
		if _, err := s.Pool.Exec(ctx, m.sql); err != nil && !strings.Contains(err.Error(), "already exists") {
			return err
		}
		if _, err := s.Pool.Exec(ctx, `INSERT INTO schema_migrations(version, applied_at) VALUES($1, $2) ON CONFLICT (version) DO NOTHING`, m.version, time.Now().Unix()); err != nil {
			return err
		}
	}
	return nil
}

// SaveWorkflow upserts the full serialized workflow under its id.
func (s *Store) SaveWorkflow(ctx context.Context, w *models.DailyWorkflow) error {
	doc, err := json.Marshal(w)
	if err != nil {
		return err
	}
	_, err = s.Pool.Exec(ctx, `
INSERT INTO workflows(workflow_id, user_id, date, status, doc, updated_at) VALUES($1, $2, $3, $4, $5, $6)
ON CONFLICT (workflow_id) DO UPDATE SET user_id=EXCLUDED.user_id, date=EXCLUDED.date, status=EXCLUDED.status, doc=EXCLUDED.doc, updated_at=EXCLUDED.updated_at`,
		w.ID, w.UserID, w.Date, w.WorkflowStatus, doc, time.Now().Unix())
	return err
}

// LoadWorkflows reads every stored workflow, skipping and deleting corrupt
// records and reporting them in the error slice.
func (s *Store) LoadWorkflows(ctx context.Context) ([]models.DailyWorkflow, []error) {
	rows, err := s.Pool.Query(ctx, `SELECT workflow_id, doc FROM workflows ORDER BY workflow_id`)
	if err != nil {
		return nil, []error{err}
	}
	defer rows.Close()

	var (
		workflows []models.DailyWorkflow
		errs      []error
		corrupt   []string
	)
	for rows.Next() {
		var id string
		var doc []byte
		if err := rows.Scan(&id, &doc); err != nil {
			errs = append(errs, err)
			continue
		}
		w, err := store.DecodeWorkflow(doc)
		if err != nil {
			errs = append(errs, fmt.Errorf("workflow %s: %w", id, err))
			corrupt = append(corrupt, id)
			continue
		}
		workflows = append(workflows, *w)
	}
	if err := rows.Err(); err != nil {
		errs = append(errs, err)
	}
	for _, id := range corrupt {
		if err := s.DeleteWorkflow(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("delete corrupt workflow %s: %w", id, err))
		}
	}
	return workflows, errs
}

// DeleteWorkflow removes the workflow with the given id, if present.
func (s *Store) DeleteWorkflow(ctx context.Context, id string) error {
	_, err := s.Pool.Exec(ctx, `DELETE FROM workflows WHERE workflow_id = $1`, id)
	return err
}
