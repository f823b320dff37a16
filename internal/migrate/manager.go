// Package migrate applies the embedded schema migrations and seed data with goose.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"time"

	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/database"
	"github.com/sirupsen/logrus"

	"safeworks.org/ptw/internal/obs"
)

const (
	defaultMigrationsTable = "goose_db_version"
	defaultSeedsTable      = "goose_seed_version"
)

//go:embed sql/migrations/*.sql sql/seeds/*.sql
var embedded embed.FS

// Manager executes the embedded SQL migrations and seed files.
type Manager struct {
	db              *sql.DB
	migrationsTable string
	seedsTable      string
	logger          *logrus.Entry
}

// Option configures Manager.
type Option func(*Manager)

// WithMigrationsTable overrides the default migrations bookkeeping table.
func WithMigrationsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.migrationsTable = name
		}
	}
}

// WithSeedsTable overrides the default seeds bookkeeping table.
func WithSeedsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.seedsTable = name
		}
	}
}

// NewManager constructs a Manager.
func NewManager(db *sql.DB, opts ...Option) *Manager {
	m := &Manager{
		db:              db,
		migrationsTable: defaultMigrationsTable,
		seedsTable:      defaultSeedsTable,
		logger:          obs.Component("migrate"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Entry is the state of one migration or seed file.
type Entry struct {
	Version   int64
	Name      string
	Applied   bool
	AppliedAt time.Time
}

func (m *Manager) provider(dir, table string) (*goose.Provider, error) {
	fsys, err := fs.Sub(embedded, dir)
	if err != nil {
		return nil, err
	}
	store, err := database.NewStore(database.DialectPostgres, table)
	if err != nil {
		return nil, fmt.Errorf("goose store %s: %w", table, err)
	}
	p, err := goose.NewProvider("", m.db, fsys, goose.WithStore(store))
	if err != nil {
		return nil, fmt.Errorf("goose provider %s: %w", dir, err)
	}
	return p, nil
}

func (m *Manager) migrations() (*goose.Provider, error) {
	return m.provider("sql/migrations", m.migrationsTable)
}

func (m *Manager) seeds() (*goose.Provider, error) {
	return m.provider("sql/seeds", m.seedsTable)
}

// Up applies all pending migrations and returns the applied file names.
func (m *Manager) Up(ctx context.Context) ([]string, error) {
	p, err := m.migrations()
	if err != nil {
		return nil, err
	}
	return m.apply(ctx, p, "migration")
}

// Down rolls back the most recent applied migration.
func (m *Manager) Down(ctx context.Context) (string, error) {
	p, err := m.migrations()
	if err != nil {
		return "", err
	}
	res, err := p.Down(ctx)
	if err != nil {
		return "", fmt.Errorf("rollback migration: %w", err)
	}
	name := path.Base(res.Source.Path)
	m.logger.WithFields(logrus.Fields{"file": name, "duration_ms": res.Duration.Milliseconds()}).Info("migration rolled back")
	return name, nil
}

// Status returns every migration with its applied state, in version order.
func (m *Manager) Status(ctx context.Context) ([]Entry, error) {
	p, err := m.migrations()
	if err != nil {
		return nil, err
	}
	statuses, err := p.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("migration status: %w", err)
	}
	out := make([]Entry, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, Entry{
			Version:   s.Source.Version,
			Name:      path.Base(s.Source.Path),
			Applied:   s.State == goose.StateApplied,
			AppliedAt: s.AppliedAt,
		})
	}
	return out, nil
}

// Seed applies seed files that have not run yet. Seed statements are
// written to be safe when the rows already exist.
func (m *Manager) Seed(ctx context.Context) ([]string, error) {
	p, err := m.seeds()
	if err != nil {
		return nil, err
	}
	return m.apply(ctx, p, "seed")
}

// Sources lists the embedded migration file names in version order.
func (m *Manager) Sources() ([]string, error) {
	p, err := m.migrations()
	if err != nil {
		return nil, err
	}
	var out []string
	for _, s := range p.ListSources() {
		out = append(out, path.Base(s.Path))
	}
	return out, nil
}

func (m *Manager) apply(ctx context.Context, p *goose.Provider, what string) ([]string, error) {
	results, err := p.Up(ctx)
	if err != nil {
		return nil, fmt.Errorf("apply %s: %w", what, err)
	}
	names := make([]string, 0, len(results))
	for _, r := range results {
		name := path.Base(r.Source.Path)
		names = append(names, name)
		m.logger.WithFields(logrus.Fields{"file": name, "duration_ms": r.Duration.Milliseconds()}).Infof("%s applied", what)
	}
	return names, nil
}
