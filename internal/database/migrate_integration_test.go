package database

import (
	"context"
	"strings"
	"testing"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
)

// startPostgres launches a disposable pgvector-enabled PostgreSQL and
// returns its connection string.
func startPostgres(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx, "pgvector/pgvector:pg17",
		tcpostgres.WithDatabase("persona_test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Fatalf("starting postgres container: %v", err)
	}
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(container) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}
	return dsn
}

func TestMigrate_UpIsIdempotent(t *testing.T) {
	dsn := startPostgres(t)

	if err := Migrate(dsn); err != nil {
		t.Fatalf("Migrate() error: %v", err)
	}
	if err := Migrate(dsn); err != nil {
		t.Fatalf("second Migrate() error: %v", err)
	}
}

// The questions table is created at runtime with a foreign key into
// contents, so the down migration must drop questions first.
func TestMigrate_DownWithRuntimeQuestionsTable(t *testing.T) {
	ctx := context.Background()
	dsn := startPostgres(t)

	if err := Migrate(dsn); err != nil {
		t.Fatalf("Migrate() error: %v", err)
	}

	pool, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(pool.Close)

	_, err = pool.Exec(ctx, `
		CREATE TABLE questions (
			id          UUID PRIMARY KEY,
			cid         UUID NOT NULL REFERENCES contents(id) ON DELETE CASCADE,
			meta        JSONB NOT NULL DEFAULT '{}',
			question    TEXT NOT NULL,
			embedding   vector(3) NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	if err != nil {
		t.Fatalf("creating questions table: %v", err)
	}

	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		t.Fatalf("creating migration source: %v", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src,
		strings.Replace(dsn, "postgres://", "pgx5://", 1))
	if err != nil {
		t.Fatalf("creating migrate instance: %v", err)
	}
	defer m.Close()

	if err := m.Down(); err != nil {
		t.Fatalf("Down() error: %v", err)
	}
}
