// Package testutil provides test helpers including container management
// and a line-protocol test client.
package testutil

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/cory-johannsen/colony/internal/config"
	"github.com/cory-johannsen/colony/internal/storage/postgres"
)

const (
	postgresImage = "postgres:16-alpine"
	postgresCreds = "colony"
)

// Postgres is a migrated PostgreSQL instance running in a disposable container.
type Postgres struct {
	container testcontainers.Container
	Config    config.DatabaseConfig
	Pool      *postgres.Pool
	Schema    postgres.MigrationResult
}

// StartPostgres launches a container, connects to it and applies every migration.
//
// Precondition: Docker must be available.
// Postcondition: Returns a ready instance, or an error after cleaning up whatever was started.
func StartPostgres(ctx context.Context) (*Postgres, error) {
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        postgresImage,
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     postgresCreds,
				"POSTGRES_PASSWORD": postgresCreds,
				"POSTGRES_DB":       postgresCreds,
			},
			// The server logs readiness twice: once for the init run, once for real.
			WaitingFor: wait.ForAll(
				wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
				wait.ForListeningPort("5432/tcp"),
			).WithDeadline(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		return nil, fmt.Errorf("starting postgres container: %w", err)
	}

	pg := &Postgres{container: container}
	if err := pg.connect(ctx); err != nil {
		_ = container.Terminate(ctx)
		return nil, err
	}
	return pg, nil
}

func (pg *Postgres) connect(ctx context.Context) error {
	host, err := pg.container.Host(ctx)
	if err != nil {
		return fmt.Errorf("getting container host: %w", err)
	}
	port, err := pg.container.MappedPort(ctx, "5432")
	if err != nil {
		return fmt.Errorf("getting mapped port: %w", err)
	}

	pg.Config = config.DatabaseConfig{
		Host:            host,
		Port:            port.Int(),
		User:            postgresCreds,
		Password:        postgresCreds,
		Name:            postgresCreds,
		SSLMode:         "disable",
		MaxConns:        5,
		MinConns:        1,
		MaxConnLifetime: 5 * time.Minute,
	}

	pg.Schema, err = postgres.Migrate(pg.Config.DSN(), MigrationsDir(), false, 0)
	if err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}
	pg.Pool, err = postgres.NewPool(ctx, pg.Config)
	if err != nil {
		return fmt.Errorf("connecting to test postgres: %w", err)
	}
	return nil
}

// Terminate closes the pool and removes the container.
func (pg *Postgres) Terminate(ctx context.Context) error {
	if pg.Pool != nil {
		pg.Pool.Close()
	}
	return pg.container.Terminate(ctx)
}

// MigrationsDir returns the absolute path of the repository's migrations directory.
func MigrationsDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "..", "migrations")
}

// NewPool starts a migrated PostgreSQL container for the calling test and
// returns its pool. Skipped under -short.
//
// Postcondition: The container is removed when the test finishes.
func NewPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres container test in short mode")
	}
	ctx := context.Background()
	start := time.Now()

	pg, err := StartPostgres(ctx)
	if err != nil {
		t.Fatalf("%v [%s]", err, time.Since(start))
	}
	t.Cleanup(func() { _ = pg.Terminate(ctx) })

	t.Logf("postgres ready at schema version %d [%s]", pg.Schema.Version, time.Since(start))
	return pg.Pool.DB()
}

