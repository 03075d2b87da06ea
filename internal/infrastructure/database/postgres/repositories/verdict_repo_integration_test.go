//go:build integration

package repositories_test

import (
	"context"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/turtacn/NaturaCheck/internal/domain/eligibility"
	"github.com/turtacn/NaturaCheck/internal/infrastructure/database/postgres"
	"github.com/turtacn/NaturaCheck/internal/infrastructure/database/postgres/repositories"
	"github.com/turtacn/NaturaCheck/internal/infrastructure/monitoring/logging"
)

// startPostgres launches a PostgreSQL 16 container, migrates it and returns
// both a repository connection and a pgx pool for assertions.
func startPostgres(t *testing.T) (*postgres.Connection, *pgxpool.Pool) {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "test",
				"POSTGRES_PASSWORD": "test",
				"POSTGRES_DB":       "naturacheck_test",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	mapped, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)
	port, err := strconv.Atoi(mapped.Port())
	require.NoError(t, err)

	conn, err := postgres.NewConnection(postgres.PostgresConfig{
		Host: host, Port: port, Database: "naturacheck_test", Username: "test", Password: "test",
	}, logging.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, conn.RunMigrations())

	pool, err := pgxpool.New(ctx, fmt.Sprintf("postgres://test:test@%s:%d/naturacheck_test?sslmode=disable", host, port))
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return conn, pool
}

func TestVerdictRepository_RoundTrip(t *testing.T) {
	conn, pool := startPostgres(t)
	repo := repositories.NewVerdictRepository(conn, nil)
	ctx := context.Background()

	first := &eligibility.CaseVerdict{
		CaseID: "case-it-1", Track: "provisional", Eligibility: eligibility.ManualReview,
		CompletenessPercentage: 50, MissingDocuments: []string{"CPF", "CRNM"},
		JustificationSource: eligibility.SourceDocumentCompleteness, CatalogVersion: "2025.1",
	}
	rec, err := repo.Save(ctx, first, "fp-1")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Revision)

	second := *first
	second.Eligibility = eligibility.Approve
	second.CompletenessPercentage = 100
	second.MissingDocuments = []string{}
	rec, err = repo.Save(ctx, &second, "fp-2")
	require.NoError(t, err)
	assert.Equal(t, 2, rec.Revision)

	got, err := repo.Get(ctx, "case-it-1")
	require.NoError(t, err)
	assert.Equal(t, eligibility.Approve, got.Verdict.Eligibility)
	assert.Equal(t, "fp-2", got.Fingerprint)

	history, err := repo.History(ctx, "case-it-1", 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, eligibility.ManualReview, history[1].Verdict.Eligibility)

	var missing []string
	require.NoError(t, pool.QueryRow(ctx,
		"SELECT missing_documents FROM case_verdicts WHERE case_id = $1", "case-it-1").Scan(&missing))
	assert.Empty(t, missing)

	counts, err := repo.CountByEligibility(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[eligibility.Approve])

	version, dirty, err := conn.MigrationStatus()
	require.NoError(t, err)
	assert.EqualValues(t, 2, version)
	assert.False(t, dirty)
}
