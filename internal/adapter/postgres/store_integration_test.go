//go:build integration

package postgres_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/couchcryptid/striga-risk/internal/adapter/postgres"
	"github.com/couchcryptid/striga-risk/internal/domain"
	"github.com/couchcryptid/striga-risk/internal/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startPostgres(ctx context.Context, t *testing.T) string {
	t.Helper()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "striga",
				"POSTGRES_PASSWORD": "striga",
				"POSTGRES_DB":       "striga",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err, "start postgres container")
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(container) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)
	return fmt.Sprintf("postgres://striga:striga@%s:%s/striga?sslmode=disable", host, port.Port())
}

func record(id string, score float64, assessedAt time.Time) domain.AssessmentRecord {
	rec := domain.AssessmentRecord{
		ID:              id,
		Request:         domain.AssessmentRequest{CropType: "sorghum", Latitude: -10.2, Longitude: 34.1},
		Crop:            domain.Sorghum,
		PlantingDate:    domain.MustParseDate("2024-03-01"),
		WeedRemovalDate: domain.MustParseDate("2024-03-20"),
		ObservationDate: domain.MustParseDate("2024-05-01"),
		AssessedAt:      assessedAt,
	}
	rec.ApplyResult(domain.NewResult(score))
	return rec
}

func TestStore_SaveGetRecent(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	dsn := startPostgres(ctx, t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := postgres.Open(ctx, dsn, observability.NewMetricsForTesting(), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.Migrate(ctx))
	require.NoError(t, store.Migrate(ctx), "migrate is idempotent")
	require.NoError(t, store.CheckReadiness(ctx))

	base := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	first := record("assess-a", 0.42, base)
	second := record("assess-b", 0.91, base.Add(time.Hour))

	require.NoError(t, store.LoadBatch(ctx, []domain.AssessmentRecord{first, second}))

	// A replay with a different score keeps the original row.
	replay := record("assess-a", 0.1, base)
	require.NoError(t, store.Save(ctx, replay))

	got, err := store.Get(ctx, "assess-a")
	require.NoError(t, err)
	require.NotNil(t, got.ComputedRisk)
	assert.InDelta(t, 0.42, *got.ComputedRisk, 1e-9)
	assert.Equal(t, domain.Sorghum, got.Crop)
	assert.True(t, base.Equal(got.AssessedAt))

	_, err = store.Get(ctx, "assess-missing")
	require.ErrorIs(t, err, domain.ErrAssessmentNotFound)

	recent, err := store.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "assess-b", recent[0].ID)
	assert.Equal(t, "High risk", recent[0].TierLabel)
	assert.Equal(t, "assess-a", recent[1].ID)
}
