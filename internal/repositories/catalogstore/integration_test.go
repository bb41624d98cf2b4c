package catalogstore

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/sprout/internal/testinfra"
	"github.com/Ramsey-B/sprout/pkg/confidence"
	"github.com/Ramsey-B/sprout/pkg/database"
	"github.com/Ramsey-B/sprout/pkg/flags"
	"github.com/Ramsey-B/sprout/pkg/matching"
	"github.com/Ramsey-B/sprout/pkg/models"
	"github.com/Ramsey-B/sprout/pkg/processor"
)

// newPostgresStore starts a Postgres container, migrates and empties the catalog
func newPostgresStore(t *testing.T) *Store {
	t.Helper()
	url := testinfra.Postgres(t)
	logger := testLogger()

	raw, err := sqlx.Connect(database.DriverPostgres, url)
	require.NoError(t, err)
	db := database.NewDatabaseInstance(raw, logger)
	t.Cleanup(func() { _ = db.Close() })

	migrations := database.NewMigrationService(logger, &database.MigrationConfig{
		MigrationFolderPath: filepath.Join("..", "..", "..", "db"),
	})
	require.NoError(t, migrations.Migrate(db))

	_, err = db.ExecContext(context.Background(), "TRUNCATE scraper_flags, scraper_runs, prices, products, brands CASCADE")
	require.NoError(t, err)

	return NewStore(db, logger)
}

func TestPostgres_ConcurrentRunsConverge(t *testing.T) {
	ctx := context.Background()
	logger := testLogger()
	store := newPostgresStore(t)

	resolver := confidence.NewResolver(logger, 0)
	scorer := confidence.NewScorer(matching.NewMatcher(matching.DefaultConfig()), resolver, confidence.DefaultConfig(), logger)
	flagService := flags.NewService(store, resolver, nil, logger)
	p := processor.NewProcessor(store, scorer, resolver, flagService, nil, processor.DefaultConfig(), logger)

	listings := []models.RawListing{
		{Name: "Blue Dream", Brand: "Zion Cultivar", Category: "flower", WeightText: "3.5g", Price: f64(40)},
		{Name: "Gelato 41", Brand: "Connected", Category: "flower", WeightText: "1g", Price: f64(15)},
		{Name: "Sour Diesel Cart", Brand: "Stiiizy", Category: "vape", WeightText: "0.5g", Price: f64(30)},
	}
	reversed := []models.RawListing{listings[2], listings[1], listings[0]}

	var wg sync.WaitGroup
	results := make([]processor.RunResult, 2)
	errs := make([]error, 2)
	for i, batch := range [][]models.RawListing{listings, reversed} {
		wg.Add(1)
		go func(i int, batch []models.RawListing) {
			defer wg.Done()
			results[i], errs[i] = p.Run(ctx, []string{"d1", "d2"}[i], batch)
		}(i, batch)
	}
	wg.Wait()

	for i := range errs {
		require.NoError(t, errs[i])
		assert.Equal(t, 3, results[i].Processed+results[i].Errors)
	}

	read, err := store.Begin(ctx)
	require.NoError(t, err)
	defer read.Rollback(ctx)

	parents, err := read.ListParents(ctx)
	require.NoError(t, err)
	assert.Len(t, parents, 3)

	keys := map[string]bool{}
	for _, parent := range parents {
		assert.False(t, keys[parent.MatchKey], "match key %q duplicated", parent.MatchKey)
		keys[parent.MatchKey] = true
	}
}
