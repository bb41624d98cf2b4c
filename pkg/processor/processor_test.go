package processor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/Ramsey-B/sprout/pkg/catalog"
	"github.com/Ramsey-B/sprout/pkg/catalog/memory"
	"github.com/Ramsey-B/sprout/pkg/confidence"
	"github.com/Ramsey-B/sprout/pkg/events"
	"github.com/Ramsey-B/sprout/pkg/flags"
	"github.com/Ramsey-B/sprout/pkg/kafka"
	"github.com/Ramsey-B/sprout/pkg/matching"
	"github.com/Ramsey-B/sprout/pkg/models"
	"github.com/Ramsey-B/sprout/pkg/tracing"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func f64(v float64) *float64 { return &v }

func listing(name, brand, weightText string, price float64) models.RawListing {
	return models.RawListing{Name: name, Brand: brand, Category: "flower", WeightText: weightText, Price: f64(price)}
}

type panickingRanker struct{}

func (panickingRanker) Candidates(models.RawListing, []models.Parent) []matching.Candidate {
	panic("bad listing")
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []*kafka.CatalogEvent
}

func (r *recordingPublisher) PublishCatalogEvents(_ context.Context, evts []*kafka.CatalogEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evts...)
	return nil
}

func (r *recordingPublisher) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.EventType)
	}
	return out
}

// faultyStore wraps the memory store so tests can inject store failures
type faultyStore struct {
	*memory.Store

	mu             sync.Mutex
	parentFailures int
	parentErr      error
	failPrice      func(price *models.Price) error
}

func (s *faultyStore) Begin(ctx context.Context) (catalog.Tx, error) {
	tx, err := s.Store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &faultyTx{Tx: tx, store: s}, nil
}

type faultyTx struct {
	catalog.Tx
	store *faultyStore
}

func (tx *faultyTx) CreateParent(ctx context.Context, parent *models.Parent) error {
	tx.store.mu.Lock()
	if tx.store.parentFailures > 0 {
		tx.store.parentFailures--
		tx.store.mu.Unlock()
		return tx.store.parentErr
	}
	tx.store.mu.Unlock()
	return tx.Tx.CreateParent(ctx, parent)
}

func (tx *faultyTx) UpsertPrice(ctx context.Context, price *models.Price) error {
	if tx.store.failPrice != nil {
		if err := tx.store.failPrice(price); err != nil {
			return err
		}
	}
	return tx.Tx.UpsertPrice(ctx, price)
}

type fixture struct {
	ctx       context.Context
	store     *faultyStore
	processor *Processor
	flags     *flags.Service
	publisher *recordingPublisher
}

func newFixture(t *testing.T, ranker confidence.Ranker, locker Locker) *fixture {
	t.Helper()
	logger := testLogger()
	store := &faultyStore{Store: memory.NewStore()}
	if ranker == nil {
		ranker = matching.NewMatcher(matching.DefaultConfig())
	}
	resolver := confidence.NewResolver(logger, 0)
	scorer := confidence.NewScorer(ranker, resolver, confidence.DefaultConfig(), logger)
	publisher := &recordingPublisher{}
	emitter := events.NewEmitter(publisher, logger)
	flagService := flags.NewService(store, resolver, emitter, logger)

	config := DefaultConfig()
	config.RetryBackoff = time.Millisecond
	config.Locker = locker

	return &fixture{
		ctx:       context.Background(),
		store:     store,
		processor: NewProcessor(store, scorer, resolver, flagService, emitter, config, logger),
		flags:     flagService,
		publisher: publisher,
	}
}

func (fx *fixture) read(t *testing.T) catalog.Tx {
	t.Helper()
	tx, err := fx.store.Store.Begin(fx.ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tx.Rollback(fx.ctx) })
	return tx
}

func (fx *fixture) parents(t *testing.T) []models.Parent {
	t.Helper()
	parents, err := fx.read(t).ListParents(fx.ctx)
	require.NoError(t, err)
	return parents
}

func (fx *fixture) run(t *testing.T, id string) *models.ScraperRun {
	t.Helper()
	run, err := fx.read(t).GetRun(fx.ctx, id)
	require.NoError(t, err)
	return run
}

func TestRun_DuplicateListingsCollapse(t *testing.T) {
	fx := newFixture(t, nil, nil)

	result, err := fx.processor.Run(fx.ctx, "disp-1", []models.RawListing{
		listing("Blue Dream", "Zion", "3.5g", 35),
		listing("Blue Dream", "Zion", "3.5g", 35),
	})
	require.NoError(t, err)

	assert.Equal(t, 2, result.Found)
	assert.Equal(t, 2, result.Processed)
	assert.Equal(t, 1, result.NewProducts)
	assert.Equal(t, 1, result.AutoMerged)
	assert.Zero(t, result.FlagsCreated)
	assert.Zero(t, result.Errors)

	parents := fx.parents(t)
	require.Len(t, parents, 1)
	assert.Equal(t, "Blue Dream", parents[0].Name)

	tx := fx.read(t)
	variants, err := tx.ListVariants(fx.ctx, parents[0].ID)
	require.NoError(t, err)
	require.Len(t, variants, 1)
	assert.Equal(t, "3.5g", variants[0].Weight)

	price, err := tx.GetPrice(fx.ctx, variants[0].ID, "disp-1")
	require.NoError(t, err)
	assert.Equal(t, 35.0, price.Amount)
	assert.True(t, price.InStock)

	run := fx.run(t, result.RunID)
	assert.Equal(t, models.ScraperRunStatusCompleted, run.Status)
	assert.NotNil(t, run.FinishedAt)
	assert.Equal(t, 2, run.Processed)

	assert.Equal(t, []string{
		string(events.EventTypeProductCreated),
		string(events.EventTypeVariantCreated),
		string(events.EventTypeRunCompleted),
	}, fx.publisher.types())
}

func TestRun_NewWeightBecomesVariant(t *testing.T) {
	fx := newFixture(t, nil, nil)

	result, err := fx.processor.Run(fx.ctx, "disp-1", []models.RawListing{
		listing("Gelato", "Cookies", "3.5g", 40),
		listing("Gelato", "Cookies", "7g", 70),
		listing("Gelato", "Cookies", "1/8 oz", 38),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.NewProducts)
	assert.Equal(t, 2, result.AutoMerged)

	parents := fx.parents(t)
	require.Len(t, parents, 1)
	variants, err := fx.read(t).ListVariants(fx.ctx, parents[0].ID)
	require.NoError(t, err)
	assert.Len(t, variants, 2)

	price, err := fx.read(t).GetPrice(fx.ctx, variants[0].ID, "disp-1")
	require.NoError(t, err)
	assert.Equal(t, 38.0, price.Amount)
}

func TestRun_ParseErrorsAreSkipped(t *testing.T) {
	fx := newFixture(t, nil, nil)

	result, err := fx.processor.Run(fx.ctx, "disp-1", []models.RawListing{
		{Name: "No Price"},
		{Name: "  ", Price: f64(10)},
		listing("OG Kush", "", "1g", 12),
	})
	require.NoError(t, err)

	assert.Equal(t, 3, result.Found)
	assert.Equal(t, 2, result.ParseErrors)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 1, result.NewProducts)
	assert.Len(t, fx.parents(t), 1)
}

func TestRun_MatchFailureBecomesFlag(t *testing.T) {
	fx := newFixture(t, panickingRanker{}, nil)

	result, err := fx.processor.Run(fx.ctx, "disp-1", []models.RawListing{
		listing("Blue Dream", "Zion", "3.5g", 35),
	})
	require.NoError(t, err)

	assert.Equal(t, 1, result.FlagsCreated)
	assert.Equal(t, 1, result.MatchFailures)
	assert.Empty(t, fx.parents(t))

	pending, err := fx.read(t).ListFlags(fx.ctx, models.FlagFilter{Status: models.ScraperFlagStatusPending})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Contains(t, pending[0].MergeReason, "matching failed")
	require.NotNil(t, pending[0].RunID)
	assert.Equal(t, result.RunID, *pending[0].RunID)
}

func TestRun_ReviewBandCreatesFlagOnly(t *testing.T) {
	fx := newFixture(t, nil, nil)
	_, err := fx.processor.Run(fx.ctx, "disp-1", []models.RawListing{listing("Blue Dream", "Zion Cultivar", "3.5g", 35)})
	require.NoError(t, err)

	result, err := fx.processor.Run(fx.ctx, "disp-2", []models.RawListing{listing("Bleu Dreem", "Zion Cultivar", "3.5g", 33)})
	require.NoError(t, err)

	assert.Equal(t, 1, result.FlagsCreated)
	assert.Zero(t, result.AutoMerged)
	assert.Zero(t, result.NewProducts)
	assert.Len(t, fx.parents(t), 1)

	pending, err := fx.read(t).ListFlags(fx.ctx, models.FlagFilter{DispensaryID: "disp-2"})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.NotNil(t, pending[0].MatchedProductID)
	assert.Equal(t, fx.parents(t)[0].ID, *pending[0].MatchedProductID)

	items, err := fx.flags.ListPending(fx.ctx, flags.ListFilter{DispensaryID: "disp-2"})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "86%", items[0].ConfidencePercent)
}

func TestRun_AnnotatesSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tracing.SetTracer(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)).Tracer("test"))
	t.Cleanup(func() { tracing.SetTracer(nil) })

	fx := newFixture(t, nil, nil)
	result, err := fx.processor.Run(fx.ctx, "disp-1", []models.RawListing{listing("Blue Dream", "Zion", "3.5g", 35)})
	require.NoError(t, err)

	var attrs map[string]string
	for _, span := range recorder.Ended() {
		if span.Name() != "processor.Processor.Run" {
			continue
		}
		attrs = make(map[string]string)
		for _, kv := range span.Attributes() {
			attrs[string(kv.Key)] = kv.Value.AsString()
		}
	}
	require.NotNil(t, attrs)
	assert.Equal(t, "disp-1", attrs["dispensary_id"])
	assert.Equal(t, result.RunID, attrs["run_id"])
}

func TestRun_ItemErrorRollsBackOnlyThatItem(t *testing.T) {
	fx := newFixture(t, nil, nil)
	fx.store.failPrice = func(price *models.Price) error {
		if price.Amount < 0 {
			return errors.New("price rejected")
		}
		return nil
	}

	result, err := fx.processor.Run(fx.ctx, "disp-1", []models.RawListing{
		listing("Blue Dream", "Zion", "3.5g", 35),
		listing("Sour Diesel", "Zion", "3.5g", -1),
		listing("Gelato", "Cookies", "3.5g", 40),
	})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Errors)
	assert.Equal(t, 2, result.Processed)
	assert.Equal(t, 2, result.NewProducts)

	names := []string{}
	for _, p := range fx.parents(t) {
		names = append(names, p.Name)
	}
	assert.ElementsMatch(t, []string{"Blue Dream", "Gelato"}, names)
}

func TestRun_ConflictRetries(t *testing.T) {
	tests := []struct {
		name      string
		failures  int
		conflicts int
		errors    int
		parents   int
	}{
		{name: "converges after retry", failures: 2, conflicts: 1, parents: 1},
		{name: "gives up after bounded retries", failures: 10, errors: 1, parents: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newFixture(t, nil, nil)
			fx.store.parentFailures = tt.failures
			fx.store.parentErr = catalog.ErrConflict

			result, err := fx.processor.Run(fx.ctx, "disp-1", []models.RawListing{listing("Blue Dream", "Zion", "3.5g", 35)})
			require.NoError(t, err)

			assert.Equal(t, tt.conflicts, result.Conflicts)
			assert.Equal(t, tt.errors, result.Errors)
			assert.Len(t, fx.parents(t), tt.parents)
		})
	}
}

func TestRun_CancellationDiscardsWork(t *testing.T) {
	fx := newFixture(t, nil, nil)
	ctx, cancel := context.WithCancel(fx.ctx)
	defer cancel()

	fx.store.failPrice = func(*models.Price) error {
		cancel()
		return nil
	}

	result, err := fx.processor.Run(ctx, "disp-1", []models.RawListing{
		listing("Blue Dream", "Zion", "3.5g", 35),
		listing("Gelato", "Cookies", "3.5g", 40),
	})
	require.ErrorIs(t, err, context.Canceled)

	assert.Empty(t, fx.parents(t))
	run := fx.run(t, result.RunID)
	assert.Equal(t, models.ScraperRunStatusCancelled, run.Status)
	require.NotNil(t, run.ErrorMessage)
	assert.NotContains(t, fx.publisher.types(), string(events.EventTypeRunCompleted))
}

func TestRun_RequiresDispensary(t *testing.T) {
	fx := newFixture(t, nil, nil)
	_, err := fx.processor.Run(fx.ctx, " ", nil)
	assert.ErrorIs(t, err, ErrMissingDispensary)
}

func TestRun_ConcurrentRunsConverge(t *testing.T) {
	fx := newFixture(t, nil, nil)
	batch := []models.RawListing{
		listing("Blue Dream", "Zion", "3.5g", 35),
		listing("OG Kush", "Zion", "3.5g", 30),
		listing("Gelato", "Cookies", "3.5g", 40),
	}

	var wg sync.WaitGroup
	results := make([]RunResult, 2)
	errs := make([]error, 2)
	for i, disp := range []string{"disp-a", "disp-b"} {
		wg.Add(1)
		go func(i int, disp string) {
			defer wg.Done()
			results[i], errs[i] = fx.processor.Run(fx.ctx, disp, batch)
		}(i, disp)
	}
	wg.Wait()

	for i := range results {
		require.NoError(t, errs[i])
		assert.Equal(t, 3, results[i].Processed)
		assert.Zero(t, results[i].Errors)
	}

	parents := fx.parents(t)
	require.Len(t, parents, 3)

	tx := fx.read(t)
	for _, parent := range parents {
		variants, err := tx.ListVariants(fx.ctx, parent.ID)
		require.NoError(t, err)
		require.Len(t, variants, 1)
		for _, disp := range []string{"disp-a", "disp-b"} {
			_, err := tx.GetPrice(fx.ctx, variants[0].ID, disp)
			assert.NoError(t, err, "price for %s at %s", parent.Name, disp)
		}
	}
}

func TestRun_ConcurrentReversedRunsKeepKeysUnique(t *testing.T) {
	fx := newFixture(t, nil, nil)
	forward := []models.RawListing{
		listing("Blue Dream", "Zion", "3.5g", 35),
		listing("OG Kush", "Zion", "3.5g", 30),
		listing("Gelato", "Cookies", "3.5g", 40),
	}
	reversed := []models.RawListing{forward[2], forward[1], forward[0]}

	var wg sync.WaitGroup
	results := make([]RunResult, 2)
	errs := make([]error, 2)
	for i, batch := range [][]models.RawListing{forward, reversed} {
		wg.Add(1)
		go func(i int, batch []models.RawListing) {
			defer wg.Done()
			results[i], errs[i] = fx.processor.Run(fx.ctx, "disp-"+string(rune('a'+i)), batch)
		}(i, batch)
	}
	wg.Wait()

	for i := range results {
		require.NoError(t, errs[i])
		assert.Equal(t, 3, results[i].Processed+results[i].Errors)
	}

	keys := map[string]bool{}
	for _, p := range fx.parents(t) {
		assert.False(t, keys[p.MatchKey], "duplicate match key %s", p.MatchKey)
		keys[p.MatchKey] = true
	}
	assert.Len(t, keys, 3)
}

func TestRun_LockerSerializesDispensary(t *testing.T) {
	fx := newFixture(t, nil, NewLocalLocker())
	batch := []models.RawListing{listing("Blue Dream", "Zion", "3.5g", 35)}

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := fx.processor.Run(fx.ctx, "disp-1", batch)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Len(t, fx.parents(t), 1)
}

func TestLocalLocker(t *testing.T) {
	ctx := context.Background()
	locker := NewLocalLocker()

	unlock, err := locker.Lock(ctx, "d1")
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(waitCtx, "d1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	other, err := locker.Lock(ctx, "d2")
	require.NoError(t, err)
	require.NoError(t, other(ctx))

	require.NoError(t, unlock(ctx))
	require.NoError(t, unlock(ctx))

	again, err := locker.Lock(ctx, "d1")
	require.NoError(t, err)
	require.NoError(t, again(ctx))
	assert.Empty(t, locker.locks)
}
