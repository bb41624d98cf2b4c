// Package processor runs scraped listing batches through resolution. One run is one
// store transaction; every listing is bracketed by a savepoint so a failing item never
// takes the rest of the batch with it.
package processor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/sprout/pkg/catalog"
	"github.com/Ramsey-B/sprout/pkg/confidence"
	"github.com/Ramsey-B/sprout/pkg/events"
	"github.com/Ramsey-B/sprout/pkg/flags"
	"github.com/Ramsey-B/sprout/pkg/metrics"
	"github.com/Ramsey-B/sprout/pkg/models"
	"github.com/Ramsey-B/sprout/pkg/tracing"
)

// ErrMissingDispensary is returned when a run has no dispensary id
var ErrMissingDispensary = errors.New("dispensary id is required")

// RunResult summarizes one run
type RunResult struct {
	RunID         string `json:"run_id"`
	Found         int    `json:"found"`
	Processed     int    `json:"processed"`
	FlagsCreated  int    `json:"flags_created"`
	AutoMerged    int    `json:"auto_merged"`
	NewProducts   int    `json:"new_products"`
	Errors        int    `json:"errors"`
	ParseErrors   int    `json:"parse_errors"`
	MatchFailures int    `json:"match_failures"`
	Conflicts     int    `json:"conflicts"`
}

// Config tunes conflict handling
type Config struct {
	// ConflictRetries bounds how often one listing is retried after a uniqueness conflict
	ConflictRetries int
	// RetryBackoff is the first retry delay; it doubles per attempt
	RetryBackoff time.Duration
	// Locker serializes runs per dispensary when set
	Locker Locker
}

// DefaultConfig returns the production settings
func DefaultConfig() Config {
	return Config{
		ConflictRetries: 3,
		RetryBackoff:    25 * time.Millisecond,
	}
}

// Processor orchestrates runs
type Processor struct {
	store    catalog.Store
	scorer   *confidence.Scorer
	resolver *confidence.Resolver
	flags    *flags.Service
	emitter  *events.Emitter
	config   Config
	logger   ectologger.Logger
	now      func() time.Time
}

// NewProcessor creates a Processor. emitter may be nil.
func NewProcessor(
	store catalog.Store,
	scorer *confidence.Scorer,
	resolver *confidence.Resolver,
	flagService *flags.Service,
	emitter *events.Emitter,
	config Config,
	logger ectologger.Logger,
) *Processor {
	if emitter == nil {
		emitter = events.NewNoopEmitter()
	}
	if config.ConflictRetries < 0 {
		config.ConflictRetries = 0
	}
	return &Processor{
		store:    store,
		scorer:   scorer,
		resolver: resolver,
		flags:    flagService,
		emitter:  emitter,
		config:   config,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// runState is the mutable state of one run
type runState struct {
	tx     catalog.Tx
	run    *models.ScraperRun
	pool   *catalog.CandidatePool
	events *events.Batch
}

// itemResult is what one applied listing contributed, folded into the run after its savepoint is released
type itemResult struct {
	outcome string
	score   float64
	parent  *models.Parent
	flag    *models.ScraperFlag
	failed  bool
	events  *events.Batch
}

// Run resolves listings for one dispensary and commits the outcome as a unit
func (p *Processor) Run(ctx context.Context, dispensaryID string, listings []models.RawListing) (RunResult, error) {
	ctx, span := tracing.StartSpan(ctx, "processor.Processor.Run")
	defer span.End()

	dispensaryID = strings.TrimSpace(dispensaryID)
	if dispensaryID == "" {
		return RunResult{}, ErrMissingDispensary
	}

	log := p.logger.WithContext(ctx).WithFields(map[string]any{
		"dispensary_id": dispensaryID,
		"listings":      len(listings),
	})

	if p.config.Locker != nil {
		unlock, err := p.config.Locker.Lock(ctx, dispensaryID)
		if err != nil {
			log.WithError(err).Error("Failed to acquire run lock")
			return RunResult{}, fmt.Errorf("acquire run lock: %w", err)
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				log.WithError(err).Warn("Failed to release run lock")
			}
		}()
	}

	started := time.Now()
	run := &models.ScraperRun{
		ID:           uuid.NewString(),
		DispensaryID: dispensaryID,
		Status:       models.ScraperRunStatusRunning,
		StartedAt:    p.now(),
		Found:        len(listings),
	}
	if err := p.createRun(ctx, run); err != nil {
		log.WithError(err).Error("Failed to create run record")
		return RunResult{}, err
	}
	log = log.WithFields(map[string]any{"run_id": run.ID})
	tracing.SetAttributes(span, map[string]string{
		"dispensary_id": dispensaryID,
		"run_id":        run.ID,
	})
	log.Info("Run started")

	state, err := p.process(ctx, run, listings)
	if err == nil {
		err = p.commit(ctx, state)
	}
	if err != nil {
		status := models.ScraperRunStatusFailed
		if ctx.Err() != nil {
			status = models.ScraperRunStatusCancelled
			err = ctx.Err()
		}
		p.finishRun(ctx, run, status, err)
		metrics.RecordRun(dispensaryID, status, time.Since(started).Seconds())
		tracing.RecordError(span, err)
		log.WithError(err).WithFields(map[string]any{"status": status}).Error("Run did not complete")
		return resultOf(run), err
	}

	metrics.RecordRun(dispensaryID, run.Status, time.Since(started).Seconds())
	state.events.RunCompleted(*run)
	_ = p.emitter.Publish(ctx, state.events)

	log.WithFields(map[string]any{
		"processed":      run.Processed,
		"auto_merged":    run.AutoMerged,
		"new_products":   run.NewProducts,
		"flags_created":  run.FlagsCreated,
		"errors":         run.Errors,
		"parse_errors":   run.ParseErrors,
		"match_failures": run.MatchFailures,
		"conflicts":      run.Conflicts,
	}).Info("Run completed")
	return resultOf(run), nil
}

// process applies every listing inside the run transaction. The transaction is left
// open for commit; on error it has already been rolled back.
func (p *Processor) process(ctx context.Context, run *models.ScraperRun, listings []models.RawListing) (*runState, error) {
	tx, err := p.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin run transaction: %w", err)
	}

	pool, err := catalog.LoadPool(ctx, tx)
	if err != nil {
		_ = tx.Rollback(context.WithoutCancel(ctx))
		return nil, err
	}

	state := &runState{run: run, pool: pool, events: &events.Batch{}}
	for i, listing := range listings {
		if err := ctx.Err(); err != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
			return nil, err
		}
		if err := p.processItem(ctx, tx, state, i, listing); err != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
			return nil, err
		}
	}

	state.tx = tx
	return state, nil
}

// commit stores the final run record with the catalog writes and commits them together
func (p *Processor) commit(ctx context.Context, state *runState) error {
	tx := state.tx
	defer tx.Rollback(context.WithoutCancel(ctx))

	if err := ctx.Err(); err != nil {
		return err
	}

	finished := p.now()
	state.run.Status = models.ScraperRunStatusCompleted
	state.run.FinishedAt = &finished
	if err := tx.UpdateRun(ctx, state.run); err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit run: %w", err)
	}
	return nil
}

// processItem resolves one listing. Only cancellation is returned as an error; every
// other failure is counted and the run moves on.
func (p *Processor) processItem(ctx context.Context, tx catalog.Tx, state *runState, index int, listing models.RawListing) error {
	run := state.run
	log := p.logger.WithContext(ctx).WithFields(map[string]any{
		"run_id":  run.ID,
		"index":   index,
		"listing": listing.Name,
	})

	if !listing.HasRequiredFields() {
		run.ParseErrors++
		metrics.RecordListing(metrics.OutcomeParseError)
		log.Warn("Skipping listing without name or price")
		return nil
	}

	savepoint := fmt.Sprintf("item_%d", index)
	conflicted := false
	backoff := p.config.RetryBackoff

	for attempt := 0; ; attempt++ {
		if err := tx.Savepoint(ctx, savepoint); err != nil {
			return p.itemFailed(ctx, run, log, err)
		}

		result, err := p.apply(ctx, tx, state, listing)
		if err == nil {
			if err := tx.Flush(ctx, savepoint); err != nil {
				return p.itemFailed(ctx, run, log, err)
			}
			p.record(state, result)
			if conflicted {
				run.Conflicts++
				metrics.RecordConflict()
				log.Info("Converged onto concurrently created product")
			}
			return nil
		}

		if rbErr := tx.RollbackTo(ctx, savepoint); rbErr != nil {
			log.WithError(rbErr).Error("Failed to roll back listing")
			return p.itemFailed(ctx, run, log, err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !catalog.IsConflict(err) || attempt >= p.config.ConflictRetries {
			return p.itemFailed(ctx, run, log, err)
		}

		conflicted = true
		log.WithError(err).WithFields(map[string]any{"attempt": attempt + 1}).Warn("Conflict resolving listing, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

// itemFailed counts a failed listing unless the run itself was cancelled
func (p *Processor) itemFailed(ctx context.Context, run *models.ScraperRun, log ectologger.Logger, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	run.Errors++
	metrics.RecordListing(metrics.OutcomeError)
	log.WithError(err).Error("Failed to process listing")
	return nil
}

// apply decides and writes one listing. Panics are returned as errors.
func (p *Processor) apply(ctx context.Context, tx catalog.Tx, state *runState, listing models.RawListing) (result itemResult, err error) {
	ctx, span := tracing.StartSpan(ctx, "processor.Processor.apply")
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			p.logger.WithContext(ctx).WithFields(map[string]any{
				"listing": listing.Name,
				"panic":   fmt.Sprint(r),
				"stack":   string(debug.Stack()),
			}).Error("Listing panicked")
			err = fmt.Errorf("panic processing listing: %v", r)
		}
	}()

	run := state.run
	result.events = &events.Batch{}

	decision, err := p.scorer.Decide(ctx, tx, listing, state.pool)
	if err != nil {
		return itemResult{}, err
	}

	switch d := decision.(type) {
	case confidence.AutoMerge:
		result.outcome = metrics.OutcomeAutoMerged
		result.score = d.Score.Total
		if d.VariantCreated {
			result.events.VariantCreated(run.ID, run.DispensaryID, models.Variant{ID: d.VariantID, ParentID: d.ParentID})
		}
		if err := p.upsertPrice(ctx, tx, run.DispensaryID, d.VariantID, listing); err != nil {
			return itemResult{}, err
		}

	case confidence.FlagForReview:
		result.outcome = metrics.OutcomeFlagged
		result.score = d.Score
		result.failed = d.Failed
		if d.Failed {
			result.outcome = metrics.OutcomeMatchFailure
		}
		flag, err := p.flags.Create(ctx, tx, flags.CreateRequest{
			RunID:        &run.ID,
			DispensaryID: run.DispensaryID,
			Listing:      listing,
			CandidateID:  d.CandidateID,
			Score:        d.Score,
			Reason:       d.Reason,
		})
		if err != nil {
			return itemResult{}, err
		}
		result.flag = flag
		result.events.FlagCreated(*flag)

	case confidence.NewProduct:
		result.outcome = metrics.OutcomeNewProduct
		result.score = d.BestScore
		parent, created, err := p.resolver.FindOrCreateParent(ctx, tx, confidence.ParentFieldsFromListing(listing))
		if err != nil {
			return itemResult{}, err
		}
		result.parent = &parent
		if created {
			result.events.ProductCreated(run.ID, run.DispensaryID, parent)
		}

		variant, variantCreated, err := p.resolver.FindOrCreateVariant(ctx, tx, parent, confidence.ListingWeight(listing.Name, listing.WeightText))
		if err != nil {
			return itemResult{}, err
		}
		if variantCreated {
			result.events.VariantCreated(run.ID, run.DispensaryID, variant)
		}
		if err := p.upsertPrice(ctx, tx, run.DispensaryID, variant.ID, listing); err != nil {
			return itemResult{}, err
		}

	default:
		return itemResult{}, fmt.Errorf("unknown decision %T", decision)
	}

	return result, nil
}

func (p *Processor) upsertPrice(ctx context.Context, tx catalog.PriceStore, dispensaryID, variantID string, listing models.RawListing) error {
	price := &models.Price{
		VariantID:    variantID,
		DispensaryID: dispensaryID,
		Amount:       *listing.Price,
		InStock:      listing.Available(),
		LastUpdated:  p.now(),
	}
	if url := strings.TrimSpace(listing.URL); url != "" {
		price.ProductURL = &url
	}
	if err := tx.UpsertPrice(ctx, price); err != nil {
		return fmt.Errorf("upsert price: %w", err)
	}
	return nil
}

// record folds an applied listing into the run counters and pool
func (p *Processor) record(state *runState, result itemResult) {
	run := state.run
	run.Processed++
	switch result.outcome {
	case metrics.OutcomeAutoMerged:
		run.AutoMerged++
		metrics.RecordDecision(string(confidence.KindAutoMerge), result.score)
	case metrics.OutcomeFlagged, metrics.OutcomeMatchFailure:
		run.FlagsCreated++
		if result.failed {
			run.MatchFailures++
		}
		metrics.RecordDecision(string(confidence.KindFlagForReview), result.score)
	case metrics.OutcomeNewProduct:
		run.NewProducts++
		metrics.RecordDecision(string(confidence.KindNewProduct), result.score)
	}
	metrics.RecordListing(result.outcome)

	if result.parent != nil {
		state.pool.Add(*result.parent)
	}
	state.events.Append(result.events)
}

func (p *Processor) createRun(ctx context.Context, run *models.ScraperRun) error {
	tx, err := p.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := tx.CreateRun(ctx, run); err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return tx.Commit(ctx)
}

// finishRun records a run that did not commit. It runs detached from ctx so a
// cancelled run is still marked as such.
func (p *Processor) finishRun(ctx context.Context, run *models.ScraperRun, status string, cause error) {
	ctx = context.WithoutCancel(ctx)
	finished := p.now()
	run.Status = status
	run.FinishedAt = &finished
	message := cause.Error()
	run.ErrorMessage = &message

	tx, err := p.store.Begin(ctx)
	if err == nil {
		defer tx.Rollback(ctx)
		if err = tx.UpdateRun(ctx, run); err == nil {
			err = tx.Commit(ctx)
		}
	}
	if err != nil {
		p.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"run_id": run.ID,
			"status": status,
		}).Error("Failed to update run record")
	}
}

func resultOf(run *models.ScraperRun) RunResult {
	return RunResult{
		RunID:         run.ID,
		Found:         run.Found,
		Processed:     run.Processed,
		FlagsCreated:  run.FlagsCreated,
		AutoMerged:    run.AutoMerged,
		NewProducts:   run.NewProducts,
		Errors:        run.Errors,
		ParseErrors:   run.ParseErrors,
		MatchFailures: run.MatchFailures,
		Conflicts:     run.Conflicts,
	}
}
