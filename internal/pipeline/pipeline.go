package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/incident-heat-etl/internal/domain"
	"github.com/couchcryptid/incident-heat-etl/internal/observability"
	"github.com/google/uuid"
)

// ErrInterrupted is returned when a run stops on context cancellation.
// Sub-batches committed before the interrupt stay committed.
var ErrInterrupted = errors.New("batch run interrupted")

// RecordStore selects incidents and writes enrichment results back.
type RecordStore interface {
	SelectIncidents(ctx context.Context, q domain.IncidentQuery) ([]domain.Incident, error)
	SaveEnrichments(ctx context.Context, incidents []domain.Incident) error
	SaveWeights(ctx context.Context, incidents []domain.Incident) error
}

// HeatPublisher receives the heat points of every committed sub-batch.
type HeatPublisher interface {
	PublishHeatPoints(ctx context.Context, points []domain.HeatPoint) error
}

// RunOptions controls one batch run.
type RunOptions struct {
	// BatchSize caps the incidents selected; <= 0 uses the runner default.
	BatchSize int
	Offset    int
	Force     bool
	// IncludeApprox extends a forced run to approx incidents.
	IncludeApprox bool
	WeightOnly    bool
	CentroidOnly  bool
	// DryRun enriches and counts but writes nothing to the record store
	// or the cache.
	DryRun bool
}

func (o RunOptions) validate() error {
	switch {
	case o.Offset < 0:
		return errors.New("offset must be >= 0")
	case o.WeightOnly && (o.Force || o.CentroidOnly):
		return errors.New("weight-only cannot be combined with force or centroid-only")
	case o.CentroidOnly && o.Force:
		return errors.New("centroid-only cannot be combined with force")
	case o.IncludeApprox && !o.Force:
		return errors.New("include-approx requires force")
	}
	return nil
}

func (o RunOptions) selection() domain.Selection {
	switch {
	case o.WeightOnly:
		return domain.SelectAll
	case o.CentroidOnly:
		return domain.SelectMissingCoords
	case o.Force && o.IncludeApprox:
		return domain.SelectForcedWithApprox
	case o.Force:
		return domain.SelectForced
	default:
		return domain.SelectPending
	}
}

// BatchRunner selects candidate incidents in id order and drives the
// Enricher across them, committing every commitEvery records.
type BatchRunner struct {
	store       RecordStore
	enricher    *Enricher
	publisher   HeatPublisher
	logger      *slog.Logger
	metrics     *observability.Metrics
	batchSize   int
	commitEvery int

	ready   atomic.Bool
	mu      sync.Mutex
	lastRun *domain.RunSummary
}

// New creates a BatchRunner. publisher may be nil.
func New(store RecordStore, enricher *Enricher, publisher HeatPublisher, logger *slog.Logger, metrics *observability.Metrics, batchSize, commitEvery int) *BatchRunner {
	if commitEvery <= 0 {
		commitEvery = 100
	}
	return &BatchRunner{
		store:       store,
		enricher:    enricher,
		publisher:   publisher,
		logger:      logger,
		metrics:     metrics,
		batchSize:   batchSize,
		commitEvery: commitEvery,
	}
}

// CheckReadiness returns nil once a run has completed, or an error describing
// why the service is not yet ready.
func (r *BatchRunner) CheckReadiness(_ context.Context) error {
	if !r.ready.Load() {
		return errors.New("no batch run has completed yet")
	}
	return nil
}

// LastRun returns the summary of the most recent run that finished or was
// interrupted.
func (r *BatchRunner) LastRun() (domain.RunSummary, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lastRun == nil {
		return domain.RunSummary{}, false
	}
	return *r.lastRun, true
}

// Run processes one batch. An empty selection is a successful run with zero
// updates. Record-level geocode failures are counted, never returned; errors
// come from the stores or from cancellation (ErrInterrupted).
func (r *BatchRunner) Run(ctx context.Context, opts RunOptions) (domain.RunSummary, error) {
	if err := opts.validate(); err != nil {
		return domain.RunSummary{}, fmt.Errorf("invalid run options: %w", err)
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = r.batchSize
	}

	start := time.Now()
	summary := domain.RunSummary{
		RunID:        uuid.NewString(),
		StartedAt:    domain.Now(),
		DryRun:       opts.DryRun,
		ByStatus:     make(map[domain.Status]int),
		ByResolution: make(map[string]int),
	}
	logger := r.logger.With("run_id", summary.RunID)

	r.metrics.PipelineRunning.Set(1)
	defer r.metrics.PipelineRunning.Set(0)

	records, err := r.store.SelectIncidents(ctx, domain.IncidentQuery{
		Selection: opts.selection(),
		Limit:     opts.BatchSize,
		Offset:    opts.Offset,
	})
	if err != nil {
		if ctx.Err() != nil {
			summary.Duration = time.Since(start)
			r.finish(summary, "interrupted", logger)
			return summary, fmt.Errorf("%w during selection: %w", ErrInterrupted, ctx.Err())
		}
		r.metrics.BatchRuns.WithLabelValues("error").Inc()
		return summary, fmt.Errorf("select incidents: %w", err)
	}
	summary.Selected = len(records)

	logger.Info("batch run started",
		"selected", len(records),
		"batch_size", opts.BatchSize,
		"offset", opts.Offset,
		"force", opts.Force,
		"include_approx", opts.IncludeApprox,
		"weight_only", opts.WeightOnly,
		"centroid_only", opts.CentroidOnly,
		"dry_run", opts.DryRun,
	)

	outcome := "success"
	if len(records) == 0 {
		outcome = "empty"
	}

	for lo := 0; lo < len(records); lo += r.commitEvery {
		hi := min(lo+r.commitEvery, len(records))
		if err := r.processSubBatch(ctx, records[lo:hi], opts, &summary, logger); err != nil {
			summary.Duration = time.Since(start)
			if ctx.Err() != nil {
				r.finish(summary, "interrupted", logger)
				return summary, fmt.Errorf("%w after %d commits: %w", ErrInterrupted, summary.Commits, ctx.Err())
			}
			r.metrics.BatchRuns.WithLabelValues("error").Inc()
			return summary, err
		}
	}

	summary.Duration = time.Since(start)
	r.metrics.BatchDuration.Observe(summary.Duration.Seconds())
	r.finish(summary, outcome, logger)
	r.ready.Store(true)
	return summary, nil
}

// processSubBatch enriches records and commits them in one transaction.
// Nothing from the sub-batch is persisted when it returns an error.
func (r *BatchRunner) processSubBatch(ctx context.Context, records []domain.Incident, opts RunOptions, summary *domain.RunSummary, logger *slog.Logger) error {
	enriched := make([]domain.Incident, 0, len(records))
	resolutions := make([]Resolution, 0, len(records))
	eopts := EnrichOptions{
		Force:        opts.Force,
		WeightOnly:   opts.WeightOnly,
		CentroidOnly: opts.CentroidOnly,
		DryRun:       opts.DryRun,
	}

	for _, inc := range records {
		out, res, err := r.enricher.Enrich(ctx, inc, eopts)
		if err != nil {
			return fmt.Errorf("enrich incident %d: %w", inc.ID, err)
		}
		enriched = append(enriched, out)
		resolutions = append(resolutions, res)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if !opts.DryRun {
		if err := r.commit(ctx, enriched, opts.WeightOnly); err != nil {
			return err
		}
		summary.Commits++
		r.metrics.SubBatchCommits.Inc()
		r.publish(ctx, enriched, logger)
	}

	for i, inc := range enriched {
		summary.Updated++
		summary.ByResolution[string(resolutions[i])]++
		if opts.WeightOnly {
			r.metrics.WeightOnly.Inc()
			continue
		}
		status := inc.Geocode.Status()
		summary.ByStatus[status]++
		r.metrics.RecordsProcessed.WithLabelValues(string(status)).Inc()
	}

	logger.Debug("sub-batch done",
		"first_id", records[0].ID,
		"last_id", records[len(records)-1].ID,
		"size", len(records),
		"committed", !opts.DryRun,
	)
	return nil
}

func (r *BatchRunner) commit(ctx context.Context, incidents []domain.Incident, weightOnly bool) error {
	if weightOnly {
		if err := r.store.SaveWeights(ctx, incidents); err != nil {
			return fmt.Errorf("save weights: %w", err)
		}
		return nil
	}
	if err := r.store.SaveEnrichments(ctx, incidents); err != nil {
		return fmt.Errorf("save enrichments: %w", err)
	}
	return nil
}

// publish sends committed heat points downstream. The record store is the
// source of truth, so publish failures are logged and the run continues.
func (r *BatchRunner) publish(ctx context.Context, incidents []domain.Incident, logger *slog.Logger) {
	if r.publisher == nil {
		return
	}
	points := make([]domain.HeatPoint, 0, len(incidents))
	for _, inc := range incidents {
		if hp, ok := inc.HeatPoint(); ok {
			points = append(points, hp)
		}
	}
	if len(points) == 0 {
		return
	}
	if err := r.publisher.PublishHeatPoints(ctx, points); err != nil {
		logger.Warn("publish heat points failed", "error", err, "count", len(points))
	}
}

func (r *BatchRunner) finish(summary domain.RunSummary, outcome string, logger *slog.Logger) {
	r.metrics.BatchRuns.WithLabelValues(outcome).Inc()
	r.mu.Lock()
	r.lastRun = &summary
	r.mu.Unlock()

	logger.Info("batch run finished",
		"outcome", outcome,
		"selected", summary.Selected,
		"updated", summary.Updated,
		"commits", summary.Commits,
		"duration", summary.Duration,
	)
}

// Serve runs a batch every interval until the context is cancelled. Failed
// runs are retried with exponential backoff instead of waiting a full interval.
func (r *BatchRunner) Serve(ctx context.Context, opts RunOptions, interval time.Duration) error {
	r.logger.Info("batch runner started", "interval", interval, "commit_every", r.commitEvery)

	// Exponential backoff: start at 200ms, double each retry, cap at 5s.
	backoff := 200 * time.Millisecond
	maxBackoff := 5 * time.Second

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("batch runner stopping", "reason", ctx.Err())
			return nil
		default:
		}

		_, err := r.Run(ctx, opts)
		switch {
		case errors.Is(err, ErrInterrupted):
			r.logger.Info("batch runner stopping", "reason", ctx.Err())
			return nil
		case err != nil:
			r.logger.Error("batch run failed", "error", err)
			if !r.backoffOrStop(ctx, &backoff, maxBackoff) {
				return nil
			}
			continue
		}

		backoff = 200 * time.Millisecond
		if !sleepWithContext(ctx, interval) {
			r.logger.Info("batch runner stopping", "reason", ctx.Err())
			return nil
		}
	}
}

// backoffOrStop checks for context cancellation, sleeps with the current backoff,
// and advances the backoff. Returns false if the runner should stop.
func (r *BatchRunner) backoffOrStop(ctx context.Context, backoff *time.Duration, maxBackoff time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	if !sleepWithContext(ctx, *backoff) {
		return false
	}
	*backoff = nextBackoff(*backoff, maxBackoff)
	return true
}

func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
