package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/seismic-locator/internal/domain"
	"github.com/couchcryptid/seismic-locator/internal/observability"
)

// BatchExtractor reads up to batchSize locate jobs from the source.
type BatchExtractor interface {
	ExtractBatch(ctx context.Context, batchSize int) ([]domain.RawEvent, error)
}

// Transformer turns a raw locate job into a serialized result. It must be
// safe for concurrent use when the pipeline runs more than one worker.
type Transformer interface {
	Transform(ctx context.Context, raw domain.RawEvent) (domain.OutputEvent, error)
}

// BatchLoader writes multiple results to the destination.
type BatchLoader interface {
	LoadBatch(ctx context.Context, events []domain.OutputEvent) error
}

const (
	minBackoff = 200 * time.Millisecond
	maxBackoff = 5 * time.Second
)

// Pipeline consumes locate jobs, locates each batch on a bounded worker
// pool and publishes the results in consumption order.
type Pipeline struct {
	extractor   BatchExtractor
	transformer Transformer
	loader      BatchLoader
	logger      *slog.Logger
	metrics     *observability.Metrics
	ready       atomic.Bool
	batchSize   int
	workers     int
}

// New creates a Pipeline. workers below one are treated as one.
func New(e BatchExtractor, t Transformer, l BatchLoader, logger *slog.Logger, metrics *observability.Metrics, batchSize, workers int) *Pipeline {
	return &Pipeline{
		extractor:   e,
		transformer: t,
		loader:      l,
		logger:      logger,
		metrics:     metrics,
		batchSize:   batchSize,
		workers:     max(1, workers),
	}
}

// Ready reports whether at least one result has been published.
func (p *Pipeline) Ready() bool {
	return p.ready.Load()
}

// CheckReadiness returns nil once a result has been published.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not published any results yet")
	}
	return nil
}

// Run consumes batches until the context is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("locate pipeline started", "batch_size", p.batchSize, "workers", p.workers)
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	bo := &backoff{next: minBackoff}
	for ctx.Err() == nil && p.step(ctx, bo) {
	}
	p.logger.Info("locate pipeline stopped", "reason", context.Cause(ctx))
	return nil
}

// step handles one batch. It returns false when the pipeline should stop.
func (p *Pipeline) step(ctx context.Context, bo *backoff) bool {
	batch, err := p.extractor.ExtractBatch(ctx, p.batchSize)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		p.logger.Error("extract batch failed", "error", err, "retry_in", bo.next)
		return bo.wait(ctx)
	}
	if len(batch) == 0 {
		return true
	}
	bo.reset()

	start := time.Now()
	p.metrics.JobsConsumed.Add(float64(len(batch)))
	p.metrics.BatchSize.Observe(float64(len(batch)))

	results := p.locateAll(ctx, batch)
	if ctx.Err() != nil {
		// Results cut short by shutdown are dropped and the batch stays
		// uncommitted.
		return false
	}

	if len(results) > 0 && !p.publish(ctx, results, bo) {
		return false
	}
	for _, raw := range batch {
		p.commit(ctx, raw)
	}

	p.metrics.BatchProcessingDuration.Observe(time.Since(start).Seconds())
	return true
}

// locateAll transforms the batch with up to p.workers jobs in flight.
// Unparseable jobs are logged and left out. Order follows the batch.
func (p *Pipeline) locateAll(ctx context.Context, batch []domain.RawEvent) []domain.OutputEvent {
	slots := make([]*domain.OutputEvent, len(batch))
	sem := make(chan struct{}, p.workers)
	var wg sync.WaitGroup

	for i, raw := range batch {
		sem <- struct{}{}
		wg.Go(func() {
			defer func() { <-sem }()
			out, err := p.transformer.Transform(ctx, raw)
			if err != nil {
				p.metrics.JobsFailed.WithLabelValues(string(domain.StageInput)).Inc()
				p.logger.Warn("unparseable job, skipping",
					"error", err, "topic", raw.Topic, "partition", raw.Partition, "offset", raw.Offset)
				return
			}
			slots[i] = &out
		})
	}
	wg.Wait()

	results := make([]domain.OutputEvent, 0, len(batch))
	for _, out := range slots {
		if out != nil {
			results = append(results, *out)
		}
	}
	return results
}

// publish loads results, retrying in place so a broker outage never costs a
// second locate pass.
func (p *Pipeline) publish(ctx context.Context, results []domain.OutputEvent, bo *backoff) bool {
	for {
		err := p.loader.LoadBatch(ctx, results)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return false
		}
		p.logger.Error("publish results failed", "error", err, "results", len(results), "retry_in", bo.next)
		if !bo.wait(ctx) {
			return false
		}
	}
	bo.reset()

	located := 0
	for _, out := range results {
		if out.Headers["status"] == string(domain.StatusLocated) {
			located++
		}
	}
	p.metrics.ResultsProduced.Add(float64(len(results)))
	p.ready.Store(true)
	p.logger.Info("batch published", "results", len(results), "located", located, "failed", len(results)-located)
	return true
}

func (p *Pipeline) commit(ctx context.Context, raw domain.RawEvent) {
	if raw.Commit == nil {
		return
	}
	if err := raw.Commit(ctx); err != nil {
		p.logger.Warn("commit offset failed", "error", err,
			"topic", raw.Topic, "partition", raw.Partition, "offset", raw.Offset)
	}
}

// backoff doubles from minBackoff up to maxBackoff.
type backoff struct {
	next time.Duration
}

func (b *backoff) reset() { b.next = minBackoff }

// wait sleeps for the current delay and reports false if ctx ended first.
func (b *backoff) wait(ctx context.Context) bool {
	timer := time.NewTimer(b.next)
	defer timer.Stop()
	b.next = min(2*b.next, maxBackoff)

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
