package migrate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jpillora/backoff"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/graphport/graphport/internal/domain/job"
	"github.com/graphport/graphport/internal/infrastructure/graph"
	"github.com/graphport/graphport/internal/pkg/logger"
)

// GraphWriter is the slice of the graph client the runner needs.
type GraphWriter interface {
	Alter(ctx context.Context, schema []byte) error
	Mutate(ctx context.Context, records []json.RawMessage) (*graph.MutateResult, error)
}

// Config controls batching, concurrency and retry behavior.
type Config struct {
	Concurrency int
	Retries     int
	BackoffMin  time.Duration
	BackoffMax  time.Duration
	// RateLimit caps batch submissions per second, 0 for unlimited.
	RateLimit float64
}

// WriteError carries the failing batch index so a failed job can be resumed
// or diagnosed without re-running from the start.
type WriteError struct {
	JobID      string
	BatchIndex int
	Attempts   int
	Err        error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("batch %d of job %s failed after %d attempt(s): %v",
		e.BatchIndex, e.JobID, e.Attempts, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// BatchContext returns the job ID and batch index for failure reporting.
func (e *WriteError) BatchContext() (string, int) {
	return e.JobID, e.BatchIndex
}

// Runner streams schema and bulk data into the deployment target. Schema is
// applied serially and must complete before any bulk batch is submitted;
// bulk batches then fan out up to the concurrency limit. The runner is the
// only writer of the job's progress counters.
type Runner struct {
	writer  GraphWriter
	cfg     Config
	limiter *rate.Limiter
}

// NewRunner creates a runner writing through the given client.
func NewRunner(writer GraphWriter, cfg Config) *Runner {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.BackoffMin == 0 {
		cfg.BackoffMin = 500 * time.Millisecond
	}
	if cfg.BackoffMax == 0 {
		cfg.BackoffMax = 30 * time.Second
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	return &Runner{writer: writer, cfg: cfg, limiter: limiter}
}

// Run executes the migration for a job. On cancellation, in-flight batches
// finish, no new batches start, and the returned error carries the partial
// progress context.
func (r *Runner) Run(ctx context.Context, j *job.Job) error {
	src, err := NewSource(j)
	if err != nil {
		return err
	}

	progress := j.Progress()
	log := logger.WithJob(j.ID)

	records, err := src.CountRecords()
	if err != nil {
		return err
	}
	batches, err := src.BatchCount()
	if err != nil {
		return err
	}
	progress.SetTotals(records, batches)

	if err := r.applySchema(ctx, j, src); err != nil {
		return err
	}

	progress.SetPhase("data")
	log.Info("streaming bulk data", "records", records, "batches", batches,
		"concurrency", r.cfg.Concurrency)

	if err := r.streamData(ctx, j, src); err != nil {
		return err
	}

	progress.SetMessage("all batches written")
	log.Info("bulk data complete", "written", progress.Written())
	return nil
}

// applySchema applies the schema document serially. Bulk data never starts
// before this returns nil.
func (r *Runner) applySchema(ctx context.Context, j *job.Job, src *Source) error {
	progress := j.Progress()
	progress.SetPhase("schema")

	schema, err := src.Schema()
	if err != nil {
		return err
	}
	if len(schema) == 0 {
		return nil
	}

	attempt, err := r.withRetry(ctx, progress, func(ctx context.Context) error {
		return r.writer.Alter(ctx, schema)
	})
	if err != nil {
		return &WriteError{JobID: j.ID, BatchIndex: -1, Attempts: attempt, Err: err}
	}
	logger.WithJob(j.ID).Info("schema applied", "bytes", len(schema))
	return nil
}

func (r *Runner) streamData(ctx context.Context, j *job.Job, src *Source) error {
	g, gctx := errgroup.WithContext(ctx)
	batches := make(chan Batch)

	// The producer stops on the first worker failure via gctx, so no new
	// batches start once the job is doomed; in-flight batches finish.
	g.Go(func() error {
		defer close(batches)
		return src.Stream(gctx, func(b Batch) error {
			if j.IsBatchComplete(b.Index) {
				// already written by a previous attempt of this job
				return nil
			}
			select {
			case batches <- b:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	})

	for i := 0; i < r.cfg.Concurrency; i++ {
		g.Go(func() error {
			for b := range batches {
				if err := r.writeBatch(gctx, j, b); err != nil {
					return err
				}
			}
			return nil
		})
	}

	return g.Wait()
}

func (r *Runner) writeBatch(ctx context.Context, j *job.Job, b Batch) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}

	// A mutate that has started runs to completion even when the run is
	// being canceled: aborting it mid-request could leave records applied
	// server-side without the batch being recorded as complete, and a
	// resume would then submit them again. The client's own request
	// timeout still bounds the detached call; retry backoff waits stay
	// on ctx, so no further attempt starts after cancellation.
	mutateCtx := context.WithoutCancel(ctx)

	progress := j.Progress()
	attempt, err := r.withRetry(ctx, progress, func(context.Context) error {
		result, err := r.writer.Mutate(mutateCtx, b.Records)
		if err != nil {
			return err
		}
		if int64(result.Written) != b.Size() {
			return fmt.Errorf("server wrote %d of %d records", result.Written, b.Size())
		}
		return nil
	})
	if err != nil {
		return &WriteError{JobID: j.ID, BatchIndex: b.Index, Attempts: attempt, Err: err}
	}

	j.MarkBatchComplete(b.Index)
	progress.AddWritten(b.Size())
	logger.WithJob(j.ID).Debug("batch written", "batch", b.Index, "records", b.Size())
	return nil
}

// withRetry runs fn, retrying transient failures up to the configured retry
// count with exponential backoff and jitter. Returns the attempt count.
func (r *Runner) withRetry(ctx context.Context, progress *job.Progress, fn func(context.Context) error) (int, error) {
	b := &backoff.Backoff{
		Min:    r.cfg.BackoffMin,
		Max:    r.cfg.BackoffMax,
		Factor: 2,
		Jitter: true,
	}

	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return attempt + 1, nil
		}
		if !graph.IsTransient(err) || attempt >= r.cfg.Retries {
			return attempt + 1, err
		}

		progress.RecordRetry()
		delay := b.Duration()
		logger.Debug("transient write failure, backing off",
			"attempt", attempt+1, "delay", delay, "error", err)

		select {
		case <-ctx.Done():
			return attempt + 1, ctx.Err()
		case <-time.After(delay):
		}
	}
}
