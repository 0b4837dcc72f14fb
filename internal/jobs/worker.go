package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

const maxAttempts = 3

// Start launches the worker pool, draining the in-memory queue and
// polling the database for any pending jobs a crash or restart left
// behind. Start returns once all workers have exited, which only happens
// when ctx is canceled.
func (e *Engine) Start(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < e.workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			e.runWorker(ctx, workerID)
		}(i)
	}

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case <-ticker.C:
			e.requeuePending(ctx)
		}
	}
}

func (e *Engine) requeuePending(ctx context.Context) {
	pending, err := e.List(ctx, StatusPending, 1000)
	if err != nil {
		e.log.Warn("jobs: failed to poll pending jobs", zap.Error(err))
		return
	}
	for _, j := range pending {
		select {
		case e.queue <- j.ID:
		default:
			return
		}
	}
}

func (e *Engine) runWorker(ctx context.Context, workerID int) {
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-e.queue:
			e.runJob(ctx, id, workerID)
		}
	}
}

func (e *Engine) runJob(ctx context.Context, id string, workerID int) {
	job, err := e.GetStatus(ctx, id)
	if err != nil {
		e.log.Error("jobs: worker failed to load job", zap.String("job_id", id), zap.Error(err))
		return
	}
	if job.Status == StatusCompleted || job.Status == StatusFailed {
		return
	}

	handler, ok := e.handlers[job.Type]
	if !ok {
		e.markFailed(ctx, id, ErrNoHandler, job.Progress)
		return
	}

	if err := e.UpdateStatus(ctx, id, StatusRunning, job.Progress, "running"); err != nil {
		e.log.Error("jobs: failed to mark job running", zap.String("job_id", id), zap.Error(err))
		return
	}

	lastProgress := job.Progress
	report := func(progress int, message string) {
		if progress > 99 {
			progress = 99
		}
		lastProgress = progress
		if err := e.UpdateStatus(ctx, id, StatusRunning, progress, message); err != nil {
			e.log.Warn("jobs: failed to persist progress", zap.String("job_id", id), zap.Error(err))
		}
	}

	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxAttempts-1)
	attempt := 0
	runErr := backoff.Retry(func() error {
		attempt++
		err := handler(ctx, job.Payload, report)
		if err != nil {
			e.log.Warn("jobs: handler attempt failed",
				zap.String("job_id", id), zap.Int("attempt", attempt), zap.Error(err))
		}
		return err
	}, backoff.WithContext(bo, ctx))

	if runErr != nil {
		e.markFailed(ctx, id, runErr, lastProgress)
		return
	}
	if err := e.UpdateStatus(ctx, id, StatusCompleted, 100, "completed"); err != nil {
		e.log.Error("jobs: failed to mark job completed", zap.String("job_id", id), zap.Error(err))
	}
}

func (e *Engine) markFailed(ctx context.Context, id string, cause error, progress int) {
	if err := e.UpdateStatus(ctx, id, StatusFailed, progress, cause.Error()); err != nil {
		e.log.Error("jobs: failed to mark job failed", zap.String("job_id", id), zap.Error(err))
	}
}

// payloadAs decodes a job's raw payload into dst. A convenience helper for
// handler implementations.
func payloadAs(payload json.RawMessage, dst any) error {
	if err := json.Unmarshal(payload, dst); err != nil {
		return fmt.Errorf("jobs: decode payload: %w", err)
	}
	return nil
}
