// Package jobs implements the durable async job engine backing batch
// ingestion, BM25 retraining, and snapshot operations.
package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vortexdb/vortex/internal/metrics"
)

// Type names a supported job kind.
type Type string

const (
	TypeBatchUpsert      Type = "batch_upsert"
	TypeUpsertBatchDocs  Type = "upsert_batch_docs"
	TypeCreateCollection Type = "create_collection"
	TypeBM25Retrain      Type = "bm25_retrain"
	TypeCreateSnapshot   Type = "create_snapshot"
)

// Status names a job's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Job is a durable unit of asynchronous work.
type Job struct {
	ID        string
	Type      Type
	Payload   json.RawMessage
	Status    Status
	Message   string
	Progress  int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Handler executes a job's payload, reporting incremental progress via
// report. Handlers must treat progress as monotonic and capped below 100;
// the engine marks the job 100/completed itself on a nil return.
type Handler func(ctx context.Context, payload json.RawMessage, report func(progress int, message string)) error

// Engine is the durable job store and worker pool.
type Engine struct {
	db       *sql.DB
	log      *zap.Logger
	handlers map[Type]Handler

	bm25Cooldown time.Duration
	queue        chan string
	workers      int
}

// Config configures the job Engine.
type Config struct {
	Workers      int
	QueueCap     int
	BM25Cooldown time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueCap <= 0 {
		c.QueueCap = 1000
	}
	if c.BM25Cooldown <= 0 {
		c.BM25Cooldown = 10 * time.Minute
	}
	return c
}

// New opens an Engine against an already-connected database, creating the
// jobs table if absent.
func New(db *sql.DB, log *zap.Logger, cfg Config) (*Engine, error) {
	cfg = cfg.withDefaults()
	e := &Engine{
		db:           db,
		log:          log,
		handlers:     map[Type]Handler{},
		bm25Cooldown: cfg.BM25Cooldown,
		queue:        make(chan string, cfg.QueueCap),
		workers:      cfg.Workers,
	}
	if err := e.initSchema(); err != nil {
		return nil, fmt.Errorf("jobs: init schema: %w", err)
	}
	return e, nil
}

func (e *Engine) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		payload TEXT NOT NULL,
		status TEXT NOT NULL,
		message TEXT NOT NULL DEFAULT '',
		progress INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_status_created ON jobs(status, created_at);
	CREATE INDEX IF NOT EXISTS idx_jobs_type ON jobs(type);
	`
	_, err := e.db.Exec(schema)
	return err
}

// RegisterHandler binds a job Type to its executor. Call before Start.
func (e *Engine) RegisterHandler(t Type, h Handler) {
	e.handlers[t] = h
}

// Enqueue inserts a new pending job and schedules it onto the worker
// queue. BM25 retrain jobs are subject to an at-most-one-active rule and
// a cooldown since the last completed run.
func (e *Engine) Enqueue(ctx context.Context, id string, t Type, payload json.RawMessage) error {
	if t == TypeBM25Retrain {
		active, err := e.hasActiveJob(ctx, TypeBM25Retrain)
		if err != nil {
			return err
		}
		if active {
			return ErrBM25RetrainActive
		}
		last, err := e.lastCompletedAt(ctx, TypeBM25Retrain)
		if err != nil {
			return err
		}
		if last != nil && time.Since(*last) < e.bm25Cooldown {
			return ErrBM25RetrainCooldown
		}
	}

	now := time.Now()
	_, err := e.db.ExecContext(ctx,
		"INSERT INTO jobs (id, type, payload, status, message, progress, created_at, updated_at) VALUES (?, ?, ?, ?, '', 0, ?, ?)",
		id, string(t), string(payload), string(StatusPending), now, now,
	)
	if err != nil {
		return fmt.Errorf("jobs: enqueue %s: %w", id, err)
	}

	select {
	case e.queue <- id:
	default:
		e.log.Warn("jobs: queue full, job will pick up on next poll", zap.String("job_id", id))
	}
	return nil
}

func (e *Engine) hasActiveJob(ctx context.Context, t Type) (bool, error) {
	var count int
	err := e.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM jobs WHERE type = ? AND status IN (?, ?)",
		string(t), string(StatusPending), string(StatusRunning),
	).Scan(&count)
	return count > 0, err
}

func (e *Engine) lastCompletedAt(ctx context.Context, t Type) (*time.Time, error) {
	var updatedAt sql.NullTime
	err := e.db.QueryRowContext(ctx,
		"SELECT updated_at FROM jobs WHERE type = ? AND status = ? ORDER BY updated_at DESC LIMIT 1",
		string(t), string(StatusCompleted),
	).Scan(&updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !updatedAt.Valid {
		return nil, nil
	}
	return &updatedAt.Time, nil
}

// UpdateStatus overwrites a job's status, message, and progress.
func (e *Engine) UpdateStatus(ctx context.Context, id string, status Status, progress int, message string) error {
	_, err := e.db.ExecContext(ctx,
		"UPDATE jobs SET status = ?, progress = ?, message = ?, updated_at = ? WHERE id = ?",
		string(status), progress, message, time.Now(), id,
	)
	return err
}

// GetStatus fetches a single job by ID.
func (e *Engine) GetStatus(ctx context.Context, id string) (*Job, error) {
	var j Job
	var typeStr, statusStr, payload string
	err := e.db.QueryRowContext(ctx,
		"SELECT id, type, payload, status, message, progress, created_at, updated_at FROM jobs WHERE id = ?",
		id,
	).Scan(&j.ID, &typeStr, &payload, &statusStr, &j.Message, &j.Progress, &j.CreatedAt, &j.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("jobs: get status %s: %w", id, err)
	}
	j.Type = Type(typeStr)
	j.Status = Status(statusStr)
	j.Payload = json.RawMessage(payload)
	return &j, nil
}

// List returns jobs ordered by most recently created, optionally filtered
// by status.
func (e *Engine) List(ctx context.Context, status Status, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows *sql.Rows
	var err error
	if status == "" {
		rows, err = e.db.QueryContext(ctx,
			"SELECT id, type, payload, status, message, progress, created_at, updated_at FROM jobs ORDER BY created_at DESC LIMIT ?",
			limit,
		)
	} else {
		rows, err = e.db.QueryContext(ctx,
			"SELECT id, type, payload, status, message, progress, created_at, updated_at FROM jobs WHERE status = ? ORDER BY created_at DESC LIMIT ?",
			string(status), limit,
		)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		var j Job
		var typeStr, statusStr, payload string
		if err := rows.Scan(&j.ID, &typeStr, &payload, &statusStr, &j.Message, &j.Progress, &j.CreatedAt, &j.UpdatedAt); err != nil {
			return nil, err
		}
		j.Type = Type(typeStr)
		j.Status = Status(statusStr)
		j.Payload = json.RawMessage(payload)
		out = append(out, j)
	}
	return out, rows.Err()
}

// Start launches the worker pool and recovers any jobs left pending or
// running from a previous process (e.g. after a crash) before taking new
// work off the queue. It blocks until ctx is canceled.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.requeueIncomplete(ctx); err != nil {
		return fmt.Errorf("jobs: requeue incomplete: %w", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < e.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.worker(ctx)
		}()
	}
	<-ctx.Done()
	wg.Wait()
	return nil
}

// requeueIncomplete re-enqueues jobs left pending or running by a prior
// process, so a crash between Enqueue and a worker picking up the job
// doesn't strand it forever.
func (e *Engine) requeueIncomplete(ctx context.Context) error {
	rows, err := e.db.QueryContext(ctx,
		"SELECT id FROM jobs WHERE status IN (?, ?) ORDER BY created_at ASC",
		string(StatusPending), string(StatusRunning),
	)
	if err != nil {
		return err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, id := range ids {
		select {
		case e.queue <- id:
		default:
			e.log.Warn("jobs: queue full during recovery, job stays pending", zap.String("job_id", id))
		}
	}
	return nil
}

// worker drains the job queue, dispatching each job to its registered
// handler and persisting status/progress as it runs.
func (e *Engine) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case id, ok := <-e.queue:
			if !ok {
				return
			}
			e.runJob(ctx, id)
		}
	}
}

func (e *Engine) runJob(ctx context.Context, id string) {
	job, err := e.GetStatus(ctx, id)
	if err != nil {
		e.log.Error("jobs: lookup before run failed", zap.String("job_id", id), zap.Error(err))
		return
	}
	handler, ok := e.handlers[job.Type]
	if !ok {
		e.log.Warn("jobs: no handler registered", zap.String("job_id", id), zap.String("type", string(job.Type)))
		_ = e.UpdateStatus(ctx, id, StatusFailed, 0, "no handler registered for job type")
		return
	}

	if err := e.UpdateStatus(ctx, id, StatusRunning, 0, ""); err != nil {
		e.log.Error("jobs: mark running failed", zap.String("job_id", id), zap.Error(err))
		return
	}
	metrics.JobsInFlight.WithLabelValues(string(job.Type)).Inc()
	defer metrics.JobsInFlight.WithLabelValues(string(job.Type)).Dec()

	report := func(progress int, message string) {
		if err := e.UpdateStatus(ctx, id, StatusRunning, progress, message); err != nil {
			e.log.Warn("jobs: progress update failed", zap.String("job_id", id), zap.Error(err))
		}
	}

	runErr := handler(ctx, job.Payload, report)
	if runErr != nil {
		metrics.JobsDispatchedTotal.WithLabelValues(string(job.Type), "failed").Inc()
		e.log.Error("jobs: handler failed", zap.String("job_id", id), zap.String("type", string(job.Type)), zap.Error(runErr))
		if err := e.UpdateStatus(ctx, id, StatusFailed, job.Progress, runErr.Error()); err != nil {
			e.log.Error("jobs: mark failed failed", zap.String("job_id", id), zap.Error(err))
		}
		return
	}
	metrics.JobsDispatchedTotal.WithLabelValues(string(job.Type), "completed").Inc()
	if err := e.UpdateStatus(ctx, id, StatusCompleted, 100, "done"); err != nil {
		e.log.Error("jobs: mark completed failed", zap.String("job_id", id), zap.Error(err))
	}
}
