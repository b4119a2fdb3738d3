package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/EmekaIwuagwu/metabridge-relayer/internal/monitoring"
	"github.com/EmekaIwuagwu/metabridge-relayer/internal/types"
	"github.com/rs/zerolog"
)

var (
	// ErrJobNotFound is returned when no job is registered under an ID
	ErrJobNotFound = errors.New("job not found")

	// ErrJobExists is returned by a Registry when an ID is already taken
	ErrJobExists = errors.New("job already exists")
)

// PermanentError marks a handler error that must not be retried
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so the job fails without further attempts
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

func isPermanent(err error) bool {
	var perm *PermanentError
	return errors.As(err, &perm)
}

// State is the lifecycle state of a job
type State string

const (
	StateQueued    State = "queued"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateUnknown   State = "unknown"
)

// JobRecord is the registry entry for one job
type JobRecord struct {
	ID          string              `json:"id"`
	State       State               `json:"state"`
	Progress    int                 `json:"progress"`
	Attempts    int                 `json:"attempts"`
	MaxAttempts int                 `json:"max_attempts"`
	LastError   string              `json:"last_error,omitempty"`
	Job         types.SettlementJob `json:"job"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

// JobStatus is the externally visible view of a job
type JobStatus struct {
	ID       string               `json:"id"`
	State    State                `json:"state"`
	Progress int                  `json:"progress"`
	Attempts int                  `json:"attempts"`
	Payload  *types.SettlementJob `json:"data"`
}

// Registry stores job records. Create must fail with ErrJobExists when the
// ID is already registered; it is the only dedup primitive of the queue.
type Registry interface {
	Get(ctx context.Context, id string) (*JobRecord, error)
	Create(ctx context.Context, rec *JobRecord) error
	Update(ctx context.Context, rec *JobRecord) error
	Delete(ctx context.Context, id string) error
}

// Delivery is one attempt at a job handed out by a Transport
type Delivery interface {
	JobID() string
	Attempt() int
	Ack() error
	Retry(delay time.Duration) error
	Term() error
	// InProgress extends the redelivery deadline of a running delivery
	InProgress() error
}

// Transport moves job IDs from producers to workers
type Transport interface {
	Publish(ctx context.Context, jobID string, job *types.SettlementJob) error
	Consume(ctx context.Context, fn func(ctx context.Context, d Delivery, job *types.SettlementJob)) error
}

// Handler processes one job; a returned error triggers the retry policy
type Handler func(ctx context.Context, jobID string, job *types.SettlementJob) error

// Hooks are the lifecycle notifications of the queue
type Hooks struct {
	OnActive    func(jobID string, job *types.SettlementJob)
	OnCompleted func(jobID string, job *types.SettlementJob)
	OnFailed    func(jobID string, job *types.SettlementJob, err error)
}

// Options is the per-job retry policy.
//
// Heartbeat is how often a running delivery is marked in progress; keep it
// well below the transport's ack wait. RepublishAfter is how long a job may
// sit queued without ever being delivered before Enqueue publishes it again.
type Options struct {
	Attempts         int
	BackoffDelay     time.Duration
	RemoveOnComplete bool
	Heartbeat        time.Duration
	RepublishAfter   time.Duration
}

// JobQueue is a durable, idempotent job queue with exponential retries
type JobQueue struct {
	registry  Registry
	transport Transport
	opts      Options
	hooks     Hooks
	logger    zerolog.Logger

	mu      sync.Mutex
	running map[string]struct{}
}

// New creates a job queue
func New(registry Registry, transport Transport, opts Options, logger zerolog.Logger) *JobQueue {
	if opts.Attempts < 1 {
		opts.Attempts = 1
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = 30 * time.Second
	}
	if opts.RepublishAfter <= 0 {
		opts.RepublishAfter = 10 * time.Minute
	}
	return &JobQueue{
		registry:  registry,
		transport: transport,
		opts:      opts,
		logger:    logger.With().Str("component", "queue").Logger(),
		running:   make(map[string]struct{}),
	}
}

// SetHooks registers lifecycle callbacks. Call before Run.
func (q *JobQueue) SetHooks(hooks Hooks) {
	q.hooks = hooks
}

// Enqueue registers and publishes a job. A job whose ID is already
// registered is left untouched; it returns false without error. The one
// exception is a record that stayed queued past RepublishAfter without a
// single delivery: its publish was lost, so it is published again.
func (q *JobQueue) Enqueue(ctx context.Context, job *types.SettlementJob, jobID string) (bool, error) {
	if existing, err := q.registry.Get(ctx, jobID); err == nil {
		if q.stranded(existing) {
			return false, q.republish(ctx, existing)
		}
		q.logger.Warn().Str("job_id", jobID).Msg("Job already exists")
		monitoring.JobsEnqueued.WithLabelValues("duplicate").Inc()
		return false, nil
	} else if !errors.Is(err, ErrJobNotFound) {
		return false, fmt.Errorf("failed to look up job %s: %w", jobID, err)
	}

	rec := &JobRecord{
		ID:          jobID,
		State:       StateQueued,
		MaxAttempts: q.opts.Attempts,
		Job:         *job,
		UpdatedAt:   time.Now().UTC(),
	}
	if err := q.registry.Create(ctx, rec); err != nil {
		if errors.Is(err, ErrJobExists) {
			q.logger.Warn().Str("job_id", jobID).Msg("Job already exists")
			monitoring.JobsEnqueued.WithLabelValues("duplicate").Inc()
			return false, nil
		}
		return false, fmt.Errorf("failed to register job %s: %w", jobID, err)
	}

	if err := q.transport.Publish(ctx, jobID, job); err != nil {
		if delErr := q.registry.Delete(ctx, jobID); delErr != nil {
			q.logger.Error().Err(delErr).Str("job_id", jobID).Msg("Failed to roll back job registration")
		}
		return false, fmt.Errorf("failed to publish job %s: %w", jobID, err)
	}

	monitoring.JobsEnqueued.WithLabelValues("added").Inc()
	q.logger.Info().
		Str("job_id", jobID).
		Str("message_id", job.MessageID).
		Msg("Job added to queue")

	return true, nil
}

// stranded reports whether rec was registered but never reached a worker
func (q *JobQueue) stranded(rec *JobRecord) bool {
	return rec.State == StateQueued &&
		rec.Attempts == 0 &&
		time.Since(rec.UpdatedAt) >= q.opts.RepublishAfter
}

// republish sends a stranded record again. The transport's duplicate
// window drops the copy if the original publish did land.
func (q *JobQueue) republish(ctx context.Context, rec *JobRecord) error {
	job := rec.Job
	if err := q.transport.Publish(ctx, rec.ID, &job); err != nil {
		return fmt.Errorf("failed to republish job %s: %w", rec.ID, err)
	}
	q.save(ctx, rec, q.logger)
	monitoring.JobsEnqueued.WithLabelValues("republished").Inc()
	q.logger.Warn().
		Str("job_id", rec.ID).
		Str("message_id", job.MessageID).
		Msg("Job was queued but never delivered, published again")
	return nil
}

// Status returns the current state of a job
func (q *JobQueue) Status(ctx context.Context, jobID string) (*JobStatus, error) {
	rec, err := q.registry.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}

	state := rec.State
	switch state {
	case StateQueued, StateActive, StateCompleted, StateFailed:
	default:
		state = StateUnknown
	}

	job := rec.Job
	return &JobStatus{
		ID:       rec.ID,
		State:    state,
		Progress: rec.Progress,
		Attempts: rec.Attempts,
		Payload:  &job,
	}, nil
}

// Run consumes jobs until ctx is cancelled
func (q *JobQueue) Run(ctx context.Context, handler Handler) error {
	return q.transport.Consume(ctx, func(ctx context.Context, d Delivery, job *types.SettlementJob) {
		q.process(ctx, d, job, handler)
	})
}

func (q *JobQueue) process(ctx context.Context, d Delivery, job *types.SettlementJob, handler Handler) {
	jobID := d.JobID()
	attempt := d.Attempt()
	logger := q.logger.With().Str("job_id", jobID).Int("attempt", attempt).Logger()

	// a redelivery of a job this process is still running is left
	// unacknowledged; the running attempt settles the message
	if !q.claim(jobID) {
		logger.Warn().Msg("Job is already running in this process, ignoring redelivery")
		return
	}
	defer q.release(jobID)

	rec, err := q.registry.Get(ctx, jobID)
	switch {
	case errors.Is(err, ErrJobNotFound):
		// removed on completion; this is a redelivery
		logger.Debug().Msg("Job no longer registered, dropping delivery")
		q.ack(d, logger)
		return
	case err != nil:
		logger.Error().Err(err).Msg("Failed to load job record")
		q.retry(d, attempt, logger)
		return
	case rec.State == StateCompleted || rec.State == StateFailed:
		logger.Debug().Str("state", string(rec.State)).Msg("Job already finished, dropping delivery")
		q.ack(d, logger)
		return
	}

	rec.State = StateActive
	rec.Attempts = attempt
	rec.Progress = 0
	q.save(ctx, rec, logger)
	monitoring.JobsTotal.WithLabelValues(string(StateActive)).Inc()
	if q.hooks.OnActive != nil {
		q.hooks.OnActive(jobID, job)
	}

	stop := q.heartbeat(d, logger)
	handlerErr := handler(ctx, jobID, job)
	stop()

	if handlerErr == nil {
		rec.State = StateCompleted
		rec.Progress = 100
		rec.LastError = ""
		if q.opts.RemoveOnComplete {
			if err := q.registry.Delete(ctx, jobID); err != nil {
				logger.Error().Err(err).Msg("Failed to remove completed job")
			}
		} else {
			q.save(ctx, rec, logger)
		}
		q.ack(d, logger)
		monitoring.JobsTotal.WithLabelValues(string(StateCompleted)).Inc()
		if q.hooks.OnCompleted != nil {
			q.hooks.OnCompleted(jobID, job)
		}
		return
	}

	rec.LastError = handlerErr.Error()

	if attempt < q.opts.Attempts && !isPermanent(handlerErr) {
		delay := q.retryDelay(attempt)
		rec.State = StateQueued
		q.save(ctx, rec, logger)
		logger.Warn().Err(handlerErr).Dur("retry_in", delay).Msg("Job failed, scheduling retry")
		if err := d.Retry(delay); err != nil {
			logger.Error().Err(err).Msg("Failed to schedule retry")
		}
		return
	}

	rec.State = StateFailed
	q.save(ctx, rec, logger)
	logger.Error().Err(handlerErr).Msg("Job failed, attempts exhausted")
	if err := d.Term(); err != nil {
		logger.Error().Err(err).Msg("Failed to terminate delivery")
	}
	monitoring.JobsTotal.WithLabelValues(string(StateFailed)).Inc()
	if q.hooks.OnFailed != nil {
		q.hooks.OnFailed(jobID, job, handlerErr)
	}
}

func (q *JobQueue) claim(jobID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.running[jobID]; ok {
		return false
	}
	q.running[jobID] = struct{}{}
	return true
}

func (q *JobQueue) release(jobID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.running, jobID)
}

// heartbeat marks d in progress every Heartbeat until the returned func
// is called
func (q *JobQueue) heartbeat(d Delivery, logger zerolog.Logger) func() {
	done := make(chan struct{})
	stopped := make(chan struct{})

	go func() {
		defer close(stopped)
		ticker := time.NewTicker(q.opts.Heartbeat)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := d.InProgress(); err != nil {
					logger.Warn().Err(err).Msg("Failed to extend delivery deadline")
				}
			}
		}
	}()

	return func() {
		close(done)
		<-stopped
	}
}

// retryDelay is BackoffDelay * 2^(attempt-1)
func (q *JobQueue) retryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return q.opts.BackoffDelay << uint(attempt-1)
}

func (q *JobQueue) retry(d Delivery, attempt int, logger zerolog.Logger) {
	if err := d.Retry(q.retryDelay(attempt)); err != nil {
		logger.Error().Err(err).Msg("Failed to schedule retry")
	}
}

func (q *JobQueue) ack(d Delivery, logger zerolog.Logger) {
	if err := d.Ack(); err != nil {
		logger.Error().Err(err).Msg("Failed to ack delivery")
	}
}

func (q *JobQueue) save(ctx context.Context, rec *JobRecord, logger zerolog.Logger) {
	rec.UpdatedAt = time.Now().UTC()
	if err := q.registry.Update(ctx, rec); err != nil {
		logger.Error().Err(err).Str("state", string(rec.State)).Msg("Failed to update job record")
	}
}
