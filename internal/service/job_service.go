package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"conversion-job-service/internal/engine"
	"conversion-job-service/internal/entity"
	"conversion-job-service/internal/failure"
	"conversion-job-service/internal/naming"
	"conversion-job-service/internal/progress"
	"conversion-job-service/internal/worker"
)

var (
	ErrNotFound = errors.New("job not found")
	ErrClosed   = errors.New("controller is shut down")
)

// ValidationError rejects a request before any job exists.
type ValidationError struct {
	Result entity.ValidationResult
}

func (e *ValidationError) Error() string {
	return "invalid request: " + e.Result.Message
}

func (e *ValidationError) Unwrap() error {
	return failure.Validation(e.Result.Message, e.Result.Suggestions...)
}

// RequestValidator is implemented by validation.Validator.
type RequestValidator interface {
	Validate(req entity.JobRequest) entity.ValidationResult
}

type Options struct {
	Engine       engine.Engine
	Namer        naming.Namer
	Validator    RequestValidator
	Weights      []progress.StageWeight
	Workers      int // 0 runs every job on its own goroutine
	OutputExt    string
	EventHistory int
	Logger       zerolog.Logger
}

// Controller owns the job registry. Callers only ever receive copies of
// job records; every write happens under the record's mutex.
type Controller struct {
	validator RequestValidator
	weights   []progress.StageWeight
	pool      *worker.Pool
	events    *EventBus
	log       zerolog.Logger

	baseCtx    context.Context
	cancelBase context.CancelFunc

	mu     sync.RWMutex
	jobs   map[uuid.UUID]*record
	order  []uuid.UUID
	closed bool
}

type record struct {
	mu      sync.Mutex
	job     entity.Job
	agg     *progress.Aggregator
	ctx     context.Context
	lastPct int
	done    chan struct{}
}

func New(opts Options) (*Controller, error) {
	if opts.Engine == nil {
		return nil, errors.New("service: engine is required")
	}
	if opts.Namer == nil {
		return nil, errors.New("service: namer is required")
	}
	if opts.Validator == nil {
		return nil, errors.New("service: validator is required")
	}
	if len(opts.Weights) == 0 {
		opts.Weights = progress.DefaultWeights()
	}
	if err := progress.MatchStages(opts.Weights, entity.Stages); err != nil {
		return nil, fmt.Errorf("service: %w", err)
	}
	if _, err := progress.NewAggregator(opts.Weights); err != nil {
		return nil, fmt.Errorf("service: %w", err)
	}
	if opts.OutputExt == "" {
		opts.OutputExt = ".zip"
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		validator:  opts.Validator,
		weights:    opts.Weights,
		events:     NewEventBus(opts.EventHistory),
		log:        opts.Logger.With().Str("component", "controller").Logger(),
		baseCtx:    baseCtx,
		cancelBase: cancel,
		jobs:       make(map[uuid.UUID]*record),
	}

	processor := worker.NewProcessor(c, opts.Engine, opts.Namer, opts.OutputExt, opts.Logger)
	c.pool = worker.NewPool(processor.Process, opts.Workers, opts.Logger)
	return c, nil
}

// Validate runs the request validator without creating a job.
func (c *Controller) Validate(req entity.JobRequest) entity.ValidationResult {
	return c.validator.Validate(req)
}

// Submit validates req and starts a job for it. An invalid request yields
// a *ValidationError and no job.
func (c *Controller) Submit(ctx context.Context, req entity.JobRequest) (uuid.UUID, error) {
	res := c.validator.Validate(req)
	if !res.Valid {
		return uuid.Nil, &ValidationError{Result: res}
	}
	return c.Start(ctx, req)
}

// Start registers a Ready job for an already validated request and
// schedules its single execution. It never waits for the execution.
func (c *Controller) Start(ctx context.Context, req entity.JobRequest) (uuid.UUID, error) {
	if err := ctx.Err(); err != nil {
		return uuid.Nil, err
	}

	agg, err := progress.NewAggregator(c.weights)
	if err != nil {
		return uuid.Nil, err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return uuid.Nil, ErrClosed
	}
	id := uuid.New()
	for _, taken := c.jobs[id]; taken; _, taken = c.jobs[id] {
		id = uuid.New()
	}
	rec := &record{
		job: entity.Job{
			ID:        id,
			State:     entity.StateReady,
			Request:   req,
			CreatedAt: time.Now().UTC(),
		},
		agg:  agg,
		ctx:  c.baseCtx,
		done: make(chan struct{}),
	}
	created := rec.job
	c.jobs[id] = rec
	c.order = append(c.order, id)
	c.mu.Unlock()

	c.publish(created, EventTypeState, "")
	c.log.Info().Str("job_id", id.String()).Str("source", req.SourceURL).Msg("job created")

	if !c.pool.Submit(id) {
		c.Cancelled(id)
	}
	return id, nil
}

// Cancel requests a cooperative stop. A Ready job is cancelled at once; a
// Processing job stops at its next stage boundary. Cancelling a terminal
// job changes nothing.
func (c *Controller) Cancel(id uuid.UUID) (entity.Job, error) {
	rec, err := c.lookup(id)
	if err != nil {
		return entity.Job{}, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	switch rec.job.State {
	case entity.StateReady:
		rec.job.CancelRequested = true
		c.finishLocked(rec, entity.StateCancelled)
	case entity.StateProcessing:
		if !rec.job.CancelRequested {
			rec.job.CancelRequested = true
			c.log.Info().Str("job_id", id.String()).Str("stage", rec.job.Stage).Msg("cancel requested")
		}
	}
	return rec.job.Clone(), nil
}

// Status returns a copy of the job record.
func (c *Controller) Status(id uuid.UUID) (entity.Job, error) {
	rec, err := c.lookup(id)
	if err != nil {
		return entity.Job{}, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.job.Clone(), nil
}

// List returns copies of all jobs in creation order.
func (c *Controller) List() []entity.Job {
	c.mu.RLock()
	recs := make([]*record, 0, len(c.order))
	for _, id := range c.order {
		recs = append(recs, c.jobs[id])
	}
	c.mu.RUnlock()

	out := make([]entity.Job, 0, len(recs))
	for _, rec := range recs {
		rec.mu.Lock()
		out = append(out, rec.job.Clone())
		rec.mu.Unlock()
	}
	return out
}

// Events returns the events of job id newer than seq.
func (c *Controller) Events(id uuid.UUID, seq int64) ([]Event, error) {
	if _, err := c.lookup(id); err != nil {
		return nil, err
	}
	return c.events.Since(id, seq), nil
}

// Wait blocks until job id is terminal or ctx is done and returns the
// latest snapshot.
func (c *Controller) Wait(ctx context.Context, id uuid.UUID) (entity.Job, error) {
	rec, err := c.lookup(id)
	if err != nil {
		return entity.Job{}, err
	}

	select {
	case <-rec.done:
	case <-ctx.Done():
		snap, _ := c.Status(id)
		return snap, ctx.Err()
	}
	return c.Status(id)
}

// Shutdown cancels every live job and waits for their executions to
// return. Running stages see their context cancelled.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	ids := append([]uuid.UUID(nil), c.order...)
	c.mu.Unlock()

	for _, id := range ids {
		if _, err := c.Cancel(id); err != nil {
			return err
		}
	}
	c.cancelBase()

	return c.pool.Stop(ctx)
}

func (c *Controller) lookup(id uuid.UUID) (*record, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rec, ok := c.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return rec, nil
}

// finishLocked performs the single terminal transition of rec. It must be
// called with rec.mu held and reports whether the transition happened.
func (c *Controller) finishLocked(rec *record, state entity.JobState) bool {
	if rec.job.State.IsTerminal() {
		return false
	}

	now := time.Now().UTC()
	rec.job.State = state
	rec.job.FinishedAt = &now
	close(rec.done)

	c.publish(rec.job, EventTypeState, "")
	return true
}

func (c *Controller) publish(job entity.Job, typ EventType, msg string) {
	c.events.Publish(Event{
		JobID:    job.ID,
		Type:     typ,
		State:    job.State,
		Stage:    job.Stage,
		Progress: job.Progress,
		Message:  msg,
	})
}

// ---- worker.Tracker ----

var _ worker.Tracker = (*Controller)(nil)

func (c *Controller) Begin(id uuid.UUID) (context.Context, entity.JobRequest, bool) {
	rec, err := c.lookup(id)
	if err != nil {
		return nil, entity.JobRequest{}, false
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.job.State != entity.StateReady {
		return nil, entity.JobRequest{}, false
	}
	now := time.Now().UTC()
	rec.job.State = entity.StateProcessing
	rec.job.StartedAt = &now
	c.publish(rec.job, EventTypeState, "")
	return rec.ctx, rec.job.Request, true
}

func (c *Controller) CancelRequested(id uuid.UUID) bool {
	rec, err := c.lookup(id)
	if err != nil {
		return true
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.job.CancelRequested
}

func (c *Controller) BeginStage(id uuid.UUID, stage string) {
	c.update(id, func(rec *record) {
		rec.job.Progress, rec.job.Stage = rec.agg.Begin(stage)
		c.publish(rec.job, EventTypeStage, "")
	})
}

func (c *Controller) Report(id uuid.UUID, sample entity.StageProgressSample) {
	c.update(id, func(rec *record) {
		rec.job.Progress, rec.job.Stage = rec.agg.Observe(sample)
		if pct := int(math.Floor(rec.job.Progress)); pct > rec.lastPct {
			rec.lastPct = pct
			c.publish(rec.job, EventTypeProgress, "")
		}
	})
}

func (c *Controller) Complete(id uuid.UUID, result entity.Result) {
	c.update(id, func(rec *record) {
		rec.job.Progress = rec.agg.Complete()
		rec.job.Result = &result
		c.finishLocked(rec, entity.StateCompleted)
	})
}

func (c *Controller) Fail(id uuid.UUID, jerr *entity.JobError) {
	if jerr == nil {
		jerr = failure.Classify(nil)
	}
	c.update(id, func(rec *record) {
		rec.job.Error = jerr
		c.finishLocked(rec, entity.StateFailed)
	})
}

func (c *Controller) Cancelled(id uuid.UUID) {
	rec, err := c.lookup(id)
	if err != nil {
		return
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.job.CancelRequested = true
	c.finishLocked(rec, entity.StateCancelled)
}

// update applies fn to a Processing job; records in any other state are
// left untouched.
func (c *Controller) update(id uuid.UUID, fn func(rec *record)) {
	rec, err := c.lookup(id)
	if err != nil {
		return
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.job.State != entity.StateProcessing {
		return
	}
	fn(rec)
}
