package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"astromorph/internal/directory"
	"astromorph/internal/metrics"
	"astromorph/internal/storage"
)

// ErrQueueFull is returned by Submit when the backlog is at capacity.
var ErrQueueFull = errors.New("job queue is full")

// ErrQueueStopped is returned by Submit after Stop.
var ErrQueueStopped = errors.New("job queue is stopped")

// Job is one queued target.
type Job struct {
	ID      string
	Target  directory.Target
	Band    string
	SizeKpc float64
	// Labels selects explicit targets; empty means the central object.
	Labels    []int
	Nicknames []string
	Source    string // list file the job came from, if any
}

// Result captures the outcome of a Job.
type Result struct {
	Job     Job
	Outcome *Outcome
	Error   error
}

// Processor executes a job and returns a Result.
type Processor interface {
	Process(ctx context.Context, job Job) Result
}

// Process runs one job to completion.
func (p *Pipeline) Process(ctx context.Context, job Job) Result {
	ctx = WithRunID(ctx, job.ID)
	run, err := p.Prepare(ctx, job.Target, job.Band, job.SizeKpc)
	if err != nil {
		return Result{Job: job, Outcome: outcomeOf(run), Error: err}
	}
	var out *Outcome
	if len(job.Labels) > 0 {
		out, err = run.Commit(ctx, job.Labels, job.Nicknames)
	} else {
		out, err = run.CommitAuto(ctx)
	}
	return Result{Job: job, Outcome: out, Error: err}
}

func outcomeOf(run *PendingRun) *Outcome {
	if run == nil {
		return nil
	}
	return run.Outcome
}

// Queue feeds jobs to a single worker; the result table takes one writer.
type Queue struct {
	processor Processor
	log       *slog.Logger
	store     *storage.Store
	metrics   *metrics.Metrics
	survey    string
	params    string

	jobs     chan Job
	wg       sync.WaitGroup
	cancel   context.CancelFunc
	stopOnce sync.Once

	mu        sync.Mutex
	stopped   bool
	subs      map[int]chan Result
	nextSubID int
}

// NewQueue starts the worker. depth bounds the backlog.
func NewQueue(ctx context.Context, processor Processor, depth int, logger *slog.Logger, store *storage.Store, m *metrics.Metrics) *Queue {
	if depth < 1 {
		depth = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(ctx)
	q := &Queue{
		processor: processor,
		log:       logger,
		store:     store,
		metrics:   m,
		jobs:      make(chan Job, depth),
		cancel:    cancel,
		subs:      make(map[int]chan Result),
	}
	if p, ok := processor.(*Pipeline); ok {
		q.survey = p.survey.Name()
		data, _ := json.Marshal(p.params)
		q.params = string(data)
	}
	q.wg.Add(1)
	go q.worker(ctx)
	return q
}

// Submit adds a job and returns its id.
func (q *Queue) Submit(job Job) (string, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return "", ErrQueueStopped
	}
	if err := q.store.RecordRunQueued(storage.RunRecord{
		ID:         job.ID,
		Object:     job.Target.String(),
		Band:       job.Band,
		SizeKpc:    job.SizeKpc,
		Survey:     q.survey,
		Status:     "queued",
		ParamsJSON: q.params,
	}); err != nil {
		q.log.Warn("run history unavailable", "run_id", job.ID, "error", err)
	}
	select {
	case q.jobs <- job:
	default:
		_ = q.store.RecordRunResult(job.ID, "rejected", nil, ErrQueueFull.Error())
		return "", ErrQueueFull
	}
	q.metrics.SetQueueDepth(len(q.jobs))
	return job.ID, nil
}

// Stop refuses new jobs, waits for the backlog to drain and closes every
// subscription. Cancel the context given to NewQueue to abandon the backlog.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() {
		q.mu.Lock()
		q.stopped = true
		close(q.jobs)
		q.mu.Unlock()
		q.wg.Wait()
		q.cancel()
		q.mu.Lock()
		for id, ch := range q.subs {
			close(ch)
			delete(q.subs, id)
		}
		q.mu.Unlock()
	})
}

func (q *Queue) worker(ctx context.Context) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-q.jobs:
			if !ok {
				return
			}
			q.metrics.SetQueueDepth(len(q.jobs))
			res := q.processor.Process(ctx, job)
			if res.Error != nil {
				q.log.Warn("job finished with error", "run_id", job.ID, "target", job.Target.String(), "error", res.Error)
			}
			q.broadcast(res)
		}
	}
}

// Subscribe returns a channel for receiving job results and an unsubscribe function.
func (q *Queue) Subscribe() (<-chan Result, func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	id := q.nextSubID
	q.nextSubID++
	ch := make(chan Result, 8)
	q.subs[id] = ch
	unsub := func() {
		q.mu.Lock()
		if c, ok := q.subs[id]; ok {
			close(c)
			delete(q.subs, id)
		}
		q.mu.Unlock()
	}
	return ch, unsub
}

func (q *Queue) broadcast(res Result) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for id, ch := range q.subs {
		select {
		case ch <- res:
		default:
			q.log.Warn("result channel full", "subscriber", id, "job", res.Job.ID)
		}
	}
}
