// Package workerpool runs a bounded set of goroutines that each resolve a
// pipeline from the registry, run it against a delivered task, and report
// the outcome back over a dedicated completion channel, so pipeline work
// never runs on the goroutine that owns the broker channel.
package workerpool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/docworker/ingestworker/internal/modelloader"
	"github.com/docworker/ingestworker/internal/pipeline"
	"github.com/docworker/ingestworker/internal/statuserr"
	"github.com/docworker/ingestworker/internal/storage"
	"github.com/docworker/ingestworker/internal/task"
)

// Job is a single delivered task paired with the delivery tag the broker
// must ack/nack once it completes.
type Job struct {
	Task        task.Task
	DeliveryTag uint64

	// ctx is captured at Submit time so pipeline calls observe the
	// broker's cancellation.
	ctx context.Context
}

// Completion reports a job's outcome back to the broker's I/O goroutine.
// Err is nil on success.
type Completion struct {
	DeliveryTag uint64
	Task        task.Task
	Err         error
}

// Pool is a bounded set of N worker goroutines draining a shared jobs
// channel. The broker goroutine Submits; workers never touch the broker.
type Pool struct {
	n                 int
	registry          *pipeline.Registry
	loader            *modelloader.Loader
	storage           storage.Backend
	defaultCollection string
	defaultPartition  string
	logger            *slog.Logger

	jobs        chan Job
	completions chan<- Completion

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopped  chan struct{}
}

// New creates a Pool of n workers (minimum 1), wiring completions to out.
func New(n int, registry *pipeline.Registry, loader *modelloader.Loader, backend storage.Backend, defaultCollection, defaultPartition string, out chan<- Completion, logger *slog.Logger) *Pool {
	if n < 1 {
		n = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		n:                 n,
		registry:          registry,
		loader:            loader,
		storage:           backend,
		defaultCollection: defaultCollection,
		defaultPartition:  defaultPartition,
		logger:            logger,
		jobs:              make(chan Job, n),
		completions:       out,
		stopped:           make(chan struct{}),
	}
	for i := 0; i < n; i++ {
		p.wg.Add(1)
		go p.run(i)
	}
	return p
}

func (p *Pool) run(id int) {
	defer p.wg.Done()
	for job := range p.jobs {
		err := p.process(job.ctx, job.Task)
		if err != nil {
			p.logger.Error("task failed", "worker", id, "task_id", job.Task.TaskID, "error", err)
		}
		select {
		case p.completions <- Completion{DeliveryTag: job.DeliveryTag, Task: job.Task, Err: err}:
		case <-p.stopped:
		}
	}
}

// process resolves the pipeline, collection, and partition for the task,
// then runs Process followed by StoreEmbedding under the submitting
// context.
func (p *Pool) process(ctx context.Context, t task.Task) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctor := p.registry.Get(t.TaskType)
	if ctor == nil {
		return statuserr.New(statuserr.KindUnknown, "resolve_pipeline", fmt.Errorf("no pipeline registered for task type %q and no default", t.TaskType))
	}

	collection := t.Collection
	if collection == "" {
		collection = p.defaultCollection
	}
	partition := t.Partition
	if partition == "" {
		partition = p.defaultPartition
	}

	pl := ctor(p.loader, p.storage, collection)

	chunks, embeddings, err := pl.Process(ctx, t.Document)
	if err != nil {
		return err
	}
	if len(chunks) != len(embeddings) {
		return statuserr.New(statuserr.KindEmbedderError, "process",
			fmt.Errorf("%d chunks but %d embeddings", len(chunks), len(embeddings)))
	}
	return pl.StoreEmbedding(ctx, chunks, embeddings, t.Document, collection, partition)
}

// Submit hands job to the pool, blocking until a worker slot frees, ctx is
// canceled, or the pool has begun stopping. The same ctx governs the
// job's pipeline calls once a worker picks it up.
func (p *Pool) Submit(ctx context.Context, job Job) bool {
	job.ctx = ctx
	select {
	case p.jobs <- job:
		return true
	case <-ctx.Done():
		return false
	case <-p.stopped:
		return false
	}
}

// Stop closes the jobs channel, refusing new submissions, and waits up to
// grace for outstanding workers to finish. Unfinished work is abandoned
// without ack so the broker redelivers it elsewhere.
func (p *Pool) Stop(grace time.Duration) {
	p.stopOnce.Do(func() {
		close(p.jobs)
		done := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(grace):
		}
		close(p.stopped)
	})
}
