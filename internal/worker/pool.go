// Package worker runs image transforms on a fixed set of goroutines.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/IotchulindraRai/photofilter/internal/domain"
	"github.com/IotchulindraRai/photofilter/pkg/imaging"
)

// Transformer is the engine the pool drives.
type Transformer interface {
	Transform(ctx context.Context, payload []byte) (*imaging.Output, error)
}

// Job is one transform attempt for a record.
type Job struct {
	Ctx      context.Context
	RecordID string
	Payload  []byte
	Timeout  time.Duration
}

// Result is the outcome of a Job. Exactly one of Output and Err is set.
type Result struct {
	RecordID string
	Output   *imaging.Output
	Err      error
	Latency  time.Duration
}

type Pool struct {
	workers     int
	transformer Transformer
	jobs        chan Job
	results     chan Result
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	logger      *zap.Logger
}

// NewPool creates a pool with the given number of workers.
// Call Start to launch the goroutines.
func NewPool(workers int, transformer Transformer, logger *zap.Logger) *Pool {
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		workers:     workers,
		transformer: transformer,
		jobs:        make(chan Job, workers*2),
		results:     make(chan Result, workers*2),
		ctx:         ctx,
		cancel:      cancel,
		logger:      logger,
	}
}

func (p *Pool) Start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Submit enqueues a job, blocking while the buffer is full. It returns false
// once the pool is shutting down or the job's context is done.
func (p *Pool) Submit(job Job) bool {
	ctx := job.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case p.jobs <- job:
		return true
	case <-p.ctx.Done():
		return false
	case <-ctx.Done():
		return false
	}
}

func (p *Pool) Results() <-chan Result {
	return p.results
}

// Shutdown stops accepting jobs, waits for in-flight ones and closes Results.
// Safe to call once.
func (p *Pool) Shutdown() {
	close(p.jobs)
	p.wg.Wait()
	p.cancel()
	close(p.results)
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for job := range p.jobs {
		p.results <- p.process(id, job)
	}
	p.logger.Debug("Worker exiting", zap.Int("worker_id", id))
}

func (p *Pool) process(workerID int, job Job) Result {
	ctx := job.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if job.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, job.Timeout)
		defer cancel()
	}

	if err := ctx.Err(); err != nil {
		return Result{
			RecordID: job.RecordID,
			Err:      &domain.TransformError{Kind: domain.ErrTimeout, Err: fmt.Errorf("job cancelled before processing: %w", err)},
		}
	}

	start := time.Now()
	p.logger.Debug("Transform started",
		zap.Int("worker_id", workerID),
		zap.String("id", job.RecordID))

	out, err := p.transformer.Transform(ctx, job.Payload)
	latency := time.Since(start)

	if err != nil {
		p.logger.Warn("Transform failed",
			zap.Int("worker_id", workerID),
			zap.String("id", job.RecordID),
			zap.Duration("latency", latency),
			zap.Error(err))
		return Result{RecordID: job.RecordID, Err: err, Latency: latency}
	}

	p.logger.Info("Transform completed",
		zap.Int("worker_id", workerID),
		zap.String("id", job.RecordID),
		zap.Duration("latency", latency),
		zap.String("format", out.Format),
		zap.Int("size", len(out.Data)))

	return Result{RecordID: job.RecordID, Output: out, Latency: latency}
}
