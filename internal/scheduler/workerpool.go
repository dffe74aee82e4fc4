package scheduler

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// defaultWorkerConcurrency is the default number of concurrent network
// fetches. Completions are serialized back onto the scheduler goroutine
// through completion messages, never touching the database from a worker.
const defaultWorkerConcurrency = 4

// workerPool runs fetch jobs with a bounded concurrency, the same
// errgroup.SetLimit shape used for onionscan's batch hidden-service scans,
// generalized from "one goroutine per scan target" to "one goroutine per
// dispatched fetch job."
type workerPool struct {
	concurrency int
}

func newWorkerPool(concurrency int) *workerPool {
	if concurrency <= 0 {
		concurrency = defaultWorkerConcurrency
	}
	return &workerPool{concurrency: concurrency}
}

// fetchJob is one unit of work dispatched to the pool: fetch a body and
// report the outcome on the channel runAll returns.
type fetchJob struct {
	task        *Task
	interactive bool
	run         func(ctx context.Context) (RevisionResult, error)
}

type fetchOutcome struct {
	task   *Task
	result RevisionResult
	err    error
}

// runAll dispatches every job concurrently, bounded by concurrency, and
// streams outcomes back on the returned channel as each job finishes —
// workers never wait for each other, and the scheduler goroutine drains
// the channel at its own pace.
func (p *workerPool) runAll(ctx context.Context, jobs []fetchJob) <-chan fetchOutcome {
	out := make(chan fetchOutcome, len(jobs))
	if len(jobs) == 0 {
		close(out)
		return out
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)

	for _, job := range jobs {
		job := job
		g.Go(func() error {
			result, err := job.run(gctx)
			out <- fetchOutcome{task: job.task, result: result, err: err}
			return nil // errors are carried in fetchOutcome, not returned to errgroup
		})
	}

	go func() {
		g.Wait()
		close(out)
	}()

	return out
}
