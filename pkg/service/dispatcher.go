package service

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/hireflow/hireflow/pkg/models"
)

const (
	// default per-action timeout is 1m
	DefaultActionTimeout = 60 * time.Second
)

// StepExecutor runs one opaque action descriptor for an instance. The
// descriptor's Params are interpreted by the executor, never by the
// engine or the dispatcher.
type StepExecutor interface {
	Execute(ctx context.Context, instanceID string, action models.ActionDescriptor) (models.Payload, error)
}

// ResultFunc receives the terminal outcome of a dispatch. retryable
// reflects the failed action's own marker; it is meaningless on success.
type ResultFunc func(instanceID, bindingID string, attempt int, output models.Payload, retryable bool, execErr error)

type dispatchJob struct {
	instanceID string
	bindingID  string
	attempt    int
	actions    models.ActionList
}

// Dispatcher manages asynchronous execution of automated steps. The
// engine enqueues and returns; workers run the binding's actions in
// order and report the outcome through the result handler.
type Dispatcher struct {
	executor StepExecutor
	logger   Logger
	report   ResultFunc
	jobs     chan dispatchJob
	timeout  time.Duration
	wg       sync.WaitGroup
	ctx      context.Context
	mu       sync.RWMutex
}

func NewDispatcher(mainCtx context.Context, executor StepExecutor, logger Logger) *Dispatcher {
	return &Dispatcher{
		executor: executor,
		logger:   logger,
		timeout:  DefaultActionTimeout,
		ctx:      mainCtx,
	}
}

// SetResultHandler wires the engine's callback. Must be called before Start.
func (d *Dispatcher) SetResultHandler(fn ResultFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.report = fn
}

// Start begins the dispatcher with the specified number of workers
func (d *Dispatcher) Start(workers int) {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	d.jobs = make(chan dispatchJob, workers)
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
}

// Stop gracefully stops the dispatcher, draining queued jobs.
func (d *Dispatcher) Stop() {
	close(d.jobs)
	d.wg.Wait()
}

// Dispatch queues an automated step. Fire-and-forget: the outcome
// arrives later through the result handler.
func (d *Dispatcher) Dispatch(instanceID, bindingID string, attempt int, actions models.ActionList) {
	d.jobs <- dispatchJob{
		instanceID: instanceID,
		bindingID:  bindingID,
		attempt:    attempt,
		actions:    actions,
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for job := range d.jobs {
		if d.ctx.Err() != nil {
			d.deliver(job, nil, false, d.ctx.Err())
			continue
		}
		d.run(job)
	}
}

// run executes the job's actions in order, merging outputs. The first
// failing action stops the run; its own Retryable flag travels with
// the error.
func (d *Dispatcher) run(job dispatchJob) {
	output := models.Payload{}
	for _, action := range job.actions {
		actionCtx, cancel := context.WithTimeout(d.ctx, d.timeout)
		result, err := d.executor.Execute(actionCtx, job.instanceID, action)
		cancel()
		if err != nil {
			d.logger.Errorf("Action '%s' failed for instance %s (attempt %d): %v",
				action.Type, job.instanceID, job.attempt, err)
			d.deliver(job, output, action.Retryable, err)
			return
		}
		for k, v := range result {
			output[k] = v
		}
	}
	d.logger.Infof("Automated step completed for instance %s (attempt %d, %d actions)",
		job.instanceID, job.attempt, len(job.actions))
	d.deliver(job, output, false, nil)
}

func (d *Dispatcher) deliver(job dispatchJob, output models.Payload, retryable bool, execErr error) {
	d.mu.RLock()
	report := d.report
	d.mu.RUnlock()
	if report == nil {
		d.logger.Errorf("No result handler wired; dropping outcome for instance %s", job.instanceID)
		return
	}
	report(job.instanceID, job.bindingID, job.attempt, output, retryable, execErr)
}
