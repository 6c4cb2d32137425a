package automation

import (
	"context"
	"fmt"
	"log"
	"time"

	"ledgerflow/internal/storage"
)

// Handler executes one task type. The returned document is stored on the
// task as its result.
type Handler func(ctx context.Context, payload storage.Doc) (storage.Doc, error)

// Executor dispatches claimed tasks to registered handlers.
type Executor struct {
	handlers map[string]Handler
}

func NewExecutor() *Executor {
	return &Executor{handlers: map[string]Handler{}}
}

func (e *Executor) Register(taskType string, h Handler) {
	e.handlers[taskType] = h
}

func (e *Executor) Execute(ctx context.Context, task Task) (storage.Doc, error) {
	h, ok := e.handlers[task.TaskType]
	if !ok {
		return nil, fmt.Errorf("unknown task type %q", task.TaskType)
	}
	return h(ctx, task.Payload)
}

// Worker drains the queue and fires the scheduler.
type Worker struct {
	Queue     *Queue
	Scheduler *Scheduler
	Executor  *Executor
	ID        string
	Poll      time.Duration
}

func NewWorker(q *Queue, s *Scheduler, e *Executor) *Worker {
	return &Worker{Queue: q, Scheduler: s, Executor: e, ID: "worker", Poll: 2 * time.Second}
}

// RunNext claims and executes at most one due task. Failures re-queue the
// task with exponential backoff until maxRetries is spent, then fail it.
// The bool reports whether a task was claimed.
func (w *Worker) RunNext(ctx context.Context) (Task, bool, error) {
	task, ok, err := w.Queue.Claim(w.ID, 0, time.Now().UTC())
	if err != nil || !ok {
		return Task{}, false, err
	}
	result, execErr := w.Executor.Execute(ctx, task)
	now := time.Now().UTC()
	if execErr == nil {
		finished, err := w.Queue.Finish(task.TaskID, StatusDone, result, "", 0, now)
		return finished, true, err
	}
	if task.Attempts <= task.MaxRetries {
		backoff := time.Duration(1<<uint(max(0, task.Attempts-1))) * time.Second
		log.Printf("[automation] task %s (%s) attempt %d failed, retrying in %s: %v",
			task.TaskID, task.TaskType, task.Attempts, backoff, execErr)
		finished, err := w.Queue.Finish(task.TaskID, StatusQueued, nil, execErr.Error(), backoff, now)
		return finished, true, err
	}
	log.Printf("[automation] task %s (%s) failed after %d attempts: %v",
		task.TaskID, task.TaskType, task.Attempts, execErr)
	finished, err := w.Queue.Finish(task.TaskID, StatusFailed, nil, execErr.Error(), 0, now)
	return finished, true, err
}

// DispatchDueAndWork performs one scheduler tick at the given clock and then
// drains every due task. Used by the one-shot CLI and HTTP paths and by each
// worker loop iteration.
func (w *Worker) DispatchDueAndWork(ctx context.Context, at time.Time) (int, error) {
	if _, err := w.Scheduler.Tick(at); err != nil {
		return 0, err
	}
	ran := 0
	for {
		if ctx.Err() != nil {
			return ran, ctx.Err()
		}
		_, ok, err := w.RunNext(ctx)
		if err != nil {
			return ran, err
		}
		if !ok {
			return ran, nil
		}
		ran++
	}
}

// Run loops until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	log.Printf("[automation] worker started, poll interval %s", w.Poll)
	ticker := time.NewTicker(w.Poll)
	defer ticker.Stop()
	for {
		if _, err := w.DispatchDueAndWork(ctx, time.Now().UTC()); err != nil && ctx.Err() == nil {
			log.Printf("[automation] pass failed: %v", err)
		}
		select {
		case <-ctx.Done():
			log.Printf("[automation] worker stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
