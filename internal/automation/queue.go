// Package automation provides the durable task queue, the cron-style job
// scheduler, and the worker loop that executes tasks.
package automation

import (
	"fmt"
	"sort"
	"time"

	"ledgerflow/internal/layout"
	"ledgerflow/internal/storage"
)

// Task statuses. Terminal tasks (done, failed) stay in the queue document
// for inspection until compaction; a retried task goes back to queued.
const (
	StatusQueued  = "queued"
	StatusRunning = "running"
	StatusDone    = "done"
	StatusFailed  = "failed"
)

const defaultMaxRetries = 2

// Task is one unit of queued work.
type Task struct {
	TaskID      string      `json:"taskId"`
	TaskType    string      `json:"taskType"`
	Payload     storage.Doc `json:"payload"`
	Status      string      `json:"status"`
	Attempts    int         `json:"attempts"`
	MaxRetries  int         `json:"maxRetries"`
	AvailableAt string      `json:"availableAt"`
	CreatedAt   string      `json:"createdAt"`
	UpdatedAt   string      `json:"updatedAt"`
	LockedAt    string      `json:"lockedAt,omitempty"`
	WorkerID    string      `json:"workerId,omitempty"`
	FinishedAt  string      `json:"finishedAt,omitempty"`
	Result      storage.Doc `json:"result,omitempty"`
	Error       string      `json:"error,omitempty"`
	Source      string      `json:"source"`
}

type queueDoc struct {
	Version int    `json:"version"`
	Tasks   []Task `json:"tasks"`
}

// Queue persists tasks as a single JSON document that is rewritten on every
// mutation. Suitable for a single-process deployment.
type Queue struct {
	Layout layout.Layout
	Lease  time.Duration
}

func NewQueue(l layout.Layout) *Queue {
	return &Queue{Layout: l, Lease: 5 * time.Minute}
}

func (q *Queue) load() (queueDoc, error) {
	doc := queueDoc{Version: 1, Tasks: []Task{}}
	if err := storage.ReadJSON(q.Layout.AutomationQueuePath(), &doc); err != nil {
		return doc, err
	}
	if doc.Tasks == nil {
		doc.Tasks = []Task{}
	}
	return doc, nil
}

func (q *Queue) save(doc queueDoc) error {
	return storage.WriteJSON(q.Layout.AutomationQueuePath(), doc)
}

// Enqueue appends a new queued task and returns it.
func (q *Queue) Enqueue(taskType string, payload storage.Doc, source string) (Task, error) {
	return q.EnqueueAt(taskType, payload, source, "", -1)
}

// EnqueueAt is Enqueue with an optional runAt timestamp and retry budget for
// caller-scheduled work. The task becomes claimable at max(now, runAt).
// A negative maxRetries picks the default.
func (q *Queue) EnqueueAt(taskType string, payload storage.Doc, source, runAt string, maxRetries int) (Task, error) {
	if taskType == "" {
		return Task{}, fmt.Errorf("task type is required")
	}
	if payload == nil {
		payload = storage.Doc{}
	}
	if source == "" {
		source = "manual"
	}
	now := time.Now().UTC()
	availableAt := now
	if runAt != "" {
		at, err := storage.ParseISO(runAt)
		if err != nil {
			return Task{}, fmt.Errorf("invalid runAt: %w", err)
		}
		if at.After(now) {
			availableAt = at
		}
	}
	if maxRetries < 0 {
		maxRetries = defaultMaxRetries
	}
	doc, err := q.load()
	if err != nil {
		return Task{}, err
	}
	nowISO := storage.FormatISO(now)
	task := Task{
		TaskID:      storage.NewID(storage.PrefixTask),
		TaskType:    taskType,
		Payload:     payload,
		Status:      StatusQueued,
		MaxRetries:  maxRetries,
		AvailableAt: storage.FormatISO(availableAt),
		CreatedAt:   nowISO,
		UpdatedAt:   nowISO,
		Source:      source,
	}
	doc.Tasks = append(doc.Tasks, task)
	if err := q.save(doc); err != nil {
		return Task{}, err
	}
	return task, nil
}

func claimable(t Task, now time.Time, lockTTL time.Duration) bool {
	switch t.Status {
	case StatusQueued:
		at, err := storage.ParseISO(t.AvailableAt)
		return err == nil && !at.After(now)
	case StatusRunning:
		// Expired leases are reclaimed so a crashed worker cannot wedge the queue.
		lockedAt, err := storage.ParseISO(t.LockedAt)
		return err == nil && now.Sub(lockedAt) > lockTTL
	}
	return false
}

// Claim marks the due task with the earliest availableAt as running and
// returns it. The second return value is false when nothing is due.
func (q *Queue) Claim(workerID string, lockTTL time.Duration, now time.Time) (Task, bool, error) {
	if lockTTL <= 0 {
		lockTTL = q.Lease
	}
	doc, err := q.load()
	if err != nil {
		return Task{}, false, err
	}
	candidates := []int{}
	for i := range doc.Tasks {
		if claimable(doc.Tasks[i], now, lockTTL) {
			candidates = append(candidates, i)
		}
	}
	if len(candidates) == 0 {
		return Task{}, false, nil
	}
	sort.SliceStable(candidates, func(a, b int) bool {
		return doc.Tasks[candidates[a]].AvailableAt < doc.Tasks[candidates[b]].AvailableAt
	})
	t := &doc.Tasks[candidates[0]]
	t.Status = StatusRunning
	t.LockedAt = storage.FormatISO(now)
	t.WorkerID = workerID
	t.UpdatedAt = storage.FormatISO(now)
	t.Attempts++
	if err := q.save(doc); err != nil {
		return Task{}, false, err
	}
	return *t, true, nil
}

// Finish records the outcome of a claimed task. Status must be done, failed,
// or queued (retry); a retry becomes claimable again after retryDelay, and a
// terminal failure is copied to the dead-letter log.
func (q *Queue) Finish(taskID, status string, result storage.Doc, errMsg string, retryDelay time.Duration, now time.Time) (Task, error) {
	if status != StatusDone && status != StatusFailed && status != StatusQueued {
		return Task{}, fmt.Errorf("invalid finish status %q", status)
	}
	doc, err := q.load()
	if err != nil {
		return Task{}, err
	}
	for i := range doc.Tasks {
		if doc.Tasks[i].TaskID != taskID {
			continue
		}
		t := &doc.Tasks[i]
		t.Status = status
		t.UpdatedAt = storage.FormatISO(now)
		if result != nil {
			t.Result = result
		}
		if errMsg != "" {
			t.Error = errMsg
		}
		switch status {
		case StatusQueued:
			t.AvailableAt = storage.FormatISO(now.Add(retryDelay))
			t.LockedAt = ""
			t.WorkerID = ""
		case StatusDone, StatusFailed:
			t.FinishedAt = storage.FormatISO(now)
		}
		if err := q.save(doc); err != nil {
			return *t, err
		}
		if status == StatusFailed {
			dead := storage.Doc{
				"taskId":   t.TaskID,
				"taskType": t.TaskType,
				"payload":  t.Payload,
				"attempts": t.Attempts,
				"error":    t.Error,
				"failedAt": t.FinishedAt,
				"source":   t.Source,
			}
			return *t, storage.AppendJSONL(q.Layout.DeadLettersPath(), dead)
		}
		return *t, nil
	}
	return Task{}, fmt.Errorf("task %s not found", taskID)
}

// List returns tasks, optionally filtered by status, newest first.
func (q *Queue) List(status string, limit int) ([]Task, error) {
	doc, err := q.load()
	if err != nil {
		return nil, err
	}
	out := []Task{}
	for i := len(doc.Tasks) - 1; i >= 0; i-- {
		t := doc.Tasks[i]
		if status != "" && t.Status != status {
			continue
		}
		out = append(out, t)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Get returns one task by id.
func (q *Queue) Get(taskID string) (Task, error) {
	doc, err := q.load()
	if err != nil {
		return Task{}, err
	}
	for _, t := range doc.Tasks {
		if t.TaskID == taskID {
			return t, nil
		}
	}
	return Task{}, fmt.Errorf("task %s not found", taskID)
}

// Stats counts tasks per status.
func (q *Queue) Stats() (map[string]int, error) {
	doc, err := q.load()
	if err != nil {
		return nil, err
	}
	stats := map[string]int{
		StatusQueued:  0,
		StatusRunning: 0,
		StatusDone:    0,
		StatusFailed:  0,
	}
	for _, t := range doc.Tasks {
		stats[t.Status]++
	}
	return stats, nil
}

// DeadLetters returns up to limit most recent dead-letter records.
func (q *Queue) DeadLetters(limit int) ([]storage.Doc, error) {
	if limit <= 0 {
		limit = 50
	}
	return storage.ReadJSONLTail(q.Layout.DeadLettersPath(), limit)
}

// Compact removes terminal tasks older than keep and returns how many were
// dropped.
func (q *Queue) Compact(keep time.Duration, now time.Time) (int, error) {
	doc, err := q.load()
	if err != nil {
		return 0, err
	}
	cutoff := now.Add(-keep)
	kept := doc.Tasks[:0]
	dropped := 0
	for _, t := range doc.Tasks {
		if t.Status == StatusDone || t.Status == StatusFailed {
			if at, err := storage.ParseISO(t.UpdatedAt); err == nil && at.Before(cutoff) {
				dropped++
				continue
			}
		}
		kept = append(kept, t)
	}
	if dropped == 0 {
		return 0, nil
	}
	doc.Tasks = kept
	return dropped, q.save(doc)
}
