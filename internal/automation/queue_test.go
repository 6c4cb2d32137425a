package automation

import (
	"context"
	"errors"
	"testing"
	"time"

	"ledgerflow/internal/layout"
	"ledgerflow/internal/storage"
)

func TestQueueEnqueueClaimFinish(t *testing.T) {
	q := NewQueue(layout.For(t.TempDir()))

	task, err := q.Enqueue("build", storage.Doc{"fromDate": "2025-03-01"}, "")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if task.Status != StatusQueued || task.MaxRetries != 2 || task.Source != "manual" {
		t.Fatalf("task=%+v", task)
	}
	if task.AvailableAt == "" {
		t.Fatal("availableAt not set")
	}

	now := time.Now().UTC().Add(time.Second)
	claimed, ok, err := q.Claim("w1", 0, now)
	if err != nil || !ok {
		t.Fatalf("claim: ok=%v err=%v", ok, err)
	}
	if claimed.Status != StatusRunning || claimed.Attempts != 1 {
		t.Fatalf("claimed=%+v", claimed)
	}
	if claimed.WorkerID != "w1" || claimed.LockedAt == "" {
		t.Fatalf("lock fields missing: %+v", claimed)
	}

	finished, err := q.Finish(claimed.TaskID, StatusDone, storage.Doc{"rows": 10}, "", 0, now)
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if finished.Status != StatusDone || finished.Result["rows"] != 10 {
		t.Fatalf("finished=%+v", finished)
	}
	if finished.FinishedAt == "" {
		t.Fatal("terminal task has no finishedAt")
	}

	if _, ok, _ := q.Claim("w1", 0, now); ok {
		t.Fatal("done task was reclaimed")
	}
}

func TestQueuePersistedRecordShape(t *testing.T) {
	q := NewQueue(layout.For(t.TempDir()))
	now := time.Now().UTC().Add(time.Second)

	if _, err := q.EnqueueAt("build", nil, "api", "", 1); err != nil {
		t.Fatal(err)
	}
	claimed, _, _ := q.Claim("w1", 0, now)
	if _, err := q.Finish(claimed.TaskID, StatusFailed, nil, "boom", 0, now); err != nil {
		t.Fatalf("finish: %v", err)
	}

	var doc struct {
		Tasks []storage.Doc `json:"tasks"`
	}
	if err := storage.ReadJSON(q.Layout.AutomationQueuePath(), &doc); err != nil {
		t.Fatalf("read queue doc: %v", err)
	}
	if len(doc.Tasks) != 1 {
		t.Fatalf("tasks=%v", doc.Tasks)
	}
	row := doc.Tasks[0]
	for _, key := range []string{"taskId", "taskType", "maxRetries", "availableAt", "workerId", "finishedAt", "source", "error"} {
		if _, ok := row[key]; !ok {
			t.Fatalf("queue record missing %q: %v", key, row)
		}
	}
	if row["taskType"] != "build" || row["source"] != "api" || row["status"] != StatusFailed {
		t.Fatalf("row=%v", row)
	}
}

func TestQueueRunAtGating(t *testing.T) {
	q := NewQueue(layout.For(t.TempDir()))
	now := time.Now().UTC()

	_, err := q.EnqueueAt("build", nil, "", storage.FormatISO(now.Add(time.Hour)), -1)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if _, ok, _ := q.Claim("w1", 0, now); ok {
		t.Fatal("task claimed before availableAt")
	}
	if _, ok, _ := q.Claim("w1", 0, now.Add(2*time.Hour)); !ok {
		t.Fatal("task not claimable after availableAt")
	}
}

func TestQueueClaimOrdersByAvailableAt(t *testing.T) {
	q := NewQueue(layout.For(t.TempDir()))
	now := time.Now().UTC()

	later, err := q.EnqueueAt("build", nil, "", storage.FormatISO(now.Add(2*time.Minute)), -1)
	if err != nil {
		t.Fatal(err)
	}
	sooner, err := q.EnqueueAt("build", nil, "", storage.FormatISO(now.Add(time.Minute)), -1)
	if err != nil {
		t.Fatal(err)
	}

	// Both are due; the earlier availableAt wins despite file order.
	claimed, ok, _ := q.Claim("w1", 0, now.Add(5*time.Minute))
	if !ok {
		t.Fatal("claim failed")
	}
	if claimed.TaskID != sooner.TaskID {
		t.Fatalf("claimed %s, want %s (later task was %s)", claimed.TaskID, sooner.TaskID, later.TaskID)
	}
}

func TestQueueRejectsInvalidInput(t *testing.T) {
	q := NewQueue(layout.For(t.TempDir()))
	if _, err := q.Enqueue("", nil, ""); err == nil {
		t.Fatal("empty task type accepted")
	}
	if _, err := q.EnqueueAt("build", nil, "", "not-a-time", -1); err == nil {
		t.Fatal("invalid runAt accepted")
	}
	if _, err := q.Finish("tsk_nope", "paused", nil, "", 0, time.Now().UTC()); err == nil {
		t.Fatal("invalid finish status accepted")
	}
}

func TestQueueRetryRequeuesThenDeadLetters(t *testing.T) {
	q := NewQueue(layout.For(t.TempDir()))
	now := time.Now().UTC().Add(time.Second)

	task, err := q.EnqueueAt("alerts.run", nil, "", "", 1)
	if err != nil {
		t.Fatal(err)
	}

	claimed, ok, _ := q.Claim("w1", 0, now)
	if !ok {
		t.Fatal("first claim failed")
	}
	retried, err := q.Finish(claimed.TaskID, StatusQueued, nil, "boom", 30*time.Second, now)
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	// A retry goes back to queued with the lock cleared, not to a fifth status.
	if retried.Status != StatusQueued || retried.Error != "boom" {
		t.Fatalf("retried=%+v", retried)
	}
	if retried.LockedAt != "" || retried.WorkerID != "" {
		t.Fatalf("lock not cleared: %+v", retried)
	}
	if retried.FinishedAt != "" {
		t.Fatalf("retry marked finished: %+v", retried)
	}

	// Before the delay elapses nothing is due.
	if _, ok, _ := q.Claim("w1", 0, now); ok {
		t.Fatal("retry claimed before delay elapsed")
	}

	claimed2, ok, _ := q.Claim("w1", 0, now.Add(time.Minute))
	if !ok {
		t.Fatal("retry not claimable after delay")
	}
	failed, err := q.Finish(claimed2.TaskID, StatusFailed, nil, "boom again", 0, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if failed.Status != StatusFailed || failed.FinishedAt == "" {
		t.Fatalf("failed=%+v", failed)
	}

	dead, err := q.DeadLetters(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(dead) != 1 || dead[0]["taskId"] != task.TaskID {
		t.Fatalf("dead letters=%v", dead)
	}
	if dead[0]["error"] != "boom again" || dead[0]["taskType"] != "alerts.run" {
		t.Fatalf("dead letter=%v", dead[0])
	}
}

func TestQueueLeaseReclaim(t *testing.T) {
	q := NewQueue(layout.For(t.TempDir()))
	q.Lease = time.Minute
	now := time.Now().UTC().Add(time.Second)

	if _, err := q.Enqueue("build", nil, ""); err != nil {
		t.Fatal(err)
	}
	first, ok, _ := q.Claim("w1", 0, now)
	if !ok {
		t.Fatal("claim failed")
	}

	// Within the lease the running task is invisible.
	if _, ok, _ := q.Claim("w2", 0, now.Add(30*time.Second)); ok {
		t.Fatal("running task reclaimed inside lease")
	}

	second, ok, _ := q.Claim("w2", 0, now.Add(2*time.Minute))
	if !ok {
		t.Fatal("expired lease not reclaimed")
	}
	if second.TaskID != first.TaskID || second.Attempts != 2 || second.WorkerID != "w2" {
		t.Fatalf("reclaimed=%+v", second)
	}
}

func TestQueueListAndStats(t *testing.T) {
	q := NewQueue(layout.For(t.TempDir()))
	for i := 0; i < 3; i++ {
		if _, err := q.Enqueue("build", storage.Doc{"i": i}, ""); err != nil {
			t.Fatal(err)
		}
	}

	items, err := q.List("", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2", len(items))
	}
	// Newest first.
	if items[0].Payload["i"] != float64(2) && items[0].Payload["i"] != 2 {
		t.Fatalf("order wrong: %v", items[0].Payload)
	}

	stats, err := q.Stats()
	if err != nil {
		t.Fatal(err)
	}
	if stats[StatusQueued] != 3 || stats[StatusDone] != 0 {
		t.Fatalf("stats=%v", stats)
	}
}

func TestQueueCompact(t *testing.T) {
	q := NewQueue(layout.For(t.TempDir()))
	now := time.Now().UTC().Add(time.Second)

	if _, err := q.Enqueue("build", nil, ""); err != nil {
		t.Fatal(err)
	}
	claimed, _, _ := q.Claim("w1", 0, now)
	if _, err := q.Finish(claimed.TaskID, StatusDone, nil, "", 0, now); err != nil {
		t.Fatal(err)
	}
	if _, err := q.Enqueue("build", nil, ""); err != nil {
		t.Fatal(err)
	}

	dropped, err := q.Compact(time.Hour, now.Add(2*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if dropped != 1 {
		t.Fatalf("dropped=%d, want 1", dropped)
	}
	stats, _ := q.Stats()
	if stats[StatusQueued] != 1 || stats[StatusDone] != 0 {
		t.Fatalf("stats after compact=%v", stats)
	}
}

func TestWorkerExecutesRegisteredHandler(t *testing.T) {
	l := layout.For(t.TempDir())
	q := NewQueue(l)
	sched := NewScheduler(l, q)
	exec := NewExecutor()
	exec.Register("echo", func(ctx context.Context, payload storage.Doc) (storage.Doc, error) {
		return storage.Doc{"echo": payload["msg"]}, nil
	})
	w := NewWorker(q, sched, exec)

	if _, err := q.Enqueue("echo", storage.Doc{"msg": "hi"}, ""); err != nil {
		t.Fatal(err)
	}

	task, ran, err := w.RunNext(context.Background())
	if err != nil {
		t.Fatalf("run next: %v", err)
	}
	if !ran || task.Status != StatusDone || task.Result["echo"] != "hi" {
		t.Fatalf("task=%+v ran=%v", task, ran)
	}
	if task.WorkerID != "worker" {
		t.Fatalf("workerId=%q", task.WorkerID)
	}

	if _, ran, _ := w.RunNext(context.Background()); ran {
		t.Fatal("empty queue reported work")
	}
}

func TestWorkerRetriesWithBackoffThenFails(t *testing.T) {
	l := layout.For(t.TempDir())
	q := NewQueue(l)
	exec := NewExecutor()
	exec.Register("flaky", func(ctx context.Context, payload storage.Doc) (storage.Doc, error) {
		return nil, errors.New("boom")
	})
	w := NewWorker(q, NewScheduler(l, q), exec)

	if _, err := q.EnqueueAt("flaky", nil, "", "", 1); err != nil {
		t.Fatal(err)
	}

	task, ran, err := w.RunNext(context.Background())
	if err != nil || !ran {
		t.Fatalf("run next: ran=%v err=%v", ran, err)
	}
	if task.Status != StatusQueued || task.Error != "boom" {
		t.Fatalf("first failure not requeued: %+v", task)
	}

	// The backoff pushes availableAt forward, so nothing is due yet.
	if _, ran, _ := w.RunNext(context.Background()); ran {
		t.Fatal("retry ran before backoff elapsed")
	}
}

func TestDispatchDueAndWorkHonorsClock(t *testing.T) {
	l := layout.For(t.TempDir())
	q := NewQueue(l)
	sched := NewScheduler(l, q)
	exec := NewExecutor()
	exec.Register("report.monthly", func(ctx context.Context, payload storage.Doc) (storage.Doc, error) {
		return storage.Doc{"ok": true}, nil
	})
	w := NewWorker(q, sched, exec)

	jobs := []Job{{
		ID:       "daily-report",
		Enabled:  true,
		Task:     TaskDef{Type: "report.monthly"},
		Schedule: Schedule{Freq: "daily", At: "08:00"},
	}}
	if err := sched.SaveJobs(jobs); err != nil {
		t.Fatal(err)
	}

	// The caller-supplied clock drives the scheduler tick.
	worked, err := w.DispatchDueAndWork(context.Background(), time.Date(2025, 3, 10, 8, 5, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if worked != 1 {
		t.Fatalf("worked=%d, want 1", worked)
	}
	stats, _ := q.Stats()
	if stats[StatusDone] != 1 {
		t.Fatalf("stats=%v", stats)
	}

	// Before the next day's slot nothing new is due.
	worked, err = w.DispatchDueAndWork(context.Background(), time.Date(2025, 3, 11, 7, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if worked != 0 {
		t.Fatalf("worked=%d, want 0", worked)
	}
}

func TestWorkerUnknownTaskTypeFails(t *testing.T) {
	l := layout.For(t.TempDir())
	q := NewQueue(l)
	w := NewWorker(q, NewScheduler(l, q), NewExecutor())

	if _, err := q.EnqueueAt("mystery", nil, "", "", 0); err != nil {
		t.Fatal(err)
	}
	task, ran, err := w.RunNext(context.Background())
	if err != nil {
		t.Fatalf("run next: %v", err)
	}
	if !ran || task.Status != StatusFailed {
		t.Fatalf("task=%+v", task)
	}
	if task.FinishedAt == "" {
		t.Fatal("failed task has no finishedAt")
	}
}
