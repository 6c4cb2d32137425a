package automation

import (
	"fmt"
	"log"
	"strings"
	"time"

	"ledgerflow/internal/layout"
	"ledgerflow/internal/storage"
)

// Schedule describes when a job fires.
type Schedule struct {
	Freq     string `json:"freq"`               // daily, weekly, hourly
	At       string `json:"at,omitempty"`       // HH:MM, daily and weekly
	Day      string `json:"day,omitempty"`      // mon..sun, weekly only
	Interval int    `json:"interval,omitempty"` // hours, hourly only
}

// TaskDef is the task a job enqueues when its slot fires.
type TaskDef struct {
	Type       string      `json:"type"`
	Payload    storage.Doc `json:"payload,omitempty"`
	MaxRetries int         `json:"maxRetries,omitempty"`
}

// Job is a recurring task definition.
type Job struct {
	ID       string   `json:"id"`
	Name     string   `json:"name,omitempty"`
	Enabled  bool     `json:"enabled"`
	Task     TaskDef  `json:"task"`
	Schedule Schedule `json:"schedule"`
}

type jobsDoc struct {
	Version int   `json:"version"`
	Jobs    []Job `json:"jobs"`
}

type schedStateDoc struct {
	Version   int               `json:"version"`
	LastSlots map[string]string `json:"lastSlots"`
}

// Scheduler enqueues one task per (job, slot). A slot identifies a single
// scheduled firing, so repeated ticks within a slot enqueue nothing.
type Scheduler struct {
	Layout layout.Layout
	Queue  *Queue
}

func NewScheduler(l layout.Layout, q *Queue) *Scheduler {
	return &Scheduler{Layout: l, Queue: q}
}

// Jobs returns the configured job list.
func (s *Scheduler) Jobs() ([]Job, error) {
	doc := jobsDoc{Version: 1, Jobs: []Job{}}
	if err := storage.ReadJSON(s.Layout.AutomationJobsPath(), &doc); err != nil {
		return nil, err
	}
	if doc.Jobs == nil {
		doc.Jobs = []Job{}
	}
	return doc.Jobs, nil
}

// SaveJobs validates and replaces the job list.
func (s *Scheduler) SaveJobs(jobs []Job) error {
	seen := map[string]bool{}
	for _, j := range jobs {
		if j.ID == "" || j.Task.Type == "" {
			return fmt.Errorf("job id and task.type are required")
		}
		if seen[j.ID] {
			return fmt.Errorf("duplicate job id %q", j.ID)
		}
		seen[j.ID] = true
		if _, err := slotKey(j.Schedule, time.Now().UTC()); err != nil {
			return fmt.Errorf("job %s: %w", j.ID, err)
		}
	}
	return storage.WriteJSON(s.Layout.AutomationJobsPath(), jobsDoc{Version: 1, Jobs: jobs})
}

// slotKey returns the slot identifier the schedule is currently in, or ""
// when the schedule is not active at now.
func slotKey(sc Schedule, now time.Time) (string, error) {
	freq := strings.ToLower(sc.Freq)
	if freq == "" {
		freq = "daily"
	}
	switch freq {
	case "daily":
		at := sc.At
		if at == "" {
			at = "00:00"
		}
		hh, mm, err := parseHHMM(at)
		if err != nil {
			return "", err
		}
		fireAt := time.Date(now.Year(), now.Month(), now.Day(), hh, mm, 0, 0, time.UTC)
		if now.Before(fireAt) {
			return "", nil
		}
		return fmt.Sprintf("daily:%s:%s", now.Format(storage.YMD), at), nil
	case "weekly":
		day := strings.ToLower(sc.Day)
		if day == "" {
			day = "mon"
		}
		if weekdayToken(now.Weekday()) != day {
			return "", nil
		}
		at := sc.At
		if at == "" {
			at = "00:00"
		}
		hh, mm, err := parseHHMM(at)
		if err != nil {
			return "", err
		}
		fireAt := time.Date(now.Year(), now.Month(), now.Day(), hh, mm, 0, 0, time.UTC)
		if now.Before(fireAt) {
			return "", nil
		}
		return fmt.Sprintf("weekly:%s:%s:%s", now.Format(storage.YMD), at, day), nil
	case "hourly":
		interval := sc.Interval
		if interval <= 0 {
			interval = 1
		}
		// Active only in hours that are a multiple of the interval.
		if now.Hour()%interval != 0 {
			return "", nil
		}
		top := time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), 0, 0, 0, time.UTC)
		return fmt.Sprintf("hourly:%s:i%d", top.Format(time.RFC3339), interval), nil
	}
	return "", fmt.Errorf("unknown schedule freq %q", sc.Freq)
}

func parseHHMM(s string) (int, int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid time %q: %w", s, err)
	}
	return t.Hour(), t.Minute(), nil
}

func weekdayToken(d time.Weekday) string {
	switch d {
	case time.Monday:
		return "mon"
	case time.Tuesday:
		return "tue"
	case time.Wednesday:
		return "wed"
	case time.Thursday:
		return "thu"
	case time.Friday:
		return "fri"
	case time.Saturday:
		return "sat"
	}
	return "sun"
}

// Tick enqueues a task for every enabled job whose current slot has not
// fired yet, then records the slot. Returns the enqueued tasks.
func (s *Scheduler) Tick(now time.Time) ([]Task, error) {
	jobs, err := s.Jobs()
	if err != nil {
		return nil, err
	}
	state := schedStateDoc{Version: 1, LastSlots: map[string]string{}}
	if err := storage.ReadJSON(s.Layout.AutomationStatePath(), &state); err != nil {
		return nil, err
	}
	if state.LastSlots == nil {
		state.LastSlots = map[string]string{}
	}

	var enqueued []Task
	changed := false
	for _, job := range jobs {
		if !job.Enabled {
			continue
		}
		slot, err := slotKey(job.Schedule, now)
		if err != nil {
			log.Printf("[automation] job %s skipped: %v", job.ID, err)
			continue
		}
		if slot == "" || state.LastSlots[job.ID] == slot {
			continue
		}
		maxRetries := job.Task.MaxRetries
		if maxRetries <= 0 {
			maxRetries = defaultMaxRetries
		}
		task, err := s.Queue.EnqueueAt(job.Task.Type, job.Task.Payload, "job:"+job.ID, storage.FormatISO(now), maxRetries)
		if err != nil {
			return enqueued, err
		}
		enqueued = append(enqueued, task)
		state.LastSlots[job.ID] = slot
		changed = true
	}
	if changed {
		if err := storage.WriteJSON(s.Layout.AutomationStatePath(), state); err != nil {
			return enqueued, err
		}
	}
	return enqueued, nil
}
