package api

import (
	"net/http"
	"strings"
	"time"

	"ledgerflow/internal/automation"
	"ledgerflow/internal/backup"
	"ledgerflow/internal/ops"
	"ledgerflow/internal/storage"
)

func (s *Server) handleAutomationTasks(w http.ResponseWriter, r *http.Request) {
	items, err := s.deps.Queue.List(strings.TrimSpace(r.URL.Query().Get("status")), queryInt(r, "limit", 100))
	if err != nil {
		respondDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	if items == nil {
		items = []automation.Task{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

func (s *Server) handleAutomationEnqueue(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TaskType   string      `json:"taskType"`
		Payload    storage.Doc `json:"payload"`
		RunAt      string      `json:"runAt"`
		MaxRetries int         `json:"maxRetries"`
	}
	if err := decodeBody(r, &body); err != nil {
		respondDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	taskType := strings.TrimSpace(body.TaskType)
	if taskType == "" {
		respondDetail(w, http.StatusBadRequest, "taskType is required")
		return
	}
	maxRetries := body.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 2
	}
	task, err := s.deps.Queue.EnqueueAt(taskType, body.Payload, "api", body.RunAt, maxRetries)
	if err != nil {
		respondDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"task": task})
}

func (s *Server) handleAutomationStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Queue.Stats()
	if err != nil {
		respondDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleAutomationDeadLetters(w http.ResponseWriter, r *http.Request) {
	items, err := s.deps.Queue.DeadLetters(queryInt(r, "limit", 50))
	if err != nil {
		respondDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	if items == nil {
		items = []storage.Doc{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

func (s *Server) handleAutomationRunNext(w http.ResponseWriter, r *http.Request) {
	task, ran, err := s.deps.Worker.RunNext(r.Context())
	if err != nil {
		respondDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ran {
		respondJSON(w, http.StatusOK, map[string]any{"ran": false})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"ran": true, "task": task})
}

func (s *Server) handleAutomationRunDue(w http.ResponseWriter, r *http.Request) {
	var body struct {
		At string `json:"at"`
	}
	if err := decodeBody(r, &body); err != nil {
		respondDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	now := time.Now().UTC()
	if strings.TrimSpace(body.At) != "" {
		t, err := storage.ParseISO(body.At)
		if err != nil {
			respondDetail(w, http.StatusBadRequest, err.Error())
			return
		}
		now = t
	}
	enqueued, err := s.deps.Scheduler.Tick(now)
	if err != nil {
		respondDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	if enqueued == nil {
		enqueued = []automation.Task{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"enqueued": enqueued, "count": len(enqueued)})
}

func (s *Server) handleAutomationDispatch(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RunDue *bool  `json:"runDue"`
		At     string `json:"at"`
	}
	if err := decodeBody(r, &body); err != nil {
		respondDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	runDue := body.RunDue == nil || *body.RunDue
	at := time.Now().UTC()
	if strings.TrimSpace(body.At) != "" {
		t, err := storage.ParseISO(body.At)
		if err != nil {
			respondDetail(w, http.StatusBadRequest, err.Error())
			return
		}
		at = t
	}

	worked := 0
	if runDue {
		n, err := s.deps.Worker.DispatchDueAndWork(r.Context(), at)
		if err != nil {
			respondDetail(w, http.StatusInternalServerError, err.Error())
			return
		}
		worked = n
	} else {
		for {
			_, ran, err := s.deps.Worker.RunNext(r.Context())
			if err != nil {
				respondDetail(w, http.StatusInternalServerError, err.Error())
				return
			}
			if !ran {
				break
			}
			worked++
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{"runDue": runDue, "worked": worked})
}

func (s *Server) handleAutomationJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.deps.Scheduler.Jobs()
	if err != nil {
		respondDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	if jobs == nil {
		jobs = []automation.Job{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"version": 1, "jobs": jobs})
}

func (s *Server) handleAutomationJobsSet(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Jobs []automation.Job `json:"jobs"`
	}
	if err := decodeBody(r, &body); err != nil {
		respondDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.deps.Scheduler.SaveJobs(body.Jobs); err != nil {
		respondDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"version": 1, "jobs": body.Jobs, "count": len(body.Jobs)})
}

func (s *Server) handleAlertsRun(w http.ResponseWriter, r *http.Request) {
	var body struct {
		At     string `json:"at"`
		Commit *bool  `json:"commit"`
	}
	if err := decodeBody(r, &body); err != nil {
		respondDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	at := body.At
	if at == "" {
		at = storage.TodayYMD()
	}
	if _, err := storage.ParseYMD(at); err != nil {
		respondDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	commit := true
	if body.Commit != nil {
		commit = *body.Commit
	}
	res, err := s.deps.Alerts.Run(at, commit)
	if err != nil {
		respondDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleAlertsEvents(w http.ResponseWriter, r *http.Request) {
	items, err := storage.ReadJSONLTail(s.deps.Layout.AlertEventsPath(), queryInt(r, "limit", 50))
	if err != nil {
		respondDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	if items == nil {
		items = []storage.Doc{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleAlertsDeliver(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Limit      int      `json:"limit"`
		ChannelIDs []string `json:"channelIds"`
		DryRun     bool     `json:"dryRun"`
	}
	if err := decodeBody(r, &body); err != nil {
		respondDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.deps.Delivery.Run(body.Limit, body.ChannelIDs, body.DryRun)
	if err != nil {
		respondDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleAlertsOutbox(w http.ResponseWriter, r *http.Request) {
	items, err := storage.ReadJSONLTail(s.deps.Layout.AlertOutboxPath(), queryInt(r, "limit", 50))
	if err != nil {
		respondDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	if items == nil {
		items = []storage.Doc{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleBackupCreate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		OutPath      string `json:"outPath"`
		IncludeInbox *bool  `json:"includeInbox"`
	}
	if err := decodeBody(r, &body); err != nil {
		respondDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	opts := backup.CreateOptions{OutPath: body.OutPath, IncludeInbox: true}
	if body.IncludeInbox != nil {
		opts.IncludeInbox = *body.IncludeInbox
	}
	res, err := backup.Create(s.deps.Layout, opts)
	if err != nil {
		respondDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleBackupRestore(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ArchivePath string `json:"archivePath"`
		TargetDir   string `json:"targetDir"`
		Force       bool   `json:"force"`
	}
	if err := decodeBody(r, &body); err != nil {
		respondDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(body.ArchivePath) == "" {
		respondDetail(w, http.StatusBadRequest, "archivePath is required")
		return
	}
	if strings.TrimSpace(body.TargetDir) == "" {
		respondDetail(w, http.StatusBadRequest, "targetDir is required")
		return
	}
	res, err := backup.Restore(body.ArchivePath, body.TargetDir, body.Force)
	if err != nil {
		respondDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleOpsMetrics(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, ops.Collect(s.deps.Layout, s.deps.Index, s.deps.Queue))
}
