package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"ledgerflow/internal/alerts"
	"ledgerflow/internal/analysis"
	"ledgerflow/internal/audit"
	"ledgerflow/internal/automation"
	"ledgerflow/internal/config"
	"ledgerflow/internal/delivery"
	"ledgerflow/internal/documents"
	"ledgerflow/internal/eventbus"
	"ledgerflow/internal/importer"
	"ledgerflow/internal/index"
	"ledgerflow/internal/layout"
	"ledgerflow/internal/ledger"
	"ledgerflow/internal/migrate"
	"ledgerflow/internal/reconcile"
	"ledgerflow/internal/reports"
	"ledgerflow/internal/review"
	"ledgerflow/internal/sources"
)

const (
	localAddr  = "127.0.0.1:52000"
	remoteAddr = "203.0.113.9:52000"
)

func clearAuthEnv(t *testing.T) {
	t.Helper()
	t.Setenv("LEDGERFLOW_API_KEY", "")
	t.Setenv("LEDGERFLOW_API_KEYS", "")
	t.Setenv("LEDGERFLOW_JWT_SECRET", "")
}

func newTestServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	l := layout.For(t.TempDir())
	if err := layout.InitDataLayout(l, true); err != nil {
		t.Fatalf("init layout: %v", err)
	}
	idx, err := index.Open(l.IndexDBPath())
	if err != nil {
		t.Fatalf("open index: %v", err)
	}
	t.Cleanup(func() { idx.Close() })

	if cfg == nil {
		cfg = &config.Config{DataDir: l.DataDir, RateLimitRPS: 100, RateLimitBurst: 200}
	}
	store := ledger.NewStore(l, idx)
	reg := sources.NewRegistry(l, idx)
	queue := automation.NewQueue(l)
	bus := eventbus.New()
	t.Cleanup(bus.Close)

	engine := alerts.NewEngine(l, store)
	engine.Publisher = bus
	sched := automation.NewScheduler(l, queue)

	deps := Deps{
		Config:    cfg,
		Layout:    l,
		Store:     store,
		Index:     idx,
		Registry:  reg,
		Queue:     queue,
		Scheduler: sched,
		Worker:    automation.NewWorker(queue, sched, automation.NewExecutor()),
		Alerts:    engine,
		Delivery:  delivery.NewPipeline(l),
		Reports:   reports.NewService(l, store),
		Review:    review.NewService(l, store, reg),
		Analysis:  analysis.NewService(l, store),
		Documents: documents.NewService(l, reg),
		Importer:  importer.New(reg, store, idx),
		Linker:    reconcile.NewLinker(l, store, reg),
		Migrator:  migrate.New(l, idx),
		Bus:       bus,
		Audit:     audit.NewLogger(l),
	}
	return NewServer(deps, "127.0.0.1", 0)
}

func doRequest(s *Server, method, path, remote, apiKey, body string) *httptest.ResponseRecorder {
	var rd *strings.Reader
	if body == "" {
		rd = strings.NewReader("")
	} else {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	req.RemoteAddr = remote
	if apiKey != "" {
		req.Header.Set("x-api-key", apiKey)
	}
	w := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(w, req)
	return w
}

func decodeResp(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	out := map[string]any{}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return out
}

func TestHealth(t *testing.T) {
	clearAuthEnv(t)
	s := newTestServer(t, nil)

	w := doRequest(s, "GET", "/api/health", remoteAddr, "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := decodeResp(t, w)
	if body["status"] != "ok" || body["version"] != Version {
		t.Fatalf("health = %v", body)
	}
	if body["authEnabled"] != false || body["authMode"] != "local_only_no_key" {
		t.Fatalf("auth fields = %v", body)
	}
}

func TestLocalOnlyModeBlocksRemoteClients(t *testing.T) {
	clearAuthEnv(t)
	s := newTestServer(t, nil)

	w := doRequest(s, "GET", "/api/transactions", remoteAddr, "", "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("remote status = %d", w.Code)
	}

	w = doRequest(s, "GET", "/api/transactions", localAddr, "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("local status = %d, body %s", w.Code, w.Body.String())
	}
	body := decodeResp(t, w)
	if items, ok := body["items"].([]any); !ok || len(items) != 0 {
		t.Fatalf("items = %v", body["items"])
	}
}

func TestAPIKeyScopes(t *testing.T) {
	clearAuthEnv(t)
	t.Setenv("LEDGERFLOW_API_KEYS", `[
		{"id": "reader", "key": "tok-read", "scopes": ["read"]},
		{"id": "boss", "key": "tok-admin", "scopes": ["admin"]}
	]`)
	s := newTestServer(t, nil)

	w := doRequest(s, "GET", "/api/transactions", remoteAddr, "", "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("no key status = %d", w.Code)
	}
	if body := decodeResp(t, w); body["detail"] != "API key required" {
		t.Fatalf("detail = %v", body["detail"])
	}

	w = doRequest(s, "GET", "/api/transactions", remoteAddr, "tok-read", "")
	if w.Code != http.StatusOK {
		t.Fatalf("reader GET status = %d", w.Code)
	}

	entry := `{"occurredAt": "2025-03-05", "amount": {"value": "-12.50", "currency": "USD"}, "merchant": "Cafe"}`
	w = doRequest(s, "POST", "/api/manual/add", remoteAddr, "tok-read", entry)
	if w.Code != http.StatusForbidden {
		t.Fatalf("reader POST status = %d", w.Code)
	}
	if body := decodeResp(t, w); body["detail"] != "Insufficient scope. Required: write" {
		t.Fatalf("detail = %v", body["detail"])
	}

	w = doRequest(s, "POST", "/api/manual/add", remoteAddr, "tok-admin", entry)
	if w.Code != http.StatusOK {
		t.Fatalf("admin POST status = %d, body %s", w.Code, w.Body.String())
	}
	body := decodeResp(t, w)
	tx, _ := body["tx"].(map[string]any)
	if tx == nil || tx["merchant"] != "Cafe" {
		t.Fatalf("tx = %v", body)
	}

	// Key listing is admin-only.
	w = doRequest(s, "GET", "/api/auth/keys", remoteAddr, "tok-read", "")
	if w.Code != http.StatusForbidden {
		t.Fatalf("reader keys status = %d", w.Code)
	}
	w = doRequest(s, "GET", "/api/auth/keys", remoteAddr, "tok-admin", "")
	if w.Code != http.StatusOK {
		t.Fatalf("admin keys status = %d", w.Code)
	}
	if body := decodeResp(t, w); body["count"] != float64(2) {
		t.Fatalf("key count = %v", body["count"])
	}
}

func TestManualAddValidation(t *testing.T) {
	clearAuthEnv(t)
	s := newTestServer(t, nil)

	w := doRequest(s, "POST", "/api/manual/add", localAddr,
		"", `{"occurredAt": "2025-03-05", "amount": {"value": "-5"}}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
	if body := decodeResp(t, w); body["detail"] != "merchant is required" {
		t.Fatalf("detail = %v", body["detail"])
	}

	w = doRequest(s, "POST", "/api/manual/add", localAddr,
		"", `{"occurredAt": "not a date", "amount": {"value": "-5"}, "merchant": "X"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad date status = %d", w.Code)
	}
}

func TestReportMonthlyValidation(t *testing.T) {
	clearAuthEnv(t)
	s := newTestServer(t, nil)

	w := doRequest(s, "POST", "/api/report/monthly", localAddr, "", `{"month": "2025-3"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
	if body := decodeResp(t, w); body["detail"] != "month must be YYYY-MM" {
		t.Fatalf("detail = %v", body["detail"])
	}

	w = doRequest(s, "POST", "/api/report/monthly", localAddr, "", `{"month": "2025-03"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("valid month status = %d, body %s", w.Code, w.Body.String())
	}
}

func TestAutomationEnqueueAndStats(t *testing.T) {
	clearAuthEnv(t)
	s := newTestServer(t, nil)

	w := doRequest(s, "POST", "/api/automation/tasks", localAddr,
		"", `{"taskType": "build", "maxRetries": 2}`)
	if w.Code != http.StatusOK {
		t.Fatalf("enqueue status = %d, body %s", w.Code, w.Body.String())
	}
	body := decodeResp(t, w)
	task, _ := body["task"].(map[string]any)
	if task == nil || task["taskType"] != "build" || task["maxRetries"] != float64(2) {
		t.Fatalf("task = %v", body)
	}
	if task["source"] != "api" || task["availableAt"] == "" {
		t.Fatalf("task = %v", task)
	}

	w = doRequest(s, "POST", "/api/automation/tasks", localAddr, "", `{}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing taskType status = %d", w.Code)
	}

	w = doRequest(s, "GET", "/api/automation/stats", localAddr, "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("stats status = %d", w.Code)
	}
	stats := decodeResp(t, w)
	if stats["queued"] != float64(1) {
		t.Fatalf("stats = %v", stats)
	}
}

func TestAutomationDispatchAcceptsClockOverride(t *testing.T) {
	clearAuthEnv(t)
	s := newTestServer(t, nil)

	w := doRequest(s, "POST", "/api/automation/dispatch", localAddr,
		"", `{"at": "2025-03-10T08:05:00Z"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("dispatch status = %d, body %s", w.Code, w.Body.String())
	}
	body := decodeResp(t, w)
	if body["runDue"] != true || body["worked"] != float64(0) {
		t.Fatalf("dispatch = %v", body)
	}

	w = doRequest(s, "POST", "/api/automation/dispatch", localAddr,
		"", `{"at": "not-a-time"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad at status = %d", w.Code)
	}
}

func TestRateLimit(t *testing.T) {
	clearAuthEnv(t)
	cfg := &config.Config{RateLimitRPS: 1, RateLimitBurst: 2}
	s := newTestServer(t, cfg)

	codes := []int{}
	for i := 0; i < 3; i++ {
		w := doRequest(s, "GET", "/api/transactions", localAddr, "", "")
		codes = append(codes, w.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK {
		t.Fatalf("codes = %v", codes)
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Fatalf("third request = %d, want 429", codes[2])
	}

	// The liveness probe is exempt.
	w := doRequest(s, "GET", "/api/health", localAddr, "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("health status = %d", w.Code)
	}
}

func TestAuditRecordsDeniedMutations(t *testing.T) {
	clearAuthEnv(t)
	t.Setenv("LEDGERFLOW_API_KEYS", `[{"id": "reader", "key": "tok-read", "scopes": ["read"]}]`)
	s := newTestServer(t, nil)

	w := doRequest(s, "POST", "/api/manual/add", remoteAddr, "tok-read", `{"merchant": "X"}`)
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d", w.Code)
	}

	recs, err := s.deps.Audit.Recent(10)
	if err != nil {
		t.Fatalf("audit recent: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("audit records = %d, want 1", len(recs))
	}
	rec := recs[0]
	if rec["authDenied"] != true || rec["authDenyReason"] != "insufficient_scope" {
		t.Fatalf("record = %v", rec)
	}
	if rec["status"] != float64(http.StatusForbidden) || rec["path"] != "/api/manual/add" {
		t.Fatalf("record = %v", rec)
	}
}

func TestMigrateStatusEndpoint(t *testing.T) {
	clearAuthEnv(t)
	s := newTestServer(t, nil)

	w := doRequest(s, "GET", "/api/migrate/status", localAddr, "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := decodeResp(t, w)
	if body["latestVersion"] != float64(migrate.LatestVersion) {
		t.Fatalf("body = %v", body)
	}
}
