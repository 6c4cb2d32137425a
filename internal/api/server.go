// Package api serves the HTTP surface over the data directory.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"ledgerflow/internal/alerts"
	"ledgerflow/internal/analysis"
	"ledgerflow/internal/audit"
	"ledgerflow/internal/auth"
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

// Version is the application version reported by /api/health.
const Version = "1.0.0"

// BuildCommit is set by main to the git commit hash baked in at build time.
var BuildCommit = "dev"

// Deps carries the wired services the handlers operate on.
type Deps struct {
	Config    *config.Config
	Layout    layout.Layout
	Store     *ledger.Store
	Index     *index.Store
	Registry  *sources.Registry
	Queue     *automation.Queue
	Scheduler *automation.Scheduler
	Worker    *automation.Worker
	Alerts    *alerts.Engine
	Delivery  *delivery.Pipeline
	Reports   *reports.Service
	Review    *review.Service
	Analysis  *analysis.Service
	Documents *documents.Service
	Importer  *importer.Importer
	Linker    *reconcile.Linker
	Migrator  *migrate.Controller
	Bus       *eventbus.Bus
	Audit     *audit.Logger
}

type Server struct {
	deps       Deps
	httpServer *http.Server
	authStore  auth.Store
	authMode   string
	jwtSecret  string
	hub        *alertHub
	limiter    *ipLimiter
}

func NewServer(deps Deps, host string, port int) *Server {
	r := mux.NewRouter()

	s := &Server{
		deps:      deps,
		authStore: auth.LoadStoreFromEnv(),
		jwtSecret: auth.JWTSecret(),
		hub:       newAlertHub(),
	}
	s.authMode = auth.ModeForStore(s.authStore)
	if s.jwtSecret != "" && s.authMode == "local_only_no_key" {
		s.authMode = "jwt"
	}

	if deps.Bus != nil {
		s.hub.attach(deps.Bus)
	}

	rps, burst := 20.0, 40
	if deps.Config != nil {
		rps = float64(deps.Config.RateLimitRPS)
		burst = deps.Config.RateLimitBurst
	}
	s.limiter = newIPLimiter(rps, burst)

	r.Use(commonMiddleware)
	r.Use(s.rateLimitMiddleware)
	r.Use(s.authAuditMiddleware)

	registerBaseRoutes(r, s)
	registerLedgerRoutes(r, s)
	registerImportRoutes(r, s)
	registerReportRoutes(r, s)
	registerAutomationRoutes(r, s)
	registerAdminRoutes(r, s)

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", host, port),
		Handler: r,
	}
	return s
}

func (s *Server) Start() error {
	go s.hub.run()
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func commonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS, PUT, DELETE")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, x-api-key, x-workspace-id")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// --- response helpers ---

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func respondDetail(w http.ResponseWriter, status int, detail string) {
	respondJSON(w, status, map[string]string{"detail": detail})
}

func decodeBody(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		if strings.Contains(err.Error(), "EOF") {
			return nil
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func queryInt(r *http.Request, key string, def int) int {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return def
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		return def
	}
	return n
}
