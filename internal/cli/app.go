// Package cli implements the ledgerflow command tree.
package cli

import (
	"context"
	"fmt"
	"os"

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
	"ledgerflow/internal/storage"
)

// App holds every wired service for one data directory.
type App struct {
	Config    *config.Config
	Layout    layout.Layout
	Index     *index.Store
	Store     *ledger.Store
	Registry  *sources.Registry
	Queue     *automation.Queue
	Scheduler *automation.Scheduler
	Executor  *automation.Executor
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

func loadConfig(dataDir, configPath string) (*config.Config, error) {
	var cfg *config.Config
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return nil, fmt.Errorf("load config %s: %w", configPath, err)
		}
		cfg = loaded
	} else {
		cfg = config.FromEnv()
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	return cfg, nil
}

// newApp wires the full service graph. The data layout is created on demand
// so read-only commands work against a fresh directory.
func newApp(dataDir, configPath string) (*App, error) {
	cfg, err := loadConfig(dataDir, configPath)
	if err != nil {
		return nil, err
	}
	l := layout.For(cfg.DataDir)
	if err := layout.InitDataLayout(l, false); err != nil {
		return nil, err
	}

	dsn := cfg.IndexDSN
	if dsn == "" {
		dsn = l.IndexDBPath()
	}
	idx, err := index.Open(dsn)
	if err != nil {
		return nil, err
	}

	app := &App{
		Config:   cfg,
		Layout:   l,
		Index:    idx,
		Store:    ledger.NewStore(l, idx),
		Registry: sources.NewRegistry(l, idx),
		Queue:    automation.NewQueue(l),
		Bus:      eventbus.New(),
		Audit:    audit.NewLogger(l),
		Migrator: migrate.New(l, idx),
		Delivery: delivery.NewPipeline(l),
	}
	app.Scheduler = automation.NewScheduler(l, app.Queue)
	app.Alerts = alerts.NewEngine(l, app.Store)
	app.Alerts.Publisher = app.Bus
	app.Reports = reports.NewService(l, app.Store)
	app.Review = review.NewService(l, app.Store, app.Registry)
	app.Analysis = analysis.NewService(l, app.Store)
	app.Documents = documents.NewService(l, app.Registry)
	app.Importer = importer.New(app.Registry, app.Store, idx)
	app.Linker = reconcile.NewLinker(l, app.Store, app.Registry)

	app.Executor = automation.NewExecutor()
	app.registerTaskHandlers()
	app.Worker = automation.NewWorker(app.Queue, app.Scheduler, app.Executor)
	return app, nil
}

func (a *App) Close() {
	if a.Index != nil {
		a.Index.Close()
	}
	if a.Bus != nil {
		a.Bus.Close()
	}
}

// registerTaskHandlers binds the queue task types the scheduler and API can
// enqueue to their implementations.
func (a *App) registerTaskHandlers() {
	a.Executor.Register("build", func(ctx context.Context, payload storage.Doc) (storage.Doc, error) {
		from, _ := payload["fromDate"].(string)
		to, _ := payload["toDate"].(string)
		includeDeleted, _ := payload["includeDeleted"].(bool)
		summary, err := reports.BuildCaches(a.Layout, a.Store, from, to, includeDeleted)
		if err != nil {
			return nil, err
		}
		return storage.Doc{"summary": summary}, nil
	})

	a.Executor.Register("alerts.run", func(ctx context.Context, payload storage.Doc) (storage.Doc, error) {
		at, _ := payload["at"].(string)
		if at == "" {
			at = storage.TodayYMD()
		}
		res, err := a.Alerts.Run(at, true)
		if err != nil {
			return nil, err
		}
		return storage.Doc{"at": res.At, "eventCount": res.EventCount}, nil
	})

	a.Executor.Register("alerts.deliver", func(ctx context.Context, payload storage.Doc) (storage.Doc, error) {
		limit := 0
		if v, ok := payload["limit"].(float64); ok {
			limit = int(v)
		}
		res, err := a.Delivery.Run(limit, nil, false)
		if err != nil {
			return nil, err
		}
		return storage.Doc{"channels": res.Channels}, nil
	})

	a.Executor.Register("report.daily", func(ctx context.Context, payload storage.Doc) (storage.Doc, error) {
		date, _ := payload["date"].(string)
		if date == "" {
			date = storage.TodayYMD()
		}
		paths, err := a.Reports.WriteDailyReport(date)
		if err != nil {
			return nil, err
		}
		return storage.Doc{"date": date, "markdownPath": paths.MD, "jsonPath": paths.JSON}, nil
	})

	a.Executor.Register("report.monthly", func(ctx context.Context, payload storage.Doc) (storage.Doc, error) {
		month, _ := payload["month"].(string)
		if month == "" {
			month = storage.TodayYMD()[:7]
		}
		paths, err := a.Reports.WriteMonthlyReport(month)
		if err != nil {
			return nil, err
		}
		return storage.Doc{"month": month, "markdownPath": paths.MD, "jsonPath": paths.JSON}, nil
	})

	a.Executor.Register("ai.analyze", func(ctx context.Context, payload storage.Doc) (storage.Doc, error) {
		opts := analysis.Options{Provider: "heuristic", LookbackMonths: 6}
		if v, ok := payload["month"].(string); ok {
			opts.Month = v
		}
		if opts.Month == "" {
			opts.Month = storage.TodayYMD()[:7]
		}
		if v, ok := payload["provider"].(string); ok && v != "" {
			opts.Provider = v
		}
		if v, ok := payload["model"].(string); ok {
			opts.Model = v
		}
		if v, ok := payload["lookbackMonths"].(float64); ok && v > 0 {
			opts.LookbackMonths = int(v)
		}
		return a.Analysis.AnalyzeSpending(opts)
	})
}

// fatalf matches the exit behavior callers expect from a CLI tool.
func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
