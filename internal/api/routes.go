package api

import "github.com/gorilla/mux"

func registerBaseRoutes(r *mux.Router, s *Server) {
	r.HandleFunc("/api/health", s.handleHealth).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/auth/context", s.handleAuthContext).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/auth/keys", s.handleAuthKeys).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/init", s.handleInit).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/index/rebuild", s.handleIndexRebuild).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/index/stats", s.handleIndexStats).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/migrate/status", s.handleMigrateStatus).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/migrate/up", s.handleMigrateUp).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/ocr/capabilities", s.handleOCRCapabilities).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/ocr/extract-upload", s.handleOCRExtractUpload).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/ocr/extract-path", s.handleOCRExtractPath).Methods("POST", "OPTIONS")
}

func registerLedgerRoutes(r *mux.Router, s *Server) {
	r.HandleFunc("/api/transactions", s.handleTransactions).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/corrections", s.handleCorrections).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/sources", s.handleSources).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/manual/add", s.handleManualAdd).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/manual/edit", s.handleManualEdit).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/manual/delete", s.handleManualDelete).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/manual/bulk-add", s.handleManualBulkAdd).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/review/queue", s.handleReviewQueue).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/review/resolve", s.handleReviewResolve).Methods("POST", "OPTIONS")
}

func registerImportRoutes(r *mux.Router, s *Server) {
	r.HandleFunc("/api/connectors", s.handleConnectors).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/sources/register-upload", s.handleSourceRegisterUpload).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/import/csv-upload", s.handleImportCSVUpload).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/import/csv-path", s.handleImportCSVPath).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/import/bank-json-upload", s.handleImportBankJSONUpload).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/import/bank-json-path", s.handleImportBankJSONPath).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/import/connector-path", s.handleImportConnectorPath).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/import/receipt-upload", s.handleImportReceiptUpload).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/import/bill-upload", s.handleImportBillUpload).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/link/receipts", s.handleLinkReceipts).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/link/bills", s.handleLinkBills).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/dedup/manual-vs-bank", s.handleDedupManualVsBank).Methods("POST", "OPTIONS")
}

func registerReportRoutes(r *mux.Router, s *Server) {
	r.HandleFunc("/api/build", s.handleBuild).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/report/daily", s.handleReportDaily).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/report/daily/{ymd}", s.handleReportDailyGet).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/report/monthly", s.handleReportMonthly).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/report/monthly/{month}", s.handleReportMonthlyGet).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/charts/series", s.handleChartsSeries).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/charts/month", s.handleChartsMonth).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/export/csv", s.handleExportCSV).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/ai/analyze", s.handleAIAnalyze).Methods("POST", "OPTIONS")
}

func registerAutomationRoutes(r *mux.Router, s *Server) {
	r.HandleFunc("/api/automation/tasks", s.handleAutomationTasks).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/automation/tasks", s.handleAutomationEnqueue).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/automation/stats", s.handleAutomationStats).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/automation/dead-letters", s.handleAutomationDeadLetters).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/automation/run-next", s.handleAutomationRunNext).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/automation/run-due", s.handleAutomationRunDue).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/automation/dispatch", s.handleAutomationDispatch).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/automation/jobs", s.handleAutomationJobs).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/automation/jobs", s.handleAutomationJobsSet).Methods("POST", "OPTIONS")
}

func registerAdminRoutes(r *mux.Router, s *Server) {
	r.HandleFunc("/api/alerts/run", s.handleAlertsRun).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/alerts/events", s.handleAlertsEvents).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/alerts/deliver", s.handleAlertsDeliver).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/alerts/outbox", s.handleAlertsOutbox).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/alerts/stream", s.handleAlertStream).Methods("GET")
	r.HandleFunc("/api/audit/events", s.handleAuditEvents).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/backup/create", s.handleBackupCreate).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/backup/restore", s.handleBackupRestore).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/ops/metrics", s.handleOpsMetrics).Methods("GET", "OPTIONS")
}
