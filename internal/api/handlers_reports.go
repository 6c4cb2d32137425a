package api

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gorilla/mux"

	"ledgerflow/internal/analysis"
	"ledgerflow/internal/reports"
	"ledgerflow/internal/storage"
)

func validMonth(month string) bool {
	return len(month) == 7 && month[4] == '-'
}

func (s *Server) handleBuild(w http.ResponseWriter, r *http.Request) {
	var body struct {
		FromDate       string `json:"fromDate"`
		ToDate         string `json:"toDate"`
		IncludeDeleted bool   `json:"includeDeleted"`
	}
	if err := decodeBody(r, &body); err != nil {
		respondDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	summary, err := reports.BuildCaches(s.deps.Layout, s.deps.Store, body.FromDate, body.ToDate, body.IncludeDeleted)
	if err != nil {
		respondDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"summary": summary})
}

func (s *Server) handleReportDaily(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Date string `json:"date"`
	}
	if err := decodeBody(r, &body); err != nil {
		respondDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	date := body.Date
	if date == "" {
		date = storage.TodayYMD()
	}
	if _, err := storage.ParseYMD(date); err != nil {
		respondDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	paths, err := s.deps.Reports.WriteDailyReport(date)
	if err != nil {
		respondDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"date": date, "paths": paths})
}

func (s *Server) handleReportDailyGet(w http.ResponseWriter, r *http.Request) {
	ymd := mux.Vars(r)["ymd"]
	if _, err := storage.ParseYMD(ymd); err != nil {
		respondDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	p := filepath.Join(s.deps.Layout.ReportsDailyDir(), ymd+".md")
	data, err := os.ReadFile(p)
	if err != nil {
		respondDetail(w, http.StatusNotFound, "daily report not found")
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (s *Server) handleReportMonthly(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Month string `json:"month"`
	}
	if err := decodeBody(r, &body); err != nil {
		respondDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	month := strings.TrimSpace(body.Month)
	if !validMonth(month) {
		respondDetail(w, http.StatusBadRequest, "month must be YYYY-MM")
		return
	}
	paths, err := s.deps.Reports.WriteMonthlyReport(month)
	if err != nil {
		respondDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"month": month, "paths": paths})
}

func (s *Server) handleReportMonthlyGet(w http.ResponseWriter, r *http.Request) {
	month := mux.Vars(r)["month"]
	if !validMonth(month) {
		respondDetail(w, http.StatusBadRequest, "month must be YYYY-MM")
		return
	}
	p := filepath.Join(s.deps.Layout.ReportsMonthlyDir(), month+".md")
	data, err := os.ReadFile(p)
	if err != nil {
		respondDetail(w, http.StatusNotFound, "monthly report not found")
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (s *Server) handleChartsSeries(w http.ResponseWriter, r *http.Request) {
	var body struct {
		FromDate string `json:"fromDate"`
		ToDate   string `json:"toDate"`
	}
	if err := decodeBody(r, &body); err != nil {
		respondDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := storage.ParseYMD(body.FromDate); err != nil {
		respondDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := storage.ParseYMD(body.ToDate); err != nil {
		respondDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	data, err := s.deps.Reports.BuildSeries(body.FromDate, body.ToDate)
	if err != nil {
		respondDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"data": data})
}

func (s *Server) handleChartsMonth(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Month string `json:"month"`
		Limit int    `json:"limit"`
	}
	if err := decodeBody(r, &body); err != nil {
		respondDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	month := strings.TrimSpace(body.Month)
	if !validMonth(month) {
		respondDetail(w, http.StatusBadRequest, "month must be YYYY-MM")
		return
	}
	limit := body.Limit
	if limit <= 0 {
		limit = 25
	}
	breakdown, err := s.deps.Reports.BuildCategoryBreakdown(month)
	if err != nil {
		respondDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	merchants, err := s.deps.Reports.BuildMerchantTop(month, limit)
	if err != nil {
		respondDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"categoryBreakdown": breakdown,
		"merchantTop":       merchants,
	})
}

func (s *Server) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	var body struct {
		FromDate       string `json:"fromDate"`
		ToDate         string `json:"toDate"`
		IncludeDeleted bool   `json:"includeDeleted"`
	}
	if err := decodeBody(r, &body); err != nil {
		respondDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	outPath := filepath.Join(s.deps.Layout.ExportsDir(), "transactions.csv")
	if _, err := s.deps.Reports.ExportTransactionsCSV(outPath, body.FromDate, body.ToDate, body.IncludeDeleted); err != nil {
		respondDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="transactions.csv"`)
	http.ServeFile(w, r, outPath)
}

func (s *Server) handleAIAnalyze(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Month          string `json:"month"`
		Provider       string `json:"provider"`
		Model          string `json:"model"`
		LookbackMonths int    `json:"lookbackMonths"`
	}
	if err := decodeBody(r, &body); err != nil {
		respondDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	opts := analysis.Options{
		Month:          strings.TrimSpace(body.Month),
		Provider:       body.Provider,
		Model:          body.Model,
		LookbackMonths: body.LookbackMonths,
	}
	if opts.Month == "" {
		opts.Month = storage.TodayYMD()[:7]
	}
	if opts.Provider == "" {
		opts.Provider = "auto"
	}
	if opts.LookbackMonths <= 0 {
		opts.LookbackMonths = 6
	}
	out, err := s.deps.Analysis.AnalyzeSpending(opts)
	if err != nil {
		respondDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, out)
}
