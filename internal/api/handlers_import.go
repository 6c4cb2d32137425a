package api

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"ledgerflow/internal/importer"
	"ledgerflow/internal/reconcile"
	"ledgerflow/internal/storage"
)

const maxUploadBytes = 64 << 20

// saveUploadToInbox stores the "file" multipart part under inbox/uploads,
// suffixing the name on collision.
func (s *Server) saveUploadToInbox(r *http.Request) (string, error) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return "", fmt.Errorf("invalid multipart form: %w", err)
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return "", fmt.Errorf("file is required")
	}
	defer file.Close()

	base := filepath.Base(header.Filename)
	if base == "" || base == "." || base == string(filepath.Separator) {
		base = "upload.bin"
	}
	targetDir := filepath.Join(s.deps.Layout.InboxDir(), "uploads")
	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return "", err
	}

	candidate := filepath.Join(targetDir, base)
	if _, err := os.Stat(candidate); err == nil {
		ext := filepath.Ext(base)
		stem := strings.TrimSuffix(base, ext)
		for i := 1; ; i++ {
			c := filepath.Join(targetDir, fmt.Sprintf("%s.%d%s", stem, i, ext))
			if _, err := os.Stat(c); os.IsNotExist(err) {
				candidate = c
				break
			}
		}
	}

	out, err := os.Create(candidate)
	if err != nil {
		return "", err
	}
	defer out.Close()
	if _, err := io.Copy(out, file); err != nil {
		os.Remove(candidate)
		return "", err
	}
	return candidate, nil
}

func formBool(r *http.Request, key string, def bool) bool {
	v := strings.TrimSpace(r.FormValue(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func formInt(r *http.Request, key string, def int) int {
	v := strings.TrimSpace(r.FormValue(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func formStr(r *http.Request, key, def string) string {
	v := strings.TrimSpace(r.FormValue(key))
	if v == "" {
		return def
	}
	return v
}

func (s *Server) handleConnectors(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"items": importer.ListConnectors()})
}

func (s *Server) handleSourceRegisterUpload(w http.ResponseWriter, r *http.Request) {
	saved, err := s.saveUploadToInbox(r)
	if err != nil {
		respondDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	doc, err := s.deps.Registry.Register(saved, formBool(r, "copyIntoSources", false), formStr(r, "sourceType", ""), nil)
	if err != nil {
		respondDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"doc": doc, "savedPath": saved})
}

func mappingFromForm(r *http.Request) *importer.Mapping {
	m := importer.Mapping{
		DateCol:        r.FormValue("dateCol"),
		DescriptionCol: r.FormValue("descriptionCol"),
		AmountCol:      r.FormValue("amountCol"),
		DebitCol:       r.FormValue("debitCol"),
		CreditCol:      r.FormValue("creditCol"),
		CurrencyCol:    r.FormValue("currencyCol"),
	}
	if m == (importer.Mapping{}) {
		return nil
	}
	return &m
}

func (s *Server) handleImportCSVUpload(w http.ResponseWriter, r *http.Request) {
	saved, err := s.saveUploadToInbox(r)
	if err != nil {
		respondDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	opts := importer.Options{
		Commit:          formBool(r, "commit", false),
		CopyIntoSources: formBool(r, "copyIntoSources", false),
		Currency:        formStr(r, "currency", "USD"),
		DateFormat:      formStr(r, "dateFormat", ""),
		DayFirst:        formBool(r, "dayFirst", false),
		Sample:          formInt(r, "sample", 5),
		MaxRows:         formInt(r, "maxRows", 0),
		Mapping:         mappingFromForm(r),
	}
	res, err := s.deps.Importer.ImportCSV(saved, opts)
	if err != nil {
		respondDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"mode": res.Mode, "docId": res.DocID, "imported": res.Imported,
		"skipped": res.Skipped, "errors": res.Errors, "sample": res.Sample,
		"savedPath": saved,
	})
}

// importPathBody is the JSON shape shared by the path-based import routes.
type importPathBody struct {
	Path            string            `json:"path"`
	Connector       string            `json:"connector"`
	Commit          bool              `json:"commit"`
	CopyIntoSources bool              `json:"copyIntoSources"`
	Currency        string            `json:"currency"`
	DateFormat      string            `json:"dateFormat"`
	DayFirst        bool              `json:"dayFirst"`
	Sample          int               `json:"sample"`
	MaxRows         int               `json:"maxRows"`
	Mapping         map[string]string `json:"mapping"`
	DateCol         string            `json:"dateCol"`
	DescriptionCol  string            `json:"descriptionCol"`
	AmountCol       string            `json:"amountCol"`
	DebitCol        string            `json:"debitCol"`
	CreditCol       string            `json:"creditCol"`
	CurrencyCol     string            `json:"currencyCol"`
}

func (b importPathBody) options() importer.Options {
	opts := importer.Options{
		Commit:          b.Commit,
		CopyIntoSources: b.CopyIntoSources,
		Currency:        b.Currency,
		DateFormat:      b.DateFormat,
		DayFirst:        b.DayFirst,
		Sample:          b.Sample,
		MaxRows:         b.MaxRows,
	}
	if opts.Currency == "" {
		opts.Currency = "USD"
	}
	if opts.Sample <= 0 {
		opts.Sample = 5
	}
	m := importer.Mapping{
		DateCol:        b.DateCol,
		DescriptionCol: b.DescriptionCol,
		AmountCol:      b.AmountCol,
		DebitCol:       b.DebitCol,
		CreditCol:      b.CreditCol,
		CurrencyCol:    b.CurrencyCol,
	}
	if b.Mapping != nil {
		m = importer.Mapping{
			DateCol:        b.Mapping["dateCol"],
			DescriptionCol: b.Mapping["descriptionCol"],
			AmountCol:      b.Mapping["amountCol"],
			DebitCol:       b.Mapping["debitCol"],
			CreditCol:      b.Mapping["creditCol"],
			CurrencyCol:    b.Mapping["currencyCol"],
		}
	}
	if m != (importer.Mapping{}) {
		opts.Mapping = &m
	}
	return opts
}

func (s *Server) handleImportCSVPath(w http.ResponseWriter, r *http.Request) {
	var body importPathBody
	if err := decodeBody(r, &body); err != nil {
		respondDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(body.Path) == "" {
		respondDetail(w, http.StatusBadRequest, "path is required")
		return
	}
	res, err := s.deps.Importer.ImportCSV(body.Path, body.options())
	if err != nil {
		respondDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleImportBankJSONUpload(w http.ResponseWriter, r *http.Request) {
	saved, err := s.saveUploadToInbox(r)
	if err != nil {
		respondDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	opts := importer.Options{
		Commit:          formBool(r, "commit", false),
		CopyIntoSources: formBool(r, "copyIntoSources", false),
		Currency:        formStr(r, "currency", "USD"),
		Sample:          formInt(r, "sample", 5),
		MaxRows:         formInt(r, "maxRows", 0),
	}
	res, err := s.deps.Importer.ImportBankJSON(saved, opts)
	if err != nil {
		respondDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"mode": res.Mode, "docId": res.DocID, "imported": res.Imported,
		"skipped": res.Skipped, "errors": res.Errors, "sample": res.Sample,
		"savedPath": saved,
	})
}

func (s *Server) handleImportBankJSONPath(w http.ResponseWriter, r *http.Request) {
	var body importPathBody
	if err := decodeBody(r, &body); err != nil {
		respondDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(body.Path) == "" {
		respondDetail(w, http.StatusBadRequest, "path is required")
		return
	}
	res, err := s.deps.Importer.ImportBankJSON(body.Path, body.options())
	if err != nil {
		respondDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleImportConnectorPath(w http.ResponseWriter, r *http.Request) {
	var body importPathBody
	if err := decodeBody(r, &body); err != nil {
		respondDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(body.Connector) == "" {
		respondDetail(w, http.StatusBadRequest, "connector is required")
		return
	}
	if strings.TrimSpace(body.Path) == "" {
		respondDetail(w, http.StatusBadRequest, "path is required")
		return
	}
	res, err := s.deps.Importer.ImportConnector(body.Connector, body.Path, body.options())
	if err != nil {
		respondDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleImportReceiptUpload(w http.ResponseWriter, r *http.Request) {
	s.handleDocUpload(w, r, true)
}

func (s *Server) handleImportBillUpload(w http.ResponseWriter, r *http.Request) {
	s.handleDocUpload(w, r, false)
}

func (s *Server) handleDocUpload(w http.ResponseWriter, r *http.Request, receipt bool) {
	saved, err := s.saveUploadToInbox(r)
	if err != nil {
		respondDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	copyIntoSources := formBool(r, "copyIntoSources", false)
	currency := formStr(r, "currency", "USD")

	var res importedDoc
	if receipt {
		parsed, err := s.deps.Documents.ImportReceipt(saved, copyIntoSources, currency)
		if err != nil {
			respondDetail(w, http.StatusBadRequest, err.Error())
			return
		}
		res = importedDoc{parsed.Doc, parsed.Parse}
	} else {
		parsed, err := s.deps.Documents.ImportBill(saved, copyIntoSources, currency)
		if err != nil {
			respondDetail(w, http.StatusBadRequest, err.Error())
			return
		}
		res = importedDoc{parsed.Doc, parsed.Parse}
	}

	docID, _ := res.doc["docId"].(string)
	respondJSON(w, http.StatusOK, map[string]any{
		"docId": docID, "parse": res.parse, "savedPath": saved,
	})
}

type importedDoc struct {
	doc   storage.Doc
	parse storage.Doc
}

func (s *Server) handleLinkReceipts(w http.ResponseWriter, r *http.Request) {
	s.handleLink(w, r, true)
}

func (s *Server) handleLinkBills(w http.ResponseWriter, r *http.Request) {
	s.handleLink(w, r, false)
}

func (s *Server) handleLink(w http.ResponseWriter, r *http.Request, receipts bool) {
	var body struct {
		MaxDaysDiff     *int   `json:"maxDaysDiff"`
		AmountTolerance string `json:"amountTolerance"`
		Commit          *bool  `json:"commit"`
	}
	if err := decodeBody(r, &body); err != nil {
		respondDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	opts := reconcile.LinkOptions{
		MaxDaysDiff:     7,
		AmountTolerance: "0.01",
		Commit:          true,
	}
	if receipts {
		opts.MaxDaysDiff = 3
	}
	if body.MaxDaysDiff != nil {
		opts.MaxDaysDiff = *body.MaxDaysDiff
	}
	if body.AmountTolerance != "" {
		opts.AmountTolerance = body.AmountTolerance
	}
	if body.Commit != nil {
		opts.Commit = *body.Commit
	}

	var res reconcile.LinkResult
	var err error
	if receipts {
		res, err = s.deps.Linker.LinkReceipts(opts)
	} else {
		res, err = s.deps.Linker.LinkBills(opts)
	}
	if err != nil {
		respondDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleDedupManualVsBank(w http.ResponseWriter, r *http.Request) {
	var body struct {
		FromDate        string `json:"fromDate"`
		ToDate          string `json:"toDate"`
		MaxDaysDiff     *int   `json:"maxDaysDiff"`
		AmountTolerance string `json:"amountTolerance"`
		Commit          *bool  `json:"commit"`
	}
	if err := decodeBody(r, &body); err != nil {
		respondDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	opts := reconcile.DedupOptions{
		FromDate:        body.FromDate,
		ToDate:          body.ToDate,
		MaxDaysDiff:     1,
		AmountTolerance: "0.01",
		Commit:          true,
	}
	if body.MaxDaysDiff != nil {
		opts.MaxDaysDiff = *body.MaxDaysDiff
	}
	if body.AmountTolerance != "" {
		opts.AmountTolerance = body.AmountTolerance
	}
	if body.Commit != nil {
		opts.Commit = *body.Commit
	}
	res, err := reconcile.MarkManualDuplicates(s.deps.Store, opts)
	if err != nil {
		respondDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, res)
}
