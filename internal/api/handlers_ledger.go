package api

import (
	"net/http"
	"strings"

	"ledgerflow/internal/importer"
	"ledgerflow/internal/ledger"
	"ledgerflow/internal/review"
	"ledgerflow/internal/storage"
)

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	items, err := s.deps.Index.RecentTransactions(queryInt(r, "limit", 50), false)
	if err != nil {
		respondDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	if items == nil {
		items = []storage.Doc{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleCorrections(w http.ResponseWriter, r *http.Request) {
	items, err := storage.ReadJSONLTail(s.deps.Layout.CorrectionsPath(), queryInt(r, "limit", 50))
	if err != nil {
		respondDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	if items == nil {
		items = []storage.Doc{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	docs, err := s.deps.Registry.List()
	if err != nil {
		respondDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	limit := queryInt(r, "limit", 200)
	if limit >= 0 && len(docs) > limit {
		docs = docs[len(docs)-limit:]
	}
	if docs == nil {
		docs = []storage.Doc{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"index": map[string]any{"version": 1, "docs": docs},
	})
}

// manualEntryBody is the JSON shape shared by manual add and bulk-add.
type manualEntryBody struct {
	OccurredAt   string `json:"occurredAt"`
	Amount       struct {
		Value    string `json:"value"`
		Currency string `json:"currency"`
	} `json:"amount"`
	Merchant     string   `json:"merchant"`
	Description  string   `json:"description"`
	CategoryHint string   `json:"categoryHint"`
	Tags         []string `json:"tags"`
	Links        struct {
		ReceiptDocID string `json:"receiptDocId"`
		BillDocID    string `json:"billDocId"`
	} `json:"links"`
}

func manualEntryFromBody(body manualEntryBody) (ledger.ManualEntry, error) {
	occurredAt := body.OccurredAt
	if occurredAt == "" {
		occurredAt = storage.TodayYMD()
	}
	amountValue, err := importer.ParseAmountText(body.Amount.Value)
	if err != nil {
		return ledger.ManualEntry{}, err
	}
	currency := body.Amount.Currency
	if currency == "" {
		currency = "USD"
	}
	return ledger.ManualEntry{
		OccurredAt:   occurredAt,
		AmountValue:  amountValue,
		Currency:     currency,
		Merchant:     strings.TrimSpace(body.Merchant),
		Description:  body.Description,
		CategoryHint: body.CategoryHint,
		Tags:         body.Tags,
		ReceiptDocID: body.Links.ReceiptDocID,
		BillDocID:    body.Links.BillDocID,
	}, nil
}

func (s *Server) handleManualAdd(w http.ResponseWriter, r *http.Request) {
	var body manualEntryBody
	if err := decodeBody(r, &body); err != nil {
		respondDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	entry, err := manualEntryFromBody(body)
	if err != nil {
		respondDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	if entry.Merchant == "" {
		respondDetail(w, http.StatusBadRequest, "merchant is required")
		return
	}
	tx, err := ledger.ManualEntryToTx(entry)
	if err != nil {
		respondDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.deps.Store.AppendTransaction(tx); err != nil {
		respondDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"tx": tx})
}

func (s *Server) handleManualEdit(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TxID   string      `json:"txId"`
		Patch  storage.Doc `json:"patch"`
		Reason string      `json:"reason"`
	}
	if err := decodeBody(r, &body); err != nil {
		respondDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(body.TxID) == "" {
		respondDetail(w, http.StatusBadRequest, "txId is required")
		return
	}
	if len(body.Patch) == 0 {
		respondDetail(w, http.StatusBadRequest, "patch is required")
		return
	}
	if v, ok := body.Patch["occurredAt"].(string); ok {
		if _, err := storage.ParseYMD(v); err != nil {
			respondDetail(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	reason := body.Reason
	if reason == "" {
		reason = "user_override"
	}
	evt := ledger.CorrectionEvent(strings.TrimSpace(body.TxID), body.Patch, reason)
	if err := s.deps.Store.AppendCorrection(evt); err != nil {
		respondDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"event": evt})
}

func (s *Server) handleManualDelete(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TxID   string `json:"txId"`
		Reason string `json:"reason"`
	}
	if err := decodeBody(r, &body); err != nil {
		respondDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(body.TxID) == "" {
		respondDetail(w, http.StatusBadRequest, "txId is required")
		return
	}
	reason := body.Reason
	if reason == "" {
		reason = "user_delete"
	}
	evt := ledger.TombstoneEvent(strings.TrimSpace(body.TxID), reason)
	if err := s.deps.Store.AppendCorrection(evt); err != nil {
		respondDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"event": evt})
}

func (s *Server) handleManualBulkAdd(w http.ResponseWriter, r *http.Request) {
	var bodies []manualEntryBody
	if err := decodeBody(r, &bodies); err != nil {
		respondDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	created := 0
	txIDs := []string{}
	for _, body := range bodies {
		entry, err := manualEntryFromBody(body)
		if err != nil || entry.Merchant == "" {
			continue
		}
		tx, err := ledger.ManualEntryToTx(entry)
		if err != nil {
			continue
		}
		if err := s.deps.Store.AppendTransaction(tx); err != nil {
			respondDetail(w, http.StatusInternalServerError, err.Error())
			return
		}
		created++
		txIDs = append(txIDs, ledger.TxID(tx))
	}
	respondJSON(w, http.StatusOK, map[string]any{"created": created, "txIds": txIDs})
}

func (s *Server) handleReviewQueue(w http.ResponseWriter, r *http.Request) {
	opts := review.Options{
		Date:  strings.TrimSpace(r.URL.Query().Get("date")),
		Limit: queryInt(r, "limit", 200),
	}
	queue, err := s.deps.Review.BuildQueue(opts)
	if err != nil {
		respondDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, queue)
}

func (s *Server) handleReviewResolve(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TxID   string      `json:"txId"`
		Patch  storage.Doc `json:"patch"`
		Reason string      `json:"reason"`
	}
	if err := decodeBody(r, &body); err != nil {
		respondDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(body.TxID) == "" {
		respondDetail(w, http.StatusBadRequest, "txId is required")
		return
	}
	if len(body.Patch) == 0 {
		respondDetail(w, http.StatusBadRequest, "patch is required")
		return
	}
	reason := body.Reason
	if reason == "" {
		reason = "review_resolve"
	}
	evt, err := s.deps.Review.Resolve(strings.TrimSpace(body.TxID), body.Patch, reason)
	if err != nil {
		respondDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"event": evt})
}
