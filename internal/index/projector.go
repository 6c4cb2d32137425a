package index

import (
	"encoding/json"

	"ledgerflow/internal/ledger"
	"ledgerflow/internal/storage"
)

type txFields struct {
	txID        string
	sourceType  string
	sourceDocID string
	sourceHash  string
	occurredAt  string
	postedAt    string
	month       string
	amountValue string
	currency    string
	direction   string
	merchant    string
	categoryID  string
	rawJSON     string
}

func fieldsOf(tx storage.Doc) (txFields, error) {
	raw, err := storage.MarshalLine(tx)
	if err != nil {
		return txFields{}, err
	}
	occurredAt, _ := tx["occurredAt"].(string)
	month := ""
	if len(occurredAt) >= 7 {
		month = occurredAt[:7]
	}
	amt, _ := tx["amount"].(map[string]any)
	amountValue := ""
	currency := ""
	if amt != nil {
		amountValue, _ = amt["value"].(string)
		currency, _ = amt["currency"].(string)
	}
	postedAt, _ := tx["postedAt"].(string)
	direction, _ := tx["direction"].(string)
	merchant, _ := tx["merchant"].(string)
	return txFields{
		txID:        ledger.TxID(tx),
		sourceType:  ledger.TxSourceType(tx),
		sourceDocID: ledger.TxSourceDocID(tx),
		sourceHash:  ledger.TxSourceHash(tx),
		occurredAt:  occurredAt,
		postedAt:    postedAt,
		month:       month,
		amountValue: amountValue,
		currency:    currency,
		direction:   direction,
		merchant:    merchant,
		categoryID:  ledger.TxCategoryID(tx),
		rawJSON:     string(raw),
	}, nil
}

// IndexTransaction upserts the projected row for a freshly appended
// transaction.
func (s *Store) IndexTransaction(tx storage.Doc) error {
	return s.upsertTransaction(tx, false)
}

func (s *Store) upsertTransaction(tx storage.Doc, isDeleted bool) error {
	f, err := fieldsOf(tx)
	if err != nil {
		return err
	}
	if f.txID == "" {
		return nil
	}
	now := storage.NowISO()
	deleted := 0
	if isDeleted {
		deleted = 1
	}
	return s.exec(
		`INSERT INTO transactions (
			tx_id, source_type, source_doc_id, source_hash, occurred_at, posted_at, month,
			amount_value, currency, direction, merchant, category_id, raw_json, is_deleted,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tx_id) DO UPDATE SET
			source_type=excluded.source_type,
			source_doc_id=excluded.source_doc_id,
			source_hash=excluded.source_hash,
			occurred_at=excluded.occurred_at,
			posted_at=excluded.posted_at,
			month=excluded.month,
			amount_value=excluded.amount_value,
			currency=excluded.currency,
			direction=excluded.direction,
			merchant=excluded.merchant,
			category_id=excluded.category_id,
			raw_json=excluded.raw_json,
			is_deleted=excluded.is_deleted,
			updated_at=excluded.updated_at`,
		f.txID, f.sourceType, f.sourceDocID, f.sourceHash, f.occurredAt, f.postedAt, f.month,
		f.amountValue, f.currency, f.direction, f.merchant, f.categoryID, f.rawJSON, deleted,
		now, now,
	)
}

// IndexCorrection records the correction row and re-projects the target
// transaction with the same deep-merge the reducer applies.
func (s *Store) IndexCorrection(evt storage.Doc) error {
	eventID, _ := evt["eventId"].(string)
	txID, _ := evt["txId"].(string)
	if eventID == "" || txID == "" {
		return nil
	}
	raw, err := storage.MarshalLine(evt)
	if err != nil {
		return err
	}
	evtType, _ := evt["type"].(string)
	if evtType == "" {
		evtType = "patch"
	}
	at, _ := evt["at"].(string)
	if err := s.exec(
		`INSERT INTO corrections(event_id, tx_id, event_type, at, raw_json)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(event_id) DO UPDATE SET
			tx_id=excluded.tx_id,
			event_type=excluded.event_type,
			at=excluded.at,
			raw_json=excluded.raw_json`,
		eventID, txID, evtType, at, string(raw),
	); err != nil {
		return err
	}

	var rawJSON string
	row := s.db.QueryRow(s.rebind(`SELECT raw_json FROM transactions WHERE tx_id = ?`), txID)
	if err := row.Scan(&rawJSON); err != nil {
		// Unknown target: the correction row is retained, nothing to project.
		return nil
	}

	switch evtType {
	case "patch":
		var tx storage.Doc
		if err := json.Unmarshal([]byte(rawJSON), &tx); err != nil {
			return err
		}
		if patch, ok := evt["patch"].(map[string]any); ok {
			ledger.DeepMerge(tx, patch)
		}
		f, err := fieldsOf(tx)
		if err != nil {
			return err
		}
		return s.exec(
			`UPDATE transactions SET
				source_type=?, source_doc_id=?, source_hash=?, occurred_at=?, posted_at=?,
				month=?, amount_value=?, currency=?, direction=?, merchant=?, category_id=?,
				raw_json=?, updated_at=?
			 WHERE tx_id=?`,
			f.sourceType, f.sourceDocID, f.sourceHash, f.occurredAt, f.postedAt,
			f.month, f.amountValue, f.currency, f.direction, f.merchant, f.categoryID,
			f.rawJSON, storage.NowISO(), txID,
		)
	case "tombstone", "delete":
		return s.exec(
			`UPDATE transactions SET is_deleted = 1, updated_at = ? WHERE tx_id = ?`,
			storage.NowISO(), txID,
		)
	}
	return nil
}

// IndexSource upserts the projected row for a registered source document.
func (s *Store) IndexSource(doc storage.Doc) error {
	docID, _ := doc["docId"].(string)
	if docID == "" {
		return nil
	}
	raw, err := storage.MarshalLine(doc)
	if err != nil {
		return err
	}
	sourceType, _ := doc["sourceType"].(string)
	sha, _ := doc["sha256"].(string)
	originalPath, _ := doc["originalPath"].(string)
	storedPath, _ := doc["storedPath"].(string)
	var size int64
	switch v := doc["size"].(type) {
	case float64:
		size = int64(v)
	case int64:
		size = v
	case int:
		size = int64(v)
	}
	addedAt, _ := doc["addedAt"].(string)
	return s.exec(
		`INSERT INTO sources(doc_id, source_type, sha256, original_path, stored_path, size, added_at, raw_json, indexed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(doc_id) DO UPDATE SET
			source_type=excluded.source_type,
			sha256=excluded.sha256,
			original_path=excluded.original_path,
			stored_path=excluded.stored_path,
			size=excluded.size,
			added_at=excluded.added_at,
			raw_json=excluded.raw_json,
			indexed_at=excluded.indexed_at`,
		docID, sourceType, sha, originalPath, storedPath, size, addedAt, string(raw), storage.NowISO(),
	)
}
