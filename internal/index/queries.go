package index

import (
	"encoding/json"

	"ledgerflow/internal/layout"
	"ledgerflow/internal/storage"
)

// HasSourceHash is the O(1) dedup check used during imports.
func (s *Store) HasSourceHash(docID, sourceHash string) (bool, error) {
	row := s.db.QueryRow(
		s.rebind(`SELECT 1 FROM transactions WHERE source_doc_id = ? AND source_hash = ? LIMIT 1`),
		docID, sourceHash,
	)
	var one int
	if err := row.Scan(&one); err != nil {
		return false, nil
	}
	return true, nil
}

// RecentTransactions returns the newest raw records by occurrence date.
func (s *Store) RecentTransactions(limit int, includeDeleted bool) ([]storage.Doc, error) {
	query := `SELECT raw_json FROM transactions `
	if !includeDeleted {
		query += `WHERE is_deleted = 0 `
	}
	query += `ORDER BY occurred_at DESC, updated_at DESC LIMIT ?`
	rows, err := s.db.Query(s.rebind(query), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []storage.Doc
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var doc storage.Doc
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			continue
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

// TransactionsByMonth returns live records for a YYYY-MM month in date order.
func (s *Store) TransactionsByMonth(month string) ([]storage.Doc, error) {
	rows, err := s.db.Query(
		s.rebind(`SELECT raw_json FROM transactions WHERE month = ? AND is_deleted = 0 ORDER BY occurred_at`),
		month,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []storage.Doc
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var doc storage.Doc
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			continue
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

// Stats summarizes index contents for operational visibility.
type Stats struct {
	SchemaVersion    int    `json:"indexSchemaVersion"`
	Transactions     int    `json:"transactions"`
	TransactionsLive int    `json:"transactionsLive"`
	Corrections      int    `json:"corrections"`
	Sources          int    `json:"sources"`
	Driver           string `json:"driver"`
}

func (s *Store) Stats() (Stats, error) {
	st := Stats{Driver: s.driver}
	counts := []struct {
		query string
		dst   *int
	}{
		{`SELECT COUNT(*) FROM transactions`, &st.Transactions},
		{`SELECT COUNT(*) FROM transactions WHERE is_deleted = 0`, &st.TransactionsLive},
		{`SELECT COUNT(*) FROM corrections`, &st.Corrections},
		{`SELECT COUNT(*) FROM sources`, &st.Sources},
	}
	for _, c := range counts {
		if err := s.db.QueryRow(c.query).Scan(c.dst); err != nil {
			return st, err
		}
	}
	var v string
	if err := s.db.QueryRow(`SELECT value FROM meta WHERE key='index_schema_version'`).Scan(&v); err == nil {
		if n, err := jsonAtoi(v); err == nil {
			st.SchemaVersion = n
		}
	}
	return st, nil
}

func jsonAtoi(s string) (int, error) {
	var n int
	err := json.Unmarshal([]byte(s), &n)
	return n, err
}

// RebuildResult reports what a full replay indexed.
type RebuildResult struct {
	TransactionsIndexed int `json:"transactionsIndexed"`
	CorrectionsIndexed  int `json:"correctionsIndexed"`
	SourcesIndexed      int `json:"sourcesIndexed"`
}

// Rebuild truncates the mirror and replays the three inputs in file order.
func (s *Store) Rebuild(l layout.Layout) (RebuildResult, error) {
	var res RebuildResult
	for _, table := range []string{"corrections", "transactions", "sources"} {
		if _, err := s.db.Exec(`DELETE FROM ` + table); err != nil {
			return res, err
		}
	}

	txs, err := storage.ReadJSONL(l.TransactionsPath())
	if err != nil {
		return res, err
	}
	for _, tx := range txs {
		if err := s.upsertTransaction(tx, false); err != nil {
			return res, err
		}
		res.TransactionsIndexed++
	}

	evts, err := storage.ReadJSONL(l.CorrectionsPath())
	if err != nil {
		return res, err
	}
	for _, evt := range evts {
		if err := s.IndexCorrection(evt); err != nil {
			return res, err
		}
		res.CorrectionsIndexed++
	}

	var idx struct {
		Docs []storage.Doc `json:"docs"`
	}
	if err := storage.ReadJSON(l.SourcesIndex(), &idx); err != nil {
		return res, err
	}
	for _, doc := range idx.Docs {
		if err := s.IndexSource(doc); err != nil {
			return res, err
		}
		res.SourcesIndexed++
	}
	return res, nil
}
