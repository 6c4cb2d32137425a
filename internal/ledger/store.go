package ledger

import (
	"log"

	"ledgerflow/internal/layout"
	"ledgerflow/internal/storage"
)

// Projector mirrors log appends into the secondary index. Implementations
// return errors for observability only; the append-only file remains the
// source of truth regardless.
type Projector interface {
	IndexTransaction(tx storage.Doc) error
	IndexCorrection(evt storage.Doc) error
}

// Store is the append-only event store: transactions.jsonl plus
// corrections.jsonl. Once written, records are never rewritten.
type Store struct {
	Layout    layout.Layout
	Projector Projector
}

func NewStore(l layout.Layout, p Projector) *Store {
	return &Store{Layout: l, Projector: p}
}

// AppendTransaction appends a transaction record and mirrors it into the
// index best-effort.
func (s *Store) AppendTransaction(tx storage.Doc) error {
	if err := storage.AppendJSONL(s.Layout.TransactionsPath(), tx); err != nil {
		return err
	}
	if s.Projector != nil {
		if err := s.Projector.IndexTransaction(tx); err != nil {
			log.Printf("[ledger] index update failed for tx %s: %v", TxID(tx), err)
		}
	}
	return nil
}

// AppendCorrection appends a correction event and mirrors it into the index
// best-effort.
func (s *Store) AppendCorrection(evt storage.Doc) error {
	if err := storage.AppendJSONL(s.Layout.CorrectionsPath(), evt); err != nil {
		return err
	}
	if s.Projector != nil {
		if err := s.Projector.IndexCorrection(evt); err != nil {
			id, _ := evt["eventId"].(string)
			log.Printf("[ledger] index update failed for correction %s: %v", id, err)
		}
	}
	return nil
}

// LoadTransactions reads the raw transactions log in file order.
func (s *Store) LoadTransactions() ([]storage.Doc, error) {
	return storage.ReadJSONL(s.Layout.TransactionsPath())
}

// LoadCorrections reads the raw corrections log in file order.
func (s *Store) LoadCorrections() ([]storage.Doc, error) {
	return storage.ReadJSONL(s.Layout.CorrectionsPath())
}

// LoadView reduces the two logs into the current ledger view.
func (s *Store) LoadView(includeDeleted bool) (View, error) {
	txs, err := s.LoadTransactions()
	if err != nil {
		return View{}, err
	}
	evts, err := s.LoadCorrections()
	if err != nil {
		return View{}, err
	}
	return ApplyCorrections(txs, evts, includeDeleted), nil
}
