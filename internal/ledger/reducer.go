package ledger

import "ledgerflow/internal/storage"

// View is the current ledger state produced by replaying corrections over the
// transactions log.
type View struct {
	Transactions       []storage.Doc
	DeletedTxIDs       map[string]bool
	AppliedCorrections int
}

// ApplyCorrections replays corrections in file order over transactions,
// preserving transaction insertion order. Events targeting unknown txIds and
// events of unknown type are ignored. Input slices are never mutated.
func ApplyCorrections(transactions, corrections []storage.Doc, includeDeleted bool) View {
	txList := make([]storage.Doc, 0, len(transactions))
	txByID := make(map[string]storage.Doc, len(transactions))
	for _, tx := range transactions {
		id := TxID(tx)
		if id == "" {
			continue
		}
		cp := CloneDoc(tx)
		txList = append(txList, cp)
		txByID[id] = cp
	}

	deleted := make(map[string]bool)
	applied := 0
	for _, evt := range corrections {
		id, _ := evt["txId"].(string)
		if id == "" {
			continue
		}
		target, ok := txByID[id]
		if !ok {
			continue
		}
		evtType, _ := evt["type"].(string)
		if evtType == "" {
			evtType = "patch"
		}
		switch evtType {
		case "patch":
			patch, _ := evt["patch"].(map[string]any)
			if len(patch) > 0 {
				DeepMerge(target, patch)
				applied++
			}
		case "tombstone", "delete":
			deleted[id] = true
			applied++
		}
	}

	if !includeDeleted {
		kept := make([]storage.Doc, 0, len(txList))
		for _, tx := range txList {
			if !deleted[TxID(tx)] {
				kept = append(kept, tx)
			}
		}
		txList = kept
	}
	return View{Transactions: txList, DeletedTxIDs: deleted, AppliedCorrections: applied}
}
