package ledger

import "ledgerflow/internal/storage"

// DeepMerge merges patch into dst in place. Nested maps merge key by key;
// every other value, including arrays, replaces wholesale. The reducer and
// the index projector share this routine so their outputs cannot drift.
func DeepMerge(dst storage.Doc, patch storage.Doc) {
	for k, v := range patch {
		if pm, ok := v.(map[string]any); ok {
			if dm, ok := dst[k].(map[string]any); ok {
				DeepMerge(dm, pm)
				continue
			}
		}
		dst[k] = v
	}
}

// CloneDoc deep-copies a record so reducer output never aliases the loaded
// log entries.
func CloneDoc(src storage.Doc) storage.Doc {
	out := make(storage.Doc, len(src))
	for k, v := range src {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return CloneDoc(x)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
