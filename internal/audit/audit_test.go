package audit

import (
	"testing"

	"ledgerflow/internal/layout"
)

func TestAppendAndRecent(t *testing.T) {
	l := layout.For(t.TempDir())
	if err := layout.InitDataLayout(l, false); err != nil {
		t.Fatalf("init layout: %v", err)
	}
	a := NewLogger(l)

	a.Append(Record{Method: "POST", Path: "/api/manual/entries", Status: 200, AuthRequired: true})
	a.Append(Record{Method: "GET", Path: "/api/transactions", Status: 401, AuthDenied: true, AuthDenyReason: "missing_api_key"})

	recs, err := a.Recent(0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("records = %d, want 2", len(recs))
	}
	first := recs[0]
	if first["method"] != "POST" || first["at"] == "" || first["at"] == nil {
		t.Fatalf("first record = %v", first)
	}
	if scopes, ok := first["authScopesRequired"].([]any); !ok || scopes == nil {
		t.Fatalf("authScopesRequired = %v", first["authScopesRequired"])
	}
	second := recs[1]
	if second["authDenied"] != true || second["authDenyReason"] != "missing_api_key" {
		t.Fatalf("second record = %v", second)
	}

	recs, err = a.Recent(1)
	if err != nil {
		t.Fatalf("Recent with limit: %v", err)
	}
	if len(recs) != 1 || recs[0]["method"] != "GET" {
		t.Fatalf("limited records = %v", recs)
	}
}

func TestRecentEmptyLog(t *testing.T) {
	l := layout.For(t.TempDir())
	a := NewLogger(l)
	recs, err := a.Recent(10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recs) != 0 {
		t.Fatalf("records = %v, want none", recs)
	}
}
