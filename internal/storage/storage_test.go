package storage

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
)

func TestAppendAndReadJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "events.jsonl")

	for i, name := range []string{"alpha", "beta", "gamma"} {
		if err := AppendJSONL(path, Doc{"seq": i, "name": name}); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	docs, err := ReadJSONL(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(docs) != 3 {
		t.Fatalf("got %d docs, want 3", len(docs))
	}
	if docs[0]["name"] != "alpha" || docs[2]["name"] != "gamma" {
		t.Fatalf("append order not preserved: %v", docs)
	}
}

func TestReadJSONLSkipsJunkLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	raw := `{"ok":1}` + "\n\nnot json at all\n" + `{"ok":2}` + "\n"
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}

	docs, err := ReadJSONL(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("got %d docs, want 2", len(docs))
	}
	if CountJSONLLines(path) != 3 {
		t.Fatalf("CountJSONLLines=%d, want 3", CountJSONLLines(path))
	}
}

func TestReadJSONLMissingFile(t *testing.T) {
	docs, err := ReadJSONL(filepath.Join(t.TempDir(), "absent.jsonl"))
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if docs != nil {
		t.Fatalf("got %v, want nil", docs)
	}
}

func TestReadJSONLTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	for i := 0; i < 5; i++ {
		if err := AppendJSONL(path, Doc{"seq": float64(i)}); err != nil {
			t.Fatal(err)
		}
	}

	tail, err := ReadJSONLTail(path, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(tail) != 2 || tail[0]["seq"] != float64(3) || tail[1]["seq"] != float64(4) {
		t.Fatalf("tail=%v, want last two", tail)
	}

	all, err := ReadJSONLTail(path, -1)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 5 {
		t.Fatalf("unbounded tail=%d docs, want 5", len(all))
	}
}

func TestWriteJSONRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta", "state.json")
	in := map[string]any{"version": 2, "note": "a<b"}
	if err := WriteJSON(path, in); err != nil {
		t.Fatalf("write: %v", err)
	}

	var out map[string]any
	if err := ReadJSON(path, &out); err != nil {
		t.Fatalf("read: %v", err)
	}
	if out["version"] != float64(2) || out["note"] != "a<b" {
		t.Fatalf("round trip lost data: %v", out)
	}

	data, _ := os.ReadFile(path)
	if strings.Contains(string(data), `<`) {
		t.Fatalf("HTML escaping leaked into output: %s", data)
	}
	if !strings.Contains(string(data), "a<b") {
		t.Fatalf("note not stored verbatim: %s", data)
	}
}

func TestReadJSONMissingLeavesDefaults(t *testing.T) {
	out := map[string]any{"keep": true}
	if err := ReadJSON(filepath.Join(t.TempDir(), "absent.json"), &out); err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if out["keep"] != true {
		t.Fatalf("defaults were clobbered: %v", out)
	}
}

func TestContentHashStableAcrossKeyOrder(t *testing.T) {
	a, err := ContentHash(map[string]any{"x": 1, "y": "z"})
	if err != nil {
		t.Fatal(err)
	}
	b, err := ContentHash(map[string]any{"y": "z", "x": 1})
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Fatalf("hash differs across key order: %s vs %s", a, b)
	}
	if !strings.HasPrefix(a, "sha256:") {
		t.Fatalf("hash missing prefix: %s", a)
	}
}

func TestNewIDPrefixAndOrdering(t *testing.T) {
	ids := make([]string, 10)
	for i := range ids {
		ids[i] = NewID(PrefixTx)
		if !strings.HasPrefix(ids[i], "tx_") {
			t.Fatalf("id %q missing prefix", ids[i])
		}
		if len(ids[i]) != len("tx_")+26 {
			t.Fatalf("id %q has wrong length", ids[i])
		}
	}
	if !sort.StringsAreSorted(ids) {
		t.Fatalf("ids minted in sequence are not sorted: %v", ids)
	}
}

func TestParseISO(t *testing.T) {
	for _, s := range []string{
		"2025-03-01T10:00:00Z",
		"2025-03-01T10:00:00+02:00",
		"2025-03-01T10:00:00.123Z",
	} {
		if _, err := ParseISO(s); err != nil {
			t.Fatalf("ParseISO(%q): %v", s, err)
		}
	}
	if _, err := ParseISO("yesterday"); err == nil {
		t.Fatal("ParseISO accepted junk")
	}
}

func TestParseYMD(t *testing.T) {
	if _, err := ParseYMD("2025-02-30"); err == nil {
		t.Fatal("ParseYMD accepted impossible date")
	}
	ts, err := ParseYMD("2025-02-28")
	if err != nil {
		t.Fatal(err)
	}
	if got := ts.Format(YMD); got != "2025-02-28" {
		t.Fatalf("got %s", got)
	}
}
