package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestLoadStoreFromEnvScopedList(t *testing.T) {
	t.Setenv("LEDGERFLOW_API_KEYS", `[
		{"id": "reader", "key": "tok-read", "scopes": ["read"]},
		{"id": "boss", "key": "tok-admin", "role": "admin"},
		{"id": "nokey", "scopes": ["read"]}
	]`)
	t.Setenv("LEDGERFLOW_API_KEY", "")

	store := LoadStoreFromEnv()
	if len(store) != 2 {
		t.Fatalf("store has %d keys, want 2", len(store))
	}
	reader := store["tok-read"]
	if reader.ID != "reader" || reader.Kind != "scoped" || !reader.Enabled {
		t.Fatalf("reader = %+v", reader)
	}
	if len(reader.Scopes) != 1 || reader.Scopes[0] != ScopeRead {
		t.Fatalf("reader scopes = %v", reader.Scopes)
	}
	boss := store["tok-admin"]
	if !HasScope(boss, ScopeWrite) || !HasScope(boss, ScopeAdmin) {
		t.Fatalf("admin role scopes = %v", boss.Scopes)
	}
}

func TestLoadStoreFromEnvObjectFormAndLegacy(t *testing.T) {
	t.Setenv("LEDGERFLOW_API_KEYS", `{"ops": {"key": "tok-ops", "role": "operator"}}`)
	t.Setenv("LEDGERFLOW_API_KEY", "tok-legacy")

	store := LoadStoreFromEnv()
	ops := store["tok-ops"]
	if ops.ID != "ops" {
		t.Fatalf("id = %q, want ops", ops.ID)
	}
	if !HasScope(ops, ScopeAutomation) || !HasScope(ops, ScopeOps) || HasScope(ops, ScopeWrite) {
		t.Fatalf("operator scopes = %v", ops.Scopes)
	}
	legacy := store["tok-legacy"]
	if legacy.Kind != "legacy" || !HasScope(legacy, ScopeAdmin) {
		t.Fatalf("legacy = %+v", legacy)
	}
}

func TestModeForStore(t *testing.T) {
	t.Setenv("LEDGERFLOW_API_KEYS", "")
	t.Setenv("LEDGERFLOW_API_KEY", "")
	if got := ModeForStore(LoadStoreFromEnv()); got != "local_only_no_key" {
		t.Fatalf("mode = %q", got)
	}
	if got := ModeForStore(Store{"t": {Kind: "legacy"}}); got != "api_key" {
		t.Fatalf("mode = %q", got)
	}
	if got := ModeForStore(Store{"t": {Kind: "scoped"}}); got != "api_key_scoped" {
		t.Fatalf("mode = %q", got)
	}
}

func TestRequiredScopes(t *testing.T) {
	cases := []struct {
		method, path string
		want         []string
	}{
		{"GET", "/api/health", nil},
		{"OPTIONS", "/api/transactions", nil},
		{"GET", "/", nil},
		{"GET", "/api/transactions", []string{ScopeRead}},
		{"POST", "/api/manual/entries", []string{ScopeWrite}},
		{"POST", "/api/automation/enqueue", []string{ScopeWrite, ScopeAutomation}},
		{"GET", "/api/automation/tasks", []string{ScopeRead, ScopeAutomation}},
		{"GET", "/api/ops/metrics", []string{ScopeRead, ScopeOps}},
		{"GET", "/api/auth/keys", []string{ScopeRead, ScopeAdmin}},
		{"POST", "/api/backup/create", []string{ScopeWrite, ScopeAdmin}},
	}
	for _, c := range cases {
		got := RequiredScopes(c.method, c.path)
		if len(got) != len(c.want) {
			t.Fatalf("RequiredScopes(%s %s) = %v, want %v", c.method, c.path, got, c.want)
		}
		for i := range got {
			if got[i] != c.want[i] {
				t.Fatalf("RequiredScopes(%s %s) = %v, want %v", c.method, c.path, got, c.want)
			}
		}
	}
}

func TestHasScopeImplications(t *testing.T) {
	writeKey := KeyMeta{Enabled: true, Scopes: []string{ScopeWrite}}
	if !HasScope(writeKey, ScopeRead) {
		t.Fatal("write should imply read")
	}
	if HasScope(writeKey, ScopeAutomation) {
		t.Fatal("write must not imply automation")
	}
	adminKey := KeyMeta{Enabled: true, Scopes: []string{ScopeAdmin}}
	for _, s := range []string{ScopeRead, ScopeWrite, ScopeAutomation, ScopeOps, ScopeAdmin} {
		if !HasScope(adminKey, s) {
			t.Fatalf("admin should imply %s", s)
		}
	}
}

func TestDenialReason(t *testing.T) {
	disabled := KeyMeta{Enabled: false, Scopes: []string{ScopeRead}}
	if got := DenialReason(disabled, ScopeRead); got != "api_key_disabled" {
		t.Fatalf("reason = %q", got)
	}
	expired := KeyMeta{Enabled: true, Scopes: []string{ScopeRead}, ExpiresAt: "2020-01-01"}
	if got := DenialReason(expired, ScopeRead); got != "api_key_expired" {
		t.Fatalf("reason = %q", got)
	}
	narrow := KeyMeta{Enabled: true, Scopes: []string{ScopeRead}}
	if got := DenialReason(narrow, ScopeWrite); got != "insufficient_scope" {
		t.Fatalf("reason = %q", got)
	}
	if got := DenialReason(narrow, ScopeRead); got != "" {
		t.Fatalf("reason = %q, want pass", got)
	}
}

func TestAllowsWorkspace(t *testing.T) {
	open := KeyMeta{Enabled: true}
	if !AllowsWorkspace(open, "anything") {
		t.Fatal("empty allow-list should allow all workspaces")
	}
	scoped := KeyMeta{Enabled: true, Workspaces: []string{"personal"}}
	if !AllowsWorkspace(scoped, "personal") || AllowsWorkspace(scoped, "work") {
		t.Fatal("workspace allow-list not honored")
	}
}

func TestVerifyJWT(t *testing.T) {
	secret := "test-secret"
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":    "alice",
		"scopes": "read,automation",
		"exp":    time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	meta, err := VerifyJWT(signed, secret)
	if err != nil {
		t.Fatalf("VerifyJWT: %v", err)
	}
	if meta.ID != "alice" || meta.Kind != "jwt" || !meta.Enabled {
		t.Fatalf("meta = %+v", meta)
	}
	if !HasScope(meta, ScopeAutomation) || HasScope(meta, ScopeWrite) {
		t.Fatalf("scopes = %v", meta.Scopes)
	}

	if _, err := VerifyJWT(signed, "wrong-secret"); err == nil {
		t.Fatal("expected error for wrong secret")
	}

	stale := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "alice",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	signedStale, err := stale.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign stale: %v", err)
	}
	if _, err := VerifyJWT(signedStale, secret); err == nil {
		t.Fatal("expected error for expired token")
	}
}
