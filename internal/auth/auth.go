// Package auth implements the API key store, scope checks, and the optional
// JWT bearer mode.
package auth

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"
)

const (
	ScopeRead       = "read"
	ScopeWrite      = "write"
	ScopeAdmin      = "admin"
	ScopeAutomation = "automation"
	ScopeOps        = "ops"
)

// KeyMeta describes one configured API key.
type KeyMeta struct {
	ID         string   `json:"id"`
	Kind       string   `json:"kind"` // legacy or scoped
	Role       string   `json:"role,omitempty"`
	Scopes     []string `json:"scopes"`
	Enabled    bool     `json:"enabled"`
	ExpiresAt  string   `json:"expiresAt,omitempty"`
	Workspaces []string `json:"workspaces"`
}

// Store maps a presented token to its key metadata.
type Store map[string]KeyMeta

var roleScopes = map[string][]string{
	"admin":    {ScopeAdmin},
	"editor":   {ScopeRead, ScopeWrite},
	"viewer":   {ScopeRead},
	"operator": {ScopeRead, ScopeAutomation, ScopeOps},
}

func parseScopes(value any) map[string]bool {
	scopes := map[string]bool{}
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s != "" {
			scopes[s] = true
		}
	}
	switch v := value.(type) {
	case string:
		for _, part := range strings.Split(v, ",") {
			add(part)
		}
	case []any:
		for _, item := range v {
			add(fmt.Sprintf("%v", item))
		}
	case []string:
		for _, item := range v {
			add(item)
		}
	}
	if scopes[ScopeAdmin] {
		scopes[ScopeRead] = true
		scopes[ScopeWrite] = true
	}
	return scopes
}

func sortedScopes(scopes map[string]bool) []string {
	out := make([]string, 0, len(scopes))
	for s := range scopes {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// LoadStoreFromEnv reads key configuration from the environment.
//
// LEDGERFLOW_API_KEY holds a single legacy full-access key.
// LEDGERFLOW_API_KEYS holds scoped keys as JSON, either a list
// [{"id": "reader", "key": "token", "scopes": ["read"]}, ...] or an object
// {"reader": {"key": "token", "scopes": ["read"]}, ...}.
func LoadStoreFromEnv() Store {
	out := Store{}

	if raw := strings.TrimSpace(os.Getenv("LEDGERFLOW_API_KEYS")); raw != "" {
		var rows []map[string]any
		var asList []any
		if err := json.Unmarshal([]byte(raw), &asList); err == nil {
			for _, item := range asList {
				if m, ok := item.(map[string]any); ok {
					rows = append(rows, m)
				}
			}
		} else {
			var asObj map[string]any
			if err := json.Unmarshal([]byte(raw), &asObj); err == nil {
				ids := make([]string, 0, len(asObj))
				for id := range asObj {
					ids = append(ids, id)
				}
				sort.Strings(ids)
				for _, id := range ids {
					if m, ok := asObj[id].(map[string]any); ok {
						if _, has := m["id"]; !has {
							m["id"] = id
						}
						rows = append(rows, m)
					}
				}
			}
		}

		for i, item := range rows {
			token := strings.TrimSpace(fmt.Sprintf("%v", orEmpty(item["key"])))
			if token == "" {
				continue
			}
			keyID := strings.TrimSpace(fmt.Sprintf("%v", orEmpty(item["id"])))
			if keyID == "" {
				keyID = fmt.Sprintf("key%d", i+1)
			}
			role := strings.TrimSpace(fmt.Sprintf("%v", orEmpty(item["role"])))
			scopes := parseScopes(item["scopes"])
			for _, s := range roleScopes[strings.ToLower(role)] {
				scopes[s] = true
			}
			if scopes[ScopeAdmin] {
				scopes[ScopeRead] = true
				scopes[ScopeWrite] = true
			}
			if len(scopes) == 0 {
				scopes = map[string]bool{ScopeRead: true, ScopeWrite: true}
			}
			enabled := true
			if v, has := item["enabled"]; has {
				b, ok := v.(bool)
				enabled = ok && b
			}
			expiresAt := strings.TrimSpace(fmt.Sprintf("%v", orEmpty(item["expiresAt"])))
			var workspaces []string
			if list, ok := item["workspaces"].([]any); ok {
				for _, w := range list {
					ws := strings.TrimSpace(fmt.Sprintf("%v", w))
					if ws != "" {
						workspaces = append(workspaces, ws)
					}
				}
			}
			out[token] = KeyMeta{
				ID:         keyID,
				Kind:       "scoped",
				Role:       role,
				Scopes:     sortedScopes(scopes),
				Enabled:    enabled,
				ExpiresAt:  expiresAt,
				Workspaces: workspaces,
			}
		}
	}

	if legacy := strings.TrimSpace(os.Getenv("LEDGERFLOW_API_KEY")); legacy != "" {
		if _, exists := out[legacy]; !exists {
			out[legacy] = KeyMeta{
				ID:      "legacy",
				Kind:    "legacy",
				Scopes:  []string{ScopeAdmin, ScopeRead, ScopeWrite},
				Enabled: true,
			}
		}
	}

	return out
}

func orEmpty(v any) any {
	if v == nil {
		return ""
	}
	return v
}

// ModeForStore reports the auth mode label surfaced by /api/health.
func ModeForStore(store Store) string {
	if len(store) == 0 {
		return "local_only_no_key"
	}
	for _, meta := range store {
		if meta.Kind == "scoped" {
			return "api_key_scoped"
		}
	}
	return "api_key"
}

// RequiredScopes maps a request to the scopes it needs. A nil result means
// no auth check applies to the request.
func RequiredScopes(method, path string) []string {
	m := strings.ToUpper(method)
	if !strings.HasPrefix(path, "/api/") {
		return nil
	}
	if path == "/api/health" || m == "OPTIONS" {
		return nil
	}
	var scopes []string
	if m == "GET" || m == "HEAD" {
		scopes = append(scopes, ScopeRead)
	} else {
		scopes = append(scopes, ScopeWrite)
	}
	if strings.HasPrefix(path, "/api/automation/") {
		scopes = append(scopes, ScopeAutomation)
	}
	if path == "/api/ops/metrics" {
		scopes = append(scopes, ScopeOps)
	}
	if path == "/api/auth/keys" || strings.HasPrefix(path, "/api/backup/") {
		scopes = append(scopes, ScopeAdmin)
	}
	return scopes
}

func parseExpiry(value string) (time.Time, bool) {
	s := strings.TrimSpace(value)
	if s == "" {
		return time.Time{}, false
	}
	for _, layoutStr := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layoutStr, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// HasScope reports whether an enabled, unexpired key satisfies the required
// scope, honoring the admin and write implications.
func HasScope(meta KeyMeta, required string) bool {
	if !meta.Enabled {
		return false
	}
	if exp, ok := parseExpiry(meta.ExpiresAt); ok && !time.Now().UTC().Before(exp) {
		return false
	}
	scopes := map[string]bool{}
	for _, s := range meta.Scopes {
		scopes[s] = true
	}
	if scopes[ScopeAdmin] {
		return true
	}
	if required == ScopeRead && scopes[ScopeWrite] {
		return true
	}
	return scopes[required]
}

// DenialReason explains why a key fails a scope check, or returns "" when it
// passes. The distinction between disabled/expired and insufficient_scope
// drives 401 versus 403 at the API layer.
func DenialReason(meta KeyMeta, required string) string {
	if !meta.Enabled {
		return "api_key_disabled"
	}
	if exp, ok := parseExpiry(meta.ExpiresAt); ok && !time.Now().UTC().Before(exp) {
		return "api_key_expired"
	}
	if HasScope(meta, required) {
		return ""
	}
	return "insufficient_scope"
}

// AllowsWorkspace applies the key's workspace allow-list. An empty list
// allows every workspace.
func AllowsWorkspace(meta KeyMeta, workspaceID string) bool {
	if len(meta.Workspaces) == 0 {
		return true
	}
	for _, w := range meta.Workspaces {
		if w == workspaceID {
			return true
		}
	}
	return false
}
