// Package audit appends API access records to the audit log.
package audit

import (
	"ledgerflow/internal/layout"
	"ledgerflow/internal/storage"
)

// Record captures one mutating API call and its auth outcome.
type Record struct {
	At                 string   `json:"at"`
	Method             string   `json:"method"`
	Path               string   `json:"path"`
	Query              string   `json:"query"`
	Status             int      `json:"status"`
	Client             string   `json:"client"`
	UserAgent          string   `json:"userAgent"`
	AuthRequired       bool     `json:"authRequired"`
	AuthScopesRequired []string `json:"authScopesRequired"`
	AuthKeyID          string   `json:"authKeyId,omitempty"`
	WorkspaceID        string   `json:"workspaceId"`
	AuthMode           string   `json:"authMode"`
	AuthDenied         bool     `json:"authDenied"`
	AuthDenyReason     string   `json:"authDenyReason,omitempty"`
}

// Logger writes records to the audit log file. Write errors are dropped so
// auditing can never break request handling.
type Logger struct {
	Layout layout.Layout
}

func NewLogger(l layout.Layout) *Logger {
	return &Logger{Layout: l}
}

func (a *Logger) Append(rec Record) {
	if rec.At == "" {
		rec.At = storage.NowISO()
	}
	if rec.AuthScopesRequired == nil {
		rec.AuthScopesRequired = []string{}
	}
	_ = storage.AppendJSONL(a.Layout.AuditLogPath(), rec)
}

// Recent returns the newest records up to limit.
func (a *Logger) Recent(limit int) ([]storage.Doc, error) {
	if limit <= 0 {
		limit = 100
	}
	return storage.ReadJSONLTail(a.Layout.AuditLogPath(), limit)
}
