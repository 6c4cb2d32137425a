package api

import (
	"net/http"

	"ledgerflow/internal/auth"
	"ledgerflow/internal/documents"
	"ledgerflow/internal/layout"
	"ledgerflow/internal/migrate"
	"ledgerflow/internal/storage"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"version":     Version,
		"dataDir":     s.deps.Layout.DataDir,
		"authEnabled": len(s.authStore) > 0 || s.jwtSecret != "",
		"authMode":    s.authMode,
	})
}

func (s *Server) handleAuthContext(w http.ResponseWriter, r *http.Request) {
	presented := apiKeyFromRequest(r)
	meta, ok := s.resolveKey(presented)
	out := map[string]any{
		"authEnabled":       len(s.authStore) > 0 || s.jwtSecret != "",
		"authMode":          s.authMode,
		"keyCount":          len(s.authStore),
		"authenticated":     ok,
		"keyId":             nil,
		"role":              nil,
		"scopes":            []string{},
		"enabled":           nil,
		"expiresAt":         nil,
		"workspaceId":       workspaceFromRequest(r),
		"allowedWorkspaces": []string{},
	}
	if ok {
		out["keyId"] = meta.ID
		if meta.Role != "" {
			out["role"] = meta.Role
		}
		out["scopes"] = meta.Scopes
		out["enabled"] = meta.Enabled
		if meta.ExpiresAt != "" {
			out["expiresAt"] = meta.ExpiresAt
		}
		if meta.Workspaces != nil {
			out["allowedWorkspaces"] = meta.Workspaces
		}
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleAuthKeys(w http.ResponseWriter, r *http.Request) {
	items := make([]auth.KeyMeta, 0, len(s.authStore))
	for _, meta := range s.authStore {
		if meta.Scopes == nil {
			meta.Scopes = []string{}
		}
		if meta.Workspaces == nil {
			meta.Workspaces = []string{}
		}
		items = append(items, meta)
	}
	respondJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

func (s *Server) handleInit(w http.ResponseWriter, r *http.Request) {
	var body struct {
		WriteDefaults bool `json:"writeDefaults"`
	}
	if err := decodeBody(r, &body); err != nil {
		respondDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := layout.InitDataLayout(s.deps.Layout, body.WriteDefaults); err != nil {
		respondDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"ok": true, "dataDir": s.deps.Layout.DataDir})
}

func (s *Server) handleIndexRebuild(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Index.Rebuild(s.deps.Layout)
	if err != nil {
		respondDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleIndexStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.deps.Index.Stats()
	if err != nil {
		respondDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, st)
}

func (s *Server) handleMigrateStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.deps.Migrator.GetStatus()
	if err != nil {
		respondDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, status)
}

func (s *Server) handleMigrateUp(w http.ResponseWriter, r *http.Request) {
	var body struct {
		To int `json:"to"`
	}
	if err := decodeBody(r, &body); err != nil {
		respondDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	target := body.To
	if target <= 0 {
		target = migrate.LatestVersion
	}
	res, err := s.deps.Migrator.MigrateToLatest(target)
	if err != nil {
		respondDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleOCRCapabilities(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, documents.OCRCapabilities())
}

func (s *Server) handleOCRExtractUpload(w http.ResponseWriter, r *http.Request) {
	saved, err := s.saveUploadToInbox(r)
	if err != nil {
		respondDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	text, meta, err := documents.ExtractText(saved)
	if err != nil {
		respondDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"savedPath": saved, "meta": meta, "text": text})
}

func (s *Server) handleOCRExtractPath(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Path string `json:"path"`
	}
	if err := decodeBody(r, &body); err != nil {
		respondDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	if body.Path == "" {
		respondDetail(w, http.StatusBadRequest, "path is required")
		return
	}
	text, meta, err := documents.ExtractText(body.Path)
	if err != nil {
		respondDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"path": body.Path, "meta": meta, "text": text})
}

func (s *Server) handleAuditEvents(w http.ResponseWriter, r *http.Request) {
	items, err := s.deps.Audit.Recent(queryInt(r, "limit", 100))
	if err != nil {
		respondDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	if items == nil {
		items = []storage.Doc{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"items": items})
}
