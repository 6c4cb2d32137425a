package api

import (
	"net"
	"net/http"
	"strings"

	"ledgerflow/internal/audit"
	"ledgerflow/internal/auth"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	return sr.ResponseWriter.Write(b)
}

func apiKeyFromRequest(r *http.Request) string {
	if k := strings.TrimSpace(r.Header.Get("x-api-key")); k != "" {
		return k
	}
	a := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(a), "bearer ") {
		return strings.TrimSpace(a[7:])
	}
	return ""
}

func workspaceFromRequest(r *http.Request) string {
	ws := strings.TrimSpace(r.Header.Get("x-workspace-id"))
	if ws == "" {
		return "default"
	}
	return ws
}

func isLocalClient(r *http.Request) bool {
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		host = strings.TrimSpace(r.RemoteAddr)
	}
	ip := net.ParseIP(host)
	if ip != nil {
		return ip.IsLoopback()
	}
	return host == "localhost"
}

// resolveKey looks a presented token up in the key store; when the JWT mode
// is enabled the token is also accepted as a signed bearer token.
func (s *Server) resolveKey(presented string) (auth.KeyMeta, bool) {
	if meta, ok := s.authStore[presented]; ok {
		return meta, true
	}
	if s.jwtSecret != "" && presented != "" {
		if meta, err := auth.VerifyJWT(presented, s.jwtSecret); err == nil {
			return meta, true
		}
	}
	return auth.KeyMeta{}, false
}

// authAuditMiddleware enforces the scope model and appends one audit record
// per mutating API call. Audit failures never affect the response.
func (s *Server) authAuditMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		method := strings.ToUpper(r.Method)
		isAPI := strings.HasPrefix(path, "/api/")
		requiredScopes := auth.RequiredScopes(method, path)
		authEnabled := len(s.authStore) > 0 || s.jwtSecret != ""
		requiresAuth := authEnabled && requiredScopes != nil

		denied := false
		denyReason := ""
		authKeyID := ""
		workspaceID := workspaceFromRequest(r)

		mutating := method == http.MethodPost || method == http.MethodPut ||
			method == http.MethodPatch || method == http.MethodDelete
		audited := isAPI && mutating && s.deps.Audit != nil

		// Wrapping the writer breaks hijacking, so the websocket stream and
		// other non-audited requests get the original writer.
		var rec *statusRecorder
		rw := w
		if audited {
			rec = &statusRecorder{ResponseWriter: w}
			rw = rec
		}

		switch {
		case requiresAuth:
			presented := apiKeyFromRequest(r)
			meta, ok := s.resolveKey(presented)
			if !ok {
				denied = true
				denyReason = "missing_or_invalid_api_key"
				respondDetail(rw, http.StatusUnauthorized, "API key required")
				break
			}
			for _, scope := range requiredScopes {
				switch auth.DenialReason(meta, scope) {
				case "api_key_disabled":
					denied = true
					denyReason = "api_key_disabled"
					respondDetail(rw, http.StatusUnauthorized, "API key is disabled")
				case "api_key_expired":
					denied = true
					denyReason = "api_key_expired"
					respondDetail(rw, http.StatusUnauthorized, "API key has expired")
				case "insufficient_scope":
					denied = true
					denyReason = "insufficient_scope"
					respondDetail(rw, http.StatusForbidden, "Insufficient scope. Required: "+scope)
				}
				if denied {
					break
				}
			}
			if !denied && !auth.AllowsWorkspace(meta, workspaceID) {
				denied = true
				denyReason = "workspace_not_allowed"
				respondDetail(rw, http.StatusForbidden, "Workspace not allowed for this key: "+workspaceID)
			}
			if !denied {
				authKeyID = meta.ID
				next.ServeHTTP(rw, r)
			}
		case isAPI && requiredScopes != nil && !isLocalClient(r):
			denied = true
			denyReason = "non_local_client_without_api_key"
			respondDetail(rw, http.StatusUnauthorized, "Non-local API access requires API key configuration and request auth header.")
		default:
			next.ServeHTTP(rw, r)
		}

		if audited {
			s.deps.Audit.Append(audit.Record{
				Method:             method,
				Path:               path,
				Query:              r.URL.RawQuery,
				Status:             rec.status,
				Client:             clientIP(r),
				UserAgent:          r.Header.Get("User-Agent"),
				AuthRequired:       requiresAuth,
				AuthScopesRequired: requiredScopes,
				AuthKeyID:          authKeyID,
				WorkspaceID:        workspaceID,
				AuthMode:           s.authMode,
				AuthDenied:         denied,
				AuthDenyReason:     denyReason,
			})
		}
	})
}
