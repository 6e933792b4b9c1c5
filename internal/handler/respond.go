package handler

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	apperrors "github.com/pesio-ai/be-contracts-access/internal/errors"
	"github.com/pesio-ai/be-contracts-access/internal/middleware"
	"github.com/pesio-ai/be-contracts-access/internal/rbac"
)

// Paths are the UI locations denials redirect to.
type Paths struct {
	Login          string
	SuperAdminHome string
}

type errorBody struct {
	Error     errorDetail `json:"error"`
	RequestID string      `json:"request_id,omitempty"`
}

type errorDetail struct {
	Code    apperrors.ErrCode `json:"code"`
	Message string            `json:"message"`
	Field   string            `json:"field,omitempty"`
}

var statusByCode = map[apperrors.ErrCode]int{
	apperrors.ErrCodeUnauthenticated:       http.StatusUnauthorized,
	apperrors.ErrCodeAccessDenied:          http.StatusForbidden,
	apperrors.ErrCodeApprovalPending:       http.StatusConflict,
	apperrors.ErrCodeConflict:              http.StatusConflict,
	apperrors.ErrCodeNotFound:              http.StatusNotFound,
	apperrors.ErrCodeInvalidInput:          http.StatusBadRequest,
	apperrors.ErrCodeWorkflowConfiguration: http.StatusUnprocessableEntity,
	apperrors.ErrCodeTransientStore:        http.StatusServiceUnavailable,
	apperrors.ErrCodeInternal:              http.StatusInternalServerError,
}

// StatusFor maps an error to its HTTP status.
func StatusFor(err error) int {
	if s, ok := statusByCode[apperrors.CodeOf(err)]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// wantsJSON is true for API routes and for callers that ask for JSON.
func wantsJSON(r *http.Request) bool {
	return strings.HasPrefix(r.URL.Path, "/api/") ||
		strings.Contains(r.Header.Get("Accept"), "application/json")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	detail := errorDetail{Code: apperrors.CodeOf(err), Message: err.Error()}

	var appErr *apperrors.Error
	if apperrors.As(err, &appErr) {
		detail.Message = appErr.Message
		detail.Field = appErr.Field
	}

	log := zerolog.Ctx(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		if detail.Code == apperrors.ErrCodeInternal {
			detail.Message = "internal error"
		}
	}

	writeJSON(w, status, errorBody{Error: detail, RequestID: middleware.RequestIDFrom(r.Context())})
}

// writeDecision renders a refused access decision: JSON callers get a coded
// error, UI callers are redirected.
func (h *HTTPHandler) writeDecision(w http.ResponseWriter, r *http.Request, d rbac.Decision) {
	if wantsJSON(r) {
		err := d.Err()
		if d.Outcome == rbac.SuperAdminRedirect {
			err = apperrors.AccessDenied("organisation administrator required")
		}
		writeError(w, r, err)
		return
	}

	switch d.Outcome {
	case rbac.Unauthenticated:
		target := h.paths.Login + "?next=" + url.QueryEscape(r.URL.RequestURI())
		http.Redirect(w, r, target, http.StatusFound)
	case rbac.SuperAdminRedirect:
		http.Redirect(w, r, h.paths.SuperAdminHome, http.StatusFound)
	default:
		http.Redirect(w, r, deniedTarget(r), http.StatusFound)
	}
}

// deniedTarget sends the caller back where they came from when that is a
// local path, and to the site root otherwise.
func deniedTarget(r *http.Request) string {
	back := "/"
	if ref, err := url.Parse(r.Referer()); err == nil && ref.Path != "" && (ref.Host == "" || ref.Host == r.Host) {
		back = ref.Path
	}
	return back + "?error=access_denied"
}
