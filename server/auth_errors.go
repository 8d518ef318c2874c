package server

import (
	"errors"
	"html/template"
	"net/http"

	"github.com/rs/zerolog/hlog"

	"github.com/jrsteele09/transcript-summary/auth"
)

type authFailure struct {
	status  int
	code    string
	message string
	retry   bool
}

// classifyAuthError never exposes provider detail; the original error is only logged.
func classifyAuthError(err error) authFailure {
	switch {
	case errors.Is(err, auth.ErrProviderDenied):
		return authFailure{http.StatusUnauthorized, "access_denied", "Sign-in was cancelled. You can try again whenever you are ready.", true}
	case errors.Is(err, auth.ErrStateMismatch), errors.Is(err, auth.ErrSessionLost):
		return authFailure{http.StatusBadRequest, "invalid_state", "This sign-in attempt is invalid or has expired. Please start again.", true}
	case errors.Is(err, auth.ErrMissingCode):
		return authFailure{http.StatusBadRequest, "invalid_request", "The sign-in response was incomplete. Please start again.", true}
	case errors.Is(err, auth.ErrInvalidAction):
		return authFailure{http.StatusBadRequest, "invalid_request", "The requested action is not valid.", false}
	case errors.Is(err, auth.ErrTokenExchangeFailed):
		return authFailure{http.StatusBadGateway, "authentication_failed", "Authentication failed, please try again.", true}
	}
	return authFailure{http.StatusInternalServerError, "server_error", "Something went wrong, please try again.", true}
}

var authErrorPage = template.Must(template.New("auth_error").Parse(`<!doctype html>
<html><head><meta charset="utf-8"><title>Sign-in</title></head>
<body><p>{{.Message}}</p>{{if .Retry}}<p><a href="{{.RetryURL}}">Sign in again</a></p>{{end}}</body></html>
`))

func (s *Server) writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	logger := hlog.FromRequest(r)
	f := classifyAuthError(err)
	switch {
	case errors.Is(err, auth.ErrStateMismatch), errors.Is(err, auth.ErrSessionLost):
		logger.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("potential CSRF: rejected authorization callback")
	case f.status >= http.StatusInternalServerError:
		logger.Error().Err(err).Msg("authorization flow failed")
	default:
		logger.Info().Err(err).Msg("authorization flow stopped")
	}

	if wantsJSON(r) {
		writeJSONError(w, f.code, f.message, f.status)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(f.status)
	_ = authErrorPage.Execute(w, struct {
		Message  string
		Retry    bool
		RetryURL string
	}{f.message, f.retry, RouteAuthLogin})
}
