package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog/hlog"

	"github.com/jrsteele09/transcript-summary/credentials"
	"github.com/jrsteele09/transcript-summary/graph"
	"github.com/jrsteele09/transcript-summary/returnctx"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const (
	// ContextKeyAccessToken stores the delegated access token for the request
	ContextKeyAccessToken ContextKey = "access_token"
	// ContextKeySessionID stores the session the token belongs to
	ContextKeySessionID ContextKey = "session_id"
)

// RequireCredentials makes a valid access token available to the handler, refreshing it when
// needed. Without usable credentials the caller is sent to sign in and resume actionFor(r).
func (s *Server) RequireCredentials(actionFor func(*http.Request) returnctx.Action) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			sessionID := s.cookies.SessionID(r)
			token, err := s.refresher.AccessToken(r.Context(), sessionID)
			switch {
			case errors.Is(err, credentials.ErrRefreshUnavailable):
				hlog.FromRequest(r).Error().Err(err).Msg("token refresh unavailable")
				writeJSONError(w, "temporarily_unavailable", "Sign-in service is unavailable, try again shortly.", http.StatusServiceUnavailable)
				return
			case err != nil:
				s.requireLogin(w, r, actionFor(r))
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeyAccessToken, token)
			ctx = context.WithValue(ctx, ContextKeySessionID, sessionID)
			next(w, r.WithContext(ctx))
		}
	}
}

// requireLogin redirects browsers to sign in; scripts get a 401 carrying the same URL.
func (s *Server) requireLogin(w http.ResponseWriter, r *http.Request, action returnctx.Action) {
	target := loginURL(action)
	if wantsJSON(r) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{
			"error":     "authentication_required",
			"login_url": target,
		})
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// resourceError maps a downstream API failure. The token reaching the API was already fresh, so a
// 401 means the grant no longer works: the credentials are dropped and the user signs in again. A
// 403 keeps the credentials and offers a sign-in that can grant the missing consent.
func (s *Server) resourceError(w http.ResponseWriter, r *http.Request, err error, action returnctx.Action) {
	logger := hlog.FromRequest(r)
	switch {
	case errors.Is(err, graph.ErrUnauthorized):
		sessionID, _ := r.Context().Value(ContextKeySessionID).(string)
		if err := s.refresher.Invalidate(r.Context(), sessionID); err != nil {
			logger.Error().Err(err).Msg("failed to invalidate credentials")
		}
		s.requireLogin(w, r, action)
	case errors.Is(err, graph.ErrForbidden):
		writeJSON(w, http.StatusForbidden, map[string]string{
			"error":             "insufficient_permissions",
			"error_description": "The signed-in account has not granted the required permission.",
			"login_url":         loginURL(action),
		})
	case errors.Is(err, graph.ErrNotFound):
		writeJSONError(w, "not_found", "The meeting could not be found.", http.StatusNotFound)
	default:
		logger.Error().Err(err).Msg("resource API call failed")
		writeJSONError(w, "upstream_error", "The meeting service did not respond, try again.", http.StatusBadGateway)
	}
}

func accessToken(r *http.Request) string {
	token, _ := r.Context().Value(ContextKeyAccessToken).(string)
	return token
}
