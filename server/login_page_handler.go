package server

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog/hlog"

	"github.com/jrsteele09/transcript-summary/auth"
	"github.com/jrsteele09/transcript-summary/credentials"
	"github.com/jrsteele09/transcript-summary/sessions"
)

// LoginHandler starts sign-in for ?action=&id=&email=. Every attempt gets a fresh session id so
// a session planted before sign-in is never the one that ends up holding credentials.
func (s *Server) LoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := hlog.FromRequest(r)
		previous := s.cookies.SessionID(r)

		sessionID, err := sessions.NewID()
		if err != nil {
			s.writeAuthError(w, r, err)
			return
		}

		q := r.URL.Query()
		redirectURL, err := s.coordinator.Start(r.Context(), sessionID, auth.StartRequest{
			Kind:       q.Get("action"),
			ResourceID: q.Get("id"),
			UserHint:   q.Get("email"),
		})
		if err != nil {
			s.writeAuthError(w, r, err)
			return
		}

		if err := s.cookies.Bind(w, r, sessionID); err != nil {
			logger.Error().Err(err).Msg("failed to bind session cookie")
			s.writeAuthError(w, r, err)
			return
		}
		if previous != "" {
			if err := s.coordinator.Logout(r.Context(), previous); err != nil {
				logger.Warn().Err(err).Msg("failed to drop previous session")
			}
		}
		http.Redirect(w, r, redirectURL, http.StatusFound)
	}
}

func (s *Server) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := hlog.FromRequest(r)
		if err := s.coordinator.Logout(r.Context(), s.cookies.SessionID(r)); err != nil {
			logger.Error().Err(err).Msg("Logout: failed to delete session")
		}
		if err := s.cookies.Clear(w, r); err != nil {
			logger.Error().Err(err).Msg("Logout: failed to clear cookie")
		}

		if wantsJSON(r) {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
			return
		}
		redirectSuccess(w, r, RouteIndex)
	}
}

type statusUser struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type statusResponse struct {
	Authenticated bool        `json:"authenticated"`
	User          *statusUser `json:"user,omitempty"`
}

// StatusHandler reports whether the session holds usable credentials, refreshing them if needed.
func (s *Server) StatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := s.cookies.SessionID(r)
		_, err := s.refresher.AccessToken(r.Context(), sessionID)
		if errors.Is(err, credentials.ErrRefreshUnavailable) {
			hlog.FromRequest(r).Error().Err(err).Msg("status: token refresh unavailable")
			writeJSONError(w, "temporarily_unavailable", "Sign-in service is unavailable, try again shortly.", http.StatusServiceUnavailable)
			return
		}
		if err != nil {
			writeJSON(w, http.StatusOK, statusResponse{Authenticated: false})
			return
		}

		resp := statusResponse{Authenticated: true}
		if rec, err := s.store.Load(r.Context(), sessionID); err == nil && rec.Identity != nil {
			resp.User = &statusUser{Name: rec.Identity.DisplayName, Email: rec.Identity.Email}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
