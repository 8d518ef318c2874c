package server

import (
	"net/http"

	"github.com/rs/zerolog/hlog"

	"github.com/jrsteele09/transcript-summary/auth"
	"github.com/jrsteele09/transcript-summary/internal/utils"
)

// CallbackHandler completes sign-in. It must be served at the redirect URI registered with the
// provider.
func (s *Server) CallbackHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		result, err := s.coordinator.Complete(r.Context(), s.cookies.SessionID(r), auth.CallbackParams{
			State:            q.Get("state"),
			Code:             q.Get("code"),
			Error:            q.Get("error"),
			ErrorDescription: q.Get("error_description"),
		})
		if err != nil {
			s.writeAuthError(w, r, err)
			return
		}

		hlog.FromRequest(r).Info().
			Str("resume", result.ResumePath).
			Str("email", utils.Value(result.Identity).Email).
			Msg("user signed in")
		redirectSuccess(w, r, result.ResumePath)
	}
}
