package auth

import (
	"errors"

	"github.com/jrsteele09/transcript-summary/returnctx"
)

var (
	// ErrProviderDenied means the identity provider returned an error, usually because the user
	// declined consent.
	ErrProviderDenied = errors.New("authorization denied by provider")
	// ErrStateMismatch means the callback's state is missing, expired, already used or not the
	// one issued to this session. It is treated as a possible CSRF attempt.
	ErrStateMismatch = errors.New("state mismatch")
	// ErrSessionLost means the callback arrived without a session we know about.
	ErrSessionLost         = errors.New("session lost")
	ErrTokenExchangeFailed = errors.New("token exchange failed")
	ErrMissingCode         = errors.New("missing authorization code")
	ErrInvalidAction       = returnctx.ErrInvalidAction
)
