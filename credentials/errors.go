package credentials

import "errors"

var (
	// ErrNoCredentials means the session has never signed in, or its bundle was cleared.
	ErrNoCredentials = errors.New("no credentials in session")
	// ErrRefreshFailed means the provider refused the refresh token. The bundle has been
	// cleared and the user must sign in again.
	ErrRefreshFailed = errors.New("token refresh failed")
	// ErrRefreshUnavailable means the provider could not be reached; the bundle is kept.
	ErrRefreshUnavailable = errors.New("token refresh unavailable")
	// ErrGrantRejected is returned by a TokenRefresher when the provider answered 4xx.
	ErrGrantRejected = errors.New("grant rejected by provider")

	ErrUnsupportedVersion = errors.New("unsupported credential encoding version")
	ErrMalformed          = errors.New("malformed credential encoding")
)
