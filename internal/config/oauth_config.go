package config

import (
	"strings"
	"time"
)

type OAuthConfig interface {
	GetClientID() string
	GetClientSecret() string
	GetAuthority() string
	GetRedirectURI() string
	GetScopes() []string
	GetOIDCIssuer() string
	GetAuthFlowTTL() time.Duration
	GetTokenExpirySkew() time.Duration
	GetHTTPTimeout() time.Duration
}

type OAuth struct{}

var _ OAuthConfig = OAuth{}

// Delegated permissions requested from the user. offline_access is what gets us a refresh token.
var defaultScopes = []string{
	"User.Read",
	"Calendars.Read",
	"OnlineMeetings.Read",
	"Chat.ReadWrite",
	"ChatMessage.Send",
	"offline_access",
}

func (OAuth) GetClientID() string {
	return GetEnv("MICROSOFT_CLIENT_ID", "")
}

func (OAuth) GetClientSecret() string {
	return GetEnv("MICROSOFT_CLIENT_SECRET", "")
}

func (OAuth) GetAuthority() string {
	return strings.TrimSuffix(GetEnv("MICROSOFT_AUTHORITY", "https://login.microsoftonline.com/common"), "/")
}

// GetRedirectURI must match the URI registered with the provider exactly, including scheme, port and path.
func (OAuth) GetRedirectURI() string {
	return GetEnv("MICROSOFT_REDIRECT_URI", "http://localhost:5001/auth/callback")
}

func (OAuth) GetScopes() []string {
	return GetEnvList("OAUTH_SCOPES", defaultScopes)
}

// GetOIDCIssuer enables discovery and id_token verification when set.
func (OAuth) GetOIDCIssuer() string {
	return GetEnv("OIDC_ISSUER", "")
}

func (OAuth) GetAuthFlowTTL() time.Duration {
	return GetEnvDuration("AUTH_FLOW_TTL", 15*time.Minute)
}

func (OAuth) GetTokenExpirySkew() time.Duration {
	return GetEnvDuration("TOKEN_EXPIRY_SKEW", 0)
}

func (OAuth) GetHTTPTimeout() time.Duration {
	return GetEnvDuration("HTTP_TIMEOUT", 10*time.Second)
}
