package credentials

import (
	"slices"
	"time"
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

// Bundle is the token set issued by the identity provider for one signed-in user.
type Bundle struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	Scopes       []string  `json:"scopes"`
	IDToken      string    `json:"id_token,omitempty"`
	Claims       Claims    `json:"claims,omitzero"`

	// Generation increases by one on every refresh and identifies which bundle a caller saw.
	Generation uint64 `json:"generation"`
}

// Claims are the identity claims carried in the id_token, when the provider issued one.
type Claims struct {
	Subject string `json:"sub,omitempty"`
	Name    string `json:"name,omitempty"`
	Email   string `json:"email,omitempty"`
}

func (c Claims) IsZero() bool {
	return c == Claims{}
}

// IsZero reports whether b holds no token at all, which means the session has no credentials.
func (b Bundle) IsZero() bool {
	return b.AccessToken == "" && b.RefreshToken == ""
}

// isEmpty is true only for Bundle{}; anything else must survive an encode and decode.
func (b Bundle) isEmpty() bool {
	return b.IsZero() && b.TokenType == "" && b.ExpiresAt.IsZero() && b.Scopes == nil &&
		b.IDToken == "" && b.Claims.IsZero() && b.Generation == 0
}

// Normalized returns b with ExpiresAt in UTC and without a monotonic reading, and with an empty
// scope list as nil. Bundles built by the provider and by Renew are always normalized.
func (b Bundle) Normalized() Bundle {
	if !b.ExpiresAt.IsZero() {
		b.ExpiresAt = b.ExpiresAt.UTC()
	}
	if len(b.Scopes) == 0 {
		b.Scopes = nil
	}
	return b
}

// ValidAt reports whether the access token can still be used at now. A token is expired at
// ExpiresAt exactly, and a zero ExpiresAt counts as expired.
func (b Bundle) ValidAt(now time.Time, skew time.Duration) bool {
	if b.AccessToken == "" || b.ExpiresAt.IsZero() {
		return false
	}
	return now.Before(b.ExpiresAt.Add(-skew))
}

// Renew builds the complete successor of b from a refresh response. Fields the provider left
// out are carried over and the granted scope set is kept stable.
func (b Bundle) Renew(fresh Bundle) Bundle {
	next := Bundle{
		AccessToken:  fresh.AccessToken,
		RefreshToken: fresh.RefreshToken,
		TokenType:    fresh.TokenType,
		ExpiresAt:    fresh.ExpiresAt,
		Scopes:       slices.Clone(b.Scopes),
		IDToken:      fresh.IDToken,
		Claims:       fresh.Claims,
		Generation:   b.Generation + 1,
	}
	if next.RefreshToken == "" {
		next.RefreshToken = b.RefreshToken
	}
	if next.TokenType == "" {
		next.TokenType = b.TokenType
	}
	if len(next.Scopes) == 0 {
		next.Scopes = slices.Clone(fresh.Scopes)
	}
	if next.IDToken == "" {
		next.IDToken = b.IDToken
	}
	if next.Claims.IsZero() {
		next.Claims = b.Claims
	}
	return next.Normalized()
}
