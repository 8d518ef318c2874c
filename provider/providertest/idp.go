// Package providertest runs an in-process identity provider for tests.
package providertest

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

const (
	ClientID     = "test-client"
	ClientSecret = "test-secret"
	keyID        = "test-key"
)

// IdP issues single-use authorization codes and rotating refresh tokens, and serves OIDC
// discovery and signing keys.
type IdP struct {
	Server *httptest.Server

	// Name and Email go into every id_token.
	Name  string
	Email string
	// FailStatus, when set, makes the token endpoint answer with that status.
	FailStatus atomic.Int32
	// RefreshDelay slows down refresh responses so concurrent callers overlap.
	RefreshDelay time.Duration
	// TokenLifetime is the expires_in of issued access tokens, one hour when zero.
	TokenLifetime time.Duration

	ExchangeCalls atomic.Int32
	RefreshCalls  atomic.Int32

	key *rsa.PrivateKey

	mu      sync.Mutex
	codes   map[string]bool
	refresh map[string]bool
	issued  int
	// code_verifier sent with each redeemed code
	verifiers []string
}

func New(t testing.TB) *IdP {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	idp := &IdP{
		Name:    "Ada Lovelace",
		Email:   "ada@example.com",
		key:     key,
		codes:   make(map[string]bool),
		refresh: make(map[string]bool),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", idp.discovery)
	mux.HandleFunc("/discovery/keys", idp.keys)
	mux.HandleFunc("/oauth2/v2.0/token", idp.token)
	idp.Server = httptest.NewServer(mux)
	t.Cleanup(idp.Server.Close)
	return idp
}

func (i *IdP) URL() string {
	return i.Server.URL
}

// IssueCode returns a fresh authorization code that can be redeemed once.
func (i *IdP) IssueCode() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.issued++
	code := fmt.Sprintf("code-%d", i.issued)
	i.codes[code] = true
	return code
}

// Verifiers returns the PKCE code_verifier of every redeemed code, in order.
func (i *IdP) Verifiers() []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]string(nil), i.verifiers...)
}

// Revoke invalidates every refresh token issued so far.
func (i *IdP) Revoke() {
	i.mu.Lock()
	defer i.mu.Unlock()
	clear(i.refresh)
}

func (i *IdP) discovery(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"issuer":                                i.URL(),
		"authorization_endpoint":                i.URL() + "/oauth2/v2.0/authorize",
		"token_endpoint":                        i.URL() + "/oauth2/v2.0/token",
		"jwks_uri":                              i.URL() + "/discovery/keys",
		"id_token_signing_alg_values_supported": []string{"RS256"},
	})
}

func (i *IdP) keys(w http.ResponseWriter, r *http.Request) {
	pub := i.key.PublicKey
	writeJSON(w, http.StatusOK, map[string]any{
		"keys": []map[string]string{{
			"kty": "RSA",
			"kid": keyID,
			"alg": "RS256",
			"use": "sig",
			"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		}},
	})
}

func (i *IdP) token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		oauthError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	clientID, _, ok := r.BasicAuth()
	if !ok {
		clientID = r.PostForm.Get("client_id")
	}
	if clientID != ClientID {
		oauthError(w, http.StatusUnauthorized, "invalid_client")
		return
	}

	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		i.ExchangeCalls.Add(1)
		if status := i.FailStatus.Load(); status != 0 {
			oauthError(w, int(status), "server_error")
			return
		}
		i.mu.Lock()
		valid := i.codes[r.PostForm.Get("code")]
		delete(i.codes, r.PostForm.Get("code"))
		if valid {
			i.verifiers = append(i.verifiers, r.PostForm.Get("code_verifier"))
		}
		i.mu.Unlock()
		if !valid {
			oauthError(w, http.StatusBadRequest, "invalid_grant")
			return
		}
		i.issue(w)
	case "refresh_token":
		i.RefreshCalls.Add(1)
		if i.RefreshDelay > 0 {
			time.Sleep(i.RefreshDelay)
		}
		if status := i.FailStatus.Load(); status != 0 {
			oauthError(w, int(status), "server_error")
			return
		}
		i.mu.Lock()
		valid := i.refresh[r.PostForm.Get("refresh_token")]
		delete(i.refresh, r.PostForm.Get("refresh_token"))
		i.mu.Unlock()
		if !valid {
			oauthError(w, http.StatusBadRequest, "invalid_grant")
			return
		}
		i.issue(w)
	default:
		oauthError(w, http.StatusBadRequest, "unsupported_grant_type")
	}
}

func (i *IdP) issue(w http.ResponseWriter) {
	i.mu.Lock()
	i.issued++
	n := i.issued
	refreshToken := fmt.Sprintf("rt-%d", n)
	i.refresh[refreshToken] = true
	i.mu.Unlock()

	lifetime := i.TokenLifetime
	if lifetime == 0 {
		lifetime = time.Hour
	}
	now := time.Now()
	idToken := jwtlib.NewWithClaims(jwtlib.SigningMethodRS256, jwtlib.MapClaims{
		"iss":   i.URL(),
		"aud":   ClientID,
		"sub":   "user-1",
		"name":  i.Name,
		"email": i.Email,
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	})
	idToken.Header["kid"] = keyID
	signed, err := idToken.SignedString(i.key)
	if err != nil {
		oauthError(w, http.StatusInternalServerError, "server_error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"access_token":  fmt.Sprintf("at-%d", n),
		"refresh_token": refreshToken,
		"token_type":    "Bearer",
		"expires_in":    int(lifetime.Seconds()),
		"scope":         strings.Join([]string{"User.Read", "offline_access"}, " "),
		"id_token":      signed,
	})
}

func oauthError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code, "error_description": "rejected by test idp"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
