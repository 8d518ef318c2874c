package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"

	"github.com/jrsteele09/transcript-summary/credentials"
	"github.com/jrsteele09/transcript-summary/internal/config"
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

// Used when the token response carries no expires_in.
const defaultTokenLifetime = time.Hour

var ErrExchangeRejected = errors.New("authorization code rejected by provider")

// Provider talks to the identity provider on behalf of this confidential client.
type Provider struct {
	oauth    *oauth2.Config
	verifier *oidc.IDTokenVerifier
	client   *http.Client
}

// New builds the provider client. With an OIDC issuer configured the endpoints come from
// discovery and id_tokens are verified against the issuer's keys; otherwise the Microsoft
// identity platform endpoints under the authority are used.
func New(ctx context.Context, cfg config.OAuthConfig, client *http.Client) (*Provider, error) {
	p := &Provider{
		oauth: &oauth2.Config{
			ClientID:     cfg.GetClientID(),
			ClientSecret: cfg.GetClientSecret(),
			RedirectURL:  cfg.GetRedirectURI(),
			Scopes:       cfg.GetScopes(),
		},
		client: client,
	}

	if issuer := cfg.GetOIDCIssuer(); issuer != "" {
		discovered, err := oidc.NewProvider(oidc.ClientContext(ctx, client), issuer)
		if err != nil {
			return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
		}
		p.oauth.Endpoint = discovered.Endpoint()
		p.verifier = discovered.Verifier(&oidc.Config{ClientID: cfg.GetClientID()})
		return p, nil
	}

	authority := cfg.GetAuthority()
	if authority == "" {
		return nil, errors.New("no authority or OIDC issuer configured")
	}
	p.oauth.Endpoint = oauth2.Endpoint{
		AuthURL:  authority + "/oauth2/v2.0/authorize",
		TokenURL: authority + "/oauth2/v2.0/token",
	}
	return p, nil
}

// AuthCodeURL is the authorization request the browser is sent to. state is passed through
// unchanged and loginHint, when set, pre-fills the account picker.
func (p *Provider) AuthCodeURL(state, loginHint, verifier string) string {
	var opts []oauth2.AuthCodeOption
	if verifier != "" {
		opts = append(opts, oauth2.S256ChallengeOption(verifier))
	}
	if loginHint != "" {
		opts = append(opts, oauth2.SetAuthURLParam("login_hint", loginHint))
	}
	return p.oauth.AuthCodeURL(state, opts...)
}

// Exchange redeems an authorization code for a credential bundle. verifier is the PKCE secret
// whose challenge went out with the authorization request.
func (p *Provider) Exchange(ctx context.Context, code, verifier string) (credentials.Bundle, error) {
	var opts []oauth2.AuthCodeOption
	if verifier != "" {
		opts = append(opts, oauth2.VerifierOption(verifier))
	}
	tok, err := p.oauth.Exchange(p.clientContext(ctx), code, opts...)
	if err != nil {
		return credentials.Bundle{}, tokenError("token exchange", err, ErrExchangeRejected)
	}
	return p.toBundle(ctx, tok)
}

// Refresh redeems a refresh token. A 4xx answer is reported as credentials.ErrGrantRejected.
func (p *Provider) Refresh(ctx context.Context, refreshToken string) (credentials.Bundle, error) {
	src := p.oauth.TokenSource(p.clientContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return credentials.Bundle{}, tokenError("token refresh", err, credentials.ErrGrantRejected)
	}
	return p.toBundle(ctx, tok)
}

func (p *Provider) clientContext(ctx context.Context) context.Context {
	if p.client == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, p.client)
}

func (p *Provider) toBundle(ctx context.Context, tok *oauth2.Token) (credentials.Bundle, error) {
	b := credentials.Bundle{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.Type(),
		ExpiresAt:    tok.Expiry.UTC(),
		Scopes:       slices.Clone(p.oauth.Scopes),
	}
	if tok.Expiry.IsZero() {
		b.ExpiresAt = NowTimeFunc().Add(defaultTokenLifetime).UTC()
	}
	if granted, ok := tok.Extra("scope").(string); ok && granted != "" {
		b.Scopes = strings.Fields(granted)
	}

	rawIDToken, _ := tok.Extra("id_token").(string)
	if rawIDToken == "" {
		return b.Normalized(), nil
	}
	b.IDToken = rawIDToken
	claims, err := p.idTokenClaims(ctx, rawIDToken)
	if err != nil {
		return credentials.Bundle{}, err
	}
	b.Claims = claims
	return b.Normalized(), nil
}

type idTokenClaims struct {
	Name              string `json:"name"`
	Email             string `json:"email"`
	PreferredUsername string `json:"preferred_username"`
	jwtlib.RegisteredClaims
}

func (c idTokenClaims) toClaims() credentials.Claims {
	email := c.Email
	if email == "" {
		email = c.PreferredUsername
	}
	return credentials.Claims{Subject: c.Subject, Name: c.Name, Email: email}
}

// idTokenClaims reads the identity claims. Without discovery there are no keys to check the
// signature against, so the token is trusted because it came straight from the token endpoint.
func (p *Provider) idTokenClaims(ctx context.Context, raw string) (credentials.Claims, error) {
	var claims idTokenClaims
	if p.verifier != nil {
		idToken, err := p.verifier.Verify(oidc.ClientContext(ctx, p.client), raw)
		if err != nil {
			return credentials.Claims{}, fmt.Errorf("ID token verification failed: %w", err)
		}
		if err := idToken.Claims(&claims); err != nil {
			return credentials.Claims{}, fmt.Errorf("failed to extract claims: %w", err)
		}
		return claims.toClaims(), nil
	}

	if _, _, err := jwtlib.NewParser().ParseUnverified(raw, &claims); err != nil {
		log.Warn().Err(err).Msg("unreadable id_token in token response")
		return credentials.Claims{}, nil
	}
	return claims.toClaims(), nil
}

// tokenError classifies a token endpoint failure. Provider responses are reduced to their status
// and OAuth error code so response bodies never reach callers.
func tokenError(op string, err error, rejectedErr error) error {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) || re.Response == nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	status := re.Response.StatusCode
	if status >= http.StatusBadRequest && status < http.StatusInternalServerError {
		return fmt.Errorf("%w: %d %s", rejectedErr, status, re.ErrorCode)
	}
	return fmt.Errorf("%s: provider answered %d %s", op, status, re.ErrorCode)
}
