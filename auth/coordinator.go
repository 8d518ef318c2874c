package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"

	"github.com/jrsteele09/transcript-summary/credentials"
	"github.com/jrsteele09/transcript-summary/returnctx"
	"github.com/jrsteele09/transcript-summary/sessions"
)

const (
	stateLength    = 32
	defaultFlowTTL = 15 * time.Minute
)

// Provider is the part of the identity provider the login flow needs.
type Provider interface {
	AuthCodeURL(state, loginHint, verifier string) string
	Exchange(ctx context.Context, code, verifier string) (credentials.Bundle, error)
}

// IdentityFetcher looks up who the access token belongs to.
type IdentityFetcher interface {
	Identity(ctx context.Context, accessToken string) (sessions.Identity, error)
}

// Coordinator runs the delegated sign-in flow: Start sends the browser to the provider and
// Complete handles the provider's redirect back.
type Coordinator struct {
	store    sessions.Store
	provider Provider
	encoder  *returnctx.Encoder
	codec    credentials.Codec
	identity IdentityFetcher
	maxAge   time.Duration
	flowTTL  time.Duration
	nowTime  func() time.Time
}

// Option configures optional Coordinator settings.
type Option func(*Coordinator)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) Option {
	return func(c *Coordinator) {
		c.nowTime = nowFunc
	}
}

// WithIdentityFetcher sets where the signed-in user's profile comes from. Without one the
// id_token claims are used.
func WithIdentityFetcher(f IdentityFetcher) Option {
	return func(c *Coordinator) {
		c.identity = f
	}
}

// WithSessionMaxAge sets the server-side lifetime of sessions created by Start.
func WithSessionMaxAge(d time.Duration) Option {
	return func(c *Coordinator) {
		c.maxAge = d
	}
}

// WithFlowTTL bounds how long a started sign-in may take before its state is refused.
func WithFlowTTL(d time.Duration) Option {
	return func(c *Coordinator) {
		c.flowTTL = d
	}
}

func NewCoordinator(store sessions.Store, provider Provider, encoder *returnctx.Encoder, codec credentials.Codec, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:    store,
		provider: provider,
		encoder:  encoder,
		codec:    codec,
		flowTTL:  defaultFlowTTL,
		nowTime:  time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StartRequest is what the user asked for before being sent to sign in. All fields are untrusted.
type StartRequest struct {
	Kind       string
	ResourceID string
	UserHint   string
}

// Start records a fresh CSRF state and the pending action in the session, then returns the
// provider URL to redirect to. Nothing is written when the request is invalid.
func (c *Coordinator) Start(ctx context.Context, sessionID string, req StartRequest) (string, error) {
	action, err := returnctx.NewAction(req.Kind, req.ResourceID)
	if err != nil {
		return "", err
	}
	if err := returnctx.ValidateUserHint(req.UserHint); err != nil {
		return "", err
	}

	state, err := newState()
	if err != nil {
		return "", err
	}
	verifier := oauth2.GenerateVerifier()
	backup, err := c.encoder.Encode(returnctx.Context{CorrelationID: state, Action: action, UserHint: req.UserHint})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidAction, err)
	}

	_, err = sessions.Update(ctx, c.store, sessionID, true, c.maxAge, func(rec *sessions.Record) error {
		rec.CSRFState = state
		rec.CodeVerifier = verifier
		rec.StateIssuedAt = c.nowTime()
		rec.Pending = returnctx.ToPending(action, req.UserHint)
		rec.ReturnContext = backup
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("[auth Start] %w", err)
	}

	log.Debug().Str("kind", req.Kind).Msg("authorization flow started")
	return c.provider.AuthCodeURL(state, req.UserHint, verifier), nil
}

// Logout removes the session record and everything in it.
func (c *Coordinator) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	if err := c.store.Delete(ctx, sessionID); err != nil && !errors.Is(err, sessions.ErrNotFound) {
		return fmt.Errorf("[auth Logout] %w", err)
	}
	return nil
}

func newState() (string, error) {
	b := make([]byte, stateLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
