package sessions

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"
)

// Record is the server-side state for one browser session. The browser only holds the ID.
type Record struct {
	ID      string `json:"id"`
	Version int64  `json:"version"` // incremented by every successful Save

	// Login flow, valid between flow start and the matching callback
	CSRFState     string         `json:"csrf_state,omitempty"`
	CodeVerifier  string         `json:"code_verifier,omitempty"` // PKCE secret for this flow
	StateIssuedAt time.Time      `json:"state_issued_at,omitempty"`
	Pending       *PendingAction `json:"pending,omitempty"`
	ReturnContext string         `json:"return_context,omitempty"` // encoded backup of Pending

	// After login
	Credentials string    `json:"credentials,omitempty"` // codec-encoded credential bundle
	Identity    *Identity `json:"identity,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// PendingAction is the storage form of what the user was doing before login was required.
type PendingAction struct {
	Kind       string `json:"kind"`
	ResourceID string `json:"resource_id,omitempty"`
	UserHint   string `json:"user_hint,omitempty"`
}

type Identity struct {
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
}

// ClearFlow drops every login-flow field so neither the state nor the action can be used twice.
func (r *Record) ClearFlow() {
	r.CSRFState = ""
	r.CodeVerifier = ""
	r.StateIssuedAt = time.Time{}
	r.Pending = nil
	r.ReturnContext = ""
}

// ClearCredentials removes the credential bundle and everything derived from it.
func (r *Record) ClearCredentials() {
	r.Credentials = ""
	r.Identity = nil
}

func (r *Record) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

func (r *Record) clone() *Record {
	c := *r
	if r.Pending != nil {
		p := *r.Pending
		c.Pending = &p
	}
	if r.Identity != nil {
		i := *r.Identity
		c.Identity = &i
	}
	return &c
}

const sessionIDLength = 32

// NewID returns an unguessable, URL-safe session identifier (256 bits).
func NewID() (string, error) {
	b := make([]byte, sessionIDLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate session id: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
