package returnctx

import (
	"errors"
	"fmt"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

const tokenVersion = 1

var (
	ErrInvalidToken       = errors.New("invalid return-context token")
	ErrUnsupportedVersion = errors.New("unsupported return-context token version")
)

// Context is the resume information carried by a return-context token.
type Context struct {
	// CorrelationID ties the token to the CSRF state of the flow that issued it.
	CorrelationID string
	Action        Action
	UserHint      string
}

type tokenClaims struct {
	Version       int    `json:"v"`
	CorrelationID string `json:"cid"`
	Kind          string `json:"k,omitempty"`
	ResourceID    string `json:"rid,omitempty"`
	UserHint      string `json:"uh,omitempty"`
	jwtlib.RegisteredClaims
}

// Encoder produces compact, URL-safe, HMAC-signed tokens. The tokens are not encrypted and
// must never carry credentials.
type Encoder struct {
	key []byte
	ttl time.Duration
}

func NewEncoder(key []byte, ttl time.Duration) *Encoder {
	return &Encoder{key: key, ttl: ttl}
}

func (e *Encoder) Encode(c Context) (string, error) {
	if c.CorrelationID == "" {
		return "", fmt.Errorf("%w: missing correlation id", ErrInvalidToken)
	}
	now := NowTimeFunc()
	claims := tokenClaims{
		Version:       tokenVersion,
		CorrelationID: c.CorrelationID,
		UserHint:      c.UserHint,
		RegisteredClaims: jwtlib.RegisteredClaims{
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(now.Add(e.ttl)),
		},
	}
	if c.Action != nil {
		claims.Kind = string(c.Action.Kind())
		claims.ResourceID = c.Action.ResourceID()
	}

	signed, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(e.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign return-context token: %w", err)
	}
	return signed, nil
}

// Decode verifies the signature, expiry and version of a token and rebuilds its Context.
// The caller still has to compare CorrelationID with the validated CSRF state.
func (e *Encoder) Decode(token string) (Context, error) {
	var claims tokenClaims
	_, err := jwtlib.ParseWithClaims(token, &claims, func(*jwtlib.Token) (interface{}, error) {
		return e.key, nil
	},
		jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()}),
		jwtlib.WithExpirationRequired(),
		jwtlib.WithTimeFunc(NowTimeFunc),
	)
	if err != nil {
		return Context{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Version != tokenVersion {
		return Context{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, claims.Version)
	}
	if claims.CorrelationID == "" {
		return Context{}, fmt.Errorf("%w: missing correlation id", ErrInvalidToken)
	}
	if err := ValidateUserHint(claims.UserHint); err != nil {
		return Context{}, err
	}

	action, err := NewAction(claims.Kind, claims.ResourceID)
	if err != nil {
		return Context{}, err
	}
	return Context{CorrelationID: claims.CorrelationID, Action: action, UserHint: claims.UserHint}, nil
}
