// Package keys derives independent sub-keys from the single application secret.
package keys

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const minSecretLength = 32

// Purposes. Each yields an unrelated key so a leak of one does not expose the others.
const (
	PurposeCookieHash    = "session-cookie-hash"
	PurposeCookieBlock   = "session-cookie-block"
	PurposeReturnContext = "return-context-hmac"
	PurposeCredentialBox = "credential-secretbox"
)

var ErrSecretTooShort = fmt.Errorf("application secret must be at least %d bytes", minSecretLength)

type Deriver struct {
	secret []byte
}

func NewDeriver(secret string) (*Deriver, error) {
	if len(secret) < minSecretLength {
		return nil, ErrSecretTooShort
	}
	return &Deriver{secret: []byte(secret)}, nil
}

// Derive returns length bytes of key material for purpose.
func (d *Deriver) Derive(purpose string, length int) ([]byte, error) {
	if purpose == "" {
		return nil, errors.New("purpose is required")
	}
	key := make([]byte, length)
	r := hkdf.New(sha256.New, d.secret, nil, []byte(purpose))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("[keys Derive] %w", err)
	}
	return key, nil
}

// MustDerive panics on failure; only used during startup wiring.
func (d *Deriver) MustDerive(purpose string, length int) []byte {
	key, err := d.Derive(purpose, length)
	if err != nil {
		panic(err)
	}
	return key
}
