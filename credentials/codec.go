package credentials

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"
)

// Codec turns a Bundle into the string stored in a session record and back.
// Decode(Encode(b)) must equal b for every normalized b. Only Bundle{} encodes to "", and
// Decode("") returns Bundle{}.
type Codec interface {
	Encode(b Bundle) (string, error)
	Decode(s string) (Bundle, error)
}

const jsonCodecVersion = 1

type envelope struct {
	Version int    `json:"v"`
	Bundle  Bundle `json:"b"`
}

// JSONCodec stores bundles as versioned JSON.
type JSONCodec struct{}

func (JSONCodec) Encode(b Bundle) (string, error) {
	if b.isEmpty() {
		return "", nil
	}
	data, err := json.Marshal(envelope{Version: jsonCodecVersion, Bundle: b})
	if err != nil {
		return "", fmt.Errorf("encode credentials: %w", err)
	}
	return string(data), nil
}

func (JSONCodec) Decode(s string) (Bundle, error) {
	if s == "" {
		return Bundle{}, nil
	}
	var env envelope
	if err := json.Unmarshal([]byte(s), &env); err != nil {
		return Bundle{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Version != jsonCodecVersion {
		return Bundle{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, env.Version)
	}
	return env.Bundle, nil
}

const nonceSize = 24

// SealedCodec encrypts the output of another codec with NaCl secretbox so that tokens
// are never readable in the session backend.
type SealedCodec struct {
	inner Codec
	key   [32]byte
}

func NewSealedCodec(inner Codec, key []byte) (*SealedCodec, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("sealed codec key must be 32 bytes, got %d", len(key))
	}
	c := &SealedCodec{inner: inner}
	copy(c.key[:], key)
	return c, nil
}

func (c *SealedCodec) Encode(b Bundle) (string, error) {
	plain, err := c.inner.Encode(b)
	if err != nil || plain == "" {
		return plain, err
	}
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("seal credentials: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], []byte(plain), &nonce, &c.key)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

func (c *SealedCodec) Decode(s string) (Bundle, error) {
	if s == "" {
		return Bundle{}, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil || len(raw) < nonceSize+secretbox.Overhead {
		return Bundle{}, ErrMalformed
	}
	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])
	plain, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, &c.key)
	if !ok {
		return Bundle{}, fmt.Errorf("%w: seal check failed", ErrMalformed)
	}
	return c.inner.Decode(string(plain))
}
