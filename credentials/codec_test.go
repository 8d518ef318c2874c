package credentials_test

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/transcript-summary/credentials"
)

var textRunes = []rune("abcXYZ019 |=&;.%/_-\"\\ëÅö山田太郎会議😀\u00a0")

func randomText(r *rand.Rand, maxLen int) string {
	n := r.IntN(maxLen + 1)
	out := make([]rune, n)
	for i := range out {
		out[i] = textRunes[r.IntN(len(textRunes))]
	}
	return string(out)
}

// randomBundle generates normalized bundles. Tokens, claims and scopes are each empty often
// enough that token-less and claim-less shapes are covered.
func randomBundle(r *rand.Rand) credentials.Bundle {
	b := credentials.Bundle{
		AccessToken:  randomText(r, 40),
		RefreshToken: randomText(r, 40),
		TokenType:    randomText(r, 8),
		IDToken:      randomText(r, 60),
		Claims: credentials.Claims{
			Subject: randomText(r, 6),
			Name:    randomText(r, 12),
			Email:   randomText(r, 12),
		},
		Generation: r.Uint64N(1 << 40),
	}
	if r.IntN(4) > 0 {
		b.ExpiresAt = time.Unix(r.Int64N(4_000_000_000), r.Int64N(1_000_000_000)).UTC()
	}
	switch r.IntN(3) {
	case 0:
		b.Scopes = nil
	default:
		for range r.IntN(4) + 1 {
			b.Scopes = append(b.Scopes, randomText(r, 16))
		}
	}
	return b
}

func generatedBundles(t *testing.T, n int) []credentials.Bundle {
	t.Helper()
	r := rand.New(rand.NewPCG(20260301, 42))
	out := []credentials.Bundle{
		{Generation: 3, Scopes: []string{"User.Read"}, Claims: credentials.Claims{Name: "Zoë"},
			ExpiresAt: time.Date(2026, 3, 1, 9, 30, 15, 123456789, time.UTC)},
		{RefreshToken: "only-refresh"},
		{Generation: 1},
	}
	for range n {
		out = append(out, randomBundle(r))
	}
	return out
}

func TestJSONCodec_RoundTrip(t *testing.T) {
	codec := credentials.JSONCodec{}
	for i, b := range generatedBundles(t, 500) {
		encoded, err := codec.Encode(b)
		require.NoError(t, err)
		assert.NotEmpty(t, encoded, "bundle %d", i)
		decoded, err := codec.Decode(encoded)
		require.NoError(t, err)
		require.Equal(t, b, decoded, "bundle %d", i)
	}
}

func TestJSONCodec_EmptyIsZero(t *testing.T) {
	codec := credentials.JSONCodec{}
	b, err := codec.Decode("")
	require.NoError(t, err)
	assert.Equal(t, credentials.Bundle{}, b)

	encoded, err := codec.Encode(credentials.Bundle{})
	require.NoError(t, err)
	assert.Empty(t, encoded)
}

func TestBundle_Normalized(t *testing.T) {
	zone := time.FixedZone("AEST", 10*60*60)
	local := time.Date(2026, 3, 1, 19, 30, 0, 5, zone)

	b := credentials.Bundle{AccessToken: "at", ExpiresAt: local, Scopes: []string{}}.Normalized()
	assert.Equal(t, time.UTC, b.ExpiresAt.Location())
	assert.True(t, b.ExpiresAt.Equal(local))
	assert.Nil(t, b.Scopes)

	encoded, err := credentials.JSONCodec{}.Encode(b)
	require.NoError(t, err)
	decoded, err := credentials.JSONCodec{}.Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, b, decoded)

	// An empty but non-nil scope list still survives exactly.
	withEmpty := credentials.Bundle{AccessToken: "at", Scopes: []string{}}
	encoded, err = credentials.JSONCodec{}.Encode(withEmpty)
	require.NoError(t, err)
	decoded, err = credentials.JSONCodec{}.Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, withEmpty, decoded)
}

func TestJSONCodec_RejectsUnknownVersion(t *testing.T) {
	_, err := credentials.JSONCodec{}.Decode(`{"v":9,"b":{"access_token":"x"}}`)
	require.ErrorIs(t, err, credentials.ErrUnsupportedVersion)

	_, err = credentials.JSONCodec{}.Decode(`not json`)
	require.ErrorIs(t, err, credentials.ErrMalformed)
}

func TestSealedCodec_RoundTripAndTamper(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	codec, err := credentials.NewSealedCodec(credentials.JSONCodec{}, key)
	require.NoError(t, err)

	bundles := generatedBundles(t, 100)
	for i, b := range bundles {
		encoded, err := codec.Encode(b)
		require.NoError(t, err)
		if len(b.AccessToken) > 8 {
			assert.NotContains(t, encoded, b.AccessToken)
		}
		decoded, err := codec.Decode(encoded)
		require.NoError(t, err)
		require.Equal(t, b, decoded, "bundle %d", i)
	}

	encoded, err := codec.Encode(bundles[0])
	require.NoError(t, err)
	tampered := []byte(encoded)
	mid := len(tampered) / 2
	if tampered[mid] == 'A' {
		tampered[mid] = 'B'
	} else {
		tampered[mid] = 'A'
	}
	_, err = codec.Decode(string(tampered))
	require.ErrorIs(t, err, credentials.ErrMalformed)

	empty, err := codec.Decode("")
	require.NoError(t, err)
	assert.True(t, empty.IsZero())
}

func TestNewSealedCodec_KeyLength(t *testing.T) {
	_, err := credentials.NewSealedCodec(credentials.JSONCodec{}, []byte("short"))
	require.Error(t, err)
}

func TestBundle_ValidAtBoundary(t *testing.T) {
	expires := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	b := credentials.Bundle{AccessToken: "at", ExpiresAt: expires}

	assert.True(t, b.ValidAt(expires.Add(-time.Nanosecond), 0))
	assert.False(t, b.ValidAt(expires, 0))
	assert.False(t, b.ValidAt(expires.Add(-time.Minute), 2*time.Minute))
	assert.False(t, credentials.Bundle{AccessToken: "at"}.ValidAt(expires, 0))
}

func TestBundle_RenewKeepsScopesAndRefreshToken(t *testing.T) {
	old := credentials.Bundle{
		AccessToken:  "old",
		RefreshToken: "rt-old",
		TokenType:    "Bearer",
		Scopes:       []string{"User.Read", "Chat.ReadWrite"},
		Claims:       credentials.Claims{Name: "Ada"},
		Generation:   3,
	}
	next := old.Renew(credentials.Bundle{AccessToken: "new", Scopes: []string{"User.Read"}})

	assert.Equal(t, "new", next.AccessToken)
	assert.Equal(t, "rt-old", next.RefreshToken)
	assert.Equal(t, "Bearer", next.TokenType)
	assert.Equal(t, []string{"User.Read", "Chat.ReadWrite"}, next.Scopes)
	assert.Equal(t, "Ada", next.Claims.Name)
	assert.Equal(t, uint64(4), next.Generation)
}
