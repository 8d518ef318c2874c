package keys_test

import (
	"strings"
	"testing"

	"github.com/jrsteele09/transcript-summary/internal/keys"
	"github.com/stretchr/testify/require"
)

func TestDerive(t *testing.T) {
	_, err := keys.NewDeriver("short")
	require.ErrorIs(t, err, keys.ErrSecretTooShort)

	d, err := keys.NewDeriver(strings.Repeat("s", 32))
	require.NoError(t, err)

	a, err := d.Derive(keys.PurposeReturnContext, 32)
	require.NoError(t, err)
	again, err := d.Derive(keys.PurposeReturnContext, 32)
	require.NoError(t, err)
	b, err := d.Derive(keys.PurposeCredentialBox, 32)
	require.NoError(t, err)

	require.Len(t, a, 32)
	require.Equal(t, a, again)
	require.NotEqual(t, a, b)
}
