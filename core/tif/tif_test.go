package tif

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHexRoundTrip(t *testing.T) {
	cases := []struct {
		bits Bits
		hex  string
	}{
		{0, "0"},
		{CurrentIDMatch, "1"},
		{PreviousIDMatch, "2"},
		{CurrentIDMatch | PreviousIDMatch, "3"},
		{IDDisabled, "8"},
		{CommandFailed | ClientFailure, "c0"},
		{CommandFailed | TransientError, "60"},
		{BadIDAssociation, "100"},
		{CurrentIDMatch | IDDisabled | CommandFailed, "49"},
	}

	for _, tc := range cases {
		require.Equal(t, tc.hex, tc.bits.Hex())

		parsed, err := ParseHex(tc.hex)
		require.NoError(t, err)
		require.Equal(t, tc.bits, parsed)
	}
}

func TestParseHexRejectsGarbage(t *testing.T) {
	_, err := ParseHex("zz")
	require.Error(t, err)

	_, err = ParseHex("")
	require.Error(t, err)
}

func TestHas(t *testing.T) {
	bits := CommandFailed | ClientFailure
	require.True(t, bits.Has(CommandFailed))
	require.True(t, bits.Has(CommandFailed|ClientFailure))
	require.False(t, bits.Has(TransientError))
	require.False(t, bits.Has(CommandFailed|TransientError))
}

func TestString(t *testing.T) {
	require.Equal(t, "0", Bits(0).String())
	require.Equal(t, "CurrentIDMatch", CurrentIDMatch.String())
	require.Equal(t, "CommandFailed|ClientFailure", (CommandFailed | ClientFailure).String())
}
