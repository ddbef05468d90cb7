package negotiate

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	cases := [][]byte{
		{},
		{0x00},
		{0x00, 0x00, 0x00, 0x00},
		[]byte("NTLMSSP\x00\x01\x00\x00\x00"),
		{0xff, 0x00, 0xfe, 0x01, 0x00, 0x7f},
		[]byte(strings.Repeat("\x00binary\xff", 1000)),
	}
	for _, raw := range cases {
		got, err := DecodeToken(EncodeToken(raw))
		require.NoError(t, err)
		assert.Equal(t, raw, got)
	}
}

func TestEncodeToken_SingleLine(t *testing.T) {
	// The transport contract is one token per line; the encoding itself must
	// never introduce breaks, whatever the token size.
	big := make([]byte, 64*1024)
	text := EncodeToken(big)
	assert.NotContains(t, text, "\n")
	assert.NotContains(t, text, "\r")
}

func TestDecodeToken_Malformed(t *testing.T) {
	cases := []string{
		"not-valid-encoding!!",
		"%%%",
		"AAA\nAAA",
		"Ab==C",
		"xx", // truncated group
	}
	for _, text := range cases {
		_, err := DecodeToken(text)
		require.Error(t, err, "input %q", text)

		var derr *DecodeError
		require.True(t, errors.As(err, &derr), "input %q: error %v is not a *DecodeError", text, err)
		assert.NotNil(t, derr.Unwrap())
	}
}

func TestDecodeToken_Empty(t *testing.T) {
	raw, err := DecodeToken("")
	require.NoError(t, err)
	assert.Empty(t, raw)
}
