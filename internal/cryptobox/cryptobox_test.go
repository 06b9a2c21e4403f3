package cryptobox

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealOpenRoundTrip(t *testing.T) {
	box := New("test-secret")

	cases := []string{
		"",
		"plain text",
		`{"nested":"json"}`,
		"유니코드 문자열",
		"emoji 🎬 and spaces",
	}
	for _, in := range cases {
		sealed, err := box.Seal(in)
		require.NoError(t, err)

		var out string
		require.NoError(t, box.Open(sealed, &out))
		assert.Equal(t, in, out)
	}
}

func TestSealOpenStructPayload(t *testing.T) {
	box := New("test-secret")

	type payload struct {
		URLs map[string]int64 `json:"urls"`
	}
	in := payload{URLs: map[string]int64{"a.png": 123, "b.png": 456}}

	sealed, err := box.Seal(in)
	require.NoError(t, err)

	var out payload
	require.NoError(t, box.Open(sealed, &out))
	assert.Equal(t, in, out)
}

func TestOpenSameDayDifferentInstant(t *testing.T) {
	day := time.Date(2025, 6, 1, 0, 30, 0, 0, time.UTC)
	morning := NewAt("secret", func() time.Time { return day })
	evening := NewAt("secret", func() time.Time { return day.Add(22 * time.Hour) })

	sealed, err := morning.Seal("hello")
	require.NoError(t, err)

	var out string
	require.NoError(t, evening.Open(sealed, &out))
	assert.Equal(t, "hello", out)
}

func TestOpenFailsAfterKeyRotation(t *testing.T) {
	day := time.Date(2025, 6, 1, 23, 0, 0, 0, time.UTC)
	today := NewAt("secret", func() time.Time { return day })
	tomorrow := NewAt("secret", func() time.Time { return day.Add(2 * time.Hour) })

	sealed, err := today.Seal("hello")
	require.NoError(t, err)

	var out string
	err = tomorrow.Open(sealed, &out)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDecryptFailure))
}

func TestOpenMalformedInput(t *testing.T) {
	box := New("secret")

	var out string
	for _, in := range []string{"", "not base64 !!!", "aGVsbG8=", "AAAA"} {
		err := box.Open(in, &out)
		require.Error(t, err, "input %q", in)
		assert.True(t, errors.Is(err, ErrDecryptFailure), "input %q", in)
	}
}

func TestOpenWrongSecret(t *testing.T) {
	sealed, err := New("secret-a").Seal("hello")
	require.NoError(t, err)

	var out string
	err = New("secret-b").Open(sealed, &out)
	assert.True(t, errors.Is(err, ErrDecryptFailure))
}

func TestUnknownEnvelopeVersion(t *testing.T) {
	box := New("secret")
	sealed, err := box.Seal("hello")
	require.NoError(t, err)

	// Rewrite the leading base64 chars so the version byte decodes to 2.
	var out string
	err = box.Open("Av"+sealed[2:], &out)
	assert.True(t, errors.Is(err, ErrDecryptFailure))
}
