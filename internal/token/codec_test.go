package token

import (
	"encoding/base64"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	codec, err := NewCodec("unit-test-secret")
	require.NoError(t, err)

	claims := Claims{
		SubscriberID: uuid.New(),
		CampaignID:   uuid.New(),
		RedirectURL:  "https://example.com/offer?id=42",
	}

	tok, err := codec.Encode(claims)
	require.NoError(t, err)

	got, err := codec.Decode(tok)
	require.NoError(t, err)
	assert.Equal(t, claims, *got)
}

func TestRoundTripNoRedirect(t *testing.T) {
	codec, _ := NewCodec("unit-test-secret")

	claims := Claims{SubscriberID: uuid.New(), CampaignID: uuid.New()}
	tok, err := codec.Encode(claims)
	require.NoError(t, err)

	got, err := codec.Decode(tok)
	require.NoError(t, err)
	assert.Equal(t, claims, *got)
}

func TestTamperedTokenFails(t *testing.T) {
	codec, _ := NewCodec("unit-test-secret")

	tok, err := codec.Encode(Claims{SubscriberID: uuid.New(), CampaignID: uuid.New()})
	require.NoError(t, err)

	blob, err := base64.RawURLEncoding.DecodeString(tok)
	require.NoError(t, err)

	// Flip a single byte at every position; all variants must fail the same way.
	for i := range blob {
		mutated := make([]byte, len(blob))
		copy(mutated, blob)
		mutated[i] ^= 0x01
		bad := base64.RawURLEncoding.EncodeToString(mutated)

		_, err := codec.Decode(bad)
		assert.ErrorIs(t, err, ErrInvalidToken, "byte %d", i)
	}
}

func TestMalformedTokensFail(t *testing.T) {
	codec, _ := NewCodec("unit-test-secret")

	cases := []string{
		"",
		"not-base64!!!",
		base64.RawURLEncoding.EncodeToString([]byte("short")),
		base64.RawURLEncoding.EncodeToString(make([]byte, sigLen)), // sig only, no payload
	}
	for _, tok := range cases {
		_, err := codec.Decode(tok)
		assert.ErrorIs(t, err, ErrInvalidToken, "token %q", tok)
	}
}

func TestWrongSecretFails(t *testing.T) {
	a, _ := NewCodec("secret-a")
	b, _ := NewCodec("secret-b")

	tok, err := a.Encode(Claims{SubscriberID: uuid.New(), CampaignID: uuid.New()})
	require.NoError(t, err)

	_, err = b.Decode(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestEmptySecretRejected(t *testing.T) {
	_, err := NewCodec("")
	assert.Error(t, err)
}
