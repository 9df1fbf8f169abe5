package envelope

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/arguslabs/argus-store/pkg/contentid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func newTestGateway(t *testing.T) *Gateway {
	t.Helper()
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("rand: %v", err)
	}
	g, err := NewGateway(key, nil)
	require.NoError(t, err)
	return g
}

func TestNewGateway_KeyLength(t *testing.T) {
	for _, n := range []int{0, 16, 31, 33, 64} {
		_, err := NewGateway(make([]byte, n), nil)
		assert.Error(t, err, "key length %d accepted", n)
	}
}

func TestWrapUnwrap_RoundTrip(t *testing.T) {
	gateway := newTestGateway(t)
	plaintext := []byte("user ciphertext crossing into the network")
	cid := contentid.Identify(plaintext)

	env, err := gateway.Wrap(plaintext, cid)
	require.NoError(t, err)

	assert.Equal(t, "xchacha20poly1305", env.Payload.Cipher)
	assert.True(t, env.Payload.Compressed)
	assert.NotContains(t, string(env.Ciphertext), string(plaintext))

	got, err := gateway.Unwrap(env, cid)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestWrap_NonDeterministic(t *testing.T) {
	gateway := newTestGateway(t)
	plaintext := []byte("same bytes, two envelopes")
	cid := contentid.Identify(plaintext)

	a, err := gateway.Wrap(plaintext, cid)
	require.NoError(t, err)
	b, err := gateway.Wrap(plaintext, cid)
	require.NoError(t, err)

	assert.False(t, bytes.Equal(a.Ciphertext, b.Ciphertext), "ciphertexts should differ")
	assert.False(t, bytes.Equal(a.Payload.Nonce, b.Payload.Nonce), "nonces should differ")
	assert.False(t, bytes.Equal(a.Payload.Salt, b.Payload.Salt), "salts should differ")
}

func TestUnwrap_WrongContentID(t *testing.T) {
	gateway := newTestGateway(t)
	plaintext := []byte("bound to one item")
	cid := contentid.Identify(plaintext)

	env, err := gateway.Wrap(plaintext, cid)
	require.NoError(t, err)

	// The envelope for one item can never satisfy a request for another.
	other := contentid.Identify([]byte("a different item"))
	_, err = gateway.Unwrap(env, other)
	assert.ErrorIs(t, err, ErrDecryption)
}

func TestUnwrap_WrongMasterKey(t *testing.T) {
	plaintext := []byte("sealed under one master key")
	cid := contentid.Identify(plaintext)

	env, err := newTestGateway(t).Wrap(plaintext, cid)
	require.NoError(t, err)

	_, err = newTestGateway(t).Unwrap(env, cid)
	assert.ErrorIs(t, err, ErrDecryption)
}

func TestUnwrap_TamperedCiphertext(t *testing.T) {
	gateway := newTestGateway(t)
	plaintext := []byte("integrity protected")
	cid := contentid.Identify(plaintext)

	env, err := gateway.Wrap(plaintext, cid)
	require.NoError(t, err)

	env.Ciphertext[0] ^= 1
	_, err = gateway.Unwrap(env, cid)
	assert.ErrorIs(t, err, ErrDecryption)
}

func TestUnwrap_BadDescriptor(t *testing.T) {
	gateway := newTestGateway(t)
	plaintext := []byte("descriptor checks")
	cid := contentid.Identify(plaintext)

	env, err := gateway.Wrap(plaintext, cid)
	require.NoError(t, err)

	t.Run("unknown cipher", func(t *testing.T) {
		bad := env
		bad.Payload.Cipher = "rot13"
		_, err := gateway.Unwrap(bad, cid)
		assert.ErrorIs(t, err, ErrDecryption)
	})

	t.Run("bad nonce length", func(t *testing.T) {
		bad := env
		bad.Payload.Nonce = []byte("short")
		_, err := gateway.Unwrap(bad, cid)
		assert.ErrorIs(t, err, ErrDecryption)
	})
}

func TestPayload_MarshalRoundTrip(t *testing.T) {
	gateway := newTestGateway(t)
	plaintext := []byte("persisted descriptor")
	cid := contentid.Identify(plaintext)

	env, err := gateway.Wrap(plaintext, cid)
	require.NoError(t, err)

	raw, err := env.Payload.Marshal()
	require.NoError(t, err)
	payload, err := UnmarshalPayload(raw)
	require.NoError(t, err)

	// Unwrapping through the persisted descriptor still works.
	got, err := gateway.Unwrap(Envelope{Ciphertext: env.Ciphertext, Payload: payload}, cid)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestUnmarshalPayload_Invalid(t *testing.T) {
	_, err := UnmarshalPayload([]byte("{not json"))
	assert.Error(t, err)
}

func TestWrapUnwrap_Property_RoundTrip(t *testing.T) {
	gateway := newTestGateway(t)

	rapid.Check(t, func(t *rapid.T) {
		plaintext := rapid.SliceOfN(rapid.Byte(), 1, 16384).Draw(t, "plaintext")
		cid := contentid.Identify(plaintext)

		env, err := gateway.Wrap(plaintext, cid)
		if err != nil {
			t.Fatalf("Wrap failed: %v", err)
		}
		got, err := gateway.Unwrap(env, cid)
		if err != nil {
			t.Fatalf("Unwrap failed: %v", err)
		}
		if !bytes.Equal(got, plaintext) {
			t.Fatal("plaintext mismatch after round trip")
		}
	})
}
