package signature

import (
	"crypto/ed25519"
	"encoding/hex"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessage(t *testing.T) {
	key := uuid.MustParse("6f9619ff-8b86-d011-b42d-00c04fc964ff")
	user := uuid.MustParse("0b6ac2a5-1b6c-4cd3-a53e-3d6a3c0c6e7b")

	assert.Equal(t,
		"6f9619ff-8b86-d011-b42d-00c04fc964ff0b6ac2a5-1b6c-4cd3-a53e-3d6a3c0c6e7b3",
		Message(key, user, 3))
}

func TestSignVerify_RoundTrip(t *testing.T) {
	pair, err := GenerateKeyPair()
	require.NoError(t, err)

	for _, count := range []int64{0, 1, 2, 250} {
		msg := Message(uuid.New(), uuid.New(), count)
		sig, err := Sign(msg, pair.SecretKey)
		require.NoError(t, err)
		assert.True(t, Verify(sig, msg, pair.PublicKey), "count %d", count)
	}
}

func TestSign_Deterministic(t *testing.T) {
	pair, err := GenerateKeyPair()
	require.NoError(t, err)

	msg := Message(uuid.New(), uuid.New(), 1)
	first, err := Sign(msg, pair.SecretKey)
	require.NoError(t, err)
	second, err := Sign(msg, pair.SecretKey)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestSign_AnyFieldChangeInvalidates(t *testing.T) {
	pair, err := GenerateKeyPair()
	require.NoError(t, err)

	key, user := uuid.New(), uuid.New()
	original := Message(key, user, 2)
	sig, err := Sign(original, pair.SecretKey)
	require.NoError(t, err)

	variants := map[string]string{
		"transfer_key":   Message(uuid.New(), user, 2),
		"source_user_id": Message(key, uuid.New(), 2),
		"ticket_count":   Message(key, user, 3),
	}
	for field, msg := range variants {
		t.Run(field, func(t *testing.T) {
			other, err := Sign(msg, pair.SecretKey)
			require.NoError(t, err)
			assert.NotEqual(t, sig, other)
			assert.False(t, Verify(sig, msg, pair.PublicKey))
		})
	}
}

func TestSign_SeedForm(t *testing.T) {
	seed := make([]byte, ed25519.SeedSize)
	for i := range seed {
		seed[i] = byte(i)
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)

	fromSeed, err := Sign("hello", hex.EncodeToString(seed))
	require.NoError(t, err)
	fromFull, err := Sign("hello", hex.EncodeToString(priv))
	require.NoError(t, err)

	assert.Equal(t, fromFull, fromSeed)
	assert.True(t, Verify(fromSeed, "hello", hex.EncodeToString(pub)))
}

func TestVerify_WrongKey(t *testing.T) {
	a, err := GenerateKeyPair()
	require.NoError(t, err)
	b, err := GenerateKeyPair()
	require.NoError(t, err)

	sig, err := Sign("msg", a.SecretKey)
	require.NoError(t, err)
	assert.False(t, Verify(sig, "msg", b.PublicKey))
}

func TestInvalidInput(t *testing.T) {
	_, err := Sign("msg", "zz")
	assert.ErrorIs(t, err, ErrInvalidKey)

	_, err = Sign("msg", "abcd")
	assert.ErrorIs(t, err, ErrInvalidKey)

	pair, err := GenerateKeyPair()
	require.NoError(t, err)
	assert.False(t, Verify("not-hex", "msg", pair.PublicKey))
	assert.False(t, Verify("abcd", "msg", pair.PublicKey))
	assert.False(t, Verify("abcd", "msg", "nothex"))
}
