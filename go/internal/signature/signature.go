// Package signature signs and verifies transfer authorizations with a
// wallet's ed25519 key pair. Keys and signatures are hex encoded.
package signature

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

var ErrInvalidKey = errors.New("invalid signing key")

// KeyPair is a freshly generated wallet key pair.
type KeyPair struct {
	PublicKey string
	SecretKey string
}

// GenerateKeyPair returns a new hex encoded ed25519 key pair.
func GenerateKeyPair() (KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return KeyPair{}, fmt.Errorf("generate key pair: %w", err)
	}
	return KeyPair{
		PublicKey: hex.EncodeToString(pub),
		SecretKey: hex.EncodeToString(priv),
	}, nil
}

// Message is the exact text signed for a transfer: key, sender, then ticket count.
func Message(transferKey, sourceUserID uuid.UUID, ticketCount int64) string {
	return transferKey.String() + sourceUserID.String() + strconv.FormatInt(ticketCount, 10)
}

// Sign signs message with a hex encoded secret key. Both the 64 byte private
// key and the 32 byte seed forms are accepted.
func Sign(message, secretKeyHex string) (string, error) {
	raw, err := hex.DecodeString(secretKeyHex)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}

	var priv ed25519.PrivateKey
	switch len(raw) {
	case ed25519.PrivateKeySize:
		priv = ed25519.PrivateKey(raw)
	case ed25519.SeedSize:
		priv = ed25519.NewKeyFromSeed(raw)
	default:
		return "", fmt.Errorf("%w: secret key has %d bytes", ErrInvalidKey, len(raw))
	}

	return hex.EncodeToString(ed25519.Sign(priv, []byte(message))), nil
}

// Verify reports whether signatureHex is a valid signature of message for publicKeyHex.
// Malformed input is reported as an invalid signature.
func Verify(signatureHex, message, publicKeyHex string) bool {
	pub, err := hex.DecodeString(publicKeyHex)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false
	}
	sig, err := hex.DecodeString(signatureHex)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), []byte(message), sig)
}
