package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	ic "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	"golang.org/x/crypto/sha3"

	"github.com/opd-ai/punchchat/logging"
)

// SecretSize is the number of random bytes in a generated secret.
const SecretSize = 32

// ErrEmptySecret is returned when an identity is requested for an empty secret.
var ErrEmptySecret = errors.New("secret cannot be empty")

// Identity is an ed25519 keypair together with the peer id derived from it.
type Identity struct {
	PrivKey ic.PrivKey
	PubKey  ic.PubKey
	ID      peer.ID
}

// DeriveIdentity deterministically derives an identity from a user secret.
// The secret is hashed with legacy Keccak-256 and the digest is used as the
// ed25519 seed, so equal secrets always yield equal peer ids.
func DeriveIdentity(secret string) (*Identity, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}

	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(secret))
	seed := h.Sum(nil)
	defer ZeroBytes(seed)

	id, err := IdentityFromSeed(seed)
	if err != nil {
		return nil, fmt.Errorf("failed to derive identity: %w", err)
	}

	logging.NewLogger("crypto", "DeriveIdentity").
		WithField("peer_id", id.ID.String()).
		Debug("Derived identity from secret")

	return id, nil
}

// IdentityFromSeed builds an identity from a 32-byte ed25519 seed.
func IdentityFromSeed(seed []byte) (*Identity, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("invalid seed length: got %d, want %d", len(seed), ed25519.SeedSize)
	}

	// The libp2p key keeps a reference to the slice it is given, so only
	// the scratch copy is wiped.
	key := ed25519.NewKeyFromSeed(seed)
	defer ZeroBytes(key)

	priv, err := ic.UnmarshalEd25519PrivateKey(append([]byte(nil), key...))
	if err != nil {
		return nil, fmt.Errorf("failed to construct private key: %w", err)
	}

	id, err := peer.IDFromPublicKey(priv.GetPublic())
	if err != nil {
		return nil, fmt.Errorf("failed to derive peer id: %w", err)
	}

	return &Identity{
		PrivKey: priv,
		PubKey:  priv.GetPublic(),
		ID:      id,
	}, nil
}

// IdentityFromSeedByte builds the fixed identity used by relay servers: the
// seed is all zeros except for the first byte.
func IdentityFromSeedByte(b byte) (*Identity, error) {
	seed := make([]byte, ed25519.SeedSize)
	seed[0] = b
	return IdentityFromSeed(seed)
}

// GenerateSecret returns a fresh random secret, hex encoded.
func GenerateSecret() (string, error) {
	var raw [SecretSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", fmt.Errorf("failed to generate secret: %w", err)
	}
	defer ZeroBytes(raw[:])

	if isZeroKey(raw) {
		return "", errors.New("random source returned all zeros")
	}

	return hex.EncodeToString(raw[:]), nil
}

// isZeroKey checks if a key consists of all zeros.
func isZeroKey(key [SecretSize]byte) bool {
	for _, b := range key {
		if b != 0 {
			return false
		}
	}
	return true
}
