// Package identity loads and carries the recorder's long-term node
// identity: the Curve25519 keypair used to derive session keys with
// observed peers, plus an Ed25519 signing keypair the stable peer id is
// derived from.
package identity

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"encoding/json"
	"errors"
	"os"

	"golang.org/x/crypto/curve25519"
)

var idMagic = []byte("NETRECORDER_PEER_ID_V1")

var base32Encoding = base32.NewEncoding("ABCDEFGHIJKLMNOPQRSTUVWXYZ234567").WithPadding(base32.NoPadding)

// DerivePeerID derives a stable, printable peer identifier from an
// Ed25519 public key, the same way the teacher's portal identity package
// derives its node IDs: an HMAC-SHA256 of the key, truncated to its first
// 16 bytes and base32-encoded.
func DerivePeerID(signingPub ed25519.PublicKey) string {
	h := hmac.New(sha256.New, idMagic)
	h.Write(signingPub)
	sum := h.Sum(nil)
	return base32Encoding.EncodeToString(sum[:16])
}

// Identity is the node's immutable long-term record: the Curve25519
// keypair used for session-key derivation with observed peers, the
// Ed25519 keypair the stable peer id is derived from, and the
// proof-of-work stamp as loaded from the identity file.
type Identity struct {
	PublicKey  [32]byte // Curve25519, handshake math
	SecretKey  [32]byte // Curve25519, handshake math
	SigningKey ed25519.PrivateKey
	SigningPub ed25519.PublicKey
	PowStamp   []byte
	PeerID     string
}

// file is the on-disk JSON form of an Identity.
type file struct {
	SecretKey  string `json:"secret_key"`
	SigningKey string `json:"signing_key"`
	PowStamp   string `json:"pow_stamp"`
}

// Generate creates a fresh random identity. Used by tests and by the
// identity-provisioning path outside the recorder's core.
func Generate() (*Identity, error) {
	var secret [32]byte
	if _, err := rand.Read(secret[:]); err != nil {
		return nil, err
	}
	signingPub, signingKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return fromKeys(secret, signingKey, signingPub)
}

// FromSecretKey derives an identity from a raw Curve25519 secret key
// alone, deriving the Ed25519 signing key from it too, for tests that need
// deterministic identities.
func FromSecretKey(secret [32]byte) (*Identity, error) {
	// Deterministic Ed25519 seed derived from the Curve25519 secret so
	// callers that only supply one 32-byte value (tests, mostly) still get
	// a usable signing identity.
	seed := sha256.Sum256(append([]byte("netrecorder-ed25519-seed"), secret[:]...))
	signingKey := ed25519.NewKeyFromSeed(seed[:])
	signingPub := signingKey.Public().(ed25519.PublicKey)
	return fromKeys(secret, signingKey, signingPub)
}

func fromKeys(secret [32]byte, signingKey ed25519.PrivateKey, signingPub ed25519.PublicKey) (*Identity, error) {
	pub, err := curve25519.X25519(secret[:], curve25519.Basepoint)
	if err != nil {
		return nil, err
	}
	var pubArr [32]byte
	copy(pubArr[:], pub)
	return &Identity{
		PublicKey:  pubArr,
		SecretKey:  secret,
		SigningKey: signingKey,
		SigningPub: signingPub,
		PeerID:     DerivePeerID(signingPub),
	}, nil
}

// Sign signs data with the identity's Ed25519 signing key.
func (id *Identity) Sign(data []byte) []byte {
	return ed25519.Sign(id.SigningKey, data)
}

// Verify checks a signature produced by Sign against this identity's
// public signing key.
func (id *Identity) Verify(data, sig []byte) bool {
	if len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(id.SigningPub, data, sig)
}

// Load reads an identity from a JSON file on disk. This is the only path
// by which the core learns who the local node is; it never generates one
// itself outside of tests.
func Load(path string) (*Identity, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f file
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, err
	}

	secret, err := decodeKey32(f.SecretKey)
	if err != nil {
		return nil, err
	}
	signingSeed, err := decodeKey32(f.SigningKey)
	if err != nil {
		return nil, err
	}
	signingKey := ed25519.NewKeyFromSeed(signingSeed[:])
	signingPub := signingKey.Public().(ed25519.PublicKey)

	id, err := fromKeys(secret, signingKey, signingPub)
	if err != nil {
		return nil, err
	}
	if f.PowStamp != "" {
		stamp, err := base32Encoding.DecodeString(f.PowStamp)
		if err != nil {
			return nil, err
		}
		id.PowStamp = stamp
	}
	return id, nil
}

func decodeKey32(s string) ([32]byte, error) {
	var out [32]byte
	b, err := base32Encoding.DecodeString(s)
	if err != nil {
		return out, err
	}
	if len(b) != 32 {
		return out, errors.New("identity: key must be 32 bytes")
	}
	copy(out[:], b)
	return out, nil
}
