package handshake

import (
	"crypto/cipher"
	"errors"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
)

// ErrKeyDerivationFailed is the hard failure reported when a peer's
// public key cannot be used to derive a shared secret (e.g. a low-order
// point, or the chunk was too short to carry one at all).
var ErrKeyDerivationFailed = errors.New("handshake: key derivation failed")

const nonceSize = 24

// Key is a per-direction session key: an AEAD cipher plus a 24-byte nonce
// counter that advances on every successful decrypt.
type Key struct {
	aead  cipher.AEAD
	nonce [nonceSize]byte
}

// Decrypt authenticates and decrypts raw — a full chunk as buffered by
// chunkbuf, length prefix included — under the direction's current nonce,
// advancing the nonce on success. Only raw[2:], the on-wire ciphertext,
// is ever passed to the AEAD; the 2-byte length prefix is framing, never
// itself encrypted.
func (k *Key) Decrypt(raw []byte) ([]byte, error) {
	plain, err := k.aead.Open(nil, k.nonce[:k.aead.NonceSize()], raw[2:], nil)
	if err != nil {
		return nil, err
	}
	incrementNonce(&k.nonce)
	return plain, nil
}

// Seal encrypts plaintext under the direction's current nonce and
// advances it, framing the result as a complete raw chunk (length prefix
// plus ciphertext) the way a real peer would have sent it on the wire —
// used by tests to fabricate traffic this read-only recorder can then
// decrypt. The recorder itself never calls Seal in production: it
// observes, it never originates traffic.
func (k *Key) Seal(plaintext []byte) []byte {
	ciphertext := k.aead.Seal(nil, k.nonce[:k.aead.NonceSize()], plaintext, nil)
	incrementNonce(&k.nonce)
	raw := make([]byte, 2+len(ciphertext))
	raw[0] = byte(len(ciphertext) >> 8)
	raw[1] = byte(len(ciphertext))
	copy(raw[2:], ciphertext)
	return raw
}

func incrementNonce(nonce *[nonceSize]byte) {
	for i := range nonce {
		nonce[i]++
		if nonce[i] != 0 {
			return
		}
	}
}

// Keys holds the two per-direction session keys produced by a successful
// handshake.
type Keys struct {
	Local  Key
	Remote Key
}

// peerPublicKey recovers the 32-byte public key embedded in a connection
// message's payload, per the wire layout in spec.md §6: bytes [4:36) of
// the payload, i.e. raw[6:38) once the 2-byte length prefix is accounted
// for.
func peerPublicKey(raw []byte) ([32]byte, bool) {
	var pk [32]byte
	// raw includes the 2-byte length prefix; payload starts at raw[2:].
	payload := raw[2:]
	if len(payload) < 36 {
		return pk, false
	}
	copy(pk[:], payload[4:36])
	return pk, true
}

// Derive computes the two directional session keys from the local
// identity's secret key, the raw connection-message chunks from both
// directions, and the initiator flag. It mirrors the precomputed-key
// shape of a NaCl box handshake: an X25519 shared secret, then a
// BLAKE2b-keyed derivation per direction seeded with both connection
// messages so local and remote never reuse each other's key material.
func Derive(localSecret [32]byte, localRaw, remoteRaw []byte, initiator bool) (Keys, error) {
	remotePub, ok := peerPublicKey(remoteRaw)
	if !ok {
		return Keys{}, ErrKeyDerivationFailed
	}

	shared, err := curve25519.X25519(localSecret[:], remotePub[:])
	if err != nil {
		return Keys{}, ErrKeyDerivationFailed
	}

	// Canonical ordering for the transcript: initiator's message first,
	// so both ends derive identical per-direction keys regardless of
	// which connection message was buffered first at the rendezvous.
	var first, second []byte
	if initiator {
		first, second = localRaw, remoteRaw
	} else {
		first, second = remoteRaw, localRaw
	}

	localKeyMat, err := derivedKey(shared, first, second, "initiator->responder")
	if err != nil {
		return Keys{}, err
	}
	remoteKeyMat, err := derivedKey(shared, first, second, "responder->initiator")
	if err != nil {
		return Keys{}, err
	}

	var localKey, remoteKey Key
	if initiator {
		localKey.aead, err = chacha20poly1305.New(localKeyMat)
		if err != nil {
			return Keys{}, ErrKeyDerivationFailed
		}
		remoteKey.aead, err = chacha20poly1305.New(remoteKeyMat)
		if err != nil {
			return Keys{}, ErrKeyDerivationFailed
		}
	} else {
		localKey.aead, err = chacha20poly1305.New(remoteKeyMat)
		if err != nil {
			return Keys{}, ErrKeyDerivationFailed
		}
		remoteKey.aead, err = chacha20poly1305.New(localKeyMat)
		if err != nil {
			return Keys{}, ErrKeyDerivationFailed
		}
	}

	return Keys{Local: localKey, Remote: remoteKey}, nil
}

func derivedKey(shared, first, second []byte, info string) ([]byte, error) {
	h, err := blake2b.New256([]byte(info))
	if err != nil {
		return nil, err
	}
	h.Write(shared)
	h.Write(first)
	h.Write(second)
	return h.Sum(nil), nil
}
