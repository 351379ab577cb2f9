// Package sspcrypto implements the Simple Pairing cryptographic functions
// [Vol 2, Part H, 7.7] on top of ECDH and HMAC-SHA-256. All values are
// most significant byte first.
package sspcrypto

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"math/big"

	"github.com/pkg/errors"
)

var ErrCryptoFailure = errors.New("sspcrypto: crypto failure")

// KeyIDBTLK is the key id used by f2 to derive the link key.
var KeyIDBTLK = [4]byte{'b', 't', 'l', 'k'}

func checkCoord(name string, v []byte) error {
	if len(v) != 24 && len(v) != 32 {
		return errors.Wrapf(ErrCryptoFailure, "invalid %s length %d", name, len(v))
	}
	return nil
}

// F1 is the commitment function:
// f1(U, V, X, Z) = HMAC-SHA-256_X(U || V || Z) / 2^128
func F1(u, v []byte, x [16]byte, z byte) ([16]byte, error) {
	var out [16]byte
	if err := checkCoord("u", u); err != nil {
		return out, err
	}
	if err := checkCoord("v", v); err != nil {
		return out, err
	}

	mac := hmac.New(sha256.New, x[:])
	mac.Write(u)
	mac.Write(v)
	mac.Write([]byte{z})
	copy(out[:], mac.Sum(nil))
	return out, nil
}

// G computes the six digit numeric check value:
// g(U, V, X, Y) = SHA-256(U || V || X || Y) mod 2^32, displayed mod 10^6
func G(u, v []byte, x, y [16]byte) (uint32, error) {
	if err := checkCoord("u", u); err != nil {
		return 0, err
	}
	if err := checkCoord("v", v); err != nil {
		return 0, err
	}

	h := sha256.New()
	h.Write(u)
	h.Write(v)
	h.Write(x[:])
	h.Write(y[:])
	sum := h.Sum(nil)

	return binary.BigEndian.Uint32(sum[len(sum)-4:]) % 1000000, nil
}

// F2 derives the link key:
// f2(W, N1, N2, KeyID, A1, A2) = HMAC-SHA-256_W(N1 || N2 || KeyID || A1 || A2) / 2^128
func F2(w []byte, n1, n2 [16]byte, keyID [4]byte, a1, a2 [6]byte) ([16]byte, error) {
	var out [16]byte
	if err := checkCoord("w", w); err != nil {
		return out, err
	}

	mac := hmac.New(sha256.New, w)
	mac.Write(n1[:])
	mac.Write(n2[:])
	mac.Write(keyID[:])
	mac.Write(a1[:])
	mac.Write(a2[:])
	copy(out[:], mac.Sum(nil))
	return out, nil
}

func NewNonce() ([16]byte, error) {
	var n [16]byte
	if _, err := rand.Read(n[:]); err != nil {
		return n, errors.Wrapf(ErrCryptoFailure, "nonce: %v", err)
	}
	return n, nil
}

// PasskeyCommitZ is the f1 Z value of a passkey commitment.
const PasskeyCommitZ = 0x80

// PasskeyNonce mixes a passkey into the low four bytes of a nonce. A
// passkey commitment is f1(PKx of the displaying side, PKx of the entering
// side, PasskeyNonce(N of the displaying side, passkey), PasskeyCommitZ).
func PasskeyNonce(n [16]byte, passkey uint32) [16]byte {
	var pk [4]byte
	binary.BigEndian.PutUint32(pk[:], passkey)
	for i := range pk {
		n[12+i] ^= pk[i]
	}
	return n
}

// NewPasskey returns a uniformly distributed value in [0, 999999].
func NewPasskey() (uint32, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return 0, errors.Wrapf(ErrCryptoFailure, "passkey: %v", err)
	}
	return uint32(n.Int64()), nil
}
