package sspcrypto

import (
	"bytes"
	"crypto"
	"crypto/elliptic"
	"crypto/rand"
	"math/big"

	"github.com/pkg/errors"
	"github.com/wsddn/go-ecdh"
)

// Curve selects the key agreement group: P-192 for Simple Pairing,
// P-256 for Secure Connections.
type Curve int

const (
	P192 Curve = iota
	P256
)

func (c Curve) String() string {
	if c == P256 {
		return "P-256"
	}
	return "P-192"
}

// Size is the byte length of one coordinate.
func (c Curve) Size() int {
	if c == P256 {
		return 32
	}
	return 24
}

func (c Curve) elliptic() elliptic.Curve {
	if c == P256 {
		return elliptic.P256()
	}
	return p192
}

// CurveForKey infers the curve from an X||Y public key length.
func CurveForKey(pub []byte) (Curve, error) {
	switch len(pub) {
	case 2 * 24:
		return P192, nil
	case 2 * 32:
		return P256, nil
	}
	return 0, errors.Wrapf(ErrCryptoFailure, "invalid public key length %d", len(pub))
}

// NIST P-192 (secp192r1)
var p192 = func() *elliptic.CurveParams {
	hexInt := func(s string) *big.Int {
		v, _ := new(big.Int).SetString(s, 16)
		return v
	}
	return &elliptic.CurveParams{
		Name:    "P-192",
		BitSize: 192,
		P:       hexInt("fffffffffffffffffffffffffffffffeffffffffffffffff"),
		N:       hexInt("ffffffffffffffffffffffff99def836146bc9b1b4d22831"),
		B:       hexInt("64210519e59c80e70fa7e9ab72243049feb8deecc146b9b1"),
		Gx:      hexInt("188da80eb03090f67cbf20eb43a18800f4ff0afd82ff1012"),
		Gy:      hexInt("07192b95ffc8da78631011ed6b24cdd573f977a11e794811"),
	}
}()

// KeyPair is an ECDH key pair. Public is X||Y, most significant byte first.
type KeyPair struct {
	Curve   Curve
	Public  []byte
	private crypto.PrivateKey
}

// X returns the x coordinate of the public key.
func (k *KeyPair) X() []byte {
	return k.Public[:k.Curve.Size()]
}

func GenerateKeyPair(c Curve) (*KeyPair, error) {
	e := ecdh.NewEllipticECDH(c.elliptic())

	prv, pub, err := e.GenerateKey(rand.Reader)
	if err != nil {
		return nil, errors.Wrapf(ErrCryptoFailure, "key generation: %v", err)
	}

	//remove header
	return &KeyPair{Curve: c, Public: e.Marshal(pub)[1:], private: prv}, nil
}

// DHKey computes the shared secret between k and the peer public key.
// A peer key equal to our own is rejected (CVE-2020-26558).
func DHKey(k *KeyPair, peer []byte) ([]byte, error) {
	if k == nil {
		return nil, errors.Wrap(ErrCryptoFailure, "no local key pair")
	}
	n := k.Curve.Size()
	if len(peer) != 2*n {
		return nil, errors.Wrapf(ErrCryptoFailure, "peer public key length %d, exp %d", len(peer), 2*n)
	}
	if bytes.Equal(peer, k.Public) {
		return nil, errors.Wrap(ErrCryptoFailure, "peer public key matches local public key")
	}

	e := ecdh.NewEllipticECDH(k.Curve.elliptic())
	pub, ok := e.Unmarshal(append([]byte{0x04}, peer...))
	if !ok {
		return nil, errors.Wrap(ErrCryptoFailure, "peer public key not on curve")
	}

	s, err := e.GenerateSharedSecret(k.private, pub)
	if err != nil {
		return nil, errors.Wrapf(ErrCryptoFailure, "shared secret: %v", err)
	}

	// the x coordinate comes back without leading zeros
	out := make([]byte, n)
	copy(out[n-len(s):], s)
	return out, nil
}
