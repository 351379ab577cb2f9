package sspcrypto

// Adapter is the set of primitives the pairing state machine relies on.
// Implementations keep no state between calls.
type Adapter interface {
	GenerateKeyPair(c Curve) (*KeyPair, error)
	DHKey(k *KeyPair, peer []byte) ([]byte, error)
	Nonce() ([16]byte, error)
	F1(u, v []byte, x [16]byte, z byte) ([16]byte, error)
	G(u, v []byte, x, y [16]byte) (uint32, error)
	F2(w []byte, n1, n2 [16]byte, keyID [4]byte, a1, a2 [6]byte) ([16]byte, error)
	LinkKeyFromLTK(ltk [16]byte) ([16]byte, error)
}

// Default implements Adapter with the functions of this package.
type Default struct{}

var _ Adapter = Default{}

func (Default) GenerateKeyPair(c Curve) (*KeyPair, error)     { return GenerateKeyPair(c) }
func (Default) DHKey(k *KeyPair, peer []byte) ([]byte, error) { return DHKey(k, peer) }
func (Default) Nonce() ([16]byte, error)                      { return NewNonce() }

func (Default) F1(u, v []byte, x [16]byte, z byte) ([16]byte, error) { return F1(u, v, x, z) }

func (Default) G(u, v []byte, x, y [16]byte) (uint32, error) { return G(u, v, x, y) }

func (Default) F2(w []byte, n1, n2 [16]byte, keyID [4]byte, a1, a2 [6]byte) ([16]byte, error) {
	return F2(w, n1, n2, keyID, a1, a2)
}

func (Default) LinkKeyFromLTK(ltk [16]byte) ([16]byte, error) { return LinkKeyFromLTK(ltk, true) }
