package sspcrypto

import (
	"crypto/aes"

	"github.com/aead/cmac"
	"github.com/pkg/errors"
)

var (
	keyIDTMP1 = [4]byte{'t', 'm', 'p', '1'}
	keyIDLEBR = [4]byte{'l', 'e', 'b', 'r'}
)

func aesCMAC(key, msg []byte) ([]byte, error) {
	mCipher, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	mMac, err := cmac.New(mCipher)
	if err != nil {
		return nil, err
	}

	mMac.Write(msg)

	return mMac.Sum(nil), nil
}

// H6 is the link key conversion function h6(W, keyID) = AES-CMAC_W(keyID).
func H6(w [16]byte, keyID [4]byte) ([16]byte, error) {
	var out [16]byte
	r, err := aesCMAC(w[:], keyID[:])
	if err != nil {
		return out, errors.Wrapf(ErrCryptoFailure, "h6: %v", err)
	}
	copy(out[:], r)
	return out, nil
}

// H7 is h7(SALT, W) = AES-CMAC_SALT(W).
func H7(salt, w [16]byte) ([16]byte, error) {
	var out [16]byte
	r, err := aesCMAC(salt[:], w[:])
	if err != nil {
		return out, errors.Wrapf(ErrCryptoFailure, "h7: %v", err)
	}
	copy(out[:], r)
	return out, nil
}

// LinkKeyFromLTK derives a BR/EDR link key from an LE long term key
// (cross-transport key derivation). ct2 selects the h7 based intermediate
// key used when both sides support it.
func LinkKeyFromLTK(ltk [16]byte, ct2 bool) ([16]byte, error) {
	var ilk [16]byte
	var err error
	if ct2 {
		var salt [16]byte
		copy(salt[12:], keyIDTMP1[:])
		ilk, err = H7(salt, ltk)
	} else {
		ilk, err = H6(ltk, keyIDTMP1)
	}
	if err != nil {
		return ilk, err
	}
	return H6(ilk, keyIDLEBR)
}
