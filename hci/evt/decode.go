package evt

import (
	"encoding/binary"

	"github.com/pkg/errors"
	"github.com/rigado/ssp/hci"
)

var (
	ErrMalformed    = errors.New("evt: malformed event")
	ErrUnsupported  = errors.New("evt: unsupported event")
	errIndex        = errors.New("index error")
	minParamLengths = map[Code]int{
		AuthenticationCompleteCode:  3,
		EncryptionChangeCode:        4,
		LinkKeyRequestCode:          6,
		LinkKeyNotificationCode:     23,
		IOCapabilityRequestCode:     6,
		IOCapabilityResponseCode:    9,
		UserConfirmationRequestCode: 10,
		UserPasskeyRequestCode:      6,
		RemoteOOBDataRequestCode:    6,
		SimplePairingCompleteCode:   7,
		UserPasskeyNotificationCode: 10,
		KeypressNotificationCode:    7,
	}
)

// Decode parses an HCI event packet without its packet type indicator:
// event code, parameter length, parameters.
func Decode(p []byte) (Event, error) {
	if len(p) < 2 {
		return nil, errors.Wrap(ErrMalformed, "short header")
	}
	code, plen, b := Code(p[0]), int(p[1]), p[2:]
	if plen != len(b) {
		return nil, errors.Wrapf(ErrMalformed, "%s: invalid length, exp %d, got %d", code, plen, len(b))
	}
	min, ok := minParamLengths[code]
	if !ok {
		return nil, errors.Wrapf(ErrUnsupported, "%s", code)
	}
	if len(b) < min {
		return nil, errors.Wrapf(ErrMalformed, "%s: %d parameter bytes, need %d", code, len(b), min)
	}

	switch code {
	case AuthenticationCompleteCode:
		return AuthenticationComplete{Status: b[0], ConnectionHandle: binary.LittleEndian.Uint16(b[1:])}, nil
	case EncryptionChangeCode:
		return EncryptionChange{Status: b[0], ConnectionHandle: binary.LittleEndian.Uint16(b[1:]), EncryptionEnabled: b[3]}, nil
	case LinkKeyRequestCode:
		return LinkKeyRequest{BDADDR: addr(b)}, nil
	case LinkKeyNotificationCode:
		e := LinkKeyNotification{BDADDR: addr(b), KeyType: hci.LinkKeyType(b[22])}
		copy(e.LinkKey[:], b[6:22])
		return e, nil
	case IOCapabilityRequestCode:
		return IOCapabilityRequest{BDADDR: addr(b)}, nil
	case IOCapabilityResponseCode:
		return decodeIOCapabilityResponse(b)
	case UserConfirmationRequestCode:
		e := UserConfirmationRequest{BDADDR: addr(b), NumericValue: binary.LittleEndian.Uint32(b[6:])}
		e.Nonce = optional16(b, 10)
		return e, nil
	case UserPasskeyRequestCode:
		return UserPasskeyRequest{BDADDR: addr(b), Nonce: optional16(b, 6), Commitment: optional16(b, 22)}, nil
	case RemoteOOBDataRequestCode:
		return RemoteOOBDataRequest{BDADDR: addr(b), Nonce: optional16(b, 6)}, nil
	case SimplePairingCompleteCode:
		return SimplePairingComplete{Status: b[0], BDADDR: addr(b[1:])}, nil
	case UserPasskeyNotificationCode:
		e := UserPasskeyNotification{BDADDR: addr(b), Passkey: binary.LittleEndian.Uint32(b[6:])}
		e.Nonce = optional16(b, 10)
		return e, nil
	case KeypressNotificationCode:
		return KeypressNotification{BDADDR: addr(b), NotificationType: hci.KeypressType(b[6])}, nil
	}
	return nil, errors.Wrapf(ErrUnsupported, "%s", code)
}

func decodeIOCapabilityResponse(b []byte) (Event, error) {
	e := IOCapabilityResponse{
		BDADDR:                     addr(b),
		IOCapability:               hci.IoCapability(b[6]),
		OOBDataPresent:             hci.OOBDataPresent(b[7]),
		AuthenticationRequirements: hci.AuthRequirements(b[8]),
	}
	if len(b) == 9 {
		return e, nil
	}

	n, err := getByte(b, 9, 0)
	if err != nil {
		return nil, errors.Wrap(ErrMalformed, "io capability response: public key length")
	}
	pk, err := getBytes(b, 10, int(n))
	if err != nil {
		return nil, errors.Wrap(ErrMalformed, "io capability response: public key")
	}
	c, err := getBytes(b, 10+int(n), 16)
	if err != nil {
		return nil, errors.Wrap(ErrMalformed, "io capability response: commitment")
	}
	e.PublicKey = append([]byte(nil), pk...)
	copy(e.Commitment[:], c)
	return e, nil
}

func addr(b []byte) [6]byte {
	var a [6]byte
	copy(a[:], b)
	return a
}

// optional16 reads a trailing 16 byte field, zero if absent.
func optional16(b []byte, i int) [16]byte {
	var out [16]byte
	if bb, err := getBytes(b, i, 16); err == nil {
		copy(out[:], bb)
	}
	return out
}

func getByte(b []byte, i int, def byte) (byte, error) {
	bb, err := getBytes(b, i, 1)
	if err != nil {
		return def, err
	}
	return bb[0], nil
}

func getBytes(bytes []byte, start int, count int) ([]byte, error) {
	if bytes == nil || start >= len(bytes) {
		return nil, errIndex
	}

	if count < 0 {
		return bytes[start:], nil
	}

	end := start + count
	//end is non-inclusive
	if end > len(bytes) {
		return nil, errIndex
	}

	return bytes[start:end], nil
}
