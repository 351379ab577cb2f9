package hci

import (
	"fmt"
	"strings"
)

// HCI Packet types
const (
	PktTypeCommand uint8 = 0x01
	PktTypeACLData uint8 = 0x02
	PktTypeSCOData uint8 = 0x03
	PktTypeEvent   uint8 = 0x04
	PktTypeVendor  uint8 = 0xFF
)

// Status codes [Vol 1, Part F, 1.3].
const (
	StatusSuccess                   uint8 = 0x00
	StatusUnknownConnectionID       uint8 = 0x02
	StatusAuthenticationFailure     uint8 = 0x05
	StatusPinOrKeyMissing           uint8 = 0x06
	StatusConnectionTimeout         uint8 = 0x08
	StatusPairingNotAllowed         uint8 = 0x18
	StatusUnspecifiedError          uint8 = 0x1F
	StatusInsufficientSecurity      uint8 = 0x2F
	StatusSimplePairingNotSupported uint8 = 0x37
	StatusHostBusyPairing           uint8 = 0x38
)

var statusNames = map[uint8]string{
	StatusSuccess:                   "success",
	StatusUnknownConnectionID:       "unknown connection identifier",
	StatusAuthenticationFailure:     "authentication failure",
	StatusPinOrKeyMissing:           "pin or key missing",
	StatusConnectionTimeout:         "connection timeout",
	StatusPairingNotAllowed:         "pairing not allowed",
	StatusUnspecifiedError:          "unspecified error",
	StatusInsufficientSecurity:      "insufficient security",
	StatusSimplePairingNotSupported: "simple pairing not supported by host",
	StatusHostBusyPairing:           "host busy - pairing",
}

// StatusString names an HCI status code.
func StatusString(s uint8) string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return fmt.Sprintf("status 0x%02x", s)
}

// IoCapability is the BR/EDR IO capability [Vol 4, Part E, 7.1.29].
type IoCapability uint8

const (
	IoCapDisplayOnly IoCapability = iota
	IoCapDisplayYesNo
	IoCapKeyboardOnly
	IoCapNoInputNoOutput
	IoCapsReservedStart
)

var ioCapNames = []string{"DisplayOnly", "DisplayYesNo", "KeyboardOnly", "NoInputNoOutput"}

func (c IoCapability) Valid() bool { return c < IoCapsReservedStart }

func (c IoCapability) String() string {
	if c.Valid() {
		return ioCapNames[c]
	}
	return fmt.Sprintf("IoCapability(0x%02x)", uint8(c))
}

// ParseIoCapability accepts the names returned by String, case insensitive.
func ParseIoCapability(s string) (IoCapability, error) {
	for i, n := range ioCapNames {
		if strings.EqualFold(n, s) {
			return IoCapability(i), nil
		}
	}
	return 0, fmt.Errorf("unknown io capability %q", s)
}

// AuthRequirements is the authentication requirements field; odd values request MITM protection.
type AuthRequirements uint8

const (
	NoBonding AuthRequirements = iota
	NoBondingMITM
	DedicatedBonding
	DedicatedBondingMITM
	GeneralBonding
	GeneralBondingMITM
)

var authReqNames = []string{
	"NoBonding", "NoBondingMITM",
	"DedicatedBonding", "DedicatedBondingMITM",
	"GeneralBonding", "GeneralBondingMITM",
}

func (r AuthRequirements) Valid() bool { return r <= GeneralBondingMITM }

func (r AuthRequirements) MITM() bool { return r&0x01 == 0x01 }

func (r AuthRequirements) Bonding() bool { return r >= DedicatedBonding }

func (r AuthRequirements) String() string {
	if r.Valid() {
		return authReqNames[r]
	}
	return fmt.Sprintf("AuthRequirements(0x%02x)", uint8(r))
}

func ParseAuthRequirements(s string) (AuthRequirements, error) {
	for i, n := range authReqNames {
		if strings.EqualFold(n, s) {
			return AuthRequirements(i), nil
		}
	}
	return 0, fmt.Errorf("unknown authentication requirements %q", s)
}

// OOBDataPresent tells the peer which out of band data the host holds for it.
type OOBDataPresent uint8

const (
	OOBNotPresent OOBDataPresent = iota
	OOBP192
	OOBP256
	OOBP192AndP256
)

func (o OOBDataPresent) Present() bool { return o != OOBNotPresent }

// LinkKeyType as reported in the Link Key Notification event [Vol 4, Part E, 7.7.24].
type LinkKeyType uint8

const (
	KeyTypeCombination         LinkKeyType = 0x00
	KeyTypeDebugCombination    LinkKeyType = 0x03
	KeyTypeUnauthenticatedP192 LinkKeyType = 0x04
	KeyTypeAuthenticatedP192   LinkKeyType = 0x05
	KeyTypeChangedCombination  LinkKeyType = 0x06
	KeyTypeUnauthenticatedP256 LinkKeyType = 0x07
	KeyTypeAuthenticatedP256   LinkKeyType = 0x08
)

func (k LinkKeyType) Authenticated() bool {
	return k == KeyTypeAuthenticatedP192 || k == KeyTypeAuthenticatedP256
}

func (k LinkKeyType) String() string {
	switch k {
	case KeyTypeCombination:
		return "combination"
	case KeyTypeDebugCombination:
		return "debug combination"
	case KeyTypeUnauthenticatedP192:
		return "unauthenticated P-192"
	case KeyTypeAuthenticatedP192:
		return "authenticated P-192"
	case KeyTypeChangedCombination:
		return "changed combination"
	case KeyTypeUnauthenticatedP256:
		return "unauthenticated P-256"
	case KeyTypeAuthenticatedP256:
		return "authenticated P-256"
	}
	return fmt.Sprintf("LinkKeyType(0x%02x)", uint8(k))
}

// KeypressType is the notification type of a Keypress Notification event.
type KeypressType uint8

const (
	PasskeyEntryStarted KeypressType = iota
	PasskeyDigitEntered
	PasskeyDigitErased
	PasskeyCleared
	PasskeyEntryCompleted
)
