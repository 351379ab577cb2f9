package evt

import "fmt"

// Code is an HCI event code [Vol 4, Part E, 7.7].
type Code uint8

const (
	AuthenticationCompleteCode  Code = 0x06
	EncryptionChangeCode        Code = 0x08
	LinkKeyRequestCode          Code = 0x17
	LinkKeyNotificationCode     Code = 0x18
	IOCapabilityRequestCode     Code = 0x31
	IOCapabilityResponseCode    Code = 0x32
	UserConfirmationRequestCode Code = 0x33
	UserPasskeyRequestCode      Code = 0x34
	RemoteOOBDataRequestCode    Code = 0x35
	SimplePairingCompleteCode   Code = 0x36
	UserPasskeyNotificationCode Code = 0x3B
	KeypressNotificationCode    Code = 0x3C
)

var codeNames = map[Code]string{
	AuthenticationCompleteCode:  "Authentication Complete",
	EncryptionChangeCode:        "Encryption Change",
	LinkKeyRequestCode:          "Link Key Request",
	LinkKeyNotificationCode:     "Link Key Notification",
	IOCapabilityRequestCode:     "IO Capability Request",
	IOCapabilityResponseCode:    "IO Capability Response",
	UserConfirmationRequestCode: "User Confirmation Request",
	UserPasskeyRequestCode:      "User Passkey Request",
	RemoteOOBDataRequestCode:    "Remote OOB Data Request",
	SimplePairingCompleteCode:   "Simple Pairing Complete",
	UserPasskeyNotificationCode: "User Passkey Notification",
	KeypressNotificationCode:    "Keypress Notification",
}

func (c Code) String() string {
	if n, ok := codeNames[c]; ok {
		return n
	}
	return fmt.Sprintf("event 0x%02x", uint8(c))
}
