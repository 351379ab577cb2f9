// Package cmd holds the link control commands the pairing engine submits to
// the controller [Vol 4, Part E, 7.1].
package cmd

import (
	"encoding/binary"

	"github.com/pkg/errors"
	"github.com/rigado/ssp/hci"
)

const linkCtl = 0x01

func opcode(ogf, ocf int) int { return ogf<<10 | ocf }

var (
	opAuthenticationRequested           = opcode(linkCtl, 0x0011)
	opSetConnectionEncryption           = opcode(linkCtl, 0x0013)
	opLinkKeyRequestReply               = opcode(linkCtl, 0x000B)
	opLinkKeyRequestNegativeReply       = opcode(linkCtl, 0x000C)
	opIOCapabilityRequestReply          = opcode(linkCtl, 0x002B)
	opUserConfirmationRequestReply      = opcode(linkCtl, 0x002C)
	opUserConfirmationRequestNegReply   = opcode(linkCtl, 0x002D)
	opUserPasskeyRequestReply           = opcode(linkCtl, 0x002E)
	opUserPasskeyRequestNegativeReply   = opcode(linkCtl, 0x002F)
	opRemoteOOBDataRequestReply         = opcode(linkCtl, 0x0030)
	opRemoteOOBDataRequestNegativeReply = opcode(linkCtl, 0x0033)
	opIOCapabilityRequestNegativeReply  = opcode(linkCtl, 0x0034)
)

// Name returns a readable command name for logs.
func Name(op int) string {
	if n, ok := names[op]; ok {
		return n
	}
	return "unknown command"
}

var names = map[int]string{
	opAuthenticationRequested:           "Authentication Requested",
	opSetConnectionEncryption:           "Set Connection Encryption",
	opLinkKeyRequestReply:               "Link Key Request Reply",
	opLinkKeyRequestNegativeReply:       "Link Key Request Negative Reply",
	opIOCapabilityRequestReply:          "IO Capability Request Reply",
	opUserConfirmationRequestReply:      "User Confirmation Request Reply",
	opUserConfirmationRequestNegReply:   "User Confirmation Request Negative Reply",
	opUserPasskeyRequestReply:           "User Passkey Request Reply",
	opUserPasskeyRequestNegativeReply:   "User Passkey Request Negative Reply",
	opRemoteOOBDataRequestReply:         "Remote OOB Data Request Reply",
	opRemoteOOBDataRequestNegativeReply: "Remote OOB Data Request Negative Reply",
	opIOCapabilityRequestNegativeReply:  "IO Capability Request Negative Reply",
}

var errShortBuffer = errors.New("cmd: buffer too small")

// Packet frames c as an HCI command packet.
func Packet(c hci.Command) ([]byte, error) {
	if c.Len() > 0xff {
		return nil, errors.Errorf("cmd: %s parameters too long (%d)", Name(c.OpCode()), c.Len())
	}
	b := make([]byte, 4+c.Len())
	b[0] = hci.PktTypeCommand
	b[1] = byte(c.OpCode())
	b[2] = byte(c.OpCode() >> 8)
	b[3] = byte(c.Len())
	if err := c.Marshal(b[4:]); err != nil {
		return nil, errors.Wrapf(err, "can't marshal %s", Name(c.OpCode()))
	}
	return b, nil
}

// AuthenticationRequested implements Authentication Requested (0x01|0x0011) [Vol 2, Part E, 7.1.15].
type AuthenticationRequested struct {
	ConnectionHandle uint16
}

func (c *AuthenticationRequested) OpCode() int { return opAuthenticationRequested }
func (c *AuthenticationRequested) Len() int    { return 2 }
func (c *AuthenticationRequested) Marshal(b []byte) error {
	if len(b) < c.Len() {
		return errShortBuffer
	}
	binary.LittleEndian.PutUint16(b, c.ConnectionHandle)
	return nil
}

// SetConnectionEncryption implements Set Connection Encryption (0x01|0x0013) [Vol 2, Part E, 7.1.16].
type SetConnectionEncryption struct {
	ConnectionHandle  uint16
	EncryptionEnabled uint8
}

func (c *SetConnectionEncryption) OpCode() int { return opSetConnectionEncryption }
func (c *SetConnectionEncryption) Len() int    { return 3 }
func (c *SetConnectionEncryption) Marshal(b []byte) error {
	if len(b) < c.Len() {
		return errShortBuffer
	}
	binary.LittleEndian.PutUint16(b, c.ConnectionHandle)
	b[2] = c.EncryptionEnabled
	return nil
}

// LinkKeyRequestReply implements Link Key Request Reply (0x01|0x000B).
type LinkKeyRequestReply struct {
	BDADDR  [6]byte
	LinkKey [16]byte
}

func (c *LinkKeyRequestReply) OpCode() int { return opLinkKeyRequestReply }
func (c *LinkKeyRequestReply) Len() int    { return 22 }
func (c *LinkKeyRequestReply) Marshal(b []byte) error {
	if len(b) < c.Len() {
		return errShortBuffer
	}
	copy(b, c.BDADDR[:])
	copy(b[6:], c.LinkKey[:])
	return nil
}

// LinkKeyRequestNegativeReply implements Link Key Request Negative Reply (0x01|0x000C).
type LinkKeyRequestNegativeReply struct {
	BDADDR [6]byte
}

func (c *LinkKeyRequestNegativeReply) OpCode() int { return opLinkKeyRequestNegativeReply }
func (c *LinkKeyRequestNegativeReply) Len() int    { return 6 }
func (c *LinkKeyRequestNegativeReply) Marshal(b []byte) error {
	return marshalAddr(b, c.BDADDR)
}

// IOCapabilityRequestReply implements IO Capability Request Reply (0x01|0x002B).
//
// When the host performs the public key stage itself, the reply also hands
// the controller the host's public key, the commitment to its nonce and the
// nonce. These trail the standard parameters and are omitted when PublicKey
// is empty.
type IOCapabilityRequestReply struct {
	BDADDR                     [6]byte
	IOCapability               hci.IoCapability
	OOBDataPresent             hci.OOBDataPresent
	AuthenticationRequirements hci.AuthRequirements

	PublicKey  []byte
	Commitment [16]byte
	Nonce      [16]byte
}

func (c *IOCapabilityRequestReply) OpCode() int { return opIOCapabilityRequestReply }
func (c *IOCapabilityRequestReply) Len() int {
	if len(c.PublicKey) == 0 {
		return 9
	}
	return 9 + 1 + len(c.PublicKey) + 32
}
func (c *IOCapabilityRequestReply) Marshal(b []byte) error {
	if len(b) < c.Len() {
		return errShortBuffer
	}
	copy(b, c.BDADDR[:])
	b[6] = uint8(c.IOCapability)
	b[7] = uint8(c.OOBDataPresent)
	b[8] = uint8(c.AuthenticationRequirements)
	if len(c.PublicKey) == 0 {
		return nil
	}
	b[9] = uint8(len(c.PublicKey))
	n := 10 + copy(b[10:], c.PublicKey)
	n += copy(b[n:], c.Commitment[:])
	copy(b[n:], c.Nonce[:])
	return nil
}

// IOCapabilityRequestNegativeReply implements IO Capability Request Negative Reply (0x01|0x0034).
type IOCapabilityRequestNegativeReply struct {
	BDADDR [6]byte
	Reason uint8
}

func (c *IOCapabilityRequestNegativeReply) OpCode() int { return opIOCapabilityRequestNegativeReply }
func (c *IOCapabilityRequestNegativeReply) Len() int    { return 7 }
func (c *IOCapabilityRequestNegativeReply) Marshal(b []byte) error {
	if len(b) < c.Len() {
		return errShortBuffer
	}
	copy(b, c.BDADDR[:])
	b[6] = c.Reason
	return nil
}

// UserConfirmationRequestReply implements User Confirmation Request Reply (0x01|0x002C).
type UserConfirmationRequestReply struct {
	BDADDR [6]byte
}

func (c *UserConfirmationRequestReply) OpCode() int { return opUserConfirmationRequestReply }
func (c *UserConfirmationRequestReply) Len() int    { return 6 }
func (c *UserConfirmationRequestReply) Marshal(b []byte) error {
	return marshalAddr(b, c.BDADDR)
}

// UserConfirmationRequestNegativeReply implements User Confirmation Request Negative Reply (0x01|0x002D).
type UserConfirmationRequestNegativeReply struct {
	BDADDR [6]byte
}

func (c *UserConfirmationRequestNegativeReply) OpCode() int { return opUserConfirmationRequestNegReply }
func (c *UserConfirmationRequestNegativeReply) Len() int    { return 6 }
func (c *UserConfirmationRequestNegativeReply) Marshal(b []byte) error {
	return marshalAddr(b, c.BDADDR)
}

// UserPasskeyRequestReply implements User Passkey Request Reply (0x01|0x002E).
type UserPasskeyRequestReply struct {
	BDADDR       [6]byte
	NumericValue uint32
}

func (c *UserPasskeyRequestReply) OpCode() int { return opUserPasskeyRequestReply }
func (c *UserPasskeyRequestReply) Len() int    { return 10 }
func (c *UserPasskeyRequestReply) Marshal(b []byte) error {
	if len(b) < c.Len() {
		return errShortBuffer
	}
	copy(b, c.BDADDR[:])
	binary.LittleEndian.PutUint32(b[6:], c.NumericValue)
	return nil
}

// UserPasskeyRequestNegativeReply implements User Passkey Request Negative Reply (0x01|0x002F).
type UserPasskeyRequestNegativeReply struct {
	BDADDR [6]byte
}

func (c *UserPasskeyRequestNegativeReply) OpCode() int { return opUserPasskeyRequestNegativeReply }
func (c *UserPasskeyRequestNegativeReply) Len() int    { return 6 }
func (c *UserPasskeyRequestNegativeReply) Marshal(b []byte) error {
	return marshalAddr(b, c.BDADDR)
}

// RemoteOOBDataRequestReply implements Remote OOB Data Request Reply (0x01|0x0030).
type RemoteOOBDataRequestReply struct {
	BDADDR [6]byte
	C      [16]byte
	R      [16]byte
}

func (c *RemoteOOBDataRequestReply) OpCode() int { return opRemoteOOBDataRequestReply }
func (c *RemoteOOBDataRequestReply) Len() int    { return 38 }
func (c *RemoteOOBDataRequestReply) Marshal(b []byte) error {
	if len(b) < c.Len() {
		return errShortBuffer
	}
	copy(b, c.BDADDR[:])
	copy(b[6:], c.C[:])
	copy(b[22:], c.R[:])
	return nil
}

// RemoteOOBDataRequestNegativeReply implements Remote OOB Data Request Negative Reply (0x01|0x0033).
type RemoteOOBDataRequestNegativeReply struct {
	BDADDR [6]byte
}

func (c *RemoteOOBDataRequestNegativeReply) OpCode() int { return opRemoteOOBDataRequestNegativeReply }
func (c *RemoteOOBDataRequestNegativeReply) Len() int    { return 6 }
func (c *RemoteOOBDataRequestNegativeReply) Marshal(b []byte) error {
	return marshalAddr(b, c.BDADDR)
}

func marshalAddr(b []byte, a [6]byte) error {
	if len(b) < 6 {
		return errShortBuffer
	}
	copy(b, a[:])
	return nil
}
