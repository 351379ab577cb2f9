package ssp

import (
	"bytes"
	"encoding/hex"
	"strings"

	"github.com/pkg/errors"
	"github.com/rigado/ssp/sliceops"
)

// AddrType tags the transport and kind of a device address.
type AddrType uint8

const (
	AddrTypeBREDR AddrType = iota
	AddrTypeLEPublic
	AddrTypeLERandom
)

func (t AddrType) String() string {
	switch t {
	case AddrTypeBREDR:
		return "bredr"
	case AddrTypeLEPublic:
		return "le-public"
	case AddrTypeLERandom:
		return "le-random"
	}
	return "unknown"
}

// Addr identifies a remote device: a 48-bit address plus its type.
// Addr is comparable and is used as a map key across the module.
type Addr struct {
	b    [6]byte // most significant byte first
	Type AddrType
}

// NewAddr parses a colon separated or bare hex BR/EDR address.
func NewAddr(s string) (Addr, error) {
	return NewAddrWithType(s, AddrTypeBREDR)
}

func NewAddrWithType(s string, t AddrType) (Addr, error) {
	hexStr := strings.Replace(strings.ToLower(s), ":", "", -1)
	out, err := hex.DecodeString(hexStr)
	if err != nil {
		return Addr{}, errors.Wrapf(err, "invalid address %q", s)
	}
	if len(out) != 6 {
		return Addr{}, errors.Errorf("invalid address %q: want 6 bytes, got %d", s, len(out))
	}

	a := Addr{Type: t}
	copy(a.b[:], out)
	return a, nil
}

// MustAddr is like NewAddr but panics on malformed input.
func MustAddr(s string) Addr {
	a, err := NewAddr(s)
	if err != nil {
		panic(err)
	}
	return a
}

// AddrFromBDADDR converts an HCI BD_ADDR (little endian on the wire).
func AddrFromBDADDR(b [6]byte) Addr {
	return Addr{b: sliceops.SwapAddr(b), Type: AddrTypeBREDR}
}

// String returns the canonical lower case form, e.g. "00:1b:dc:f2:1c:48".
// It is also the name of the device's section in the bond store.
func (a Addr) String() string {
	var sb strings.Builder
	for i, v := range a.b {
		if i > 0 {
			sb.WriteByte(':')
		}
		sb.WriteString(hex.EncodeToString([]byte{v}))
	}
	return sb.String()
}

func (a Addr) Bytes() []byte {
	out := make([]byte, 6)
	copy(out, a.b[:])
	return out
}

// BDADDR returns the address in HCI wire order.
func (a Addr) BDADDR() [6]byte {
	return sliceops.SwapAddr(a.b)
}

func (a Addr) IsZero() bool {
	return a.b == [6]byte{}
}

// Less orders addresses by their numeric value, ignoring the type.
func (a Addr) Less(o Addr) bool {
	return bytes.Compare(a.b[:], o.b[:]) < 0
}
