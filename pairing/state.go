package pairing

import (
	"fmt"

	"github.com/rigado/ssp/hci"
)

// State is the position of a session in the pairing procedure.
type State int32

const (
	StateIdle State = iota
	StateIoCapabilityExchange
	StateNumericComparison
	StatePasskeyEntry
	StateOutOfBand
	StateJustWorks
	StateLinkKeyExchange
	StateEncryptionPending
	StateBonded
	StateFailed
	StateCancelled
)

var stateNames = []string{
	"Idle",
	"IoCapabilityExchange",
	"NumericComparison",
	"PasskeyEntry",
	"OutOfBand",
	"JustWorks",
	"LinkKeyExchange",
	"EncryptionPending",
	"Bonded",
	"Failed",
	"Cancelled",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

func (s State) Terminal() bool {
	return s == StateBonded || s == StateFailed || s == StateCancelled
}

// Model is the association model used to authenticate the public key exchange.
type Model int

const (
	ModelJustWorks Model = iota
	ModelNumericComparison
	ModelPasskeyEntry
	ModelOutOfBand
)

func (m Model) String() string {
	switch m {
	case ModelJustWorks:
		return "JustWorks"
	case ModelNumericComparison:
		return "NumericComparison"
	case ModelPasskeyEntry:
		return "PasskeyEntry"
	case ModelOutOfBand:
		return "OutOfBand"
	}
	return fmt.Sprintf("Model(%d)", int(m))
}

// Authenticated reports whether keys created with the model are MITM protected.
func (m Model) Authenticated() bool { return m != ModelJustWorks }

func (m Model) State() State {
	switch m {
	case ModelNumericComparison:
		return StateNumericComparison
	case ModelPasskeyEntry:
		return StatePasskeyEntry
	case ModelOutOfBand:
		return StateOutOfBand
	}
	return StateJustWorks
}

// SelectModel picks the association model. Precedence:
//
//	OOB data present                                  -> OutOfBand
//	MITM not required, or either side NoInputNoOutput -> JustWorks
//	both sides DisplayYesNo                           -> NumericComparison
//	one side KeyboardOnly, the other can show or type -> PasskeyEntry
//	otherwise                                         -> JustWorks
//
// The result does not depend on which side is local.
func SelectModel(local, remote hci.IoCapability, mitm, oob bool) Model {
	if oob {
		return ModelOutOfBand
	}
	if !mitm || !local.Valid() || !remote.Valid() {
		return ModelJustWorks
	}
	if local == hci.IoCapNoInputNoOutput || remote == hci.IoCapNoInputNoOutput {
		return ModelJustWorks
	}
	if local == hci.IoCapDisplayYesNo && remote == hci.IoCapDisplayYesNo {
		return ModelNumericComparison
	}
	if local == hci.IoCapKeyboardOnly || remote == hci.IoCapKeyboardOnly {
		return ModelPasskeyEntry
	}

	// DisplayOnly against DisplayOnly or DisplayYesNo: nobody can enter or confirm.
	return ModelJustWorks
}

// KeyType classifies a link key created with model over the given curve.
func KeyType(m Model, p256 bool) hci.LinkKeyType {
	switch {
	case p256 && m.Authenticated():
		return hci.KeyTypeAuthenticatedP256
	case p256:
		return hci.KeyTypeUnauthenticatedP256
	case m.Authenticated():
		return hci.KeyTypeAuthenticatedP192
	}
	return hci.KeyTypeUnauthenticatedP192
}
