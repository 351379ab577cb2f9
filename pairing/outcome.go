package pairing

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/rigado/ssp"
	"github.com/rigado/ssp/hci"
)

var (
	ErrUnexpectedEvent      = errors.New("pairing: unexpected event")
	ErrSessionClosed        = errors.New("pairing: session closed")
	ErrNotAwaitingUser      = errors.New("pairing: no user response pending")
	ErrConfirmationMismatch = errors.New("pairing: confirmation mismatch")
	ErrEncryptionFailed     = errors.New("pairing: encryption failed")
	ErrKeyExchangeTimeout   = errors.New("pairing: link key exchange timed out")
	ErrAuthenticationFailed = errors.New("pairing: authentication failed")
	ErrUserRejected         = errors.New("pairing: rejected by user")
	ErrTimeout              = errors.New("pairing: timed out")
	ErrInvalidPasskey       = errors.New("pairing: invalid passkey")
)

// Reason qualifies a failed outcome.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonConfirmationMismatch
	ReasonEncryptionFailed
	ReasonKeyExchangeTimeout
	ReasonStorageUnavailable
	ReasonCryptoFailure
	ReasonAuthenticationFailed
	ReasonUserRejected
	ReasonCommandFailed
)

var reasonNames = []string{
	"None",
	"ConfirmationMismatch",
	"EncryptionFailed",
	"KeyExchangeTimeout",
	"StorageUnavailable",
	"CryptoFailure",
	"AuthenticationFailed",
	"UserRejected",
	"CommandFailed",
}

func (r Reason) String() string {
	if r >= 0 && int(r) < len(reasonNames) {
		return reasonNames[r]
	}
	return fmt.Sprintf("Reason(%d)", int(r))
}

type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeFailure
	OutcomeCancelled
	OutcomeTimedOut
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "Success"
	case OutcomeFailure:
		return "Failure"
	case OutcomeCancelled:
		return "Cancelled"
	case OutcomeTimedOut:
		return "TimedOut"
	}
	return fmt.Sprintf("OutcomeKind(%d)", int(k))
}

// Outcome is the terminal result of a session, reported once.
type Outcome struct {
	Kind    OutcomeKind
	Addr    ssp.Addr
	Model   Model
	KeyType hci.LinkKeyType // set on success
	Reason  Reason          // set on failure
	Err     error
}

func (o Outcome) String() string {
	switch o.Kind {
	case OutcomeSuccess:
		return fmt.Sprintf("%s: success (%s, %s key)", o.Addr, o.Model, o.KeyType)
	case OutcomeFailure:
		return fmt.Sprintf("%s: failed (%s): %v", o.Addr, o.Reason, o.Err)
	}
	return fmt.Sprintf("%s: %s", o.Addr, o.Kind)
}
