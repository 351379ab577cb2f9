package security

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/rigado/ssp"
)

// Policy is a security level a link with a device must meet.
type Policy int

const (
	// BestEffort accepts any link.
	BestEffort Policy = iota
	// AuthenticatedEncryptedTransport requires a bond with an authenticated key.
	AuthenticatedEncryptedTransport
)

func (p Policy) String() string {
	switch p {
	case BestEffort:
		return "BestEffort"
	case AuthenticatedEncryptedTransport:
		return "AuthenticatedEncryptedTransport"
	}
	return fmt.Sprintf("Policy(%d)", int(p))
}

// CheckPolicy reports whether the bond with a satisfies p.
func (m *Manager) CheckPolicy(a ssp.Addr, p Policy) (bool, error) {
	switch p {
	case BestEffort:
		return true, nil
	case AuthenticatedEncryptedTransport:
		r, ok, err := m.bonds.Get(a)
		if err != nil {
			return false, err
		}
		return ok && r.Authenticated(), nil
	}
	return false, errors.Errorf("unknown policy %v", p)
}

// EnforcePolicy checks p and, when it is not met, starts pairing with a.
// It reports whether the policy already holds; otherwise the result is
// delivered as the pairing outcome.
func (m *Manager) EnforcePolicy(a ssp.Addr, p Policy) (bool, error) {
	ok, err := m.CheckPolicy(a, p)
	if err != nil || ok {
		return ok, err
	}
	m.log.Infof("%s does not meet %s, pairing", a, p)
	if err := m.RequestPairing(a, PairingOptions{}); err != nil && !errors.Is(err, ErrAlreadyPairing) {
		return false, err
	}
	return false, nil
}
