package security

import (
	"github.com/pkg/errors"
	"github.com/rigado/ssp"
	"github.com/rigado/ssp/hci"
	"github.com/rigado/ssp/pairing"
)

var _ ssp.ManagerOption = (*Manager)(nil)

// Option applies the options in order, stopping at the first failure.
func (m *Manager) Option(opts ...ssp.Option) error {
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return err
		}
	}
	return nil
}

// SetLocalAddr sets the controller address used to break initiator ties.
func (m *Manager) SetLocalAddr(a ssp.Addr) error {
	m.params.localAddr = a
	return nil
}

func (m *Manager) SetIoCapability(c hci.IoCapability) error {
	if !c.Valid() {
		return errors.Errorf("invalid io capability %v", c)
	}
	m.params.ioCap = c
	return nil
}

func (m *Manager) SetAuthRequirements(r hci.AuthRequirements) error {
	if !r.Valid() {
		return errors.Errorf("invalid authentication requirements %v", r)
	}
	m.params.authReq = r
	return nil
}

// SetSecureConnections selects P-256 (on) or P-192 (off) key agreement.
func (m *Manager) SetSecureConnections(on bool) error {
	m.params.secureConnections = on
	return nil
}

func (m *Manager) SetTimeouts(t ssp.Timeouts) error {
	if err := validateTimeouts(t); err != nil {
		return err
	}
	m.params.timeouts = t
	return nil
}

func (m *Manager) SetObserver(o interface{}) error {
	obs, ok := o.(pairing.Observer)
	if !ok {
		return errors.Errorf("unknown observer type %T", o)
	}
	m.params.observer = obs
	return nil
}

func (m *Manager) SetClock(c ssp.Clock) error {
	m.params.clock = c
	return nil
}

func (m *Manager) SetLogger(l ssp.Logger) error {
	m.params.logger = l
	return nil
}

// SetErrorHandler receives events that were dropped as unexpected.
func (m *Manager) SetErrorHandler(handler func(error)) error {
	m.params.errorHandler = handler
	return nil
}
