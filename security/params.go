package security

import (
	"time"

	"github.com/pkg/errors"
	"github.com/rigado/ssp"
	"github.com/rigado/ssp/hci"
	"github.com/rigado/ssp/pairing"
)

// minTimeout keeps a misconfigured deadline from expiring before the
// controller can answer.
const minTimeout = 100 * time.Millisecond

type params struct {
	localAddr         ssp.Addr
	ioCap             hci.IoCapability
	authReq           hci.AuthRequirements
	secureConnections bool
	timeouts          ssp.Timeouts

	observer     pairing.Observer
	clock        ssp.Clock
	logger       ssp.Logger
	errorHandler func(error)
}

func (p *params) init() {
	p.ioCap = hci.IoCapDisplayYesNo
	p.authReq = hci.GeneralBondingMITM
	p.secureConnections = true
	p.timeouts = ssp.DefaultTimeouts()
	p.observer = pairing.NopObserver{}
	p.clock = ssp.SystemClock{}
	p.logger = ssp.GetLogger()
}

func (p *params) validate() error {
	switch {
	case !p.ioCap.Valid():
		return errors.Errorf("invalid io capability %v", p.ioCap)
	case !p.authReq.Valid():
		return errors.Errorf("invalid authentication requirements %v", p.authReq)
	case p.observer == nil:
		return errors.New("observer nil")
	case p.clock == nil:
		return errors.New("clock nil")
	case p.logger == nil:
		return errors.New("logger nil")
	}
	return validateTimeouts(p.timeouts)
}

func validateTimeouts(t ssp.Timeouts) error {
	for _, v := range []struct {
		name string
		d    time.Duration
	}{
		{"io capability", t.IoCapability},
		{"user", t.User},
		{"key exchange", t.KeyExchange},
		{"encryption", t.Encryption},
	} {
		if v.d < minTimeout {
			return errors.Errorf("%s timeout %v below %v", v.name, v.d, minTimeout)
		}
	}
	return nil
}
