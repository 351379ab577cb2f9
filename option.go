package ssp

import (
	"time"

	"github.com/rigado/ssp/hci"
)

// ManagerOption is implemented by the pairing manager to accept configuration options.
type ManagerOption interface {
	SetLocalAddr(Addr) error
	SetIoCapability(hci.IoCapability) error
	SetAuthRequirements(hci.AuthRequirements) error
	SetSecureConnections(bool) error
	SetTimeouts(Timeouts) error
	SetObserver(interface{}) error
	SetClock(Clock) error
	SetLogger(Logger) error
	SetErrorHandler(handler func(error)) error
}

// An Option is a configuration function, which configures the manager.
type Option func(ManagerOption) error

// Timeouts bounds how long a pairing session waits in each phase.
type Timeouts struct {
	IoCapability time.Duration // capability exchange and authentication events
	User         time.Duration // user confirmation or passkey entry
	KeyExchange  time.Duration // link key request/notification
	Encryption   time.Duration // authentication complete and encryption change
}

func DefaultTimeouts() Timeouts {
	return Timeouts{
		IoCapability: 10 * time.Second,
		User:         30 * time.Second,
		KeyExchange:  10 * time.Second,
		Encryption:   10 * time.Second,
	}
}

// OptLocalAddr sets the local controller address, used to break initiator ties.
func OptLocalAddr(a Addr) Option {
	return func(opt ManagerOption) error {
		return opt.SetLocalAddr(a)
	}
}

// OptIoCapability sets the IO capability advertised to peers.
func OptIoCapability(c hci.IoCapability) Option {
	return func(opt ManagerOption) error {
		return opt.SetIoCapability(c)
	}
}

// OptAuthRequirements sets the bonding and MITM requirements advertised to peers.
func OptAuthRequirements(r hci.AuthRequirements) Option {
	return func(opt ManagerOption) error {
		return opt.SetAuthRequirements(r)
	}
}

// OptSecureConnections selects P-256 (true) or P-192 (false) key agreement.
func OptSecureConnections(on bool) Option {
	return func(opt ManagerOption) error {
		return opt.SetSecureConnections(on)
	}
}

func OptTimeouts(t Timeouts) Option {
	return func(opt ManagerOption) error {
		return opt.SetTimeouts(t)
	}
}

// OptObserver registers the receiver of user interaction requests and outcomes.
func OptObserver(o interface{}) Option {
	return func(opt ManagerOption) error {
		return opt.SetObserver(o)
	}
}

func OptClock(c Clock) Option {
	return func(opt ManagerOption) error {
		return opt.SetClock(c)
	}
}

func OptLogger(l Logger) Option {
	return func(opt ManagerOption) error {
		return opt.SetLogger(l)
	}
}

// OptErrorHandler sets the handler receiving dropped protocol errors.
func OptErrorHandler(handler func(error)) Option {
	return func(opt ManagerOption) error {
		return opt.SetErrorHandler(handler)
	}
}
