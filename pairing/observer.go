package pairing

import (
	"github.com/rigado/ssp"
	"github.com/rigado/ssp/hci"
)

// Observer receives user interaction requests and outcomes. Callbacks run on
// the goroutine processing the device's events; answers (confirmation,
// passkey) are given back through the manager, possibly from within the
// callback.
type Observer interface {
	DisplayPasskey(a ssp.Addr, passkey uint32)
	RequestConfirmation(a ssp.Addr, value uint32)
	RequestPasskey(a ssp.Addr)
	Keypress(a ssp.Addr, t hci.KeypressType)
	PairingComplete(a ssp.Addr, o Outcome)
	BondRemoved(a ssp.Addr)
}

// NopObserver ignores everything. Embed it to implement a subset of Observer.
type NopObserver struct{}

func (NopObserver) DisplayPasskey(ssp.Addr, uint32) {}
func (NopObserver) RequestConfirmation(ssp.Addr, uint32) {}
func (NopObserver) RequestPasskey(ssp.Addr) {}
func (NopObserver) Keypress(ssp.Addr, hci.KeypressType) {}
func (NopObserver) PairingComplete(ssp.Addr, Outcome) {}
func (NopObserver) BondRemoved(ssp.Addr) {}

// OOBData is the peer's commitment C and randomizer R received out of band.
type OOBData struct {
	C [16]byte
	R [16]byte
}
