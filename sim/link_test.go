package sim

import (
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/rigado/ssp"
	"github.com/rigado/ssp/hci"
	"github.com/rigado/ssp/hci/cmd"
	"github.com/rigado/ssp/hci/evt"
)

var (
	addrA = ssp.MustAddr("00:1b:dc:00:00:0a")
	addrB = ssp.MustAddr("00:1b:dc:00:00:0b")
)

type inbox struct {
	mu     sync.Mutex
	from   []ssp.Addr
	events []evt.Event
}

func (b *inbox) OnControllerEvent(a ssp.Addr, e evt.Event) error {
	b.mu.Lock()
	b.from = append(b.from, a)
	b.events = append(b.events, e)
	b.mu.Unlock()
	return nil
}

func (b *inbox) codes() []evt.Code {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]evt.Code, len(b.events))
	for i, e := range b.events {
		out[i] = e.Code()
	}
	return out
}

func newTestLink(t *testing.T) (*Link, *inbox, *inbox) {
	l := New(addrA, addrB)
	t.Cleanup(l.Close)
	a, b := &inbox{}, &inbox{}
	l.Attach(a, b)
	return l, a, b
}

func TestConnectionHandle(t *testing.T) {
	l, _, _ := newTestLink(t)

	h, err := l.A().ConnectionHandle(addrB)
	if err != nil || h != l.Handle() {
		t.Fatalf("handle 0x%04x, %v", h, err)
	}
	if _, err := l.A().ConnectionHandle(addrA); !errors.Is(err, ErrNoConnection) {
		t.Fatalf("own address: %v", err)
	}
	if l.B().Addr() != addrB {
		t.Fatalf("B is %s", l.B().Addr())
	}
}

func TestAuthenticationWithStoredKey(t *testing.T) {
	l, a, b := newTestLink(t)

	if err := l.A().Send(&cmd.AuthenticationRequested{ConnectionHandle: 0x99}); !errors.Is(err, ErrNoConnection) {
		t.Fatalf("wrong handle: %v", err)
	}
	if err := l.A().Send(&cmd.AuthenticationRequested{ConnectionHandle: l.Handle()}); err != nil {
		t.Fatal(err)
	}
	l.Flush()
	if got := a.codes(); len(got) != 1 || got[0] != evt.LinkKeyRequestCode {
		t.Fatalf("A got %v", got)
	}
	if a.from[0] != addrB {
		t.Fatalf("event attributed to %s", a.from[0])
	}

	if err := l.A().Send(&cmd.LinkKeyRequestReply{BDADDR: addrB.BDADDR()}); err != nil {
		t.Fatal(err)
	}
	l.Flush()
	ac, ok := a.events[1].(evt.AuthenticationComplete)
	if !ok || ac.Status != hci.StatusSuccess {
		t.Fatalf("expected successful authentication, got %#v", a.events[1])
	}
	if len(b.codes()) != 0 {
		t.Fatalf("B got %v", b.codes())
	}
}

func TestBusyWhilePairing(t *testing.T) {
	l, a, b := newTestLink(t)

	if err := l.A().Send(&cmd.AuthenticationRequested{ConnectionHandle: l.Handle()}); err != nil {
		t.Fatal(err)
	}
	if err := l.B().Send(&cmd.AuthenticationRequested{ConnectionHandle: l.Handle()}); err != nil {
		t.Fatal(err)
	}
	l.Flush()

	if len(a.codes()) != 1 {
		t.Fatalf("A got %v", a.codes())
	}
	ac, ok := b.events[0].(evt.AuthenticationComplete)
	if !ok || ac.Status != hci.StatusHostBusyPairing {
		t.Fatalf("expected busy, got %#v", b.events[0])
	}
}

func TestCapabilityExchange(t *testing.T) {
	l, a, b := newTestLink(t)

	if err := l.A().Send(&cmd.AuthenticationRequested{ConnectionHandle: l.Handle()}); err != nil {
		t.Fatal(err)
	}
	if err := l.A().Send(&cmd.LinkKeyRequestNegativeReply{BDADDR: addrB.BDADDR()}); err != nil {
		t.Fatal(err)
	}
	l.Flush()
	if got := a.codes(); len(got) != 2 || got[1] != evt.IOCapabilityRequestCode {
		t.Fatalf("A got %v", got)
	}

	reply := &cmd.IOCapabilityRequestReply{
		BDADDR:                     addrB.BDADDR(),
		IOCapability:               hci.IoCapKeyboardOnly,
		AuthenticationRequirements: hci.GeneralBondingMITM,
		PublicKey:                  make([]byte, 64),
	}
	if err := l.A().Send(reply); err != nil {
		t.Fatal(err)
	}
	l.Flush()

	got := b.codes()
	if len(got) != 2 || got[0] != evt.IOCapabilityResponseCode || got[1] != evt.IOCapabilityRequestCode {
		t.Fatalf("B got %v", got)
	}
	r := b.events[0].(evt.IOCapabilityResponse)
	if r.IOCapability != hci.IoCapKeyboardOnly || len(r.PublicKey) != 64 {
		t.Fatalf("response %#v", r)
	}
}

func TestNegativeCapabilityReplyFailsBothSides(t *testing.T) {
	l, a, b := newTestLink(t)

	for _, c := range []hci.Command{
		&cmd.AuthenticationRequested{ConnectionHandle: l.Handle()},
		&cmd.LinkKeyRequestNegativeReply{BDADDR: addrB.BDADDR()},
		&cmd.IOCapabilityRequestNegativeReply{BDADDR: addrB.BDADDR(), Reason: hci.StatusPairingNotAllowed},
	} {
		if err := l.A().Send(c); err != nil {
			t.Fatal(err)
		}
	}
	l.Flush()

	for name, in := range map[string]*inbox{"A": a, "B": b} {
		last := in.events[len(in.events)-1]
		spc, ok := last.(evt.SimplePairingComplete)
		if !ok || spc.Status != hci.StatusPairingNotAllowed {
			t.Fatalf("%s: expected failed simple pairing, got %#v", name, last)
		}
	}
}

func TestSendAfterClose(t *testing.T) {
	l := New(addrA, addrB)
	l.Close()
	if err := l.A().Send(&cmd.AuthenticationRequested{ConnectionHandle: l.Handle()}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	l.Flush()
}
