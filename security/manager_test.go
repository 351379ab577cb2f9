package security

import (
	"bytes"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/rigado/ssp"
	"github.com/rigado/ssp/bond"
	"github.com/rigado/ssp/hci"
	"github.com/rigado/ssp/hci/cmd"
	"github.com/rigado/ssp/hci/evt"
	"github.com/rigado/ssp/pairing"
	"github.com/rigado/ssp/sspcrypto"
)

func newManager(t *testing.T, w *wire, bonds BondStore, obs *watcher, opts ...ssp.Option) *Manager {
	t.Helper()
	opts = append([]ssp.Option{
		ssp.OptLocalAddr(addrA),
		ssp.OptObserver(obs),
		ssp.OptLogger(quiet),
	}, opts...)
	m, err := New(w, bonds, opts...)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestNewRejectsBadOptions(t *testing.T) {
	w := newWire(addrB)
	short := ssp.DefaultTimeouts()
	short.User = time.Millisecond

	for name, opt := range map[string]ssp.Option{
		"timeouts":     ssp.OptTimeouts(short),
		"io":           ssp.OptIoCapability(hci.IoCapability(9)),
		"auth":         ssp.OptAuthRequirements(hci.AuthRequirements(0x20)),
		"observer":     ssp.OptObserver("not an observer"),
		"nil observer": ssp.OptObserver(nil),
	} {
		if _, err := New(w, newStore(), opt); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
	if _, err := New(nil, newStore()); err == nil {
		t.Error("nil transport accepted")
	}
	if _, err := New(w, nil); err == nil {
		t.Error("nil bond store accepted")
	}
}

func TestRequestPairingSendsAuthenticationRequested(t *testing.T) {
	w := newWire(addrB)
	m := newManager(t, w, newStore(), newWatcher())

	if err := m.RequestPairing(addrB, PairingOptions{}); err != nil {
		t.Fatal(err)
	}
	c, ok := lastCommand(t, w).(*cmd.AuthenticationRequested)
	if !ok {
		t.Fatalf("expected AuthenticationRequested, got %T", w.last())
	}
	if c.ConnectionHandle != 0x40 {
		t.Fatalf("handle 0x%04x", c.ConnectionHandle)
	}
	st, ok := m.State(addrB)
	if !ok || st != pairing.StateIoCapabilityExchange {
		t.Fatalf("state %s, active %v", st, ok)
	}
	if got := m.Pairing(); len(got) != 1 || got[0] != addrB {
		t.Fatalf("pairing %v", got)
	}
}

func TestRequestPairingTwice(t *testing.T) {
	w := newWire(addrB)
	obs := newWatcher()
	m := newManager(t, w, newStore(), obs)

	if err := m.RequestPairing(addrB, PairingOptions{}); err != nil {
		t.Fatal(err)
	}
	if err := m.RequestPairing(addrB, PairingOptions{}); !errors.Is(err, ErrAlreadyPairing) {
		t.Fatalf("expected ErrAlreadyPairing, got %v", err)
	}
	if err := m.CancelPairing(addrB); err != nil {
		t.Fatal(err)
	}
	if o := obs.outcome(t, addrB); o.Kind != pairing.OutcomeCancelled {
		t.Fatalf("outcome %s", o)
	}
	if m.IsPairing(addrB) {
		t.Fatal("session still registered after cancel")
	}
	if err := m.RequestPairing(addrB, PairingOptions{}); err != nil {
		t.Fatalf("pairing again: %v", err)
	}
}

func TestNoSession(t *testing.T) {
	m := newManager(t, newWire(addrB), newStore(), newWatcher())

	if err := m.CancelPairing(addrB); !errors.Is(err, ErrNoSession) {
		t.Fatalf("cancel: %v", err)
	}
	if err := m.ConfirmPairing(addrB, true); !errors.Is(err, ErrNoSession) {
		t.Fatalf("confirm: %v", err)
	}
	if err := m.EnterPasskey(addrB, 1234); !errors.Is(err, ErrNoSession) {
		t.Fatalf("passkey: %v", err)
	}
}

func TestConfirmWhileNotAwaitingUser(t *testing.T) {
	var log errorLog
	w := newWire(addrB)
	m := newManager(t, w, newStore(), newWatcher(), ssp.OptErrorHandler(log.handle))

	if err := m.RequestPairing(addrB, PairingOptions{}); err != nil {
		t.Fatal(err)
	}
	if err := m.ConfirmPairing(addrB, true); err != nil {
		t.Fatal(err)
	}
	errs := log.all()
	if len(errs) != 1 || !errors.Is(errs[0], pairing.ErrNotAwaitingUser) {
		t.Fatalf("errors %v", errs)
	}
	if !m.IsPairing(addrB) {
		t.Fatal("session ended by a stray confirmation")
	}
}

func TestUnexpectedEventReported(t *testing.T) {
	var log errorLog
	w := newWire(addrB)
	obs := newWatcher()
	m := newManager(t, w, newStore(), obs, ssp.OptErrorHandler(log.handle))

	if err := m.RequestPairing(addrB, PairingOptions{}); err != nil {
		t.Fatal(err)
	}
	sent := w.count()
	err := m.OnControllerEvent(addrB, evt.EncryptionChange{ConnectionHandle: 0x40, EncryptionEnabled: 1})
	if err != nil {
		t.Fatal(err)
	}

	errs := log.all()
	if len(errs) != 1 || !errors.Is(errs[0], ErrUnexpectedEvent) {
		t.Fatalf("errors %v", errs)
	}
	if st, _ := m.State(addrB); st != pairing.StateIoCapabilityExchange {
		t.Fatalf("state %s", st)
	}
	if w.count() != sent {
		t.Fatal("unexpected event produced a command")
	}
	if obs.interactions() != 0 {
		t.Fatal("observer was called")
	}
}

func TestEventForAnotherDevice(t *testing.T) {
	var log errorLog
	w := newWire(addrB, addrC)
	obs := newWatcher()
	m := newManager(t, w, newStore(), obs, ssp.OptErrorHandler(log.handle))

	if err := m.RequestPairing(addrB, PairingOptions{}); err != nil {
		t.Fatal(err)
	}
	sent := w.count()
	err := m.OnControllerEvent(addrB, evt.IOCapabilityRequest{BDADDR: addrC.BDADDR()})
	if !errors.Is(err, ErrUnexpectedEvent) {
		t.Fatalf("expected ErrUnexpectedEvent, got %v", err)
	}
	if errs := log.all(); len(errs) != 1 || !errors.Is(errs[0], ErrUnexpectedEvent) {
		t.Fatalf("errors %v", errs)
	}
	if w.count() != sent {
		t.Fatal("misaddressed event produced a command")
	}
	if m.IsPairing(addrC) {
		t.Fatal("misaddressed event started pairing")
	}

	// Events without a device address are routed by a alone.
	if err := m.OnControllerEvent(addrB, evt.AuthenticationComplete{Status: hci.StatusAuthenticationFailure, ConnectionHandle: 0x40}); err != nil {
		t.Fatal(err)
	}
	if o := obs.outcome(t, addrB); o.Kind != pairing.OutcomeFailure {
		t.Fatalf("outcome %s", o)
	}
}

func TestEnterPasskeyOutOfRange(t *testing.T) {
	var log errorLog
	w := newWire(addrB)
	m := newManager(t, w, newStore(), newWatcher(), ssp.OptErrorHandler(log.handle))

	if err := m.RequestPairing(addrB, PairingOptions{}); err != nil {
		t.Fatal(err)
	}
	sent := w.count()
	if err := m.EnterPasskey(addrB, pairing.MaxPasskey+1); !errors.Is(err, ErrInvalidPasskey) {
		t.Fatalf("expected ErrInvalidPasskey, got %v", err)
	}
	if len(log.all()) != 0 {
		t.Fatalf("errors %v", log.all())
	}
	if w.count() != sent || !m.IsPairing(addrB) {
		t.Fatal("refused passkey reached the session")
	}
}

func TestLateLinkKeyNotificationAfterCancel(t *testing.T) {
	var log errorLog
	w := newWire(addrB)
	obs := newWatcher()
	store := newStore()
	m := newManager(t, w, store, obs, ssp.OptErrorHandler(log.handle))

	if err := m.RequestPairing(addrB, PairingOptions{}); err != nil {
		t.Fatal(err)
	}
	if err := m.CancelPairing(addrB); err != nil {
		t.Fatal(err)
	}
	sent := w.count()

	lkn := evt.LinkKeyNotification{BDADDR: addrB.BDADDR(), KeyType: hci.KeyTypeAuthenticatedP256}
	lkn.LinkKey[0] = 0x42
	if err := m.OnControllerEvent(addrB, lkn); err != nil {
		t.Fatal(err)
	}

	if o := obs.outcome(t, addrB); o.Kind != pairing.OutcomeCancelled {
		t.Fatalf("outcome %s", o)
	}
	if errs := log.all(); len(errs) != 0 {
		t.Fatalf("late event reported: %v", errs)
	}
	if _, ok, _ := store.Get(addrB); ok {
		t.Fatal("late key was stored")
	}
	if w.count() != sent {
		t.Fatal("late event produced a command")
	}
}

func TestOrphanLinkKeyRequest(t *testing.T) {
	key := bytes.Repeat([]byte{0xa5}, 16)
	ltk := [16]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	derived, err := sspcrypto.Default{}.LinkKeyFromLTK(ltk)
	if err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		name   string
		record *bond.Record
		want   []byte
	}{
		{"no bond", nil, nil},
		{"link key", &bond.Record{Addr: addrB, LinkKey: key, KeyType: hci.KeyTypeAuthenticatedP256}, key},
		{"le key", &bond.Record{Addr: addrB, LongTermKey: ltk[:]}, derived[:]},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			w := newWire(addrB)
			store := newStore()
			if c.record != nil {
				if err := store.Put(addrB, *c.record); err != nil {
					t.Fatal(err)
				}
			}
			m := newManager(t, w, store, newWatcher())

			if err := m.OnControllerEvent(addrB, evt.LinkKeyRequest{BDADDR: addrB.BDADDR()}); err != nil {
				t.Fatal(err)
			}
			if m.IsPairing(addrB) {
				t.Fatal("link key request created a session")
			}
			switch r := lastCommand(t, w).(type) {
			case *cmd.LinkKeyRequestReply:
				if c.want == nil {
					t.Fatal("expected a negative reply")
				}
				if !bytes.Equal(r.LinkKey[:], c.want) {
					t.Fatalf("key %x, want %x", r.LinkKey, c.want)
				}
				if r.BDADDR != addrB.BDADDR() {
					t.Fatal("reply addressed to the wrong device")
				}
			case *cmd.LinkKeyRequestNegativeReply:
				if c.want != nil {
					t.Fatal("expected a key")
				}
			default:
				t.Fatalf("unexpected command %T", r)
			}
		})
	}
}

func TestRemoteInitiatedPairing(t *testing.T) {
	w := newWire(addrB)
	m := newManager(t, w, newStore(), newWatcher())

	if err := m.OnControllerEvent(addrB, evt.IOCapabilityRequest{BDADDR: addrB.BDADDR()}); err != nil {
		t.Fatal(err)
	}
	st, ok := m.State(addrB)
	if !ok || st != pairing.StateIoCapabilityExchange {
		t.Fatalf("state %s, active %v", st, ok)
	}
	r, ok := lastCommand(t, w).(*cmd.IOCapabilityRequestReply)
	if !ok {
		t.Fatalf("expected io capability reply, got %T", w.last())
	}
	if r.IOCapability != hci.IoCapDisplayYesNo || r.AuthenticationRequirements != hci.GeneralBondingMITM {
		t.Fatalf("advertised %s %s", r.IOCapability, r.AuthenticationRequirements)
	}
	if len(r.PublicKey) != 2*sspcrypto.P256.Size() {
		t.Fatalf("public key %d bytes", len(r.PublicKey))
	}
	if w.count() != 1 {
		t.Fatalf("%d commands sent, responder must not request authentication", w.count())
	}
}

func TestRemoteInitiatedByResponse(t *testing.T) {
	w := newWire(addrB)
	m := newManager(t, w, newStore(), newWatcher())

	k, err := sspcrypto.GenerateKeyPair(sspcrypto.P256)
	if err != nil {
		t.Fatal(err)
	}
	e := evt.IOCapabilityResponse{
		BDADDR:                     addrB.BDADDR(),
		IOCapability:               hci.IoCapNoInputNoOutput,
		AuthenticationRequirements: hci.GeneralBonding,
		PublicKey:                  k.Public,
	}
	if err := m.OnControllerEvent(addrB, e); err != nil {
		t.Fatal(err)
	}
	if !m.IsPairing(addrB) {
		t.Fatal("no session created")
	}
	if w.count() != 0 {
		t.Fatalf("%d commands sent before the capability request", w.count())
	}
}

func TestOnPacket(t *testing.T) {
	w := newWire(addrB)
	m := newManager(t, w, newStore(), newWatcher())

	b := addrB.BDADDR()
	if err := m.OnPacket(addrB, append([]byte{0x31, 6}, b[:]...)); err != nil {
		t.Fatal(err)
	}
	if !m.IsPairing(addrB) {
		t.Fatal("io capability request packet did not start pairing")
	}

	// Command Complete is not part of pairing.
	if err := m.OnPacket(addrC, []byte{0x0e, 4, 1, 0x0c, 0x0c, 0}); err != nil {
		t.Fatalf("unsupported event: %v", err)
	}
	if m.IsPairing(addrC) {
		t.Fatal("unsupported event started pairing")
	}

	if err := m.OnPacket(addrC, []byte{0x31, 2, 1, 2}); !errors.Is(err, evt.ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestTimeout(t *testing.T) {
	clk := newFakeClock()
	w := newWire(addrB)
	obs := newWatcher()
	m := newManager(t, w, newStore(), obs, ssp.OptClock(clk))

	if err := m.RequestPairing(addrB, PairingOptions{}); err != nil {
		t.Fatal(err)
	}
	clk.Advance(9 * time.Second)
	if !m.IsPairing(addrB) {
		t.Fatal("expired early")
	}
	clk.Advance(time.Second)

	o := obs.outcome(t, addrB)
	if o.Kind != pairing.OutcomeTimedOut || !errors.Is(o.Err, pairing.ErrTimeout) {
		t.Fatalf("outcome %s", o)
	}
	if m.IsPairing(addrB) {
		t.Fatal("timed out session still registered")
	}
}

func TestTimeoutRefreshedByProgress(t *testing.T) {
	clk := newFakeClock()
	w := newWire(addrB)
	obs := newWatcher()
	m := newManager(t, w, newStore(), obs, ssp.OptClock(clk))

	if err := m.RequestPairing(addrB, PairingOptions{}); err != nil {
		t.Fatal(err)
	}
	clk.Advance(5 * time.Second)
	if err := m.OnControllerEvent(addrB, evt.IOCapabilityRequest{BDADDR: addrB.BDADDR()}); err != nil {
		t.Fatal(err)
	}

	// The first deadline has passed but was replaced.
	clk.Advance(6 * time.Second)
	if !m.IsPairing(addrB) {
		t.Fatal("expired on a replaced deadline")
	}
	clk.Advance(4 * time.Second)
	if o := obs.outcome(t, addrB); o.Kind != pairing.OutcomeTimedOut {
		t.Fatalf("outcome %s", o)
	}
}

func TestStaleExpiryIgnored(t *testing.T) {
	clk := newFakeClock()
	w := newWire(addrB)
	obs := newWatcher()
	m := newManager(t, w, newStore(), obs, ssp.OptClock(clk))

	if err := m.RequestPairing(addrB, PairingOptions{}); err != nil {
		t.Fatal(err)
	}
	m.mu.Lock()
	s := m.sessions[addrB]
	m.mu.Unlock()
	d, _ := s.Deadline()

	clk.Advance(time.Second)
	if err := m.OnControllerEvent(addrB, evt.IOCapabilityRequest{BDADDR: addrB.BDADDR()}); err != nil {
		t.Fatal(err)
	}

	// An expiry that raced with the event above carries the old deadline.
	m.submit(addrB, func() { m.expire(s, d) })
	if !m.IsPairing(addrB) {
		t.Fatal("stale expiry ended the session")
	}
}

func TestObserverMayPairAgain(t *testing.T) {
	w := newWire(addrB)
	obs := newWatcher()
	m := newManager(t, w, newStore(), obs)

	var again error
	retried := false
	obs.onComplete = func(a ssp.Addr, o pairing.Outcome) {
		if retried {
			return
		}
		retried = true
		again = m.RequestPairing(a, PairingOptions{})
	}

	if err := m.RequestPairing(addrB, PairingOptions{}); err != nil {
		t.Fatal(err)
	}
	if err := m.CancelPairing(addrB); err != nil {
		t.Fatal(err)
	}
	if again != nil {
		t.Fatalf("pairing from the observer: %v", again)
	}
	if !m.IsPairing(addrB) {
		t.Fatal("second pairing not running")
	}
}

func TestNotConnected(t *testing.T) {
	obs := newWatcher()
	m := newManager(t, newWire(addrB), newStore(), obs)

	if err := m.RequestPairing(addrC, PairingOptions{}); err != nil {
		t.Fatal(err)
	}
	o := obs.outcome(t, addrC)
	if o.Kind != pairing.OutcomeFailure || o.Reason != pairing.ReasonCommandFailed {
		t.Fatalf("outcome %s", o)
	}
	if m.IsPairing(addrC) {
		t.Fatal("failed session still registered")
	}
}

func TestRemoveBond(t *testing.T) {
	store := newStore()
	obs := newWatcher()
	m := newManager(t, newWire(addrB), store, obs)

	r := bond.Record{Addr: addrB, LinkKey: bytes.Repeat([]byte{1}, 16), KeyType: hci.KeyTypeUnauthenticatedP256}
	if err := store.Put(addrB, r); err != nil {
		t.Fatal(err)
	}
	if _, ok, err := m.Bond(addrB); err != nil || !ok {
		t.Fatalf("bond missing: %v", err)
	}

	removed, err := m.RemoveBond(addrB)
	if err != nil || !removed {
		t.Fatalf("removed %v, %v", removed, err)
	}
	if len(obs.removed) != 1 || obs.removed[0] != addrB {
		t.Fatalf("observer told %v", obs.removed)
	}

	removed, err = m.RemoveBond(addrB)
	if err != nil || removed {
		t.Fatalf("second remove: %v, %v", removed, err)
	}
	if len(obs.removed) != 1 {
		t.Fatal("observer told about a missing bond")
	}
}

func TestPolicy(t *testing.T) {
	store := newStore()
	w := newWire(addrB, addrC)
	m := newManager(t, w, store, newWatcher())

	if ok, err := m.CheckPolicy(addrB, BestEffort); err != nil || !ok {
		t.Fatalf("best effort: %v, %v", ok, err)
	}
	if ok, err := m.CheckPolicy(addrB, AuthenticatedEncryptedTransport); err != nil || ok {
		t.Fatalf("no bond: %v, %v", ok, err)
	}
	if _, err := m.CheckPolicy(addrB, Policy(7)); err == nil {
		t.Fatal("unknown policy accepted")
	}

	weak := bond.Record{Addr: addrC, LinkKey: bytes.Repeat([]byte{2}, 16), KeyType: hci.KeyTypeUnauthenticatedP256}
	if err := store.Put(addrC, weak); err != nil {
		t.Fatal(err)
	}
	if ok, _ := m.CheckPolicy(addrC, AuthenticatedEncryptedTransport); ok {
		t.Fatal("unauthenticated key meets the policy")
	}

	ok, err := m.EnforcePolicy(addrC, AuthenticatedEncryptedTransport)
	if err != nil || ok {
		t.Fatalf("enforce: %v, %v", ok, err)
	}
	if !m.IsPairing(addrC) {
		t.Fatal("enforcing the policy did not start pairing")
	}
	if _, err := m.EnforcePolicy(addrC, AuthenticatedEncryptedTransport); err != nil {
		t.Fatalf("enforce while pairing: %v", err)
	}

	strong := bond.Record{Addr: addrB, LinkKey: bytes.Repeat([]byte{3}, 16), KeyType: hci.KeyTypeAuthenticatedP256}
	if err := store.Put(addrB, strong); err != nil {
		t.Fatal(err)
	}
	sent := w.count()
	if ok, err := m.EnforcePolicy(addrB, AuthenticatedEncryptedTransport); err != nil || !ok {
		t.Fatalf("authenticated bond: %v, %v", ok, err)
	}
	if w.count() != sent || m.IsPairing(addrB) {
		t.Fatal("pairing started although the policy holds")
	}
}

func TestClose(t *testing.T) {
	w := newWire(addrB, addrC)
	obs := newWatcher()
	m := newManager(t, w, newStore(), obs)

	for _, a := range []ssp.Addr{addrB, addrC} {
		if err := m.RequestPairing(a, PairingOptions{}); err != nil {
			t.Fatal(err)
		}
	}
	if err := m.Close(); err != nil {
		t.Fatal(err)
	}
	for _, a := range []ssp.Addr{addrB, addrC} {
		if o := obs.outcome(t, a); o.Kind != pairing.OutcomeCancelled {
			t.Fatalf("%s: outcome %s", a, o)
		}
	}
	if len(m.Pairing()) != 0 {
		t.Fatalf("sessions left: %v", m.Pairing())
	}
	if err := m.RequestPairing(addrB, PairingOptions{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("request after close: %v", err)
	}
	if err := m.OnControllerEvent(addrB, evt.IOCapabilityRequest{BDADDR: addrB.BDADDR()}); !errors.Is(err, ErrClosed) {
		t.Fatalf("event after close: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}
