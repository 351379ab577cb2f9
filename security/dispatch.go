package security

import (
	"github.com/pkg/errors"
	"github.com/rigado/ssp"
	"github.com/rigado/ssp/hci"
	"github.com/rigado/ssp/hci/cmd"
	"github.com/rigado/ssp/hci/evt"
	"github.com/rigado/ssp/pairing"
)

// OnControllerEvent routes an event from the controller to the pairing with
// a, in arrival order. Events that cannot be accepted in the session's
// current state are dropped and passed to the error handler, as are events
// whose device address is not a.
func (m *Manager) OnControllerEvent(a ssp.Addr, e evt.Event) error {
	if e == nil {
		return errors.New("nil event")
	}
	if p, ok := e.Peer(); ok && p != a.BDADDR() {
		err := errors.Wrapf(ErrUnexpectedEvent, "%s: %s is addressed to %s", a, e.Code(), ssp.AddrFromBDADDR(p))
		m.report(err)
		return err
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	q := m.enqueueLocked(a, func() { m.dispatch(a, e) })
	m.mu.Unlock()

	m.run(a, q)
	return nil
}

// OnPacket decodes a raw HCI event packet from the link with a and routes it.
// Events outside the pairing vocabulary are ignored.
func (m *Manager) OnPacket(a ssp.Addr, p []byte) error {
	e, err := evt.Decode(p)
	switch {
	case errors.Is(err, evt.ErrUnsupported):
		m.log.Debugf("%s: %v", a, err)
		return nil
	case err != nil:
		return errors.Wrapf(err, "%s", a)
	}
	return m.OnControllerEvent(a, e)
}

// initiates reports whether e opens a remote initiated pairing.
func initiates(e evt.Event) bool {
	switch e.(type) {
	case evt.IOCapabilityRequest, evt.IOCapabilityResponse:
		return true
	}
	return false
}

func (m *Manager) dispatch(a ssp.Addr, e evt.Event) {
	var created bool

	m.mu.Lock()
	s := m.sessions[a]
	if s == nil && !m.closed && initiates(e) {
		var err error
		if s, err = m.newSessionLocked(a, false, nil); err != nil {
			m.mu.Unlock()
			m.report(errors.Wrapf(err, "%s", a))
			return
		}
		created = true
	}
	m.mu.Unlock()

	if s == nil {
		m.orphan(a, e)
		return
	}

	now := m.params.clock.Now()
	if created {
		m.log.Infof("%s started pairing", a)
		if err := s.Start(now); err != nil {
			m.report(errors.Wrapf(err, "%s", a))
		}
	}
	if err := s.Handle(now, e); err != nil {
		if errors.Is(err, pairing.ErrSessionClosed) {
			m.log.Debugf("%s: dropping %s, pairing already finished", a, e.Code())
		} else {
			m.report(errors.Wrapf(err, "%s", a))
		}
	}
	m.arm(s)
}

// orphan handles an event for a device with no pairing in progress.
func (m *Manager) orphan(a ssp.Addr, e evt.Event) {
	if _, ok := e.(evt.LinkKeyRequest); ok {
		m.replyLinkKey(a)
		return
	}
	m.log.Debugf("%s: dropping %s, no pairing in progress", a, e.Code())
}

// replyLinkKey answers the controller's request for a stored key. A record
// holding only an LE long term key is converted.
func (m *Manager) replyLinkKey(a ssp.Addr) {
	neg := &cmd.LinkKeyRequestNegativeReply{BDADDR: a.BDADDR()}

	r, ok, err := m.bonds.Get(a)
	switch {
	case err != nil:
		m.log.Errorf("%s: reading bond: %v", a, err)
		m.send(neg)
		return
	case !ok:
		m.log.Debugf("%s: no bond, link key request rejected", a)
		m.send(neg)
		return
	}

	reply := &cmd.LinkKeyRequestReply{BDADDR: a.BDADDR()}
	switch {
	case len(r.LinkKey) == len(reply.LinkKey):
		copy(reply.LinkKey[:], r.LinkKey)
	case len(r.LongTermKey) == len(reply.LinkKey):
		var ltk [16]byte
		copy(ltk[:], r.LongTermKey)
		lk, err := m.crypto.LinkKeyFromLTK(ltk)
		if err != nil {
			m.log.Errorf("%s: deriving link key: %v", a, err)
			m.send(neg)
			return
		}
		reply.LinkKey = lk
		m.log.Debugf("%s: link key derived from LE key", a)
	default:
		m.send(neg)
		return
	}
	m.send(reply)
}

func (m *Manager) send(c hci.Command) {
	if err := m.transport.Send(c); err != nil {
		m.report(errors.Wrapf(err, "send %s", cmd.Name(c.OpCode())))
	}
}
