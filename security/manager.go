package security

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rigado/ssp"
	"github.com/rigado/ssp/bond"
	"github.com/rigado/ssp/pairing"
	"github.com/rigado/ssp/sspcrypto"
)

var (
	ErrAlreadyPairing  = errors.New("security: pairing already in progress")
	ErrNoSession       = errors.New("security: no pairing in progress")
	ErrClosed          = errors.New("security: manager closed")
	ErrUnexpectedEvent = pairing.ErrUnexpectedEvent
	ErrInvalidPasskey  = pairing.ErrInvalidPasskey
)

// BondStore is the persistent record store the manager pairs against.
type BondStore interface {
	Get(a ssp.Addr) (bond.Record, bool, error)
	Put(a ssp.Addr, r bond.Record) error
	Remove(a ssp.Addr) (bool, error)
}

// PairingOptions tune a locally initiated pairing.
type PairingOptions struct {
	// OOB is the peer's out of band data. It takes precedence over data
	// registered with SetRemoteOOBData.
	OOB *pairing.OOBData
}

type timer struct {
	s *pairing.Session
	t ssp.Timer
}

// Manager owns every pairing session of a local controller. It routes
// controller events to the session of the originating device, creating
// sessions for remote pairing requests, and runs each device's work in
// order while different devices proceed concurrently.
type Manager struct {
	params

	transport pairing.Transport
	bonds     BondStore
	crypto    sspcrypto.Adapter
	log       ssp.Logger

	mu       sync.Mutex
	sessions map[ssp.Addr]*pairing.Session
	queues   map[ssp.Addr]*serial
	timers   map[ssp.Addr]timer
	oob      map[ssp.Addr]pairing.OOBData
	attempts map[ssp.Addr]int
	oobKeys  *sspcrypto.KeyPair
	closed   bool
}

// New returns a manager sending commands through t and persisting bonds in bonds.
func New(t pairing.Transport, bonds BondStore, opts ...ssp.Option) (*Manager, error) {
	if t == nil {
		return nil, errors.New("transport nil")
	}
	if bonds == nil {
		return nil, errors.New("bond store nil")
	}
	m := &Manager{
		transport: t,
		bonds:     bonds,
		crypto:    sspcrypto.Default{},
		sessions:  map[ssp.Addr]*pairing.Session{},
		queues:    map[ssp.Addr]*serial{},
		timers:    map[ssp.Addr]timer{},
		oob:       map[ssp.Addr]pairing.OOBData{},
		attempts:  map[ssp.Addr]int{},
	}
	m.params.init()
	if err := m.Option(opts...); err != nil {
		return nil, errors.Wrap(err, "can't set options")
	}
	if err := m.params.validate(); err != nil {
		return nil, errors.Wrap(err, "invalid options")
	}
	m.log = m.params.logger.ChildLogger(map[string]interface{}{"local": m.params.localAddr.String()})
	return m, nil
}

// enqueueLocked appends f to the device's queue. The caller must pass the
// returned queue to run once m.mu is released.
func (m *Manager) enqueueLocked(a ssp.Addr, f func()) *serial {
	q, ok := m.queues[a]
	if !ok {
		q = &serial{}
		m.queues[a] = q
	}
	q.refs++
	q.push(f)
	return q
}

func (m *Manager) run(a ssp.Addr, q *serial) {
	q.drain()

	m.mu.Lock()
	q.refs--
	if q.refs == 0 && m.sessions[a] == nil {
		delete(m.queues, a)
	}
	m.mu.Unlock()
}

func (m *Manager) submit(a ssp.Addr, f func()) {
	m.mu.Lock()
	q := m.enqueueLocked(a, f)
	m.mu.Unlock()
	m.run(a, q)
}

// newSessionLocked builds a session for a and registers it.
func (m *Manager) newSessionLocked(a ssp.Addr, local bool, oob *pairing.OOBData) (*pairing.Session, error) {
	if oob == nil {
		if d, ok := m.oob[a]; ok {
			oob = &d
		}
	}
	m.attempts[a]++

	var s *pairing.Session
	s, err := pairing.NewSession(pairing.Config{
		Local:             m.params.localAddr,
		Remote:            a,
		LocalInitiated:    local,
		IoCapability:      m.params.ioCap,
		AuthRequirements:  m.params.authReq,
		SecureConnections: m.params.secureConnections,
		OOB:               oob,
		Keys:              m.oobKeys,
		Timeouts:          m.params.timeouts,
		Attempt:           m.attempts[a],
		Crypto:            m.crypto,
		Transport:         m.transport,
		Bonds:             m.bonds,
		Observer:          m.params.observer,
		Logger:            m.log,
		Release:           func() { m.release(s) },
	})
	if err != nil {
		return nil, err
	}
	m.sessions[a] = s
	return s, nil
}

// release drops a finished session from the registry. It runs before the
// outcome is reported, so the observer may start a new pairing right away.
func (m *Manager) release(s *pairing.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a := s.Addr()
	if m.sessions[a] == s {
		delete(m.sessions, a)
	}
	if t, ok := m.timers[a]; ok && t.s == s {
		t.t.Stop()
		delete(m.timers, a)
	}
}

// arm schedules the expiry of the session's current deadline. It runs
// after every operation applied to the session.
func (m *Manager) arm(s *pairing.Session) {
	d, ok := s.Deadline()

	m.mu.Lock()
	defer m.mu.Unlock()

	a := s.Addr()
	if t, exists := m.timers[a]; exists {
		t.t.Stop()
		delete(m.timers, a)
	}
	if !ok || m.sessions[a] != s {
		return
	}
	m.timers[a] = timer{
		s: s,
		t: m.params.clock.AfterFunc(d.Sub(m.params.clock.Now()), func() {
			m.submit(a, func() { m.expire(s, d) })
		}),
	}
}

// expire delivers a deadline through the device's queue. A deadline that
// was replaced since the timer was armed is stale and ignored.
func (m *Manager) expire(s *pairing.Session, d time.Time) {
	cur, ok := s.Deadline()
	if !ok || !cur.Equal(d) {
		return
	}
	s.Expire(m.params.clock.Now())
	m.arm(s)
}

func (m *Manager) report(err error) {
	m.log.Warnf("%v", err)
	if m.params.errorHandler != nil {
		m.params.errorHandler(err)
	}
}

// lookup returns the active session for a.
func (m *Manager) lookup(a ssp.Addr) (*pairing.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	s, ok := m.sessions[a]
	if !ok {
		return nil, errors.Wrapf(ErrNoSession, "%s", a)
	}
	return s, nil
}

// apply runs op on the session's queue if the session is still active by
// then. Errors are reported through the error handler.
func (m *Manager) apply(s *pairing.Session, op func(now time.Time) error) {
	m.submit(s.Addr(), func() {
		if s.Done() {
			return
		}
		if err := op(m.params.clock.Now()); err != nil {
			m.report(errors.Wrapf(err, "%s", s.Addr()))
		}
		m.arm(s)
	})
}

// RequestPairing starts a locally initiated pairing with a.
func (m *Manager) RequestPairing(a ssp.Addr, o PairingOptions) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if _, ok := m.sessions[a]; ok {
		m.mu.Unlock()
		return errors.Wrapf(ErrAlreadyPairing, "%s", a)
	}
	s, err := m.newSessionLocked(a, true, o.OOB)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	q := m.enqueueLocked(a, func() { m.start(s) })
	m.mu.Unlock()

	m.run(a, q)
	return nil
}

func (m *Manager) start(s *pairing.Session) {
	if err := s.Start(m.params.clock.Now()); err != nil {
		m.report(errors.Wrapf(err, "%s", s.Addr()))
	}
	m.arm(s)
}

// CancelPairing ends the pairing with a. The outcome is Cancelled.
func (m *Manager) CancelPairing(a ssp.Addr) error {
	s, err := m.lookup(a)
	if err != nil {
		return err
	}
	m.apply(s, func(now time.Time) error {
		s.Cancel(now)
		return nil
	})
	return nil
}

// ConfirmPairing answers a numeric comparison request for a.
func (m *Manager) ConfirmPairing(a ssp.Addr, accept bool) error {
	s, err := m.lookup(a)
	if err != nil {
		return err
	}
	m.apply(s, func(now time.Time) error { return s.Confirm(now, accept) })
	return nil
}

// EnterPasskey answers a passkey request for a. A passkey above
// pairing.MaxPasskey is refused and the session is left waiting.
func (m *Manager) EnterPasskey(a ssp.Addr, passkey uint32) error {
	s, err := m.lookup(a)
	if err != nil {
		return err
	}
	if passkey > pairing.MaxPasskey {
		return errors.Wrapf(pairing.ErrInvalidPasskey, "%s: %d", a, passkey)
	}
	m.apply(s, func(now time.Time) error { return s.EnterPasskey(now, passkey) })
	return nil
}

// SetRemoteOOBData registers out of band data received from a. It is used
// by every later pairing with a, whichever side initiates.
func (m *Manager) SetRemoteOOBData(a ssp.Addr, d pairing.OOBData) {
	m.mu.Lock()
	m.oob[a] = d
	m.mu.Unlock()
}

// LocalOOBData returns the commitment and randomizer a peer needs to pair
// with this device out of band. The key pair behind them is used by every
// later pairing until LocalOOBData is called again.
func (m *Manager) LocalOOBData() (pairing.OOBData, error) {
	curve := sspcrypto.P192
	if m.params.secureConnections {
		curve = sspcrypto.P256
	}
	k, err := m.crypto.GenerateKeyPair(curve)
	if err != nil {
		return pairing.OOBData{}, err
	}
	r, err := m.crypto.Nonce()
	if err != nil {
		return pairing.OOBData{}, err
	}
	c, err := m.crypto.F1(k.X(), k.X(), r, 0)
	if err != nil {
		return pairing.OOBData{}, err
	}

	m.mu.Lock()
	m.oobKeys = k
	m.mu.Unlock()
	return pairing.OOBData{C: c, R: r}, nil
}

// ClearRemoteOOBData forgets the out of band data registered for a.
func (m *Manager) ClearRemoteOOBData(a ssp.Addr) {
	m.mu.Lock()
	delete(m.oob, a)
	m.mu.Unlock()
}

// State returns the state of the pairing with a, if one is in progress.
func (m *Manager) State(a ssp.Addr) (pairing.State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[a]
	if !ok {
		return pairing.StateIdle, false
	}
	return s.State(), true
}

func (m *Manager) IsPairing(a ssp.Addr) bool {
	_, ok := m.State(a)
	return ok
}

// Pairing lists the devices with a pairing in progress.
func (m *Manager) Pairing() []ssp.Addr {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ssp.Addr, 0, len(m.sessions))
	for a := range m.sessions {
		out = append(out, a)
	}
	return out
}

// Bond returns the stored record for a.
func (m *Manager) Bond(a ssp.Addr) (bond.Record, bool, error) {
	return m.bonds.Get(a)
}

// RemoveBond deletes the record for a and tells the observer. It reports
// whether a record existed.
func (m *Manager) RemoveBond(a ssp.Addr) (bool, error) {
	removed, err := m.bonds.Remove(a)
	if err != nil {
		return false, err
	}
	if removed {
		m.log.Infof("bond with %s removed", a)
		m.submit(a, func() { m.params.observer.BondRemoved(a) })
	}
	return removed, nil
}

// Close cancels every pairing in progress and refuses new work.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	active := make([]*pairing.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		active = append(active, s)
	}
	m.mu.Unlock()

	for _, s := range active {
		s := s
		m.apply(s, func(now time.Time) error {
			s.Cancel(now)
			return nil
		})
	}
	return nil
}
