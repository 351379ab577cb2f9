package pairing

import (
	"crypto/subtle"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rigado/ssp"
	"github.com/rigado/ssp/bond"
	"github.com/rigado/ssp/hci"
	"github.com/rigado/ssp/hci/cmd"
	"github.com/rigado/ssp/hci/evt"
	"github.com/rigado/ssp/sspcrypto"
)

// Transport sends HCI commands to the local controller.
type Transport interface {
	Send(c hci.Command) error
	ConnectionHandle(a ssp.Addr) (uint16, error)
}

// BondWriter persists the record of a completed pairing.
type BondWriter interface {
	Put(a ssp.Addr, r bond.Record) error
}

// Config describes one pairing attempt. Crypto, Transport and Bonds are required.
type Config struct {
	Local          ssp.Addr
	Remote         ssp.Addr
	LocalInitiated bool

	IoCapability      hci.IoCapability
	AuthRequirements  hci.AuthRequirements
	SecureConnections bool
	Timeouts          ssp.Timeouts
	Attempt           int

	// OOB is the peer's data received out of band, nil if none.
	OOB *OOBData
	// Keys is the local key pair published out of band, nil for a fresh one.
	Keys *sspcrypto.KeyPair

	Crypto    sspcrypto.Adapter
	Transport Transport
	Bonds     BondWriter
	Observer  Observer
	Logger    ssp.Logger

	// Release, if set, runs once after the session reaches a terminal state
	// and before the observer learns the outcome.
	Release func()
}

// Session is the state machine for one pairing attempt with one peer.
// It is not safe for concurrent use; the caller serializes Start, Handle,
// Confirm, EnterPasskey, Cancel and Expire. State may be read at any time.
type Session struct {
	cfg Config
	id  string
	log ssp.Logger

	published int32
	state     State
	model     Model
	deadline  time.Time
	now       time.Time
	done      bool

	localInitiated bool
	sentCaps       bool
	haveCaps       bool
	remoteIo       hci.IoCapability
	remoteAuth     hci.AuthRequirements
	remoteOOB      hci.OOBDataPresent

	keys       *sspcrypto.KeyPair
	nonce      [16]byte
	commitment [16]byte
	peerKey    []byte
	peerCommit [16]byte
	peerNonce  [16]byte
	dhKey      []byte

	userPending   bool
	replied       bool
	passkeyCommit [16]byte
	entered       bool

	linkKey       [16]byte
	keyType       hci.LinkKeyType
	authenticated bool
	encRequested  bool
}

var _ evt.Handler = (*Session)(nil)

func NewSession(cfg Config) (*Session, error) {
	switch {
	case cfg.Crypto == nil:
		return nil, errors.New("session needs a crypto adapter")
	case cfg.Transport == nil:
		return nil, errors.New("session needs a transport")
	case cfg.Bonds == nil:
		return nil, errors.New("session needs a bond writer")
	}
	if cfg.Observer == nil {
		cfg.Observer = NopObserver{}
	}
	if cfg.Logger == nil {
		cfg.Logger = ssp.GetLogger()
	}
	if cfg.Timeouts == (ssp.Timeouts{}) {
		cfg.Timeouts = ssp.DefaultTimeouts()
	}

	s := &Session{
		cfg:            cfg,
		id:             uuid.New().String(),
		localInitiated: cfg.LocalInitiated,
	}
	s.log = cfg.Logger.ChildLogger(map[string]interface{}{
		"peer":    cfg.Remote.String(),
		"session": s.id,
		"attempt": cfg.Attempt,
	})
	return s, nil
}

func (s *Session) ID() string     { return s.id }
func (s *Session) Addr() ssp.Addr { return s.cfg.Remote }
func (s *Session) Model() Model   { return s.model }
func (s *Session) Done() bool     { return s.done }

// State is safe to call from any goroutine.
func (s *Session) State() State {
	return State(atomic.LoadInt32(&s.published))
}

// LocalInitiated reports the current role, which a simultaneous pairing
// attempt may have flipped.
func (s *Session) LocalInitiated() bool { return s.localInitiated }

// Deadline is the time by which the next event is due. ok is false once the
// session is done.
func (s *Session) Deadline() (t time.Time, ok bool) {
	if s.done || s.deadline.IsZero() {
		return time.Time{}, false
	}
	return s.deadline, true
}

// Start generates the session's key material and, when the pairing is
// initiated locally, asks the controller to authenticate the link.
func (s *Session) Start(now time.Time) error {
	if s.done || s.state != StateIdle {
		return errors.Wrapf(ErrUnexpectedEvent, "start in state %s", s.state)
	}
	s.now = now

	curve := sspcrypto.P192
	if s.cfg.SecureConnections {
		curve = sspcrypto.P256
	}
	keys := s.cfg.Keys
	if keys == nil || keys.Curve != curve {
		var err error
		if keys, err = s.cfg.Crypto.GenerateKeyPair(curve); err != nil {
			s.fail(ReasonCryptoFailure, err)
			return nil
		}
	}
	n, err := s.cfg.Crypto.Nonce()
	if err != nil {
		s.fail(ReasonCryptoFailure, err)
		return nil
	}
	c, err := s.cfg.Crypto.F1(keys.X(), keys.X(), n, 0)
	if err != nil {
		s.fail(ReasonCryptoFailure, err)
		return nil
	}
	s.keys, s.nonce, s.commitment = keys, n, c

	if s.localInitiated {
		h, err := s.cfg.Transport.ConnectionHandle(s.cfg.Remote)
		if err != nil {
			s.fail(ReasonCommandFailed, errors.Wrap(err, "no connection"))
			return nil
		}
		if s.send(&cmd.AuthenticationRequested{ConnectionHandle: h}) != nil {
			return nil
		}
	}

	s.log.Infof("pairing started, local initiated %v, %s", s.localInitiated, curve)
	s.wait(StateIoCapabilityExchange, s.cfg.Timeouts.IoCapability)
	return nil
}

// Handle applies one controller event. An error means the event was not
// acceptable in the current state and has been ignored; failures of the
// pairing itself are reported through the outcome.
func (s *Session) Handle(now time.Time, e evt.Event) error {
	if s.done {
		return errors.Wrapf(ErrSessionClosed, "%s after %s", e.Code(), s.state)
	}
	s.now = now
	s.log.Debugf("%s in %s", e.Code(), s.state)
	return e.Dispatch(s)
}

// Confirm answers a numeric comparison request.
func (s *Session) Confirm(now time.Time, accept bool) error {
	if s.done {
		return ErrSessionClosed
	}
	if s.state != StateNumericComparison || !s.userPending {
		return errors.Wrapf(ErrNotAwaitingUser, "confirm in state %s", s.state)
	}
	s.now = now
	s.userPending = false

	if !accept {
		s.reject(&cmd.UserConfirmationRequestNegativeReply{BDADDR: s.peer()}, ErrUserRejected)
		return nil
	}
	s.replyAuth(&cmd.UserConfirmationRequestReply{BDADDR: s.peer()})
	return nil
}

// MaxPasskey is the largest six digit passkey.
const MaxPasskey = 999999

// EnterPasskey answers a passkey request. Values above MaxPasskey are
// refused without affecting the session. When the peer displays the passkey
// it must open the peer's passkey commitment.
func (s *Session) EnterPasskey(now time.Time, passkey uint32) error {
	if s.done {
		return ErrSessionClosed
	}
	if s.state != StatePasskeyEntry || !s.userPending {
		return errors.Wrapf(ErrNotAwaitingUser, "passkey in state %s", s.state)
	}
	if passkey > MaxPasskey {
		return errors.Wrapf(ErrInvalidPasskey, "%d", passkey)
	}
	s.now = now
	s.userPending = false

	if err := s.verifyPasskey(passkey); err != nil {
		s.reject(&cmd.UserPasskeyRequestNegativeReply{BDADDR: s.peer()}, err)
		return nil
	}
	s.entered = true
	s.replyAuth(&cmd.UserPasskeyRequestReply{BDADDR: s.peer(), NumericValue: passkey})
	return nil
}

// Cancel ends the session. Pending user requests are answered negatively.
func (s *Session) Cancel(now time.Time) {
	if s.done {
		return
	}
	s.now = now
	s.withdraw()
	s.finish(StateCancelled, Outcome{Kind: OutcomeCancelled})
}

// Expire ends the session because its deadline passed.
func (s *Session) Expire(now time.Time) {
	if s.done {
		return
	}
	s.now = now
	s.withdraw()
	if s.state == StateLinkKeyExchange {
		s.fail(ReasonKeyExchangeTimeout, ErrKeyExchangeTimeout)
		return
	}
	s.finish(StateFailed, Outcome{
		Kind: OutcomeTimedOut,
		Err:  errors.Wrapf(ErrTimeout, "no progress in %s", s.state),
	})
}

func (s *Session) withdraw() {
	if !s.userPending {
		return
	}
	s.userPending = false
	switch s.state {
	case StateNumericComparison:
		s.sendQuiet(&cmd.UserConfirmationRequestNegativeReply{BDADDR: s.peer()})
	case StatePasskeyEntry:
		s.sendQuiet(&cmd.UserPasskeyRequestNegativeReply{BDADDR: s.peer()})
	}
}

func (s *Session) setState(st State) {
	if st != s.state {
		s.log.Debugf("%s -> %s", s.state, st)
	}
	s.state = st
	atomic.StoreInt32(&s.published, int32(st))
}

// wait moves to st and gives the peer d to produce the next event.
func (s *Session) wait(st State, d time.Duration) {
	s.setState(st)
	s.deadline = s.now.Add(d)
}

func (s *Session) finish(st State, o Outcome) {
	if s.done {
		return
	}
	s.done = true
	s.deadline = time.Time{}
	s.setState(st)

	o.Addr = s.cfg.Remote
	o.Model = s.model
	switch o.Kind {
	case OutcomeSuccess:
		s.log.Infof("pairing complete, %s key", o.KeyType)
	case OutcomeFailure:
		s.log.Errorf("pairing failed (%s): %v", o.Reason, o.Err)
	default:
		s.log.Infof("pairing %s", o.Kind)
	}

	if s.cfg.Release != nil {
		s.cfg.Release()
	}
	s.cfg.Observer.PairingComplete(s.cfg.Remote, o)
}

func (s *Session) fail(r Reason, err error) {
	s.finish(StateFailed, Outcome{Kind: OutcomeFailure, Reason: r, Err: err})
}

// send fails the session when the command cannot be delivered.
func (s *Session) send(c hci.Command) error {
	if err := s.cfg.Transport.Send(c); err != nil {
		err = errors.Wrapf(err, "send %s", cmd.Name(c.OpCode()))
		s.fail(ReasonCommandFailed, err)
		return err
	}
	return nil
}

func (s *Session) sendQuiet(c hci.Command) {
	if err := s.cfg.Transport.Send(c); err != nil {
		s.log.Warnf("send %s: %v", cmd.Name(c.OpCode()), err)
	}
}

// reject sends a negative reply for the current authentication stage and
// fails the session.
func (s *Session) reject(c hci.Command, err error) {
	s.sendQuiet(c)
	s.fail(reasonFor(err), err)
}

// replyAuth sends the positive answer of the authentication stage; the
// controller follows with Simple Pairing Complete.
func (s *Session) replyAuth(c hci.Command) {
	if s.send(c) != nil {
		return
	}
	s.replied = true
	s.wait(s.state, s.cfg.Timeouts.IoCapability)
}

func reasonFor(err error) Reason {
	switch {
	case errors.Is(err, sspcrypto.ErrCryptoFailure):
		return ReasonCryptoFailure
	case errors.Is(err, ErrUserRejected):
		return ReasonUserRejected
	case errors.Is(err, ErrConfirmationMismatch):
		return ReasonConfirmationMismatch
	}
	return ReasonAuthenticationFailed
}

func (s *Session) peer() [6]byte { return s.cfg.Remote.BDADDR() }

func (s *Session) unexpected(c evt.Code) error {
	return errors.Wrapf(ErrUnexpectedEvent, "%s in state %s", c, s.state)
}

// negotiate runs once both sides' capabilities are known.
func (s *Session) negotiate() {
	dh, err := s.cfg.Crypto.DHKey(s.keys, s.peerKey)
	if err != nil {
		s.fail(ReasonCryptoFailure, err)
		return
	}
	s.dhKey = dh

	mitm := s.cfg.AuthRequirements.MITM() || s.remoteAuth.MITM()
	oob := s.cfg.OOB != nil || s.remoteOOB.Present()
	s.model = SelectModel(s.cfg.IoCapability, s.remoteIo, mitm, oob)
	s.log.Infof("%s, local %s remote %s, mitm %v oob %v",
		s.model, s.cfg.IoCapability, s.remoteIo, mitm, oob)

	s.wait(s.model.State(), s.cfg.Timeouts.IoCapability)
}

// verifyPeerNonce checks the revealed nonce against the commitment received
// with the peer's capabilities.
func (s *Session) verifyPeerNonce(n [16]byte) error {
	x := s.peerX()
	c, err := s.cfg.Crypto.F1(x, x, n, 0)
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare(c[:], s.peerCommit[:]) != 1 {
		return errors.Wrap(ErrConfirmationMismatch, "peer commitment")
	}
	s.peerNonce = n
	return nil
}

// verifyPasskey checks an entered passkey against the displaying peer's
// commitment. Without a commitment both sides entered the passkey and the
// controller compares them.
func (s *Session) verifyPasskey(passkey uint32) error {
	if s.passkeyCommit == ([16]byte{}) {
		return nil
	}
	c, err := s.cfg.Crypto.F1(s.peerX(), s.keys.X(), sspcrypto.PasskeyNonce(s.peerNonce, passkey), sspcrypto.PasskeyCommitZ)
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare(c[:], s.passkeyCommit[:]) != 1 {
		return errors.Wrap(ErrConfirmationMismatch, "passkey commitment")
	}
	return nil
}

func (s *Session) peerX() []byte {
	if len(s.peerKey) < 2 {
		return nil
	}
	return s.peerKey[:len(s.peerKey)/2]
}

// roles orders the session's values as initiator, responder.
type roles struct {
	pkx    [2][]byte
	nonce  [2][16]byte
	bdaddr [2][6]byte
}

func (s *Session) roles() roles {
	var local, remote [6]byte
	copy(local[:], s.cfg.Local.Bytes())
	copy(remote[:], s.cfg.Remote.Bytes())

	r := roles{
		pkx:    [2][]byte{s.keys.X(), s.peerX()},
		nonce:  [2][16]byte{s.nonce, s.peerNonce},
		bdaddr: [2][6]byte{local, remote},
	}
	if !s.localInitiated {
		r.pkx[0], r.pkx[1] = r.pkx[1], r.pkx[0]
		r.nonce[0], r.nonce[1] = r.nonce[1], r.nonce[0]
		r.bdaddr[0], r.bdaddr[1] = r.bdaddr[1], r.bdaddr[0]
	}
	return r
}

func (s *Session) numericValue() (uint32, error) {
	r := s.roles()
	return s.cfg.Crypto.G(r.pkx[0], r.pkx[1], r.nonce[0], r.nonce[1])
}

func (s *Session) deriveLinkKey() ([16]byte, error) {
	r := s.roles()
	return s.cfg.Crypto.F2(s.dhKey, r.nonce[0], r.nonce[1], sspcrypto.KeyIDBTLK, r.bdaddr[0], r.bdaddr[1])
}

func (s *Session) enableEncryption() {
	if s.encRequested {
		return
	}
	h, err := s.cfg.Transport.ConnectionHandle(s.cfg.Remote)
	if err != nil {
		s.fail(ReasonCommandFailed, errors.Wrap(err, "no connection"))
		return
	}
	if s.send(&cmd.SetConnectionEncryption{ConnectionHandle: h, EncryptionEnabled: 1}) != nil {
		return
	}
	s.encRequested = true
}

func (s *Session) record() bond.Record {
	return bond.Record{
		Addr:        s.cfg.Remote,
		LinkKey:     append([]byte(nil), s.linkKey[:]...),
		KeyType:     s.keyType,
		LocalIoCap:  s.cfg.IoCapability,
		RemoteIoCap: s.remoteIo,
		Updated:     s.now,
	}
}

func (s *Session) String() string {
	return fmt.Sprintf("session %s with %s: %s", s.id, s.cfg.Remote, s.State())
}
