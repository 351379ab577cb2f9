// Package sim simulates the controllers at both ends of a BR/EDR link, so
// two pairing managers can pair with each other without hardware.
package sim

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/rigado/ssp"
	"github.com/rigado/ssp/hci"
	"github.com/rigado/ssp/hci/cmd"
	"github.com/rigado/ssp/hci/evt"
	"github.com/rigado/ssp/pairing"
)

var (
	ErrNoConnection = errors.New("sim: no connection to device")
	ErrClosed       = errors.New("sim: link closed")
)

// Receiver consumes controller events, typically a *security.Manager.
type Receiver interface {
	OnControllerEvent(a ssp.Addr, e evt.Event) error
}

type stage int

const (
	stageIdle stage = iota
	stageLinkKey
	stageCaps
	stageAuth
	stageKeys
	stageEncrypt
)

type delivery struct {
	to int
	e  evt.Event
}

// Link is a connected pair of simulated controllers. Commands sent by one
// side produce events for either side; events are delivered one at a time,
// in order, from a single goroutine.
type Link struct {
	mu     sync.Mutex
	cond   *sync.Cond
	sides  [2]*Side
	handle uint16
	log    ssp.Logger

	queue  []delivery
	busy   bool
	closed bool
	done   chan struct{}

	stage     stage
	initiator int
	caps      [2]*cmd.IOCapabilityRequestReply
	model     pairing.Model
	accepted  [2]bool
	entered   [2]*uint32
	passkey   uint32
	displayed bool
	keys      [2]*[16]byte
	p256      bool
	tamper    bool
	encStatus uint8
}

// Side is one controller of the link. It implements pairing.Transport.
type Side struct {
	link *Link
	idx  int
	addr ssp.Addr
	recv Receiver
}

// New connects a and b and starts delivering events.
func New(a, b ssp.Addr) *Link {
	l := &Link{
		handle:    0x0040,
		initiator: -1,
		done:      make(chan struct{}),
		log:       ssp.GetLogger().ChildLogger(map[string]interface{}{"sim": a.String() + "-" + b.String()}),
	}
	l.cond = sync.NewCond(&l.mu)
	l.sides[0] = &Side{link: l, idx: 0, addr: a}
	l.sides[1] = &Side{link: l, idx: 1, addr: b}
	go l.pump()
	return l
}

func (l *Link) A() *Side { return l.sides[0] }
func (l *Link) B() *Side { return l.sides[1] }

func (l *Link) Handle() uint16 { return l.handle }

// Attach sets the receivers of each side's events.
func (l *Link) Attach(a, b Receiver) {
	l.mu.Lock()
	l.sides[0].recv = a
	l.sides[1].recv = b
	l.mu.Unlock()
}

// TamperConfirmation makes the controllers report numeric values that
// differ from the ones the hosts compute.
func (l *Link) TamperConfirmation() {
	l.mu.Lock()
	l.tamper = true
	l.mu.Unlock()
}

// FailEncryption makes encryption setup complete with status.
func (l *Link) FailEncryption(status uint8) {
	l.mu.Lock()
	l.encStatus = status
	l.mu.Unlock()
}

// Flush blocks until every pending event has been delivered and handled.
func (l *Link) Flush() {
	l.mu.Lock()
	for (len(l.queue) > 0 || l.busy) && !l.closed {
		l.cond.Wait()
	}
	l.mu.Unlock()
}

// Close stops delivery. Pending events are discarded.
func (l *Link) Close() {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		l.queue = nil
		l.cond.Broadcast()
	}
	l.mu.Unlock()
	<-l.done
}

func (l *Link) pump() {
	defer close(l.done)
	l.mu.Lock()
	for {
		for len(l.queue) == 0 && !l.closed {
			l.busy = false
			l.cond.Broadcast()
			l.cond.Wait()
		}
		if l.closed {
			l.busy = false
			l.mu.Unlock()
			return
		}
		d := l.queue[0]
		l.queue = l.queue[1:]
		l.busy = true
		to := l.sides[d.to]
		from := l.sides[1-d.to].addr
		l.mu.Unlock()

		if to.recv != nil {
			if err := to.recv.OnControllerEvent(from, d.e); err != nil {
				l.log.Warnf("%s: delivering %s: %v", to.addr, d.e.Code(), err)
			}
		}

		l.mu.Lock()
	}
}

func (l *Link) deliverLocked(to int, e evt.Event) {
	l.queue = append(l.queue, delivery{to: to, e: e})
	l.cond.Broadcast()
}

func (l *Link) peerLocked(i int) [6]byte { return l.sides[1-i].addr.BDADDR() }

func (s *Side) Addr() ssp.Addr { return s.addr }

func (s *Side) ConnectionHandle(a ssp.Addr) (uint16, error) {
	if a != s.link.sides[1-s.idx].addr {
		return 0, errors.Wrapf(ErrNoConnection, "%s", a)
	}
	return s.link.handle, nil
}

func (s *Side) Send(c hci.Command) error {
	l := s.link
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	l.log.Debugf("%s: %s", s.addr, cmd.Name(c.OpCode()))
	return l.commandLocked(s.idx, c)
}
