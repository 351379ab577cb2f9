package security

import (
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/rigado/ssp"
	"github.com/rigado/ssp/bond"
	"github.com/rigado/ssp/hci"
	"github.com/rigado/ssp/pairing"
	"github.com/rigado/ssp/storage"
	"github.com/sirupsen/logrus"
)

var (
	addrA = ssp.MustAddr("00:1b:dc:00:00:0a")
	addrB = ssp.MustAddr("00:1b:dc:00:00:0b")
	addrC = ssp.MustAddr("00:1b:dc:00:00:0c")
	quiet = ssp.NewLogger(io.Discard, logrus.PanicLevel)
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	c       *fakeClock
	at      time.Time
	f       func()
	stopped bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) ssp.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{c: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	active := !t.stopped
	t.stopped = true
	return active
}

// Advance moves time forward and runs the timers that came due, earliest first.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due, pending []*fakeTimer
	for _, t := range c.timers {
		switch {
		case t.stopped:
		case !t.at.After(c.now):
			t.stopped = true
			due = append(due, t)
		default:
			pending = append(pending, t)
		}
	}
	c.timers = pending
	c.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, t := range due {
		t.f()
	}
}

// wire records commands and maps each known device to a connection handle.
type wire struct {
	mu      sync.Mutex
	cmds    []hci.Command
	handles map[ssp.Addr]uint16
	onSend  func(c hci.Command)
}

func newWire(addrs ...ssp.Addr) *wire {
	w := &wire{handles: map[ssp.Addr]uint16{}}
	for i, a := range addrs {
		w.handles[a] = uint16(0x40 + i)
	}
	return w
}

func (w *wire) Send(c hci.Command) error {
	w.mu.Lock()
	w.cmds = append(w.cmds, c)
	f := w.onSend
	w.mu.Unlock()
	if f != nil {
		f(c)
	}
	return nil
}

func (w *wire) ConnectionHandle(a ssp.Addr) (uint16, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	h, ok := w.handles[a]
	if !ok {
		return 0, errors.Errorf("not connected to %s", a)
	}
	return h, nil
}

func (w *wire) last() hci.Command {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.cmds) == 0 {
		return nil
	}
	return w.cmds[len(w.cmds)-1]
}

func (w *wire) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.cmds)
}

// watcher is a goroutine safe observer. Hooks run inside the callbacks.
type watcher struct {
	mu       sync.Mutex
	confirms []uint32
	passkeys int
	displays []uint32
	removed  []ssp.Addr
	outcomes map[ssp.Addr][]pairing.Outcome
	done     chan pairing.Outcome

	onConfirm  func(a ssp.Addr, v uint32)
	onComplete func(a ssp.Addr, o pairing.Outcome)
}

func newWatcher() *watcher {
	return &watcher{
		outcomes: map[ssp.Addr][]pairing.Outcome{},
		done:     make(chan pairing.Outcome, 1024),
	}
}

func (w *watcher) DisplayPasskey(_ ssp.Addr, v uint32) {
	w.mu.Lock()
	w.displays = append(w.displays, v)
	w.mu.Unlock()
}

func (w *watcher) RequestConfirmation(a ssp.Addr, v uint32) {
	w.mu.Lock()
	w.confirms = append(w.confirms, v)
	f := w.onConfirm
	w.mu.Unlock()
	if f != nil {
		f(a, v)
	}
}

func (w *watcher) RequestPasskey(ssp.Addr) {
	w.mu.Lock()
	w.passkeys++
	w.mu.Unlock()
}

func (w *watcher) Keypress(ssp.Addr, hci.KeypressType) {}

func (w *watcher) PairingComplete(a ssp.Addr, o pairing.Outcome) {
	w.mu.Lock()
	w.outcomes[a] = append(w.outcomes[a], o)
	f := w.onComplete
	w.mu.Unlock()
	if f != nil {
		f(a, o)
	}
	w.done <- o
}

func (w *watcher) BondRemoved(a ssp.Addr) {
	w.mu.Lock()
	w.removed = append(w.removed, a)
	w.mu.Unlock()
}

func (w *watcher) outcome(t *testing.T, a ssp.Addr) pairing.Outcome {
	t.Helper()
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.outcomes[a]) != 1 {
		t.Fatalf("%s: expected exactly one outcome, got %d", a, len(w.outcomes[a]))
	}
	return w.outcomes[a][0]
}

func (w *watcher) interactions() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.confirms) + w.passkeys + len(w.displays)
}

// brokenStore fails every write.
type brokenStore struct {
	BondStore
}

func (brokenStore) Put(ssp.Addr, bond.Record) error {
	return errors.Wrap(bond.ErrStorageUnavailable, "disk unplugged")
}

func newStore() *bond.Store {
	return bond.NewStore(storage.NewMemoryStore())
}

type errorLog struct {
	mu   sync.Mutex
	errs []error
}

func (l *errorLog) handle(err error) {
	l.mu.Lock()
	l.errs = append(l.errs, err)
	l.mu.Unlock()
}

func (l *errorLog) all() []error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]error(nil), l.errs...)
}

func lastCommand(t *testing.T, w *wire) hci.Command {
	t.Helper()
	c := w.last()
	if c == nil {
		t.Fatal("no command sent")
	}
	return c
}

