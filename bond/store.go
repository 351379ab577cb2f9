// Package bond persists bonding records in a section store, one section per
// device named by the device's canonical address.
package bond

import (
	"hash/fnv"
	"sync"

	"github.com/pkg/errors"
	"github.com/rigado/ssp"
	"github.com/rigado/ssp/storage"
)

var (
	ErrStorageUnavailable = errors.New("bond: storage unavailable")
	ErrCorruptRecord      = errors.New("bond: corrupt record")
)

type storageError struct {
	op   string
	addr ssp.Addr
	err  error
}

func (e *storageError) Error() string {
	return "bond: " + e.op + " " + e.addr.String() + ": storage unavailable: " + e.err.Error()
}

func (e *storageError) Unwrap() error { return e.err }

func (e *storageError) Is(target error) bool { return target == ErrStorageUnavailable }

const lockStripes = 16

// Store maps device identities to bonding records.
type Store struct {
	sections storage.SectionStore
	locks    [lockStripes]sync.Mutex
}

func NewStore(s storage.SectionStore) *Store {
	return &Store{sections: s}
}

func stripe(a ssp.Addr) int {
	h := fnv.New32a()
	h.Write(a.Bytes())
	return int(h.Sum32() % lockStripes)
}

// lock serializes access to one device's section. Devices sharing a stripe
// also wait for each other.
func (s *Store) lock(a ssp.Addr) func() {
	l := &s.locks[stripe(a)]
	l.Lock()
	return l.Unlock
}

// Get returns the record for a, or false if the device is not bonded.
func (s *Store) Get(a ssp.Addr) (Record, bool, error) {
	defer s.lock(a)()

	kv, ok, err := s.sections.Section(a.String())
	if err != nil {
		return Record{}, false, &storageError{"get", a, err}
	}
	if !ok {
		return Record{}, false, nil
	}

	r, err := decode(a, kv)
	if err != nil {
		return Record{}, false, errors.Wrapf(ErrCorruptRecord, "%s: %v", a, err)
	}
	return r, true, nil
}

// Put replaces the record for a. Nothing of a previous record survives.
func (s *Store) Put(a ssp.Addr, r Record) error {
	r.Addr = a
	if err := r.validate(); err != nil {
		return errors.Wrapf(err, "bond: can't store %s", a)
	}

	defer s.lock(a)()

	if err := s.sections.SetSection(a.String(), encode(r)); err != nil {
		return &storageError{"put", a, err}
	}
	return nil
}

// Remove deletes the record for a and reports whether one existed.
func (s *Store) Remove(a ssp.Addr) (bool, error) {
	defer s.lock(a)()

	_, ok, err := s.sections.Section(a.String())
	if err != nil {
		return false, &storageError{"remove", a, err}
	}
	if !ok {
		return false, nil
	}
	if err := s.sections.RemoveSection(a.String()); err != nil {
		return false, &storageError{"remove", a, err}
	}
	return true, nil
}

// List returns all decodable records. Sections that fail to decode are
// skipped and reported through the returned error.
func (s *Store) List() ([]Record, error) {
	names, err := s.sections.SectionNames()
	if err != nil {
		return nil, &storageError{"list", ssp.Addr{}, err}
	}

	var out []Record
	var bad error
	for _, n := range names {
		a, err := ssp.NewAddr(n)
		if err != nil {
			continue
		}
		r, ok, err := s.Get(a)
		if err != nil {
			if bad == nil {
				bad = err
			}
			continue
		}
		if ok {
			out = append(out, r)
		}
	}
	return out, bad
}
