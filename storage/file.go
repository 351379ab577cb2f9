package storage

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

// FileStore keeps all sections in a single JSON document. Writes go to a
// temporary file that is renamed over the original, so readers see either
// the old or the new document. A sidecar lock file serializes access
// between processes.
type FileStore struct {
	filename string
	lock     sync.RWMutex
}

func NewFileStore(filename string) *FileStore {
	return &FileStore{filename: filename}
}

func (fs *FileStore) Filename() string { return fs.filename }

func (fs *FileStore) Section(name string) (map[string]string, bool, error) {
	fs.lock.RLock()
	defer fs.lock.RUnlock()

	var kv map[string]string
	var ok bool
	err := fs.withFileLock(false, func() error {
		all, err := fs.load()
		if err != nil {
			return err
		}
		kv, ok = all[name]
		return nil
	})
	return kv, ok, err
}

func (fs *FileStore) SetSection(name string, kv map[string]string) error {
	if name == "" {
		return ErrEmptySection
	}
	fs.lock.Lock()
	defer fs.lock.Unlock()

	return fs.withFileLock(true, func() error {
		all, err := fs.load()
		if err != nil {
			return err
		}
		all[name] = copySection(kv)
		return fs.store(all)
	})
}

func (fs *FileStore) RemoveSection(name string) error {
	fs.lock.Lock()
	defer fs.lock.Unlock()

	return fs.withFileLock(true, func() error {
		all, err := fs.load()
		if err != nil {
			return err
		}
		if _, ok := all[name]; !ok {
			return nil
		}
		delete(all, name)
		return fs.store(all)
	})
}

func (fs *FileStore) SectionNames() ([]string, error) {
	fs.lock.RLock()
	defer fs.lock.RUnlock()

	var out []string
	err := fs.withFileLock(false, func() error {
		all, err := fs.load()
		if err != nil {
			return err
		}
		for k := range all {
			out = append(out, k)
		}
		return nil
	})
	sort.Strings(out)
	return out, err
}

func (fs *FileStore) withFileLock(exclusive bool, f func() error) error {
	lf, err := os.OpenFile(fs.filename+".lock", os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return errors.Wrap(err, "failed to open lock file")
	}
	defer lf.Close()

	if err := lockFile(lf, exclusive); err != nil {
		return errors.Wrap(err, "failed to lock store")
	}
	defer unlockFile(lf)

	return f()
}

func (fs *FileStore) load() (map[string]map[string]string, error) {
	all := make(map[string]map[string]string)

	in, err := ioutil.ReadFile(fs.filename)
	if os.IsNotExist(err) {
		return all, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to read store")
	}
	if len(in) == 0 {
		return all, nil
	}

	if err := jsoniter.Unmarshal(in, &all); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal store")
	}
	return all, nil
}

func (fs *FileStore) store(all map[string]map[string]string) error {
	out, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalIndent(all, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal store")
	}

	tmp, err := ioutil.TempFile(filepath.Dir(fs.filename), filepath.Base(fs.filename)+".tmp")
	if err != nil {
		return errors.Wrap(err, "failed to create temp file")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(out); err != nil {
		tmp.Close()
		return errors.Wrap(err, "failed to write store")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrap(err, "failed to sync store")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "failed to close store")
	}
	if err := os.Rename(tmp.Name(), fs.filename); err != nil {
		return errors.Wrap(err, "failed to replace store")
	}
	return nil
}
