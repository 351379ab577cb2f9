// Package storage provides section based key/value stores for bonding data.
// A section is a flat string to string map addressed by name.
package storage

import "github.com/pkg/errors"

// SectionStore is a section keyed string to string persistent store.
// SetSection replaces the whole section.
type SectionStore interface {
	Section(name string) (map[string]string, bool, error)
	SetSection(name string, kv map[string]string) error
	RemoveSection(name string) error
	SectionNames() ([]string, error)
}

var ErrEmptySection = errors.New("storage: empty section name")

func copySection(kv map[string]string) map[string]string {
	out := make(map[string]string, len(kv))
	for k, v := range kv {
		out[k] = v
	}
	return out
}
