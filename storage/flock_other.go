//go:build !unix

package storage

import "os"

// no advisory locking; the in-process mutex still applies
func lockFile(f *os.File, exclusive bool) error { return nil }

func unlockFile(f *os.File) error { return nil }
