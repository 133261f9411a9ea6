// Package lockfile provides a single-instance advisory file lock so two
// triagepilot processes never run the same agent's pipeline concurrently.
package lockfile

import (
	"fmt"
	"os"
	"syscall"
)

// Acquire takes an exclusive, non-blocking lock on path, creating it if
// necessary. The returned file must be kept open for the process lifetime
// and released with Release.
func Acquire(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("lockfile: open %s: %w", path, err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("another triagepilot instance is already running (lock: %s)", path)
	}

	f.Truncate(0)
	f.Seek(0, 0)
	fmt.Fprintf(f, "%d\n", os.Getpid())

	return f, nil
}

// Release unlocks and removes the lock file acquired by Acquire.
func Release(f *os.File) {
	if f == nil {
		return
	}
	syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
	name := f.Name()
	f.Close()
	os.Remove(name)
}
