//go:build !windows

// Package filelock provides advisory whole-file locking. The repadder
// takes an exclusive lock on the temporary file it writes before
// renaming it over the destination; the lookup engine takes a shared
// lock on the CSV it reads. Those are different files, so the two locks
// do not keep a repad and a lookup of the same path from overlapping.
package filelock

import (
	"os"

	"golang.org/x/sys/unix"
)

// Exclusive takes an exclusive advisory lock on file, blocking until
// available. Release with Unlock.
func Exclusive(file *os.File) error {
	return unix.Flock(int(file.Fd()), unix.LOCK_EX)
}

// Shared takes a shared advisory lock on file, blocking until available.
// Release with Unlock.
func Shared(file *os.File) error {
	return unix.Flock(int(file.Fd()), unix.LOCK_SH)
}

// Unlock releases a lock taken by Exclusive or Shared.
func Unlock(file *os.File) error {
	return unix.Flock(int(file.Fd()), unix.LOCK_UN)
}
