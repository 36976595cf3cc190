//go:build windows

package filelock

import "os"

// Exclusive is a no-op on Windows. Robust locking there requires
// syscall.LockFileEx; the block store's concurrency model only needs
// single-writer discipline within one process, so this stub keeps the
// build portable without claiming a guarantee the unix side provides.
func Exclusive(file *os.File) error { return nil }

// Shared is a no-op on Windows; see Exclusive.
func Shared(file *os.File) error { return nil }

// Unlock is a no-op on Windows; see Exclusive.
func Unlock(file *os.File) error { return nil }
