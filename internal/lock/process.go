package lock

import (
	"errors"
	"os"
	"syscall"
)

// processAlive reports whether the OS process identified by pid exists.
// Signal 0 performs the existence check without delivering anything;
// EPERM means the process exists but belongs to another user.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}

	return errors.Is(err, syscall.EPERM)
}
