// Package lockfile provides OS-level advisory locking used to ensure a
// single codex bridge worker services a given queue root at a time.
package lockfile

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// WorkerLock guards a queue root's worker.lock file. Only one process may
// hold it at a time; a stale lock (owning PID no longer running) is
// reclaimed automatically.
type WorkerLock struct {
	path string
	file *os.File
}

// AcquireWorkerLock takes an exclusive advisory lock on <dir>/worker.lock,
// writing the current PID into the file. If the lock is held by a PID that
// is no longer running, the lock is reclaimed.
func AcquireWorkerLock(dir string) (*WorkerLock, error) {
	path := dir + string(os.PathSeparator) + "worker.lock"

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening worker lock: %w", err)
	}

	if err := flockExclusive(f); err != nil {
		if !IsLocked(err) {
			f.Close()
			return nil, fmt.Errorf("locking worker lock: %w", err)
		}
		if pid, ok := readOwnerPID(f); ok && isProcessRunning(pid) {
			f.Close()
			return nil, fmt.Errorf("worker lock held by running process %d: %w", pid, ErrLocked)
		}
		// Stale lock: previous owner is gone. Force reacquire.
		if err := flockExclusive(f); err != nil {
			f.Close()
			return nil, fmt.Errorf("reclaiming stale worker lock: %w", err)
		}
	}

	if err := f.Truncate(0); err != nil {
		FlockUnlock(f)
		f.Close()
		return nil, fmt.Errorf("truncating worker lock: %w", err)
	}
	if _, err := f.WriteAt([]byte(strconv.Itoa(os.Getpid())), 0); err != nil {
		FlockUnlock(f)
		f.Close()
		return nil, fmt.Errorf("writing worker lock pid: %w", err)
	}

	return &WorkerLock{path: path, file: f}, nil
}

func readOwnerPID(f *os.File) (int, bool) {
	buf := make([]byte, 32)
	n, _ := f.ReadAt(buf, 0)
	s := strings.TrimSpace(string(buf[:n]))
	pid, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return pid, true
}

// Release unlocks and closes the worker lock file. Safe to call once.
func (w *WorkerLock) Release() error {
	if w == nil || w.file == nil {
		return nil
	}
	_ = FlockUnlock(w.file)
	err := w.file.Close()
	w.file = nil
	return err
}
