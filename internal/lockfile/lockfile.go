// Package lockfile keeps a second host process from starting while another
// one already owns the cookie bridge. The lock file records the owner's PID
// and bridge port so the refusal can say where the running bridge is.
package lockfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

var (
	ErrLocked      = errors.New("another cookiebridge is already running")
	ErrNotAcquired = errors.New("lock not held")
)

// Owner describes the process recorded in a lock file.
type Owner struct {
	PID     int
	Port    int
	Started time.Time
}

func (o Owner) String() string {
	if o.Port > 0 {
		return fmt.Sprintf("pid %d, bridge port %d", o.PID, o.Port)
	}
	return fmt.Sprintf("pid %d", o.PID)
}

// Lockfile is an exclusive lock backed by a file created with O_EXCL.
type Lockfile struct {
	path   string
	file   *os.File
	owner  Owner
	locked bool
}

// New creates a lock for path. Nothing touches the disk until TryAcquire.
func New(path string) *Lockfile {
	return &Lockfile{path: path}
}

// TryAcquire takes the lock for the current process and records port.
// A lock left behind by a process that no longer runs is replaced; a live
// one yields an error wrapping ErrLocked.
func (l *Lockfile) TryAcquire(port int) error {
	if l.locked {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("failed to create lockfile directory: %w", err)
	}

	file, err := l.create()
	if err != nil && os.IsExist(err) {
		owner, readErr := ReadOwner(l.path)
		if readErr == nil {
			if running, _ := isProcessRunning(owner.PID); running && owner.PID != os.Getpid() {
				return fmt.Errorf("%w (%s)", ErrLocked, owner)
			}
		}
		if removeErr := os.Remove(l.path); removeErr != nil && !os.IsNotExist(removeErr) {
			return fmt.Errorf("failed to remove stale lockfile: %w", removeErr)
		}
		file, err = l.create()
	}
	if err != nil {
		return fmt.Errorf("failed to create lockfile: %w", err)
	}

	l.file = file
	l.owner = Owner{PID: os.Getpid(), Port: port, Started: time.Now().UTC().Truncate(time.Second)}
	l.locked = true

	content := fmt.Sprintf("%d\n%d\n%s\n", l.owner.PID, l.owner.Port, l.owner.Started.Format(time.RFC3339))
	if _, err := l.file.WriteString(content); err != nil {
		_ = l.Release()
		return fmt.Errorf("failed to write lockfile: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		_ = l.Release()
		return fmt.Errorf("failed to sync lockfile: %w", err)
	}
	return nil
}

func (l *Lockfile) create() (*os.File, error) {
	return os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
}

// ReadOwner parses the lock file at path.
func ReadOwner(path string) (Owner, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Owner{}, err
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	pid, err := strconv.Atoi(strings.TrimSpace(lines[0]))
	if err != nil || pid <= 0 {
		return Owner{}, fmt.Errorf("invalid PID in lockfile %s", path)
	}

	owner := Owner{PID: pid}
	if len(lines) > 1 {
		owner.Port, _ = strconv.Atoi(strings.TrimSpace(lines[1]))
	}
	if len(lines) > 2 {
		owner.Started, _ = time.Parse(time.RFC3339, strings.TrimSpace(lines[2]))
	}
	return owner, nil
}

// Release closes and removes the lock file. Releasing an unheld lock is a
// no-op.
func (l *Lockfile) Release() error {
	if !l.locked {
		return nil
	}

	var errs []error
	if l.file != nil {
		errs = append(errs, l.file.Close())
		l.file = nil
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		errs = append(errs, fmt.Errorf("failed to remove lockfile: %w", err))
	}
	l.locked = false
	return errors.Join(errs...)
}

// Owner returns what this lock recorded, or ErrNotAcquired.
func (l *Lockfile) Owner() (Owner, error) {
	if !l.locked {
		return Owner{}, ErrNotAcquired
	}
	return l.owner, nil
}

// Locked reports whether the lock is held.
func (l *Lockfile) Locked() bool {
	return l.locked
}

// Path returns the lockfile path.
func (l *Lockfile) Path() string {
	return l.path
}
