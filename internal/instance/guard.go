// Package instance keeps a single bridge process per user.
//
// A [Guard] holds two things: an exclusive OS lock on the lock file and the listener bound to the bridge
// address. Either one being taken by another process means a bridge is already running. Failing to bind is
// treated as authoritative; the port is never checked separately.
package instance

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/desertthunder/rbxbridge/internal/shared"
)

// Guard is a held single-instance claim.
type Guard struct {
	path     string
	file     *os.File
	listener net.Listener
	once     sync.Once
}

// Acquire locks lockPath and binds addr.
//
// It returns an error wrapping [shared.ErrAlreadyRunning] when the lock is held or the address is in use.
// On any error nothing is left locked or bound.
func Acquire(lockPath, addr string) (*Guard, error) {
	if err := shared.EnsureDir(filepath.Dir(lockPath)); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(lockPath, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}

	if err := lockFile(f); err != nil {
		f.Close()
		if errors.Is(err, errLocked) {
			msg := fmt.Sprintf("%s is locked", lockPath)
			if pid, ok := ReadPID(lockPath); ok {
				msg = fmt.Sprintf("%s is locked by pid %d", lockPath, pid)
			}
			return nil, fmt.Errorf("%w: %s", shared.ErrAlreadyRunning, msg)
		}
		return nil, fmt.Errorf("failed to lock %s: %w", lockPath, err)
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		unlockFile(f)
		f.Close()
		if isAddrInUse(err) {
			return nil, fmt.Errorf("%w: %s is already in use", shared.ErrAlreadyRunning, addr)
		}
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	if err := writePID(f); err != nil {
		ln.Close()
		unlockFile(f)
		f.Close()
		return nil, fmt.Errorf("failed to write lock file: %w", err)
	}

	return &Guard{path: lockPath, file: f, listener: ln}, nil
}

// Listener returns the bound listener. Serving on it transfers ownership of closing it to the server.
func (g *Guard) Listener() net.Listener {
	return g.listener
}

// Addr is the bound address, with the real port when addr asked for port 0.
func (g *Guard) Addr() string {
	return g.listener.Addr().String()
}

// Path returns the lock file path.
func (g *Guard) Path() string {
	return g.path
}

// Release closes the listener and drops the lock. It is safe to call more than once.
func (g *Guard) Release() error {
	var errs []error
	g.once.Do(func() {
		if err := g.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
		if err := g.file.Truncate(0); err != nil {
			errs = append(errs, err)
		}
		if err := unlockFile(g.file); err != nil {
			errs = append(errs, err)
		}
		if err := g.file.Close(); err != nil {
			errs = append(errs, err)
		}
	})
	return errors.Join(errs...)
}

// ReadPID returns the pid recorded in the lock file, if any.
func ReadPID(lockPath string) (int, bool) {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

func writePID(f *os.File) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0); err != nil {
		return err
	}
	return f.Sync()
}
