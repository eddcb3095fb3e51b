package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/pklkb/internal/domain"
)

const defaultPIDPath = "/var/tmp/pklkb.pid"

const (
	terminateTimeout = 5 * time.Second
	livenessInterval = 100 * time.Millisecond
)

// PIDFile implements domain.SingletonToken with a single-line PID file.
// A prior live holder is asked to exit and waited for before the file is
// taken over; two instances must never run at once.
type PIDFile struct {
	path         string
	pm           domain.ProcessManager
	logger       *zap.Logger
	timeout      time.Duration
	pollInterval time.Duration
}

// NewPIDFile creates a token at the well-known runtime path.
func NewPIDFile(pm domain.ProcessManager, logger *zap.Logger) *PIDFile {
	return NewPIDFileWithPath(defaultPIDPath, pm, logger)
}

// NewPIDFileWithPath creates a token at a specific path (for testing).
func NewPIDFileWithPath(path string, pm domain.ProcessManager, logger *zap.Logger) *PIDFile {
	return &PIDFile{
		path:         path,
		pm:           pm,
		logger:       logger,
		timeout:      terminateTimeout,
		pollInterval: livenessInterval,
	}
}

// Path returns the PID file path.
func (p *PIDFile) Path() string {
	return p.path
}

// Claim takes ownership of the token. If a prior instance is recorded and
// alive it is sent SIGTERM and polled until it exits; a holder that outlives
// the timeout is a fatal LifecycleError. A stale entry is reaped.
func (p *PIDFile) Claim() error {
	pid, err := p.read()
	if err != nil {
		return &domain.LifecycleError{Message: "failed to read PID file", Err: err}
	}

	if pid > 0 && pid != p.pm.CurrentPID() {
		if p.pm.IsRunning(pid) {
			p.logger.Info("terminating previous instance", zap.Int("pid", pid))
			if err := p.pm.Terminate(pid); err != nil {
				return &domain.LifecycleError{
					Message: fmt.Sprintf("failed to terminate previous instance (pid %d)", pid),
					Err:     err,
				}
			}
			if !p.waitForExit(pid) {
				return &domain.LifecycleError{
					Message: fmt.Sprintf("timed out waiting for previous instance (pid %d) to exit", pid),
				}
			}
		} else {
			p.logger.Info("removing stale PID file", zap.Int("pid", pid))
		}
	}

	if err := p.write(p.pm.CurrentPID()); err != nil {
		return &domain.LifecycleError{Message: "failed to write PID file", Err: err}
	}
	return nil
}

// Release removes the token. Idempotent; a missing file is not an error.
func (p *PIDFile) Release() error {
	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return &domain.LifecycleError{Message: "failed to remove PID file", Err: err}
	}
	return nil
}

// Stop asks the recorded instance to exit. Returns whether a live instance
// was signalled. A stale or absent entry is cleaned and reported as not
// running.
func (p *PIDFile) Stop() (bool, error) {
	pid, err := p.read()
	if err != nil {
		return false, &domain.LifecycleError{Message: "failed to read PID file", Err: err}
	}
	if pid == 0 {
		return false, nil
	}

	if !p.pm.IsRunning(pid) {
		p.logger.Info("cleaning stale PID file", zap.Int("pid", pid))
		return false, p.Release()
	}

	if err := p.pm.Terminate(pid); err != nil {
		return false, &domain.LifecycleError{
			Message: fmt.Sprintf("failed to stop daemon (pid %d)", pid),
			Err:     err,
		}
	}
	return true, p.Release()
}

// Status returns the recorded PID and whether that process is alive.
func (p *PIDFile) Status() (pid int, running bool) {
	pid, err := p.read()
	if err != nil || pid == 0 {
		return 0, false
	}
	return pid, p.pm.IsRunning(pid)
}

func (p *PIDFile) waitForExit(pid int) bool {
	deadline := time.Now().Add(p.timeout)
	for time.Now().Before(deadline) {
		if !p.pm.IsRunning(pid) {
			return true
		}
		time.Sleep(p.pollInterval)
	}
	return !p.pm.IsRunning(pid)
}

// read returns the recorded PID, 0 when the file is absent. A file that
// does not hold a decimal PID is treated as stale.
func (p *PIDFile) read() (int, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		p.logger.Warn("malformed PID file, treating as stale", zap.String("path", p.path))
		return 0, nil
	}
	return pid, nil
}

// write records the PID atomically (write + rename).
func (p *PIDFile) write(pid int) error {
	tmpPath := fmt.Sprintf("%s.%d.tmp", p.path, pid)
	if err := os.WriteFile(tmpPath, []byte(strconv.Itoa(pid)+"\n"), 0600); err != nil {
		return err
	}

	if err := os.Rename(tmpPath, p.path); err != nil {
		os.Remove(tmpPath) // Clean up on failure
		return err
	}
	return nil
}

// Ensure PIDFile implements domain.SingletonToken.
var _ domain.SingletonToken = (*PIDFile)(nil)
