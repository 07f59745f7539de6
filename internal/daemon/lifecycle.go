package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// PIDFileName is the PID file written under <working_dir>/data.
const PIDFileName = "chaos-bot.pid"

// ErrNotRunning is returned when no live daemon owns the PID file.
var ErrNotRunning = errors.New("daemon is not running")

// PIDPath returns the PID file location for a working directory.
func PIDPath(workingDir string) string {
	return filepath.Join(workingDir, "data", PIDFileName)
}

// PIDFile records the serving process so status and stop can find it.
type PIDFile struct {
	path string
}

// NewPIDFile returns the PID file for a working directory.
func NewPIDFile(workingDir string) *PIDFile {
	return &PIDFile{path: PIDPath(workingDir)}
}

// Path returns the PID file path.
func (p *PIDFile) Path() string {
	return p.path
}

// Acquire writes the current PID. It fails when another live process
// already holds the file.
func (p *PIDFile) Acquire() error {
	if pid, err := p.Read(); err == nil && pid != os.Getpid() && ProcessRunning(pid) {
		return fmt.Errorf("daemon already running with pid %d", pid)
	}
	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	return os.WriteFile(p.path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

// Release removes the PID file if it still names this process.
func (p *PIDFile) Release() error {
	pid, err := p.Read()
	if err != nil || pid != os.Getpid() {
		return nil
	}
	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file: %w", err)
	}
	return nil
}

// Read returns the recorded PID.
func (p *PIDFile) Read() (int, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid PID file %s", p.path)
	}
	return pid, nil
}

// Running returns the PID of the live daemon or ErrNotRunning.
func (p *PIDFile) Running() (int, error) {
	pid, err := p.Read()
	if err != nil || !ProcessRunning(pid) {
		return 0, ErrNotRunning
	}
	return pid, nil
}

// Signal sends sig to the live daemon.
func (p *PIDFile) Signal(sig os.Signal) (int, error) {
	pid, err := p.Running()
	if err != nil {
		return 0, err
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return 0, err
	}
	if err := proc.Signal(sig); err != nil {
		return 0, fmt.Errorf("failed to signal pid %d: %w", pid, err)
	}
	return pid, nil
}

// ProcessRunning reports whether pid names a live process.
func ProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// FindProcess always succeeds on Unix; signal 0 probes existence.
	err = proc.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}
