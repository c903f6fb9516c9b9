// Package daemon tracks a background codecli server through a PID file.
package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ErrAlreadyRunning is returned by Claim when the recorded process is alive.
var ErrAlreadyRunning = errors.New("already running")

// ErrNotRunning is returned by Stop when no live process is recorded.
var ErrNotRunning = errors.New("not running")

// PIDFile records the PID of a background server.
type PIDFile struct {
	Path string
}

// NewPIDFile creates a PIDFile manager for the given path.
func NewPIDFile(path string) *PIDFile {
	return &PIDFile{Path: path}
}

// Write writes the current process's PID to the file.
func (p *PIDFile) Write() error {
	return p.WritePID(os.Getpid())
}

// WritePID writes the given PID to the file, creating its directory.
func (p *PIDFile) WritePID(pid int) error {
	if err := os.MkdirAll(filepath.Dir(p.Path), 0o755); err != nil {
		return fmt.Errorf("create pid dir: %w", err)
	}
	return os.WriteFile(p.Path, []byte(strconv.Itoa(pid)+"\n"), 0o644)
}

// Read reads the PID from the file.
func (p *PIDFile) Read() (int, error) {
	data, err := os.ReadFile(p.Path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID file content: %w", err)
	}
	return pid, nil
}

// Remove deletes the PID file.
func (p *PIDFile) Remove() error {
	return os.Remove(p.Path)
}

// Claim records pid unless a live process already owns the file.
// A stale file left by a crashed server is overwritten.
func (p *PIDFile) Claim(pid int) error {
	if running, ok := p.IsRunning(); ok {
		return fmt.Errorf("server %w (pid %d)", ErrAlreadyRunning, running)
	}
	return p.WritePID(pid)
}

// IsRunning returns the recorded PID and whether that process is alive.
func (p *PIDFile) IsRunning() (int, bool) {
	pid, err := p.Read()
	if err != nil {
		return 0, false
	}
	return pid, processAlive(pid)
}

// Stop asks the recorded process to terminate, waits up to grace for it to
// exit and then kills it. The PID file is removed once the process is gone.
func (p *PIDFile) Stop(grace time.Duration) error {
	pid, ok := p.IsRunning()
	if !ok {
		_ = p.Remove()
		return fmt.Errorf("server %w", ErrNotRunning)
	}
	if err := terminate(pid); err != nil {
		return fmt.Errorf("signal pid %d: %w", pid, err)
	}
	if !p.waitExit(grace) {
		if err := kill(pid); err != nil {
			return fmt.Errorf("kill pid %d: %w", pid, err)
		}
		p.waitExit(grace)
	}
	_ = p.Remove()
	return nil
}

func (p *PIDFile) waitExit(grace time.Duration) bool {
	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if _, ok := p.IsRunning(); !ok {
			return true
		}
		time.Sleep(50 * time.Millisecond)
	}
	_, ok := p.IsRunning()
	return !ok
}
