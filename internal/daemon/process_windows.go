//go:build windows

package daemon

import (
	"os"
	"os/exec"
	"syscall"
)

func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// FindProcess opens a handle even for exited processes; probe it.
	return proc.Signal(syscall.Signal(0)) == nil
}

// terminate kills outright: Windows cannot deliver an interrupt to another console.
func terminate(pid int) error { return kill(pid) }

func kill(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Kill()
}

// Detach starts cmd in a new process group so console interrupts do not reach it.
func Detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP}
}

// ShutdownSignals are the signals a foreground server shuts down on.
func ShutdownSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}
