//go:build !windows

package daemon

import (
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPIDFile_Stop_TerminatesProcess(t *testing.T) {
	child := exec.Command("sleep", "30")
	require.NoError(t, child.Start())
	exited := make(chan struct{})
	go func() {
		_ = child.Wait()
		close(exited)
	}()

	pf := NewPIDFile(filepath.Join(t.TempDir(), "test.pid"))
	require.NoError(t, pf.Claim(child.Process.Pid))

	require.NoError(t, pf.Stop(2 * time.Second))

	select {
	case <-exited:
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit")
	}
	_, running := pf.IsRunning()
	assert.False(t, running)
}

func TestDetach_NewSession(t *testing.T) {
	child := exec.Command("sleep", "0")
	Detach(child)
	require.NotNil(t, child.SysProcAttr)
	assert.True(t, child.SysProcAttr.Setsid)
	assert.NotEmpty(t, ShutdownSignals())
}
