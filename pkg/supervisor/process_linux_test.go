package supervisor

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const workerScriptEnv = "HTTPFS_TEST_WORKER_SCRIPT"

// TestLaunchingParent runs as a child of TestWorkerExitsWithParent. It
// starts an attached worker, prints the worker pid and exits without
// stopping it.
func TestLaunchingParent(t *testing.T) {
	script := os.Getenv(workerScriptEnv)
	if script == "" {
		t.Skip("only runs as a child process")
	}

	worker, err := (&ProcessLauncher{Binary: script}).Launch(context.Background(), LaunchOptions{
		MountPoint: t.TempDir(),
		CacheDir:   t.TempDir(),
		Schemes:    []string{"http"},
	})
	require.NoError(t, err)
	require.NoError(t, <-worker.Ready())

	fmt.Printf("\n%d\n", worker.Pid())
	os.Exit(0)
}

func TestWorkerExitsWithParent(t *testing.T) {
	script := writeScript(t, "echo "+ReadyMessage+"\nexec sleep 30")

	cmd := exec.Command(os.Args[0], "-test.run=^TestLaunchingParent$")
	cmd.Env = append(os.Environ(), workerScriptEnv+"="+script)
	cmd.Stderr = os.Stderr

	out, err := cmd.Output()
	require.NoError(t, err)

	lines := strings.Fields(string(out))
	require.NotEmpty(t, lines)
	pid, err := strconv.Atoi(lines[len(lines)-1])
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return !processRunning(pid)
	}, 5*time.Second, 50*time.Millisecond, "worker %d outlived its parent", pid)
}

// processRunning treats zombies as exited, since the reaper may not be us.
func processRunning(pid int) bool {
	stat, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return false
	}

	// The state follows the parenthesised command name
	i := bytes.LastIndexByte(stat, ')')
	if i < 0 || i+2 >= len(stat) {
		return false
	}
	return stat[i+2] != 'Z'
}
