package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

const (
	// ReadyMessage is written on its own line to stdout by a foreground
	// mount once the filesystem is being served.
	ReadyMessage = "ready"

	// DefaultBinary is looked up in PATH when no binary is configured.
	DefaultBinary = "httpfs"
)

type LaunchOptions struct {
	MountPoint string
	CacheDir   string
	Schemes    []string
}

// Launcher starts a mount worker. The worker owns the FUSE server for the
// lifetime of the mount.
type Launcher interface {
	Launch(ctx context.Context, opts LaunchOptions) (Worker, error)
}

type Worker interface {
	// Ready yields nil once the worker reports the mount is served, or an
	// error if the worker exits first.
	Ready() <-chan error

	// Done is closed when the worker has exited.
	Done() <-chan struct{}

	// Stop asks the worker to exit and kills it after timeout.
	Stop(timeout time.Duration) error

	Pid() int
}

// ProcessLauncher runs each mount in a child process executing the httpfs
// binary with --foreground.
type ProcessLauncher struct {
	// Binary is the httpfs executable. Defaults to DefaultBinary in PATH.
	Binary string

	// Args are appended after the generated arguments.
	Args []string

	// Detach starts the child in its own session so it outlives the parent.
	Detach bool
}

func (l *ProcessLauncher) Launch(ctx context.Context, opts LaunchOptions) (Worker, error) {
	binary, err := l.resolveBinary()
	if err != nil {
		return nil, err
	}

	args := []string{
		opts.MountPoint,
		strings.Join(opts.Schemes, ","),
		"--foreground",
		"--disk-cache-dir", opts.CacheDir,
	}
	args = append(args, l.Args...)

	cmd := exec.Command(binary, args...)
	cmd.Stderr = os.Stderr
	cmd.Env = os.Environ()
	cmd.SysProcAttr = sysProcAttr(l.Detach)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start mount process: %w", err)
	}

	w := &processWorker{
		cmd:   cmd,
		ready: make(chan error, 1),
		done:  make(chan struct{}),
	}

	scanned := make(chan struct{})
	go func() {
		defer close(scanned)

		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == ReadyMessage {
				w.signal(nil)
				continue
			}
			log.Debug().Int("pid", cmd.Process.Pid).Str("line", line).Msg("mount process output")
		}
	}()

	go func() {
		// Wait closes the pipe, so drain it first
		<-scanned
		err := cmd.Wait()
		if err == nil {
			err = errors.New("mount process exited")
		}
		w.signal(fmt.Errorf("mount process exited before becoming ready: %w", err))
		close(w.done)
		log.Info().Int("pid", cmd.Process.Pid).Err(err).Msg("mount process exited")
	}()

	log.Info().Int("pid", cmd.Process.Pid).Str("mount_point", opts.MountPoint).Msg("started mount process")
	return w, nil
}

func (l *ProcessLauncher) resolveBinary() (string, error) {
	if l.Binary != "" {
		return l.Binary, nil
	}

	binary, err := exec.LookPath(DefaultBinary)
	if err != nil {
		return "", fmt.Errorf("failed to find %s binary: %w", DefaultBinary, err)
	}
	return binary, nil
}

type processWorker struct {
	cmd       *exec.Cmd
	ready     chan error
	readyOnce sync.Once
	done      chan struct{}
}

func (w *processWorker) signal(err error) {
	w.readyOnce.Do(func() {
		w.ready <- err
	})
}

func (w *processWorker) Ready() <-chan error {
	return w.ready
}

func (w *processWorker) Done() <-chan struct{} {
	return w.done
}

func (w *processWorker) Pid() int {
	return w.cmd.Process.Pid
}

func (w *processWorker) Stop(timeout time.Duration) error {
	select {
	case <-w.done:
		return nil
	default:
	}

	// The worker leads its own process group
	pid := w.cmd.Process.Pid
	if err := unix.Kill(-pid, unix.SIGTERM); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("failed to signal mount process %d: %w", pid, err)
	}

	select {
	case <-w.done:
		return nil
	case <-time.After(timeout):
	}

	log.Warn().Int("pid", pid).Msg("mount process did not exit, killing")
	if err := unix.Kill(-pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("failed to kill mount process %d: %w", pid, err)
	}
	<-w.done
	return nil
}
