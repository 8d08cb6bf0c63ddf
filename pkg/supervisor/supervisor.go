package supervisor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/beam-cloud/httpfs/pkg/common"
	"github.com/moby/sys/mountinfo"
	"github.com/rs/zerolog/log"
)

const (
	MountDirName = "schemas"
	CacheDirName = "cache"

	DefaultReadyTimeout = 5 * time.Second
	DefaultPollAttempts = 10
	DefaultPollInterval = 500 * time.Millisecond
	DefaultStopTimeout  = 5 * time.Second
)

type State int

const (
	StateUnmounted State = iota
	StateMounting
	StateMounted
	StateUnmounting
)

func (s State) String() string {
	switch s {
	case StateUnmounted:
		return "unmounted"
	case StateMounting:
		return "mounting"
	case StateMounted:
		return "mounted"
	case StateUnmounting:
		return "unmounting"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type Options struct {
	Schemes  []string
	Launcher Launcher

	// ReadyTimeout bounds the wait for the worker's ready signal.
	ReadyTimeout time.Duration

	// PollAttempts and PollInterval bound the check that every scheme root
	// is visible under the mount point.
	PollAttempts int
	PollInterval time.Duration

	StopTimeout time.Duration
}

// Supervisor keeps one httpfs mount alive in a worker process under
// <tmpDir>/schemas, caching blocks in <tmpDir>/cache.
type Supervisor struct {
	opts  Options
	codec *common.PathCodec

	mounted func(string) (bool, error)
	unmount func(string) error

	mu       sync.Mutex
	worker   Worker
	tmpDir   string
	state    State
	launches int
}

func New(opts Options) *Supervisor {
	if opts.Launcher == nil {
		opts.Launcher = &ProcessLauncher{}
	}
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = DefaultReadyTimeout
	}
	if opts.PollAttempts <= 0 {
		opts.PollAttempts = DefaultPollAttempts
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultStopTimeout
	}

	codec := common.NewPathCodec(opts.Schemes...)
	opts.Schemes = codec.Schemes()

	return &Supervisor{
		opts:    opts,
		codec:   codec,
		mounted: mountinfo.Mounted,
		unmount: forceUnmount,
	}
}

// Start mounts httpfs under tmpDir. It does nothing when a worker is
// already serving the same directory, and replaces a worker serving a
// different one.
func (s *Supervisor) Start(ctx context.Context, tmpDir string) error {
	abs, err := filepath.Abs(tmpDir)
	if err != nil {
		return err
	}
	if info, err := os.Stat(abs); err != nil || !info.IsDir() {
		return fmt.Errorf("%w: mount dir doesn't exist: %s", common.ErrNotADirectory, abs)
	}

	mountPoint := filepath.Join(abs, MountDirName)
	cacheDir := filepath.Join(abs, CacheDirName)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.worker != nil && s.tmpDir == abs && s.isMounted(mountPoint) {
		log.Debug().Str("dir", abs).Msg("skipping start, already running in same directory")
		return nil
	}

	if err := s.stopLocked(); err != nil {
		return err
	}

	if err := os.MkdirAll(mountPoint, 0755); err != nil {
		return fmt.Errorf("failed to create mount point: %w", err)
	}
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return fmt.Errorf("failed to create cache dir: %w", err)
	}

	if s.isMounted(mountPoint) {
		log.Warn().
			Str("mount_point", mountPoint).
			Msg("skipping mount, already mounted. Call Unmount and Start again to remount, or Start with a different directory")
		s.tmpDir = abs
		s.state = StateMounted
		return nil
	}

	log.Info().Str("mount_point", mountPoint).Msg("starting httpfs mount")
	s.state = StateMounting

	worker, err := s.opts.Launcher.Launch(ctx, LaunchOptions{
		MountPoint: mountPoint,
		CacheDir:   cacheDir,
		Schemes:    s.opts.Schemes,
	})
	if err != nil {
		s.state = StateUnmounted
		return err
	}
	s.launches++

	if err := s.waitReady(ctx, worker, mountPoint); err != nil {
		if stopErr := worker.Stop(s.opts.StopTimeout); stopErr != nil {
			log.Warn().Err(stopErr).Msg("failed to stop worker after failed mount")
		}
		s.state = StateUnmounted
		return err
	}

	s.worker = worker
	s.tmpDir = abs
	s.state = StateMounted

	log.Info().Str("mount_point", mountPoint).Int("pid", worker.Pid()).Msg("httpfs mounted")
	return nil
}

func (s *Supervisor) waitReady(ctx context.Context, worker Worker, mountPoint string) error {
	select {
	case err := <-worker.Ready():
		if err != nil {
			return fmt.Errorf("%w: %v", common.ErrMountTimeout, err)
		}
	case <-time.After(s.opts.ReadyTimeout):
		return fmt.Errorf("%w: no ready signal after %s", common.ErrMountTimeout, s.opts.ReadyTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}

	for attempt := 0; attempt < s.opts.PollAttempts; attempt++ {
		if s.schemeRootsVisible(mountPoint) {
			return nil
		}

		select {
		case <-time.After(s.opts.PollInterval):
		case <-worker.Done():
			return fmt.Errorf("%w: worker exited", common.ErrMountTimeout)
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return fmt.Errorf("%w: scheme roots not visible under %s", common.ErrMountTimeout, mountPoint)
}

func (s *Supervisor) schemeRootsVisible(mountPoint string) bool {
	for _, scheme := range s.opts.Schemes {
		info, err := os.Stat(filepath.Join(mountPoint, scheme))
		if err != nil || !info.IsDir() {
			return false
		}
	}
	return true
}

// Stop terminates the worker if one is running. It is safe to call at any
// time.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopLocked()
}

func (s *Supervisor) stopLocked() error {
	if s.worker == nil {
		return nil
	}

	log.Info().Str("dir", s.tmpDir).Msg("stopping httpfs")
	s.state = StateUnmounting

	err := s.worker.Stop(s.opts.StopTimeout)
	s.worker = nil
	s.tmpDir = ""
	s.state = StateUnmounted

	return err
}

func (s *Supervisor) IsMounted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tmpDir == "" {
		return false
	}
	return s.isMounted(s.mountPoint())
}

// Unmount stops our worker and detaches the mount point even when it was
// mounted by another process.
func (s *Supervisor) Unmount() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tmpDir == "" {
		return common.ErrNotStarted
	}

	mountPoint := s.mountPoint()
	if !s.isMounted(mountPoint) {
		return common.ErrNotMounted
	}

	if err := s.stopLocked(); err != nil {
		log.Warn().Err(err).Msg("failed to stop worker")
	}

	if !s.isMounted(mountPoint) {
		return nil
	}

	err := s.unmount(mountPoint)
	if !s.isMounted(mountPoint) {
		s.state = StateUnmounted
		return nil
	}
	if err == nil {
		err = fmt.Errorf("%s is still mounted", mountPoint)
	}
	return fmt.Errorf("failed to unmount httpfs: %w", err)
}

// PathFor returns the local path that reads rawURL through the mount.
func (s *Supervisor) PathFor(rawURL string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tmpDir == "" {
		return "", common.ErrNotStarted
	}

	mountPoint := s.mountPoint()
	if !s.isMounted(mountPoint) {
		return "", common.ErrNotMounted
	}

	vp, err := s.codec.FromURL(rawURL)
	if err != nil {
		return "", err
	}

	// Joined by hand, filepath.Join would clean the trailing ".."
	return mountPoint + vp.String(), nil
}

func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Launches returns how many workers have been started.
func (s *Supervisor) Launches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.launches
}

func (s *Supervisor) mountPoint() string {
	return filepath.Join(s.tmpDir, MountDirName)
}

func (s *Supervisor) isMounted(mountPoint string) bool {
	mounted, err := s.mounted(mountPoint)
	if err != nil {
		log.Debug().Err(err).Str("mount_point", mountPoint).Msg("mount check failed")
		return false
	}
	return mounted
}
