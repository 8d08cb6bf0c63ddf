package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/beam-cloud/httpfs/pkg/common"
	"github.com/beam-cloud/httpfs/pkg/httpfs"
	"github.com/beam-cloud/httpfs/pkg/storage"
	"github.com/beam-cloud/httpfs/pkg/supervisor"
	"github.com/rs/zerolog/log"
	flag "github.com/spf13/pflag"
)

type config struct {
	mountPoint string
	schemes    []string

	foreground     bool
	diskCacheSize  int64
	diskCacheDir   string
	lruCapacity    int
	blockSize      int64
	memoryCache    string
	attrTTL        time.Duration
	requestTimeout time.Duration
	maxRetries     uint64
	coalesce       bool
	readyTimeout   time.Duration
	allowOther     bool
	logLevel       string
	logFile        string
}

func main() {
	flags := flag.NewFlagSet("httpfs", flag.ContinueOnError)
	flags.Usage = func() { printUsage(flags) }

	cfg := config{}
	flags.BoolVarP(&cfg.foreground, "foreground", "f", false, "Run in the foreground")
	flags.Int64Var(&cfg.diskCacheSize, "disk-cache-size", getEnvInt64("HTTPFS_DISK_CACHE_SIZE", common.DefaultDiskCacheSize), "Disk cache size in bytes")
	flags.StringVar(&cfg.diskCacheDir, "disk-cache-dir", getEnvString("HTTPFS_DISK_CACHE_DIR", filepath.Join(os.TempDir(), "httpfs-cache")), "Disk cache directory")
	flags.IntVar(&cfg.lruCapacity, "lru-capacity", int(getEnvInt64("HTTPFS_LRU_CAPACITY", common.DefaultLRUCapacity)), "Number of blocks kept in memory")
	flags.Int64Var(&cfg.blockSize, "block-size", common.DefaultBlockSize, "Block size in bytes")
	flags.StringVar(&cfg.memoryCache, "memory-cache", "lru", "Memory cache implementation (lru, ristretto)")
	flags.DurationVar(&cfg.attrTTL, "attr-ttl", common.DefaultAttrTTL, "How long unused file attributes are kept")
	flags.DurationVar(&cfg.requestTimeout, "request-timeout", common.DefaultRequestTimeout, "Timeout for each HTTP request, 0 to disable")
	flags.Uint64Var(&cfg.maxRetries, "max-retries", 0, "Retries for a failed HTTP request")
	flags.BoolVar(&cfg.coalesce, "coalesce", false, "Merge concurrent fetches of the same block")
	flags.DurationVar(&cfg.readyTimeout, "ready-timeout", 10*time.Second, "How long the background launch waits for the mount")
	flags.BoolVar(&cfg.allowOther, "allow-other", false, "Allow other users to access the mount")
	flags.StringVar(&cfg.logLevel, "log-level", getEnvString("HTTPFS_LOG_LEVEL", "info"), "Log level (debug, info, warn, error, disabled)")
	flags.StringVar(&cfg.logFile, "log-file", "", "Write JSON logs to a rotating file instead of stderr")

	if err := flags.Parse(os.Args[1:]); err != nil {
		if err == flag.ErrHelp {
			os.Exit(0)
		}
		os.Exit(2)
	}

	if flags.NArg() != 2 {
		fmt.Fprintf(os.Stderr, "Error: mountpoint and schema are required\n\n")
		printUsage(flags)
		os.Exit(2)
	}
	cfg.mountPoint = flags.Arg(0)
	cfg.schemes = strings.Split(flags.Arg(1), ",")

	logWriter, err := common.ConfigureLogger(common.LogOptions{Level: cfg.logLevel, File: cfg.logFile})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	if closer, ok := logWriter.(io.Closer); ok && cfg.logFile != "" {
		defer closer.Close()
	}

	if cfg.foreground {
		err = runForeground(cfg)
	} else {
		err = runBackground(cfg, flags)
	}
	if err != nil {
		log.Error().Err(err).Msg("httpfs failed")
		os.Exit(1)
	}
}

func printUsage(flags *flag.FlagSet) {
	fmt.Fprintf(os.Stderr, `httpfs - read-only filesystem for http(s) resources

Usage:
  httpfs <mountpoint> <http|https|ftp>[,...] [options]

Remote files are read at <mountpoint>/<scheme>/<host>/<path>..

Options:
%s
Environment Variables:
  HTTPFS_DISK_CACHE_SIZE  Disk cache size in bytes (default: 1GiB)
  HTTPFS_DISK_CACHE_DIR   Disk cache directory
  HTTPFS_LRU_CAPACITY     Number of blocks kept in memory (default: 400)
  HTTPFS_LOG_LEVEL        Log level (default: info)

`, flags.FlagUsages())
}

func runForeground(cfg config) error {
	log.Info().
		Str("mount_point", cfg.mountPoint).
		Strs("schemes", cfg.schemes).
		Str("disk_cache_dir", cfg.diskCacheDir).
		Int64("disk_cache_size", cfg.diskCacheSize).
		Int("lru_capacity", cfg.lruCapacity).
		Msg("starting httpfs")

	filesystem, err := newFilesystem(cfg)
	if err != nil {
		return err
	}

	startServer, serverError, server, err := httpfs.Mount(httpfs.MountOptions{
		MountPoint:   cfg.mountPoint,
		Filesystem:   filesystem,
		AttrTimeout:  cfg.attrTTL,
		EntryTimeout: cfg.attrTTL,
		AllowOther:   cfg.allowOther,
	})
	if err != nil {
		return err
	}

	if err := startServer(); err != nil {
		return fmt.Errorf("failed to start FUSE server: %w", err)
	}
	if err := server.WaitMount(); err != nil {
		return fmt.Errorf("failed to wait for mount: %w", err)
	}

	fmt.Fprintln(os.Stdout, supervisor.ReadyMessage)
	log.Info().Str("mount_point", cfg.mountPoint).Msg("httpfs mounted")

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	if err := waitForShutdown(server, serverError, signals); err != nil {
		return err
	}

	log.Info().Msg("httpfs stopped")
	return nil
}

type unmounter interface {
	Unmount() error
}

// waitForShutdown blocks until the server exits on its own or a signal
// unmounts it. A failed unmount leaves the mount serving until the next
// signal retries it.
func waitForShutdown(server unmounter, serverError <-chan error, signals <-chan os.Signal) error {
	for {
		select {
		case sig := <-signals:
			log.Info().Str("signal", sig.String()).Msg("unmounting")
			if err := server.Unmount(); err != nil {
				log.Warn().Err(err).Msg("unmount failed, send the signal again to retry")
				continue
			}
			for err := range serverError {
				if err != nil {
					return err
				}
			}
			return nil
		case err, ok := <-serverError:
			if ok && err != nil {
				return err
			}
			return nil
		}
	}
}

func newFilesystem(cfg config) (*httpfs.Filesystem, error) {
	metrics := common.NewCacheMetrics()

	fetcher := storage.NewHTTPFetcher(storage.FetcherOptions{
		RequestTimeout: cfg.requestTimeout,
		MaxRetries:     cfg.maxRetries,
		Metrics:        metrics,
	})

	var memory storage.MemoryCache
	var err error
	switch cfg.memoryCache {
	case "lru":
		memory, err = storage.NewLRUMemoryCache(cfg.lruCapacity)
	case "ristretto":
		memory, err = storage.NewRistrettoMemoryCache(int64(cfg.lruCapacity) * cfg.blockSize)
	default:
		err = fmt.Errorf("unknown memory cache %q", cfg.memoryCache)
	}
	if err != nil {
		return nil, err
	}

	disk, err := storage.OpenDiskCache(storage.DiskCacheOptions{
		Dir:      cfg.diskCacheDir,
		MaxBytes: cfg.diskCacheSize,
	})
	if err != nil {
		return nil, err
	}

	cache, err := storage.NewBlockCache(storage.BlockCacheOptions{
		Memory:    memory,
		Disk:      disk,
		Fetcher:   fetcher,
		BlockSize: cfg.blockSize,
		Coalesce:  cfg.coalesce,
		Metrics:   metrics,
	})
	if err != nil {
		disk.Close()
		return nil, err
	}

	filesystem, err := httpfs.NewFilesystem(httpfs.Options{
		Schemes: cfg.schemes,
		Cache:   cache,
		AttrTTL: cfg.attrTTL,
	})
	if err != nil {
		cache.Close()
		return nil, err
	}

	return filesystem, nil
}

// runBackground starts a detached copy of this binary in the foreground
// mode and returns once it reports the mount is ready.
func runBackground(cfg config, flags *flag.FlagSet) error {
	var forwarded []string
	flags.Visit(func(f *flag.Flag) {
		if f.Name == "foreground" || f.Name == "disk-cache-dir" {
			return
		}
		forwarded = append(forwarded, "--"+f.Name+"="+f.Value.String())
	})

	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to resolve executable: %w", err)
	}
	launcher := &supervisor.ProcessLauncher{Binary: self, Args: forwarded, Detach: true}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.readyTimeout)
	defer cancel()

	worker, err := launcher.Launch(ctx, supervisor.LaunchOptions{
		MountPoint: cfg.mountPoint,
		CacheDir:   cfg.diskCacheDir,
		Schemes:    cfg.schemes,
	})
	if err != nil {
		return err
	}

	select {
	case err := <-worker.Ready():
		if err != nil {
			return err
		}
	case <-ctx.Done():
		worker.Stop(supervisor.DefaultStopTimeout)
		return fmt.Errorf("%w: %s", common.ErrMountTimeout, cfg.mountPoint)
	}

	log.Info().Int("pid", worker.Pid()).Str("mount_point", cfg.mountPoint).Msg("httpfs running in background")
	return nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil && parsed > 0 {
			return parsed
		}
	}
	return defaultValue
}
