package httpfs

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/rs/zerolog/log"
)

type MountOptions struct {
	MountPoint string
	Filesystem *Filesystem

	// EntryTimeout and AttrTimeout control kernel caching of lookups and
	// attributes. Zero uses the attribute cache TTL.
	EntryTimeout time.Duration
	AttrTimeout  time.Duration

	AllowOther bool
	Debug      bool
}

// Mount prepares a FUSE server for the filesystem. The returned function
// starts serving; the channel yields a mount error or is closed once the
// server exits, after the filesystem has been destroyed.
func Mount(options MountOptions) (func() error, <-chan error, *fuse.Server, error) {
	if options.Filesystem == nil {
		return nil, nil, nil, errors.New("filesystem is required")
	}

	log.Info().Msgf("mounting httpfs to %s", options.MountPoint)

	if _, err := os.Stat(options.MountPoint); os.IsNotExist(err) {
		err = os.MkdirAll(options.MountPoint, 0755)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to create mount point directory: %v", err)
		}
	}

	attrTimeout := options.AttrTimeout
	if attrTimeout <= 0 {
		attrTimeout = time.Second * 60
	}
	entryTimeout := options.EntryTimeout
	if entryTimeout <= 0 {
		entryTimeout = time.Second * 60
	}

	root := NewRoot(options.Filesystem)
	fsOptions := &fs.Options{
		AttrTimeout:  &attrTimeout,
		EntryTimeout: &entryTimeout,
	}
	server, err := fuse.NewServer(fs.NewNodeFS(root, fsOptions), options.MountPoint, &fuse.MountOptions{
		FsName:        "httpfs",
		Name:          "httpfs",
		MaxBackground: 512,
		DisableXAttrs: true,
		AllowOther:    options.AllowOther,
		Debug:         options.Debug,
		MaxReadAhead:  1024 * 128, // 128KB
	})
	if err != nil {
		options.Filesystem.Destroy()
		return nil, nil, nil, fmt.Errorf("could not create server: %v", err)
	}

	serverError := make(chan error, 1)
	startServer := func() error {
		go serve(server, options.Filesystem, serverError)
		return nil
	}

	return startServer, serverError, server, nil
}

type fuseServer interface {
	Serve()
	WaitMount() error
	Wait()
}

// serve runs server until it exits and then destroys the filesystem,
// including when the mount never comes up.
func serve(server fuseServer, filesystem *Filesystem, serverError chan<- error) {
	go server.Serve()

	if err := server.WaitMount(); err != nil {
		filesystem.Destroy()
		serverError <- err
		return
	}

	server.Wait()
	filesystem.Destroy()

	close(serverError)
}
