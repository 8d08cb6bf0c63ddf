package httpfs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/beam-cloud/httpfs/pkg/common"
	"github.com/beam-cloud/httpfs/pkg/storage"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFuseServer struct {
	mountErr error
	exited   chan struct{}
}

func (s *fakeFuseServer) Serve() {}

func (s *fakeFuseServer) WaitMount() error {
	return s.mountErr
}

func (s *fakeFuseServer) Wait() {
	<-s.exited
}

func newDiskBackedFilesystem(t *testing.T, dir string) *Filesystem {
	t.Helper()

	memory, err := storage.NewLRUMemoryCache(4)
	require.NoError(t, err)

	disk, err := storage.OpenDiskCache(storage.DiskCacheOptions{Dir: dir, MaxBytes: 1 << 20})
	require.NoError(t, err)

	cache, err := storage.NewBlockCache(storage.BlockCacheOptions{
		Memory:  memory,
		Disk:    disk,
		Fetcher: storage.NewHTTPFetcher(storage.FetcherOptions{Client: newMockClient()}),
	})
	require.NoError(t, err)

	f, err := NewFilesystem(Options{Cache: cache})
	require.NoError(t, err)
	return f
}

func requireDiskCacheReleased(t *testing.T, dir string) {
	t.Helper()

	disk, err := storage.OpenDiskCache(storage.DiskCacheOptions{Dir: dir, LockTimeout: 200 * time.Millisecond})
	require.NoError(t, err, "disk cache lock still held")
	require.NoError(t, disk.Close())
}

func TestServeDestroysFilesystemWhenMountFails(t *testing.T) {
	defer httpmock.DeactivateAndReset()

	dir := t.TempDir()
	f := newDiskBackedFilesystem(t, dir)

	serverError := make(chan error, 1)
	serve(&fakeFuseServer{mountErr: errors.New("fusermount: permission denied")}, f, serverError)

	err, ok := <-serverError
	require.True(t, ok)
	assert.EqualError(t, err, "fusermount: permission denied")

	_, err = f.Getattr(context.Background(), "/")
	assert.ErrorIs(t, err, common.ErrStaleHandle)
	requireDiskCacheReleased(t, dir)
}

func TestServeDestroysFilesystemOnExit(t *testing.T) {
	defer httpmock.DeactivateAndReset()

	dir := t.TempDir()
	f := newDiskBackedFilesystem(t, dir)

	server := &fakeFuseServer{exited: make(chan struct{})}
	serverError := make(chan error, 1)
	go serve(server, f, serverError)

	_, err := f.Getattr(context.Background(), "/")
	require.NoError(t, err)

	close(server.exited)

	select {
	case err, ok := <-serverError:
		assert.False(t, ok, "unexpected error %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return")
	}

	_, err = f.Getattr(context.Background(), "/")
	assert.ErrorIs(t, err, common.ErrStaleHandle)
	requireDiskCacheReleased(t, dir)
}
