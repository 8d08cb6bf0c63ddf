package httpfs

import (
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/beam-cloud/httpfs/pkg/common"
	"github.com/beam-cloud/httpfs/pkg/storage"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/require"
)

const (
	testURL  = "http://example.test/data.bin"
	testPath = "/http/example.test/data.bin.."
)

func testResource(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

// registerResource serves data at url for HEAD and ranged GET requests.
func registerResource(url string, data []byte) {
	httpmock.RegisterResponder("HEAD", url, func(req *http.Request) (*http.Response, error) {
		resp := httpmock.NewStringResponse(http.StatusOK, "")
		resp.ContentLength = int64(len(data))
		return resp, nil
	})
	httpmock.RegisterResponder("GET", url, func(req *http.Request) (*http.Response, error) {
		var start, end int64
		if _, err := fmt.Sscanf(req.Header.Get("Range"), "bytes=%d-%d", &start, &end); err != nil {
			return httpmock.NewBytesResponse(http.StatusOK, data), nil
		}
		if start >= int64(len(data)) {
			return httpmock.NewStringResponse(http.StatusRequestedRangeNotSatisfiable, ""), nil
		}
		if end >= int64(len(data)) {
			end = int64(len(data)) - 1
		}
		return httpmock.NewBytesResponse(http.StatusPartialContent, data[start:end+1]), nil
	})
}

func newMockClient() *http.Client {
	client := &http.Client{}
	httpmock.ActivateNonDefault(client)
	return client
}

func newTestFilesystem(t *testing.T, client *http.Client) *Filesystem {
	t.Helper()

	metrics := common.NewCacheMetrics()
	memory, err := storage.NewLRUMemoryCache(common.DefaultLRUCapacity)
	require.NoError(t, err)

	disk, err := storage.OpenDiskCache(storage.DiskCacheOptions{Dir: t.TempDir(), MaxBytes: 1 << 24})
	require.NoError(t, err)

	cache, err := storage.NewBlockCache(storage.BlockCacheOptions{
		Memory:    memory,
		Disk:      disk,
		Fetcher:   storage.NewHTTPFetcher(storage.FetcherOptions{Client: client, Metrics: metrics}),
		BlockSize: common.DefaultBlockSize,
		Metrics:   metrics,
	})
	require.NoError(t, err)

	f, err := NewFilesystem(Options{Cache: cache})
	require.NoError(t, err)
	t.Cleanup(f.Destroy)

	return f
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
