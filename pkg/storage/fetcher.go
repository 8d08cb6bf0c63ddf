package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/beam-cloud/httpfs/pkg/common"
	"github.com/cenkalti/backoff/v4"
	log "github.com/rs/zerolog/log"
)

var defaultTransport = &http.Transport{
	Proxy:                 http.ProxyFromEnvironment,
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   16,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
	ForceAttemptHTTP2:     true,
	DialContext: (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
}

type FetcherOptions struct {
	// Client overrides the HTTP client. Mainly used by tests.
	Client *http.Client

	// RequestTimeout bounds every request. Zero means no timeout.
	RequestTimeout time.Duration

	// MaxRetries is the number of additional attempts after a failed
	// request. Zero disables retries.
	MaxRetries uint64

	Metrics *common.CacheMetrics
}

type HTTPFetcher struct {
	client     *http.Client
	maxRetries uint64
	metrics    *common.CacheMetrics
}

func NewHTTPFetcher(opts FetcherOptions) *HTTPFetcher {
	client := opts.Client
	if client == nil {
		client = &http.Client{
			Timeout:   opts.RequestTimeout,
			Transport: defaultTransport.Clone(),
		}
	}

	metrics := opts.Metrics
	if metrics == nil {
		metrics = common.NewCacheMetrics()
	}

	return &HTTPFetcher{
		client:     client,
		maxRetries: opts.MaxRetries,
		metrics:    metrics,
	}
}

// FetchBlock issues a single range request for block index of url. The
// final block of a resource may be shorter than blockSize.
func (f *HTTPFetcher) FetchBlock(ctx context.Context, url string, index uint64, blockSize int64) ([]byte, error) {
	start := int64(index) * blockSize
	end := start + blockSize - 1

	var data []byte
	err := f.retry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end))

		resp, err := f.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusPartialContent:
			data, err = io.ReadAll(io.LimitReader(resp.Body, blockSize))
			return err
		case resp.StatusCode == http.StatusOK:
			// Range was ignored and the whole resource is coming back
			log.Warn().Str("url", url).Uint64("block", index).Msg("server ignored range request")
			if _, err := io.CopyN(io.Discard, resp.Body, start); err != nil {
				if errors.Is(err, io.EOF) {
					data = []byte{}
					return nil
				}
				return err
			}
			data, err = io.ReadAll(io.LimitReader(resp.Body, blockSize))
			return err
		case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable:
			data = []byte{}
			return nil
		default:
			return statusError(url, resp.StatusCode)
		}
	})
	if err != nil {
		f.metrics.RecordFetchError()
		return nil, err
	}

	f.metrics.RecordFetch(url, int64(len(data)))
	return data, nil
}

// HeadSize returns the declared content length of url.
func (f *HTTPFetcher) HeadSize(ctx context.Context, url string) (uint64, error) {
	var size uint64
	err := f.retry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}

		resp, err := f.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return statusError(url, resp.StatusCode)
		}
		if resp.ContentLength < 0 {
			return backoff.Permanent(fmt.Errorf("%w: no content length for %s", common.ErrNotFound, url))
		}

		size = uint64(resp.ContentLength)
		return nil
	})
	if err != nil {
		return 0, err
	}

	log.Debug().Str("url", url).Uint64("size", size).Msg("HEAD completed")
	return size, nil
}

func (f *HTTPFetcher) retry(ctx context.Context, op backoff.Operation) error {
	var b backoff.BackOff = backoff.NewExponentialBackOff()
	b = backoff.WithMaxRetries(b, f.maxRetries)
	b = backoff.WithContext(b, ctx)

	return backoff.RetryNotify(op, b, func(err error, wait time.Duration) {
		log.Warn().Err(err).Dur("wait", wait).Msg("request failed, retrying")
	})
}

// statusError classifies a non-success status. Client errors are not retried.
func statusError(url string, status int) error {
	err := fmt.Errorf("%w: unexpected status code %d for %s", common.ErrNotFound, status, url)
	if status >= 400 && status < 500 {
		return backoff.Permanent(err)
	}
	return err
}
