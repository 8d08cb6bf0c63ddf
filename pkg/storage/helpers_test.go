package storage

import (
	"fmt"
	"net/http"

	"github.com/jarcoal/httpmock"
)

const testURL = "http://example.test/data.bin"

func testResource(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

// rangeResponder serves data honoring a single "bytes=start-end" range.
func rangeResponder(data []byte) httpmock.Responder {
	return func(req *http.Request) (*http.Response, error) {
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
	}
}

func headResponder(size int) httpmock.Responder {
	return func(req *http.Request) (*http.Response, error) {
		resp := httpmock.NewStringResponse(http.StatusOK, "")
		resp.ContentLength = int64(size)
		return resp, nil
	}
}

func newMockClient() *http.Client {
	client := &http.Client{}
	httpmock.ActivateNonDefault(client)
	return client
}
