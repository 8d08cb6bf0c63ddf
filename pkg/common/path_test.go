package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPathRoundTrip(t *testing.T) {
	codec := NewPathCodec("http", "https", "ftp")

	tests := []struct {
		scheme string
		host   string
		path   string
	}{
		{"http", "example.test", "/data.bin"},
		{"https", "example.test:8443", "/a/b/c.mcool"},
		{"ftp", "ftp.example.test", "/pub/file.txt"},
		{"https", "example.test", "/with%20space.bin"},
		{"http", "example.test", ""},
	}

	for _, tt := range tests {
		t.Run(tt.scheme+"://"+tt.host+tt.path, func(t *testing.T) {
			encoded, err := codec.Encode(tt.scheme, tt.host, tt.path)
			require.NoError(t, err)
			assert.True(t, len(encoded) > 2 && encoded[len(encoded)-2:] == "..")

			decoded, err := codec.Decode(encoded)
			require.NoError(t, err)
			assert.Equal(t, VirtualPath{Scheme: tt.scheme, Host: tt.host, Path: tt.path}, decoded)
		})
	}
}

func TestEncode(t *testing.T) {
	codec := NewPathCodec()

	encoded, err := codec.Encode("https", "example.test", "data.bin")
	require.NoError(t, err)
	assert.Equal(t, "/https/example.test/data.bin..", encoded)

	_, err = codec.Encode("ftp", "example.test", "/data.bin")
	assert.ErrorIs(t, err, ErrUnsupportedScheme)

	_, err = codec.Encode("http", "", "/data.bin")
	assert.ErrorIs(t, err, ErrInvalidPath)
}

func TestDecodeInvalid(t *testing.T) {
	codec := NewPathCodec()

	for _, p := range []string{
		"/http/example.test/data.bin",
		"http/example.test/data.bin..",
		"/gopher/example.test/data.bin..",
		"/http/..",
		"/http//data.bin..",
		"..",
	} {
		t.Run(p, func(t *testing.T) {
			_, err := codec.Decode(p)
			assert.ErrorIs(t, err, ErrInvalidPath)
		})
	}
}

func TestURL(t *testing.T) {
	codec := NewPathCodec()

	url, err := codec.URL("/https/example.test/dir/data.bin..")
	require.NoError(t, err)
	assert.Equal(t, "https://example.test/dir/data.bin", url)
}

func TestFromURL(t *testing.T) {
	codec := NewPathCodec()

	vp, err := codec.FromURL("HTTPS://example.test:8080/tiles/a.mcool?token=1")
	require.NoError(t, err)
	assert.Equal(t, VirtualPath{Scheme: "https", Host: "example.test:8080", Path: "/tiles/a.mcool"}, vp)
	assert.Equal(t, "/https/example.test:8080/tiles/a.mcool..", vp.String())

	_, err = codec.FromURL("ftp://example.test/a")
	assert.ErrorIs(t, err, ErrUnsupportedScheme)

	_, err = codec.FromURL("/relative/path")
	assert.Error(t, err)
}

func TestSchemeHelpers(t *testing.T) {
	codec := NewPathCodec("HTTP", "https", "http")

	assert.Equal(t, []string{"http", "https"}, codec.Schemes())
	assert.True(t, codec.IsRoot("/"))
	assert.True(t, codec.IsSchemeRoot("/http"))
	assert.True(t, codec.IsSchemeRoot("/https/"))
	assert.False(t, codec.IsSchemeRoot("/ftp"))
	assert.False(t, codec.IsSchemeRoot("/http/example.test"))

	scheme, ok := codec.SchemeOf("/https/example.test/data.bin..")
	assert.True(t, ok)
	assert.Equal(t, "https", scheme)

	_, ok = codec.SchemeOf("/gopher/example.test")
	assert.False(t, ok)
}
