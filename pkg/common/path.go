package common

import (
	"fmt"
	"net/url"
	"strings"
)

// VirtualPath is a remote resource addressed through the mounted filesystem.
// It serializes to "/<scheme>/<host><path>..".
type VirtualPath struct {
	Scheme string
	Host   string
	Path   string
}

func (p VirtualPath) String() string {
	return "/" + p.Scheme + "/" + p.Host + p.Path + VirtualPathMarker
}

// URL returns the remote location the virtual path refers to.
func (p VirtualPath) URL() string {
	return p.Scheme + "://" + p.Host + p.Path
}

// PathCodec converts between virtual filesystem paths and remote URLs for
// an allow-list of schemes.
type PathCodec struct {
	schemes []string
}

func NewPathCodec(schemes ...string) *PathCodec {
	if len(schemes) == 0 {
		schemes = DefaultSchemes
	}

	allowed := make([]string, 0, len(schemes))
	seen := make(map[string]bool, len(schemes))
	for _, s := range schemes {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		allowed = append(allowed, s)
	}

	return &PathCodec{schemes: allowed}
}

// Schemes returns the configured scheme roots in order.
func (c *PathCodec) Schemes() []string {
	out := make([]string, len(c.schemes))
	copy(out, c.schemes)
	return out
}

func (c *PathCodec) allowed(scheme string) bool {
	for _, s := range c.schemes {
		if s == scheme {
			return true
		}
	}
	return false
}

func (c *PathCodec) Encode(scheme, host, path string) (string, error) {
	if !c.allowed(scheme) {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedScheme, scheme)
	}
	if host == "" || strings.Contains(host, "/") {
		return "", fmt.Errorf("%w: bad host %q", ErrInvalidPath, host)
	}
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return VirtualPath{Scheme: scheme, Host: host, Path: path}.String(), nil
}

func (c *PathCodec) Decode(virtualPath string) (VirtualPath, error) {
	if !strings.HasSuffix(virtualPath, VirtualPathMarker) {
		return VirtualPath{}, fmt.Errorf("%w: %s", ErrInvalidPath, virtualPath)
	}

	trimmed := strings.TrimSuffix(virtualPath, VirtualPathMarker)
	if !strings.HasPrefix(trimmed, "/") {
		return VirtualPath{}, fmt.Errorf("%w: %s", ErrInvalidPath, virtualPath)
	}

	scheme, rest, ok := strings.Cut(trimmed[1:], "/")
	if !ok || !c.allowed(scheme) {
		return VirtualPath{}, fmt.Errorf("%w: %s", ErrInvalidPath, virtualPath)
	}

	host, path, _ := strings.Cut(rest, "/")
	if host == "" {
		return VirtualPath{}, fmt.Errorf("%w: %s", ErrInvalidPath, virtualPath)
	}
	if len(rest) > len(host) {
		path = "/" + path
	}

	return VirtualPath{Scheme: scheme, Host: host, Path: path}, nil
}

// URL decodes virtualPath and returns the remote URL it names.
func (c *PathCodec) URL(virtualPath string) (string, error) {
	p, err := c.Decode(virtualPath)
	if err != nil {
		return "", err
	}
	return p.URL(), nil
}

// FromURL builds the virtual path for an absolute URL. Query strings and
// fragments are not representable and are dropped.
func (c *PathCodec) FromURL(rawURL string) (VirtualPath, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return VirtualPath{}, fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}

	scheme := strings.ToLower(u.Scheme)
	if !c.allowed(scheme) {
		return VirtualPath{}, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
	if u.Host == "" {
		return VirtualPath{}, fmt.Errorf("%w: no host in %q", ErrInvalidPath, rawURL)
	}

	return VirtualPath{Scheme: scheme, Host: u.Host, Path: u.EscapedPath()}, nil
}

func (c *PathCodec) IsRoot(path string) bool {
	return path == "/" || path == ""
}

// IsSchemeRoot reports whether path is one of the top level scheme directories.
func (c *PathCodec) IsSchemeRoot(path string) bool {
	name := strings.Trim(path, "/")
	if name == "" || strings.Contains(name, "/") {
		return false
	}
	return c.allowed(name)
}

// SchemeOf returns the scheme root a path lives under.
func (c *PathCodec) SchemeOf(path string) (string, bool) {
	scheme, _, _ := strings.Cut(strings.TrimPrefix(path, "/"), "/")
	if !c.allowed(scheme) {
		return "", false
	}
	return scheme, true
}
