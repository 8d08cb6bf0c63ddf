package common

import (
	"errors"
	"syscall"
)

var (
	ErrInvalidPath       = errors.New("invalid virtual path")
	ErrUnsupportedScheme = errors.New("unsupported scheme")
	ErrNotFound          = errors.New("remote resource not found")
	ErrNotADirectory     = errors.New("not a directory")
	ErrIO                = errors.New("i/o error")
	ErrStaleHandle       = errors.New("filesystem has been destroyed")
	ErrMountTimeout      = errors.New("mount did not become ready in time")
	ErrNotStarted        = errors.New("httpfs not started")
	ErrNotMounted        = errors.New("httpfs not mounted")
)

// ToErrno maps an error returned by the filesystem operations to the errno
// reported back through FUSE.
func ToErrno(err error) syscall.Errno {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrStaleHandle):
		return syscall.ESTALE
	case errors.Is(err, ErrIO):
		return syscall.EIO
	case errors.Is(err, ErrNotADirectory):
		return syscall.ENOTDIR
	case errors.Is(err, ErrInvalidPath), errors.Is(err, ErrUnsupportedScheme), errors.Is(err, ErrNotFound):
		return syscall.ENOENT
	default:
		return syscall.EIO
	}
}
