package vfs

import (
	"context"
	"errors"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/lycheefs/lycheefs/pkg/models"
)

// ErrNoAttr is returned for unknown extended attributes.
var ErrNoAttr = errors.New("no such attribute")

// Errno translates engine errors into filesystem error codes. Remote
// failures map to EIO even when they wrap a more specific cause.
func Errno(err error) syscall.Errno {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, models.ErrRemoteFetchFailed), errors.Is(err, models.ErrRemoteUnavailable):
		return unix.EIO
	case errors.Is(err, models.ErrNotFound):
		return unix.ENOENT
	case errors.Is(err, models.ErrReadOnly):
		return unix.EROFS
	case errors.Is(err, models.ErrAuthRequired):
		return unix.EACCES
	case errors.Is(err, models.ErrHandleClosed):
		return unix.EBADF
	case errors.Is(err, models.ErrNotDir):
		return unix.ENOTDIR
	case errors.Is(err, models.ErrIsDir):
		return unix.EISDIR
	case errors.Is(err, ErrNoAttr):
		return unix.ENODATA
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return unix.EINTR
	default:
		return unix.EIO
	}
}
