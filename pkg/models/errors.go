package models

import "errors"

var (
	// ErrRemoteUnavailable means the remote could not be reached or answered with a server error.
	ErrRemoteUnavailable = errors.New("remote unavailable")
	// ErrAuthRequired means the remote refused the request for lack of credentials.
	ErrAuthRequired = errors.New("authentication required")
	// ErrNotFound means a path or remote resource does not exist.
	ErrNotFound = errors.New("not found")
	// ErrReadOnly is returned by every mutating operation.
	ErrReadOnly = errors.New("read-only filesystem")
	// ErrHandleClosed means a handle was used after release.
	ErrHandleClosed = errors.New("handle closed")
	// ErrRemoteFetchFailed means photo content could not be fetched after open.
	ErrRemoteFetchFailed = errors.New("remote fetch failed")
	// ErrNotDir means a directory operation targeted a photo.
	ErrNotDir = errors.New("not a directory")
	// ErrIsDir means a file operation targeted an album.
	ErrIsDir = errors.New("is a directory")
)
