package resource

import "github.com/cockroachdb/errors"

var (
	// ErrInvalidHandle is returned when a handle does not refer to a live resource
	ErrInvalidHandle = errors.New("handle does not refer to a live resource")
	// ErrInvalidDescription is returned when a description cannot produce a resource
	ErrInvalidDescription = errors.New("invalid resource description")
	// ErrUploadOutOfRange is returned when an upload range falls outside its buffer
	ErrUploadOutOfRange = errors.New("upload range exceeds the buffer")
)
