package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidInput = errors.New("invalid input")
	ErrStorage      = errors.New("storage failure")
	ErrCorrupted    = errors.New("corruption detected")
	ErrRenderFailed = errors.New("render failed")
	// ErrTransient marks persistence failures that may succeed when the
	// transaction is run again (lock contention, write conflicts).
	ErrTransient = errors.New("transient persistence failure")

	ErrDuplicateName     = fmt.Errorf("%w: image name need to be unique", ErrConflict)
	ErrDuplicateHash     = fmt.Errorf("%w: image content already stored", ErrConflict)
	ErrAlreadyExists     = fmt.Errorf("%w: thumbnail already exists", ErrConflict)
	ErrUnsupportedFormat = fmt.Errorf("%w: unsupported format", ErrInvalidInput)
	ErrMissingDimension  = fmt.Errorf("%w: width, height or scale is required", ErrInvalidInput)
	ErrInvalidSize       = fmt.Errorf("%w: invalid size", ErrInvalidInput)
	ErrDecode            = fmt.Errorf("%w: cannot decode image", ErrInvalidInput)
)

// UnsupportedFormatError reports a file type outside the allow-list.
type UnsupportedFormatError struct {
	Attempted string
	Allowed   []string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("%q is not one of allowed image formats [%s]", e.Attempted, strings.Join(e.Allowed, ", "))
}

func (e *UnsupportedFormatError) Unwrap() error {
	return ErrUnsupportedFormat
}

// CorruptionError is returned when an image row exists but its stored file
// does not. By the time it is returned the row has been removed, so it also
// matches ErrNotFound.
type CorruptionError struct {
	ImageID  string
	Filename string
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("image %s: stored file %s is missing", e.ImageID, e.Filename)
}

func (e *CorruptionError) Unwrap() []error {
	return []error{ErrCorrupted, ErrNotFound}
}
