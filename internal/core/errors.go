package core

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a path does not exist at the requested ref.
	ErrNotFound = errors.New("not found")

	// ErrTooLarge is returned when a payload exceeds the configured size cap.
	ErrTooLarge = errors.New("payload exceeds size limit")

	// ErrListingUnsupported is returned by stores that cannot enumerate paths.
	ErrListingUnsupported = errors.New("listing not supported by store")
)

// NotFoundError wraps ErrNotFound with the ref and path that were requested.
type NotFoundError struct {
	Ref  BranchRef
	Path string
}

func (e *NotFoundError) Error() string {
	if e.Ref != "" {
		return fmt.Sprintf("%s: %s not found", e.Ref, e.Path)
	}
	return fmt.Sprintf("%s not found", e.Path)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// IOError is any retrieval failure other than a missing path.
type IOError struct {
	Op   string // "read", "list", "refs"
	Path string
	Err  error
}

func (e *IOError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// ParseError describes a single index record that could not be decoded.
type ParseError struct {
	Line int
	Text string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ConstraintError is returned when a version requirement cannot be parsed.
type ConstraintError struct {
	Requirement string
	Err         error
}

func (e *ConstraintError) Error() string {
	return fmt.Sprintf("invalid requirement %q: %v", e.Requirement, e.Err)
}

func (e *ConstraintError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err is, or wraps, ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
