// Package fvdeerrors implements the error taxonomy shared by every layer of
// the core: a fixed set of kinds (§7) wrapped with call-site context via
// github.com/pkg/errors so the original frame and message survive up to the
// CLI boundary.
package fvdeerrors

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind identifies the class of failure, independent of where it occurred.
type Kind int

const (
	InvalidArgument Kind = iota
	UnsupportedValue
	IoRead
	IoWrite
	IoSeek
	IoOpen
	IoClose
	MemoryExhausted
	CopyFailed
	Locked
	CapacityExceeded
	AbortRequested
	ChecksumMismatch
	ProvenanceViolation
)

func (k Kind) String() string {
	switch k {
	case InvalidArgument:
		return "InvalidArgument"
	case UnsupportedValue:
		return "UnsupportedValue"
	case IoRead:
		return "IoRead"
	case IoWrite:
		return "IoWrite"
	case IoSeek:
		return "IoSeek"
	case IoOpen:
		return "IoOpen"
	case IoClose:
		return "IoClose"
	case MemoryExhausted:
		return "MemoryExhausted"
	case CopyFailed:
		return "CopyFailed"
	case Locked:
		return "Locked"
	case CapacityExceeded:
		return "CapacityExceeded"
	case AbortRequested:
		return "AbortRequested"
	case ChecksumMismatch:
		return "ChecksumMismatch"
	case ProvenanceViolation:
		return "ProvenanceViolation"
	default:
		return "Unknown"
	}
}

// Error is a taxonomy-tagged error that also carries the offset/region
// context §7 requires for I/O failures.
type Error struct {
	Kind   Kind
	Offset int64
	Region string
	cause  error
}

func (e *Error) Error() string {
	if e.Region != "" {
		return fmt.Sprintf("%s: %s (offset=%d): %v", e.Kind, e.Region, e.Offset, e.cause)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.cause)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates a new taxonomy error whose cause is built with
// github.com/pkg/errors' errors.New, which records the call-site stack.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, cause: errors.New(msg)}
}

// Wrap attaches kind and call-site context to an existing error.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, cause: errors.WithMessage(err, msg)}
}

// WithRegion attaches offset/region context, used for I/O failures that
// must report "errors include offset and region name" per §7.
func WithRegion(kind Kind, err error, region string, offset int64) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Offset: offset, Region: region, cause: errors.WithMessage(err, region)}
}

// KindOf unwraps err looking for a tagged *Error and returns its Kind.
// ok is false if err (or any error in its chain) never carried a Kind.
func KindOf(err error) (Kind, bool) {
	var tagged *Error
	for err != nil {
		if e, isTagged := err.(*Error); isTagged {
			tagged = e
			break
		}
		err = errors.Unwrap(err)
	}
	if tagged == nil {
		return 0, false
	}
	return tagged.Kind, true
}

// Is reports whether err carries the given Kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
