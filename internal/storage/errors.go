package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"syscall"
)

// Kind classifies every failure the engine reports. A Kind is itself an
// error so callers can branch with errors.Is(err, storage.NotFound).
type Kind uint8

const (
	KindUnknown Kind = iota
	InvalidParameter
	NotFound
	PermissionDenied
	ReadFailure
	WriteFailure
	InsufficientStorage
	AlreadyExists
	DeleteFailure
	AggregateDeleteFailure
	GenericOperationFailure
)

var kindNames = map[Kind]string{
	KindUnknown:             "unknown",
	InvalidParameter:        "invalid parameter",
	NotFound:                "not found",
	PermissionDenied:        "permission denied",
	ReadFailure:             "read failure",
	WriteFailure:            "write failure",
	InsufficientStorage:     "insufficient storage",
	AlreadyExists:           "already exists",
	DeleteFailure:           "delete failure",
	AggregateDeleteFailure:  "aggregate delete failure",
	GenericOperationFailure: "operation failure",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

func (k Kind) Error() string {
	return k.String()
}

// Code returns a stable machine readable identifier for the kind.
func (k Kind) Code() string {
	return strings.ToUpper(strings.ReplaceAll(k.String(), " ", "_"))
}

// Error is the tagged error value returned by every engine operation.
type Error struct {
	Kind Kind
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	var b strings.Builder
	// A path error for the same file already names the operation and path.
	var pe *fs.PathError
	if errors.As(e.Err, &pe) && pe.Path == e.Path {
		b.WriteString(e.Kind.String())
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
		return b.String()
	}
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(" ")
	}
	if e.Path != "" {
		b.WriteString(e.Path)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the error's kind. InsufficientStorage is a
// refinement of WriteFailure and matches both.
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	if !ok {
		return false
	}
	return k == e.Kind || (k == WriteFailure && e.Kind == InsufficientStorage)
}

// FailureEntry records one path that could not be removed during a sweep.
type FailureEntry struct {
	Path string
	Err  *Error
}

// AggregateError bundles every failure collected by a bulk operation.
type AggregateError struct {
	Failures []FailureEntry
}

func (e *AggregateError) Error() string {
	switch len(e.Failures) {
	case 0:
		return "failed to delete 0 files"
	case 1:
		return fmt.Sprintf("failed to delete 1 file: %v", e.Failures[0].Err)
	}
	return fmt.Sprintf("failed to delete %d files (first: %v)", len(e.Failures), e.Failures[0].Err)
}

func (e *AggregateError) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == AggregateDeleteFailure
}

// Paths lists the failed paths in the order they were encountered.
func (e *AggregateError) Paths() []string {
	paths := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		paths = append(paths, f.Path)
	}
	return paths
}

// KindOf extracts the Kind carried by err, or KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	var agg *AggregateError
	if errors.As(err, &agg) {
		return AggregateDeleteFailure
	}

	var verr *ValidationError
	if errors.As(err, &verr) {
		return InvalidParameter
	}

	var serr *Error
	if errors.As(err, &serr) {
		return serr.Kind
	}

	var k Kind
	if errors.As(err, &k) {
		return k
	}
	return KindUnknown
}

// UserMessage is the text a user facing layer should show for err.
func UserMessage(err error) string {
	switch KindOf(err) {
	case KindUnknown:
		return ""
	case InsufficientStorage:
		return "storage is full"
	case InvalidParameter:
		return "invalid request"
	default:
		return "could not access storage"
	}
}

// NewError builds a storage error, classifying the platform error err. The
// fallback kind is used when err does not map onto a more specific kind. An
// err that already is an *Error is returned unchanged.
func NewError(op string, path string, err error, fallback Kind) *Error {
	var serr *Error
	if errors.As(err, &serr) {
		return serr
	}
	return &Error{Kind: classify(err, fallback), Op: op, Path: path, Err: err}
}

func classify(err error, fallback Kind) Kind {
	switch {
	case err == nil:
		return fallback
	case errors.Is(err, fs.ErrNotExist):
		return NotFound
	case errors.Is(err, fs.ErrPermission):
		return PermissionDenied
	case errors.Is(err, fs.ErrExist):
		return AlreadyExists
	}

	if fallback == WriteFailure && IsStorageFull(err) {
		return InsufficientStorage
	}
	return fallback
}

var storageFullMarkers = []string{
	"no space left",
	"disk full",
	"not enough space",
	"quota exceeded",
	"enospc",
}

// IsStorageFull reports whether err looks like an exhausted-storage failure.
// Platforms disagree on how this is surfaced, so both errno and message text
// are inspected.
func IsStorageFull(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.ENOSPC) || errors.Is(err, syscall.EDQUOT) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range storageFullMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
