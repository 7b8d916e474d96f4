package storage

import (
	"fmt"
	"slices"
	"strings"
)

// ImageExtensions lists the extensions accepted for image attachments.
var ImageExtensions = []string{"jpg", "jpeg"}

// ValidationReason identifies which naming rule a rejected input broke.
type ValidationReason int

const (
	ReasonBlank ValidationReason = iota + 1
	ReasonMissingSeparator
	ReasonEmptyPart
	ReasonPathSeparator
	ReasonUnsupportedExtension
)

func (r ValidationReason) String() string {
	switch r {
	case ReasonBlank:
		return "name is blank"
	case ReasonMissingSeparator:
		return "name has no extension separator"
	case ReasonEmptyPart:
		return "name has an empty base name or extension"
	case ReasonPathSeparator:
		return "name contains a path separator"
	case ReasonUnsupportedExtension:
		return "extension is not allowed"
	default:
		return "invalid name"
	}
}

// ValidationError is returned when a raw string cannot become a FileName.
type ValidationError struct {
	Input  string
	Reason ValidationReason
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid file name %q: %s", e.Input, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == InvalidParameter
}

// FileName is a validated "base.ext" file name. The zero value is not a
// valid name; values are only produced by ParseFileName and ParseImageName.
type FileName struct {
	base string
	ext  string
}

// ParseFileName validates raw as a generic "base.ext" file name. The
// extension is whatever follows the final '.'.
func ParseFileName(raw string) (FileName, error) {
	if strings.TrimSpace(raw) == "" {
		return FileName{}, &ValidationError{Input: raw, Reason: ReasonBlank}
	}

	idx := strings.LastIndex(raw, ".")
	if idx < 0 {
		return FileName{}, &ValidationError{Input: raw, Reason: ReasonMissingSeparator}
	}

	base, ext := raw[:idx], raw[idx+1:]
	if base == "" || ext == "" {
		return FileName{}, &ValidationError{Input: raw, Reason: ReasonEmptyPart}
	}

	if strings.ContainsAny(raw, `/\`) || strings.ContainsRune(raw, 0) {
		return FileName{}, &ValidationError{Input: raw, Reason: ReasonPathSeparator}
	}

	return FileName{base: base, ext: ext}, nil
}

// ParseImageName validates raw as an image attachment name: a generic file
// name whose extension is one of ImageExtensions, compared case-insensitively.
func ParseImageName(raw string) (FileName, error) {
	name, err := ParseFileName(raw)
	if err != nil {
		return FileName{}, err
	}

	if !slices.Contains(ImageExtensions, strings.ToLower(name.ext)) {
		return FileName{}, &ValidationError{Input: raw, Reason: ReasonUnsupportedExtension}
	}
	return name, nil
}

// MustParseImageName is like ParseImageName but panics on invalid input. It
// is intended for constants and tests.
func MustParseImageName(raw string) FileName {
	name, err := ParseImageName(raw)
	if err != nil {
		panic(err)
	}
	return name
}

func (n FileName) Base() string { return n.base }
func (n FileName) Ext() string  { return n.ext }

// IsZero reports whether n was never validated.
func (n FileName) IsZero() bool {
	return n.base == "" && n.ext == ""
}

func (n FileName) String() string {
	if n.IsZero() {
		return ""
	}
	return n.base + "." + n.ext
}
