package requirement

import (
	"errors"
	"fmt"
)

// Specifier identifies one requested install target
type Specifier struct {
	Name    string `json:"name"`              // lowercase package name
	Version string `json:"version,omitempty"` // exact pinned version, empty when unbound
	Raw     string `json:"raw"`               // token as written by the user
}

// Pinned reports whether the specifier carries an exact version
func (s Specifier) Pinned() bool {
	return s.Version != ""
}

// String returns a string representation of the specifier
func (s Specifier) String() string {
	if s.Pinned() {
		return s.Name + "==" + s.Version
	}
	return s.Name
}

// Sentinel errors for local input failures. Both abort the run before any
// network call and are never retried.
var (
	ErrMalformedSpecifier = errors.New("malformed specifier")
	ErrManifestUnreadable = errors.New("manifest unreadable")
)

// SpecifierError reports a token that could not be split into a name and version.
type SpecifierError struct {
	Token  string
	Source string // manifest path, empty for CLI arguments
	Line   int
	Reason string
}

func (e *SpecifierError) Error() string {
	if e.Source != "" {
		return fmt.Sprintf("%s:%d: invalid requirement %q: %s", e.Source, e.Line, e.Token, e.Reason)
	}
	return fmt.Sprintf("invalid requirement %q: %s", e.Token, e.Reason)
}

func (e *SpecifierError) Unwrap() error {
	return ErrMalformedSpecifier
}

// ManifestError is returned when a requirements file cannot be read.
type ManifestError struct {
	Path  string
	Cause error
}

func (e *ManifestError) Error() string {
	return fmt.Sprintf("failed to read requirements file %s: %v", e.Path, e.Cause)
}

func (e *ManifestError) Is(target error) bool {
	return target == ErrManifestUnreadable
}

func (e *ManifestError) Unwrap() error {
	return e.Cause
}
