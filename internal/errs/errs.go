// Package errs defines the fatal error taxonomy of a parity run.
//
// Numeric divergence between host and device is never an error: it is
// recorded in the failure ledger. Everything represented here aborts the run.
package errs

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Kind categorises fatal errors.
type Kind int

const (
	KindUnknown Kind = iota
	// KindCompile is a kernel compile or toolchain build failure.
	KindCompile
	// KindBackendMismatch means the bound device is not the expected backend.
	KindBackendMismatch
	// KindResource is a device resource acquisition failure.
	KindResource
	// KindReference is a failure inside the host reference computation.
	KindReference
	// KindDevice is a failure while submitting or reading back device work.
	KindDevice
	// KindConfig is an invalid run configuration.
	KindConfig
)

func (k Kind) String() string {
	switch k {
	case KindCompile:
		return "Compile"
	case KindBackendMismatch:
		return "BackendMismatch"
	case KindResource:
		return "Resource"
	case KindReference:
		return "Reference"
	case KindDevice:
		return "Device"
	case KindConfig:
		return "Config"
	default:
		return "Unknown"
	}
}

// Sentinels usable with errors.Is.
var (
	ErrCompile         = &Error{Kind: KindCompile}
	ErrBackendMismatch = &Error{Kind: KindBackendMismatch}
	ErrResource        = &Error{Kind: KindResource}
	ErrReference       = &Error{Kind: KindReference}
	ErrDevice          = &Error{Kind: KindDevice}
	ErrConfig          = &Error{Kind: KindConfig}
)

// Error is a structured fatal error with the operation that failed.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
	Context interface{}
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s error", e.Kind)
	if e.Op != "" {
		fmt.Fprintf(&b, " in %s", e.Op)
	}
	if e.Message != "" {
		fmt.Fprintf(&b, ": %s", e.Message)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, " (caused by: %v)", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so sentinels compare by category.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func New(kind Kind, op, message string, err error) error {
	return &Error{Kind: kind, Op: op, Message: message, Err: err}
}

// WithContext attaches extra context such as an invocation index or raw
// compiler diagnostics.
func WithContext(kind Kind, op, message string, err error, ctx interface{}) error {
	return &Error{Kind: kind, Op: op, Message: message, Err: err, Context: ctx}
}

// KindOf returns the kind of the first *Error in the chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsFatal reports whether err should abort a run. Every non-nil error does;
// divergences never travel as errors.
func IsFatal(err error) bool {
	return err != nil
}

// NormalizeDiagnostics prepares raw toolchain output for display: NFC
// normalised, control characters dropped except newlines and tabs, trailing
// whitespace trimmed.
func NormalizeDiagnostics(raw string) string {
	keep := runes.Remove(runes.Predicate(func(r rune) bool {
		return unicode.IsControl(r) && r != '\n' && r != '\t'
	}))
	t := transform.Chain(norm.NFC, keep)
	out, _, err := transform.String(t, raw)
	if err != nil {
		return strings.TrimRight(raw, " \n\t")
	}
	return strings.TrimRight(out, " \n\t")
}
