// Package wslerr folds low-level subprocess, HTTP and filesystem failures
// into the small error taxonomy the rest of the application branches on.
package wslerr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is one member of the error taxonomy.
type Kind int

// Taxonomy members, in the order they appear in the design.
const (
	// KindInternal is the zero value: an unclassified, unexpected failure.
	KindInternal Kind = iota
	KindValidation
	KindHostSubsystemMissing
	KindImageNotFound
	KindImageExists
	KindDistroUnknown
	KindDistroUnavailable
	KindSourceUnavailable
	KindTransientNetwork
	KindIntegrityFailed
	KindArchiveNoRootfs
	KindTimeout
	KindCancelled
)

// String renders the kind the way it appears in exit-code mapping and logs.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "VALIDATION"
	case KindHostSubsystemMissing:
		return "HOST_SUBSYSTEM_MISSING"
	case KindImageNotFound:
		return "IMAGE_NOT_FOUND"
	case KindImageExists:
		return "IMAGE_EXISTS"
	case KindDistroUnknown:
		return "DISTRO_UNKNOWN"
	case KindDistroUnavailable:
		return "DISTRO_UNAVAILABLE"
	case KindSourceUnavailable:
		return "SOURCE_UNAVAILABLE"
	case KindTransientNetwork:
		return "TRANSIENT_NETWORK"
	case KindIntegrityFailed:
		return "INTEGRITY_FAILED"
	case KindArchiveNoRootfs:
		return "ARCHIVE_NO_ROOTFS"
	case KindTimeout:
		return "TIMEOUT"
	case KindCancelled:
		return "CANCELLED"
	default:
		return "INTERNAL"
	}
}

// ExitCode maps a kind to the CLI exit code from this package
func (k Kind) ExitCode() int {
	switch k {
	case KindValidation:
		return 1
	case KindImageNotFound, KindDistroUnknown:
		return 2
	case KindSourceUnavailable, KindDistroUnavailable:
		return 3
	case KindIntegrityFailed:
		return 4
	case KindHostSubsystemMissing:
		return 5
	case KindTransientNetwork, KindTimeout:
		return 6
	case KindCancelled:
		return 7
	default:
		return 1
	}
}

// Detail carries the structured, classifier-specific context for an Error.
// Only the fields relevant to the originating failure are populated.
type Detail struct {
	Program        string
	Argv           []string
	ExitCode       int
	StderrTail     string
	URL            string
	HTTPStatus     int
	ExpectedDigest string
	ActualDigest   string
}

// Error is the structured error every public operation returns on failure.
type Error struct {
	Kind    Kind
	Message string
	Detail  Detail
	cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.cause)
	}
	return e.Kind.String()
}

// Unwrap exposes the wrapped cause, if any, to errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.cause }

// New builds a classified error with a message and no further detail.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds a classified error around an existing cause.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// WithDetail attaches structured detail to a classified error and returns it.
func (e *Error) WithDetail(d Detail) *Error {
	e.Detail = d
	return e
}

// Is lets errors.Is match on Kind alone when compared against a bare *Error{Kind: k}.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind
}

// KindOf extracts the Kind from err, defaulting to KindInternal when err is
// not a classified *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// FromSubprocess classifies a failed WSL CLI or shell invocation based on its
// stderr text, per the determination rules in this package
func FromSubprocess(program string, argv []string, exitCode int, stderr string) *Error {
	tail := stderr
	if len(tail) > 4096 {
		tail = tail[len(tail)-4096:]
	}
	detail := Detail{Program: program, Argv: argv, ExitCode: exitCode, StderrTail: tail}

	lower := strings.ToLower(stderr)
	kind := KindInternal
	switch {
	case strings.Contains(lower, "is not recognized"), strings.Contains(lower, "command not found"):
		kind = KindHostSubsystemMissing
	case isUnregister(argv) && strings.Contains(lower, "not found"):
		kind = KindImageNotFound
	case isImport(argv) && strings.Contains(lower, "already exists"):
		kind = KindImageExists
	}

	msg := fmt.Sprintf("%s %s: exit code %d", program, strings.Join(argv, " "), exitCode)
	return (&Error{Kind: kind, Message: msg}).WithDetail(detail)
}

func isUnregister(argv []string) bool {
	for _, a := range argv {
		if a == "--unregister" {
			return true
		}
	}
	return false
}

func isImport(argv []string) bool {
	for _, a := range argv {
		if a == "--import" {
			return true
		}
	}
	return false
}

// FromHTTPStatus classifies a non-2xx HTTP response
func FromHTTPStatus(url string, status int) *Error {
	detail := Detail{URL: url, HTTPStatus: status}
	kind := KindInternal
	switch {
	case status >= 400 && status < 500:
		kind = KindSourceUnavailable
	case status >= 500:
		kind = KindTransientNetwork
	}
	return (&Error{Kind: kind, Message: fmt.Sprintf("%s: unexpected status %d", url, status)}).WithDetail(detail)
}

// Digest builds an INTEGRITY_FAILED error for a digest mismatch.
func Digest(path, expected, actual string) *Error {
	return (&Error{
		Kind:    KindIntegrityFailed,
		Message: fmt.Sprintf("%s: digest mismatch", path),
	}).WithDetail(Detail{ExpectedDigest: expected, ActualDigest: actual})
}

// SanitizeForDisplay strips anything from s that should never reach a user
// surface verbatim: control characters and embedded shell-looking noise from
// raw subprocess/HTTP detail. It is applied to any message derived from
// Detail.StderrTail before it is shown to the user.
func SanitizeForDisplay(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '\n' || r == '\t':
			b.WriteRune(' ')
		case r < 0x20 || r == 0x7f:
			// drop other control characters entirely
		default:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
