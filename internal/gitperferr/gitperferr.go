// Package gitperferr classifies failures into the closed set the failure
// model names and maps each to a process exit code at the CLI boundary.
package gitperferr

import (
	"context"
	"errors"
	"fmt"

	"github.com/gitperf/gitperf/internal/config"
	"github.com/gitperf/gitperf/internal/vcs"
)

// Class is the closed set of failure classifications.
type Class int

// The closed set of failure classes.
const (
	// ClassUnknown is the zero value: a failure Classify doesn't
	// recognize. Mapped to Input-malformed's exit code as a generic
	// catch-all.
	ClassUnknown Class = iota
	// ClassAuditRegression marks a completed audit in which at least one
	// measurement regressed.
	ClassAuditRegression
	// ClassInputMalformed covers fatal CLI-input conditions: bad flags,
	// an unparseable value, an invalid name regex.
	ClassInputMalformed
	// ClassConfigInvalid covers a resolved configuration parameter
	// outside its documented domain (see internal/config's sentinel
	// errors).
	ClassConfigInvalid
	// ClassVCSUnavailable covers a missing or too-old installed git.
	ClassVCSUnavailable
	// ClassTransientRemote covers remote-git conditions a retry may
	// resolve, surfaced once retries are exhausted.
	ClassTransientRemote
	// ClassPermanentRemote covers remote-git conditions no retry can
	// resolve: invalid ref, malformed object, failed authentication.
	ClassPermanentRemote
	// ClassCancelled covers operator-requested cancellation (SIGINT,
	// context.Canceled).
	ClassCancelled
)

// String renders the class name.
func (c Class) String() string {
	switch c {
	case ClassAuditRegression:
		return "audit-regression"
	case ClassInputMalformed:
		return "input-malformed"
	case ClassConfigInvalid:
		return "config-invalid"
	case ClassVCSUnavailable:
		return "vcs-unavailable"
	case ClassTransientRemote:
		return "transient-remote"
	case ClassPermanentRemote:
		return "permanent-remote"
	case ClassCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Exit codes by class. 0 (success) is never produced here; ExitCode returns
// it only for a nil error.
const (
	exitAuditRegression = 1
	exitInputMalformed  = 2
	exitConfigInvalid   = 3
	exitVCSUnavailable  = 4
	exitTransientRemote = 5
	exitPermanentRemote = 6
	exitCancelled       = 130 // 128 + SIGINT
	exitUnknown         = exitInputMalformed
)

// ExitCode returns this class's process exit code.
func (c Class) ExitCode() int {
	switch c {
	case ClassAuditRegression:
		return exitAuditRegression
	case ClassInputMalformed:
		return exitInputMalformed
	case ClassConfigInvalid:
		return exitConfigInvalid
	case ClassVCSUnavailable:
		return exitVCSUnavailable
	case ClassTransientRemote:
		return exitTransientRemote
	case ClassPermanentRemote:
		return exitPermanentRemote
	case ClassCancelled:
		return exitCancelled
	default:
		return exitUnknown
	}
}

// Error wraps an operation failure with its classification.
type Error struct {
	Op    string
	Class Class
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Class, e.Err)
}

// Unwrap exposes the wrapped error to errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// New wraps err as an Error of the given class for op. Returns nil if err
// is nil.
func New(op string, class Class, err error) error {
	if err == nil {
		return nil
	}

	return &Error{Op: op, Class: class, Err: err}
}

// Classify inspects err and returns its Class: an explicit *Error's Class
// if present, ClassCancelled for context cancellation, ClassVCSUnavailable
// for a too-old or unparseable git version, ClassConfigInvalid for one of
// internal/config's resolution sentinels, the mapped Class for a *vcs.Error,
// else ClassUnknown.
func Classify(err error) Class {
	if err == nil {
		return ClassUnknown
	}

	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged.Class
	}

	if errors.Is(err, context.Canceled) {
		return ClassCancelled
	}

	if errors.Is(err, vcs.ErrVersionTooOld) || errors.Is(err, vcs.ErrUnparseableVersion) {
		return ClassVCSUnavailable
	}

	if isConfigInvalid(err) {
		return ClassConfigInvalid
	}

	var vcsErr *vcs.Error
	if errors.As(err, &vcsErr) {
		switch vcsErr.Class {
		case vcs.ClassTransient:
			return ClassTransientRemote
		case vcs.ClassPermanent:
			return ClassPermanentRemote
		case vcs.ClassUnknown:
			return ClassUnknown
		}
	}

	return ClassUnknown
}

// isConfigInvalid reports whether err wraps one of internal/config's
// resolution-validation sentinels.
func isConfigInvalid(err error) bool {
	for _, sentinel := range []error{
		config.ErrInvalidDispersion,
		config.ErrInvalidAggregateBy,
		config.ErrInvalidSigma,
		config.ErrInvalidMinMeasurements,
		config.ErrInvalidConfidenceThreshold,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}

	return false
}

// ExitCode returns the process exit code for err: 0 for nil, otherwise
// Classify(err).ExitCode().
func ExitCode(err error) int {
	if err == nil {
		return 0
	}

	return Classify(err).ExitCode()
}
