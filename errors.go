package fatvol

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// Domain classifies where an Error originated.
type Domain string

const (
	DomainDevice    Domain = "device"
	DomainBootSector Domain = "boot-sector"
	DomainTable     Domain = "allocation-table"
	DomainChain     Domain = "cluster-chain"
	DomainDirEntry  Domain = "directory-entry"
	DomainDirectory Domain = "directory"
	DomainName      Domain = "name"
	DomainVolume    Domain = "volume"
	DomainPath      Domain = "path"
)

// Code is a stable, comparable error code within a Domain.
type Code string

const (
	CodeIO                 Code = "io"
	CodeShortRead          Code = "short-read"
	CodeBadSignature       Code = "bad-signature"
	CodeUnsupportedVariant Code = "unsupported-variant"
	CodeCorruptStructure   Code = "corrupt-structure"
	CodeOutOfRange         Code = "out-of-range"
	CodeCycleDetected      Code = "cycle-detected"
	CodeNotFound           Code = "not-found"
	CodeNotADirectory      Code = "not-a-directory"
	CodeInvalidState       Code = "invalid-state"
	CodeAborted            Code = "aborted"
)

// Error is the structured error type every exported fatvol operation
// returns. Domain+Code identify the failure class; Cause, when present,
// is the underlying error (I/O failure, decode failure) that triggered it.
type Error struct {
	Domain  Domain
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s/%s: %s: %v", e.Domain, e.Code, e.Message, e.Cause)
	}

	return fmt.Sprintf("%s/%s: %s", e.Domain, e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func newError(domain Domain, code Code, message string) *Error {
	return &Error{Domain: domain, Code: code, Message: message}
}

func wrapError(domain Domain, code Code, message string, cause error) *Error {
	return &Error{Domain: domain, Code: code, Message: message, Cause: cause}
}

// Fatal reports whether an error of this domain/code should abort an
// in-progress scan outright, as opposed to being recorded as a Warning and
// skipped. Only structural corruption severe enough to make forward
// progress impossible is fatal; anomalies local to a single record are not.
func (e *Error) Fatal() bool {
	switch e.Code {
	case CodeCycleDetected, CodeBadSignature, CodeUnsupportedVariant, CodeIO, CodeAborted:
		return true
	default:
		return false
	}
}

// warningList accumulates non-fatal anomalies encountered during a
// directory scan (a single bad LFN checksum, a single bad exFAT entry-set
// checksum) without aborting the scan that found them.
type warningList struct {
	err error
}

func (w *warningList) add(e *Error) {
	w.err = multierror.Append(w.err, e)
}

func (w *warningList) errors() []error {
	if w.err == nil {
		return nil
	}

	if merr, ok := w.err.(*multierror.Error); ok {
		out := make([]error, len(merr.Errors))
		copy(out, merr.Errors)
		return out
	}

	return []error{w.err}
}
