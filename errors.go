package localmr

import "errors"

// Namespace prefixes every sentinel error raised by this package.
const Namespace = "localmr"

var (
	// ErrValidation marks a malformed task or worker configuration.
	// It is raised at component boundaries and is fatal to the caller.
	ErrValidation = errors.New(Namespace + ": invalid configuration")

	// ErrIO marks a filesystem failure inside the staging store. Workers
	// log it and return to the fetch loop; the lease sweeper requeues the
	// affected task.
	ErrIO = errors.New(Namespace + ": storage failure")

	// ErrNotFound marks a logical file name with no published file behind
	// it, either absent from the index or missing on disk. Errors of this
	// kind also match ErrIO, so workers handle them as storage failures.
	ErrNotFound = errors.New(Namespace + ": file not found")
)

// kindError tags an underlying cause with one of the package sentinels so
// callers can match the kind with errors.Is and still reach the cause
// through errors.Unwrap.
type kindError struct {
	kind error
	err  error
}

func wrapKind(kind, err error) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: kind, err: err}
}

func (e *kindError) Error() string { return e.kind.Error() + ": " + e.err.Error() }

func (e *kindError) Unwrap() error { return e.err }

func (e *kindError) Is(target error) bool {
	return target == e.kind || (e.kind == ErrNotFound && target == ErrIO)
}
