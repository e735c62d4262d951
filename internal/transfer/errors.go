package transfer

import (
	"errors"
	"fmt"
)

// Queue action errors.
var (
	ErrTaskNotFound   = errors.New("task not found")
	ErrTaskActive     = errors.New("task is holding the download lane")
	ErrNotRetryable   = errors.New("task cannot be retried")
	ErrNotPausable    = errors.New("task cannot be paused")
	ErrNotResumable   = errors.New("task is not paused")
	ErrNotCancellable = errors.New("task is already finished")
)

// FailureKind classifies why a download failed.
type FailureKind string

const (
	FailResolution FailureKind = "resolution" // Could not obtain a direct URL or size
	FailTransport  FailureKind = "transport"  // Bad HTTP status, connection failure, short body
	FailLocalIO    FailureKind = "local-io"   // Could not create, write or size the local file
)

// Failure is the reason a task ended in StatusFailed. Error() renders the
// free-text reason shown to the user.
type Failure struct {
	Kind   FailureKind
	Detail string
	Err    error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return f.Detail
	}
	return fmt.Sprintf("%s: %v", f.Detail, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

func resolutionError(err error) *Failure {
	return &Failure{Kind: FailResolution, Detail: "failed to resolve download", Err: err}
}

func transportError(detail string, err error) *Failure {
	return &Failure{Kind: FailTransport, Detail: detail, Err: err}
}

func localError(detail string, err error) *Failure {
	return &Failure{Kind: FailLocalIO, Detail: detail, Err: err}
}

// AsFailure extracts a *Failure from err, if any.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}
