package transfer

import "fmt"

// ErrorKind classifies where in the pipeline a transfer failed.
type ErrorKind string

const (
	KindInvalidRequest     ErrorKind = "invalid_request"
	KindDestinationMissing ErrorKind = "destination_missing"
	KindExportFailure      ErrorKind = "export_failure"
	KindUploadFailure      ErrorKind = "upload_failure"
	KindManifestFailure    ErrorKind = "manifest_failure"
	KindLoadFailure        ErrorKind = "load_failure"
)

// Error carries the failing stage alongside the underlying cause. Cleanup
// failures are logged, never returned, so the triggering error is preserved.
type Error struct {
	Kind ErrorKind
	err  error
}

func newError(kind ErrorKind, err error) *Error {
	return &Error{Kind: kind, err: err}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.err)
}

func (e *Error) Unwrap() error {
	return e.err
}

// Permanent reports whether retrying the transfer unchanged cannot succeed.
func (e *Error) Permanent() bool {
	return e.Kind == KindInvalidRequest || e.Kind == KindDestinationMissing
}
