package nyxmon

import "errors"

// ErrUnknownCheckKind is returned by an executor Registry when asked to
// build an executor for a Kind it has no factory for. The runner turns
// this into a Result{Status: ResultError, Payload.error_type:
// "unknown_kind"} rather than propagating it; the check's schedule is
// still advanced so a misconfigured check does not spin.
var ErrUnknownCheckKind = errors.New("nyxmon: unknown check kind")

// ErrNoDueChecks is a sentinel some Store implementations may use
// internally; it is never surfaced to callers of Store.ListDue, which
// returns an empty slice instead of an error when nothing is due.
var ErrNoDueChecks = errors.New("nyxmon: no due checks")

// StoreError wraps a failure from the persistence layer with the
// operation that failed, so callers and log lines can report context
// without string-matching on the underlying driver error.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return "nyxmon: store: " + e.Op + ": " + e.Err.Error()
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// ExecutorError describes an executor failure as an error type plus a
// message. The executors in this module do not construct it: they
// report failures through executors.ErrorResult, whose Result.Payload
// carries the same two fields under "error_type" and "message".
type ExecutorError struct {
	ErrorType string
	Message   string
}

func (e *ExecutorError) Error() string {
	return e.ErrorType + ": " + e.Message
}

// ConfigurationError marks an executor input that is structurally
// invalid (e.g. an empty threshold-rule list, or empty expected_ips for
// a dns check) rather than a transient runtime failure. The executors
// in this module do not construct it; they report such inputs as an
// error Result with error_type "configuration_error".
type ConfigurationError struct {
	Message string
}

func (e *ConfigurationError) Error() string {
	return "configuration_error: " + e.Message
}
