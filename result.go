package nyxmon

// Result is an immutable outcome record produced by a single check
// execution. Once inserted it is never mutated; the cleaner is the only
// component permitted to delete one, and only once it falls outside the
// retention window.
type Result struct {
	ResultID  string
	CheckID   string
	Status    ResultStatus
	Payload   map[string]any
	CreatedAt int64
}

// Service is a logical grouping of checks. Its status is never stored;
// callers derive it on read via EvaluateDerivedServiceStatus over the
// DerivedCheckStatus of its member checks.
type Service struct {
	ServiceID string
	Name      string
}
