// Package nyxmon implements a minimal, single-node monitoring agent: a
// scheduler that selects due checks from a store, a concurrent runner
// that dispatches them to typed executors, and a result sink that
// derives per-check status and publishes transitions.
package nyxmon

import "time"

// Kind identifies which executor is responsible for a Check.
type Kind string

const (
	KindHTTP          Kind = "http"
	KindJSONHTTP      Kind = "json-http"
	KindDNS           Kind = "dns"
	KindTCP           Kind = "tcp"
	KindSMTP          Kind = "smtp"
	KindIMAP          Kind = "imap"
	KindJSONMetrics   Kind = "json-metrics"
	KindCustomSSHJSON Kind = "custom-ssh-json"
)

// CheckStatus is the lifecycle status of a Check row, distinct from the
// derived pass/fail status of its result history (see DerivedCheckStatus).
type CheckStatus string

const (
	CheckIdle       CheckStatus = "idle"
	CheckDue        CheckStatus = "due"
	CheckProcessing CheckStatus = "processing"
)

// Check is a probe definition. It is created and updated by the operator
// UI (out of scope for this module); the handlers in this module only
// ever transition Status and advance NextCheckTime.
type Check struct {
	ID              string
	ServiceID       string
	Name            string
	Kind            Kind
	Target          string
	IntervalSeconds int64
	Disabled        bool

	// Data holds the kind-specific configuration. Its schema is owned
	// by the executor registered for Kind; the store never interprets it.
	Data map[string]any

	Status        CheckStatus
	NextCheckTime int64
	CreatedAt     int64
}

// Due reports whether the check is eligible for selection by
// Store.ListDue at the given wall-clock time.
func (c *Check) Due(now int64) bool {
	return !c.Disabled && c.Status != CheckProcessing && c.NextCheckTime <= now
}

// NextRun computes the next_check_time to assign after an execution
// that started at or after now.
func (c *Check) NextRun(now time.Time) int64 {
	return now.Unix() + c.IntervalSeconds
}
