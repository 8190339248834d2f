// Package store defines the persistence contract for the agent: the set
// of operations the scheduler, runner, handlers and cleaner use to read
// and mutate checks, results and services. Two implementations are
// provided: store/memory (for tests and small deployments) and
// store/sqlite (the durable, file-backed default).
package store

import (
	"context"

	"github.com/nyxmon-go/agent"
)

// Store is the full persistence contract. Implementations must make
// ListDue atomic with respect to the processing-status transition it
// performs: two concurrent ListDue calls racing against the same rows
// must never both select the same check.
type Store interface {
	// ListDue selects up to limit checks that are due at now, in
	// ascending (next_check_time, check_id) order, and atomically
	// transitions their Status to CheckProcessing before returning
	// them. A check returned by ListDue will not be returned again by
	// a concurrent or subsequent call until its status is reset (by
	// UpdateCheckAfterExecution or by startup Reconcile).
	ListDue(ctx context.Context, now int64, limit int) ([]*nyxmon.Check, error)

	// AddResult inserts an immutable Result row. Results are never
	// mutated after insertion.
	AddResult(ctx context.Context, result *nyxmon.Result) error

	// UpdateCheckAfterExecution advances a check's NextCheckTime and
	// resets its Status to CheckIdle after an execution outcome has
	// been persisted. It is the counterpart to the transition ListDue
	// performs.
	UpdateCheckAfterExecution(ctx context.Context, checkID string, status nyxmon.CheckStatus, nextCheckTime int64) error

	// RecentResults returns up to limit results for a check, newest
	// first, for DerivedCheckStatus evaluation and dashboard reads.
	RecentResults(ctx context.Context, checkID string, limit int) ([]*nyxmon.Result, error)

	// DeleteResultsOlderThan deletes up to batchSize results older
	// than olderThan (created_at < olderThan) across all checks,
	// except it must never delete the single most recent result for
	// any check. It returns the number of rows actually deleted, so
	// the cleaner can detect when a batch came up short of batchSize
	// and stop looping.
	DeleteResultsOlderThan(ctx context.Context, olderThan int64, batchSize int) (int, error)

	// GetCheck, ListChecks, ListChecksByService and GetService are
	// simple CRUD reads. Handlers use ListChecksByService to aggregate
	// a service's status; the notifier does not read the store.
	GetCheck(ctx context.Context, checkID string) (*nyxmon.Check, error)
	ListChecks(ctx context.Context) ([]*nyxmon.Check, error)
	ListChecksByService(ctx context.Context, serviceID string) ([]*nyxmon.Check, error)
	GetService(ctx context.Context, serviceID string) (*nyxmon.Service, error)

	// UpsertCheck and UpsertService support the YAML seed-file
	// bootstrap (see cmd/agent); they are not exercised by the
	// scheduler/runner/handler hot path.
	UpsertCheck(ctx context.Context, check *nyxmon.Check) error
	UpsertService(ctx context.Context, service *nyxmon.Service) error

	// Reconcile sets Status = CheckIdle for every check currently
	// marked CheckProcessing. It must be called exactly once, at
	// agent startup, before the scheduler starts polling: it is the
	// sole mechanism that recovers at-most-once execution across a
	// crash, since an unclean shutdown can leave checks stuck in
	// CheckProcessing forever otherwise.
	Reconcile(ctx context.Context) (int, error)

	// Close releases underlying resources (file handles, connection
	// pools).
	Close() error
}
