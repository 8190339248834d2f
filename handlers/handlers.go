// Package handlers wires the bus's ExecuteChecks command to the runner
// and implements persist_one, the synchronous sink that writes each
// outcome to the store, advances the check's schedule, recomputes
// DerivedCheckStatus, and publishes CheckFailed/ServiceStatusChanged
// events on a transition.
package handlers

import (
	"context"
	"fmt"
	"sync"
	"time"

	nyxmon "github.com/nyxmon-go/agent"
	"github.com/nyxmon-go/agent/bus"
	"github.com/nyxmon-go/agent/iobridge"
	"github.com/nyxmon-go/agent/runner"
	"github.com/nyxmon-go/agent/store"
)

// ExecuteChecks is the sole Command handled by this package: "run this
// batch of due checks and persist their outcomes."
type ExecuteChecks struct {
	Batch []*nyxmon.Check
}

func (ExecuteChecks) CommandName() string { return "execute_checks" }

// CheckFailed is emitted when a check's DerivedCheckStatus transitions
// into StatusFailed.
type CheckFailed struct {
	Check         *nyxmon.Check
	Result        *nyxmon.Result
	DerivedStatus nyxmon.DerivedCheckStatus
}

func (CheckFailed) EventName() string { return "check_failed" }

// ServiceStatusChanged is emitted when a service's DerivedServiceStatus
// (aggregated across its checks) changes value.
type ServiceStatusChanged struct {
	ServiceID string
	Old       nyxmon.DerivedCheckStatus
	New       nyxmon.DerivedCheckStatus
}

func (ServiceStatusChanged) EventName() string { return "service_status_changed" }

// Handlers bundles the dependencies persist_one needs: a Store to read
// and write through, and a Bus to publish transitions on.
type Handlers struct {
	store  store.Store
	runner *runner.Runner
	bus    *bus.Bus

	// lastServiceStatus caches each service's previously observed
	// DerivedServiceStatus so ServiceStatusChanged only fires on an
	// actual transition, not on every execution. The scheduler can
	// dispatch overlapping batches (one per tick, each run in its own
	// goroutine), so two persistOne calls for checks in the same
	// service can race here; serviceStatusMu guards every access.
	serviceStatusMu   sync.Mutex
	lastServiceStatus map[string]nyxmon.DerivedCheckStatus

	// bridge offloads persist_one's store writes off of the runner's
	// own consumer goroutine, per spec §4.I's run_sync_from_loop: store
	// I/O should not count against the runner's concurrency bound. A
	// nil bridge (the zero value, used when New is called without
	// WithBridge) runs the store call inline instead.
	bridge *iobridge.Bridge
}

// Option configures optional Handlers dependencies.
type Option func(*Handlers)

// WithBridge routes persist_one's store writes through br via
// RunSyncFromLoop instead of running them inline on the runner's
// consumer goroutine.
func WithBridge(br *iobridge.Bridge) Option {
	return func(h *Handlers) { h.bridge = br }
}

// New builds Handlers and registers ExecuteChecks with bus.
func New(st store.Store, r *runner.Runner, b *bus.Bus, opts ...Option) *Handlers {
	h := &Handlers{
		store:             st,
		runner:            r,
		bus:               b,
		lastServiceStatus: make(map[string]nyxmon.DerivedCheckStatus),
	}
	for _, opt := range opts {
		opt(h)
	}
	b.HandleCommand(ExecuteChecks{}.CommandName(), h.handleExecuteChecks)
	return h
}

func (h *Handlers) handleExecuteChecks(ctx context.Context, cmd bus.Command) error {
	execCmd, ok := cmd.(ExecuteChecks)
	if !ok {
		return fmt.Errorf("handlers: handleExecuteChecks received unexpected command type %T", cmd)
	}
	return h.runner.RunBatch(ctx, execCmd.Batch, h.persistOne)
}

// persistOne is the on_outcome sink passed to Runner.RunBatch. It is
// synchronous with respect to the store: no two outcomes for the same
// check can be persisted concurrently, because the runner's single
// consumer goroutine is the only caller.
func (h *Handlers) persistOne(ctx context.Context, outcome runner.Outcome) error {
	check, result := outcome.Check, outcome.Result

	previousStatus, err := h.derivedStatus(ctx, check.ID)
	if err != nil {
		return err
	}

	nextCheckTime := time.Now().Unix() + check.IntervalSeconds
	write := func(ctx context.Context) error {
		if err := h.store.AddResult(ctx, result); err != nil {
			return err
		}
		return h.store.UpdateCheckAfterExecution(ctx, check.ID, nyxmon.CheckIdle, nextCheckTime)
	}
	if h.bridge != nil {
		err = h.bridge.RunSyncFromLoop(ctx, write)
	} else {
		err = write(ctx)
	}
	if err != nil {
		return err
	}

	newStatus, err := h.derivedStatus(ctx, check.ID)
	if err != nil {
		return err
	}

	if newStatus != previousStatus {
		if newStatus == nyxmon.StatusFailed {
			h.bus.Publish(ctx, CheckFailed{Check: check, Result: result, DerivedStatus: newStatus})
		}
		if err := h.maybePublishServiceStatusChanged(ctx, check.ServiceID); err != nil {
			return err
		}
	}

	return nil
}

func (h *Handlers) derivedStatus(ctx context.Context, checkID string) (nyxmon.DerivedCheckStatus, error) {
	results, err := h.store.RecentResults(ctx, checkID, nyxmon.DerivedStatusWindowSize)
	if err != nil {
		return nyxmon.StatusUnknown, err
	}
	statuses := make([]nyxmon.ResultStatus, 0, len(results))
	for _, r := range results {
		statuses = append(statuses, r.Status)
	}
	return nyxmon.EvaluateDerivedCheckStatus(statuses), nil
}

func (h *Handlers) maybePublishServiceStatusChanged(ctx context.Context, serviceID string) error {
	checks, err := h.store.ListChecksByService(ctx, serviceID)
	if err != nil {
		return err
	}

	statuses := make([]nyxmon.DerivedCheckStatus, 0, len(checks))
	for _, c := range checks {
		s, err := h.derivedStatus(ctx, c.ID)
		if err != nil {
			return err
		}
		statuses = append(statuses, s)
	}

	newStatus := nyxmon.EvaluateDerivedServiceStatus(statuses)

	h.serviceStatusMu.Lock()
	oldStatus, seen := h.lastServiceStatus[serviceID]
	h.lastServiceStatus[serviceID] = newStatus
	h.serviceStatusMu.Unlock()

	if seen && oldStatus == newStatus {
		return nil
	}
	h.bus.Publish(ctx, ServiceStatusChanged{ServiceID: serviceID, Old: oldStatus, New: newStatus})
	return nil
}
