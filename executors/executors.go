// Package executors defines the executor contract and the kind registry
// that the runner uses to dispatch a Check to the code that knows how
// to probe it. Each concrete kind lives in its own subpackage
// (executors/httpcheck, executors/dnscheck, ...), mirroring the teacher
// package's checks/<kind> layout, and registers a Factory with a
// Registry built in cmd/agent.
package executors

import (
	"context"
	"net/http"
	"time"

	nyxmon "github.com/nyxmon-go/agent"
)

// Executor probes a single Check and returns the Result to persist. An
// Executor must never return a Go error for a probe failure: connection
// refused, timeout, bad certificate and the like are all reported as
// Result{Status: ResultError}, with the failure classified in
// Payload["error_type"]. A non-nil error return is reserved for
// programmer mistakes (e.g. a nil Check) that indicate the executor was
// called incorrectly, and the runner treats any such error as cause to
// cancel the rest of the batch.
type Executor interface {
	Execute(ctx context.Context, check *nyxmon.Check) (*nyxmon.Result, error)
}

// ExecutorFunc adapts a plain function to the Executor interface.
type ExecutorFunc func(ctx context.Context, check *nyxmon.Check) (*nyxmon.Result, error)

func (f ExecutorFunc) Execute(ctx context.Context, check *nyxmon.Check) (*nyxmon.Result, error) {
	return f(ctx, check)
}

// Closer is implemented by an Executor that holds a resource needing
// release once its Execute call is done (a per-call connection, a
// subprocess's output buffers). The runner closes every Executor it
// builds after that Executor's single Execute call returns, regardless
// of outcome. Most kinds have nothing to release and don't implement it.
type Closer interface {
	Close() error
}

// Resources bundles the shared, batch-scoped dependencies a Factory may
// need instead of reaching for a process-global default. Currently this
// is a single pooled *http.Client, shared by every http, json-http and
// json-metrics check within one batch so they reuse connections instead
// of each dialing its own; other kinds (dns, tcp, smtp, imap,
// custom-ssh-json) build and own their per-check resources directly and
// ignore Resources.
type Resources struct {
	HTTPClient *http.Client
}

// NewResources builds a fresh batch-scoped Resources bundle.
func NewResources() *Resources {
	return &Resources{HTTPClient: &http.Client{Transport: &http.Transport{}}}
}

// Close releases the resources, per spec §4.C step 6: shared resources
// are closed once, at the end of the batch they were built for.
func (r *Resources) Close() error {
	if r == nil || r.HTTPClient == nil {
		return nil
	}
	if t, ok := r.HTTPClient.Transport.(*http.Transport); ok {
		t.CloseIdleConnections()
	}
	return nil
}

// Factory builds a fresh Executor for a Check, given the shared
// Resources instantiated for the batch it belongs to (nil if the batch
// needed none). Factories are cheap; any per-check resource is created
// inside Execute or captured in the Executor the factory returns.
type Factory func(res *Resources) Executor

// Registry maps a Kind to the Factory responsible for it. It fails fast
// on an unregistered Kind rather than silently falling back to a
// default executor.
type Registry struct {
	factories map[nyxmon.Kind]Factory
}

// NewRegistry builds an empty Registry; call Register for each
// supported Kind before using it.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[nyxmon.Kind]Factory)}
}

// Register associates kind with factory. Registering the same kind
// twice replaces the previous factory.
func (r *Registry) Register(kind nyxmon.Kind, factory Factory) {
	r.factories[kind] = factory
}

// Build returns a fresh Executor for kind built against res, or
// ErrUnknownCheckKind if no factory was registered for it.
func (r *Registry) Build(kind nyxmon.Kind, res *Resources) (Executor, error) {
	factory, ok := r.factories[kind]
	if !ok {
		return nil, nyxmon.ErrUnknownCheckKind
	}
	return factory(res), nil
}

// RequiresHTTPClient reports whether kind's executor draws on the
// batch's shared *http.Client, for the runner's pre-scan step.
func RequiresHTTPClient(kind nyxmon.Kind) bool {
	switch kind {
	case nyxmon.KindHTTP, nyxmon.KindJSONHTTP, nyxmon.KindJSONMetrics:
		return true
	default:
		return false
	}
}

// NowUnix is a seam for tests that need to control Result.CreatedAt
// without sleeping; production code paths call it unadorned.
var NowUnix = func() int64 { return time.Now().Unix() }

// ErrorResult builds a normalized error Result for a failed execution.
func ErrorResult(checkID string, errorType, message string, extra map[string]any) *nyxmon.Result {
	payload := map[string]any{
		"error_type": errorType,
		"message":    message,
	}
	for k, v := range extra {
		payload[k] = v
	}
	return &nyxmon.Result{
		CheckID:   checkID,
		Status:    nyxmon.ResultError,
		Payload:   payload,
		CreatedAt: NowUnix(),
	}
}

// OKResult builds a successful Result, optionally carrying a severity
// marker (used by json-http/json-metrics warning outcomes).
func OKResult(checkID string, payload map[string]any) *nyxmon.Result {
	if payload == nil {
		payload = map[string]any{}
	}
	return &nyxmon.Result{
		CheckID:   checkID,
		Status:    nyxmon.ResultOK,
		Payload:   payload,
		CreatedAt: NowUnix(),
	}
}
