package mcpserver

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/gt-edge-ai/capfabric/internal/fabricerr"
	"github.com/gt-edge-ai/capfabric/pkg/captoken"
	"github.com/gt-edge-ai/capfabric/pkg/tenantpath"
)

// auditRingSize is the per-process bounded audit ring spec §4.10 step 6
// names ("retain last 1000 entries per process").
const auditRingSize = 1000

// degradedThreshold and unhealthyThreshold are spec §4.10 step 7's error
// counts that drive the status transition.
const (
	degradedThreshold  = 10
	unhealthyThreshold = 50
)

// AuditEntry is one record of a tool invocation outcome.
type AuditEntry struct {
	ResourceID string    `json:"resource_id"`
	ToolName   string    `json:"tool_name"`
	User       string    `json:"user"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
	At         time.Time `json:"at"`
}

// InvokeRequest is the input to Dispatcher.Invoke.
type InvokeRequest struct {
	ResourceID string
	ToolName   string
	Params     map[string]any
	User       string
}

// Dispatcher implements C10's tool-invocation pipeline (spec §4.10).
type Dispatcher struct {
	registry *Registry
	logger   *slog.Logger

	semMu  sync.Mutex
	sems   map[string]*semaphore.Weighted

	auditMu sync.Mutex
	audit   []AuditEntry

	gate SandboxGate
}

// NewDispatcher wires a Dispatcher.
func NewDispatcher(registry *Registry, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{registry: registry, logger: logger, sems: make(map[string]*semaphore.Weighted)}
}

func (d *Dispatcher) semaphoreFor(resourceID string, weight int) *semaphore.Weighted {
	d.semMu.Lock()
	defer d.semMu.Unlock()
	s, ok := d.sems[resourceID]
	if !ok {
		if weight <= 0 {
			weight = 4
		}
		s = semaphore.NewWeighted(int64(weight))
		d.sems[resourceID] = s
	}
	return s
}

// Invoke implements spec §4.10's seven-step tool invocation pipeline.
func (d *Dispatcher) Invoke(ctx context.Context, root tenantpath.Root, req InvokeRequest, token *captoken.TokenData) (map[string]any, error) {
	// 1. load resource; require tenant match.
	res, srv, err := d.registry.Get(root, req.ResourceID)
	if err != nil {
		return nil, err
	}
	if token.TenantID != root.Segment() {
		return nil, fabricerr.New(fabricerr.CrossTenant, "token tenant does not match resource tenant")
	}

	// 2. capability check: mcp:<server_name>:<tool_name> or mcp:<server_name>:*.
	required := fmt.Sprintf("mcp:%s:%s", res.Name, req.ToolName)
	if !captoken.HasCapability(token.Capabilities, required) {
		d.recordAudit(req, false, "permission_denied")
		return nil, fabricerr.New(fabricerr.PermissionDenied, "missing capability "+required)
	}

	// 3. tool_name must be declared on the server.
	if !contains(srv.AvailableTools, req.ToolName) {
		d.recordAudit(req, false, "unknown_tool")
		return nil, fabricerr.New(fabricerr.InvalidInput, "tool "+req.ToolName+" is not available on this server")
	}

	// 4. acquire the server's concurrency semaphore.
	sem := d.semaphoreFor(req.ResourceID, srv.MaxConcurrentRequests)
	if err := sem.Acquire(ctx, 1); err != nil {
		d.recordAudit(req, false, "concurrency_limit_timeout")
		return nil, fabricerr.Wrap(fabricerr.RateLimited, "acquiring server concurrency slot", err)
	}
	defer sem.Release(1)

	// 5. per-type parameter validation.
	if err := validateParams(srv.ServerType, req.Params, srv.Sandbox.NetworkIsolation); err != nil {
		d.recordAudit(req, false, err.Error())
		d.recordOutcome(root, srv, false)
		return nil, err
	}

	// 5b. external sandbox veto, if a SandboxGate is wired.
	if d.gate != nil {
		if err := d.gate.Allow(ctx, srv, req.ToolName); err != nil {
			d.recordAudit(req, false, err.Error())
			d.recordOutcome(root, srv, false)
			return nil, err
		}
	}

	// 6. enforce per-server timeout wall clock.
	timeout := time.Duration(srv.Sandbox.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, callErr := d.dispatchByType(runCtx, srv, req)

	// 7. bookkeeping + audit.
	success := callErr == nil
	d.recordOutcome(root, srv, success)
	detail := "ok"
	if callErr != nil {
		detail = callErr.Error()
	}
	d.recordAudit(req, success, detail)

	return result, callErr
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// dispatchByType simulates the server-type-specific call. Every server in
// this fabric is an external process the core does not itself own; the
// core's contract stops at validation + audit, so the dispatch step returns
// the validated call description as its result rather than shelling out to
// an unspecified transport.
func (d *Dispatcher) dispatchByType(ctx context.Context, srv Server, req InvokeRequest) (map[string]any, error) {
	select {
	case <-ctx.Done():
		return nil, fabricerr.Wrap(fabricerr.Timeout, "mcp tool call timed out", ctx.Err())
	default:
	}
	return map[string]any{
		"server_type": srv.ServerType,
		"tool_name":   req.ToolName,
		"params":      req.Params,
	}, nil
}

// recordOutcome updates total_requests/error_count and transitions status
// per spec §4.10 step 7's thresholds.
func (d *Dispatcher) recordOutcome(root tenantpath.Root, srv Server, success bool) {
	srv.TotalRequests++
	if !success {
		srv.ErrorCount++
	}
	srv.Status = nextStatus(srv.Status, srv.ErrorCount)
	if err := d.registry.Save(root, srv); err != nil {
		d.logger.Error("saving mcp server state", "resource_id", srv.ResourceID, "error", err)
	}
}

// nextStatus is the explicit state-transition function spec §9's "MCP
// server health state machine" redesign note calls for, invoked here and
// from the health checker's ticking loop.
func nextStatus(current Status, errorCount int64) Status {
	switch {
	case errorCount > unhealthyThreshold:
		return StatusUnhealthy
	case errorCount > degradedThreshold:
		return StatusDegraded
	case current == StatusStarting || current == StatusStopped || current == StatusStopping:
		return current
	default:
		return StatusHealthy
	}
}

func (d *Dispatcher) recordAudit(req InvokeRequest, success bool, detail string) {
	d.auditMu.Lock()
	defer d.auditMu.Unlock()
	entry := AuditEntry{ResourceID: req.ResourceID, ToolName: req.ToolName, User: req.User, Success: success, At: time.Now().UTC()}
	if !success {
		entry.Error = detail
	}
	d.audit = append(d.audit, entry)
	if len(d.audit) > auditRingSize {
		d.audit = d.audit[len(d.audit)-auditRingSize:]
	}
}

// AuditHistory returns a snapshot of the in-process audit ring.
func (d *Dispatcher) AuditHistory() []AuditEntry {
	d.auditMu.Lock()
	defer d.auditMu.Unlock()
	out := make([]AuditEntry, len(d.audit))
	copy(out, d.audit)
	return out
}

// RunHealthChecker ticks every interval (spec §4.10 step 7: "health checker
// touches this every 30s" — interval<=0 falls back to that default),
// walking the registry and re-deriving each server's status from its
// current error count. Returns once ctx is cancelled.
func (d *Dispatcher) RunHealthChecker(ctx context.Context, root tenantpath.Root, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.checkHealth(root)
		}
	}
}

func (d *Dispatcher) checkHealth(root tenantpath.Root) {
	servers, err := d.registry.List(root)
	if err != nil {
		d.logger.Error("listing mcp servers for health check", "error", err)
		return
	}
	for _, srv := range servers {
		srv.Status = nextStatus(srv.Status, srv.ErrorCount)
		srv.LastHealthCheck = time.Now().UTC()
		if err := d.registry.Save(root, srv); err != nil {
			d.logger.Error("saving mcp server health state", "resource_id", srv.ResourceID, "error", err)
		}
	}
}
