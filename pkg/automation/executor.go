package automation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gt-edge-ai/capfabric/internal/fabricerr"
	"github.com/gt-edge-ai/capfabric/internal/store"
	"github.com/gt-edge-ai/capfabric/pkg/captoken"
	"github.com/gt-edge-ai/capfabric/pkg/condition"
	"github.com/gt-edge-ai/capfabric/pkg/eventbus"
	"github.com/gt-edge-ai/capfabric/pkg/ratelimit"
	"github.com/gt-edge-ai/capfabric/pkg/tenantpath"
)

// maxBackoff is the backoff ceiling spec §4.8 sets for action retries.
const maxBackoff = 30 * time.Second

// Executor implements C8: runs an automation to completion (spec §4.8
// "Chain semantics"), retrying actions with exponential backoff and
// recursively dispatching chain_targets. It also implements
// eventbus.Dispatcher so C7 can hand it event-triggered automations without
// either package importing the other's domain types.
type Executor struct {
	automations *Store
	executions  *store.JSONStore[Record]
	bus         *eventbus.Bus
	codec       *captoken.Codec
	email       Sender
	http        *http.Client
	logger      *slog.Logger

	inflightMu sync.Mutex
	inflight   map[string]bool

	limitsMu sync.Mutex
	limits   map[string]*ratelimit.Limiter
}

// NewExecutor wires an Executor. email may be nil (a no-op sender is used).
func NewExecutor(locks *store.PathLocks, automations *Store, bus *eventbus.Bus, codec *captoken.Codec, email Sender, httpClient *http.Client, logger *slog.Logger) *Executor {
	if email == nil {
		email = noopSender{}
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Executor{
		automations: automations,
		executions:  store.NewJSONStore[Record](locks),
		bus:         bus,
		codec:       codec,
		email:       email,
		http:        httpClient,
		logger:      logger,
		inflight:    make(map[string]bool),
		limits:      make(map[string]*ratelimit.Limiter),
	}
}

// Dispatch is invoked by the event bus for every active, matching trigger
// (spec §4.7 "schedule a dispatch task"). It loads the automation, applies
// the at-most-one-live-invocation rule, mints an execution token scoped to
// the automation's owner with a wildcard automation:* capability, and runs the chain
// from depth 0. Errors are logged, never returned — Dispatch runs detached
// inside the bus's own goroutine.
func (e *Executor) Dispatch(root tenantpath.Root, automationID string, event eventbus.Event) {
	a, err := e.automations.Get(root, automationID)
	if err != nil {
		e.logger.Error("automation dispatch: loading automation", "automation_id", automationID, "error", err)
		return
	}
	if !a.IsActive {
		return
	}

	token, err := e.mintExecutionToken(root, a)
	if err != nil {
		e.logger.Error("automation dispatch: minting execution token", "automation_id", automationID, "error", err)
		return
	}

	if _, err := e.Execute(context.Background(), root, a, event, token, 0); err != nil {
		e.logger.Warn("automation dispatch: execution finished with error", "automation_id", automationID, "error", err)
	}
}

// mintExecutionToken builds the internal token a bus-triggered automation
// runs under: full automation:* capability, scoped to the automation's
// owner, with default constraints. The spec does not name an external
// caller that supplies a token to an event-triggered dispatch, so the
// executor mints its own — recorded as an Open Question decision in
// DESIGN.md.
func (e *Executor) mintExecutionToken(root tenantpath.Root, a Automation) (*captoken.TokenData, error) {
	raw, err := e.codec.Mint(a.OwnerID, root.Segment(), []captoken.Capability{
		{Resource: "automation:*", Actions: []string{"*"}},
	}, nil, time.Duration(defaultAutomationTimeout(a))*time.Second+time.Minute)
	if err != nil {
		return nil, err
	}
	return e.codec.Verify(raw, root.Segment())
}

func defaultAutomationTimeout(a Automation) int {
	if a.TimeoutSeconds > 0 {
		return a.TimeoutSeconds
	}
	return 300
}

// Execute implements spec §4.8's execute_chain(automation, event, token,
// depth).
func (e *Executor) Execute(ctx context.Context, root tenantpath.Root, a Automation, ev eventbus.Event, token *captoken.TokenData, depth int) (Record, error) {
	key := root.Segment() + ":" + a.ID
	if !e.tryAcquire(key) {
		e.logger.Warn("automation trigger dropped: already running", "automation_id", a.ID)
		return Record{}, fabricerr.New(fabricerr.RateLimited, "automation already running")
	}
	defer e.release(key)

	maxDepth := token.MaxChainDepth()
	if a.TimeoutSeconds <= 0 {
		a.TimeoutSeconds = token.AutomationTimeoutSeconds()
	}

	ec := newExecutionContext(a.ID, depth, "")
	ec.MaxRetries = a.MaxRetries
	if ec.MaxRetries > 5 {
		ec.MaxRetries = 5
	}
	if ec.MaxRetries < 0 {
		ec.MaxRetries = 0
	}
	if depth >= maxDepth {
		rec := newRecord(ec, StatusChainExceeded, nil)
		e.persist(root, rec)
		return rec, fabricerr.New(fabricerr.ChainDepthExceeded, "automation chain depth exceeded")
	}
	ec.Variables["event"] = map[string]any{
		"id":   ev.ID,
		"type": string(ev.Type),
		"data": ev.Data,
	}

	timeout := time.Duration(a.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- e.executeActions(runCtx, ec, a.Actions, token, root) }()

	var execErr error
	status := StatusSucceeded
	select {
	case execErr = <-done:
		if execErr != nil {
			status = StatusFailed
		}
	case <-runCtx.Done():
		execErr = fabricerr.New(fabricerr.Timeout, "automation execution timed out")
		status = StatusTimedOut
	}

	rec := newRecord(ec, status, execErr)
	e.persist(root, rec)

	if status == StatusSucceeded {
		_, _ = e.bus.Emit(root, root.Segment(), a.OwnerID, eventbus.AutomationCompleted{
			AutomationID: a.ID,
			Result:       "ok",
			DurationMS:   rec.DurationMS,
		}, nil)
	} else {
		_, _ = e.bus.Emit(root, root.Segment(), a.OwnerID, eventbus.AutomationFailed{
			AutomationID: a.ID,
			Error:        rec.Error,
			RetryCount:   0,
		}, nil)
	}

	if a.TriggersChain && status == StatusSucceeded {
		e.dispatchChainTargets(root, a, ec, depth, token)
	}

	return rec, execErr
}

// dispatchChainTargets implements spec §4.8 step 4: each chain target is
// loaded and recursively invoked via a synthetic automation.chain event.
// Depth violations on a child are logged, not propagated to the parent.
func (e *Executor) dispatchChainTargets(root tenantpath.Root, parent Automation, parentCtx *ExecutionContext, depth int, token *captoken.TokenData) {
	for _, targetID := range parent.ChainTargets {
		target, err := e.automations.Get(root, targetID)
		if err != nil {
			e.logger.Error("chain target: loading automation", "target_id", targetID, "error", err)
			continue
		}
		chainEvent := eventbus.Event{
			Type:   eventbus.TypeAutomationChain,
			Tenant: root.Segment(),
			User:   parent.OwnerID,
			Data: map[string]any{
				"parent_automation_id": parent.ID,
				"chain_depth":          depth + 1,
				"result":               parentCtx.Variables,
			},
		}
		chainEvent, err = e.bus.EmitRaw(root, chainEvent)
		if err != nil {
			e.logger.Error("chain target: emitting chain event", "target_id", targetID, "error", err)
			continue
		}
		childCtx := context.Background()
		if _, err := e.Execute(childCtx, root, target, chainEvent, token, depth+1); err != nil {
			e.logger.Warn("chain target execution error", "target_id", targetID, "error", err)
		}
	}
}

func (e *Executor) persist(root tenantpath.Root, r Record) {
	if err := persistRecord(e.executions, root, r); err != nil {
		e.logger.Error("persisting execution record", "automation_id", r.AutomationID, "error", err)
	}
}

func (e *Executor) tryAcquire(key string) bool {
	e.inflightMu.Lock()
	defer e.inflightMu.Unlock()
	if e.inflight[key] {
		return false
	}
	e.inflight[key] = true
	return true
}

func (e *Executor) release(key string) {
	e.inflightMu.Lock()
	defer e.inflightMu.Unlock()
	delete(e.inflight, key)
}

// executeActions runs actions in sequence, each under the retry wrapper.
// The first action that exhausts its retries aborts the remaining actions
// and is returned as the execution's error.
func (e *Executor) executeActions(ctx context.Context, ec *ExecutionContext, actions []Action, token *captoken.TokenData, root tenantpath.Root) error {
	for _, action := range actions {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.runWithRetry(ctx, ec, action, token, root); err != nil {
			return err
		}
	}
	return nil
}

// runWithRetry implements spec §4.8's "retried with exponential backoff
// min(2^n, 30s) up to min(automation.max_retries, 5)" — applied uniformly
// to every action type, since the spec states it as a property of action
// execution generally, not just the network-calling variants.
func (e *Executor) runWithRetry(ctx context.Context, ec *ExecutionContext, action Action, token *captoken.TokenData, root tenantpath.Root) error {
	var lastErr error
	for attempt := 0; attempt <= ec.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Min(math.Pow(2, float64(attempt)), maxBackoff.Seconds())) * time.Second
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			ec.record(fmt.Sprintf("retrying %s action, attempt %d", action.Type, attempt+1))
		}
		lastErr = e.runAction(ctx, ec, action, token, root)
		if lastErr == nil {
			return nil
		}
		// Capability and validation failures are not retried; they will
		// never succeed on a later attempt.
		if fabricerr.Is(lastErr, fabricerr.PermissionDenied) || fabricerr.Is(lastErr, fabricerr.InvalidInput) {
			return lastErr
		}
	}
	return lastErr
}

// runAction capability-gates and dispatches a single action by type.
func (e *Executor) runAction(ctx context.Context, ec *ExecutionContext, action Action, token *captoken.TokenData, root tenantpath.Root) error {
	if required := requiredCapability(action.Type); required != "" {
		if !captoken.HasCapability(token.Capabilities, required) {
			return fabricerr.New(fabricerr.PermissionDenied, fmt.Sprintf("missing capability %s for action %s", required, action.Type))
		}
	}

	switch action.Type {
	case ActionAPICall:
		return e.runAPICall(ctx, ec, action, token)
	case ActionWebhook:
		return e.runWebhook(ctx, ec, action)
	case ActionEmail:
		return e.runEmail(ctx, ec, action)
	case ActionDataTransform:
		return e.runDataTransform(ec, action)
	case ActionConditional:
		return e.runConditional(ctx, ec, action, token, root)
	case ActionLoop:
		return e.runLoop(ctx, ec, action, token, root)
	case ActionWait:
		return e.runWait(ctx, action)
	case ActionVariableSet:
		return e.runVariableSet(ec, action)
	case ActionChain:
		return e.runChain(ctx, ec, action, token, root)
	case ActionLog:
		return e.runLog(ec, action)
	default:
		return nil
	}
}

func (e *Executor) rateLimiterFor(token *captoken.TokenData) *ratelimit.Limiter {
	key := token.APIKeyID
	if key == "" {
		key = token.Subject
	}
	e.limitsMu.Lock()
	defer e.limitsMu.Unlock()
	l, ok := e.limits[key]
	if !ok {
		l = ratelimit.New(windowsFromClaims(token.RateLimits)...)
		e.limits[key] = l
	}
	return l
}

func windowsFromClaims(rl map[string]any) []ratelimit.Window {
	perHour := claimInt(rl, "per_hour", 1000)
	perDay := claimInt(rl, "per_day", 10000)
	return []ratelimit.Window{
		{Limit: perHour, Period: time.Hour},
		{Limit: perDay, Period: 24 * time.Hour},
	}
}

func claimInt(m map[string]any, key string, def int) int {
	v, ok := m[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return def
	}
}

func (e *Executor) runAPICall(ctx context.Context, ec *ExecutionContext, action Action, token *captoken.TokenData) error {
	if !e.rateLimiterFor(token).Allow(token.Subject) {
		return fabricerr.New(fabricerr.RateLimited, "api_call rate limit exceeded")
	}

	method := strings.ToUpper(action.Method)
	if method == "" {
		method = http.MethodGet
	}
	endpoint := ec.substitute(action.Endpoint)
	body := substituteMap(ec, action.Body)

	var reader io.Reader
	if len(body) > 0 {
		buf, err := json.Marshal(body)
		if err != nil {
			return fabricerr.Wrap(fabricerr.InvalidInput, "marshaling api_call body", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fabricerr.Wrap(fabricerr.InvalidInput, "building api_call request", err)
	}
	for k, v := range action.Headers {
		req.Header.Set(k, ec.substitute(v))
	}
	if reader != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.http.Do(req)
	if err != nil {
		return fabricerr.Wrap(fabricerr.UpstreamFailure, "api_call request failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fabricerr.New(fabricerr.UpstreamFailure, fmt.Sprintf("api_call returned status %d", resp.StatusCode))
	}
	ec.record(fmt.Sprintf("api_call %s %s -> %d", method, endpoint, resp.StatusCode))
	return nil
}

func (e *Executor) runWebhook(ctx context.Context, ec *ExecutionContext, action Action) error {
	endpoint := ec.substitute(action.Endpoint)
	body := substituteMap(ec, action.Body)
	buf, err := json.Marshal(body)
	if err != nil {
		return fabricerr.Wrap(fabricerr.InvalidInput, "marshaling webhook body", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(buf))
	if err != nil {
		return fabricerr.Wrap(fabricerr.InvalidInput, "building webhook request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range action.Headers {
		req.Header.Set(k, ec.substitute(v))
	}
	resp, err := e.http.Do(req)
	if err != nil {
		return fabricerr.Wrap(fabricerr.UpstreamFailure, "webhook delivery failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fabricerr.New(fabricerr.UpstreamFailure, fmt.Sprintf("webhook returned status %d", resp.StatusCode))
	}
	ec.record(fmt.Sprintf("webhook %s -> %d", endpoint, resp.StatusCode))
	return nil
}

func (e *Executor) runEmail(ctx context.Context, ec *ExecutionContext, action Action) error {
	to := ec.substitute(action.To)
	subject := ec.substitute(action.Subject)
	body := ec.substitute(action.Text)
	if err := e.email.Send(ctx, to, subject, body); err != nil {
		return fabricerr.Wrap(fabricerr.UpstreamFailure, "sending email", err)
	}
	ec.record("email sent to " + to)
	return nil
}

// runDataTransform implements spec §4.8's four data_transform sub-types,
// reading from and writing to ec.Variables.
func (e *Executor) runDataTransform(ec *ExecutionContext, action Action) error {
	switch action.TransformType {
	case TransformJSONParse:
		raw, _ := ec.resolveVar(action.Source)
		s, _ := raw.(string)
		var v any
		if err := json.Unmarshal([]byte(s), &v); err != nil {
			return fabricerr.Wrap(fabricerr.InvalidInput, "json_parse", err)
		}
		ec.Variables[action.Target] = v
	case TransformJSONStringify:
		v, _ := ec.resolveVar(action.Source)
		buf, err := json.Marshal(v)
		if err != nil {
			return fabricerr.Wrap(fabricerr.InvalidInput, "json_stringify", err)
		}
		ec.Variables[action.Target] = string(buf)
	case TransformExtract:
		root, _ := ec.resolveVar(action.Source)
		v, _ := condition.LookupPath(root, action.Path)
		ec.Variables[action.Target] = v
	case TransformMap:
		root, _ := ec.resolveVar(action.Source)
		out := make(map[string]any, len(action.Mapping))
		for targetKey, sourcePath := range action.Mapping {
			v, _ := condition.LookupPath(root, sourcePath)
			out[targetKey] = v
		}
		ec.Variables[action.Target] = out
	default:
		return fabricerr.New(fabricerr.InvalidInput, fmt.Sprintf("unknown transform_type %q", action.TransformType))
	}
	return nil
}

func (e *Executor) runConditional(ctx context.Context, ec *ExecutionContext, action Action, token *captoken.TokenData, root tenantpath.Root) error {
	matched := condition.EvaluateAll([]condition.Condition{action.Condition}, ec.resolveVar)
	branch := action.Else
	if matched {
		branch = action.Then
	}
	return e.executeActions(ctx, ec, branch, token, root)
}

// runLoop implements spec §4.8's loop action: items may be a $var reference
// to an array or a literal JSON array, iterations capped at the
// token's max_loop_iterations constraint (default 100).
func (e *Executor) runLoop(ctx context.Context, ec *ExecutionContext, action Action, token *captoken.TokenData, root tenantpath.Root) error {
	items := e.resolveLoopItems(ec, action.Items)
	limit := token.MaxLoopIterations()
	for i, item := range items {
		if i >= limit {
			ec.record(fmt.Sprintf("loop truncated at max_loop_iterations=%d", limit))
			break
		}
		ec.Variables[action.Variable] = item
		if err := e.executeActions(ctx, ec, action.Actions, token, root); err != nil {
			return err
		}
	}
	return nil
}

func (e *Executor) resolveLoopItems(ec *ExecutionContext, ref string) []any {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(ref, "${"), "$")
	trimmed = strings.TrimSuffix(trimmed, "}")
	if v, ok := ec.resolveVar(trimmed); ok {
		if list, ok := v.([]any); ok {
			return list
		}
	}
	var list []any
	if err := json.Unmarshal([]byte(ref), &list); err == nil {
		return list
	}
	return nil
}

func (e *Executor) runWait(ctx context.Context, action Action) error {
	d := time.Duration(action.DurationSeconds) * time.Second
	if d > 60*time.Second {
		d = 60 * time.Second
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Executor) runVariableSet(ec *ExecutionContext, action Action) error {
	for k, v := range action.Variables {
		ec.Variables[k] = substituteValue(ec, v)
	}
	return nil
}

// runChain implements the explicit chain{target_automation_id} action
// variant (spec §4.8: "emits automation.chain and is interpreted by the
// executor's chain dispatch"): it records the synthetic chain event for
// audit/replay, then recursively invokes the named target at depth+1, the
// same depth-bounded recursion dispatchChainTargets performs for
// triggers_chain/chain_targets.
func (e *Executor) runChain(ctx context.Context, ec *ExecutionContext, action Action, token *captoken.TokenData, root tenantpath.Root) error {
	target, err := e.automations.Get(root, action.TargetAutomationID)
	if err != nil {
		return fabricerr.Wrap(fabricerr.NotFound, "chain target automation not found", err)
	}

	chainEvent, err := e.bus.EmitRaw(root, eventbus.Event{
		Type:   eventbus.TypeAutomationChain,
		Tenant: root.Segment(),
		User:   target.OwnerID,
		Data: map[string]any{
			"parent_automation_id": ec.AutomationID,
			"target_automation_id": action.TargetAutomationID,
			"chain_depth":          ec.ChainDepth + 1,
		},
	})
	if err != nil {
		return err
	}

	// Depth violations on the target are logged, not propagated: the same
	// rule spec §4.8 step 4 states for triggers_chain/chain_targets.
	if _, err := e.Execute(ctx, root, target, chainEvent, token, ec.ChainDepth+1); err != nil {
		e.logger.Warn("chain action target execution error", "target_id", action.TargetAutomationID, "error", err)
	}
	return nil
}

func (e *Executor) runLog(ec *ExecutionContext, action Action) error {
	msg := ec.substitute(action.Message)
	level := action.Level
	if level == "" {
		level = "info"
	}
	switch level {
	case "error":
		e.logger.Error(msg, "automation_id", ec.AutomationID)
	case "warn":
		e.logger.Warn(msg, "automation_id", ec.AutomationID)
	default:
		e.logger.Info(msg, "automation_id", ec.AutomationID)
	}
	ec.record(msg)
	return nil
}
