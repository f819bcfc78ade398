package automation

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gt-edge-ai/capfabric/internal/store"
	"github.com/gt-edge-ai/capfabric/pkg/captoken"
	"github.com/gt-edge-ai/capfabric/pkg/condition"
	"github.com/gt-edge-ai/capfabric/pkg/eventbus"
	"github.com/gt-edge-ai/capfabric/pkg/tenantpath"
)

func newTestExecutor(t *testing.T) (*Executor, *Store, tenantpath.Root, *captoken.Codec) {
	t.Helper()
	root, err := tenantpath.RootFor(t.TempDir(), "acme.io")
	if err != nil {
		t.Fatalf("RootFor: %v", err)
	}
	locks := &store.PathLocks{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bus := eventbus.New(locks, nil, logger)
	automations := NewStore(locks, bus)
	codec := captoken.NewCodec("test-master-key")
	exec := NewExecutor(locks, automations, bus, codec, nil, nil, logger)
	return exec, automations, root, codec
}

func mintToken(t *testing.T, codec *captoken.Codec, root tenantpath.Root, caps []string, constraints map[string]any) *captoken.TokenData {
	t.Helper()
	var capabilities []captoken.Capability
	for _, c := range caps {
		capabilities = append(capabilities, captoken.Capability{Resource: c, Actions: []string{"*"}})
	}
	raw, err := codec.Mint("alice@acme.io", root.Segment(), capabilities, constraints, time.Hour)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	td, err := codec.Verify(raw, root.Segment())
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	return td
}

func TestRunActionDeniesUngatedCapability(t *testing.T) {
	exec, _, root, codec := newTestExecutor(t)
	token := mintToken(t, codec, root, nil, nil)
	ec := newExecutionContext("a1", 0, "")

	err := exec.runAction(context.Background(), ec, Action{Type: ActionAPICall, Endpoint: "http://example.invalid"}, token, root)
	if err == nil {
		t.Fatal("runAction should deny api_call without automation:api_calls capability")
	}
}

func TestRunAPICallSucceedsWithCapability(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	exec, _, root, codec := newTestExecutor(t)
	token := mintToken(t, codec, root, []string{"automation:api_calls"}, nil)
	ec := newExecutionContext("a1", 0, "")

	err := exec.runAction(context.Background(), ec, Action{Type: ActionAPICall, Method: "GET", Endpoint: srv.URL}, token, root)
	if err != nil {
		t.Fatalf("runAction: %v", err)
	}
}

func TestRunWaitReturnsOnContextDeadline(t *testing.T) {
	exec, _, _, _ := newTestExecutor(t)
	start := time.Now()
	// The 60s cap itself is not observed here: a 3600s request under a 50ms
	// context deadline checks that runWait returns on cancellation instead
	// of sleeping out the requested (or capped) duration.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := exec.runWait(ctx, Action{DurationSeconds: 3600})
	if err == nil {
		t.Fatal("expected context deadline to fire before the (capped) 60s wait elapses")
	}
	if time.Since(start) > time.Second {
		t.Fatal("runWait did not respect context cancellation")
	}
}

func TestRunDataTransformExtractAndMap(t *testing.T) {
	exec, _, _, _ := newTestExecutor(t)
	ec := newExecutionContext("a1", 0, "")
	ec.Variables["src"] = map[string]any{"user": map[string]any{"id": "u1", "name": "Ada"}}

	err := exec.runDataTransform(ec, Action{
		Type: ActionDataTransform, TransformType: TransformExtract,
		Source: "src", Path: "user.id", Target: "extracted",
	})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if ec.Variables["extracted"] != "u1" {
		t.Fatalf("extracted = %v, want u1", ec.Variables["extracted"])
	}

	err = exec.runDataTransform(ec, Action{
		Type: ActionDataTransform, TransformType: TransformMap,
		Source: "src", Target: "mapped",
		Mapping: map[string]string{"id": "user.id", "name": "user.name"},
	})
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	mapped, ok := ec.Variables["mapped"].(map[string]any)
	if !ok || mapped["id"] != "u1" || mapped["name"] != "Ada" {
		t.Fatalf("mapped = %+v", mapped)
	}
}

func TestRunConditionalSelectsBranch(t *testing.T) {
	exec, _, root, codec := newTestExecutor(t)
	token := mintToken(t, codec, root, []string{"automation:logic"}, nil)
	ec := newExecutionContext("a1", 0, "")
	ec.Variables["status"] = "ready"

	action := Action{
		Type:      ActionConditional,
		Condition: condition.Condition{Field: "status", Operator: condition.Equals, Value: "ready"},
		Then:      []Action{{Type: ActionLog, Message: "then"}},
		Else:      []Action{{Type: ActionLog, Message: "else"}},
	}

	if err := exec.runAction(context.Background(), ec, action, token, root); err != nil {
		t.Fatalf("runAction: %v", err)
	}
	if len(ec.ExecutionHistory) != 1 || ec.ExecutionHistory[0] != "then" {
		t.Fatalf("history = %v, want the then-branch log entry", ec.ExecutionHistory)
	}
}

func TestRunLoopCapsAtMaxIterations(t *testing.T) {
	exec, _, root, codec := newTestExecutor(t)
	token := mintToken(t, codec, root, []string{"automation:logic"}, map[string]any{"max_loop_iterations": float64(2)})
	ec := newExecutionContext("a1", 0, "")
	ec.Variables["items"] = []any{"a", "b", "c", "d"}

	action := Action{
		Type: ActionLoop, Items: "$items", Variable: "item",
		Actions: []Action{{Type: ActionLog, Message: "${item}"}},
	}
	if err := exec.runAction(context.Background(), ec, action, token, root); err != nil {
		t.Fatalf("runAction: %v", err)
	}
	if len(ec.ExecutionHistory) != 3 {
		t.Fatalf("history = %v, want exactly 2 iteration entries plus the truncation note (capped)", ec.ExecutionHistory)
	}
}

func TestExecuteRejectsAtChainDepthLimit(t *testing.T) {
	exec, automations, root, codec := newTestExecutor(t)
	token := mintToken(t, codec, root, nil, map[string]any{"max_automation_chain_depth": float64(2)})
	a, err := automations.Create(root, Automation{ID: "a1", OwnerID: "alice@acme.io", TriggerType: TriggerManual, IsActive: true})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	rec, err := exec.Execute(context.Background(), root, a, eventbus.Event{ID: "e1"}, token, 2)
	if err == nil {
		t.Fatal("Execute at depth >= max_chain_depth should fail")
	}
	if rec.Status != StatusChainExceeded {
		t.Fatalf("Status = %q, want chain_exceeded", rec.Status)
	}
}

func TestExecuteRunsActionsAndSucceeds(t *testing.T) {
	exec, automations, root, codec := newTestExecutor(t)
	token := mintToken(t, codec, root, nil, nil)
	a, err := automations.Create(root, Automation{
		ID: "a1", OwnerID: "alice@acme.io", TriggerType: TriggerManual, IsActive: true,
		Actions: []Action{{Type: ActionLog, Message: "hello"}},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	rec, err := exec.Execute(context.Background(), root, a, eventbus.Event{ID: "e1"}, token, 0)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if rec.Status != StatusSucceeded {
		t.Fatalf("Status = %q, want succeeded", rec.Status)
	}
}

func TestExecuteDropsDuplicateConcurrentInvocation(t *testing.T) {
	exec, automations, root, codec := newTestExecutor(t)
	token := mintToken(t, codec, root, []string{"automation:logic"}, nil)
	a, err := automations.Create(root, Automation{
		ID: "a1", OwnerID: "alice@acme.io", TriggerType: TriggerManual, IsActive: true,
		Actions: []Action{{Type: ActionWait, DurationSeconds: 1}},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	started := make(chan struct{})
	go func() {
		close(started)
		_, _ = exec.Execute(context.Background(), root, a, eventbus.Event{ID: "e1"}, token, 0)
	}()
	<-started
	time.Sleep(50 * time.Millisecond)

	_, err = exec.Execute(context.Background(), root, a, eventbus.Event{ID: "e2"}, token, 0)
	if err == nil {
		t.Fatal("a second concurrent Execute for the same automation.id should be dropped")
	}
}
