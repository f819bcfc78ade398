package automation

import (
	"io"
	"log/slog"
	"testing"

	"github.com/gt-edge-ai/capfabric/internal/store"
	"github.com/gt-edge-ai/capfabric/pkg/eventbus"
	"github.com/gt-edge-ai/capfabric/pkg/tenantpath"
)

func newTestStore(t *testing.T) (*Store, tenantpath.Root) {
	t.Helper()
	root, err := tenantpath.RootFor(t.TempDir(), "acme.io")
	if err != nil {
		t.Fatalf("RootFor: %v", err)
	}
	locks := &store.PathLocks{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bus := eventbus.New(locks, nil, logger)
	return NewStore(locks, bus), root
}

func TestCreateAndGetRoundTrip(t *testing.T) {
	s, root := newTestStore(t)
	a := Automation{ID: "a1", Name: "test", OwnerID: "alice", TriggerType: TriggerManual, IsActive: true}
	created, err := s.Create(root, a)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.CreatedAt.IsZero() {
		t.Fatal("Create should stamp CreatedAt")
	}

	got, err := s.Get(root, "a1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != "test" {
		t.Fatalf("Get.Name = %q, want test", got.Name)
	}
}

func TestCreateEventTriggeredRegistersBusTrigger(t *testing.T) {
	s, root := newTestStore(t)
	a := Automation{
		ID: "a1", OwnerID: "alice", TriggerType: TriggerEvent, IsActive: true,
		TriggerConfig: map[string]any{"event_types": []any{"document.uploaded"}},
	}
	if _, err := s.Create(root, a); err != nil {
		t.Fatalf("Create: %v", err)
	}

	triggers, err := store.ListDir[eventbus.TriggerRecord](root.AutomationsByEventDir())
	if err != nil {
		t.Fatalf("ListDir: %v", err)
	}
	if len(triggers) != 1 || triggers[0].AutomationID != "a1" {
		t.Fatalf("triggers = %+v, want one entry for a1", triggers)
	}
}

func TestDeleteRemovesTriggerIndex(t *testing.T) {
	s, root := newTestStore(t)
	a := Automation{
		ID: "a1", OwnerID: "alice", TriggerType: TriggerEvent, IsActive: true,
		TriggerConfig: map[string]any{"event_types": []any{"document.uploaded"}},
	}
	if _, err := s.Create(root, a); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Delete(root, "a1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	triggers, err := store.ListDir[eventbus.TriggerRecord](root.AutomationsByEventDir())
	if err != nil {
		t.Fatalf("ListDir: %v", err)
	}
	if len(triggers) != 0 {
		t.Fatalf("triggers = %+v, want none after delete", triggers)
	}
}
