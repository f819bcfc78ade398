package mcpserver

import (
	"testing"

	"github.com/gt-edge-ai/capfabric/internal/store"
	"github.com/gt-edge-ai/capfabric/pkg/accessgroup"
	"github.com/gt-edge-ai/capfabric/pkg/resource"
	"github.com/gt-edge-ai/capfabric/pkg/tenantpath"
)

func newTestRegistry(t *testing.T) (*Registry, tenantpath.Root) {
	t.Helper()
	root, err := tenantpath.RootFor(t.TempDir(), "acme.io")
	if err != nil {
		t.Fatalf("RootFor: %v", err)
	}
	locks := &store.PathLocks{}
	return NewRegistry(resource.NewStore(locks), locks), root
}

func TestRegisterAndGetRoundTrip(t *testing.T) {
	registry, root := newTestRegistry(t)

	created, srv, err := registry.Register(root, resource.Resource{
		Name: "docs-fs", OwnerID: "alice@acme.io", AccessGroup: accessgroup.Individual,
	}, Server{ServerType: "filesystem", AvailableTools: []string{"read_file"}})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if created.Type != resource.TypeMCPServer {
		t.Fatalf("Type = %q, want mcp_server", created.Type)
	}
	if srv.Status != StatusStarting {
		t.Fatalf("Status = %q, want starting", srv.Status)
	}
	if srv.MaxConcurrentRequests != 4 {
		t.Fatalf("MaxConcurrentRequests = %d, want default 4", srv.MaxConcurrentRequests)
	}

	gotRes, gotSrv, err := registry.Get(root, created.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if gotRes.Name != "docs-fs" {
		t.Fatalf("Name = %q, want docs-fs", gotRes.Name)
	}
	if gotSrv.ResourceID != created.ID {
		t.Fatalf("ResourceID = %q, want %q", gotSrv.ResourceID, created.ID)
	}
}

func TestRegisterHonorsExplicitConcurrencyLimit(t *testing.T) {
	registry, root := newTestRegistry(t)
	_, srv, err := registry.Register(root, resource.Resource{
		Name: "db", OwnerID: "alice@acme.io", AccessGroup: accessgroup.Individual,
	}, Server{ServerType: "database", MaxConcurrentRequests: 2})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if srv.MaxConcurrentRequests != 2 {
		t.Fatalf("MaxConcurrentRequests = %d, want 2", srv.MaxConcurrentRequests)
	}
}

func TestListReturnsAllRegisteredServers(t *testing.T) {
	registry, root := newTestRegistry(t)
	for _, name := range []string{"one", "two", "three"} {
		if _, _, err := registry.Register(root, resource.Resource{
			Name: name, OwnerID: "alice@acme.io", AccessGroup: accessgroup.Individual,
		}, Server{ServerType: "web"}); err != nil {
			t.Fatalf("Register(%s): %v", name, err)
		}
	}

	servers, err := registry.List(root)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(servers) != 3 {
		t.Fatalf("len(servers) = %d, want 3", len(servers))
	}
}

func TestSavePersistsUpdatedStatus(t *testing.T) {
	registry, root := newTestRegistry(t)
	created, srv, err := registry.Register(root, resource.Resource{
		Name: "web-api", OwnerID: "alice@acme.io", AccessGroup: accessgroup.Individual,
	}, Server{ServerType: "web"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	srv.Status = StatusHealthy
	srv.TotalRequests = 5
	if err := registry.Save(root, srv); err != nil {
		t.Fatalf("Save: %v", err)
	}

	_, got, err := registry.Get(root, created.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != StatusHealthy || got.TotalRequests != 5 {
		t.Fatalf("got = %+v, want status=healthy total_requests=5", got)
	}
}
