// Package mcpserver implements C10: registering an MCP server as a Resource
// of type mcp_server and validating/dispatching tool invocations against it
// (spec §4.10). The generic Resource envelope (owner, access group, tenant)
// lives in pkg/resource; this package holds the server-specific extra state
// tenantpath.MCPServerFile persists alongside it.
package mcpserver

import (
	"time"

	"github.com/gt-edge-ai/capfabric/internal/store"
	"github.com/gt-edge-ai/capfabric/pkg/resource"
	"github.com/gt-edge-ai/capfabric/pkg/tenantpath"
)

// Status is one of the MCP server health states spec §4.10 step 7 drives.
type Status string

const (
	StatusStopped   Status = "stopped"
	StatusStarting  Status = "starting"
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
	StatusStopping  Status = "stopping"
)

// Sandbox is the resource-limit/isolation configuration for one MCP server
// (spec §3 "MCP server resource").
type Sandbox struct {
	MaxMemoryMB      int  `json:"max_memory_mb"`
	MaxCPUPercent    int  `json:"max_cpu_percent"`
	TimeoutSeconds   int  `json:"timeout_seconds"`
	NetworkIsolation bool `json:"network_isolation"`
}

// Server is the extra state an MCP server resource carries beyond the
// generic Resource envelope.
type Server struct {
	ResourceID            string         `json:"resource_id"`
	ServerType            string         `json:"server_type"` // filesystem | web | database
	ServerURL             string         `json:"server_url"`
	AvailableTools        []string       `json:"available_tools"`
	RequiredCapabilities  []string       `json:"required_capabilities"`
	Sandbox               Sandbox        `json:"sandbox"`
	RateLimits            map[string]any `json:"rate_limits,omitempty"`
	MaxConcurrentRequests int            `json:"max_concurrent_requests"`
	Status                Status         `json:"status"`
	TotalRequests         int64          `json:"total_requests"`
	ErrorCount            int64          `json:"error_count"`
	LastHealthCheck       time.Time      `json:"last_health_check"`
}

// Registry is the CRUD layer over MCP server registrations: a resource.Store
// entry (type mcp_server) plus the Server extra-state file.
type Registry struct {
	resources *resource.Store
	servers   *store.JSONStore[Server]
}

// NewRegistry wires a Registry sharing the process-wide lock map.
func NewRegistry(resources *resource.Store, locks *store.PathLocks) *Registry {
	return &Registry{resources: resources, servers: store.NewJSONStore[Server](locks)}
}

// Register creates the Resource envelope (type mcp_server) and its Server
// extra state, starting in StatusStarting.
func (r *Registry) Register(root tenantpath.Root, res resource.Resource, srv Server) (resource.Resource, Server, error) {
	res.Type = resource.TypeMCPServer
	created, err := r.resources.Create(root, res)
	if err != nil {
		return resource.Resource{}, Server{}, err
	}
	srv.ResourceID = created.ID
	if srv.Status == "" {
		srv.Status = StatusStarting
	}
	if srv.MaxConcurrentRequests <= 0 {
		srv.MaxConcurrentRequests = 4
	}
	if err := r.servers.Write(root.MCPServerFile(created.ID), srv); err != nil {
		return resource.Resource{}, Server{}, err
	}
	return created, srv, nil
}

// Get loads the Resource envelope and the Server extra state for one MCP
// server registration.
func (r *Registry) Get(root tenantpath.Root, resourceID string) (resource.Resource, Server, error) {
	res, err := r.resources.Get(root, resourceID)
	if err != nil {
		return resource.Resource{}, Server{}, err
	}
	srv, err := r.servers.Read(root.MCPServerFile(resourceID))
	if err != nil {
		return resource.Resource{}, Server{}, err
	}
	return res, srv, nil
}

// Save persists srv's extra state (used by the dispatcher and the health
// checker to update status/counters).
func (r *Registry) Save(root tenantpath.Root, srv Server) error {
	return r.servers.Write(root.MCPServerFile(srv.ResourceID), srv)
}

// List returns every MCP server's extra state under root, used by the
// health checker to walk the registry.
func (r *Registry) List(root tenantpath.Root) ([]Server, error) {
	return store.ListDir[Server](root.MCPServerDir())
}
