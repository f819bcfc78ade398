package httpedge

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gt-edge-ai/capfabric/internal/store"
	"github.com/gt-edge-ai/capfabric/internal/telemetry"
	"github.com/gt-edge-ai/capfabric/pkg/accessgroup"
	"github.com/gt-edge-ai/capfabric/pkg/apikey"
	"github.com/gt-edge-ai/capfabric/pkg/captoken"
	"github.com/gt-edge-ai/capfabric/pkg/mcpserver"
	"github.com/gt-edge-ai/capfabric/pkg/resource"
	"github.com/gt-edge-ai/capfabric/pkg/tenantpath"
)

func newTestServer(t *testing.T) (*Server, string, *apikey.Service, *mcpserver.Registry, *captoken.Codec) {
	t.Helper()
	dataRoot := t.TempDir()
	if _, err := tenantpath.RootFor(dataRoot, "acme.io"); err != nil {
		t.Fatalf("RootFor: %v", err)
	}
	locks := &store.PathLocks{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	usage := store.NewAsyncAppender(store.NewJSONLAppender(locks), logger)

	apiKeys := apikey.NewService(locks, usage, logger)
	codec := captoken.NewCodec("test-master-key")
	registry := mcpserver.NewRegistry(resource.NewStore(locks), locks)
	mcp := mcpserver.NewDispatcher(registry, logger)

	deps := &Deps{
		DataRoot: dataRoot,
		APIKeys:  apiKeys,
		Codec:    codec,
		MCP:      mcp,
		TokenTTL: time.Hour,
		Logger:   logger,
	}
	srv := NewServer(deps, []string{"*"}, 1<<20, telemetry.NewMetricsRegistry())
	return srv, dataRoot, apiKeys, registry, codec
}

func postJSON(t *testing.T, srv *Server, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func TestHandleValidateAPIKeyAcceptsAValidKey(t *testing.T) {
	srv, dataRoot, apiKeys, _, _ := newTestServer(t)
	root, err := tenantpath.RootFor(dataRoot, "acme.io")
	if err != nil {
		t.Fatalf("RootFor: %v", err)
	}
	raw, _, err := apiKeys.Create(root, apikey.CreateParams{
		Name: "ci", OwnerID: "alice@acme.io", Scope: apikey.ScopeUser,
		Capabilities: []string{"mcp:docs-fs:read_file"},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	rec := postJSON(t, srv, "/v1/validate-api-key", map[string]any{
		"raw_key":       raw,
		"tenant_domain": "acme.io",
		"endpoint":      "/v1/execute-mcp-tool",
		"client_ip":     "127.0.0.1",
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp validateAPIKeyResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !resp.Valid || resp.CapabilityToken == "" {
		t.Fatalf("resp = %+v", resp)
	}
	if resp.RateLimitRemaining == nil || resp.QuotaRemaining == nil {
		t.Fatalf("resp = %+v, want remaining/quota populated", resp)
	}
}

func TestHandleValidateAPIKeyRejectsUnknownKey(t *testing.T) {
	srv, _, _, _, _ := newTestServer(t)

	rec := postJSON(t, srv, "/v1/validate-api-key", map[string]any{
		"raw_key":       "gt2_acme-io_notarealkey",
		"tenant_domain": "acme.io",
		"endpoint":      "/v1/execute-mcp-tool",
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp validateAPIKeyResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Valid {
		t.Fatalf("resp = %+v, want valid=false", resp)
	}
}

func TestHandleExecuteMCPToolRoundTrip(t *testing.T) {
	srv, dataRoot, _, registry, codec := newTestServer(t)
	root, err := tenantpath.RootFor(dataRoot, "acme.io")
	if err != nil {
		t.Fatalf("RootFor: %v", err)
	}

	res, _, err := registry.Register(root, resource.Resource{
		Name: "docs-fs", OwnerID: "alice@acme.io", AccessGroup: accessgroup.Individual,
	}, mcpserver.Server{
		ServerType: "filesystem", AvailableTools: []string{"read_file"}, MaxConcurrentRequests: 2,
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	token, err := codec.Mint("alice@acme.io", root.Segment(), []captoken.Capability{
		{Resource: "mcp:docs-fs:read_file", Actions: []string{"*"}},
	}, nil, time.Hour)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	rec := postJSON(t, srv, "/v1/execute-mcp-tool", map[string]any{
		"server_id":        res.ID,
		"tool_name":        "read_file",
		"parameters":       map[string]any{"path": "notes.txt"},
		"capability_token": token,
		"tenant_domain":    "acme.io",
		"user_id":          "alice@acme.io",
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp executeMCPToolResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !resp.Success || resp.Result["tool_name"] != "read_file" {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestHandleExecuteMCPToolRejectsMissingCapability(t *testing.T) {
	srv, dataRoot, _, registry, codec := newTestServer(t)
	root, err := tenantpath.RootFor(dataRoot, "acme.io")
	if err != nil {
		t.Fatalf("RootFor: %v", err)
	}

	res, _, err := registry.Register(root, resource.Resource{
		Name: "docs-fs", OwnerID: "alice@acme.io", AccessGroup: accessgroup.Individual,
	}, mcpserver.Server{
		ServerType: "filesystem", AvailableTools: []string{"read_file"}, MaxConcurrentRequests: 2,
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	token, err := codec.Mint("alice@acme.io", root.Segment(), nil, nil, time.Hour)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	rec := postJSON(t, srv, "/v1/execute-mcp-tool", map[string]any{
		"server_id":        res.ID,
		"tool_name":        "read_file",
		"parameters":       map[string]any{"path": "notes.txt"},
		"capability_token": token,
		"tenant_domain":    "acme.io",
		"user_id":          "alice@acme.io",
	})

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp executeMCPToolResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Success {
		t.Fatalf("resp = %+v, want success=false", resp)
	}
}

func TestHealthzAndReadyz(t *testing.T) {
	srv, _, _, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("/healthz status = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("/readyz status = %d, body = %s", rec.Code, rec.Body.String())
	}
}
