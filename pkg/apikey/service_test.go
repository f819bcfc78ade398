package apikey

import (
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/gt-edge-ai/capfabric/internal/store"
	"github.com/gt-edge-ai/capfabric/pkg/captoken"
	"github.com/gt-edge-ai/capfabric/pkg/tenantpath"
)

func newTestService(t *testing.T) (*Service, tenantpath.Root) {
	t.Helper()
	root, err := tenantpath.RootFor(t.TempDir(), "acme.io")
	if err != nil {
		t.Fatalf("RootFor: %v", err)
	}
	locks := &store.PathLocks{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	appender := store.NewAsyncAppender(store.NewJSONLAppender(locks), logger)
	return NewService(locks, appender, logger), root
}

func TestCreateReturnsRawKeyOnce(t *testing.T) {
	s, root := newTestService(t)
	raw, k, err := s.Create(root, CreateParams{Name: "ci", OwnerID: "alice", Scope: ScopeUser, Capabilities: []string{"dataset:*"}})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !strings.HasPrefix(raw, "gt2_acme_io_") {
		t.Errorf("raw key = %q, want gt2_acme_io_ prefix", raw)
	}
	if k.KeyHash == "" || k.KeyHash == raw {
		t.Errorf("stored KeyHash should be a hash, not the raw key: %q", k.KeyHash)
	}
	if k.RateLimits.PerHour != 1000 {
		t.Errorf("PerHour = %d, want scope default 1000", k.RateLimits.PerHour)
	}
	if k.Constraints["max_automation_chain_depth"] != 5 {
		t.Errorf("default constraint not applied: %+v", k.Constraints)
	}
}

func TestCreateCallerConstraintOverridesDefault(t *testing.T) {
	s, root := newTestService(t)
	_, k, err := s.Create(root, CreateParams{Name: "ci", OwnerID: "alice", Scope: ScopeAdmin, Constraints: map[string]any{"max_automation_chain_depth": 9}})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if k.Constraints["max_automation_chain_depth"] != 9 {
		t.Errorf("caller override should win, got %+v", k.Constraints)
	}
	if k.Constraints["mcp_timeout_seconds"] != 30 {
		t.Errorf("unrelated default should survive merge, got %+v", k.Constraints)
	}
}

func TestValidateRoundTrip(t *testing.T) {
	s, root := newTestService(t)
	raw, _, err := s.Create(root, CreateParams{Name: "ci", OwnerID: "alice", Scope: ScopeUser})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	k, err := s.Validate(root, raw, "/v1/datasets", "10.0.0.1")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if k.Usage.RequestsCount != 1 {
		t.Errorf("RequestsCount = %d, want 1", k.Usage.RequestsCount)
	}
}

func TestValidateRejectsUnknownKey(t *testing.T) {
	s, root := newTestService(t)
	if _, err := s.Validate(root, "gt2_acme_io_bogus", "/v1/x", "10.0.0.1"); err == nil {
		t.Fatal("Validate should reject an unknown raw key")
	}
}

func TestValidateRejectsRevoked(t *testing.T) {
	s, root := newTestService(t)
	raw, k, err := s.Create(root, CreateParams{Name: "ci", OwnerID: "alice", Scope: ScopeUser})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Revoke(root, k.ID, "alice"); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if _, err := s.Validate(root, raw, "/v1/x", "10.0.0.1"); err == nil {
		t.Fatal("Validate should reject a revoked key")
	}
}

func TestValidateBlockedEndpoint(t *testing.T) {
	s, root := newTestService(t)
	raw, _, err := s.Create(root, CreateParams{Name: "ci", OwnerID: "alice", Scope: ScopeUser, BlockedEndpoints: []string{"/v1/admin"}})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := s.Validate(root, raw, "/v1/admin", "10.0.0.1"); err == nil {
		t.Fatal("Validate should reject a blocked endpoint")
	}
}

func TestValidateEnforcesRateLimit(t *testing.T) {
	s, root := newTestService(t)
	raw, k, err := s.Create(root, CreateParams{Name: "ci", OwnerID: "alice", Scope: ScopeUser})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	k.RateLimits.PerHour = 1
	k.RateLimits.PerDay = 1
	if err := s.keys.Write(root.APIKeyFile(k.ID), k); err != nil {
		t.Fatalf("rewriting key with tight limits: %v", err)
	}

	if _, err := s.Validate(root, raw, "/v1/x", "10.0.0.1"); err != nil {
		t.Fatalf("first request should be admitted: %v", err)
	}
	if _, err := s.Validate(root, raw, "/v1/x", "10.0.0.1"); err == nil {
		t.Fatal("second request should be rate limited")
	}
}

func TestRotateInvalidatesOldKey(t *testing.T) {
	s, root := newTestService(t)
	oldRaw, k, err := s.Create(root, CreateParams{Name: "ci", OwnerID: "alice", Scope: ScopeUser})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	newRaw, _, err := s.Rotate(root, k.ID, "alice")
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if newRaw == oldRaw {
		t.Fatal("Rotate should produce a different raw key")
	}
	if _, err := s.Validate(root, oldRaw, "/v1/x", "10.0.0.1"); err == nil {
		t.Fatal("old raw key should be invalid after rotation")
	}
	if _, err := s.Validate(root, newRaw, "/v1/x", "10.0.0.1"); err != nil {
		t.Fatalf("new raw key should validate: %v", err)
	}
}

func TestRotateRejectsNonOwner(t *testing.T) {
	s, root := newTestService(t)
	_, k, err := s.Create(root, CreateParams{Name: "ci", OwnerID: "alice", Scope: ScopeUser})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, _, err := s.Rotate(root, k.ID, "mallory"); err == nil {
		t.Fatal("Rotate should reject a non-owner requester")
	}
}

func TestListReturnsOwnersKeysNewestFirst(t *testing.T) {
	s, root := newTestService(t)
	_, older, err := s.Create(root, CreateParams{Name: "first", OwnerID: "alice", Scope: ScopeUser})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	older.CreatedAt = older.CreatedAt.Add(-time.Hour)
	if err := s.keys.Write(root.APIKeyFile(older.ID), older); err != nil {
		t.Fatalf("backdating first key: %v", err)
	}
	_, newer, err := s.Create(root, CreateParams{Name: "second", OwnerID: "alice", Scope: ScopeUser})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, _, err := s.Create(root, CreateParams{Name: "other-owner", OwnerID: "mallory", Scope: ScopeUser}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	keys, err := s.List(root, "alice")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("List returned %d keys, want 2 (mallory's key must be excluded)", len(keys))
	}
	if keys[0].ID != newer.ID || keys[1].ID != older.ID {
		t.Fatalf("List should sort newest first, got %+v", keys)
	}
}

func TestUsageAnalyticsAggregatesAcrossKeys(t *testing.T) {
	s, root := newTestService(t)
	raw1, k1, err := s.Create(root, CreateParams{Name: "a", OwnerID: "alice", Scope: ScopeUser})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	_, k2, err := s.Create(root, CreateParams{Name: "b", OwnerID: "alice", Scope: ScopeUser})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := s.Validate(root, raw1, "/v1/x", "10.0.0.1"); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	k2.Usage.RequestsCount = 5
	k2.Usage.ErrorsCount = 2
	k2.Usage.RateLimitHits = 1
	if err := s.keys.Write(root.APIKeyFile(k2.ID), k2); err != nil {
		t.Fatalf("seeding usage: %v", err)
	}

	analytics, err := s.UsageAnalytics(root, "alice", "", 30)
	if err != nil {
		t.Fatalf("UsageAnalytics: %v", err)
	}
	if analytics.KeysAnalyzed != 2 {
		t.Errorf("KeysAnalyzed = %d, want 2", analytics.KeysAnalyzed)
	}
	if analytics.TotalRequests != 6 {
		t.Errorf("TotalRequests = %d, want 6", analytics.TotalRequests)
	}
	if analytics.TotalErrors != 2 {
		t.Errorf("TotalErrors = %d, want 2", analytics.TotalErrors)
	}
	if analytics.RateLimitHits != 1 {
		t.Errorf("RateLimitHits = %d, want 1", analytics.RateLimitHits)
	}

	single, err := s.UsageAnalytics(root, "alice", k1.ID, 30)
	if err != nil {
		t.Fatalf("UsageAnalytics (single key): %v", err)
	}
	if single.KeysAnalyzed != 1 || single.TotalRequests != 1 {
		t.Errorf("single-key analytics = %+v, want KeysAnalyzed=1 TotalRequests=1", single)
	}
}

func TestGenerateCapabilityTokenCarriesConstraints(t *testing.T) {
	s, root := newTestService(t)
	_, k, err := s.Create(root, CreateParams{
		Name: "ci", OwnerID: "alice", Scope: ScopeUser,
		Capabilities: []string{"dataset:read"},
		Constraints:  map[string]any{"dataset:read": map[string]any{"max_rows": 1000}},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	codec := captoken.NewCodec("test-master-key")
	raw, err := s.GenerateCapabilityToken(codec, k, "alice", time.Hour)
	if err != nil {
		t.Fatalf("GenerateCapabilityToken: %v", err)
	}

	data, err := codec.Verify(raw, root.Segment())
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !captoken.HasCapability(data.Capabilities, "dataset:read") {
		t.Fatalf("token should carry dataset:read, got %+v", data.Capabilities)
	}
}
