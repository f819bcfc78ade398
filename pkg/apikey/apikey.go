// Package apikey implements C6, the API-key lifecycle of spec §4.6:
// creation with scope-derived rate limits and tenant constraint defaults,
// hash-indexed validation, capability-token exchange, rotation, and
// revocation. Grounded on nightowl's pkg/apikey (generate/hash/prefix
// pattern in apikey.go, service/store layering), replacing its
// pgx-backed store with the C4 JSONStore and its DB-row scan with a
// hash-index scan over the tenant's key directory.
package apikey

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Scope is the privilege tier an API key was created at (spec §4.6).
type Scope string

const (
	ScopeUser   Scope = "user"
	ScopeTenant Scope = "tenant"
	ScopeAdmin  Scope = "admin"
)

// Status is the lifecycle state of an API key.
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusExpired   Status = "expired"
	StatusRevoked   Status = "revoked"
)

// RateLimits are the per-key budget: requests per rolling hour, per rolling
// day, and a cost-unit quota (spec §4.6's "1000¢"-style figures — a budget
// in billing credits, independent of request count).
type RateLimits struct {
	PerHour      int `json:"per_hour"`
	PerDay       int `json:"per_day"`
	QuotaCredits int `json:"quota_credits"`
}

// scopeDefaults returns the rate limits spec §4.6 assigns by scope.
func scopeDefaults(scope Scope) RateLimits {
	switch scope {
	case ScopeTenant:
		return RateLimits{PerHour: 5_000, PerDay: 50_000, QuotaCredits: 5_000}
	case ScopeAdmin:
		return RateLimits{PerHour: 10_000, PerDay: 100_000, QuotaCredits: 10_000}
	default:
		return RateLimits{PerHour: 1_000, PerDay: 10_000, QuotaCredits: 1_000}
	}
}

// tenantConstraintDefaults returns the default token constraints spec §4.6
// applies to a newly created key before caller overrides are merged in.
func tenantConstraintDefaults() map[string]any {
	return map[string]any{
		"max_automation_chain_depth": 5,
		"mcp_memory_limit_mb":        512,
		"mcp_timeout_seconds":        30,
		"max_file_size_mb":           10,
		"allowed_file_types":         []string{"csv", "json", "parquet", "txt"},
	}
}

// mergeConstraints overlays caller-supplied constraints onto the tenant
// defaults; a key present in both wins for the caller (spec §4.6: "Caller
// constraints override defaults on collision").
func mergeConstraints(caller map[string]any) map[string]any {
	out := tenantConstraintDefaults()
	for k, v := range caller {
		out[k] = v
	}
	return out
}

// Usage tracks per-key request counters, refreshed on every Validate call
// (spec §4.6 step 7).
type Usage struct {
	RequestsCount int        `json:"requests_count"`
	ErrorsCount   int        `json:"errors_count"`
	RateLimitHits int        `json:"rate_limit_hits"`
	LastUsed      *time.Time `json:"last_used,omitempty"`
}

// Key is the persisted API key record. RawKey is never stored — only
// KeyHash, the SHA-256 hex digest of the raw key.
type Key struct {
	ID               string         `json:"id"`
	Name             string         `json:"name"`
	OwnerID          string         `json:"owner_id"`
	TenantSeg        string         `json:"tenant_segment"`
	KeyHash          string         `json:"key_hash"`
	Scope            Scope          `json:"scope"`
	Capabilities     []string       `json:"capabilities"`
	Constraints      map[string]any `json:"constraints"`
	RateLimits       RateLimits     `json:"rate_limits"`
	AllowedEndpoints []string       `json:"allowed_endpoints,omitempty"`
	BlockedEndpoints []string       `json:"blocked_endpoints,omitempty"`
	AllowedIPs       []string       `json:"allowed_ips,omitempty"`
	Status           Status         `json:"status"`
	ExpiresAt        *time.Time     `json:"expires_at,omitempty"`
	LastRotated      time.Time      `json:"last_rotated"`
	CreatedAt        time.Time      `json:"created_at"`
	Usage            Usage          `json:"usage"`
}

// OwnedBy reports whether userID owns this key (rotate/revoke are
// owner-only, spec §4.6).
func (k *Key) OwnedBy(userID string) bool {
	return k.OwnerID == userID
}

// generateRawKey builds the "gt2_<tenant>_<32 random bytes, URL-safe>"
// format spec §4.6 specifies, and returns its SHA-256 hex hash alongside.
func generateRawKey(tenantSegment string) (raw, hash string, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("generating random key material: %w", err)
	}
	raw = "gt2_" + tenantSegment + "_" + base64.RawURLEncoding.EncodeToString(b)
	h := sha256.Sum256([]byte(raw))
	hash = hex.EncodeToString(h[:])
	return raw, hash, nil
}

// rawKeyRandomLen is the fixed length of generateRawKey's random suffix:
// base64.RawURLEncoding of 32 bytes, which always encodes to 43 characters.
// The URL-safe alphabet includes '_', so the tenant segment can't be
// recovered by splitting on "_" alone; only the suffix length is fixed.
const rawKeyRandomLen = 43

// TenantFromRawKey recovers the tenant segment a raw key ("gt2_<tenant>_<43
// char random suffix>") was generated for, so the edge can resolve which
// tenant root to validate it against before any key lookup happens.
func TenantFromRawKey(raw string) (string, bool) {
	const prefix = "gt2_"
	if !strings.HasPrefix(raw, prefix) {
		return "", false
	}
	body := strings.TrimPrefix(raw, prefix)
	if len(body) <= rawKeyRandomLen+1 {
		return "", false
	}
	cut := len(body) - rawKeyRandomLen - 1 // trailing "_" before the random suffix
	if body[cut] != '_' {
		return "", false
	}
	tenant := body[:cut]
	if tenant == "" {
		return "", false
	}
	return tenant, true
}

// capabilityConstraintsFor extracts the sub-map tenant_constraints[capability]
// from cons, or an empty map if absent (spec §4.6 "Generate capability token").
func capabilityConstraintsFor(cons map[string]any, capability string) map[string]any {
	v, ok := cons[capability]
	if !ok {
		return map[string]any{}
	}
	m, ok := v.(map[string]any)
	if !ok {
		return map[string]any{}
	}
	return m
}
