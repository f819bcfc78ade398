package apikey

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gt-edge-ai/capfabric/internal/fabricerr"
	"github.com/gt-edge-ai/capfabric/internal/store"
	"github.com/gt-edge-ai/capfabric/pkg/captoken"
	"github.com/gt-edge-ai/capfabric/pkg/ratelimit"
	"github.com/gt-edge-ai/capfabric/pkg/tenantpath"
)

// windowsFor turns a key's RateLimits into the hourly+daily sliding windows
// its dedicated ratelimit.Limiter should enforce.
func windowsFor(rl RateLimits) []ratelimit.Window {
	return []ratelimit.Window{
		{Limit: rl.PerHour, Period: time.Hour},
		{Limit: rl.PerDay, Period: 24 * time.Hour},
	}
}

// Service implements the C6 API-key lifecycle.
type Service struct {
	keys   *store.JSONStore[Key]
	usage  *store.AsyncAppender
	logger *slog.Logger

	limitsMu sync.Mutex
	limits   map[string]*ratelimit.Limiter
}

// NewService wires a Service from its storage primitives. usage is the
// best-effort async appender backing daily usage/audit logs (spec §4.6 step
// 7: "persist (best-effort), append daily usage record").
func NewService(locks *store.PathLocks, usage *store.AsyncAppender, logger *slog.Logger) *Service {
	return &Service{
		keys:   store.NewJSONStore[Key](locks),
		usage:  usage,
		limits: make(map[string]*ratelimit.Limiter),
		logger: logger,
	}
}

// CreateParams is the input to Create (spec §4.6).
type CreateParams struct {
	Name           string
	OwnerID        string
	Capabilities   []string
	Scope          Scope
	ExpiresInDays  int
	Constraints    map[string]any
	AllowedEndpoints []string
	BlockedEndpoints []string
	AllowedIPs       []string
}

// Create generates a key, stores only its hash, and returns the raw key
// exactly once (spec §4.6 "Create").
func (s *Service) Create(root tenantpath.Root, p CreateParams) (rawKey string, created Key, err error) {
	raw, hash, err := generateRawKey(root.Segment())
	if err != nil {
		return "", Key{}, fabricerr.Wrap(fabricerr.IntegrityError, "generating api key", err)
	}

	now := time.Now().UTC()
	var expiresAt *time.Time
	if p.ExpiresInDays > 0 {
		t := now.AddDate(0, 0, p.ExpiresInDays)
		expiresAt = &t
	}

	k := Key{
		ID:               uuid.NewString(),
		Name:             p.Name,
		OwnerID:          p.OwnerID,
		TenantSeg:        root.Segment(),
		KeyHash:          hash,
		Scope:            p.Scope,
		Capabilities:     p.Capabilities,
		Constraints:      mergeConstraints(p.Constraints),
		RateLimits:       scopeDefaults(p.Scope),
		AllowedEndpoints: p.AllowedEndpoints,
		BlockedEndpoints: p.BlockedEndpoints,
		AllowedIPs:       p.AllowedIPs,
		Status:           StatusActive,
		ExpiresAt:        expiresAt,
		LastRotated:      now,
		CreatedAt:        now,
	}

	if err := s.keys.Write(root.APIKeyFile(k.ID), k); err != nil {
		return "", Key{}, err
	}
	return raw, k, nil
}

// Get reads a key by ID (hash never exposed to callers beyond Key.KeyHash).
func (s *Service) Get(root tenantpath.Root, id string) (Key, error) {
	return s.keys.Read(root.APIKeyFile(id))
}

// findByHash scans the tenant's key directory for a record whose hash
// matches. File-based storage has no secondary index, so validation pays a
// directory scan; tenant key counts are expected to stay in the hundreds,
// not millions, which is the scale spec §1 targets.
func (s *Service) findByHash(root tenantpath.Root, hash string) (Key, bool) {
	all, err := store.ListDir[Key](root.APIKeyDir())
	if err != nil {
		return Key{}, false
	}
	for _, k := range all {
		if k.KeyHash == hash {
			return k, true
		}
	}
	return Key{}, false
}

// RateLimitRemaining reports how many requests k may still make in the
// current rolling-hour window, for the validate-api-key edge response
// (spec §6: "rate_limit_remaining?").
func (s *Service) RateLimitRemaining(k Key) int {
	return s.limiterFor(k).Remaining(k.ID)
}

func (s *Service) limiterFor(k Key) *ratelimit.Limiter {
	s.limitsMu.Lock()
	defer s.limitsMu.Unlock()
	l, ok := s.limits[k.ID]
	if !ok {
		l = ratelimit.New(windowsFor(k.RateLimits)...)
		s.limits[k.ID] = l
	}
	return l
}

// usageDate formats now per tenantpath's "YYYY-MM-DD" daily log convention.
func usageDate(now time.Time) string { return now.UTC().Format("2006-01-02") }

// Validate implements spec §4.6's "Validate" pipeline: hash lookup, status,
// expiry, endpoint/IP allow-blocklists, rate limit, then usage bookkeeping.
func (s *Service) Validate(root tenantpath.Root, rawKey, endpoint, clientIP string) (Key, error) {
	sum := sha256.Sum256([]byte(rawKey))
	hash := hex.EncodeToString(sum[:])
	k, ok := s.findByHash(root, hash)
	if !ok {
		return Key{}, fabricerr.New(fabricerr.InvalidToken, "Invalid API key")
	}

	now := time.Now().UTC()

	if k.Status != StatusActive {
		return Key{}, fabricerr.New(fabricerr.InvalidToken, string(k.Status))
	}

	if k.ExpiresAt != nil && now.After(*k.ExpiresAt) {
		k.Status = StatusExpired
		_ = s.keys.Write(root.APIKeyFile(k.ID), k)
		return Key{}, fabricerr.New(fabricerr.InvalidToken, "expired")
	}

	if len(k.AllowedEndpoints) > 0 && !contains(k.AllowedEndpoints, endpoint) {
		return Key{}, fabricerr.New(fabricerr.PermissionDenied, "endpoint not allowed")
	}
	if contains(k.BlockedEndpoints, endpoint) {
		return Key{}, fabricerr.New(fabricerr.PermissionDenied, "endpoint blocked")
	}
	if len(k.AllowedIPs) > 0 && !contains(k.AllowedIPs, clientIP) {
		return Key{}, fabricerr.New(fabricerr.PermissionDenied, "ip not allowed")
	}

	if !s.limiterFor(k).AllowAt(k.ID, now) {
		k.Usage.RateLimitHits++
		_ = s.keys.Write(root.APIKeyFile(k.ID), k)
		return Key{}, fabricerr.New(fabricerr.RateLimited, "rate limit exceeded")
	}

	k.Usage.RequestsCount++
	k.Usage.LastUsed = &now
	_ = s.keys.Write(root.APIKeyFile(k.ID), k)

	if s.usage != nil {
		s.usage.Enqueue(root.APIKeyUsageLogFile(usageDate(now)), map[string]any{
			"key_id":    k.ID,
			"endpoint":  endpoint,
			"client_ip": clientIP,
			"at":        now,
		})
	}

	return k, nil
}

// GenerateCapabilityToken builds a capability token for k, per spec §4.6:
// one Capability per capability string with actions=["*"] and constraints
// drawn from k.Constraints[capability] (falling back to {}).
func (s *Service) GenerateCapabilityToken(codec *captoken.Codec, k Key, subject string, ttl time.Duration) (string, error) {
	caps := make([]captoken.Capability, 0, len(k.Capabilities))
	for _, c := range k.Capabilities {
		caps = append(caps, captoken.Capability{
			Resource:    c,
			Actions:     []string{"*"},
			Constraints: capabilityConstraintsFor(k.Constraints, c),
		})
	}

	constraints := map[string]any{}
	for key, v := range k.Constraints {
		constraints[key] = v
	}
	rateLimits := map[string]any{
		"per_hour":      k.RateLimits.PerHour,
		"per_day":       k.RateLimits.PerDay,
		"quota_credits": k.RateLimits.QuotaCredits,
	}

	return codec.MintFull(subject, k.TenantSeg, caps, constraints, rateLimits, ttl)
}

// Rotate regenerates the raw key for id, owner-gated, invalidating the old
// raw key immediately (spec §4.6 "Rotate").
func (s *Service) Rotate(root tenantpath.Root, id, requesterID string) (rawKey string, rotated Key, err error) {
	path := root.APIKeyFile(id)
	var raw string
	updErr := s.keys.Update(path, func(current Key, existed bool) (Key, error) {
		if !existed {
			return Key{}, fabricerr.New(fabricerr.NotFound, "api key not found")
		}
		if !current.OwnedBy(requesterID) {
			return Key{}, fabricerr.New(fabricerr.PermissionDenied, "only the owner may rotate this key")
		}
		newRaw, hash, err := generateRawKey(current.TenantSeg)
		if err != nil {
			return Key{}, fabricerr.Wrap(fabricerr.IntegrityError, "generating api key", err)
		}
		raw = newRaw
		current.KeyHash = hash
		current.LastRotated = time.Now().UTC()
		rotated = current
		return current, nil
	})
	if updErr != nil {
		return "", Key{}, updErr
	}
	return raw, rotated, nil
}

// Revoke sets a key's status to Revoked, owner-gated (spec §4.6 "Revoke").
func (s *Service) Revoke(root tenantpath.Root, id, requesterID string) error {
	return s.keys.Update(root.APIKeyFile(id), func(current Key, existed bool) (Key, error) {
		if !existed {
			return Key{}, fabricerr.New(fabricerr.NotFound, "api key not found")
		}
		if !current.OwnedBy(requesterID) {
			return Key{}, fabricerr.New(fabricerr.PermissionDenied, "only the owner may revoke this key")
		}
		current.Status = StatusRevoked
		return current, nil
	})
}

// List returns ownerID's keys in root, newest first (spec's original
// enhanced_api_keys.py "list_user_api_keys": filter by owner, sort by
// created_at descending).
func (s *Service) List(root tenantpath.Root, ownerID string) ([]Key, error) {
	all, err := store.ListDir[Key](root.APIKeyDir())
	if err != nil {
		return nil, err
	}

	owned := make([]Key, 0, len(all))
	for _, k := range all {
		if k.OwnerID == ownerID {
			owned = append(owned, k)
		}
	}
	sort.Slice(owned, func(i, j int) bool {
		return owned[i].CreatedAt.After(owned[j].CreatedAt)
	})
	return owned, nil
}

// UsageAnalytics aggregates request/error/rate-limit counters across
// ownerID's keys (or a single key, if keyID is non-empty), over a window of
// days (used only to compute the average-per-day rate; usage history itself
// is not time-sliced since Usage holds lifetime counters, not a time series).
type UsageAnalytics struct {
	TotalRequests     int       `json:"total_requests"`
	TotalErrors       int       `json:"total_errors"`
	AvgRequestsPerDay float64   `json:"avg_requests_per_day"`
	RateLimitHits     int       `json:"rate_limit_hits"`
	KeysAnalyzed      int       `json:"keys_analyzed"`
	RangeStart        time.Time `json:"range_start"`
	RangeEnd          time.Time `json:"range_end"`
}

// UsageAnalytics implements the original's "get_usage_analytics": sum
// Usage counters across ownerID's keys, optionally narrowed to keyID.
func (s *Service) UsageAnalytics(root tenantpath.Root, ownerID, keyID string, days int) (UsageAnalytics, error) {
	keys, err := s.List(root, ownerID)
	if err != nil {
		return UsageAnalytics{}, err
	}
	if keyID != "" {
		filtered := keys[:0:0]
		for _, k := range keys {
			if k.ID == keyID {
				filtered = append(filtered, k)
			}
		}
		keys = filtered
	}

	now := time.Now().UTC()
	a := UsageAnalytics{
		KeysAnalyzed: len(keys),
		RangeStart:   now.AddDate(0, 0, -days),
		RangeEnd:     now,
	}
	for _, k := range keys {
		a.TotalRequests += k.Usage.RequestsCount
		a.TotalErrors += k.Usage.ErrorsCount
		a.RateLimitHits += k.Usage.RateLimitHits
	}
	if days > 0 {
		a.AvgRequestsPerDay = float64(a.TotalRequests) / float64(days)
	}
	return a, nil
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
