// Package captoken implements C2: minting, parsing, and verifying the
// capability tokens that every other component treats as opaque (spec
// §4.2). Tokens are compact HS256 JWS envelopes, the same mechanism
// nightowl's internal/auth.SessionManager uses for its self-issued session
// JWTs (github.com/go-jose/go-jose/v4), generalized from a fixed session
// secret to a per-tenant key derived via HKDF from one fallback master key
// (spec §4.2: "key = 'signing_key_for_' + tenant or tenant-provisioned").
package captoken

import (
	"crypto/sha256"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"golang.org/x/crypto/hkdf"

	"github.com/gt-edge-ai/capfabric/internal/fabricerr"
)

// clockSkew is the tolerance spec §6 allows on iat/exp comparisons.
const clockSkew = 60 * time.Second

// DefaultTTL is the mint default when ttl <= 0 is passed (spec §4.2).
const DefaultTTL = time.Hour

// Capability is one entry of a token's capability set: a resource pattern,
// the actions it grants (spec keeps a flat list; "*" is the common case),
// and structural constraints scoped to that capability.
type Capability struct {
	Resource    string         `json:"resource"`
	Actions     []string       `json:"actions"`
	Constraints map[string]any `json:"constraints,omitempty"`
}

// Claims are the custom (non-registered) fields carried in the token body.
type Claims struct {
	Subject      string         `json:"sub"`
	TenantID     string         `json:"tenant_id"`
	APIKeyID     string         `json:"api_key_id,omitempty"`
	Scope        string         `json:"scope,omitempty"`
	Capabilities []Capability   `json:"capabilities"`
	Constraints  map[string]any `json:"constraints,omitempty"`
	RateLimits   map[string]any `json:"rate_limits,omitempty"`
}

// TokenData is a verified token's full contents, registered claims included.
type TokenData struct {
	Claims
	IssuedAt time.Time
	Expiry   time.Time
}

// Codec mints and verifies tokens. One Codec is shared process-wide; it
// derives a distinct signing key per tenant from masterKey so that a leaked
// tenant key cannot forge tokens for a sibling tenant.
type Codec struct {
	masterKey []byte
}

// NewCodec creates a Codec. masterKey is the SIGNING_KEY fallback (spec §6);
// if empty, a random key is not substituted here — callers in dev mode
// should generate and set one, since an empty key degrades every tenant's
// derived key to the same HKDF output of zero input, which is safe only
// because HKDF still keys on the tenant-specific salt, but is not
// recommended for anything beyond local development.
func NewCodec(masterKey string) *Codec {
	return &Codec{masterKey: []byte(masterKey)}
}

// tenantKey derives a 32-byte HMAC key scoped to tenant via HKDF-SHA256,
// using the sanitized tenant segment as salt and a fixed info string so the
// derivation is stable and reproducible across process restarts.
func (c *Codec) tenantKey(tenantSegment string) ([]byte, error) {
	r := hkdf.New(sha256.New, c.masterKey, []byte(tenantSegment), []byte("capfabric/captoken/v1"))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("deriving tenant signing key: %w", err)
	}
	return key, nil
}

// Mint produces a compact signed envelope for subject/tenant carrying
// capabilities and constraints, expiring after ttl (DefaultTTL if ttl<=0).
// tenantSegment must already be the sanitized tenantpath segment.
func (c *Codec) Mint(subject, tenantSegment string, capabilities []Capability, constraints map[string]any, ttl time.Duration) (string, error) {
	return c.MintFull(subject, tenantSegment, capabilities, constraints, nil, ttl)
}

// MintFull is Mint plus an explicit rate-limit claim block, used when the
// issuer (C6) wants the token to carry its key's rate limits (spec §4.6:
// "Scope, rate limits, and constraints are carried into the token").
func (c *Codec) MintFull(subject, tenantSegment string, capabilities []Capability, constraints, rateLimits map[string]any, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	key, err := c.tenantKey(tenantSegment)
	if err != nil {
		return "", err
	}

	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.HS256, Key: key},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return "", fmt.Errorf("creating signer: %w", err)
	}

	now := time.Now().UTC()
	registered := jwt.Claims{
		Subject:  subject,
		IssuedAt: jwt.NewNumericDate(now),
		Expiry:   jwt.NewNumericDate(now.Add(ttl)),
		Issuer:   "capfabric",
	}
	custom := Claims{
		Subject:      subject,
		TenantID:     tenantSegment,
		Capabilities: capabilities,
		Constraints:  constraints,
		RateLimits:   rateLimits,
	}

	token, err := jwt.Signed(signer).Claims(registered).Claims(custom).Serialize()
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return token, nil
}

// Verify validates signature and expiry (with clockSkew leeway) and returns
// the parsed token data. tenantSegment is the tenant the caller expects the
// token to belong to — the codec must know which tenant key to verify
// against since capability tokens carry no key identifier.
func (c *Codec) Verify(raw, tenantSegment string) (*TokenData, error) {
	tok, err := jwt.ParseSigned(raw, []jose.SignatureAlgorithm{jose.HS256})
	if err != nil {
		return nil, fabricerr.Wrap(fabricerr.InvalidToken, "parsing token", err)
	}

	key, err := c.tenantKey(tenantSegment)
	if err != nil {
		return nil, fabricerr.Wrap(fabricerr.InvalidToken, "deriving tenant key", err)
	}

	var registered jwt.Claims
	var custom Claims
	if err := tok.Claims(key, &registered, &custom); err != nil {
		return nil, fabricerr.Wrap(fabricerr.InvalidToken, "verifying signature", err)
	}

	if err := registered.ValidateWithLeeway(jwt.Expected{
		Issuer: "capfabric",
		Time:   time.Now().UTC(),
	}, clockSkew); err != nil {
		return nil, fabricerr.Wrap(fabricerr.InvalidToken, "token expired or not yet valid", err)
	}

	return &TokenData{
		Claims:   custom,
		IssuedAt: registered.IssuedAt.Time(),
		Expiry:   registered.Expiry.Time(),
	}, nil
}

// HasCapability reports whether required (formatted "res", "res:act", or
// "res:act:sub") is granted by any capability in the token, per spec §4.2's
// wildcard rule: exact match, or a capability resource ending in "*" whose
// non-"*" prefix matches the start of required.
func HasCapability(capabilities []Capability, required string) bool {
	for _, cap := range capabilities {
		if matchCapability(cap.Resource, required) {
			return true
		}
	}
	return false
}

// matchCapability implements the single wildcard rule spec §4.2 defines.
func matchCapability(granted, required string) bool {
	if granted == required {
		return true
	}
	if strings.HasSuffix(granted, "*") {
		prefix := strings.TrimSuffix(granted, "*")
		return strings.HasPrefix(required, prefix)
	}
	return false
}

// --- typed constraint accessors (spec §4.8/§4.9 defaults) ---

func intConstraint(m map[string]any, key string, def int) int {
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

// MaxChainDepth returns the token's max_automation_chain_depth constraint,
// defaulting to 5 (spec §4.8).
func (t *TokenData) MaxChainDepth() int {
	return intConstraint(t.Constraints, "max_automation_chain_depth", 5)
}

// AutomationTimeoutSeconds returns the automation_timeout_seconds
// constraint, defaulting to 300 (spec §4.8).
func (t *TokenData) AutomationTimeoutSeconds() int {
	return intConstraint(t.Constraints, "automation_timeout_seconds", 300)
}

// MaxLoopIterations returns the max_loop_iterations constraint, defaulting
// to 100 (spec §4.8).
func (t *TokenData) MaxLoopIterations() int {
	return intConstraint(t.Constraints, "max_loop_iterations", 100)
}

// IntegrationTimeoutSeconds returns the integration_timeout_seconds
// constraint, defaulting to 0 (meaning "no additional tightening" — spec
// §4.9 says this constraint only ever tightens the sandbox-level cap).
func (t *TokenData) IntegrationTimeoutSeconds() int {
	return intConstraint(t.Constraints, "integration_timeout_seconds", 0)
}
