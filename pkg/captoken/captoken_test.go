package captoken

import (
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

func TestMintVerifyRoundTrip(t *testing.T) {
	c := NewCodec("test-master-key-not-for-production")

	caps := []Capability{{Resource: "dataset:*", Actions: []string{"*"}}}
	cons := map[string]any{"max_automation_chain_depth": float64(3)}

	raw, err := c.Mint("alice@acme.io", "acme_io", caps, cons, time.Minute)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	data, err := c.Verify(raw, "acme_io")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}

	if data.Subject != "alice@acme.io" {
		t.Errorf("Subject = %q, want alice@acme.io", data.Subject)
	}
	if data.TenantID != "acme_io" {
		t.Errorf("TenantID = %q, want acme_io", data.TenantID)
	}
	if len(data.Capabilities) != 1 || data.Capabilities[0].Resource != "dataset:*" {
		t.Errorf("Capabilities = %+v, want one dataset:* capability", data.Capabilities)
	}
	if data.MaxChainDepth() != 3 {
		t.Errorf("MaxChainDepth() = %d, want 3", data.MaxChainDepth())
	}
}

func TestVerifyRejectsCrossTenantKey(t *testing.T) {
	c := NewCodec("test-master-key-not-for-production")

	raw, err := c.Mint("alice@acme.io", "acme_io", nil, nil, time.Minute)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	if _, err := c.Verify(raw, "globex_com"); err == nil {
		t.Fatal("Verify with wrong tenant key should fail")
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	c := NewCodec("test-master-key-not-for-production")

	// Mint replaces a ttl<=0 with DefaultTTL, so the expired token is signed
	// directly with the tenant key, expiring well outside clockSkew.
	key, err := c.tenantKey("acme_io")
	if err != nil {
		t.Fatalf("tenantKey: %v", err)
	}
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.HS256, Key: key}, (&jose.SignerOptions{}).WithType("JWT"))
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	past := time.Now().UTC().Add(-time.Hour)
	raw, err := jwt.Signed(signer).Claims(jwt.Claims{
		Subject: "alice@acme.io", Issuer: "capfabric",
		IssuedAt: jwt.NewNumericDate(past.Add(-time.Hour)), Expiry: jwt.NewNumericDate(past),
	}).Claims(Claims{Subject: "alice@acme.io", TenantID: "acme_io"}).Serialize()
	if err != nil {
		t.Fatalf("signing expired token: %v", err)
	}

	if _, err := c.Verify(raw, "acme_io"); err == nil {
		t.Fatal("Verify with expired token should fail")
	}
}

func TestHasCapabilityWildcard(t *testing.T) {
	tests := []struct {
		granted, required string
		want               bool
	}{
		{"x:*", "x:y:z", true},
		{"x:y", "x:yz", false},
		{"x:y", "x:y", true},
		{"mcp:rag:*", "mcp:rag:search_datasets", true},
		{"mcp:rag:search_datasets", "mcp:rag:other", false},
	}

	for _, tt := range tests {
		caps := []Capability{{Resource: tt.granted}}
		got := HasCapability(caps, tt.required)
		if got != tt.want {
			t.Errorf("HasCapability(%q, %q) = %v, want %v", tt.granted, tt.required, got, tt.want)
		}
	}
}

func TestDefaultTTLApplied(t *testing.T) {
	c := NewCodec("test-master-key-not-for-production")
	raw, err := c.Mint("bob@acme.io", "acme_io", nil, nil, 0)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	data, err := c.Verify(raw, "acme_io")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	got := data.Expiry.Sub(data.IssuedAt)
	if got < DefaultTTL-time.Second || got > DefaultTTL+time.Second {
		t.Errorf("ttl = %v, want ~%v", got, DefaultTTL)
	}
}
