package apikey

import "testing"

func TestTenantFromRawKeyRecoversSegment(t *testing.T) {
	raw, _, err := generateRawKey("acme_io")
	if err != nil {
		t.Fatalf("generateRawKey: %v", err)
	}
	tenant, ok := TenantFromRawKey(raw)
	if !ok {
		t.Fatalf("TenantFromRawKey(%q) ok = false", raw)
	}
	if tenant != "acme_io" {
		t.Errorf("tenant = %q, want acme_io", tenant)
	}
}

func TestTenantFromRawKeyRecoversSegmentWithUnderscoreInSuffix(t *testing.T) {
	// The random suffix's alphabet includes '_', so the segment recovered
	// must come from fixed-length slicing, not from splitting on "_".
	for i := 0; i < 50; i++ {
		raw, _, err := generateRawKey("sub_tenant_example_com")
		if err != nil {
			t.Fatalf("generateRawKey: %v", err)
		}
		tenant, ok := TenantFromRawKey(raw)
		if !ok {
			t.Fatalf("TenantFromRawKey(%q) ok = false", raw)
		}
		if tenant != "sub_tenant_example_com" {
			t.Fatalf("tenant = %q, want sub_tenant_example_com (raw=%q)", tenant, raw)
		}
	}
}

func TestTenantFromRawKeyRejectsMalformedInput(t *testing.T) {
	for _, raw := range []string{"", "not-a-key", "gt2_", "gt2_tooshort"} {
		if _, ok := TenantFromRawKey(raw); ok {
			t.Errorf("TenantFromRawKey(%q) ok = true, want false", raw)
		}
	}
}
