package mcpserver

import "testing"

func TestValidateFilesystemParamsRejectsTraversal(t *testing.T) {
	err := validateFilesystemParams(map[string]any{"path": "../secrets.txt"})
	if err == nil {
		t.Fatal("expected rejection of a path containing \"..\"")
	}
}

func TestValidateFilesystemParamsRejectsAbsolutePath(t *testing.T) {
	err := validateFilesystemParams(map[string]any{"path": "/etc/passwd"})
	if err == nil {
		t.Fatal("expected rejection of an absolute path")
	}
}

func TestValidateFilesystemParamsRejectsDisallowedExtension(t *testing.T) {
	err := validateFilesystemParams(map[string]any{"path": "binary.exe"})
	if err == nil {
		t.Fatal("expected rejection of a disallowed extension")
	}
}

func TestValidateFilesystemParamsAcceptsAllowedExtension(t *testing.T) {
	if err := validateFilesystemParams(map[string]any{"path": "notes/readme.md"}); err != nil {
		t.Fatalf("validateFilesystemParams: %v", err)
	}
}

func TestValidateWebParamsRejectsNonHTTPScheme(t *testing.T) {
	err := validateWebParams(map[string]any{"url": "file:///etc/passwd"}, false)
	if err == nil {
		t.Fatal("expected rejection of a non-http(s) scheme")
	}
}

func TestValidateWebParamsBlocksLoopbackUnderIsolation(t *testing.T) {
	err := validateWebParams(map[string]any{"url": "http://127.0.0.1:8080/admin"}, true)
	if err == nil {
		t.Fatal("expected rejection of a loopback host under network_isolation")
	}
}

func TestValidateWebParamsBlocksPrivateRangeUnderIsolation(t *testing.T) {
	err := validateWebParams(map[string]any{"url": "http://10.0.0.5/internal"}, true)
	if err == nil {
		t.Fatal("expected rejection of a private-range host under network_isolation")
	}
}

func TestValidateWebParamsAllowsPrivateRangeWithoutIsolation(t *testing.T) {
	if err := validateWebParams(map[string]any{"url": "http://10.0.0.5/internal"}, false); err != nil {
		t.Fatalf("validateWebParams: %v", err)
	}
}

func TestValidateWebParamsAllowsPublicHost(t *testing.T) {
	if err := validateWebParams(map[string]any{"url": "https://api.example.com/v1/data"}, true); err != nil {
		t.Fatalf("validateWebParams: %v", err)
	}
}

func TestValidateDatabaseParamsRejectsBlockedKeyword(t *testing.T) {
	err := validateDatabaseParams(map[string]any{"query": "SELECT * FROM users; DROP TABLE users;"})
	if err == nil {
		t.Fatal("expected rejection of a query containing a blocked keyword")
	}
}

func TestValidateDatabaseParamsRejectsBlockedKeywordCaseInsensitive(t *testing.T) {
	err := validateDatabaseParams(map[string]any{"query": "delete from users"})
	if err == nil {
		t.Fatal("expected case-insensitive rejection")
	}
}

func TestValidateDatabaseParamsAllowsReadOnlyQuery(t *testing.T) {
	if err := validateDatabaseParams(map[string]any{"query": "SELECT id, name FROM users WHERE active = true"}); err != nil {
		t.Fatalf("validateDatabaseParams: %v", err)
	}
}

func TestIsBlockedHost(t *testing.T) {
	cases := map[string]bool{
		"localhost":   true,
		"127.0.0.1":   true,
		"10.1.2.3":    true,
		"192.168.1.1": true,
		"169.254.1.1": true,
		"8.8.8.8":     false,
		"example.com": false,
	}
	for host, want := range cases {
		if got := isBlockedHost(host); got != want {
			t.Errorf("isBlockedHost(%q) = %v, want %v", host, got, want)
		}
	}
}
