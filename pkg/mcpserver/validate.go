package mcpserver

import (
	"net"
	"net/url"
	"path"
	"strings"

	"github.com/gt-edge-ai/capfabric/internal/fabricerr"
)

// blockedSQLKeywords is spec §4.10 step 5's database parameter deny-list,
// matched case-insensitively against any string parameter value.
var blockedSQLKeywords = []string{
	"DROP", "DELETE", "UPDATE", "INSERT", "CREATE", "ALTER", "TRUNCATE",
	"EXEC", "EXECUTE", "XP_", "SP_",
}

// allowedFilesystemExtensions is the filesystem adapter's extension
// allowlist. Spec §4.10 names "extension in an allowlist" without fixing
// the list; this is a conservative default for the tool types the registry
// is expected to expose (read/write of text artifacts, not binaries).
var allowedFilesystemExtensions = []string{".txt", ".md", ".json", ".yaml", ".yml", ".csv", ".log"}

// validateParams implements spec §4.10 step 5's per-server-type parameter
// validation, run after the tool-name and capability checks but before
// dispatch.
func validateParams(serverType string, params map[string]any, networkIsolation bool) error {
	switch serverType {
	case "filesystem":
		return validateFilesystemParams(params)
	case "web":
		return validateWebParams(params, networkIsolation)
	case "database":
		return validateDatabaseParams(params)
	default:
		return nil
	}
}

func validateFilesystemParams(params map[string]any) error {
	p, _ := params["path"].(string)
	if p == "" {
		return fabricerr.New(fabricerr.InvalidInput, "filesystem tool call requires a path parameter")
	}
	if path.IsAbs(p) || strings.Contains(p, "..") {
		return fabricerr.New(fabricerr.SandboxViolation, "path must be relative and free of \"..\"")
	}
	ext := path.Ext(p)
	if ext == "" || !containsFold(allowedFilesystemExtensions, ext) {
		return fabricerr.New(fabricerr.SandboxViolation, "file extension not permitted: "+ext)
	}
	return nil
}

func validateWebParams(params map[string]any, networkIsolation bool) error {
	raw, _ := params["url"].(string)
	if raw == "" {
		return fabricerr.New(fabricerr.InvalidInput, "web tool call requires a url parameter")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fabricerr.Wrap(fabricerr.InvalidInput, "parsing url parameter", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fabricerr.New(fabricerr.SandboxViolation, "url scheme must be http or https")
	}
	if networkIsolation && isBlockedHost(u.Hostname()) {
		return fabricerr.New(fabricerr.SandboxViolation, "url host is blocked under network_isolation: "+u.Hostname())
	}
	return nil
}

// isBlockedHost reports whether host is localhost or a loopback, private
// (RFC1918 and similar) or link-local IP address, blocked when the server's
// sandbox sets network_isolation.
func isBlockedHost(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() {
		return true
	}
	return false
}

func validateDatabaseParams(params map[string]any) error {
	for _, v := range params {
		s, ok := v.(string)
		if !ok {
			continue
		}
		upper := strings.ToUpper(s)
		for _, kw := range blockedSQLKeywords {
			if strings.Contains(upper, kw) {
				return fabricerr.New(fabricerr.SandboxViolation, "parameter contains blocked SQL keyword: "+kw)
			}
		}
	}
	return nil
}

func containsFold(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}
