// Package tenantpath is the sole chokepoint (spec §4.1, C1) that turns a
// tenant_domain into a filesystem-safe segment and builds every per-tenant
// path in the system. No other package may construct a tenant-rooted path
// directly — this mirrors nightowl's pkg/tenant.SchemaName, generalized
// from a Postgres schema name to a directory tree root.
package tenantpath

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gt-edge-ai/capfabric/internal/fabricerr"
)

// Sanitize lowercases tenant, replaces '.' and '-' with '_', and rejects any
// character outside [a-z0-9_]. It is the only legal way to turn a
// tenant_domain into a filesystem segment.
func Sanitize(tenant string) (string, error) {
	if tenant == "" {
		return "", fabricerr.New(fabricerr.InvalidTenant, "tenant domain is empty")
	}
	lower := strings.ToLower(tenant)
	replaced := strings.NewReplacer(".", "_", "-", "_").Replace(lower)
	for _, r := range replaced {
		if !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_') {
			return "", fabricerr.New(fabricerr.InvalidTenant, fmt.Sprintf("tenant domain %q contains invalid character %q", tenant, r))
		}
	}
	return replaced, nil
}

// Root holds a validated, rooted per-tenant directory tree.
type Root struct {
	dataRoot string
	segment  string
}

// RootFor sanitizes tenant and returns its Root under dataRoot.
func RootFor(dataRoot, tenant string) (Root, error) {
	seg, err := Sanitize(tenant)
	if err != nil {
		return Root{}, err
	}
	return Root{dataRoot: dataRoot, segment: seg}, nil
}

// Dir returns the tenant's root directory.
func (r Root) Dir() string { return filepath.Join(r.dataRoot, r.segment) }

// Segment returns the sanitized tenant segment (no directory prefix).
func (r Root) Segment() string { return r.segment }

func (r Root) join(parts ...string) string {
	return filepath.Join(append([]string{r.Dir()}, parts...)...)
}

// ResourceFile returns the path of a resource record.
func (r Root) ResourceFile(resourceID string) string {
	return r.join("resources", resourceID+".json")
}

// ResourceDir returns the directory holding all resource records.
func (r Root) ResourceDir() string { return r.join("resources") }

// ShareFile returns the path of a resource's sharing record.
func (r Root) ShareFile(resourceID string) string {
	return r.join("shares", resourceID+".json")
}

// ShareDir returns the directory holding all sharing records.
func (r Root) ShareDir() string { return r.join("shares") }

// APIKeyFile returns the path of an API key record.
func (r Root) APIKeyFile(keyID string) string {
	return r.join("api_keys", keyID+".json")
}

// APIKeyDir returns the directory holding all API key records.
func (r Root) APIKeyDir() string { return r.join("api_keys") }

// APIKeyUsageLogFile returns the path of the daily API key usage log.
func (r Root) APIKeyUsageLogFile(date string) string {
	return r.join("api_keys", "usage", fmt.Sprintf("usage_%s.jsonl", date))
}

// APIKeyAuditLogFile returns the path of the daily API key audit log.
func (r Root) APIKeyAuditLogFile(date string) string {
	return r.join("api_keys", "audit", fmt.Sprintf("audit_%s.jsonl", date))
}

// AutomationFile returns the path of an automation definition.
func (r Root) AutomationFile(automationID string) string {
	return r.join("automations", automationID+".json")
}

// AutomationDir returns the directory holding all automation definitions.
func (r Root) AutomationDir() string { return r.join("automations") }

// ExecutionFile returns the path of one automation execution record.
func (r Root) ExecutionFile(automationID, ts string) string {
	return r.join("automations", "executions", fmt.Sprintf("%s_%s.json", automationID, ts))
}

// ExecutionDir returns the directory holding automation execution records.
func (r Root) ExecutionDir() string { return r.join("automations", "executions") }

// AutomationsByEventFile returns the path of the event-trigger index for one
// automation (events/automations/<automation_id>.json).
func (r Root) AutomationsByEventFile(automationID string) string {
	return r.join("events", "automations", automationID+".json")
}

// AutomationsByEventDir returns the directory holding every automation's
// event-trigger index.
func (r Root) AutomationsByEventDir() string {
	return r.join("events", "automations")
}

// EventLogFile returns the path of the daily event log.
func (r Root) EventLogFile(date string) string {
	return r.join("events", "store", fmt.Sprintf("events_%s.jsonl", date))
}

// EventStoreDir returns the directory holding daily event logs.
func (r Root) EventStoreDir() string { return r.join("events", "store") }

// IntegrationConfigFile returns the path of an integration configuration.
func (r Root) IntegrationConfigFile(id string) string {
	return r.join("integrations", "configs", id+".json")
}

// IntegrationConfigDir returns the directory holding integration configs.
func (r Root) IntegrationConfigDir() string { return r.join("integrations", "configs") }

// IntegrationUsageLogFile returns the path of the daily integration usage log.
func (r Root) IntegrationUsageLogFile(date string) string {
	return r.join("integrations", "usage", fmt.Sprintf("usage_%s.jsonl", date))
}

// IntegrationAuditLogFile returns the path of the daily integration audit log.
func (r Root) IntegrationAuditLogFile(date string) string {
	return r.join("integrations", "audit", fmt.Sprintf("audit_%s.jsonl", date))
}

// MCPServerFile returns the path of an MCP server resource's extra state.
// The resource envelope itself lives in ResourceFile; this holds the
// server-specific fields that don't belong on the generic Resource record.
func (r Root) MCPServerFile(resourceID string) string {
	return r.join("mcp_servers", resourceID+".json")
}

// MCPServerDir returns the directory holding MCP server state files.
func (r Root) MCPServerDir() string { return r.join("mcp_servers") }
