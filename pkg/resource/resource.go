// Package resource implements the Resource and SharingRecord data model of
// spec §3 and the C4 per-tenant persisted registry of spec §4.4.
package resource

import (
	"time"

	"github.com/gt-edge-ai/capfabric/internal/fabricerr"
	"github.com/gt-edge-ai/capfabric/pkg/accessgroup"
)

// Type enumerates the kinds of resource the fabric tracks (spec §3).
type Type string

const (
	TypeDataset       Type = "dataset"
	TypeAgent         Type = "agent"
	TypeWorkflow      Type = "workflow"
	TypeMCPServer     Type = "mcp_server"
	TypeIntegration   Type = "integration"
	TypeDocument      Type = "document"
	TypeConfiguration Type = "configuration"
)

// Resource is the persisted envelope for every tenant-owned artifact (spec §3).
type Resource struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Type          Type           `json:"type"`
	OwnerID       string         `json:"owner_id"`
	TenantDomain  string         `json:"tenant_domain"`
	TenantSeg     string         `json:"tenant_segment"`
	AccessGroup   accessgroup.Group `json:"access_group"`
	TeamMembers   []string       `json:"team_members,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// subjectView adapts *Resource to accessgroup.Subject; Resource cannot
// implement the interface directly since its field names (OwnerID,
// TeamMembers) collide with the interface's method names.
type subjectView struct{ r *Resource }

func (s subjectView) OwnerID() string            { return s.r.OwnerID }
func (s subjectView) Group() accessgroup.Group   { return s.r.AccessGroup }
func (s subjectView) TeamMembers() []string      { return s.r.TeamMembers }
func (s subjectView) TenantSegment() string      { return s.r.TenantSeg }

// AsSubject returns the accessgroup.Subject view of r.
func (r *Resource) AsSubject() accessgroup.Subject { return subjectView{r} }

// Validate enforces spec §3's resource invariants: team_members is
// non-empty iff access_group == Team; owner_id is never in team_members.
func (r *Resource) Validate() error {
	if r.AccessGroup == accessgroup.Team && len(r.TeamMembers) == 0 {
		return fabricerr.New(fabricerr.InvalidInput, "team_members must be non-empty when access_group is Team")
	}
	if r.AccessGroup != accessgroup.Team && len(r.TeamMembers) > 0 {
		return fabricerr.New(fabricerr.InvalidInput, "team_members must be empty unless access_group is Team")
	}
	for _, m := range r.TeamMembers {
		if m == r.OwnerID {
			return fabricerr.New(fabricerr.InvalidInput, "owner_id must not appear in team_members")
		}
	}
	return nil
}

// SharingRecord is the side-table encoding team membership and per-member
// permissions for a shared resource (spec §3). Currently attached primarily
// to datasets, but the type is generic to any resource.
type SharingRecord struct {
	ResourceID      string                            `json:"resource_id"`
	OwnerID         string                            `json:"owner_id"`
	AccessGroup     accessgroup.Group                 `json:"access_group"`
	TeamMembers     []string                          `json:"team_members,omitempty"`
	TeamPermissions map[string]accessgroup.Permission `json:"team_permissions,omitempty"`
	ExpiresAt       *time.Time                        `json:"expires_at,omitempty"`
	IsActive        bool                               `json:"is_active"`
}

// Active reports whether the sharing record is currently in force: spec §3
// says an expired record is inactive regardless of IsActive.
func (s *SharingRecord) Active(now time.Time) bool {
	if s.ExpiresAt != nil && now.After(*s.ExpiresAt) {
		return false
	}
	return s.IsActive
}

// PermissionFor returns the sharing record's configured permission for user,
// and whether one was configured at all.
func (s *SharingRecord) PermissionFor(userID string) (accessgroup.Permission, bool) {
	if s.TeamPermissions == nil {
		return "", false
	}
	p, ok := s.TeamPermissions[userID]
	return p, ok
}
