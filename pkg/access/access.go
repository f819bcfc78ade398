// Package access implements C5, the access controller of spec §4.5: the
// single check_permission decision tree every read/write path in the fabric
// calls through before touching a resource.
package access

import (
	"github.com/gt-edge-ai/capfabric/pkg/accessgroup"
	"github.com/gt-edge-ai/capfabric/pkg/resource"
)

// Action is the operation being attempted against a resource.
type Action string

const (
	ActionRead   Action = "read"
	ActionWrite  Action = "write"
	ActionDelete Action = "delete"
	ActionAdmin  Action = "admin"
)

func (a Action) requiredPermission() accessgroup.Permission {
	switch a {
	case ActionRead:
		return accessgroup.Read
	case ActionWrite:
		return accessgroup.Write
	default:
		return accessgroup.Admin
	}
}

func (a Action) isMutating() bool {
	return a == ActionWrite || a == ActionDelete || a == ActionAdmin
}

// Decision is the outcome of a permission check: whether access is allowed,
// and the exact reason string spec §4.5 specifies (the same string a caller
// would show the user or write to an audit record).
type Decision struct {
	Allowed bool
	Reason  string
}

func allow(reason string) Decision { return Decision{Allowed: true, Reason: reason} }
func deny(reason string) Decision  { return Decision{Allowed: false, Reason: reason} }

// Decide implements spec §4.5's check_permission decision tree as a pure
// function over already-verified inputs: the caller is responsible for
// verifying the capability token and fetching res/share beforehand (see
// Controller.CheckPermission for the I/O-performing wrapper). tokenTenant is
// the tenant segment carried by the verified token; res.TenantSeg is the
// resource's own tenant. share may be nil when the resource has no sharing
// record.
func Decide(userID, tokenTenant string, res resource.Resource, share *resource.SharingRecord, action Action) Decision {
	if tokenTenant != res.TenantSeg {
		return deny("Cross-tenant access denied")
	}

	if userID == res.OwnerID {
		return allow("Owner access granted")
	}

	if action.isMutating() {
		return deny("Only owner can modify")
	}

	switch res.AccessGroup {
	case accessgroup.Individual:
		return deny("Private resource")

	case accessgroup.Team:
		if !contains(res.TeamMembers, userID) {
			return deny("Not a team member")
		}
		if share != nil {
			if held, ok := share.PermissionFor(userID); ok {
				if !accessgroup.PermissionGE(held, action.requiredPermission()) {
					return deny("Insufficient permission")
				}
			}
		}
		return allow("Team member read access")

	case accessgroup.Organization:
		if action == ActionRead {
			return allow("Organization-wide read access")
		}
		return deny("Only owner can modify")

	default:
		return deny("Private resource")
	}
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
