// Package accessgroup implements C3: the pure Individual/Team/Organization
// visibility algebra and the Read<Write<Admin permission ranking (spec
// §4.3). It has no I/O and no dependency on the resource or store packages —
// the leaf package the rest of the fabric builds on, the way nightowl keeps
// its permission ranking (internal/auth/rbac.go's roleLevel map) a tiny,
// dependency-free lookup table.
package accessgroup

// Group is one of the three resource visibility scopes (spec §3).
type Group string

const (
	Individual   Group = "individual"
	Team         Group = "team"
	Organization Group = "organization"
)

// Permission is a sharing-record permission level, ranked Read < Write < Admin.
type Permission string

const (
	Read  Permission = "read"
	Write Permission = "write"
	Admin Permission = "admin"
)

var permissionRank = map[Permission]int{
	Read:  1,
	Write: 2,
	Admin: 3,
}

// PermissionGE reports whether held is ranked at or above required.
// Unrecognized permissions rank below every known permission.
func PermissionGE(held, required Permission) bool {
	return permissionRank[held] >= permissionRank[required]
}

// Subject is the minimal view of a resource the algebra needs: who owns it,
// its visibility group, its team roster, and the tenant it belongs to.
// pkg/resource.Resource satisfies this, but the algebra depends only on the
// interface so it never needs to import the resource package.
type Subject interface {
	OwnerID() string
	Group() Group
	TeamMembers() []string
	TenantSegment() string
}

// Visible implements spec §4.3's visible(user, resource): owner sees
// everything; Individual is never visible to anyone else; Team is visible
// to team members; Organization is visible tenant-wide.
func Visible(userID, userTenantSegment string, r Subject) bool {
	if userID == r.OwnerID() {
		return true
	}
	switch r.Group() {
	case Individual:
		return false
	case Team:
		return contains(r.TeamMembers(), userID)
	case Organization:
		return userTenantSegment == r.TenantSegment()
	default:
		return false
	}
}

// Mutable implements spec §4.3's mutable(user, resource): only the owner.
func Mutable(userID string, r Subject) bool {
	return userID == r.OwnerID()
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
