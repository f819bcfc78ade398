package accessgroup

import "testing"

type fakeResource struct {
	owner   string
	group   Group
	team    []string
	tenant  string
}

func (f fakeResource) OwnerID() string       { return f.owner }
func (f fakeResource) Group() Group          { return f.group }
func (f fakeResource) TeamMembers() []string { return f.team }
func (f fakeResource) TenantSegment() string { return f.tenant }

func TestPermissionGEHierarchy(t *testing.T) {
	order := []Permission{Read, Write, Admin}
	for i, held := range order {
		for j, required := range order {
			want := i >= j
			if got := PermissionGE(held, required); got != want {
				t.Errorf("PermissionGE(%s, %s) = %v, want %v", held, required, got, want)
			}
		}
	}
}

func TestVisibleOwnerAlwaysTrue(t *testing.T) {
	r := fakeResource{owner: "alice", group: Individual, tenant: "acme"}
	if !Visible("alice", "acme", r) {
		t.Error("owner should always see their own resource")
	}
}

func TestVisibleIndividualIsPrivate(t *testing.T) {
	r := fakeResource{owner: "alice", group: Individual, tenant: "acme"}
	if Visible("bob", "acme", r) {
		t.Error("Individual resource should not be visible to non-owner")
	}
}

func TestVisibleTeamBoundary(t *testing.T) {
	r := fakeResource{owner: "alice", group: Team, team: []string{"bob"}, tenant: "acme"}
	if !Visible("bob", "acme", r) {
		t.Error("team member should see Team resource")
	}
	if Visible("carol", "acme", r) {
		t.Error("non-team-member should not see Team resource")
	}
}

func TestVisibleOrganizationIsTenantWide(t *testing.T) {
	r := fakeResource{owner: "alice", group: Organization, tenant: "acme"}
	if !Visible("bob", "acme", r) {
		t.Error("Organization resource should be visible tenant-wide")
	}
	if Visible("mallory", "globex", r) {
		t.Error("Organization resource should not be visible cross-tenant")
	}
}

func TestMutableOnlyOwner(t *testing.T) {
	r := fakeResource{owner: "alice", group: Organization, tenant: "acme"}
	if !Mutable("alice", r) {
		t.Error("owner should be able to mutate")
	}
	if Mutable("bob", r) {
		t.Error("non-owner should not be able to mutate")
	}
}
