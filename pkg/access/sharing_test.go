package access

import (
	"testing"
	"time"

	"github.com/gt-edge-ai/capfabric/pkg/accessgroup"
	"github.com/gt-edge-ai/capfabric/pkg/resource"
)

func TestListAccessibleIncludesOwnedAndTeamShared(t *testing.T) {
	c, codec, root := newTestController(t)

	owned, err := c.CreateResource(root, resource.Resource{Name: "mine", OwnerID: "alice", Type: resource.TypeDataset, AccessGroup: accessgroup.Individual})
	if err != nil {
		t.Fatalf("CreateResource: %v", err)
	}
	shared, err := c.CreateResource(root, resource.Resource{
		Name: "teammate's", OwnerID: "bob", Type: resource.TypeDataset,
		AccessGroup: accessgroup.Team, TeamMembers: []string{"alice"},
	})
	if err != nil {
		t.Fatalf("CreateResource: %v", err)
	}
	if err := c.resources.PutShare(root, resource.SharingRecord{
		ResourceID: shared.ID, OwnerID: "bob", AccessGroup: accessgroup.Team,
		TeamMembers: []string{"alice"}, IsActive: true,
	}); err != nil {
		t.Fatalf("PutShare: %v", err)
	}
	if _, err := c.CreateResource(root, resource.Resource{Name: "not mine", OwnerID: "carol", Type: resource.TypeDataset, AccessGroup: accessgroup.Individual}); err != nil {
		t.Fatalf("CreateResource: %v", err)
	}

	token, err := codec.Mint("alice", root.Segment(), nil, nil, time.Hour)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	got, err := c.ListAccessible(root, token, "alice", resource.TypeDataset)
	if err != nil {
		t.Fatalf("ListAccessible: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ListAccessible returned %d resources, want 2 (owned + team-shared)", len(got))
	}
	ids := map[string]bool{got[0].ID: true, got[1].ID: true}
	if !ids[owned.ID] || !ids[shared.ID] {
		t.Fatalf("ListAccessible missing expected resources, got %+v", got)
	}
}

func TestListAccessibleRejectsInvalidToken(t *testing.T) {
	c, _, root := newTestController(t)
	if _, err := c.ListAccessible(root, "not-a-real-token", "alice", resource.TypeDataset); err == nil {
		t.Fatal("ListAccessible should reject an invalid token")
	}
}

func TestSharingStatisticsCountsOwnedAndShared(t *testing.T) {
	c, _, root := newTestController(t)

	owned, err := c.CreateResource(root, resource.Resource{
		Name: "mine", OwnerID: "alice", Type: resource.TypeDataset,
		AccessGroup: accessgroup.Team, TeamMembers: []string{"bob", "carol"},
	})
	if err != nil {
		t.Fatalf("CreateResource: %v", err)
	}
	if err := c.resources.PutShare(root, resource.SharingRecord{
		ResourceID: owned.ID, OwnerID: "alice", AccessGroup: accessgroup.Team,
		TeamMembers: []string{"bob", "carol"}, IsActive: true,
	}); err != nil {
		t.Fatalf("PutShare: %v", err)
	}

	sharedWithAlice, err := c.CreateResource(root, resource.Resource{
		Name: "bob's", OwnerID: "bob", Type: resource.TypeDataset,
		AccessGroup: accessgroup.Organization,
	})
	if err != nil {
		t.Fatalf("CreateResource: %v", err)
	}
	if err := c.resources.PutShare(root, resource.SharingRecord{
		ResourceID: sharedWithAlice.ID, OwnerID: "bob", AccessGroup: accessgroup.Organization, IsActive: true,
	}); err != nil {
		t.Fatalf("PutShare: %v", err)
	}

	stats, err := c.SharingStatistics(root, "alice", resource.TypeDataset)
	if err != nil {
		t.Fatalf("SharingStatistics: %v", err)
	}
	if stats.OwnedResources != 1 {
		t.Errorf("OwnedResources = %d, want 1", stats.OwnedResources)
	}
	if stats.SharedWithMe != 1 {
		t.Errorf("SharedWithMe = %d, want 1", stats.SharedWithMe)
	}
	if stats.TotalTeamMembers != 2 {
		t.Errorf("TotalTeamMembers = %d, want 2", stats.TotalTeamMembers)
	}
	if stats.SharingBreakdown[accessgroup.Team] != 1 {
		t.Errorf("SharingBreakdown[Team] = %d, want 1", stats.SharingBreakdown[accessgroup.Team])
	}
}

func TestUpdateTeamPermissionRequiresOwnerAndMembership(t *testing.T) {
	c, _, root := newTestController(t)

	r, err := c.CreateResource(root, resource.Resource{
		Name: "shared", OwnerID: "alice", Type: resource.TypeDataset,
		AccessGroup: accessgroup.Team, TeamMembers: []string{"bob"},
	})
	if err != nil {
		t.Fatalf("CreateResource: %v", err)
	}
	if err := c.resources.PutShare(root, resource.SharingRecord{
		ResourceID: r.ID, OwnerID: "alice", AccessGroup: accessgroup.Team,
		TeamMembers: []string{"bob"}, IsActive: true,
	}); err != nil {
		t.Fatalf("PutShare: %v", err)
	}

	if err := c.UpdateTeamPermission(root, r.ID, "mallory", "bob", accessgroup.Write); err == nil {
		t.Fatal("UpdateTeamPermission should reject a non-owner caller")
	}
	if err := c.UpdateTeamPermission(root, r.ID, "alice", "carol", accessgroup.Write); err == nil {
		t.Fatal("UpdateTeamPermission should reject a non-member target")
	}

	if err := c.UpdateTeamPermission(root, r.ID, "alice", "bob", accessgroup.Write); err != nil {
		t.Fatalf("UpdateTeamPermission: %v", err)
	}
	share, err := c.resources.GetShare(root, r.ID)
	if err != nil {
		t.Fatalf("GetShare: %v", err)
	}
	if got, _ := share.PermissionFor("bob"); got != accessgroup.Write {
		t.Errorf("bob's permission = %q, want write", got)
	}
}
