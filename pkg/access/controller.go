package access

import (
	"log/slog"
	"time"

	"github.com/gt-edge-ai/capfabric/internal/fabricerr"
	"github.com/gt-edge-ai/capfabric/pkg/accessgroup"
	"github.com/gt-edge-ai/capfabric/pkg/captoken"
	"github.com/gt-edge-ai/capfabric/pkg/resource"
	"github.com/gt-edge-ai/capfabric/pkg/tenantpath"
)

// Controller is the I/O-performing wrapper around Decide: it verifies the
// capability token, fetches the resource and its sharing record, runs the
// decision, and audits the outcome (spec §4.5: "All denials are audited;
// cross-tenant attempts are audited at WARNING").
type Controller struct {
	codec     *captoken.Codec
	resources *resource.Store
	logger    *slog.Logger
}

// NewController wires a Controller from its dependencies.
func NewController(codec *captoken.Codec, resources *resource.Store, logger *slog.Logger) *Controller {
	return &Controller{codec: codec, resources: resources, logger: logger}
}

// CheckPermission verifies rawToken, fetches resourceID, and decides whether
// userID may perform action against it. The returned error is non-nil only
// for infrastructure failures (resource not found, unreadable sharing
// record); an invalid token and ordinary denials come back as a Decision
// with Allowed=false.
func (c *Controller) CheckPermission(root tenantpath.Root, rawToken, userID, resourceID string, action Action) (Decision, error) {
	tokenData, err := c.codec.Verify(rawToken, root.Segment())
	if err != nil {
		c.audit(root, userID, resourceID, action, deny("Invalid capability token"))
		return deny("Invalid capability token"), nil
	}

	res, err := c.resources.Get(root, resourceID)
	if err != nil {
		return Decision{}, err
	}

	var share *resource.SharingRecord
	if s, err := c.resources.GetShare(root, resourceID); err == nil {
		if s.Active(time.Now().UTC()) {
			share = &s
		}
	} else if !fabricerr.Is(err, fabricerr.NotFound) {
		return Decision{}, err
	}

	decision := Decide(userID, tokenData.TenantID, res, share, action)
	c.audit(root, userID, resourceID, action, decision)
	return decision, nil
}

func (c *Controller) audit(root tenantpath.Root, userID, resourceID string, action Action, d Decision) {
	if d.Allowed {
		return
	}
	attrs := []any{"tenant", root.Segment(), "user", userID, "resource_id", resourceID, "action", string(action), "reason", d.Reason}
	if d.Reason == "Cross-tenant access denied" {
		c.logger.Warn("access denied", attrs...)
		return
	}
	c.logger.Info("access denied", attrs...)
}

// CreateResource allocates a resource id, persists it, and initializes an
// empty (inactive) sharing record alongside it (spec §4.5).
func (c *Controller) CreateResource(root tenantpath.Root, r resource.Resource) (resource.Resource, error) {
	created, err := c.resources.Create(root, r)
	if err != nil {
		return resource.Resource{}, err
	}
	empty := resource.SharingRecord{
		ResourceID:  created.ID,
		OwnerID:     created.OwnerID,
		AccessGroup: created.AccessGroup,
		TeamMembers: created.TeamMembers,
		IsActive:    false,
	}
	if err := c.resources.PutShare(root, empty); err != nil {
		return resource.Resource{}, err
	}
	return created, nil
}

// UpdateResource applies fn to the resource identified by resourceID and
// keeps its sharing record consistent: if fn moves the resource away from
// Team, the sharing record's team_members is cleared; only the owner may
// call this (enforced by the caller via CheckPermission before invoking it).
func (c *Controller) UpdateResource(root tenantpath.Root, resourceID string, fn func(resource.Resource) (resource.Resource, error)) (resource.Resource, error) {
	updated, err := c.resources.Update(root, resourceID, fn)
	if err != nil {
		return resource.Resource{}, err
	}

	share, err := c.resources.GetShare(root, resourceID)
	if err != nil {
		if fabricerr.Is(err, fabricerr.NotFound) {
			share = resource.SharingRecord{ResourceID: resourceID, OwnerID: updated.OwnerID}
		} else {
			return resource.Resource{}, err
		}
	}

	share.AccessGroup = updated.AccessGroup
	if updated.AccessGroup != accessgroup.Team {
		share.TeamMembers = nil
		share.IsActive = false
	} else {
		share.TeamMembers = updated.TeamMembers
	}

	if err := c.resources.PutShare(root, share); err != nil {
		return resource.Resource{}, err
	}
	return updated, nil
}
