package resource

import (
	"time"

	"github.com/google/uuid"

	"github.com/gt-edge-ai/capfabric/internal/fabricerr"
	"github.com/gt-edge-ai/capfabric/internal/store"
	"github.com/gt-edge-ai/capfabric/pkg/tenantpath"
)

// Store is the per-tenant resource and sharing-record registry of spec §4.4.
// It is the only thing in the fabric that reads or writes resources/*.json
// and shares/*.json; every caller goes through root.ResourceFile/ShareFile so
// no path is ever built outside pkg/tenantpath.
type Store struct {
	resources *store.JSONStore[Resource]
	shares    *store.JSONStore[SharingRecord]
}

// NewStore creates a Store sharing the given process-wide lock map.
func NewStore(locks *store.PathLocks) *Store {
	return &Store{
		resources: store.NewJSONStore[Resource](locks),
		shares:    store.NewJSONStore[SharingRecord](locks),
	}
}

// Create validates, stamps an ID and timestamps, and persists a new
// resource. r.ID is ignored and overwritten.
func (s *Store) Create(root tenantpath.Root, r Resource) (Resource, error) {
	if err := r.Validate(); err != nil {
		return Resource{}, err
	}
	now := time.Now().UTC()
	r.ID = uuid.NewString()
	r.TenantSeg = root.Segment()
	r.CreatedAt = now
	r.UpdatedAt = now

	if err := s.resources.Write(root.ResourceFile(r.ID), r); err != nil {
		return Resource{}, err
	}
	return r, nil
}

// Get reads a single resource by ID.
func (s *Store) Get(root tenantpath.Root, id string) (Resource, error) {
	return s.resources.Read(root.ResourceFile(id))
}

// List returns every resource in the tenant's registry, fault-tolerant of
// individually unparseable records.
func (s *Store) List(root tenantpath.Root) ([]Resource, error) {
	return store.ListDir[Resource](root.ResourceDir())
}

// Update applies fn to the existing resource (erroring if it does not
// exist), re-validates the result, stamps UpdatedAt, and writes it back.
// fn must not change the resource's ID or owner.
func (s *Store) Update(root tenantpath.Root, id string, fn func(current Resource) (Resource, error)) (Resource, error) {
	path := root.ResourceFile(id)
	var result Resource
	err := s.resources.Update(path, func(current Resource, existed bool) (Resource, error) {
		if !existed {
			return Resource{}, fabricerr.New(fabricerr.NotFound, "resource not found")
		}
		next, err := fn(current)
		if err != nil {
			return Resource{}, err
		}
		if next.ID != current.ID || next.OwnerID != current.OwnerID {
			return Resource{}, fabricerr.New(fabricerr.InvalidInput, "update must not change id or owner_id")
		}
		if err := next.Validate(); err != nil {
			return Resource{}, err
		}
		next.UpdatedAt = time.Now().UTC()
		result = next
		return next, nil
	})
	if err != nil {
		return Resource{}, err
	}
	return result, nil
}

// Delete removes a resource and its sharing record, if any.
func (s *Store) Delete(root tenantpath.Root, id string) error {
	if err := s.resources.Delete(root.ResourceFile(id)); err != nil {
		return err
	}
	return s.shares.Delete(root.ShareFile(id))
}

// GetShare reads the sharing record for resourceID. A missing record is
// NotFound — resources without an explicit share are not team/org shared.
func (s *Store) GetShare(root tenantpath.Root, resourceID string) (SharingRecord, error) {
	return s.shares.Read(root.ShareFile(resourceID))
}

// PutShare validates and persists a sharing record, overwriting any
// existing one for the same resource.
func (s *Store) PutShare(root tenantpath.Root, share SharingRecord) error {
	if share.AccessGroup == "" {
		return fabricerr.New(fabricerr.InvalidInput, "sharing record requires an access_group")
	}
	for _, m := range share.TeamMembers {
		if m == share.OwnerID {
			return fabricerr.New(fabricerr.InvalidInput, "owner_id must not appear in team_members")
		}
	}
	return s.shares.Write(root.ShareFile(share.ResourceID), share)
}

// DeleteShare removes resourceID's sharing record, if any.
func (s *Store) DeleteShare(root tenantpath.Root, resourceID string) error {
	return s.shares.Delete(root.ShareFile(resourceID))
}
