// Package automation implements C8: the chained automation executor (spec
// §4.8). An Automation is a stored definition (trigger, conditions, actions);
// the Executor in executor.go runs one to completion, retrying actions and
// recursively dispatching any chain_targets.
package automation

import (
	"time"

	"github.com/gt-edge-ai/capfabric/internal/store"
	"github.com/gt-edge-ai/capfabric/pkg/condition"
	"github.com/gt-edge-ai/capfabric/pkg/eventbus"
	"github.com/gt-edge-ai/capfabric/pkg/tenantpath"
)

// TriggerType is one of the automation trigger kinds spec §3 defines.
type TriggerType string

const (
	TriggerCron    TriggerType = "cron"
	TriggerWebhook TriggerType = "webhook"
	TriggerEvent   TriggerType = "event"
	TriggerChain   TriggerType = "chain"
	TriggerManual  TriggerType = "manual"
)

// Automation is the stored definition spec §3 calls "Automation".
type Automation struct {
	ID             string                `json:"id"`
	Name           string                `json:"name"`
	OwnerID        string                `json:"owner_id"`
	TriggerType    TriggerType           `json:"trigger_type"`
	TriggerConfig  map[string]any        `json:"trigger_config,omitempty"`
	Conditions     []condition.Condition `json:"conditions,omitempty"`
	Actions        []Action              `json:"actions"`
	TriggersChain  bool                  `json:"triggers_chain"`
	ChainTargets   []string              `json:"chain_targets,omitempty"`
	MaxRetries     int                   `json:"max_retries"`
	TimeoutSeconds int                   `json:"timeout_seconds"`
	IsActive       bool                  `json:"is_active"`
	CreatedAt      time.Time             `json:"created_at"`
	UpdatedAt      time.Time             `json:"updated_at"`
}

// Store is the CRUD layer over automation definitions. Creating, updating,
// or deleting an Event-triggered automation keeps the bus's TriggerRecord
// index (spec §4.4's events/automations/<id>.json) in sync, which is why
// Store needs a reference to the bus rather than just a JSONStore.
type Store struct {
	automations *store.JSONStore[Automation]
	bus         *eventbus.Bus
}

// NewStore wires a Store sharing locks with the rest of the persistence
// layer and keeping the given bus's trigger index current.
func NewStore(locks *store.PathLocks, bus *eventbus.Bus) *Store {
	return &Store{automations: store.NewJSONStore[Automation](locks), bus: bus}
}

// Create persists a new automation definition and, if it is Event-triggered
// and active, registers its trigger index with the bus.
func (s *Store) Create(root tenantpath.Root, a Automation) (Automation, error) {
	now := time.Now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now
	if err := s.automations.Write(root.AutomationFile(a.ID), a); err != nil {
		return Automation{}, err
	}
	if err := s.syncTrigger(root, a); err != nil {
		return Automation{}, err
	}
	return a, nil
}

// Get loads one automation definition by ID.
func (s *Store) Get(root tenantpath.Root, id string) (Automation, error) {
	return s.automations.Read(root.AutomationFile(id))
}

// Update overwrites an automation definition and resyncs the bus trigger
// index (spec §4.7's matcher must see is_active/conditions/event_types
// changes as soon as they're saved).
func (s *Store) Update(root tenantpath.Root, a Automation) (Automation, error) {
	a.UpdatedAt = time.Now().UTC()
	if err := s.automations.Write(root.AutomationFile(a.ID), a); err != nil {
		return Automation{}, err
	}
	if err := s.syncTrigger(root, a); err != nil {
		return Automation{}, err
	}
	return a, nil
}

// Delete removes an automation definition and its trigger index entry, if
// any.
func (s *Store) Delete(root tenantpath.Root, id string) error {
	if err := s.automations.Delete(root.AutomationFile(id)); err != nil {
		return err
	}
	return s.bus.RemoveTrigger(root, id)
}

// List returns every automation definition under root.
func (s *Store) List(root tenantpath.Root) ([]Automation, error) {
	return store.ListDir[Automation](root.AutomationDir())
}

func (s *Store) syncTrigger(root tenantpath.Root, a Automation) error {
	if a.TriggerType != TriggerEvent {
		return s.bus.RemoveTrigger(root, a.ID)
	}
	var types []eventbus.Type
	if raw, ok := a.TriggerConfig["event_types"]; ok {
		if list, ok := raw.([]any); ok {
			for _, v := range list {
				if s, ok := v.(string); ok {
					types = append(types, eventbus.Type(s))
				}
			}
		}
	}
	return s.bus.PutTrigger(root, eventbus.TriggerRecord{
		AutomationID: a.ID,
		OwnerID:      a.OwnerID,
		EventTypes:   types,
		Conditions:   a.Conditions,
		IsActive:     a.IsActive,
	})
}
