package eventbus

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gt-edge-ai/capfabric/internal/store"
	"github.com/gt-edge-ai/capfabric/pkg/condition"
	"github.com/gt-edge-ai/capfabric/pkg/tenantpath"
)

// Event is the persisted envelope (spec §3 "Event"): append-only, never
// mutated, never deleted by the core.
type Event struct {
	ID        string         `json:"id"`
	Type      Type           `json:"type"`
	Tenant    string         `json:"tenant"`
	User      string         `json:"user"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// TriggerRecord is the lightweight event-subscription index C8 publishes to
// events/automations/<automation_id>.json whenever it creates or updates an
// Event-triggered automation (spec §4.4's file layout). The bus only needs
// enough of an automation to decide whether to fire it; C8 loads the full
// definition itself once dispatched.
type TriggerRecord struct {
	AutomationID string                `json:"automation_id"`
	OwnerID      string                `json:"owner_id"`
	EventTypes   []Type                `json:"event_types"`
	Conditions   []condition.Condition `json:"conditions"`
	IsActive     bool                  `json:"is_active"`
}

// Dispatcher is implemented by the automation executor (C8) and invoked by
// Emit for every matching, active trigger. The bus passes only identifiers;
// the dispatcher is responsible for loading the automation definition and
// running it.
type Dispatcher interface {
	Dispatch(root tenantpath.Root, automationID string, event Event)
}

// Bus implements C7: durable append-only event storage, the typed catalog,
// automation matching, and in-process handler fan-out.
type Bus struct {
	locks      *store.PathLocks
	appender   *store.JSONLAppender
	triggers   *store.JSONStore[TriggerRecord]
	dispatcher Dispatcher
	logger     *slog.Logger

	mu       sync.RWMutex
	handlers map[Type][]func(Event)
}

// New wires a Bus. dispatcher may be nil (events are stored and handlers
// still fire, but no automation is triggered) — useful for tests and for
// the edge before C8 is wired in.
func New(locks *store.PathLocks, dispatcher Dispatcher, logger *slog.Logger) *Bus {
	return &Bus{
		locks:      locks,
		appender:   store.NewJSONLAppender(locks),
		triggers:   store.NewJSONStore[TriggerRecord](locks),
		dispatcher: dispatcher,
		logger:     logger,
		handlers:   make(map[Type][]func(Event)),
	}
}

// SetDispatcher wires the automation dispatcher after construction,
// breaking the Bus/Executor construction cycle (C8's executor needs a *Bus
// to mint executions against, and the bus needs a Dispatcher): callers
// build the Bus with a nil dispatcher, build the Executor against it, then
// call SetDispatcher once before serving traffic.
func (b *Bus) SetDispatcher(dispatcher Dispatcher) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dispatcher = dispatcher
}

// Subscribe registers an in-process handler fired synchronously after an
// event of type t is durably appended (spec §4.7: "In-process handlers
// registered for the event type are also fired").
func (b *Bus) Subscribe(t Type, handler func(Event)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[t] = append(b.handlers[t], handler)
}

// PutTrigger persists (or updates) an automation's event-trigger index.
func (b *Bus) PutTrigger(root tenantpath.Root, tr TriggerRecord) error {
	return b.triggers.Write(root.AutomationsByEventFile(tr.AutomationID), tr)
}

// RemoveTrigger deletes an automation's event-trigger index, e.g. when the
// automation is deleted or its trigger_type changes away from Event.
func (b *Bus) RemoveTrigger(root tenantpath.Root, automationID string) error {
	return b.triggers.Delete(root.AutomationsByEventFile(automationID))
}

// Emit builds, persists, and dispatches an event (spec §4.7 "Emit").
// Unknown types are stored and logged as a warning, never rejected.
func (b *Bus) Emit(root tenantpath.Root, tenant, user string, data EventData, metadata map[string]any) (Event, error) {
	if data.Validate() != nil {
		return Event{}, data.Validate()
	}

	t := data.Type()
	if !IsKnown(t) {
		b.logger.Warn("emitting unrecognized event type", "type", t)
	}

	now := time.Now().UTC()
	ev := Event{
		ID:        uuid.NewString(),
		Type:      t,
		Tenant:    tenant,
		User:      user,
		Timestamp: now,
		Data:      data.toMap(),
		Metadata:  metadata,
	}
	return b.emitEnvelope(root, ev)
}

// EmitRaw emits an already-built envelope — used for the synthetic
// automation.chain event C8 constructs when chaining (spec §4.8 step 4),
// which carries the parent automation's result rather than a typed
// EventData literal.
func (b *Bus) EmitRaw(root tenantpath.Root, ev Event) (Event, error) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	return b.emitEnvelope(root, ev)
}

func (b *Bus) emitEnvelope(root tenantpath.Root, ev Event) (Event, error) {
	// Durable append happens before dispatch: the ordering guarantee spec §9
	// calls out ("event durably appended before automation dispatch").
	path := root.EventLogFile(ev.Timestamp.Format("2006-01-02"))
	if err := b.appender.Append(path, ev); err != nil {
		return Event{}, err
	}

	b.mu.RLock()
	handlers := append([]func(Event){}, b.handlers[ev.Type]...)
	b.mu.RUnlock()
	for _, h := range handlers {
		h(ev)
	}

	b.dispatchMatching(root, ev)
	return ev, nil
}

func (b *Bus) dispatchMatching(root tenantpath.Root, ev Event) {
	b.mu.RLock()
	dispatcher := b.dispatcher
	b.mu.RUnlock()
	if dispatcher == nil {
		return
	}
	triggers, err := store.ListDir[TriggerRecord](root.AutomationsByEventDir())
	if err != nil {
		b.logger.Error("listing automation triggers", "error", err)
		return
	}
	for _, tr := range triggers {
		if !b.matches(tr, ev) {
			continue
		}
		go dispatcher.Dispatch(root, tr.AutomationID, ev)
	}
}

func (b *Bus) matches(tr TriggerRecord, ev Event) bool {
	if !tr.IsActive {
		return false
	}
	if tr.OwnerID != ev.User {
		return false
	}
	found := false
	for _, t := range tr.EventTypes {
		if t == ev.Type {
			found = true
			break
		}
	}
	if !found {
		return false
	}
	return condition.EvaluateAll(tr.Conditions, func(path string) (any, bool) {
		return resolveEventPath(ev, path)
	})
}

// resolveEventPath implements spec §4.7's indexing rule: "data.<path>"
// condition fields index into event.data; other paths index into event
// attributes.
func resolveEventPath(ev Event, path string) (any, bool) {
	if rest, ok := strings.CutPrefix(path, "data."); ok {
		return condition.LookupPath(ev.Data, rest)
	}
	switch path {
	case "id":
		return ev.ID, true
	case "type":
		return string(ev.Type), true
	case "tenant":
		return ev.Tenant, true
	case "user":
		return ev.User, true
	case "timestamp":
		return ev.Timestamp, true
	default:
		v, ok := ev.Metadata[path]
		return v, ok
	}
}

// History implements spec §4.7 "Replay": reads daily files within
// [start,end] inclusively, filters server-side by type/user, never scans a
// date after end (never "future dates" relative to the requested range).
func (b *Bus) History(root tenantpath.Root, start, end time.Time, eventType Type, user string, limit int) ([]Event, error) {
	var out []Event
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		path := root.EventLogFile(d.Format("2006-01-02"))
		lines, err := store.ReadLines[Event](path)
		if err != nil {
			return nil, err
		}
		for _, ev := range lines {
			if eventType != "" && ev.Type != eventType {
				continue
			}
			if user != "" && ev.User != user {
				continue
			}
			out = append(out, ev)
			if limit > 0 && len(out) >= limit {
				return out, nil
			}
		}
	}
	return out, nil
}
