// Package eventbus implements C7: the append-only per-tenant event log,
// the typed event catalog of spec §4.7/§6, and automation matching and
// dispatch. The catalog is a closed set of typed EventData structs (spec
// §9's "Dynamic JSON payloads" redesign note) instead of a bare
// map[string]any, so a caller building a document.uploaded event cannot
// omit document_id.
package eventbus

import (
	"github.com/gt-edge-ai/capfabric/internal/fabricerr"
)

// Type is one of the catalog's event type strings.
type Type string

const (
	TypeDocumentUploaded   Type = "document.uploaded"
	TypeDocumentProcessed  Type = "document.processed"
	TypeAgentCreated       Type = "agent.created"
	TypeChatStarted        Type = "chat.started"
	TypeResourceShared     Type = "resource.shared"
	TypeQuotaWarning       Type = "quota.warning"
	TypeAutomationCompleted Type = "automation.completed"
	TypeAutomationFailed   Type = "automation.failed"
	// TypeAutomationChain is the synthetic event C8 builds when a completed
	// automation triggers a chained automation (spec §4.8 step 4).
	TypeAutomationChain Type = "automation.chain"
)

// knownTypes is the catalog of event types with fixed required fields (spec
// §6). Types outside this set are still accepted and stored — spec §4.7:
// "Unknown event types are logged as warnings but still stored" — so this
// set only decides whether Emit logs an unrecognized-type warning, not what
// Emit will accept.
var knownTypes = map[Type]bool{
	TypeDocumentUploaded:    true,
	TypeDocumentProcessed:   true,
	TypeAgentCreated:        true,
	TypeChatStarted:         true,
	TypeResourceShared:      true,
	TypeQuotaWarning:        true,
	TypeAutomationCompleted: true,
	TypeAutomationFailed:    true,
	TypeAutomationChain:     true,
}

// IsKnown reports whether t is one of the catalog's fixed types.
func IsKnown(t Type) bool { return knownTypes[t] }

// EventData is the marker interface every typed catalog entry satisfies.
type EventData interface {
	Type() Type
	Validate() error
	toMap() map[string]any
}

type DocumentUploaded struct {
	DocumentID string `json:"document_id"`
	DatasetID  string `json:"dataset_id"`
	Filename   string `json:"filename"`
}

func (DocumentUploaded) Type() Type { return TypeDocumentUploaded }
func (d DocumentUploaded) Validate() error {
	return requireAll(map[string]string{"document_id": d.DocumentID, "dataset_id": d.DatasetID, "filename": d.Filename})
}
func (d DocumentUploaded) toMap() map[string]any {
	return map[string]any{"document_id": d.DocumentID, "dataset_id": d.DatasetID, "filename": d.Filename}
}

type DocumentProcessed struct {
	DocumentID    string `json:"document_id"`
	ChunksCreated int    `json:"chunks_created"`
}

func (DocumentProcessed) Type() Type { return TypeDocumentProcessed }
func (d DocumentProcessed) Validate() error {
	return requireAll(map[string]string{"document_id": d.DocumentID})
}
func (d DocumentProcessed) toMap() map[string]any {
	return map[string]any{"document_id": d.DocumentID, "chunks_created": d.ChunksCreated}
}

type AgentCreated struct {
	AgentID string `json:"agent_id"`
	Name    string `json:"name"`
	OwnerID string `json:"owner_id"`
}

func (AgentCreated) Type() Type { return TypeAgentCreated }
func (d AgentCreated) Validate() error {
	return requireAll(map[string]string{"agent_id": d.AgentID, "name": d.Name, "owner_id": d.OwnerID})
}
func (d AgentCreated) toMap() map[string]any {
	return map[string]any{"agent_id": d.AgentID, "name": d.Name, "owner_id": d.OwnerID}
}

type ChatStarted struct {
	ConversationID string `json:"conversation_id"`
	AgentID        string `json:"agent_id"`
}

func (ChatStarted) Type() Type { return TypeChatStarted }
func (d ChatStarted) Validate() error {
	return requireAll(map[string]string{"conversation_id": d.ConversationID, "agent_id": d.AgentID})
}
func (d ChatStarted) toMap() map[string]any {
	return map[string]any{"conversation_id": d.ConversationID, "agent_id": d.AgentID}
}

type ResourceShared struct {
	ResourceID  string `json:"resource_id"`
	AccessGroup string `json:"access_group"`
	SharedWith  string `json:"shared_with"`
}

func (ResourceShared) Type() Type { return TypeResourceShared }
func (d ResourceShared) Validate() error {
	return requireAll(map[string]string{"resource_id": d.ResourceID, "access_group": d.AccessGroup})
}
func (d ResourceShared) toMap() map[string]any {
	return map[string]any{"resource_id": d.ResourceID, "access_group": d.AccessGroup, "shared_with": d.SharedWith}
}

type QuotaWarning struct {
	ResourceType string  `json:"resource_type"`
	CurrentUsage float64 `json:"current_usage"`
	Limit        float64 `json:"limit"`
}

func (QuotaWarning) Type() Type { return TypeQuotaWarning }
func (d QuotaWarning) Validate() error {
	return requireAll(map[string]string{"resource_type": d.ResourceType})
}
func (d QuotaWarning) toMap() map[string]any {
	return map[string]any{"resource_type": d.ResourceType, "current_usage": d.CurrentUsage, "limit": d.Limit}
}

type AutomationCompleted struct {
	AutomationID string `json:"automation_id"`
	Result       any    `json:"result,omitempty"`
	DurationMS   int64  `json:"duration_ms"`
}

func (AutomationCompleted) Type() Type { return TypeAutomationCompleted }
func (d AutomationCompleted) Validate() error {
	return requireAll(map[string]string{"automation_id": d.AutomationID})
}
func (d AutomationCompleted) toMap() map[string]any {
	return map[string]any{"automation_id": d.AutomationID, "result": d.Result, "duration_ms": d.DurationMS}
}

type AutomationFailed struct {
	AutomationID string `json:"automation_id"`
	Error        string `json:"error"`
	RetryCount   int    `json:"retry_count"`
}

func (AutomationFailed) Type() Type { return TypeAutomationFailed }
func (d AutomationFailed) Validate() error {
	return requireAll(map[string]string{"automation_id": d.AutomationID, "error": d.Error})
}
func (d AutomationFailed) toMap() map[string]any {
	return map[string]any{"automation_id": d.AutomationID, "error": d.Error, "retry_count": d.RetryCount}
}

func requireAll(fields map[string]string) error {
	for name, v := range fields {
		if v == "" {
			return fabricerr.New(fabricerr.InvalidInput, "missing required event field: "+name)
		}
	}
	return nil
}
