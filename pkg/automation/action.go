package automation

import "github.com/gt-edge-ai/capfabric/pkg/condition"

// ActionType is one of the ten tagged action variants spec §4.8 defines.
type ActionType string

const (
	ActionAPICall       ActionType = "api_call"
	ActionWebhook       ActionType = "webhook"
	ActionEmail         ActionType = "email"
	ActionDataTransform ActionType = "data_transform"
	ActionConditional   ActionType = "conditional"
	ActionLoop          ActionType = "loop"
	ActionWait          ActionType = "wait"
	ActionVariableSet   ActionType = "variable_set"
	ActionChain         ActionType = "chain"
	ActionLog           ActionType = "log"
)

// TransformType is one of data_transform's four sub-operations.
type TransformType string

const (
	TransformJSONParse     TransformType = "json_parse"
	TransformJSONStringify TransformType = "json_stringify"
	TransformExtract       TransformType = "extract"
	TransformMap           TransformType = "map"
)

// Action is a single tagged step of an automation (spec §4.8 "Action
// variants"). Only the fields relevant to Type are populated; this mirrors
// the flat tagged-struct shape the pack's own message/event DTOs use
// (e.g. nightowl's messaging.types) rather than an interface-per-variant,
// since every variant here is plain data with no variant-specific methods.
type Action struct {
	Type ActionType `json:"type"`

	// api_call / webhook
	Endpoint string            `json:"endpoint,omitempty"`
	Method   string            `json:"method,omitempty"`
	Headers  map[string]string `json:"headers,omitempty"`
	Body     map[string]any    `json:"body,omitempty"`

	// email
	To      string `json:"to,omitempty"`
	Subject string `json:"subject,omitempty"`
	Text    string `json:"text,omitempty"`

	// data_transform
	TransformType TransformType     `json:"transform_type,omitempty"`
	Source        string            `json:"source,omitempty"`
	Target        string            `json:"target,omitempty"`
	Path          string            `json:"path,omitempty"`
	Mapping       map[string]string `json:"mapping,omitempty"`

	// conditional
	Condition condition.Condition `json:"condition,omitempty"`
	Then      []Action            `json:"then,omitempty"`
	Else      []Action            `json:"else,omitempty"`

	// loop
	Items    string   `json:"items,omitempty"` // literal or "$var"/"${var}" reference
	Variable string   `json:"variable,omitempty"`
	Actions  []Action `json:"actions,omitempty"`

	// wait
	DurationSeconds int `json:"duration_seconds,omitempty"`

	// variable_set
	Variables map[string]any `json:"variables,omitempty"`

	// chain
	TargetAutomationID string `json:"target_automation_id,omitempty"`

	// log
	Message string `json:"message,omitempty"`
	Level   string `json:"level,omitempty"`
}

// requiredCapability implements spec §4.8's action-type capability-gating
// table. Unknown types (including the ones the table doesn't list: wait,
// variable_set, chain, log) pass with no gate.
func requiredCapability(t ActionType) string {
	switch t {
	case ActionAPICall:
		return "automation:api_calls"
	case ActionWebhook:
		return "automation:webhooks"
	case ActionEmail:
		return "automation:email"
	case ActionDataTransform:
		return "automation:data_processing"
	case ActionConditional, ActionLoop:
		return "automation:logic"
	default:
		return ""
	}
}
