package automation

import (
	"fmt"
	"regexp"
	"time"

	"github.com/gt-edge-ai/capfabric/pkg/condition"
)

// ExecutionContext is the per-invocation scope spec §3 defines, destroyed
// when execute_actions returns.
type ExecutionContext struct {
	AutomationID       string
	ChainDepth         int
	ParentAutomationID string
	StartTime          time.Time
	ExecutionHistory   []string
	Variables          map[string]any

	// MaxRetries is this invocation's min(automation.max_retries, 5) cap
	// (spec §4.8), carried on the context so nested executeActions calls
	// (conditional branches, loop bodies) inherit the same bound.
	MaxRetries int
}

func newExecutionContext(automationID string, chainDepth int, parent string) *ExecutionContext {
	return &ExecutionContext{
		AutomationID:       automationID,
		ChainDepth:         chainDepth,
		ParentAutomationID: parent,
		StartTime:          time.Now().UTC(),
		Variables:          make(map[string]any),
	}
}

func (ec *ExecutionContext) record(note string) {
	ec.ExecutionHistory = append(ec.ExecutionHistory, note)
}

// varRef matches "${name}" or a bare "$name" (name: letters/digits/_/.).
var varRef = regexp.MustCompile(`\$\{([A-Za-z0-9_.]+)\}|\$([A-Za-z0-9_.]+)`)

// resolveVar looks up a (possibly dotted) variable path in ctx.Variables,
// returning (nil, false) for anything unresolved (spec §4.8: "Path
// extraction returns null for missing keys and out-of-range indices").
func (ec *ExecutionContext) resolveVar(path string) (any, bool) {
	return condition.LookupPath(ec.Variables, path)
}

// substitute performs spec §4.8's "${name} or $name" variable substitution
// on a single string. A reference that resolves to a non-string value is
// formatted with %v; a reference that is the entire string and resolves to
// a non-string value is returned as that value's string form too, since
// Action fields that carry substituted text are themselves strings.
func (ec *ExecutionContext) substitute(s string) string {
	return varRef.ReplaceAllStringFunc(s, func(match string) string {
		name := varRef.FindStringSubmatch(match)
		key := name[1]
		if key == "" {
			key = name[2]
		}
		v, ok := ec.resolveVar(key)
		if !ok {
			return ""
		}
		return fmt.Sprintf("%v", v)
	})
}

// substituteMap applies substitute to every string value of m, recursing
// into nested maps, used for api_call bodies and headers.
func substituteMap(ec *ExecutionContext, m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = substituteValue(ec, v)
	}
	return out
}

func substituteValue(ec *ExecutionContext, v any) any {
	switch t := v.(type) {
	case string:
		return ec.substitute(t)
	case map[string]any:
		return substituteMap(ec, t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = substituteValue(ec, item)
		}
		return out
	default:
		return v
	}
}

