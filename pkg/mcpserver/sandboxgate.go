package mcpserver

import "context"

// SandboxGate is the external sandbox collaborator for MCP tool calls: this
// package validates parameters and enforces two of the declared sandbox
// settings (Sandbox.TimeoutSeconds as the call deadline, NetworkIsolation in
// the web URL check); MaxMemoryMB and MaxCPUPercent are stored but not
// enforced. It does not itself run the server process inside a container or VM — actually
// isolating the process is a deliberate seam, not a missing feature. A Gate,
// if set, gets a last veto after parameter validation and before dispatch.
type SandboxGate interface {
	Allow(ctx context.Context, srv Server, toolName string) error
}

// SetSandboxGate installs gate. A nil Dispatcher.gate (the default) skips
// the veto step — no sandbox collaborator is wired in-process.
func (d *Dispatcher) SetSandboxGate(gate SandboxGate) {
	d.gate = gate
}
