package integration

import "context"

// SandboxGate is the external sandbox collaborator spec's network-level
// sandboxing Non-goal names as a deliberate seam rather than a missing
// feature: Proxy computes and enforces the restrictions table (timeouts,
// body caps, method/endpoint allowlists) itself, but actually running the
// outbound call through a restricted network namespace, container, or
// egress proxy is somebody else's job. A Gate, if set, gets a last veto
// after restrictions are computed and before any network I/O.
type SandboxGate interface {
	Allow(ctx context.Context, cfg Config, method, endpoint string) error
}

// SetSandboxGate installs gate. A nil Proxy.gate (the default) skips the
// veto step entirely — there is no sandbox collaborator wired in-process.
func (p *Proxy) SetSandboxGate(gate SandboxGate) {
	p.gate = gate
}
