package integration

import (
	"fmt"
	"strings"
	"time"

	"github.com/gt-edge-ai/capfabric/internal/fabricerr"
)

// sandboxLimits is one row of spec §4.9's sandbox restriction table.
type sandboxLimits struct {
	timeoutCap       time.Duration // zero means no cap
	bodyCapBytes     int64         // zero means no cap
	enforceEndpoints bool
	enforceMethods   bool
}

var sandboxTable = map[SandboxLevel]sandboxLimits{
	SandboxNone:       {},
	SandboxBasic:      {timeoutCap: 60 * time.Second, bodyCapBytes: 1 << 20},
	SandboxRestricted: {timeoutCap: 30 * time.Second, bodyCapBytes: 512 << 10, enforceEndpoints: true},
	SandboxStrict:     {timeoutCap: 15 * time.Second, bodyCapBytes: 256 << 10, enforceEndpoints: true, enforceMethods: true},
}

// restrictions is the outcome of applying a Config's sandbox level to one
// request: a resolved timeout, a resolved body cap, and the list of
// restriction names actually enforced (spec §4.9 step 7: "audit record with
// restrictions_applied list").
type restrictions struct {
	timeout time.Duration
	bodyCap int64
	applied []string
}

// applySandbox implements spec §4.9 step 4: restrictions are computed and
// validated before any network I/O. endpoint is the request's endpoint path
// (not the full URL) for allowlist/blocklist/method comparisons.
func applySandbox(c Config, method, endpoint string, tokenIntegrationTimeout int) (restrictions, error) {
	limits := sandboxTable[c.SandboxLevel]
	var applied []string

	timeout := time.Duration(c.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if limits.timeoutCap > 0 && (timeout <= 0 || timeout > limits.timeoutCap) {
		timeout = limits.timeoutCap
		applied = append(applied, fmt.Sprintf("timeout_capped_%ds", int(limits.timeoutCap.Seconds())))
	}
	if tokenIntegrationTimeout > 0 {
		if tt := time.Duration(tokenIntegrationTimeout) * time.Second; tt < timeout {
			timeout = tt
			applied = append(applied, "timeout_capped_by_token")
		}
	}

	bodyCap := c.MaxResponseSizeBytes
	if limits.bodyCapBytes > 0 && (bodyCap <= 0 || bodyCap > limits.bodyCapBytes) {
		bodyCap = limits.bodyCapBytes
		applied = append(applied, fmt.Sprintf("body_capped_%d_bytes", limits.bodyCapBytes))
	}

	if limits.enforceEndpoints {
		if err := checkEndpoint(c, endpoint); err != nil {
			return restrictions{}, err
		}
		if len(c.AllowedEndpoints) > 0 || len(c.BlockedEndpoints) > 0 {
			applied = append(applied, "endpoint_allowlist_enforced")
		}
	}

	if limits.enforceMethods {
		allowed := c.AllowedMethods
		if len(allowed) == 0 {
			allowed = []string{"GET", "POST"}
		}
		if !containsFold(allowed, method) {
			return restrictions{}, fabricerr.New(fabricerr.SandboxViolation,
				fmt.Sprintf("method %s not permitted under sandbox_level=strict (allowed: %s)", method, strings.Join(allowed, ",")))
		}
		applied = append(applied, "method_restricted")
	}

	return restrictions{timeout: timeout, bodyCap: bodyCap, applied: applied}, nil
}

// checkEndpoint enforces the allowlist (if set) and blocklist (spec §4.9:
// "enforced if set; blocklist enforced").
func checkEndpoint(c Config, endpoint string) error {
	for _, blocked := range c.BlockedEndpoints {
		if endpoint == blocked {
			return fabricerr.New(fabricerr.SandboxViolation, fmt.Sprintf("endpoint %s is blocked", endpoint))
		}
	}
	if len(c.AllowedEndpoints) > 0 && !contains(c.AllowedEndpoints, endpoint) {
		return fabricerr.New(fabricerr.SandboxViolation, fmt.Sprintf("endpoint %s is not in the allowlist", endpoint))
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func containsFold(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}
