package integration

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gt-edge-ai/capfabric/internal/fabricerr"
	"github.com/gt-edge-ai/capfabric/internal/store"
	"github.com/gt-edge-ai/capfabric/pkg/captoken"
	"github.com/gt-edge-ai/capfabric/pkg/ratelimit"
	"github.com/gt-edge-ai/capfabric/pkg/tenantpath"
)

// ExecuteRequest is the input to Proxy.Execute: the caller-chosen endpoint,
// method, and body for one call against an already-registered integration.
type ExecuteRequest struct {
	IntegrationID string
	Method        string
	Endpoint      string
	Body          map[string]any
	Headers       map[string]string
}

// ProxyResponse is spec §4.9's ProxyResponse: timeouts yield
// {success:false, status:408}, other transport errors yield
// {success:false, status:500, error_message}, 2xx yields {success:true}.
type ProxyResponse struct {
	Success             bool           `json:"success"`
	Status              int            `json:"status"`
	Body                map[string]any `json:"body,omitempty"`
	ErrorMessage        string         `json:"error_message,omitempty"`
	RestrictionsApplied []string       `json:"restrictions_applied,omitempty"`
}

// Proxy implements C9's execute_integration pipeline (spec §4.9).
type Proxy struct {
	configs *ConfigStore
	usage   *store.AsyncAppender
	audit   *store.AsyncAppender
	logger  *slog.Logger

	dispatchersMu sync.RWMutex
	dispatchers   map[string]Dispatcher

	limitsMu sync.Mutex
	limits   map[string]*ratelimit.Limiter

	gate SandboxGate
}

// NewProxy wires a Proxy. A slack-go-backed dispatcher for
// integration_type=="slack" is registered by default and every other type
// falls back to the generic HTTP dispatcher; RegisterDispatcher adds more.
func NewProxy(configs *ConfigStore, usage, audit *store.AsyncAppender, logger *slog.Logger) *Proxy {
	p := &Proxy{
		configs:     configs,
		usage:       usage,
		audit:       audit,
		logger:      logger,
		dispatchers: make(map[string]Dispatcher),
		limits:      make(map[string]*ratelimit.Limiter),
	}
	p.RegisterDispatcher("slack", slackDispatcher{})
	return p
}

// RegisterDispatcher associates a Dispatcher with an integration_type value.
// Types with no registered dispatcher fall back to the generic HTTP adapter.
func (p *Proxy) RegisterDispatcher(integrationType string, d Dispatcher) {
	p.dispatchersMu.Lock()
	defer p.dispatchersMu.Unlock()
	p.dispatchers[integrationType] = d
}

func (p *Proxy) dispatcherFor(integrationType string) Dispatcher {
	p.dispatchersMu.RLock()
	d, ok := p.dispatchers[integrationType]
	p.dispatchersMu.RUnlock()
	if ok {
		return d
	}
	return newHTTPDispatcher()
}

// Execute implements spec §4.9's numbered pipeline end to end.
func (p *Proxy) Execute(ctx context.Context, root tenantpath.Root, req ExecuteRequest, token *captoken.TokenData) (ProxyResponse, error) {
	// 1. load config, require active.
	cfg, err := p.configs.Get(root, req.IntegrationID)
	if err != nil {
		return ProxyResponse{}, err
	}
	if !cfg.IsActive {
		return ProxyResponse{}, fabricerr.New(fabricerr.InvalidInput, "integration is not active")
	}

	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}

	// 2. capability gate: integration:<id>:<method_lowercase>, wildcard-matched.
	required := fmt.Sprintf("integration:%s:%s", cfg.ID, strings.ToLower(method))
	if !captoken.HasCapability(token.Capabilities, required) {
		p.recordAudit(root, cfg, req, nil, "permission_denied: missing capability "+required)
		return ProxyResponse{}, fabricerr.New(fabricerr.PermissionDenied, "missing capability "+required)
	}

	// 3. sliding 1-hour rate limit.
	if !p.limiterFor(cfg).Allow(cfg.ID) {
		p.recordAudit(root, cfg, req, nil, "rate_limited")
		return ProxyResponse{}, fabricerr.New(fabricerr.RateLimited, "integration rate limit exceeded")
	}

	// 4. sandbox restrictions, computed before any network I/O.
	rest, err := applySandbox(cfg, method, req.Endpoint, token.IntegrationTimeoutSeconds())
	if err != nil {
		p.recordAudit(root, cfg, req, nil, err.Error())
		return ProxyResponse{}, err
	}

	// 4b. external sandbox veto, if a SandboxGate is wired.
	if p.gate != nil {
		if err := p.gate.Allow(ctx, cfg, method, req.Endpoint); err != nil {
			p.recordAudit(root, cfg, req, nil, err.Error())
			return ProxyResponse{}, err
		}
	}

	// 5. build URL and apply authentication.
	url := req.Endpoint
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		url = strings.TrimSuffix(cfg.BaseURL, "/") + "/" + strings.TrimPrefix(req.Endpoint, "/")
	}
	outbound := Request{
		Method:  method,
		URL:     url,
		Headers: req.Headers,
		Body:    req.Body,
		Timeout: rest.timeout,
		BodyCap: rest.bodyCap,
	}
	if err := applyAuth(cfg, &outbound); err != nil {
		p.recordAudit(root, cfg, req, nil, err.Error())
		return ProxyResponse{}, err
	}

	// 6. execute, enforcing timeout/size caps.
	resp, dispatchErr := p.dispatcherFor(cfg.IntegrationType).Do(ctx, outbound)

	result := ProxyResponse{RestrictionsApplied: rest.applied}
	if dispatchErr != nil {
		switch {
		case fabricerr.Is(dispatchErr, fabricerr.Timeout):
			result.Status = http.StatusRequestTimeout
			result.ErrorMessage = dispatchErr.Error()
		default:
			result.Status = http.StatusInternalServerError
			result.ErrorMessage = dispatchErr.Error()
		}
		result.Success = false
	} else {
		result.Status = resp.StatusCode
		result.Body = resp.Body
		result.Success = resp.StatusCode >= 200 && resp.StatusCode < 300
	}

	// 7. usage + audit records.
	p.recordUsage(root, cfg, req, result)
	detail := "ok"
	if !result.Success {
		detail = result.ErrorMessage
		if detail == "" {
			detail = fmt.Sprintf("status_%d", result.Status)
		}
	}
	p.recordAudit(root, cfg, req, &result, detail)

	return result, nil
}

func (p *Proxy) limiterFor(cfg Config) *ratelimit.Limiter {
	p.limitsMu.Lock()
	defer p.limitsMu.Unlock()
	l, ok := p.limits[cfg.ID]
	if !ok {
		perHour := cfg.MaxRequestsPerHour
		if perHour <= 0 {
			perHour = 1000
		}
		l = ratelimit.New(ratelimit.Window{Limit: perHour, Period: time.Hour})
		p.limits[cfg.ID] = l
	}
	return l
}

func (p *Proxy) recordUsage(root tenantpath.Root, cfg Config, req ExecuteRequest, result ProxyResponse) {
	if p.usage == nil {
		return
	}
	now := time.Now().UTC()
	p.usage.Enqueue(root.IntegrationUsageLogFile(now.Format("2006-01-02")), map[string]any{
		"integration_id": cfg.ID,
		"method":         req.Method,
		"endpoint":       req.Endpoint,
		"status":         result.Status,
		"success":        result.Success,
		"at":             now,
	})
}

func (p *Proxy) recordAudit(root tenantpath.Root, cfg Config, req ExecuteRequest, result *ProxyResponse, detail string) {
	if p.audit == nil {
		return
	}
	now := time.Now().UTC()
	entry := map[string]any{
		"integration_id": cfg.ID,
		"method":         req.Method,
		"endpoint":       req.Endpoint,
		"detail":         detail,
		"at":             now,
	}
	if result != nil {
		entry["restrictions_applied"] = result.RestrictionsApplied
		entry["status"] = result.Status
	}
	p.audit.Enqueue(root.IntegrationAuditLogFile(now.Format("2006-01-02")), entry)
}
