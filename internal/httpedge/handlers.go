package httpedge

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gt-edge-ai/capfabric/internal/fabricerr"
	"github.com/gt-edge-ai/capfabric/internal/telemetry"
	"github.com/gt-edge-ai/capfabric/pkg/apikey"
	"github.com/gt-edge-ai/capfabric/pkg/captoken"
	"github.com/gt-edge-ai/capfabric/pkg/mcpserver"
	"github.com/gt-edge-ai/capfabric/pkg/tenantpath"
)

// Deps bundles the components the two contractual endpoints (spec §6)
// dispatch into. Each request resolves its own tenantpath.Root from the
// request's tenant_domain field rather than holding one globally, per spec
// §9's "no global per-tenant singleton" redesign note.
type Deps struct {
	DataRoot string
	APIKeys  *apikey.Service
	Codec    *captoken.Codec
	MCP      *mcpserver.Dispatcher
	TokenTTL time.Duration
	Logger   *slog.Logger
}

// validateAPIKeyRequest is the input to POST /v1/validate-api-key.
type validateAPIKeyRequest struct {
	RawKey       string `json:"raw_key"`
	TenantDomain string `json:"tenant_domain"`
	Endpoint     string `json:"endpoint"`
	ClientIP     string `json:"client_ip"`
}

// validateAPIKeyResponse is spec §6's exact response shape.
type validateAPIKeyResponse struct {
	Valid              bool   `json:"valid"`
	ErrorMessage       string `json:"error_message,omitempty"`
	CapabilityToken    string `json:"capability_token,omitempty"`
	RateLimitRemaining *int   `json:"rate_limit_remaining,omitempty"`
	QuotaRemaining     *int   `json:"quota_remaining,omitempty"`
}

// HandleValidateAPIKey implements the validate-api-key endpoint (spec §6).
func (d *Deps) HandleValidateAPIKey(w http.ResponseWriter, r *http.Request) {
	var req validateAPIKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Respond(w, http.StatusBadRequest, validateAPIKeyResponse{Valid: false, ErrorMessage: "malformed request body"})
		return
	}

	tenant := req.TenantDomain
	if tenant == "" {
		if seg, ok := apikey.TenantFromRawKey(req.RawKey); ok {
			tenant = seg
		}
	}
	root, err := tenantpath.RootFor(d.DataRoot, tenant)
	if err != nil {
		Respond(w, http.StatusOK, validateAPIKeyResponse{Valid: false, ErrorMessage: "invalid tenant_domain"})
		return
	}

	k, err := d.APIKeys.Validate(root, req.RawKey, req.Endpoint, req.ClientIP)
	if err != nil {
		d.Logger.Warn("api key validation denied", "tenant", root.Segment(), "endpoint", req.Endpoint, "kind", fabricerr.KindOf(err))
		telemetry.APIKeyValidationsTotal.WithLabelValues("denied").Inc()
		Respond(w, http.StatusOK, validateAPIKeyResponse{Valid: false, ErrorMessage: reasonOf(err)})
		return
	}

	token, err := d.APIKeys.GenerateCapabilityToken(d.Codec, k, k.OwnerID, d.TokenTTL)
	if err != nil {
		d.Logger.Error("minting capability token", "tenant", root.Segment(), "error", err)
		Respond(w, http.StatusOK, validateAPIKeyResponse{Valid: false, ErrorMessage: "failed to mint capability token"})
		return
	}
	telemetry.TokensMintedTotal.WithLabelValues(root.Segment()).Inc()
	telemetry.APIKeyValidationsTotal.WithLabelValues("valid").Inc()

	remaining := d.APIKeys.RateLimitRemaining(k)
	quota := k.RateLimits.QuotaCredits
	Respond(w, http.StatusOK, validateAPIKeyResponse{
		Valid:              true,
		CapabilityToken:    token,
		RateLimitRemaining: &remaining,
		QuotaRemaining:     &quota,
	})
}

// executeMCPToolRequest is spec §6's exact request shape.
type executeMCPToolRequest struct {
	ServerID        string         `json:"server_id"`
	ToolName        string         `json:"tool_name"`
	Parameters      map[string]any `json:"parameters"`
	CapabilityToken string         `json:"capability_token"`
	TenantDomain    string         `json:"tenant_domain"`
	UserID          string         `json:"user_id"`
}

type executeMCPToolResponse struct {
	Success bool           `json:"success"`
	Result  map[string]any `json:"result,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// HandleExecuteMCPTool implements the execute-MCP-tool endpoint (spec §6,
// §4.10).
func (d *Deps) HandleExecuteMCPTool(w http.ResponseWriter, r *http.Request) {
	var req executeMCPToolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, http.StatusBadRequest, "invalid_input", "malformed request body")
		return
	}

	root, err := tenantpath.RootFor(d.DataRoot, req.TenantDomain)
	if err != nil {
		RespondError(w, http.StatusBadRequest, "invalid_tenant", "invalid tenant_domain")
		return
	}

	token, err := d.Codec.Verify(req.CapabilityToken, root.Segment())
	if err != nil {
		d.Logger.Warn("mcp tool call rejected: token verification failed", "tenant", root.Segment(), "error", err)
		Respond(w, statusForKind(fabricerr.InvalidToken), executeMCPToolResponse{Success: false, Error: "invalid or expired capability token"})
		return
	}

	result, err := d.MCP.Invoke(r.Context(), root, mcpserver.InvokeRequest{
		ResourceID: req.ServerID,
		ToolName:   req.ToolName,
		Params:     req.Parameters,
		User:       req.UserID,
	}, token)
	if err != nil {
		kind := fabricerr.KindOf(err)
		telemetry.MCPToolInvocationsTotal.WithLabelValues(req.ServerID, string(kind)).Inc()
		Respond(w, statusForKind(kind), executeMCPToolResponse{Success: false, Error: reasonOf(err)})
		return
	}

	telemetry.MCPToolInvocationsTotal.WithLabelValues(req.ServerID, "success").Inc()
	Respond(w, http.StatusOK, executeMCPToolResponse{Success: true, Result: result})
}

// reasonOf returns a fabric error's short, user-safe reason, or the raw
// error text for anything that didn't originate from fabricerr (spec §7:
// "user-visible failures include a short reason string; internal details
// go to audit only").
func reasonOf(err error) string {
	var fe *fabricerr.Error
	if errors.As(err, &fe) {
		return fe.Reason
	}
	return err.Error()
}

// statusForKind maps a fabric error Kind to the HTTP status the edge
// returns (spec §6/§7 don't fix status codes for the two contractual
// endpoints beyond their JSON envelopes; this follows the conventional
// mapping the teacher's auth/tenant middleware uses for the same kinds).
func statusForKind(kind fabricerr.Kind) int {
	switch kind {
	case fabricerr.InvalidInput, fabricerr.InvalidTenant:
		return http.StatusBadRequest
	case fabricerr.InvalidToken, fabricerr.CrossTenant, fabricerr.PermissionDenied:
		return http.StatusForbidden
	case fabricerr.NotFound:
		return http.StatusNotFound
	case fabricerr.RateLimited:
		return http.StatusTooManyRequests
	case fabricerr.QuotaExceeded:
		return http.StatusPaymentRequired
	case fabricerr.Timeout:
		return http.StatusRequestTimeout
	case fabricerr.SandboxViolation:
		return http.StatusForbidden
	case fabricerr.UpstreamFailure:
		return http.StatusBadGateway
	case fabricerr.ChainDepthExceeded, fabricerr.IntegrityError:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
