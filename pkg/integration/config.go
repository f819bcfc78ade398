// Package integration implements C9: the sandboxed outbound integration
// proxy (spec §4.9). A Proxy loads an IntegrationConfig, enforces capability,
// rate-limit, and sandbox-level gates before any network I/O, dispatches the
// call through the adapter registered for the config's integration_type, and
// records usage/audit entries.
package integration

import (
	"time"

	"github.com/gt-edge-ai/capfabric/internal/store"
	"github.com/gt-edge-ai/capfabric/pkg/tenantpath"
)

// AuthMethod is one of the three ways a Proxy authenticates an outbound call.
type AuthMethod string

const (
	AuthAPIKey    AuthMethod = "api_key"
	AuthBasicAuth AuthMethod = "basic_auth"
	AuthOAuth2    AuthMethod = "oauth2"
)

// SandboxLevel is one of the four sandbox restriction tiers spec §4.9's
// table defines.
type SandboxLevel string

const (
	SandboxNone       SandboxLevel = "none"
	SandboxBasic      SandboxLevel = "basic"
	SandboxRestricted SandboxLevel = "restricted"
	SandboxStrict     SandboxLevel = "strict"
)

// Config is the persisted integration configuration (spec §3 "Integration
// config").
type Config struct {
	ID                   string         `json:"id"`
	Name                 string         `json:"name"`
	IntegrationType      string         `json:"integration_type"`
	BaseURL              string         `json:"base_url"`
	AuthMethod           AuthMethod     `json:"auth_method"`
	SandboxLevel         SandboxLevel   `json:"sandbox_level"`
	AuthConfig           map[string]any `json:"auth_config,omitempty"`
	MaxRequestsPerHour   int            `json:"max_requests_per_hour"`
	MaxResponseSizeBytes int64          `json:"max_response_size_bytes"`
	TimeoutSeconds       int            `json:"timeout_seconds"`
	AllowedMethods       []string       `json:"allowed_methods,omitempty"`
	AllowedEndpoints     []string       `json:"allowed_endpoints,omitempty"`
	BlockedEndpoints     []string       `json:"blocked_endpoints,omitempty"`
	IsActive             bool           `json:"is_active"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
}

// ConfigStore is the CRUD layer over integration configurations.
type ConfigStore struct {
	configs *store.JSONStore[Config]
}

// NewConfigStore wires a ConfigStore sharing the process-wide lock map.
func NewConfigStore(locks *store.PathLocks) *ConfigStore {
	return &ConfigStore{configs: store.NewJSONStore[Config](locks)}
}

// Create persists a new integration configuration.
func (s *ConfigStore) Create(root tenantpath.Root, c Config) (Config, error) {
	now := time.Now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now
	if err := s.configs.Write(root.IntegrationConfigFile(c.ID), c); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Get loads one integration configuration by ID.
func (s *ConfigStore) Get(root tenantpath.Root, id string) (Config, error) {
	return s.configs.Read(root.IntegrationConfigFile(id))
}

// Update overwrites an integration configuration.
func (s *ConfigStore) Update(root tenantpath.Root, c Config) (Config, error) {
	c.UpdatedAt = time.Now().UTC()
	if err := s.configs.Write(root.IntegrationConfigFile(c.ID), c); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Delete removes an integration configuration.
func (s *ConfigStore) Delete(root tenantpath.Root, id string) error {
	return s.configs.Delete(root.IntegrationConfigFile(id))
}

// List returns every integration configuration under root.
func (s *ConfigStore) List(root tenantpath.Root) ([]Config, error) {
	return store.ListDir[Config](root.IntegrationConfigDir())
}
