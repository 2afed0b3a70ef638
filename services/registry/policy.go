package registry

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Policy is the server-wide license gate for registry downloads. A nil
// *Policy means no policy is configured and everything is allowed.
type Policy struct {
	// AllowTosAutoAccept records whether the operator lets the server
	// accept a model's terms on the user's behalf. Downloads are not
	// blocked on it today; the flag is kept for the download subsystem.
	AllowTosAutoAccept bool `yaml:"allow_tos_auto_accept"`

	// AllowedLicenses is the operator's allow-list of license tokens.
	// Empty means allow everything.
	AllowedLicenses []string `yaml:"allowed_licenses"`
}

// Allowed evaluates the gate for one model version. An empty or absent
// allow-list is fail-open; a panic during evaluation is fail-closed.
//
// Tokens containing "noncommercial" allow the model regardless of its
// actual commercial flag. That matches long-standing observed behavior
// and is relied on by operators; do not "fix" it here.
func (p *Policy) Allowed(v *ModelVersion) (allowed bool) {
	defer func() {
		if r := recover(); r != nil {
			allowed = false
		}
	}()

	if p == nil {
		return true
	}
	if len(p.AllowedLicenses) == 0 {
		return true
	}
	if !v.HasCommercialUse() {
		return true
	}

	commercial := v.CommercialUse()
	for _, license := range p.AllowedLicenses {
		token := strings.ToLower(strings.TrimSpace(license))
		switch {
		case strings.Contains(token, "commercial") && commercial != "none":
			return true
		case strings.Contains(token, "noncommercial") || strings.Contains(token, "non-commercial"):
			return true
		case token == "*" || token == "all":
			return true
		}
	}
	return false
}

// FileConfig is the registry section of the service's YAML config file:
// the license policy plus per-user API keys.
type FileConfig struct {
	Registry struct {
		Policy        `yaml:",inline"`
		DefaultAPIKey string            `yaml:"default_api_key"`
		UserAPIKeys   map[string]string `yaml:"user_api_keys"`
	} `yaml:"registry"`
}

// Keys looks up per-user registry API keys. A user without a key of
// their own falls back to the operator default; an empty result skips
// the registry tier entirely.
type Keys struct {
	defaultKey string
	byUser     map[string]string
}

// KeyFor returns the API key for a user, or "" if none is configured.
func (k Keys) KeyFor(userID string) string {
	if key, ok := k.byUser[userID]; ok && key != "" {
		return key
	}
	return k.defaultKey
}

// NewKeys builds a Keys lookup from explicit values.
func NewKeys(defaultKey string, byUser map[string]string) Keys {
	return Keys{defaultKey: defaultKey, byUser: byUser}
}

// LoadFile reads the policy and key configuration from a YAML file. A
// missing path yields a nil policy and empty keys, which is the
// fail-open default.
func LoadFile(path string) (*Policy, Keys, error) {
	if path == "" {
		return nil, Keys{}, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, Keys{}, fmt.Errorf("read policy file: %w", err)
	}

	var cfg FileConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, Keys{}, fmt.Errorf("parse policy file: %w", err)
	}

	policy := cfg.Registry.Policy
	keys := NewKeys(cfg.Registry.DefaultAPIKey, cfg.Registry.UserAPIKeys)
	return &policy, keys, nil
}
