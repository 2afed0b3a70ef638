package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"modelscout/services/prompts"
	"modelscout/services/resolver"
)

// DefaultBaseURL is the public registry API root.
const DefaultBaseURL = "https://civitai.com/api/v1"

// DefaultTimeout bounds registry calls so one slow lookup cannot stall
// a whole import job.
const DefaultTimeout = 30 * time.Second

// Denial reasons surfaced on conclusively rejected dependencies.
const (
	ReasonLicenseDenied = "model license not accepted or allowed by policy"
	ReasonNoDownloadURL = "could not get download URL from registry"
)

// Client performs model-version lookups against the registry and
// implements resolver.Registry.
type Client struct {
	baseURL string
	http    *http.Client
	policy  *Policy
	log     zerolog.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithBaseURL points the client at a different API root (tests, mirrors).
func WithBaseURL(base string) Option {
	return func(c *Client) { c.baseURL = base }
}

// WithTimeout overrides the per-call HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// WithHTTPClient swaps the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// NewClient builds a registry client with the given license policy.
// The policy is injected here once, never read from ambient state at
// call time.
func NewClient(policy *Policy, log zerolog.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		http: &http.Client{
			Timeout:   DefaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		policy: policy,
		log:    log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Resolve implements resolver.Registry. A missing API key is a
// configuration gap, not a resolution failure: the tier skips silently.
func (c *Client) Resolve(ctx context.Context, apiKey string, dep prompts.Dependency) (resolver.Outcome, error) {
	if apiKey == "" {
		c.log.Debug().Str("reference", dep.Reference).Msg("registry API key not configured, skipping registry tier")
		return resolver.None(), nil
	}

	var (
		version *ModelVersion
		err     error
	)
	if dep.SHA256 != "" {
		version, err = c.LookupByHash(ctx, apiKey, dep.SHA256)
		if err != nil {
			return resolver.None(), err
		}
	}
	if version == nil && dep.RegistryVersionID != "" {
		version, err = c.LookupByVersionID(ctx, apiKey, dep.RegistryVersionID)
		if err != nil {
			return resolver.None(), err
		}
	}
	if version == nil {
		c.log.Debug().Str("reference", dep.Reference).Msg("model not found on registry")
		return resolver.None(), nil
	}

	if !c.policy.Allowed(version) {
		c.log.Warn().Str("reference", dep.Reference).Str("license", version.CommercialUse()).Msg("model license not allowed")
		return resolver.Deny(ReasonLicenseDenied), nil
	}

	downloadURL := PrimaryDownloadURL(version)
	if downloadURL == "" {
		return resolver.Deny(ReasonNoDownloadURL), nil
	}

	c.log.Info().Str("reference", dep.Reference).Str("name", version.Name).Msg("scheduling registry download")
	return resolver.ScheduledFrom(resolver.SourceRegistry, version.Name), nil
}

// LookupByHash fetches a model version by its file SHA256.
func (c *Client) LookupByHash(ctx context.Context, apiKey, sha256 string) (*ModelVersion, error) {
	return c.lookup(ctx, apiKey, "/model-versions/by-hash/"+url.PathEscape(sha256))
}

// LookupByVersionID fetches a model version by registry version id.
func (c *Client) LookupByVersionID(ctx context.Context, apiKey, versionID string) (*ModelVersion, error) {
	return c.lookup(ctx, apiKey, "/model-versions/"+url.PathEscape(versionID))
}

// lookup performs one authenticated GET. A 404 is a normal miss
// (nil, nil); other non-2xx statuses are logged and reported as a miss
// so the tier fails quietly.
func (c *Client) lookup(ctx context.Context, apiKey, path string) (*ModelVersion, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("build registry request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("registry request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.log.Warn().Int("status", resp.StatusCode).Str("path", path).Msg("registry API error")
		return nil, nil
	}

	var version ModelVersion
	if err := json.NewDecoder(resp.Body).Decode(&version); err != nil {
		return nil, fmt.Errorf("decode registry response: %w", err)
	}
	return &version, nil
}
