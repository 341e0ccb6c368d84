package grantd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"pkt.systems/grantd/internal/core"
)

const (
	// DefaultListen is the default TCP endpoint the server binds to.
	DefaultListen = ":8000"
	// DefaultMetricsListen is the default metrics endpoint (Prometheus scrape).
	// Empty disables metrics unless explicitly configured.
	DefaultMetricsListen = ""
	// DefaultPprofListen is the default pprof debug listener (empty disables).
	DefaultPprofListen = ""
	// DefaultCodeTTL bounds how long an unredeemed authorization code stays valid.
	DefaultCodeTTL = 10 * time.Minute
	// DefaultAccessTokenTTL bounds access token lifetime.
	DefaultAccessTokenTTL = time.Hour
	// DefaultRefreshTokenTTL bounds how long a refresh token can rotate its pair.
	DefaultRefreshTokenTTL = 720 * time.Hour
	// DefaultSweeperInterval sets the tick frequency for expiry sweeps.
	DefaultSweeperInterval = time.Minute
	// DefaultFormMaxBytes caps accepted form bodies on the token endpoints.
	DefaultFormMaxBytes = 64 << 10
	// DefaultClientID is the client registered when no clients are configured.
	DefaultClientID = "LocalClient"
	// DefaultClientRedirectURI is the default client's registered redirect.
	DefaultClientRedirectURI = "http://localhost:8000/clientside/endpoint"
	// DefaultClientScope is the default client's maximum scope.
	DefaultClientScope = "default-scope"
	// DefaultResourceScope is the scope the built-in protected resource demands.
	DefaultResourceScope = "default-scope"
	// DefaultConfigFileName is the config file searched for when --config is omitted.
	DefaultConfigFileName = "config.yaml"
)

// ClientConfig declares one registered OAuth2 client.
type ClientConfig struct {
	// ID is the public client identifier.
	ID string
	// RedirectURI is the client's single registered redirect.
	RedirectURI string
	// Scope is the space-delimited maximum scope the client may be granted.
	Scope string
}

// Config captures the tunables for a grantd.Server instance.
type Config struct {
	// Listen is the server bind address (for example ":8000").
	Listen string
	// MetricsListen is the metrics endpoint bind address; empty disables metrics.
	MetricsListen string
	// MetricsListenSet reports whether MetricsListen was explicitly set by caller/flags/env.
	MetricsListenSet bool
	// PprofListen is the pprof endpoint bind address; empty disables pprof.
	PprofListen string
	// PprofListenSet reports whether PprofListen was explicitly set by caller/flags/env.
	PprofListenSet bool
	// EnableProfilingMetrics enables runtime profiling metrics on the metrics endpoint.
	EnableProfilingMetrics bool
	// SessionSecret signs and validates resource-owner session cookies.
	// Empty means no session can be validated and all consent is denied.
	SessionSecret string
	// CodeTTL bounds how long an unredeemed authorization code stays valid.
	CodeTTL time.Duration
	// AccessTokenTTL bounds access token lifetime.
	AccessTokenTTL time.Duration
	// RefreshTokenTTL bounds refresh token lifetime.
	RefreshTokenTTL time.Duration
	// SweeperInterval controls expiry sweep cadence; <= 0 falls back to default.
	SweeperInterval time.Duration
	// FormMaxBytes caps accepted form bodies on the token endpoints.
	FormMaxBytes int64
	// ResourceScope is the space-delimited scope the protected resource demands.
	ResourceScope string
	// Clients are the registered OAuth2 clients. Empty registers the default
	// local development client.
	Clients []ClientConfig
	// OTLPEndpoint enables OTLP trace export to the given collector endpoint.
	OTLPEndpoint string
	// DisableHTTPTracing disables OpenTelemetry spans for HTTP handlers.
	DisableHTTPTracing bool
}

// Validate applies defaults and rejects inconsistent settings.
func (c *Config) Validate() error {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if !c.MetricsListenSet && c.MetricsListen == "" {
		c.MetricsListen = DefaultMetricsListen
	}
	if !c.PprofListenSet && c.PprofListen == "" {
		c.PprofListen = DefaultPprofListen
	}
	if c.EnableProfilingMetrics && c.MetricsListen == "" {
		return fmt.Errorf("config: profiling metrics require metrics-listen")
	}
	if c.CodeTTL < 0 {
		return fmt.Errorf("config: code ttl must be >= 0")
	}
	if c.CodeTTL == 0 {
		c.CodeTTL = DefaultCodeTTL
	}
	if c.AccessTokenTTL < 0 {
		return fmt.Errorf("config: access token ttl must be >= 0")
	}
	if c.AccessTokenTTL == 0 {
		c.AccessTokenTTL = DefaultAccessTokenTTL
	}
	if c.RefreshTokenTTL < 0 {
		return fmt.Errorf("config: refresh token ttl must be >= 0")
	}
	if c.RefreshTokenTTL == 0 {
		c.RefreshTokenTTL = DefaultRefreshTokenTTL
	}
	if c.RefreshTokenTTL < c.AccessTokenTTL {
		return fmt.Errorf("config: refresh token ttl must be >= access token ttl")
	}
	if c.SweeperInterval <= 0 {
		c.SweeperInterval = DefaultSweeperInterval
	}
	if c.FormMaxBytes <= 0 {
		c.FormMaxBytes = DefaultFormMaxBytes
	}
	if c.ResourceScope == "" {
		c.ResourceScope = DefaultResourceScope
	}
	if len(c.Clients) == 0 {
		c.Clients = []ClientConfig{{
			ID:          DefaultClientID,
			RedirectURI: DefaultClientRedirectURI,
			Scope:       DefaultClientScope,
		}}
	}
	seen := make(map[string]struct{}, len(c.Clients))
	for i, client := range c.Clients {
		if client.ID == "" {
			return fmt.Errorf("config: client %d: id is required", i)
		}
		if client.RedirectURI == "" {
			return fmt.Errorf("config: client %q: redirect uri is required", client.ID)
		}
		if _, dup := seen[client.ID]; dup {
			return fmt.Errorf("config: duplicate client id %q", client.ID)
		}
		seen[client.ID] = struct{}{}
	}
	return nil
}

// DefaultConfigDir resolves the directory searched for the default config
// file. GRANTD_CONFIG_DIR overrides the $HOME/.grantd default.
func DefaultConfigDir() (string, error) {
	if override := strings.TrimSpace(os.Getenv("GRANTD_CONFIG_DIR")); override != "" {
		if filepath.IsAbs(override) {
			return override, nil
		}
		abs, err := filepath.Abs(override)
		if err != nil {
			return "", err
		}
		return abs, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".grantd"), nil
}

func (c Config) clientList() []core.Client {
	clients := make([]core.Client, 0, len(c.Clients))
	for _, cc := range c.Clients {
		clients = append(clients, core.Client{
			ID:          cc.ID,
			RedirectURI: cc.RedirectURI,
			Scope:       core.ParseScope(cc.Scope),
			Public:      true,
		})
	}
	return clients
}
