// Package config carga la configuración desde YAML con overrides por
// variables de entorno. El YAML define la forma; el entorno gana siempre.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dropDatabas3/janus/internal/provider"
)

type Config struct {
	App struct {
		// dev | staging | prod
		Env string `yaml:"env"`
	} `yaml:"app"`

	Server struct {
		Addr               string   `yaml:"addr"`
		CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
	} `yaml:"server"`

	Storage struct {
		// memory | postgres
		Driver   string `yaml:"driver"`
		DSN      string `yaml:"dsn"`
		Postgres struct {
			MaxConns        int    `yaml:"max_conns"`
			MinConns        int    `yaml:"min_conns"`
			ConnMaxLifetime string `yaml:"conn_max_lifetime"`
		} `yaml:"postgres"`
	} `yaml:"storage"`

	Cache struct {
		// memory | redis
		Kind  string `yaml:"kind"`
		Redis struct {
			Addr   string `yaml:"addr"`
			DB     int    `yaml:"db"`
			Prefix string `yaml:"prefix"`
		} `yaml:"redis"`
		Memory struct {
			DefaultTTL string `yaml:"default_ttl"`
		} `yaml:"memory"`
	} `yaml:"cache"`

	Session struct {
		TTL string `yaml:"ttl"`
	} `yaml:"session"`

	Flow struct {
		StateTTL  string `yaml:"state_ttl"`
		ClockSkew string `yaml:"clock_skew"`
		JWKS      struct {
			TTL             string `yaml:"ttl"`
			RefreshInterval string `yaml:"refresh_interval"`
		} `yaml:"jwks"`
	} `yaml:"flow"`

	Rate struct {
		Enabled bool   `yaml:"enabled"`
		Limit   int    `yaml:"limit"`
		Window  string `yaml:"window"`
	} `yaml:"rate"`

	Security struct {
		// base64(32 bytes); también por env JANUS_MASTER_KEY
		SecretBoxMasterKey string `yaml:"secretbox_master_key"`
	} `yaml:"security"`

	Providers []ProviderConfig `yaml:"providers"`
}

// ProviderConfig is one provider block in the YAML. Builtin ids (google,
// github, facebook, microsoft) need no descriptor; custom providers define one
// inline.
type ProviderConfig struct {
	ID           string            `yaml:"id"`
	Enabled      bool              `yaml:"enabled"`
	ClientID     string            `yaml:"client_id"`
	ClientSecret string            `yaml:"client_secret"`
	RedirectURL  string            `yaml:"redirect_url"`
	Scopes       []string          `yaml:"scopes"`
	Extra        map[string]string `yaml:"extra"`

	Descriptor *DescriptorConfig `yaml:"descriptor"`
}

// DescriptorConfig declares a custom provider's static facts.
type DescriptorConfig struct {
	DisplayName      string            `yaml:"display_name"`
	Issuer           string            `yaml:"issuer"`
	AltIssuers       []string          `yaml:"alt_issuers"`
	AuthEndpoint     string            `yaml:"auth_endpoint"`
	TokenEndpoint    string            `yaml:"token_endpoint"`
	UserInfoEndpoint string            `yaml:"userinfo_endpoint"`
	EmailsEndpoint   string            `yaml:"emails_endpoint"`
	JWKSURI          string            `yaml:"jwks_uri"`
	ScopeDelimiter   string            `yaml:"scope_delimiter"`
	ResponseMode     string            `yaml:"response_mode"`
	IdentityChannel  string            `yaml:"identity_channel"`
	PKCE             string            `yaml:"pkce"`
	DefaultScopes    []string          `yaml:"default_scopes"`
	SigningAlgs      []string          `yaml:"signing_algs"`
	PolicyParam      string            `yaml:"policy_param"`
	PolicyIssuers    map[string]string `yaml:"policy_issuers"`
	AcceptJSON       bool              `yaml:"accept_json"`
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}

	// sane defaults
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.Cache.Kind == "" {
		c.Cache.Kind = "memory"
	}
	if c.Cache.Memory.DefaultTTL == "" {
		c.Cache.Memory.DefaultTTL = "2m"
	}
	if c.Session.TTL == "" {
		c.Session.TTL = "24h"
	}
	if c.Flow.StateTTL == "" {
		c.Flow.StateTTL = "10m"
	}
	if c.Flow.ClockSkew == "" {
		c.Flow.ClockSkew = "300s"
	}
	if c.Flow.JWKS.TTL == "" {
		c.Flow.JWKS.TTL = "1h"
	}
	if c.Flow.JWKS.RefreshInterval == "" {
		c.Flow.JWKS.RefreshInterval = "30m"
	}
	if c.Rate.Limit == 0 {
		c.Rate.Limit = 30
	}
	if c.Rate.Window == "" {
		c.Rate.Window = "1m"
	}

	c.applyEnvOverrides()

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks cross-field consistency and that every duration parses.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "memory", "postgres":
	default:
		return fmt.Errorf("config: unknown storage driver %q", c.Storage.Driver)
	}
	if c.Storage.Driver == "postgres" && strings.TrimSpace(c.Storage.DSN) == "" {
		return fmt.Errorf("config: storage.dsn required for postgres")
	}
	switch c.Cache.Kind {
	case "memory", "redis":
	default:
		return fmt.Errorf("config: unknown cache kind %q", c.Cache.Kind)
	}
	if c.Cache.Kind == "redis" && strings.TrimSpace(c.Cache.Redis.Addr) == "" {
		return fmt.Errorf("config: cache.redis.addr required for redis")
	}

	for name, s := range map[string]string{
		"session.ttl":                c.Session.TTL,
		"flow.state_ttl":             c.Flow.StateTTL,
		"flow.clock_skew":            c.Flow.ClockSkew,
		"flow.jwks.ttl":              c.Flow.JWKS.TTL,
		"flow.jwks.refresh_interval": c.Flow.JWKS.RefreshInterval,
		"cache.memory.default_ttl":   c.Cache.Memory.DefaultTTL,
		"rate.window":                c.Rate.Window,
	} {
		if _, err := time.ParseDuration(s); err != nil {
			return fmt.Errorf("config: %s: %w", name, err)
		}
	}
	if s := c.Storage.Postgres.ConnMaxLifetime; s != "" {
		if _, err := time.ParseDuration(s); err != nil {
			return fmt.Errorf("config: storage.postgres.conn_max_lifetime: %w", err)
		}
	}

	seen := map[string]bool{}
	for i := range c.Providers {
		p := &c.Providers[i]
		id := strings.ToLower(strings.TrimSpace(p.ID))
		if id == "" {
			return fmt.Errorf("config: providers[%d] without id", i)
		}
		if seen[id] {
			return fmt.Errorf("config: duplicate provider %q", id)
		}
		seen[id] = true
		if p.Enabled && strings.TrimSpace(p.ClientID) == "" {
			return fmt.Errorf("config: provider %q enabled without client_id", id)
		}
	}
	return nil
}

// Duration returns the parsed duration for an already-validated field.
func Duration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}

// ProviderSettings converts the YAML provider blocks into registry settings.
func (c *Config) ProviderSettings() []provider.Settings {
	out := make([]provider.Settings, 0, len(c.Providers))
	for _, p := range c.Providers {
		s := provider.Settings{
			ID:           p.ID,
			Enabled:      p.Enabled,
			ClientID:     p.ClientID,
			ClientSecret: p.ClientSecret,
			RedirectURL:  p.RedirectURL,
			Scopes:       p.Scopes,
			Extra:        p.Extra,
		}
		if p.Descriptor != nil {
			s.Descriptor = p.Descriptor.toDescriptor()
		}
		out = append(out, s)
	}
	return out
}

func (d *DescriptorConfig) toDescriptor() *provider.Descriptor {
	desc := &provider.Descriptor{
		DisplayName:      d.DisplayName,
		Issuer:           d.Issuer,
		AltIssuers:       d.AltIssuers,
		AuthEndpoint:     d.AuthEndpoint,
		TokenEndpoint:    d.TokenEndpoint,
		UserInfoEndpoint: d.UserInfoEndpoint,
		EmailsEndpoint:   d.EmailsEndpoint,
		JWKSURI:          d.JWKSURI,
		DefaultScopes:    d.DefaultScopes,
		SigningAlgs:      d.SigningAlgs,
		PolicyParam:      d.PolicyParam,
		PolicyIssuers:    d.PolicyIssuers,
		AcceptJSON:       d.AcceptJSON,
	}
	switch strings.ToLower(d.ScopeDelimiter) {
	case "comma":
		desc.ScopeDelimiter = provider.ScopeComma
	default:
		desc.ScopeDelimiter = provider.ScopeSpace
	}
	switch strings.ToLower(d.ResponseMode) {
	case "form_post":
		desc.ResponseMode = provider.ResponseFormPost
	case "fragment":
		desc.ResponseMode = provider.ResponseFragment
	default:
		desc.ResponseMode = provider.ResponseQuery
	}
	switch strings.ToLower(d.IdentityChannel) {
	case "userinfo":
		desc.IdentityChannel = provider.ChannelUserInfo
	default:
		desc.IdentityChannel = provider.ChannelIDToken
	}
	switch strings.ToLower(d.PKCE) {
	case "required":
		desc.PKCE = provider.PKCERequired
	case "unsupported":
		desc.PKCE = provider.PKCEUnsupported
	default:
		desc.PKCE = provider.PKCEOptional
	}
	return desc
}

// ---- Helpers env ----

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}

func getEnvInt(key string) (int, bool) {
	if s, ok := getEnvStr(key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return i, true
		}
	}
	return 0, false
}

func getEnvBool(key string) (bool, bool) {
	if s, ok := getEnvStr(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
			return b, true
		}
	}
	return false, false
}

func getEnvCSV(key string) ([]string, bool) {
	if s, ok := getEnvStr(key); ok {
		if strings.TrimSpace(s) == "" {
			return []string{}, true
		}
		parts := strings.Split(s, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				out = append(out, p)
			}
		}
		return out, true
	}
	return nil, false
}

// applyEnvOverrides: pisa el YAML con variables de entorno.
func (c *Config) applyEnvOverrides() {
	if v, ok := getEnvStr("APP_ENV"); ok {
		c.App.Env = strings.ToLower(v)
	}

	if v, ok := getEnvStr("SERVER_ADDR"); ok {
		c.Server.Addr = v
	}
	if v, ok := getEnvCSV("SERVER_CORS_ALLOWED_ORIGINS"); ok {
		c.Server.CORSAllowedOrigins = v
	}

	if v, ok := getEnvStr("STORAGE_DRIVER"); ok {
		c.Storage.Driver = v
	}
	if v, ok := getEnvStr("STORAGE_DSN"); ok {
		c.Storage.DSN = v
	}
	if v, ok := getEnvInt("POSTGRES_MAX_CONNS"); ok {
		c.Storage.Postgres.MaxConns = v
	}
	if v, ok := getEnvInt("POSTGRES_MIN_CONNS"); ok {
		c.Storage.Postgres.MinConns = v
	}
	if v, ok := getEnvStr("POSTGRES_CONN_MAX_LIFETIME"); ok {
		c.Storage.Postgres.ConnMaxLifetime = v
	}

	if v, ok := getEnvStr("CACHE_KIND"); ok {
		c.Cache.Kind = v
	}
	if v, ok := getEnvStr("REDIS_ADDR"); ok {
		c.Cache.Redis.Addr = v
	}
	if v, ok := getEnvInt("REDIS_DB"); ok {
		c.Cache.Redis.DB = v
	}
	if v, ok := getEnvStr("REDIS_PREFIX"); ok {
		c.Cache.Redis.Prefix = v
	}
	if v, ok := getEnvStr("CACHE_MEMORY_DEFAULT_TTL"); ok {
		c.Cache.Memory.DefaultTTL = v
	}

	if v, ok := getEnvStr("SESSION_TTL"); ok {
		c.Session.TTL = v
	}
	if v, ok := getEnvStr("FLOW_STATE_TTL"); ok {
		c.Flow.StateTTL = v
	}
	if v, ok := getEnvStr("FLOW_CLOCK_SKEW"); ok {
		c.Flow.ClockSkew = v
	}
	if v, ok := getEnvStr("JWKS_TTL"); ok {
		c.Flow.JWKS.TTL = v
	}
	if v, ok := getEnvStr("JWKS_REFRESH_INTERVAL"); ok {
		c.Flow.JWKS.RefreshInterval = v
	}

	if v, ok := getEnvBool("RATE_ENABLED"); ok {
		c.Rate.Enabled = v
	}
	if v, ok := getEnvInt("RATE_LIMIT"); ok {
		c.Rate.Limit = v
	}
	if v, ok := getEnvStr("RATE_WINDOW"); ok {
		c.Rate.Window = v
	}

	// la master key por env pisa siempre al YAML; en prod el YAML no debería
	// llevarla
	if v, ok := getEnvStr("JANUS_MASTER_KEY"); ok {
		c.Security.SecretBoxMasterKey = v
	}

	// overrides puntuales por provider: JANUS_<ID>_CLIENT_ID / _CLIENT_SECRET
	for i := range c.Providers {
		p := &c.Providers[i]
		prefix := "JANUS_" + strings.ToUpper(strings.ReplaceAll(p.ID, "-", "_"))
		if v, ok := getEnvStr(prefix + "_CLIENT_ID"); ok {
			p.ClientID = v
		}
		if v, ok := getEnvStr(prefix + "_CLIENT_SECRET"); ok {
			p.ClientSecret = v
		}
		if v, ok := getEnvStr(prefix + "_REDIRECT_URL"); ok {
			p.RedirectURL = v
		}
		if v, ok := getEnvBool(prefix + "_ENABLED"); ok {
			p.Enabled = v
		}
	}
}
