package config

import (
	"fmt"
	"net/url"
	"os"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"
)

// Load reads configuration from the given YAML file, then overlays
// environment variable overrides (SITECACHE_*). A double underscore
// separates nested keys: SITECACHE_STORE__DRIVER -> store.driver.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	// Start from defaults.
	cfg := DefaultConfig()

	// Load YAML file if it exists.
	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("accessing config %s: %w", path, err)
	}

	if err := k.Load(env.Provider("SITECACHE_", ".", func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, "SITECACHE_"))
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env overrides: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	return cfg, nil
}

// Save writes the configuration to the given YAML file path.
func (c *Config) Save(path string) error {
	data, err := yamlv3.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// validDrivers is the set of recognized store drivers.
var validDrivers = map[StoreDriver]bool{
	DriverSQLite: true,
	DriverBadger: true,
	DriverMemory: true,
}

// Validate checks that the configuration contains valid values.
func (c *Config) Validate() error {
	if c.AssetsCache == "" {
		return fmt.Errorf("assets_cache is required")
	}
	if c.PagesCache == "" {
		return fmt.Errorf("pages_cache is required")
	}
	if c.AssetsCache == c.PagesCache {
		return fmt.Errorf("assets_cache and pages_cache must differ, both are %q", c.AssetsCache)
	}

	if err := validateOrigin("upstream", c.Upstream, false); err != nil {
		return err
	}
	if c.Scope != "" {
		if err := validateOrigin("scope", c.Scope, true); err != nil {
			return err
		}
	}

	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}

	for _, p := range c.Precache {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("precache entry %q must be an absolute path", p)
		}
	}
	if c.OfflineURL == "" {
		return fmt.Errorf("offline_url is required")
	}
	if !slices.Contains(c.Precache, c.OfflineURL) {
		return fmt.Errorf("offline_url %q must be listed in precache", c.OfflineURL)
	}

	if len(c.AssetPatterns) == 0 {
		return fmt.Errorf("at least one asset pattern is required")
	}
	for _, p := range c.AssetPatterns {
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("invalid asset pattern %q", p)
		}
	}

	if !validDrivers[c.Store.Driver] {
		return fmt.Errorf("invalid store driver %q: must be one of sqlite, badger, memory", c.Store.Driver)
	}
	if c.Store.Driver != DriverMemory && c.Store.Path == "" {
		return fmt.Errorf("store.path is required for driver %q", c.Store.Driver)
	}

	return nil
}

// validateOrigin checks that raw is an absolute http(s) URL. When
// originOnly is set, a path, query or fragment is rejected.
func validateOrigin(field, raw string, originOnly bool) error {
	if raw == "" {
		return fmt.Errorf("%s is required", field)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", field, raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid %s %q: scheme must be http or https", field, raw)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid %s %q: missing host", field, raw)
	}
	if originOnly && (strings.TrimSuffix(u.Path, "/") != "" || u.RawQuery != "" || u.Fragment != "") {
		return fmt.Errorf("invalid %s %q: must be an origin without a path", field, raw)
	}
	return nil
}
