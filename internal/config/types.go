package config

// StoreDriver selects the cache store backend.
type StoreDriver string

const (
	DriverSQLite StoreDriver = "sqlite"
	DriverBadger StoreDriver = "badger"
	DriverMemory StoreDriver = "memory"
)

// Config is the top-level sitecache configuration, corresponding to .sitecache.yml.
// It is built once at startup and never mutated afterwards.
type Config struct {
	Scope         string      `yaml:"scope" koanf:"scope"`
	Upstream      string      `yaml:"upstream" koanf:"upstream"`
	Port          int         `yaml:"port" koanf:"port"`
	AssetsCache   string      `yaml:"assets_cache" koanf:"assets_cache"`
	PagesCache    string      `yaml:"pages_cache" koanf:"pages_cache"`
	Precache      []string    `yaml:"precache" koanf:"precache"`
	OfflineURL    string      `yaml:"offline_url" koanf:"offline_url"`
	AssetPatterns []string    `yaml:"asset_patterns" koanf:"asset_patterns"`
	Store         StoreConfig `yaml:"store" koanf:"store"`
	Metrics       bool        `yaml:"metrics" koanf:"metrics"`
	AuditPath     string      `yaml:"audit_path" koanf:"audit_path"` // empty disables the audit trail
}

// StoreConfig holds cache store settings.
type StoreConfig struct {
	Driver StoreDriver `yaml:"driver" koanf:"driver"`
	Path   string      `yaml:"path" koanf:"path"`
}

// ExpectedCaches returns the partition names that may survive activation.
func (c *Config) ExpectedCaches() []string {
	return []string{c.AssetsCache, c.PagesCache}
}
