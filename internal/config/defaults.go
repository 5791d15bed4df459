package config

// DefaultPrecache is the manifest of critical URLs stored at install time.
var DefaultPrecache = []string{
	"/assets/css/main.css",
	"/assets/js/main.js",
	"/manifest.json",
	"/offline.html",
}

// DefaultAssetPatterns are the path globs served cache-first.
var DefaultAssetPatterns = []string{
	"/css/**",
	"/fonts/**",
	"/js/**",
	"/assets/**",
}

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Upstream:      "http://localhost:4000",
		Port:          8080,
		AssetsCache:   "assets-v1.2",
		PagesCache:    "pages-v1.2",
		Precache:      append([]string(nil), DefaultPrecache...),
		OfflineURL:    "/offline.html",
		AssetPatterns: append([]string(nil), DefaultAssetPatterns...),
		Store: StoreConfig{
			Driver: DriverSQLite,
			Path:   ".sitecache/cache.db",
		},
		Metrics:   true,
		AuditPath: ".sitecache/audit.db",
	}
}
