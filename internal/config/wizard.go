package config

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/manifoldco/promptui"
)

// RunWizard runs an interactive configuration wizard and returns the
// resulting Config. It also saves the config to the given path.
func RunWizard(path string) (*Config, error) {
	fmt.Println("Welcome to sitecache! Let's configure the offline cache for your site.")
	fmt.Println()

	cfg := DefaultConfig()

	// 1. Upstream origin.
	upstreamPrompt := promptui.Prompt{
		Label:   "Site origin to proxy (upstream)",
		Default: cfg.Upstream,
		Validate: func(s string) error {
			return validateOrigin("upstream", s, false)
		},
	}
	upstream, err := upstreamPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("upstream: %w", err)
	}
	cfg.Upstream = upstream

	// 2. Listen port.
	portPrompt := promptui.Prompt{
		Label:   "Listen port",
		Default: strconv.Itoa(cfg.Port),
		Validate: func(s string) error {
			n, err := strconv.Atoi(s)
			if err != nil || n < 1 || n > 65535 {
				return fmt.Errorf("port must be a number between 1 and 65535")
			}
			return nil
		},
	}
	portStr, err := portPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("port: %w", err)
	}
	cfg.Port, _ = strconv.Atoi(portStr)

	// 3. Store backend.
	driverPrompt := promptui.Select{
		Label: "Select cache store",
		Items: []string{
			"sqlite — single file database",
			"badger — embedded key-value store",
			"memory — lost on restart",
		},
	}
	driverIdx, _, err := driverPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("store selection: %w", err)
	}
	drivers := []StoreDriver{DriverSQLite, DriverBadger, DriverMemory}
	cfg.Store.Driver = drivers[driverIdx]
	if cfg.Store.Driver == DriverBadger {
		cfg.Store.Path = ".sitecache/badger"
	}

	// 4. Offline page.
	offlinePrompt := promptui.Prompt{
		Label:   "Offline fallback page",
		Default: cfg.OfflineURL,
	}
	offline, err := offlinePrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("offline page: %w", err)
	}
	cfg.OfflineURL = offline

	// 5. Precache manifest.
	precachePrompt := promptui.Prompt{
		Label:   "Precache URLs (comma-separated)",
		Default: strings.Join(cfg.Precache, ","),
	}
	precacheStr, err := precachePrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("precache: %w", err)
	}
	cfg.Precache = splitAndTrim(precacheStr)
	if !slices.Contains(cfg.Precache, cfg.OfflineURL) {
		cfg.Precache = append(cfg.Precache, cfg.OfflineURL)
		fmt.Printf("Added %s to the precache list.\n", cfg.OfflineURL)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := cfg.Save(path); err != nil {
		return nil, fmt.Errorf("saving config: %w", err)
	}

	fmt.Printf("\nConfiguration saved to %s\n", path)
	return cfg, nil
}

// splitAndTrim splits a comma-separated string and trims whitespace.
func splitAndTrim(s string) []string {
	var result []string
	for _, part := range strings.Split(s, ",") {
		if token := strings.TrimSpace(part); token != "" {
			result = append(result, token)
		}
	}
	return result
}
