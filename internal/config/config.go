// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config loads the optional per-project YAML configuration file
// (.envy/config.yaml), mirroring the teacher's cmd/cie/config.go project
// config: a small YAML document overriding a handful of defaults, found by
// walking up from the working directory when no explicit path is given.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	defaultConfigDir  = ".envy"
	defaultConfigFile = "config.yaml"
)

// Config is the optional project-level override file. Every field has a
// zero-value default that the caller (cmd/envy) falls back to, matching
// the teacher's "environment variables override file, file overrides
// built-in defaults" layering.
type Config struct {
	// CacheRoot overrides the content-addressed cache's root directory
	// (default: $XDG_CACHE_HOME/envy or ~/.cache/envy).
	CacheRoot string `yaml:"cache_root,omitempty"`

	// Platform and Arch override the default target platform/arch used to
	// address cache entries (default: runtime.GOOS/runtime.GOARCH).
	Platform string `yaml:"platform,omitempty"`
	Arch     string `yaml:"arch,omitempty"`

	// LogLevel is one of "debug", "info", "warn", "error" (default "info").
	LogLevel string `yaml:"log_level,omitempty"`

	// MetricsAddr, when set, enables the /metrics HTTP endpoint at this
	// address (e.g. "127.0.0.1:9090").
	MetricsAddr string `yaml:"metrics_addr,omitempty"`
}

// Load reads path, or discovers .envy/config.yaml by walking up from the
// working directory when path is empty. A missing file is not an error:
// Load returns a zero-value Config so every caller can rely on defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		found, err := findConfigFile()
		if err != nil {
			return &Config{}, nil //nolint:nilerr // absent config is not fatal
		}
		path = found
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &cfg, nil
}

// Path returns the conventional config file path under dir.
func Path(dir string) string {
	return filepath.Join(dir, defaultConfigDir, defaultConfigFile)
}

func findConfigFile() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		candidate := Path(dir)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("config: no %s found", Path("."))
		}
		dir = parent
	}
}

// ApplyEnvOverrides applies the small set of environment variable
// overrides envy supports, taking precedence over the file, per the
// teacher's applyEnvOverrides convention.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("ENVY_CACHE_ROOT"); v != "" {
		c.CacheRoot = v
	}
	if v := os.Getenv("ENVY_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("ENVY_METRICS_ADDR"); v != "" {
		c.MetricsAddr = v
	}
}

// DefaultCacheRoot resolves the cache root when the config and environment
// leave it unset: $XDG_CACHE_HOME/envy, falling back to ~/.cache/envy.
func DefaultCacheRoot() (string, error) {
	if xdg := os.Getenv("XDG_CACHE_HOME"); xdg != "" {
		return filepath.Join(xdg, "envy"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: resolve home directory: %w", err)
	}
	return filepath.Join(home, ".cache", "envy"), nil
}
