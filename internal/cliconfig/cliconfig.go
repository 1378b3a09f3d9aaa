// Package cliconfig loads the optional config files of the filexfer commands.
// A file is TOML or YAML depending on its extension; only the keys it sets
// override the command's defaults.
package cliconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Environment variables read by the commands after the config file.
const (
	EnvLogLevel  = "FILEXFER_LOG_LEVEL"
	EnvRedisAddr = "FILEXFER_REDIS_ADDR"
)

// Meta records which top-level keys a config file set.
type Meta struct {
	keys map[string]bool
}

// IsDefined reports whether the file set key.
func (m Meta) IsDefined(key string) bool {
	return m.keys[key]
}

// DecodeFile decodes path into v. Files ending in .toml are TOML; .yaml and
// .yml are YAML. v's fields need both toml and yaml tags.
func DecodeFile(path string, v any) (Meta, error) {
	meta := Meta{keys: make(map[string]bool)}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		md, err := toml.DecodeFile(path, v)
		if err != nil {
			return Meta{}, fmt.Errorf("load config %s: %w", path, err)
		}
		for _, key := range md.Keys() {
			if len(key) == 1 {
				meta.keys[key[0]] = true
			}
		}

	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return Meta{}, fmt.Errorf("load config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, v); err != nil {
			return Meta{}, fmt.Errorf("load config %s: %w", path, err)
		}

		var raw map[string]any
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return Meta{}, fmt.Errorf("load config %s: %w", path, err)
		}
		for key := range raw {
			meta.keys[key] = true
		}

	default:
		return Meta{}, fmt.Errorf("load config %s: unsupported extension %q (want .toml, .yaml or .yml)", path, filepath.Ext(path))
	}

	return meta, nil
}

// ParseDuration parses a duration value of the config key name.
func ParseDuration(name, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", name, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("parse %s: negative duration %s", name, d)
	}

	return d, nil
}

// Getenv returns the trimmed value of an environment variable. getenv is
// os.Getenv outside tests.
func Getenv(getenv func(string) string, key string) (string, bool) {
	v := strings.TrimSpace(getenv(key))
	return v, v != ""
}
