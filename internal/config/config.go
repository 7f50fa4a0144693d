// Package config loads mindns-go's TOML configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/sammwyy/mindns-go/internal/dnserr"
)

// ServerSettings configures the listening address and per-peer idle timeout.
type ServerSettings struct {
	Port           uint16 `toml:"port"`
	Bind           string `toml:"bind"`
	PeerTimeoutSec uint32 `toml:"peer_timeout_sec"`
}

// MirrorSettings configures the upstream recursive-resolution target.
type MirrorSettings struct {
	Enabled bool   `toml:"enabled"`
	Server  string `toml:"server"`
}

// RuleSettings names one rule file or directory to load at startup.
type RuleSettings struct {
	LoadAs string `toml:"load_as"`
	Path   string `toml:"path"`
}

// LogSettings configures where structured log output is written.
type LogSettings struct {
	SaveAs string `toml:"save_as"`
	Path   string `toml:"path"`
}

// RuleSyncSettings optionally wires a Redis pub/sub channel used to
// broadcast rule-reload events across a fleet of mindns-go instances.
type RuleSyncSettings struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
	Channel string `toml:"channel"`
}

// Config is the full parsed contents of mindns.toml.
type Config struct {
	Server   ServerSettings   `toml:"server"`
	Mirror   MirrorSettings   `toml:"mirror"`
	Rules    []RuleSettings   `toml:"rules"`
	Logs     LogSettings      `toml:"logs"`
	RuleSync RuleSyncSettings `toml:"rulesync"`
}

// Load reads and parses the TOML file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", dnserr.ErrConfigParse, path, err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", dnserr.ErrConfigParse, path, err)
	}

	if cfg.Server.Port == 0 {
		return nil, fmt.Errorf("%w: [server].port must be set", dnserr.ErrConfigParse)
	}
	if cfg.Server.Bind == "" {
		return nil, fmt.Errorf("%w: [server].bind must be set", dnserr.ErrConfigParse)
	}

	return &cfg, nil
}

// ResolvePath mirrors the source's path convention: a "."-prefixed path is
// resolved relative to the process's current working directory, any other
// path is treated as already absolute.
func ResolvePath(raw string) (string, error) {
	if strings.HasPrefix(raw, ".") {
		cwd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		return filepath.Join(cwd, raw), nil
	}
	return raw, nil
}
