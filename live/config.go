package live

import (
	"context"
	"fmt"

	"github.com/Masterminds/semver/v3"
	"github.com/pelletier/go-toml/v2"
)

// ConfigVersion is the session configuration format this package writes.
// Configurations with a different major version are rejected.
const ConfigVersion = "1.0"

// DefaultMode is the only session mode currently defined.
const DefaultMode = "default"

// Config is the session configuration stored as TOML in the session
// folder. The user that created the session owns it; only the owner may
// merge.
type Config struct {
	Version     string `toml:"version"`
	UserName    string `toml:"user_name"`
	StageURL    string `toml:"stage_url"`
	Mode        string `toml:"mode"`
	Name        string `toml:"name"`
	Description string `toml:"description,omitempty"`
}

// LoadConfig reads and validates the session configuration at url.
func LoadConfig(ctx context.Context, c Client, url string) (Config, error) {
	data, err := c.ReadFile(ctx, url)
	if err != nil {
		return Config{}, fmt.Errorf("load session config %s: %w", url, err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse session config %s: %w", url, err)
	}
	if err := checkConfigVersion(cfg.Version); err != nil {
		return Config{}, fmt.Errorf("session config %s: %w", url, err)
	}

	return cfg, nil
}

// SaveConfig writes the session configuration to url.
func SaveConfig(ctx context.Context, c Client, url string, cfg Config) error {
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode session config: %w", err)
	}
	if err := c.WriteFile(ctx, url, data); err != nil {
		return fmt.Errorf("save session config %s: %w", url, err)
	}

	return nil
}

// checkConfigVersion gates on the major version; newer minor revisions of
// the same major are accepted.
func checkConfigVersion(version string) error {
	theirs, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("invalid version %q: %w", version, err)
	}
	ours := semver.MustParse(ConfigVersion)
	if theirs.Major() != ours.Major() {
		return fmt.Errorf("unsupported version %q, this client supports %q", version, ConfigVersion)
	}

	return nil
}
