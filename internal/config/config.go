package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config represents the global ~/.hearth/config.toml.
type Config struct {
	DefaultSession string `toml:"default_session"`
	Server         Server `toml:"server"`
}

// Server holds connection settings for the Hearth marketplace backend.
type Server struct {
	// BaseURL is the HTTP(S) origin of the API, e.g. https://api.hearth.example.
	BaseURL string `toml:"base_url"`
	// SocketPath is the realtime websocket endpoint path on BaseURL.
	SocketPath string `toml:"socket_path"`
	// Token is a static bearer credential. TokenFile takes precedence when set.
	Token string `toml:"token"`
	// TokenFile points to a file holding the bearer credential; the daemon
	// watches it and reconnects when the contents change.
	TokenFile string `toml:"token_file"`
	// ProbeAddr is the host:port dialed to detect network availability.
	// Defaults to the BaseURL host on port 443.
	ProbeAddr string `toml:"probe_addr"`
}

// Load reads config from the given path. Returns zero config and error if file missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// LoadWithEnv reads config from path, then overlays values from the process
// environment (and a .env file in the working directory when present).
// Environment values win over file values. A missing config file is not an
// error here: env-only configuration is allowed.
func LoadWithEnv(path string) (*Config, error) {
	// Best effort: a .env is a dev convenience, absence is normal.
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		cfg = &Config{}
	}

	cfg.DefaultSession = envOr("HEARTH_SESSION", cfg.DefaultSession)
	cfg.Server.BaseURL = envOr("HEARTH_BASE_URL", cfg.Server.BaseURL)
	cfg.Server.SocketPath = envOr("HEARTH_SOCKET_PATH", cfg.Server.SocketPath)
	cfg.Server.Token = envOr("HEARTH_TOKEN", cfg.Server.Token)
	cfg.Server.TokenFile = envOr("HEARTH_TOKEN_FILE", cfg.Server.TokenFile)
	cfg.Server.ProbeAddr = envOr("HEARTH_PROBE_ADDR", cfg.Server.ProbeAddr)
	cfg.applyDefaults()
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// Validate checks that the config is sufficient to reach the backend.
func (c *Config) Validate() error {
	if c.Server.BaseURL == "" {
		return fmt.Errorf("server.base_url is required (or set HEARTH_BASE_URL)")
	}
	if !strings.HasPrefix(c.Server.BaseURL, "http://") && !strings.HasPrefix(c.Server.BaseURL, "https://") {
		return fmt.Errorf("server.base_url %q: must start with http:// or https://", c.Server.BaseURL)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Server.SocketPath == "" {
		c.Server.SocketPath = "/rt"
	}
	if c.Server.ProbeAddr == "" && c.Server.BaseURL != "" {
		host := strings.TrimPrefix(c.Server.BaseURL, "https://")
		host = strings.TrimPrefix(host, "http://")
		if i := strings.Index(host, "/"); i >= 0 {
			host = host[:i]
		}
		if !strings.Contains(host, ":") {
			host += ":443"
		}
		c.Server.ProbeAddr = host
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
