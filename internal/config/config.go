package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the daemon configuration, read from ~/.pombo/config.toml by
// default. Zero-valued fields fall back to defaults on load.
type Config struct {
	DataDir  string   `toml:"data_dir"`
	Provider Provider `toml:"provider"`
	Sync     Sync     `toml:"sync"`
}

// Provider configures the upstream messaging provider API.
type Provider struct {
	BaseURL       string `toml:"base_url"`
	WSURL         string `toml:"ws_url"`
	Token         string `toml:"token"`
	SendTimeoutMS int    `toml:"send_timeout_ms"`
}

// Sync configures the synchronization core.
type Sync struct {
	ReconnectDelayMS int `toml:"reconnect_delay_ms"`
	EchoWindowMS     int `toml:"echo_window_ms"`
	ReceiptFlushMS   int `toml:"receipt_flush_ms"`
	PageSize         int `toml:"page_size"`
}

// Default returns a config populated with defaults. DataDir defaults to
// ~/.pombo.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		DataDir: filepath.Join(home, ".pombo"),
		Provider: Provider{
			SendTimeoutMS: 15000,
		},
		Sync: Sync{
			ReconnectDelayMS: 3000,
			EchoWindowMS:     1000,
			ReceiptFlushMS:   500,
			PageSize:         50,
		},
	}
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".pombo", "config.toml")
}

// Load reads the config file at path over the defaults. A missing file is
// an error; callers that accept absence should use Default directly.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

// Save writes the config to path, creating parent dirs as needed.
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

func (c *Config) applyDefaults() {
	d := Default()
	if c.DataDir == "" {
		c.DataDir = d.DataDir
	}
	if c.Provider.SendTimeoutMS <= 0 {
		c.Provider.SendTimeoutMS = d.Provider.SendTimeoutMS
	}
	if c.Sync.ReconnectDelayMS <= 0 {
		c.Sync.ReconnectDelayMS = d.Sync.ReconnectDelayMS
	}
	if c.Sync.EchoWindowMS <= 0 {
		c.Sync.EchoWindowMS = d.Sync.EchoWindowMS
	}
	if c.Sync.ReceiptFlushMS <= 0 {
		c.Sync.ReceiptFlushMS = d.Sync.ReceiptFlushMS
	}
	if c.Sync.PageSize <= 0 {
		c.Sync.PageSize = d.Sync.PageSize
	}
}

// DBPath returns the sqlite cache location under the data dir.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "pombo.db")
}

// LockPath returns the single-instance lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.DataDir, "LOCK")
}

// LogPath returns the daemon log file location.
func (c *Config) LogPath() string {
	return filepath.Join(c.DataDir, "logs", "pombod.log")
}

// SendTimeout returns the provider send timeout as a duration.
func (c *Config) SendTimeout() time.Duration {
	return time.Duration(c.Provider.SendTimeoutMS) * time.Millisecond
}

// ReconnectDelay returns the transport reconnect delay as a duration.
func (c *Config) ReconnectDelay() time.Duration {
	return time.Duration(c.Sync.ReconnectDelayMS) * time.Millisecond
}

// EchoWindow returns the echo soft-match window as a duration.
func (c *Config) EchoWindow() time.Duration {
	return time.Duration(c.Sync.EchoWindowMS) * time.Millisecond
}

// ReceiptFlushInterval returns the read-receipt flush cadence.
func (c *Config) ReceiptFlushInterval() time.Duration {
	return time.Duration(c.Sync.ReceiptFlushMS) * time.Millisecond
}
