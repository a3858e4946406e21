package shared

import (
	"bytes"
	_ "embed"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

//go:embed config.example.toml
var exampleConf []byte

// Environment variables overriding the client credentials in the config file.
const (
	EnvClientID     = "RBXBRIDGE_CLIENT_ID"
	EnvClientSecret = "RBXBRIDGE_CLIENT_SECRET"
	EnvConfigPath   = "RBXBRIDGE_CONFIG"
)

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Bridge   BridgeConfig   `toml:"bridge"`
	Roblox   RobloxConfig   `toml:"roblox"`
	Auth     AuthConfig     `toml:"auth"`
	Import   ImportConfig   `toml:"import"`
	Database DatabaseConfig `toml:"database"`
	Log      LogConfig      `toml:"log"`
}

// BridgeConfig contains control-plane listener settings.
type BridgeConfig struct {
	Host           string `toml:"host"`
	Port           int    `toml:"port"`
	FrontendOrigin string `toml:"frontend_origin"`
	LockPath       string `toml:"lock_path"`
	OpenBrowser    bool   `toml:"open_browser"`
}

// Addr returns host:port for [net.Listen].
func (b BridgeConfig) Addr() string {
	return net.JoinHostPort(b.Host, strconv.Itoa(b.Port))
}

// BaseURL returns the URL local clients use to reach the control plane.
func (b BridgeConfig) BaseURL() string {
	host := b.Host
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(b.Port))
}

// RobloxConfig contains OAuth client credentials and Open Cloud endpoints.
type RobloxConfig struct {
	ClientID      string   `toml:"client_id"`
	ClientSecret  string   `toml:"client_secret"`
	RedirectURI   string   `toml:"redirect_uri"`
	Scopes        []string `toml:"scopes"`
	AuthURL       string   `toml:"auth_url"`
	TokenURL      string   `toml:"token_url"`
	RevokeURL     string   `toml:"revoke_url"`
	UserInfoURL   string   `toml:"userinfo_url"`
	AssetsURL     string   `toml:"assets_url"`
	OperationsURL string   `toml:"operations_url"`
	DashboardURL  string   `toml:"dashboard_url"`
}

// AuthConfig contains OAuth session timing.
type AuthConfig struct {
	CallbackTimeout time.Duration `toml:"callback_timeout"`
	RefreshMargin   time.Duration `toml:"refresh_margin"`
}

// ImportConfig contains transfer pipeline limits and timing.
type ImportConfig struct {
	TempDir          string        `toml:"temp_dir"`
	MaxDownloadBytes int64         `toml:"max_download_bytes"`
	DownloadTimeout  time.Duration `toml:"download_timeout"`
	UploadTimeout    time.Duration `toml:"upload_timeout"`
	PollInterval     time.Duration `toml:"poll_interval"`
	PollTimeout      time.Duration `toml:"poll_timeout"`
	Retention        time.Duration `toml:"retention"`
	SweepInterval    time.Duration `toml:"sweep_interval"`
	SubmitRate       float64       `toml:"submit_rate"`
	SubmitBurst      int           `toml:"submit_burst"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path"`
	KeyPath      string `toml:"key_path"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// LogConfig contains logger settings.
type LogConfig struct {
	Level string `toml:"level"`
}

// LoadConfig reads a TOML configuration file and overlays it onto [DefaultConfig].
//
// Keys missing from the file keep their default values.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := EnsureDir(dir); err != nil {
			return err
		}
	}

	// Client secrets may end up in this file.
	if err := os.WriteFile(path, exampleConf, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// SaveConfig encodes config as TOML and writes it to path.
func SaveConfig(path string, config *Config) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(config); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// DefaultConfigPath resolves the config file location.
//
// Order: $RBXBRIDGE_CONFIG, ./config.toml when present, then <user config dir>/rbxbridge/config.toml.
func DefaultConfigPath() string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	if _, err := os.Stat("config.toml"); err == nil {
		return "config.toml"
	}
	dir, err := DataDir()
	if err != nil {
		return "config.toml"
	}
	return filepath.Join(dir, "config.toml")
}

// ApplyEnv overrides client credentials from the environment.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvClientID); v != "" {
		c.Roblox.ClientID = v
	}
	if v := os.Getenv(EnvClientSecret); v != "" {
		c.Roblox.ClientSecret = v
	}
}

// ResolvePaths fills empty file locations with paths under dir.
//
// An empty dir resolves to [DataDir].
func (c *Config) ResolvePaths(dir string) error {
	if dir == "" {
		d, err := DataDir()
		if err != nil {
			return err
		}
		dir = d
	}

	if c.Bridge.LockPath == "" {
		c.Bridge.LockPath = filepath.Join(dir, "bridge.lock")
	}
	if c.Database.Path == "" {
		c.Database.Path = filepath.Join(dir, AppName+".db")
	}
	if c.Database.KeyPath == "" {
		c.Database.KeyPath = filepath.Join(dir, "credentials.key")
	}
	if c.Import.TempDir == "" {
		c.Import.TempDir = os.TempDir()
	}
	return nil
}

// Validate checks values that would otherwise fail later at runtime.
func (c *Config) Validate() error {
	var problems []string

	if c.Bridge.Port <= 0 || c.Bridge.Port > 65535 {
		problems = append(problems, fmt.Sprintf("bridge.port %d out of range", c.Bridge.Port))
	}
	if u, err := url.Parse(c.Bridge.FrontendOrigin); err != nil || u.Scheme == "" || u.Host == "" {
		problems = append(problems, fmt.Sprintf("bridge.frontend_origin %q is not an origin", c.Bridge.FrontendOrigin))
	}
	if len(c.Roblox.Scopes) == 0 {
		problems = append(problems, "roblox.scopes is empty")
	}
	if c.Auth.CallbackTimeout <= 0 {
		problems = append(problems, "auth.callback_timeout must be positive")
	}
	if c.Import.PollInterval <= 0 {
		problems = append(problems, "import.poll_interval must be positive")
	}
	if c.Import.PollTimeout < c.Import.PollInterval {
		problems = append(problems, "import.poll_timeout must not be shorter than import.poll_interval")
	}
	if c.Import.MaxDownloadBytes <= 0 {
		problems = append(problems, "import.max_download_bytes must be positive")
	}
	if _, err := ParseLogLevel(c.Log.Level); err != nil {
		problems = append(problems, fmt.Sprintf("log.level %q unknown", c.Log.Level))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// HasClientCredentials reports whether an OAuth client is configured.
func (c *Config) HasClientCredentials() bool {
	return c.Roblox.ClientID != "" && c.Roblox.ClientSecret != ""
}
