package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/codefionn/cookiebridge/internal/secrets"
)

const (
	appName = "cookiebridge"

	// DefaultBridgePort is the loopback port the cookie bridge binds by default.
	DefaultBridgePort = 17891
)

// ErrInvalidPort is returned by Validate for ports outside 1..65535.
var ErrInvalidPort = errors.New("invalid bridge port")

// GenAIConfig is the AI service section. It decides whether the cookie bridge
// runs, on which port, and where the pushed cookies end up.
type GenAIConfig struct {
	UseCookieBridge     bool   `json:"use_cookie_bridge"`
	BridgePort          int    `json:"bridge_port"`
	CookieHeader        string `json:"cookie_header,omitempty"` // encrypted on save
	PersistCookieHeader bool   `json:"persist_cookie_header"`
	BaseURL             string `json:"base_url"`
	Model               string `json:"model"`
	APIKey              string `json:"api_key,omitempty"` // encrypted on save
	TargetLanguage      string `json:"target_language"`
}

// Config represents application configuration
type Config struct {
	LogLevel string          `json:"log_level"` // debug, info, warn, error, none
	LogPath  string          `json:"log_path,omitempty"`
	GenAI    GenAIConfig     `json:"genai"`
	Secrets  SecretsSettings `json:"secrets,omitempty"`

	secretsPassword string
}

// SecretsSettings keeps track of password-protection state.
type SecretsSettings struct {
	PasswordSet bool   `json:"password_set,omitempty"`
	Verifier    string `json:"verifier,omitempty"`
}

func defaultConfigDir() string {
	homeDir, _ := os.UserHomeDir()
	switch runtime.GOOS {
	case "windows":
		if appData := strings.TrimSpace(os.Getenv("APPDATA")); appData != "" {
			return filepath.Join(appData, appName)
		}
		return filepath.Join(homeDir, "AppData", "Roaming", appName)
	default:
		if configHome := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); configHome != "" {
			return filepath.Join(configHome, appName)
		}
		return filepath.Join(homeDir, ".config", appName)
	}
}

func defaultStateDir() string {
	homeDir, _ := os.UserHomeDir()
	switch runtime.GOOS {
	case "linux":
		if stateHome := strings.TrimSpace(os.Getenv("XDG_STATE_HOME")); stateHome != "" {
			return filepath.Join(stateHome, appName)
		}
		return filepath.Join(homeDir, ".local", "state", appName)
	case "windows":
		if localAppData := strings.TrimSpace(os.Getenv("LOCALAPPDATA")); localAppData != "" {
			return filepath.Join(localAppData, appName)
		}
		return filepath.Join(homeDir, "AppData", "Local", appName)
	default:
		return defaultConfigDir()
	}
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		LogPath:  filepath.Join(defaultStateDir(), appName+".log"),
		GenAI: GenAIConfig{
			UseCookieBridge: false,
			BridgePort:      DefaultBridgePort,
			BaseURL:         "https://api.openai.com/v1/",
			Model:           "gpt-4o-mini",
			TargetLanguage:  "English",
		},
	}
}

// GetConfigPath returns the default config path
func GetConfigPath() string {
	return filepath.Join(defaultConfigDir(), "config.json")
}

// GetLockPath returns where the running host records itself.
func GetLockPath() string {
	return filepath.Join(defaultStateDir(), appName+".lock")
}

// Load loads configuration from path. A missing file yields the defaults.
// Encrypted fields stay sealed until ApplySecretsPassword is called.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	defaults := DefaultConfig()
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaults.LogLevel
	}
	if cfg.LogPath == "" {
		cfg.LogPath = defaults.LogPath
	}
	if cfg.GenAI.BridgePort == 0 {
		cfg.GenAI.BridgePort = DefaultBridgePort
	}
	if cfg.GenAI.BaseURL == "" {
		cfg.GenAI.BaseURL = defaults.GenAI.BaseURL
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that cannot be defaulted.
func (c *Config) Validate() error {
	if c.GenAI.BridgePort < 1 || c.GenAI.BridgePort > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, c.GenAI.BridgePort)
	}
	return nil
}

// Save writes the configuration, sealing sensitive fields with the active
// secrets password. The cookie header is only written when
// GenAI.PersistCookieHeader is set.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	data, err := c.marshalWithEncryptedSecrets()
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// ApplySecretsPassword verifies password and decrypts sealed fields in place.
func (c *Config) ApplySecretsPassword(password string) error {
	if c.Secrets.PasswordSet && c.Secrets.Verifier != "" {
		if err := secrets.CheckVerifier(c.Secrets.Verifier, password); err != nil {
			return err
		}
	}

	for _, field := range c.sensitiveFields() {
		plain, err := secrets.Open(*field, password)
		if err != nil {
			return err
		}
		*field = plain
	}

	c.secretsPassword = password
	return nil
}

// SecretsPassword returns the active secrets password (empty string by default).
func (c *Config) SecretsPassword() string {
	return c.secretsPassword
}

// UpdateSecretsPassword switches the runtime password used by Save.
func (c *Config) UpdateSecretsPassword(password string) {
	c.Secrets.PasswordSet = password != ""
	c.Secrets.Verifier = ""
	c.secretsPassword = password
}

func (c *Config) sensitiveFields() []*string {
	return []*string{&c.GenAI.CookieHeader, &c.GenAI.APIKey}
}

func (c *Config) marshalWithEncryptedSecrets() ([]byte, error) {
	out := *c
	if !out.GenAI.PersistCookieHeader {
		out.GenAI.CookieHeader = ""
	}

	for _, field := range out.sensitiveFields() {
		sealed, err := secrets.Seal(*field, c.secretsPassword)
		if err != nil {
			return nil, err
		}
		*field = sealed
	}

	if out.Secrets.PasswordSet {
		verifier, err := secrets.NewVerifier(c.secretsPassword)
		if err != nil {
			return nil, err
		}
		out.Secrets.Verifier = verifier
	} else {
		out.Secrets.Verifier = ""
	}

	return json.MarshalIndent(&out, "", "  ")
}
