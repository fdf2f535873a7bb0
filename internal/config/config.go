package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DefaultBackendURL is the API base used when nothing more specific is known.
const DefaultBackendURL = "http://localhost:8081"

// devPorts are front-end dev server ports; an origin on one of them talks to the local backend.
var devPorts = map[string]bool{"3000": true, "3001": true, "5173": true, "4173": true, "1420": true}

// ARCHITECTURAL DISCOVERY: Configuration layer serves as system-wide settings coordinator
// for both the chat clients and the sandbox backend
type Config struct {
	API      *APIConfig      `json:"api"`
	Polling  *PollingConfig  `json:"polling"`
	Realtime *RealtimeConfig `json:"realtime"`
	Logging  *LoggingConfig  `json:"logging"`
	Sandbox  *SandboxConfig  `json:"sandbox"`
}

// APIConfig locates and authenticates against the support REST API.
type APIConfig struct {
	BaseURL     string        `json:"base_url"`
	Origin      string        `json:"origin"`
	Token       string        `json:"token"`
	SessionFile string        `json:"session_file"`
	Timeout     time.Duration `json:"timeout"`
}

// PollingConfig drives the student-side refresher.
type PollingConfig struct {
	Interval time.Duration `json:"interval"`
}

// RealtimeConfig drives the manager alert channel.
type RealtimeConfig struct {
	Path             string        `json:"path"`
	Destination      string        `json:"destination"`
	SubscriptionID   string        `json:"subscription_id"`
	AlertTTL         time.Duration `json:"alert_ttl"`
	HandshakeTimeout time.Duration `json:"handshake_timeout"`
	WriteTimeout     time.Duration `json:"write_timeout"`
}

// LoggingConfig selects level, format and an optional rotating log file.
type LoggingConfig struct {
	Level      string `json:"level"`
	Format     string `json:"format"`
	Stdout     bool   `json:"stdout"`
	File       string `json:"file"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
	Compress   bool   `json:"compress"`
}

// FUNCTIONAL DISCOVERY: Sandbox configuration mirrors the backend the clients talk to
type SandboxConfig struct {
	Host              string        `json:"host"`
	Port              int           `json:"port"`
	DatabasePath      string        `json:"database_path"`
	DatabaseTimeout   time.Duration `json:"database_timeout"`
	ReadTimeout       time.Duration `json:"read_timeout"`
	WriteTimeout      time.Duration `json:"write_timeout"`
	UploadDir         string        `json:"upload_dir"`
	MaxUploadBytes    int64         `json:"max_upload_bytes"`
	MessagesPerMinute int           `json:"messages_per_minute"`
	Users             []UserConfig  `json:"users"`
}

// UserConfig seeds one bearer token for the sandbox.
type UserConfig struct {
	Token    string `json:"token"`
	ID       int64  `json:"id"`
	FullName string `json:"full_name"`
	Role     string `json:"role"`
}

// FUNCTIONAL DISCOVERY: Defaults match the deployed LMS: 8s student polling,
// 6s alert lifetime, alerts under /ws-support
func DefaultConfig() *Config {
	return &Config{
		API: &APIConfig{
			Timeout: 15 * time.Second,
		},
		Polling: &PollingConfig{
			Interval: 8 * time.Second,
		},
		Realtime: &RealtimeConfig{
			Path:             "/ws-support",
			Destination:      "/topic/support/manager-alerts",
			SubscriptionID:   "manager-alerts",
			AlertTTL:         6 * time.Second,
			HandshakeTimeout: 10 * time.Second,
			WriteTimeout:     10 * time.Second,
		},
		Logging: &LoggingConfig{
			Level:      "info",
			Format:     "text",
			Stdout:     true,
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 14,
		},
		Sandbox: &SandboxConfig{
			Host:              "127.0.0.1",
			Port:              8081,
			DatabasePath:      "./supportdesk.db",
			DatabaseTimeout:   30 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			UploadDir:         "",
			MaxUploadBytes:    5 << 20,
			MessagesPerMinute: 60,
			Users: []UserConfig{
				{Token: "student-token", ID: 1, FullName: "An", Role: "student"},
				{Token: "student2-token", ID: 2, FullName: "Binh", Role: "student"},
				{Token: "manager-token", ID: 100, FullName: "Minh", Role: "manager"},
				{Token: "manager2-token", ID: 101, FullName: "Lan", Role: "manager"},
			},
		},
	}
}

// FUNCTIONAL DISCOVERY: Validation prevents invalid configurations before any component starts
func (c *Config) Validate() error {
	if c.API == nil {
		return fmt.Errorf("API configuration is required")
	}
	if c.API.Timeout <= 0 {
		return fmt.Errorf("API timeout must be positive")
	}
	if c.API.BaseURL != "" {
		u, err := url.Parse(c.API.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("API base URL must be an absolute http(s) URL, got %q", c.API.BaseURL)
		}
	}

	if c.Polling == nil {
		return fmt.Errorf("polling configuration is required")
	}
	if c.Polling.Interval <= 0 {
		return fmt.Errorf("polling interval must be positive")
	}

	if c.Realtime == nil {
		return fmt.Errorf("realtime configuration is required")
	}
	if !strings.HasPrefix(c.Realtime.Path, "/") {
		return fmt.Errorf("realtime path must start with /")
	}
	if c.Realtime.Destination == "" || c.Realtime.SubscriptionID == "" {
		return fmt.Errorf("realtime destination and subscription id cannot be empty")
	}
	if c.Realtime.AlertTTL <= 0 {
		return fmt.Errorf("alert TTL must be positive")
	}
	if c.Realtime.HandshakeTimeout <= 0 || c.Realtime.WriteTimeout <= 0 {
		return fmt.Errorf("realtime timeouts must be positive")
	}

	if c.Logging == nil {
		return fmt.Errorf("logging configuration is required")
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("log format must be text or json, got %q", c.Logging.Format)
	}

	if c.Sandbox == nil {
		return fmt.Errorf("sandbox configuration is required")
	}
	if c.Sandbox.Port <= 0 || c.Sandbox.Port > 65535 {
		return fmt.Errorf("sandbox port must be between 1 and 65535")
	}
	if c.Sandbox.Host == "" {
		return fmt.Errorf("sandbox host cannot be empty")
	}
	if c.Sandbox.DatabasePath == "" {
		return fmt.Errorf("sandbox database path cannot be empty")
	}
	if c.Sandbox.DatabaseTimeout <= 0 || c.Sandbox.ReadTimeout <= 0 || c.Sandbox.WriteTimeout <= 0 {
		return fmt.Errorf("sandbox timeouts must be positive")
	}
	if c.Sandbox.MaxUploadBytes <= 0 {
		return fmt.Errorf("sandbox max upload size must be positive")
	}
	if c.Sandbox.MessagesPerMinute <= 0 {
		return fmt.Errorf("sandbox message rate must be positive")
	}
	tokens := make(map[string]bool, len(c.Sandbox.Users))
	for _, u := range c.Sandbox.Users {
		if u.Token == "" || u.ID <= 0 {
			return fmt.Errorf("sandbox user %q needs a token and a positive id", u.FullName)
		}
		if u.Role != "student" && u.Role != "manager" {
			return fmt.Errorf("sandbox user %q has unknown role %q", u.FullName, u.Role)
		}
		if tokens[u.Token] {
			return fmt.Errorf("sandbox token %q is used twice", u.Token)
		}
		tokens[u.Token] = true
	}

	return nil
}

// ResolveBaseURL picks the API base: an explicit value wins; an origin on a front-end dev
// port maps to the local backend; any other origin is used as is.
func (a *APIConfig) ResolveBaseURL() string {
	if base := sanitizeBase(a.BaseURL); base != "" {
		return base
	}
	origin := sanitizeBase(a.Origin)
	if origin == "" {
		return DefaultBackendURL
	}
	if u, err := url.Parse(origin); err == nil && devPorts[u.Port()] {
		return DefaultBackendURL
	}
	return origin
}

func sanitizeBase(s string) string {
	return strings.TrimRight(strings.TrimSpace(s), "/")
}

// ResolveToken returns the configured token, else the token stored in the session file.
// The session file holds {"accessToken": "..."} or {"token": "..."}.
func (a *APIConfig) ResolveToken() (string, error) {
	if a.Token != "" {
		return a.Token, nil
	}
	if a.SessionFile == "" {
		return "", nil
	}
	data, err := os.ReadFile(a.SessionFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read session file %s: %w", a.SessionFile, err)
	}
	var session struct {
		AccessToken string `json:"accessToken"`
		Token       string `json:"token"`
	}
	if err := json.Unmarshal(data, &session); err != nil {
		return "", fmt.Errorf("failed to parse session file %s: %w", a.SessionFile, err)
	}
	if session.AccessToken != "" {
		return session.AccessToken, nil
	}
	return session.Token, nil
}

// SandboxUserByToken finds a seeded user.
func (c *Config) SandboxUserByToken(token string) (UserConfig, bool) {
	for _, u := range c.Sandbox.Users {
		if u.Token == token {
			return u, true
		}
	}
	return UserConfig{}, false
}

// LoadDotEnv loads .env style files into the process environment. Variables already set
// are left alone and missing files are skipped.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("failed to load env file %s: %w", p, err)
		}
	}
	return nil
}

// FUNCTIONAL DISCOVERY: Environment variables override defaults; unparsable values are ignored
func LoadFromEnv() *Config {
	config := DefaultConfig()

	setString(&config.API.BaseURL, "SUPPORTDESK_API_BASE_URL")
	setString(&config.API.Origin, "SUPPORTDESK_API_ORIGIN")
	setString(&config.API.Token, "SUPPORTDESK_API_TOKEN")
	setString(&config.API.SessionFile, "SUPPORTDESK_SESSION_FILE")
	setDuration(&config.API.Timeout, "SUPPORTDESK_API_TIMEOUT")

	setDuration(&config.Polling.Interval, "SUPPORTDESK_POLL_INTERVAL")

	setString(&config.Realtime.Path, "SUPPORTDESK_REALTIME_PATH")
	setDuration(&config.Realtime.AlertTTL, "SUPPORTDESK_ALERT_TTL")

	setString(&config.Logging.Level, "SUPPORTDESK_LOG_LEVEL")
	setString(&config.Logging.Format, "SUPPORTDESK_LOG_FORMAT")
	setString(&config.Logging.File, "SUPPORTDESK_LOG_FILE")

	setString(&config.Sandbox.Host, "SUPPORTDESK_SANDBOX_HOST")
	setInt(&config.Sandbox.Port, "SUPPORTDESK_SANDBOX_PORT")
	setString(&config.Sandbox.DatabasePath, "SUPPORTDESK_SANDBOX_DATABASE_PATH")
	setString(&config.Sandbox.UploadDir, "SUPPORTDESK_SANDBOX_UPLOAD_DIR")
	setInt(&config.Sandbox.MessagesPerMinute, "SUPPORTDESK_SANDBOX_MESSAGES_PER_MINUTE")

	return config
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

// ConfigFile represents the JSON structure for file-based configuration
// FUNCTIONAL DISCOVERY: Separate struct for JSON parsing to handle duration strings
type ConfigFile struct {
	API      *APIConfigFile      `json:"api"`
	Polling  *PollingConfigFile  `json:"polling"`
	Realtime *RealtimeConfigFile `json:"realtime"`
	Logging  *LoggingConfig      `json:"logging"`
	Sandbox  *SandboxConfigFile  `json:"sandbox"`
}

type APIConfigFile struct {
	BaseURL     string `json:"base_url"`
	Origin      string `json:"origin"`
	Token       string `json:"token"`
	SessionFile string `json:"session_file"`
	Timeout     string `json:"timeout"`
}

type PollingConfigFile struct {
	Interval string `json:"interval"`
}

type RealtimeConfigFile struct {
	Path             string `json:"path"`
	Destination      string `json:"destination"`
	SubscriptionID   string `json:"subscription_id"`
	AlertTTL         string `json:"alert_ttl"`
	HandshakeTimeout string `json:"handshake_timeout"`
	WriteTimeout     string `json:"write_timeout"`
}

type SandboxConfigFile struct {
	Host              string       `json:"host"`
	Port              int          `json:"port"`
	DatabasePath      string       `json:"database_path"`
	DatabaseTimeout   string       `json:"database_timeout"`
	ReadTimeout       string       `json:"read_timeout"`
	WriteTimeout      string       `json:"write_timeout"`
	UploadDir         string       `json:"upload_dir"`
	MaxUploadBytes    int64        `json:"max_upload_bytes"`
	MessagesPerMinute int          `json:"messages_per_minute"`
	Users             []UserConfig `json:"users"`
}

// LoadFromFile reads a JSON config on top of base (DefaultConfig when nil).
func LoadFromFile(filepath string, base *Config) (*Config, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filepath, err)
	}

	var file ConfigFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", filepath, err)
	}

	config := base
	if config == nil {
		config = DefaultConfig()
	}

	if f := file.API; f != nil {
		overrideString(&config.API.BaseURL, f.BaseURL)
		overrideString(&config.API.Origin, f.Origin)
		overrideString(&config.API.Token, f.Token)
		overrideString(&config.API.SessionFile, f.SessionFile)
		overrideDuration(&config.API.Timeout, f.Timeout)
	}

	if f := file.Polling; f != nil {
		overrideDuration(&config.Polling.Interval, f.Interval)
	}

	if f := file.Realtime; f != nil {
		overrideString(&config.Realtime.Path, f.Path)
		overrideString(&config.Realtime.Destination, f.Destination)
		overrideString(&config.Realtime.SubscriptionID, f.SubscriptionID)
		overrideDuration(&config.Realtime.AlertTTL, f.AlertTTL)
		overrideDuration(&config.Realtime.HandshakeTimeout, f.HandshakeTimeout)
		overrideDuration(&config.Realtime.WriteTimeout, f.WriteTimeout)
	}

	if f := file.Logging; f != nil {
		overrideString(&config.Logging.Level, f.Level)
		overrideString(&config.Logging.Format, f.Format)
		overrideString(&config.Logging.File, f.File)
		if f.MaxSizeMB > 0 {
			config.Logging.MaxSizeMB = f.MaxSizeMB
		}
		if f.MaxBackups > 0 {
			config.Logging.MaxBackups = f.MaxBackups
		}
		if f.MaxAgeDays > 0 {
			config.Logging.MaxAgeDays = f.MaxAgeDays
		}
		config.Logging.Compress = f.Compress
		if f.File != "" {
			config.Logging.Stdout = f.Stdout
		}
	}

	if f := file.Sandbox; f != nil {
		overrideString(&config.Sandbox.Host, f.Host)
		if f.Port > 0 {
			config.Sandbox.Port = f.Port
		}
		overrideString(&config.Sandbox.DatabasePath, f.DatabasePath)
		overrideDuration(&config.Sandbox.DatabaseTimeout, f.DatabaseTimeout)
		overrideDuration(&config.Sandbox.ReadTimeout, f.ReadTimeout)
		overrideDuration(&config.Sandbox.WriteTimeout, f.WriteTimeout)
		overrideString(&config.Sandbox.UploadDir, f.UploadDir)
		if f.MaxUploadBytes > 0 {
			config.Sandbox.MaxUploadBytes = f.MaxUploadBytes
		}
		if f.MessagesPerMinute > 0 {
			config.Sandbox.MessagesPerMinute = f.MessagesPerMinute
		}
		if len(f.Users) > 0 {
			config.Sandbox.Users = f.Users
		}
	}

	// ARCHITECTURAL DISCOVERY: Validate configuration after loading to catch errors early
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", filepath, err)
	}

	return config, nil
}

func overrideString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func overrideDuration(dst *time.Duration, v string) {
	if v == "" {
		return
	}
	if d, err := time.ParseDuration(v); err == nil {
		*dst = d
	}
}

// FUNCTIONAL DISCOVERY: Configuration precedence: file > environment > defaults
// A missing or invalid file is reported but environment/defaults still apply
func LoadConfigWithPrecedence(filepath string) (*Config, error) {
	config := LoadFromEnv()
	if filepath == "" {
		return config, config.Validate()
	}
	fileConfig, err := LoadFromFile(filepath, LoadFromEnv())
	if err != nil {
		return config, err
	}
	return fileConfig, nil
}
