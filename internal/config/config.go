// ABOUTME: Configuration loading and parsing for haven-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete haven-gateway configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Logging  LoggingConfig  `yaml:"logging"`
	Safety   SafetyConfig   `yaml:"safety"`
	Quota    QuotaConfig    `yaml:"quota"`
	Routing  RoutingConfig  `yaml:"routing"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	// KeyCipherSecret is the hex-encoded 32-byte key used to encrypt
	// user-supplied provider API keys at rest.
	KeyCipherSecret string `yaml:"key_cipher_secret"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// SafetyConfig holds crisis detection thresholds and intervention timing.
// All thresholds are tunable; the defaults are set in Validate.
type SafetyConfig struct {
	// Score bands. A score below LowThreshold passes through untouched.
	// [LowThreshold, ElevatedThreshold) answers with the standard template.
	// [ElevatedThreshold, SevereThreshold) requires acknowledgment.
	// At or above SevereThreshold enters limited mode.
	LowThreshold      float64 `yaml:"low_threshold"`
	ElevatedThreshold float64 `yaml:"elevated_threshold"`
	SevereThreshold   float64 `yaml:"severe_threshold"`

	// ClassifierURL is the crisis classifier service endpoint.
	ClassifierURL string `yaml:"classifier_url"`

	// RepeatEscalationCount standard-band hits within the cooldown window
	// escalate to limited mode.
	RepeatEscalationCount int `yaml:"repeat_escalation_count"`

	LimitedModeDuration time.Duration `yaml:"-"`
	CooldownWindow      time.Duration `yaml:"-"`
	AcuteWindow         time.Duration `yaml:"-"`
	StabilizingWindow   time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	LimitedModeDurationRaw string `yaml:"limited_mode_duration"`
	CooldownWindowRaw      string `yaml:"cooldown_window"`
	AcuteWindowRaw         string `yaml:"acute_window"`
	StabilizingWindowRaw   string `yaml:"stabilizing_window"`
}

// QuotaConfig holds request quota ceilings for the FREE tier.
// PAID and exempt accounts bypass all of them.
type QuotaConfig struct {
	DailyLimit          int `yaml:"daily_limit"`
	PerMinuteLimit      int `yaml:"per_minute_limit"`
	TrialLimit          int `yaml:"trial_limit"`
	PerEntryAnalysisMax int `yaml:"per_entry_analysis_max"`
	PerThreadMessageMax int `yaml:"per_thread_message_max"`
}

// RoutingConfig holds model routing configuration
type RoutingConfig struct {
	// CatalogPath points at an optional TOML provider catalog that
	// overrides the built-in provider table.
	CatalogPath string `yaml:"catalog_path"`

	// ProviderKeys holds the project credentials, keyed by provider name.
	// A request without a user override authenticates with these.
	ProviderKeys map[string]string `yaml:"provider_keys"`

	ProviderTimeout time.Duration `yaml:"-"`

	ProviderTimeoutRaw string `yaml:"provider_timeout"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks required fields and fills in defaults for everything
// that is tunable but optional.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}

	// Safety band defaults. Bands must be ordered low < elevated < severe.
	if c.Safety.LowThreshold == 0 {
		c.Safety.LowThreshold = 0.3
	}
	if c.Safety.ElevatedThreshold == 0 {
		c.Safety.ElevatedThreshold = 0.6
	}
	if c.Safety.SevereThreshold == 0 {
		c.Safety.SevereThreshold = 0.85
	}
	if c.Safety.LowThreshold >= c.Safety.ElevatedThreshold ||
		c.Safety.ElevatedThreshold >= c.Safety.SevereThreshold {
		return fmt.Errorf("safety thresholds must be ordered low < elevated < severe")
	}
	if c.Safety.RepeatEscalationCount == 0 {
		c.Safety.RepeatEscalationCount = 3
	}
	if c.Safety.LimitedModeDuration == 0 {
		c.Safety.LimitedModeDuration = 24 * time.Hour
	}
	if c.Safety.CooldownWindow == 0 {
		c.Safety.CooldownWindow = 72 * time.Hour
	}
	if c.Safety.AcuteWindow == 0 {
		c.Safety.AcuteWindow = 24 * time.Hour
	}
	if c.Safety.StabilizingWindow == 0 {
		c.Safety.StabilizingWindow = 7 * 24 * time.Hour
	}
	if c.Safety.StabilizingWindow <= c.Safety.AcuteWindow {
		return fmt.Errorf("safety.stabilizing_window must be longer than safety.acute_window")
	}

	if c.Quota.DailyLimit == 0 {
		c.Quota.DailyLimit = 50
	}
	if c.Quota.PerMinuteLimit == 0 {
		c.Quota.PerMinuteLimit = 4
	}
	if c.Quota.TrialLimit == 0 {
		c.Quota.TrialLimit = 10
	}
	if c.Quota.PerEntryAnalysisMax == 0 {
		c.Quota.PerEntryAnalysisMax = 3
	}
	if c.Quota.PerThreadMessageMax == 0 {
		c.Quota.PerThreadMessageMax = 30
	}

	if c.Routing.ProviderTimeout == 0 {
		c.Routing.ProviderTimeout = 25 * time.Second
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		raw  string
		dst  *time.Duration
		name string
	}{
		{cfg.Safety.LimitedModeDurationRaw, &cfg.Safety.LimitedModeDuration, "limited_mode_duration"},
		{cfg.Safety.CooldownWindowRaw, &cfg.Safety.CooldownWindow, "cooldown_window"},
		{cfg.Safety.AcuteWindowRaw, &cfg.Safety.AcuteWindow, "acute_window"},
		{cfg.Safety.StabilizingWindowRaw, &cfg.Safety.StabilizingWindow, "stabilizing_window"},
		{cfg.Routing.ProviderTimeoutRaw, &cfg.Routing.ProviderTimeout, "provider_timeout"},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}
