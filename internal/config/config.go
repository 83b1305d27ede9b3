package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// EnvPrefix namespaces every environment variable, e.g. MARSLOG_SERVER_PORT.
const EnvPrefix = "MARSLOG"

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	License   LicenseConfig   `yaml:"license" envconfig:"LICENSE"`
	Security  SecurityConfig  `yaml:"security" envconfig:"SECURITY"`
	Telemetry TelemetryConfig `yaml:"telemetry" envconfig:"TELEMETRY"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host" envconfig:"HOST"`
	Port            int           `yaml:"port" envconfig:"PORT" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT" validate:"gt=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" validate:"gt=0"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT" validate:"gt=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT" validate:"gt=0"`
	// WebDir holds the dashboard pages served under /ui.
	WebDir string `yaml:"web_dir" envconfig:"WEB_DIR"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL" validate:"oneof=debug info warn warning error"`
	Output   string `yaml:"output" envconfig:"OUTPUT" validate:"oneof=console file both"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH" validate:"required_unless=Output console"`
}

// LicenseConfig holds every candidate path list and policy knob of the
// license subsystem. Candidate lists are ordered; the first usable entry wins.
type LicenseConfig struct {
	ArtifactPaths []string `yaml:"artifact_paths" envconfig:"ARTIFACT_PATHS" validate:"min=1,dive,required"`
	TrialDirs     []string `yaml:"trial_dirs" envconfig:"TRIAL_DIRS" validate:"min=1,dive,required"`
	// FallbackDirs follow TrialDirs when writing the trial record. Empty
	// means app data dir, then system temp, then /var/tmp.
	FallbackDirs []string `yaml:"fallback_dirs" envconfig:"FALLBACK_DIRS" validate:"dive,required"`
	TrialFile    string   `yaml:"trial_file" envconfig:"TRIAL_FILE" validate:"required,excludesall=/\\"`
	MirrorPath   string   `yaml:"mirror_path" envconfig:"MIRROR_PATH"`

	TrialDuration      time.Duration `yaml:"trial_duration" envconfig:"TRIAL_DURATION" validate:"gt=0"`
	TrialWarnThreshold time.Duration `yaml:"trial_warn_threshold" envconfig:"TRIAL_WARN_THRESHOLD" validate:"gte=0"`
	LicenseWarnDays    int           `yaml:"license_warn_days" envconfig:"LICENSE_WARN_DAYS" validate:"gte=0"`
	WarningCycle       time.Duration `yaml:"warning_cycle" envconfig:"WARNING_CYCLE" validate:"gt=0"`
	TrialDevices       int           `yaml:"trial_devices" envconfig:"TRIAL_DEVICES" validate:"gte=-1"`
	TrialEPS           int           `yaml:"trial_eps" envconfig:"TRIAL_EPS" validate:"gte=-1"`

	Store    string `yaml:"store" envconfig:"STORE" validate:"oneof=file bolt"`
	BoltFile string `yaml:"bolt_file" envconfig:"BOLT_FILE" validate:"required_if=Store bolt,excludesall=/\\"`

	Delegate DelegateConfig `yaml:"delegate" envconfig:"DELEGATE"`

	AllowedPages  []string `yaml:"allowed_pages" envconfig:"ALLOWED_PAGES" validate:"dive,required"`
	LicensePage   string   `yaml:"license_page" envconfig:"LICENSE_PAGE" validate:"required,startswith=/"`
	SessionCookie string   `yaml:"session_cookie" envconfig:"SESSION_COOKIE" validate:"required"`
}

// DelegateConfig configures the external validation delegate.
type DelegateConfig struct {
	Script       string        `yaml:"script" envconfig:"SCRIPT"`
	Interpreters []string      `yaml:"interpreters" envconfig:"INTERPRETERS"`
	ProbeModules []string      `yaml:"probe_modules" envconfig:"PROBE_MODULES"`
	Timeout      time.Duration `yaml:"timeout" envconfig:"TIMEOUT" validate:"gt=0"`
	ProbeTimeout time.Duration `yaml:"probe_timeout" envconfig:"PROBE_TIMEOUT" validate:"gt=0"`
}

// SecurityConfig contains security-related configuration
type SecurityConfig struct {
	// AdminTokenHash is a bcrypt hash of the token required for trial reset.
	// Empty disables reset over HTTP.
	AdminTokenHash  string          `yaml:"admin_token_hash" envconfig:"ADMIN_TOKEN_HASH"`
	ActivationRPS   float64         `yaml:"activation_rps" envconfig:"ACTIVATION_RPS" validate:"gte=0"`
	ActivationBurst int             `yaml:"activation_burst" envconfig:"ACTIVATION_BURST" validate:"gte=0"`
	RateLimit       RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
}

// RateLimitConfig contains rate limiting configuration
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED"`
	RPS     float64 `yaml:"rps" envconfig:"RPS" validate:"gte=0"`
	Burst   int     `yaml:"burst" envconfig:"BURST" validate:"gte=0"`
}

// TelemetryConfig controls OpenTelemetry providers.
type TelemetryConfig struct {
	ServiceName   string `yaml:"service_name" envconfig:"SERVICE_NAME" validate:"required"`
	EnableMetrics bool   `yaml:"enable_metrics" envconfig:"ENABLE_METRICS"`
	EnableTracing bool   `yaml:"enable_tracing" envconfig:"ENABLE_TRACING"`
	TraceExporter string `yaml:"trace_exporter" envconfig:"TRACE_EXPORTER" validate:"oneof=stdout none"`
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			WebDir:          "web",
		},
		Logging: LoggingConfig{
			Level:    "info",
			Output:   "console",
			FilePath: "logs/marslog.log",
		},
		License: LicenseConfig{
			ArtifactPaths: []string{
				"/app/license/license_0.json.enc",
				"/var/www/html/license/license_0.json.enc",
				"license/license_0.json.enc",
				"data/license_0.json.enc",
				"/tmp/license_0.json.enc",
			},
			TrialDirs: []string{
				"/app/data",
				"/var/www/html/data",
				"data",
			},
			TrialFile:          "trial_started.json",
			MirrorPath:         "/app/data/trial_started.json",
			TrialDuration:      30 * 24 * time.Hour,
			TrialWarnThreshold: 72 * time.Hour,
			LicenseWarnDays:    7,
			WarningCycle:       5 * time.Minute,
			TrialDevices:       10,
			TrialEPS:           1000,
			Store:              "file",
			BoltFile:           "license.db",
			Delegate: DelegateConfig{
				Script:       "license/license_validator.py",
				Interpreters: []string{"python3", "python"},
				ProbeModules: []string{"cryptography", "json", "base64", "hashlib"},
				Timeout:      15 * time.Second,
				ProbeTimeout: 5 * time.Second,
			},
			AllowedPages: []string{
				"dashboard_monitor",
				"dashboard_admin",
				"license_info",
				"login",
				"logout",
			},
			LicensePage:   "/ui/license_info.php",
			SessionCookie: "PHPSESSID",
		},
		Security: SecurityConfig{
			ActivationRPS:   0.2,
			ActivationBurst: 3,
			RateLimit: RateLimitConfig{
				Enabled: true,
				RPS:     50,
				Burst:   100,
			},
		},
		Telemetry: TelemetryConfig{
			ServiceName:   "marslog",
			EnableMetrics: true,
			TraceExporter: "none",
		},
	}
}

// Load builds the configuration from defaults, the first config file found,
// and MARSLOG_* environment variables, in increasing precedence. Relative
// paths resolve against the executable directory.
func Load() (*Config, error) {
	base, err := ExecutableDir()
	if err != nil {
		return nil, err
	}
	return LoadFrom(ConfigFilePath(), base)
}

// LoadFrom is Load with an explicit config file (empty for none) and base
// directory for relative paths.
func LoadFrom(configFile, baseDir string) (*Config, error) {
	cfg := Default()

	if configFile != "" {
		if err := loadFile(configFile, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	cfg.ResolvePaths(baseDir)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// loadFile overlays the YAML file at path onto cfg. Keys missing from the
// file keep their current values.
func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// ConfigFilePath returns MARSLOG_CONFIG when set, otherwise the first
// existing well-known config file, otherwise "".
func ConfigFilePath() string {
	if p := os.Getenv(EnvPrefix + "_CONFIG"); p != "" {
		return p
	}
	for _, location := range []string{"config.yaml", "configs/config.yaml"} {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}
	return ""
}

var validate = validator.New()

// Validate checks the configuration against its struct constraints.
func (c *Config) Validate() error {
	return validate.Struct(c)
}

// Address returns the listen address.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
