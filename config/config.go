package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/spf13/viper"
)

const (
	EnvDev     = "dev"
	EnvStaging = "staging"
	EnvProd    = "prod"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

const (
	EnvProjects  = "APPWRITE_PROJECTS"
	EnvEndpoint  = "APPWRITE_ENDPOINT"
	EnvProjectID = "APPWRITE_PROJECT_ID"
	EnvAPIKey    = "APPWRITE_API_KEY"
)

// ErrNoProjects is returned by Load when no project could be resolved from
// APPWRITE_PROJECTS, the config file or the single-project variables.
var ErrNoProjects = errors.New("no projects configured")

type ProjectConfig struct {
	Endpoint  string `mapstructure:"endpoint" json:"endpoint"`
	ProjectID string `mapstructure:"project_id" json:"projectId"`
	APIKey    string `mapstructure:"api_key" json:"apiKey"`
	Name      string `mapstructure:"name" json:"name,omitempty"`
}

// Label is the name used for the project in logs and reports.
func (p ProjectConfig) Label() string {
	if p.Name != "" {
		return p.Name
	}
	return p.ProjectID
}

type KeepaliveConfig struct {
	Source         string `mapstructure:"source"`
	Interval       string `mapstructure:"interval"`
	AttributeWait  string `mapstructure:"attribute_wait"`
	RequestTimeout string `mapstructure:"request_timeout"`
}

type BreakerConfig struct {
	Threshold    int    `mapstructure:"threshold"`
	ResetTimeout string `mapstructure:"reset_timeout"`
}

type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

type TracingConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type Config struct {
	Environment string          `mapstructure:"environment"`
	Logging     LoggingConfig   `mapstructure:"logging"`
	Keepalive   KeepaliveConfig `mapstructure:"keepalive"`
	Breaker     BreakerConfig   `mapstructure:"breaker"`
	Server      ServerConfig    `mapstructure:"server"`
	Tracing     TracingConfig   `mapstructure:"tracing"`
	Projects    []ProjectConfig `mapstructure:"projects"`
}

// Load reads keepalive.yaml from the search paths (./config and . when none
// are given), overlays environment variables and resolves the project list.
func Load(searchPaths ...string) (*Config, error) {
	v := viper.New()

	v.SetDefault("environment", EnvDev)
	v.SetDefault("logging.level", LogLevelInfo)
	v.SetDefault("keepalive.source", "github-actions")
	v.SetDefault("keepalive.interval", "")
	v.SetDefault("keepalive.attribute_wait", "2s")
	v.SetDefault("keepalive.request_timeout", "15s")
	v.SetDefault("breaker.threshold", 3)
	v.SetDefault("breaker.reset_timeout", "1h")
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.address", ":8080")
	v.SetDefault("tracing.enabled", false)

	v.SetConfigName("keepalive")
	v.SetConfigType("yaml")
	if len(searchPaths) == 0 {
		searchPaths = []string{"./config", "."}
	}
	for _, p := range searchPaths {
		v.AddConfigPath(p)
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	_ = v.BindEnv("appwrite.projects", EnvProjects)
	_ = v.BindEnv("appwrite.endpoint", EnvEndpoint)
	_ = v.BindEnv("appwrite.project_id", EnvProjectID)
	_ = v.BindEnv("appwrite.api_key", EnvAPIKey)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			slog.Error("failed to read config file", slog.String("error", err.Error()))
			return nil, fmt.Errorf("read config: %w", err)
		}
		slog.Debug("config file not found, using defaults and environment variables")
	} else {
		slog.Info("loaded config file", slog.String("file", v.ConfigFileUsed()))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		slog.Error("failed to unmarshal config", slog.String("error", err.Error()))
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	projects, err := resolveProjects(v, cfg.Projects)
	if err != nil {
		return nil, err
	}
	cfg.Projects = projects

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		return nil, err
	}

	return &cfg, nil
}

func resolveProjects(v *viper.Viper, fromFile []ProjectConfig) ([]ProjectConfig, error) {
	var parseErr error

	if raw := strings.TrimSpace(v.GetString("appwrite.projects")); raw != "" {
		projects, err := ParseProjects(raw)
		switch {
		case err != nil:
			slog.Error("failed to parse "+EnvProjects, slog.String("error", err.Error()))
			parseErr = err
		case len(projects) > 0:
			slog.Info("loaded projects from "+EnvProjects, slog.Int("count", len(projects)))
			return projects, nil
		}
	}

	if len(fromFile) > 0 {
		slog.Info("loaded projects from config file", slog.Int("count", len(fromFile)))
		return fromFile, nil
	}

	single := ProjectConfig{
		Endpoint:  v.GetString("appwrite.endpoint"),
		ProjectID: v.GetString("appwrite.project_id"),
		APIKey:    v.GetString("appwrite.api_key"),
	}
	if single.Endpoint != "" && single.ProjectID != "" && single.APIKey != "" {
		slog.Info("loaded single project from environment variables")
		return []ProjectConfig{single}, nil
	}

	if parseErr != nil {
		return nil, errors.Join(ErrNoProjects, parseErr)
	}
	return nil, ErrNoProjects
}

// ParseProjects decodes the APPWRITE_PROJECTS value. Anything other than a
// JSON array of project objects is rejected.
func ParseProjects(raw string) ([]ProjectConfig, error) {
	var projects []ProjectConfig
	if err := json.Unmarshal([]byte(raw), &projects); err != nil {
		return nil, fmt.Errorf("%s must be a JSON array of projects: %w", EnvProjects, err)
	}
	if projects == nil {
		return nil, fmt.Errorf("%s must be a JSON array of projects", EnvProjects)
	}
	return projects, nil
}

// Interval returns the parsed keepalive interval. Zero means a single run.
func (c *Config) Interval() time.Duration {
	return mustDuration(c.Keepalive.Interval)
}

func (c *Config) AttributeWait() time.Duration {
	return mustDuration(c.Keepalive.AttributeWait)
}

func (c *Config) RequestTimeout() time.Duration {
	return mustDuration(c.Keepalive.RequestTimeout)
}

func (c *Config) BreakerResetTimeout() time.Duration {
	return mustDuration(c.Breaker.ResetTimeout)
}

// mustDuration is only used on validated values; empty strings are zero.
func mustDuration(s string) time.Duration {
	if s == "" {
		return 0
	}
	d, _ := time.ParseDuration(s)
	return d
}

func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Environment,
			validation.Required,
			validation.In(EnvDev, EnvStaging, EnvProd),
		),
		validation.Field(&c.Logging,
			validation.By(func(value interface{}) error {
				lc, ok := value.(LoggingConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a LoggingConfig")
				}
				return validation.ValidateStruct(&lc,
					validation.Field(&lc.Level,
						validation.Required,
						validation.In(LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError),
					),
				)
			}),
		),
		validation.Field(&c.Keepalive,
			validation.By(func(value interface{}) error {
				kc, ok := value.(KeepaliveConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a KeepaliveConfig")
				}
				return validation.ValidateStruct(&kc,
					validation.Field(&kc.Source, validation.Required, validation.Length(1, 64)),
					validation.Field(&kc.Interval, validation.By(validateOptionalDuration)),
					validation.Field(&kc.AttributeWait, validation.By(validateOptionalDuration)),
					validation.Field(&kc.RequestTimeout,
						validation.Required,
						validation.By(validateOptionalDuration),
					),
				)
			}),
		),
		validation.Field(&c.Breaker,
			validation.By(func(value interface{}) error {
				bc, ok := value.(BreakerConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a BreakerConfig")
				}
				return validation.ValidateStruct(&bc,
					validation.Field(&bc.Threshold, validation.Required, validation.Min(1)),
					validation.Field(&bc.ResetTimeout,
						validation.Required,
						validation.By(validateOptionalDuration),
					),
				)
			}),
		),
		validation.Field(&c.Server,
			validation.By(func(value interface{}) error {
				sc, ok := value.(ServerConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a ServerConfig")
				}
				if !sc.Enabled {
					return nil
				}
				return validation.ValidateStruct(&sc,
					validation.Field(&sc.Address, validation.Required, validation.By(ValidateHostPort)),
				)
			}),
		),
		validation.Field(&c.Projects,
			validation.Required,
			validation.Length(1, 0),
			validation.Each(validation.By(validateProjectConfig)),
		),
	)
}

func validateOptionalDuration(value interface{}) error {
	durationStr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	if durationStr == "" {
		return nil
	}

	d, err := time.ParseDuration(durationStr)
	if err != nil {
		return validation.NewError("validation_invalid_duration", "must be a valid duration (e.g., 2s, 5m, 1h)")
	}
	if d < 0 {
		return validation.NewError("validation_negative_duration", "must not be negative")
	}

	return nil
}

func validateProjectConfig(value interface{}) error {
	project, ok := value.(ProjectConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a ProjectConfig")
	}

	if project.Endpoint == "" {
		return validation.NewError("validation_empty_endpoint", "endpoint cannot be empty")
	}

	parsedURL, err := url.Parse(project.Endpoint)
	if err != nil {
		return validation.NewError("validation_invalid_url", "endpoint must be a valid URL")
	}

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return validation.NewError("validation_invalid_scheme", "endpoint must use http or https scheme")
	}

	if parsedURL.Host == "" {
		return validation.NewError("validation_missing_host", "endpoint must have a host")
	}

	if strings.TrimSpace(project.ProjectID) == "" {
		return validation.NewError("validation_empty_project_id", "projectId cannot be empty")
	}

	if strings.TrimSpace(project.APIKey) == "" {
		return validation.NewError("validation_empty_api_key", "apiKey cannot be empty")
	}

	return nil
}

// ValidateHostPort accepts "host:port" and ":port" listen addresses.
func ValidateHostPort(value interface{}) error {
	addr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return validation.NewError("validation_invalid_hostport", "must be in host:port format")
	}

	if port == "" {
		return validation.NewError("validation_invalid_port", "port cannot be empty")
	}

	if host != "" {
		if err := is.Host.Validate(host); err != nil {
			return validation.NewError("validation_invalid_host", "invalid host")
		}
	}

	return nil
}
