// Package config loads the workflow configuration record consumed by the
// planner, the development runtime client and the search engine.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the complete configuration record. It is built once at process
// start and passed explicitly into every component constructor.
type Config struct {
	ModelName     string        `mapstructure:"model_name" json:"model_name" yaml:"model_name"`
	Temperature   float64       `mapstructure:"temperature" json:"temperature" yaml:"temperature"`
	MaxIterations int           `mapstructure:"max_iterations" json:"max_iterations" yaml:"max_iterations"`
	MaxRetries    int           `mapstructure:"max_retries" json:"max_retries" yaml:"max_retries"`
	WorkspacePath string        `mapstructure:"workspace_path" json:"workspace_path" yaml:"workspace_path"`
	Search        SearchConfig  `mapstructure:"search_config" json:"search_config" yaml:"search_config"`
	LoggingLevel  string        `mapstructure:"logging_level" json:"logging_level" yaml:"logging_level"`
	Logging       LoggingConfig `mapstructure:"logging" json:"logging" yaml:"logging"`
	Runtime       RuntimeConfig `mapstructure:"runtime" json:"runtime" yaml:"runtime"`
	Server        ServerConfig  `mapstructure:"server" json:"server" yaml:"server"`
	Auth          AuthConfig    `mapstructure:"auth" json:"-" yaml:"-"`
}

// SearchConfig controls the internal workspace search tool
type SearchConfig struct {
	InternalEnabled bool `mapstructure:"internal_enabled" json:"internal_enabled" yaml:"internal_enabled"`
	// ExternalEnabled is carried for the external search collaborator; the
	// core never performs web searches itself.
	ExternalEnabled bool `mapstructure:"external_enabled" json:"external_enabled" yaml:"external_enabled"`

	MaxResultsPerQuery int     `mapstructure:"max_results_per_query" json:"max_results_per_query" yaml:"max_results_per_query"`
	RelevanceThreshold float64 `mapstructure:"relevance_threshold" json:"relevance_threshold" yaml:"relevance_threshold"`

	// SearchTimeout is expressed in seconds
	SearchTimeout int `mapstructure:"search_timeout" json:"search_timeout" yaml:"search_timeout"`
}

// Timeout returns the search timeout as a duration (0 disables it)
func (s SearchConfig) Timeout() time.Duration {
	return time.Duration(s.SearchTimeout) * time.Second
}

// LoggingConfig controls log output formatting
type LoggingConfig struct {
	// Format is "json" (default) or "text"
	Format string `mapstructure:"format" json:"format" yaml:"format"`
}

// RuntimeConfig locates the external planning and development capabilities
type RuntimeConfig struct {
	ModelURL     string        `mapstructure:"model_url" json:"model_url" yaml:"model_url"`
	DeveloperURL string        `mapstructure:"developer_url" json:"developer_url" yaml:"developer_url"`
	Timeout      time.Duration `mapstructure:"timeout" json:"timeout" yaml:"timeout"`
}

// ServerConfig controls the HTTP API
type ServerConfig struct {
	Port string `mapstructure:"port" json:"port" yaml:"port"`
	// WorkspaceRoot confines the workspace paths API clients may request.
	// Empty means WorkspacePath.
	WorkspaceRoot string `mapstructure:"workspace_root" json:"workspace_root" yaml:"workspace_root"`
}

// AuthConfig holds the API signing secret. An empty secret disables auth.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

// Default values
const (
	DefaultModelName          = "gemini-2.5-flash"
	DefaultTemperature        = 0.2
	DefaultMaxIterations      = 10
	DefaultMaxRetries         = 3
	DefaultWorkspacePath      = "./workspace"
	DefaultMaxResults         = 10
	MaxResultsLimit           = 10
	DefaultRelevanceThreshold = 0.5
	DefaultSearchTimeout      = 30
	DefaultLoggingLevel       = "INFO"
	DefaultModelURL           = "http://model-runtime-service:8000"
	DefaultDeveloperURL       = "http://developer-runtime-service:8000"
	DefaultRuntimeTimeout     = 10 * time.Minute
	DefaultPort               = "8080"
)

// envBindings maps config keys to the environment variables that set them
var envBindings = map[string]string{
	"model_name":                          "GEMINI_MODEL",
	"temperature":                         "TEMPERATURE",
	"max_iterations":                      "MAX_ITERATIONS",
	"max_retries":                         "MAX_RETRIES",
	"workspace_path":                      "WORKSPACE_PATH",
	"search_config.max_results_per_query": "MAX_SEARCH_RESULTS",
	"search_config.relevance_threshold":   "RELEVANCE_THRESHOLD",
	"search_config.search_timeout":        "SEARCH_TIMEOUT",
	"logging_level":                       "LOGGING_LEVEL",
	"logging.format":                      "LOG_FORMAT",
	"runtime.model_url":                   "MODEL_RUNTIME_URL",
	"runtime.developer_url":               "DEVELOPER_RUNTIME_URL",
	"runtime.timeout":                     "RUNTIME_TIMEOUT",
	"server.port":                         "PORT",
	"server.workspace_root":               "WORKSPACE_ROOT",
	"auth.jwt_secret":                     "JWT_SECRET",
}

// Default returns the configuration with every default applied
func Default() *Config {
	return &Config{
		ModelName:     DefaultModelName,
		Temperature:   DefaultTemperature,
		MaxIterations: DefaultMaxIterations,
		MaxRetries:    DefaultMaxRetries,
		WorkspacePath: DefaultWorkspacePath,
		Search: SearchConfig{
			InternalEnabled:    true,
			ExternalEnabled:    true,
			MaxResultsPerQuery: DefaultMaxResults,
			RelevanceThreshold: DefaultRelevanceThreshold,
			SearchTimeout:      DefaultSearchTimeout,
		},
		LoggingLevel: DefaultLoggingLevel,
		Logging:      LoggingConfig{Format: "json"},
		Runtime: RuntimeConfig{
			ModelURL:     DefaultModelURL,
			DeveloperURL: DefaultDeveloperURL,
			Timeout:      DefaultRuntimeTimeout,
		},
		Server: ServerConfig{Port: DefaultPort},
	}
}

// SetDefaults registers every default on v
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("model_name", d.ModelName)
	v.SetDefault("temperature", d.Temperature)
	v.SetDefault("max_iterations", d.MaxIterations)
	v.SetDefault("max_retries", d.MaxRetries)
	v.SetDefault("workspace_path", d.WorkspacePath)
	v.SetDefault("search_config.internal_enabled", d.Search.InternalEnabled)
	v.SetDefault("search_config.external_enabled", d.Search.ExternalEnabled)
	v.SetDefault("search_config.max_results_per_query", d.Search.MaxResultsPerQuery)
	v.SetDefault("search_config.relevance_threshold", d.Search.RelevanceThreshold)
	v.SetDefault("search_config.search_timeout", d.Search.SearchTimeout)
	v.SetDefault("logging_level", d.LoggingLevel)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("runtime.model_url", d.Runtime.ModelURL)
	v.SetDefault("runtime.developer_url", d.Runtime.DeveloperURL)
	v.SetDefault("runtime.timeout", d.Runtime.Timeout)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.workspace_root", d.Server.WorkspaceRoot)
	v.SetDefault("auth.jwt_secret", "")
}

// Load reads configuration from defaults, an optional YAML file and the
// environment, in increasing order of precedence.
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.LoggingLevel = strings.ToUpper(cfg.LoggingLevel)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges
func (c *Config) Validate() error {
	var errs []error
	if c.ModelName == "" {
		errs = append(errs, errors.New("model_name must not be empty"))
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		errs = append(errs, fmt.Errorf("temperature must be within [0, 2], got %v", c.Temperature))
	}
	if c.MaxIterations <= 0 {
		errs = append(errs, fmt.Errorf("max_iterations must be positive, got %d", c.MaxIterations))
	}
	if c.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("max_retries must not be negative, got %d", c.MaxRetries))
	}
	if c.Search.MaxResultsPerQuery <= 0 || c.Search.MaxResultsPerQuery > MaxResultsLimit {
		errs = append(errs, fmt.Errorf("search_config.max_results_per_query must be within [1, %d], got %d", MaxResultsLimit, c.Search.MaxResultsPerQuery))
	}
	if c.Search.SearchTimeout < 0 {
		errs = append(errs, fmt.Errorf("search_config.search_timeout must not be negative, got %d", c.Search.SearchTimeout))
	}
	if c.Search.RelevanceThreshold < 0 {
		errs = append(errs, fmt.Errorf("search_config.relevance_threshold must not be negative, got %v", c.Search.RelevanceThreshold))
	}
	switch c.LoggingLevel {
	case "DEBUG", "INFO", "WARN", "WARNING", "ERROR":
	default:
		errs = append(errs, fmt.Errorf("logging_level %q is not one of DEBUG, INFO, WARN, ERROR", c.LoggingLevel))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// APIWorkspaceRoot returns the directory that API workspace paths must stay under
func (c *Config) APIWorkspaceRoot() string {
	if c.Server.WorkspaceRoot != "" {
		return c.Server.WorkspaceRoot
	}
	return c.WorkspacePath
}

// WithWorkspace returns a copy of c scoped to the given workspace path
func (c Config) WithWorkspace(path string) *Config {
	if path != "" {
		c.WorkspacePath = path
	}
	return &c
}
