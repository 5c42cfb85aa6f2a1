package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"

	"costwatch/internal/anomaly"
)

// Config represents the complete application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server" envconfig:"SERVER"`
	Security SecurityConfig `yaml:"security" envconfig:"SECURITY"`
	Logging  LoggingConfig  `yaml:"logging" envconfig:"LOGGING"`
	Paths    PathsConfig    `yaml:"paths" envconfig:"PATHS"`
	Analysis AnalysisConfig `yaml:"analysis" envconfig:"ANALYSIS"`
	Rules    RulesConfig    `yaml:"rules"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT" default:"8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" default:"60s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT" default:"60s"`
	MaxHeaderBytes  int           `yaml:"max_header_bytes" envconfig:"MAX_HEADER_BYTES" default:"1048576"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
	AnalyzeTimeout  time.Duration `yaml:"analyze_timeout" envconfig:"ANALYZE_TIMEOUT" default:"5m"`
	// MaxUploadBytes bounds the uploaded workbook size.
	MaxUploadBytes int64 `yaml:"max_upload_bytes" envconfig:"MAX_UPLOAD_BYTES" default:"52428800"`
}

// SecurityConfig contains security-related configuration
type SecurityConfig struct {
	AllowedOrigins []string        `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS" default:"http://localhost:8080"`
	EnableCORS     bool            `yaml:"enable_cors" envconfig:"ENABLE_CORS" default:"true"`
	RateLimit      RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
}

// RateLimitConfig contains rate limiting configuration
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED" default:"true"`
	RPS     float64 `yaml:"rps" envconfig:"RPS" default:"100"`
	Burst   int     `yaml:"burst" envconfig:"BURST" default:"50"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level       string `yaml:"level" envconfig:"LEVEL" default:"info"`
	Format      string `yaml:"format" envconfig:"FORMAT" default:"json"`
	Output      string `yaml:"output" envconfig:"OUTPUT" default:"both"`
	FilePath    string `yaml:"file_path" envconfig:"FILE_PATH" default:"logs/costwatch.log"`
	Development bool   `yaml:"development" envconfig:"DEVELOPMENT" default:"false"`
}

// PathsConfig contains file system paths configuration
type PathsConfig struct {
	DataDir   string `yaml:"data_dir" envconfig:"DATA_DIR" default:"data"`
	ReportDir string `yaml:"report_dir" envconfig:"REPORT_DIR" default:"reports"`
	LogsDir   string `yaml:"logs_dir" envconfig:"LOGS_DIR" default:"logs"`
	// DefaultDataset is the workbook served by the parameterless analyze
	// endpoint.
	DefaultDataset string `yaml:"default_dataset" envconfig:"DEFAULT_DATASET" default:"data/ledger.xlsx"`
}

// AnalysisConfig contains the pipeline tunables
type AnalysisConfig struct {
	LookbackShort int     `yaml:"lookback_short" envconfig:"LOOKBACK_SHORT" default:"3"`
	LookbackLong  int     `yaml:"lookback_long" envconfig:"LOOKBACK_LONG" default:"12"`
	CorrThreshold float64 `yaml:"corr_threshold" envconfig:"CORR_THRESHOLD" default:"0.9"`
	MoMJumpPct    float64 `yaml:"mom_jump_pct" envconfig:"MOM_JUMP_PCT" default:"30"`

	Ensemble EnsembleConfig `yaml:"ensemble" envconfig:"ENSEMBLE"`
}

// EnsembleConfig contains the model ensemble parameters
type EnsembleConfig struct {
	Trees         int     `yaml:"trees" envconfig:"TREES" default:"300"`
	MaxSamples    int     `yaml:"max_samples" envconfig:"MAX_SAMPLES" default:"256"`
	Contamination float64 `yaml:"contamination" envconfig:"CONTAMINATION" default:"0.05"`
	Neighbors     int     `yaml:"neighbors" envconfig:"NEIGHBORS" default:"20"`
	Seed          int64   `yaml:"seed" envconfig:"SEED" default:"42"`
}

// RulesConfig contains the season/event rule overlay configuration. An empty
// rule list means the built-in rule set is used.
type RulesConfig struct {
	DefaultParity int          `yaml:"default_parity" envconfig:"DEFAULT_PARITY" default:"0"`
	ParityWindow  int          `yaml:"parity_window" envconfig:"PARITY_WINDOW" default:"24"`
	Rules         []RuleConfig `yaml:"rules"`
}

// RuleConfig declares one season/event rule in the config file
type RuleConfig struct {
	Name     string   `yaml:"name"`
	Pattern  string   `yaml:"pattern"`
	Schedule string   `yaml:"schedule"` // "bimonthly" or "fixed_months"
	Months   []int    `yaml:"months"`
	Tags     []string `yaml:"tags"`
}

// Load loads configuration from environment variables and config file
func Load() (*Config, error) {
	var cfg Config

	// Load from environment variables first
	if err := envconfig.Process("COSTWATCH", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	// Load from config file if exists
	configFile := getConfigFilePath()
	if configFile != "" {
		fileConfig, err := loadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
		cfg = mergeConfigs(*fileConfig, cfg)
	}

	// Validate configuration
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadFromFile loads configuration from YAML file
func loadFromFile(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// mergeConfigs merges file config with env config (env takes precedence for
// scalar settings, the file is the only source of custom rules)
func mergeConfigs(fileConfig, envConfig Config) Config {
	if envConfig.Server.Port == 0 {
		envConfig.Server.Port = fileConfig.Server.Port
	}
	if envConfig.Server.ReadTimeout == 0 {
		envConfig.Server.ReadTimeout = fileConfig.Server.ReadTimeout
	}
	if envConfig.Server.WriteTimeout == 0 {
		envConfig.Server.WriteTimeout = fileConfig.Server.WriteTimeout
	}
	if envConfig.Paths.DataDir == "" {
		envConfig.Paths.DataDir = fileConfig.Paths.DataDir
	}
	if envConfig.Paths.ReportDir == "" {
		envConfig.Paths.ReportDir = fileConfig.Paths.ReportDir
	}
	if len(fileConfig.Rules.Rules) > 0 {
		envConfig.Rules.Rules = fileConfig.Rules.Rules
	}
	return envConfig
}

// PipelineOptions converts the analysis section to pipeline options
func (c *Config) PipelineOptions() anomaly.Options {
	return anomaly.Options{
		LookbackShort: c.Analysis.LookbackShort,
		LookbackLong:  c.Analysis.LookbackLong,
		CorrThreshold: c.Analysis.CorrThreshold,
		MoMJumpPct:    c.Analysis.MoMJumpPct,
		Ensemble: anomaly.EnsembleConfig{
			Trees:         c.Analysis.Ensemble.Trees,
			MaxSamples:    c.Analysis.Ensemble.MaxSamples,
			Contamination: c.Analysis.Ensemble.Contamination,
			Neighbors:     c.Analysis.Ensemble.Neighbors,
			Seed:          c.Analysis.Ensemble.Seed,
		},
	}
}

// RuleOverlay converts the rules section to the pipeline rule config. With
// no configured rules the built-in set is used; the parity settings apply
// either way.
func (c *Config) RuleOverlay() (anomaly.RuleConfig, error) {
	out := anomaly.DefaultRuleConfig()
	out.DefaultParity = c.Rules.DefaultParity
	if c.Rules.ParityWindow > 0 {
		out.ParityWindow = c.Rules.ParityWindow
	}

	if len(c.Rules.Rules) == 0 {
		return out, nil
	}

	rules := make([]anomaly.SpecialRule, 0, len(c.Rules.Rules))
	for _, rc := range c.Rules.Rules {
		rule, err := anomaly.NewSpecialRule(rc.Name, rc.Pattern, anomaly.ScheduleKind(rc.Schedule), rc.Months, rc.Tags)
		if err != nil {
			return anomaly.RuleConfig{}, fmt.Errorf("rule config: %w", err)
		}
		rules = append(rules, rule)
	}
	out.Rules = rules
	return out, nil
}

// validate validates the configuration
func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server read timeout must be positive")
	}

	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server write timeout must be positive")
	}

	if c.Server.MaxUploadBytes <= 0 {
		return fmt.Errorf("max upload bytes must be positive")
	}

	if len(c.Security.AllowedOrigins) == 0 {
		return fmt.Errorf("at least one allowed origin must be specified")
	}

	// Logging stays on JSON dual output so every run leaves a log file.
	if c.Logging.Format != "json" {
		c.Logging.Format = "json"
	}
	if c.Logging.Output != "both" && c.Logging.Output != "file" && c.Logging.Output != "console" {
		c.Logging.Output = "both"
	}
	if c.Logging.FilePath == "" {
		c.Logging.FilePath = "logs/costwatch.log"
	}

	if err := c.PipelineOptions().Validate(); err != nil {
		return fmt.Errorf("analysis config: %w", err)
	}
	overlay, err := c.RuleOverlay()
	if err != nil {
		return err
	}
	if err := overlay.Validate(); err != nil {
		return fmt.Errorf("rules config: %w", err)
	}

	return nil
}

// getConfigFilePath returns the path to the config file
func getConfigFilePath() string {
	locations := []string{
		"config.yaml",
		"configs/config.yaml",
	}
	if p := os.Getenv("COSTWATCH_CONFIG"); p != "" {
		locations = append([]string{p}, locations...)
	}

	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}

	return "" // No config file found, use env vars only
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    60 * time.Second,
			IdleTimeout:     60 * time.Second,
			MaxHeaderBytes:  1 << 20, // 1MB
			ShutdownTimeout: 30 * time.Second,
			AnalyzeTimeout:  5 * time.Minute,
			MaxUploadBytes:  50 << 20,
		},
		Security: SecurityConfig{
			AllowedOrigins: []string{"http://localhost:8080"},
			EnableCORS:     true,
			RateLimit: RateLimitConfig{
				Enabled: true,
				RPS:     100,
				Burst:   50,
			},
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Output:   "both",
			FilePath: "logs/costwatch.log",
		},
		Paths: PathsConfig{
			DataDir:   "data",
			ReportDir: "reports",
			LogsDir:   "logs",
		},
		Analysis: AnalysisConfig{
			LookbackShort: 3,
			LookbackLong:  12,
			CorrThreshold: 0.9,
			MoMJumpPct:    30,
			Ensemble: EnsembleConfig{
				Trees:         300,
				MaxSamples:    256,
				Contamination: 0.05,
				Neighbors:     20,
				Seed:          42,
			},
		},
		Rules: RulesConfig{
			DefaultParity: 0,
			ParityWindow:  24,
		},
	}
}
