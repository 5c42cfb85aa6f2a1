package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"costwatch/internal/anomaly"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.validate())

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 0.05, cfg.Analysis.Ensemble.Contamination)
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"bad upload limit", func(c *Config) { c.Server.MaxUploadBytes = 0 }},
		{"no origins", func(c *Config) { c.Security.AllowedOrigins = nil }},
		{"bad lookback", func(c *Config) { c.Analysis.LookbackShort = 0 }},
		{"bad contamination", func(c *Config) { c.Analysis.Ensemble.Contamination = 0.9 }},
		{"bad parity", func(c *Config) { c.Rules.DefaultParity = 5 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.validate())
		})
	}
}

func TestValidate_NormalizesLogging(t *testing.T) {
	cfg := Default()
	cfg.Logging.Format = "text"
	cfg.Logging.Output = "syslog"
	cfg.Logging.FilePath = ""
	require.NoError(t, cfg.validate())

	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "both", cfg.Logging.Output)
	assert.NotEmpty(t, cfg.Logging.FilePath)
}

func TestPipelineOptions(t *testing.T) {
	cfg := Default()
	opts := cfg.PipelineOptions()
	require.NoError(t, opts.Validate())
	assert.Equal(t, 3, opts.LookbackShort)
	assert.Equal(t, int64(42), opts.Ensemble.Seed)
}

func TestRuleOverlay_Defaults(t *testing.T) {
	cfg := Default()
	rc, err := cfg.RuleOverlay()
	require.NoError(t, err)
	assert.Len(t, rc.Rules, 3)
	assert.Equal(t, 0, rc.DefaultParity)
	assert.Equal(t, 24, rc.ParityWindow)
}

func TestRuleOverlay_CustomRules(t *testing.T) {
	cfg := Default()
	cfg.Rules.Rules = []RuleConfig{
		{Name: "감가상각", Pattern: `감가상각`, Schedule: "fixed_months", Months: []int{12}, Tags: []string{"반복"}},
	}
	rc, err := cfg.RuleOverlay()
	require.NoError(t, err)
	require.Len(t, rc.Rules, 1)
	assert.Equal(t, "감가상각", rc.Rules[0].Name)
	assert.Equal(t, anomaly.ScheduleFixedMonths, rc.Rules[0].Schedule)

	cfg.Rules.Rules[0].Pattern = "("
	_, err = cfg.RuleOverlay()
	assert.Error(t, err)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
analysis:
  lookback_short: 6
rules:
  default_parity: 1
  rules:
    - name: 성과급
      pattern: 성과급
      schedule: fixed_months
      months: [1, 7]
      tags: [이벤트]
`), 0644))

	cfg, err := loadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 6, cfg.Analysis.LookbackShort)
	assert.Equal(t, 1, cfg.Rules.DefaultParity)
	require.Len(t, cfg.Rules.Rules, 1)
	assert.Equal(t, []int{1, 7}, cfg.Rules.Rules[0].Months)
}
