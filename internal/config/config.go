// Package config loads service settings from YAML with environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dvloznov/expense-insight/internal/anomaly"
	"github.com/dvloznov/expense-insight/internal/ledger"
)

// Config is the top-level configuration file.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Ledger   LedgerConfig   `yaml:"ledger"`
	Analysis AnalysisConfig `yaml:"analysis"`
	Jobs     JobsConfig     `yaml:"jobs"`
	Reports  ReportsConfig  `yaml:"reports"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Port         string        `yaml:"port"`
	APIToken     string        `yaml:"api_token,omitempty"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// LedgerConfig selects where ledger rows come from.
type LedgerConfig struct {
	Source    string `yaml:"source"` // "bigquery" or "csv"
	ProjectID string `yaml:"project_id,omitempty"`
	Dataset   string `yaml:"dataset"`
	Table     string `yaml:"table"`
	CSVURI    string `yaml:"csv_uri,omitempty"`
}

// AnalysisConfig holds the default detector parameters.
type AnalysisConfig struct {
	Threshold     float64 `yaml:"threshold"`
	Contamination float64 `yaml:"contamination"`
	ThresholdPct  float64 `yaml:"threshold_pct"`
	MLMinRows     int     `yaml:"ml_min_rows"`
	Seed          uint64  `yaml:"seed"`
	Trees         int     `yaml:"trees"`
	RCAMinRows    int     `yaml:"rca_min_rows"`
}

// JobsConfig sizes the async worker pool.
type JobsConfig struct {
	Workers    int           `yaml:"workers"`
	BufferSize int           `yaml:"buffer_size"`
	MaxRetries int           `yaml:"max_retries"`
	Backoff    time.Duration `yaml:"backoff"`
}

// ReportsConfig enables archiving of job results. Empty bucket disables it.
type ReportsConfig struct {
	Bucket string `yaml:"bucket,omitempty"`
}

// LogConfig controls logger output.
type LogConfig struct {
	Level   string `yaml:"level"`
	Console bool   `yaml:"console"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	p := anomaly.DefaultParams()
	return &Config{
		Server: ServerConfig{
			Port:         "8080",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 60 * time.Second,
		},
		Ledger: LedgerConfig{
			Source:  ledger.SourceBigQuery,
			Dataset: "finance",
			Table:   "finance_expenses",
		},
		Analysis: AnalysisConfig{
			Threshold:     p.Threshold,
			Contamination: p.Contamination,
			ThresholdPct:  p.ThresholdPct,
			MLMinRows:     p.MLMinRows,
			Seed:          p.Seed,
			Trees:         100,
			RCAMinRows:    20,
		},
		Jobs: JobsConfig{
			Workers:    5,
			BufferSize: 100,
			MaxRetries: 3,
			Backoff:    time.Second,
		},
		Log: LogConfig{Level: "info", Console: true},
	}
}

// Load reads path over the defaults and then applies environment overrides.
// An empty path yields defaults plus environment. Callers run Validate once
// any flag overrides are applied.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("Load: reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("Load: parsing config: %w", err)
		}
	}
	cfg.applyEnv(os.Getenv)
	return cfg, nil
}

// Save writes cfg as YAML.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("Save: marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("Save: writing config: %w", err)
	}
	return nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&c.Ledger.ProjectID, "LEDGER_PROJECT_ID")
	set(&c.Ledger.Source, "LEDGER_SOURCE")
	set(&c.Ledger.CSVURI, "LEDGER_CSV_URI")
	set(&c.Reports.Bucket, "REPORTS_BUCKET")
	set(&c.Server.APIToken, "API_TOKEN")
	set(&c.Log.Level, "LOG_LEVEL")
	set(&c.Server.Port, "PORT")
}

// Validate checks settings that would otherwise fail at first use.
func (c *Config) Validate() error {
	var errs []error
	switch strings.ToLower(c.Ledger.Source) {
	case ledger.SourceBigQuery:
		if c.Ledger.ProjectID == "" {
			errs = append(errs, errors.New("ledger.project_id is required for bigquery"))
		}
	case ledger.SourceCSV:
		if c.Ledger.CSVURI == "" {
			errs = append(errs, errors.New("ledger.csv_uri is required for csv"))
		}
	default:
		errs = append(errs, fmt.Errorf("%w: %q", ledger.ErrUnsupportedSource, c.Ledger.Source))
	}
	if c.Jobs.Workers < 1 {
		errs = append(errs, errors.New("jobs.workers must be positive"))
	}
	if c.Jobs.MaxRetries < 0 {
		errs = append(errs, errors.New("jobs.max_retries must not be negative"))
	}
	if err := c.Params().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("analysis: %w", err))
	}
	return errors.Join(errs...)
}

// Params returns the detector parameters.
func (c *Config) Params() anomaly.Params {
	return anomaly.Params{
		Threshold:     c.Analysis.Threshold,
		Contamination: c.Analysis.Contamination,
		ThresholdPct:  c.Analysis.ThresholdPct,
		MLMinRows:     c.Analysis.MLMinRows,
		Seed:          c.Analysis.Seed,
	}.WithDefaults()
}

// LedgerOptions returns the options for ledger.Open.
func (c *Config) LedgerOptions() ledger.Options {
	return ledger.Options{
		Kind:      c.Ledger.Source,
		ProjectID: c.Ledger.ProjectID,
		Dataset:   c.Ledger.Dataset,
		Table:     c.Ledger.Table,
		CSVURI:    c.Ledger.CSVURI,
	}
}
