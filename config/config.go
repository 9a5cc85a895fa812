// Package config - Config holds the settings for one mirror run, resolved from defaults, an optional
// YAML file and the environment, and validated once at startup.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/ortelius/release-mirror/util"
	"gopkg.in/yaml.v2"
)

// Defaults
const (
	DefaultStateFile         = "synced_versions.json"
	DefaultBatchSize         = 10
	DefaultDownloadTimeout   = 300 * time.Second
	DefaultTimeTolerance     = 60 * time.Second
	DefaultRequestsPerSecond = 5.0
	DefaultCommitName        = "github-actions[bot]"
	DefaultCommitEmail       = "github-actions[bot]@users.noreply.github.com"
)

var (
	// ErrMissingSourceRepo is returned by Validate when no source repository is configured.
	ErrMissingSourceRepo = errors.New("source repository is required (SOURCE_REPO)")
	// ErrMissingTargetRepo is returned by Validate when no target repository could be resolved.
	ErrMissingTargetRepo = errors.New("target repository is required (TARGET_REPO or GITHUB_REPOSITORY)")
	// ErrInvalidConfig wraps any other validation failure.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Config is the explicit configuration passed to the pipeline
type Config struct {
	SourceRepo        string
	TargetRepo        string
	SourceToken       string
	TargetToken       string
	StateFile         string
	BatchSize         int
	DownloadTimeout   time.Duration
	TimeTolerance     time.Duration
	TempDir           string
	Publish           bool
	Push              bool
	Recheck           bool
	APIURL            string
	RequestsPerSecond float64
	CommitName        string
	CommitEmail       string
	MetricsFile       string
}

// fileConfig mirrors Config for YAML decoding; durations are strings such as "5m"
type fileConfig struct {
	SourceRepo        string   `yaml:"source_repo"`
	TargetRepo        string   `yaml:"target_repo"`
	StateFile         string   `yaml:"state_file"`
	BatchSize         int      `yaml:"batch_size"`
	DownloadTimeout   string   `yaml:"download_timeout"`
	TimeTolerance     string   `yaml:"time_tolerance"`
	TempDir           string   `yaml:"temp_dir"`
	Publish           *bool    `yaml:"publish"`
	Push              *bool    `yaml:"push"`
	Recheck           *bool    `yaml:"recheck"`
	APIURL            string   `yaml:"api_url"`
	RequestsPerSecond *float64 `yaml:"requests_per_second"`
	CommitName        string   `yaml:"commit_name"`
	CommitEmail       string   `yaml:"commit_email"`
	MetricsFile       string   `yaml:"metrics_file"`
}

// NewConfig is the contructor that sets the appropriate default values
func NewConfig() *Config {
	return &Config{
		StateFile:         DefaultStateFile,
		BatchSize:         DefaultBatchSize,
		DownloadTimeout:   DefaultDownloadTimeout,
		TimeTolerance:     DefaultTimeTolerance,
		TempDir:           os.TempDir(),
		Publish:           true,
		Push:              true,
		RequestsPerSecond: DefaultRequestsPerSecond,
		CommitName:        DefaultCommitName,
		CommitEmail:       DefaultCommitEmail,
	}
}

// LoadFile overlays the settings found in a YAML file. Tokens are never read from files.
func (c *Config) LoadFile(path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.UnmarshalStrict(content, &fc); err != nil {
		return fmt.Errorf("%w: config file %s: %v", ErrInvalidConfig, path, err)
	}

	setString(&c.SourceRepo, fc.SourceRepo)
	setString(&c.TargetRepo, fc.TargetRepo)
	setString(&c.StateFile, fc.StateFile)
	setString(&c.TempDir, fc.TempDir)
	setString(&c.APIURL, fc.APIURL)
	setString(&c.CommitName, fc.CommitName)
	setString(&c.CommitEmail, fc.CommitEmail)
	setString(&c.MetricsFile, fc.MetricsFile)

	if fc.BatchSize != 0 {
		c.BatchSize = fc.BatchSize
	}
	if fc.Publish != nil {
		c.Publish = *fc.Publish
	}
	if fc.Push != nil {
		c.Push = *fc.Push
	}
	if fc.Recheck != nil {
		c.Recheck = *fc.Recheck
	}
	if fc.RequestsPerSecond != nil {
		c.RequestsPerSecond = *fc.RequestsPerSecond
	}
	if err := setDuration(&c.DownloadTimeout, fc.DownloadTimeout); err != nil {
		return fmt.Errorf("%w: download_timeout: %v", ErrInvalidConfig, err)
	}
	if err := setDuration(&c.TimeTolerance, fc.TimeTolerance); err != nil {
		return fmt.Errorf("%w: time_tolerance: %v", ErrInvalidConfig, err)
	}
	return nil
}

// ApplyEnv overlays the recognized environment variables
func (c *Config) ApplyEnv() error {
	setString(&c.SourceRepo, os.Getenv("SOURCE_REPO"))
	setString(&c.TargetRepo, util.GetEnvOrDefault("", "TARGET_REPO", "GITHUB_REPOSITORY"))
	setString(&c.SourceToken, util.GetEnvOrDefault("", "SOURCE_TOKEN", "GITHUB_TOKEN"))
	setString(&c.TargetToken, util.GetEnvOrDefault("", "TARGET_TOKEN", "GITHUB_TOKEN"))
	setString(&c.StateFile, os.Getenv("MIRROR_STATE_FILE"))
	setString(&c.TempDir, util.GetEnvOrDefault("", "MIRROR_TEMP_DIR", "RUNNER_TEMP"))
	setString(&c.APIURL, os.Getenv("GITHUB_API_URL"))
	// an explicitly empty MIRROR_METRICS_FILE turns off a metrics file from the config file
	c.MetricsFile = util.GetEnvDefault("MIRROR_METRICS_FILE", c.MetricsFile)

	if v := os.Getenv("MIRROR_BATCH_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: MIRROR_BATCH_SIZE: %v", ErrInvalidConfig, err)
		}
		c.BatchSize = n
	}
	if err := setDuration(&c.DownloadTimeout, os.Getenv("MIRROR_DOWNLOAD_TIMEOUT")); err != nil {
		return fmt.Errorf("%w: MIRROR_DOWNLOAD_TIMEOUT: %v", ErrInvalidConfig, err)
	}
	return nil
}

// Validate checks the configuration once, before any work is done
func (c *Config) Validate() error {
	if util.IsEmpty(c.SourceRepo) {
		return ErrMissingSourceRepo
	}
	if util.IsEmpty(c.TargetRepo) {
		return ErrMissingTargetRepo
	}
	if _, _, err := util.SplitRepo(c.SourceRepo); err != nil {
		return fmt.Errorf("%w: source: %v", ErrInvalidConfig, err)
	}
	if _, _, err := util.SplitRepo(c.TargetRepo); err != nil {
		return fmt.Errorf("%w: target: %v", ErrInvalidConfig, err)
	}
	if c.SourceRepo == c.TargetRepo {
		return fmt.Errorf("%w: source and target repository are both %s", ErrInvalidConfig, c.SourceRepo)
	}

	switch {
	case c.BatchSize < 1:
		return fmt.Errorf("%w: batch size must be at least 1, got %d", ErrInvalidConfig, c.BatchSize)
	case c.DownloadTimeout <= 0:
		return fmt.Errorf("%w: download timeout must be positive", ErrInvalidConfig)
	case c.TimeTolerance < 0:
		return fmt.Errorf("%w: time tolerance cannot be negative", ErrInvalidConfig)
	case c.RequestsPerSecond <= 0:
		return fmt.Errorf("%w: requests per second must be positive", ErrInvalidConfig)
	case util.IsEmpty(c.StateFile):
		return fmt.Errorf("%w: state file path is empty", ErrInvalidConfig)
	}
	return nil
}

func setString(dst *string, val string) {
	if val != "" {
		*dst = val
	}
}

func setDuration(dst *time.Duration, val string) error {
	if val == "" {
		return nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return err
	}
	*dst = d
	return nil
}
