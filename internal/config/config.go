package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// EnvConfigPath overrides the default configuration file location when set.
const EnvConfigPath = "VIDMILL_CONFIG"

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir     string `toml:"data_dir"`
	LogDir      string `toml:"log_dir"`
	APIBind     string `toml:"api_bind"`
	MonitorBind string `toml:"monitor_bind"`
}

// Workflow contains dispatcher timing and concurrency configuration.
type Workflow struct {
	QueuePollInterval  int            `toml:"queue_poll_interval"`
	ErrorRetryInterval int            `toml:"error_retry_interval"`
	LeaseTTL           int            `toml:"lease_ttl"`
	HeartbeatInterval  int            `toml:"heartbeat_interval"`
	LivenessWindow     int            `toml:"liveness_window"`
	Workers            map[string]int `toml:"workers"`
}

// Retention contains artifact and job record reclamation configuration.
type Retention struct {
	SweepInterval    int `toml:"sweep_interval"`
	TerminalAgeHours int `toml:"terminal_age_hours"`
	IncomingAgeHours int `toml:"incoming_age_hours"`
	PurgeRecordsDays int `toml:"purge_records_days"`
	MinFreeSpaceMB   int `toml:"min_free_space_mb"`
	SubmitRatePerSec int `toml:"submit_rate_per_sec"`
	SubmitBurst      int `toml:"submit_burst"`
}

// Tools contains external command configuration for built-in stage handlers.
type Tools struct {
	FFmpegBin        string   `toml:"ffmpeg_bin"`
	FFprobeBin       string   `toml:"ffprobe_bin"`
	TranscriberBin   string   `toml:"transcriber_bin"`
	TranscodePresets []string `toml:"transcode_presets"`
	ThumbnailCount   int      `toml:"thumbnail_count"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for vidmill.
//
// Configuration sections by subsystem:
//   - Paths: data root (artifact zones live beneath it), log dir, bind addresses
//   - Workflow: dispatcher intervals, lease TTL, per-resource-class worker counts
//   - Retention: reclamation sweep cadence and age cutoffs
//   - Tools: external commands invoked by built-in stage handlers
//   - Logging: log format and level
//   - PipelineFile: optional YAML stage registry definition
type Config struct {
	Paths        Paths     `toml:"paths"`
	Workflow     Workflow  `toml:"workflow"`
	Retention    Retention `toml:"retention"`
	Tools        Tools     `toml:"tools"`
	Logging      Logging   `toml:"logging"`
	PipelineFile string    `toml:"pipeline_file"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/vidmill/config.toml")
}

// Load locates, parses, and validates a configuration file. An empty path
// consults the VIDMILL_CONFIG environment variable and then the default
// location; a missing file yields defaults. The second return value reports
// the path actually used ("" when defaults were applied).
func Load(path string) (*Config, string, error) {
	resolved := strings.TrimSpace(path)
	if resolved == "" {
		resolved = strings.TrimSpace(os.Getenv(EnvConfigPath))
	}
	if resolved == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return nil, "", err
		}
		resolved = defaultPath
	}
	expanded, err := expandPath(resolved)
	if err != nil {
		return nil, "", err
	}

	cfg := Default()
	used := expanded
	data, err := os.ReadFile(expanded)
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, "", fmt.Errorf("parse config %s: %w", expanded, err)
		}
	case errors.Is(err, fs.ErrNotExist):
		used = ""
	default:
		return nil, "", fmt.Errorf("read config %s: %w", expanded, err)
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	return &cfg, used, nil
}

// WriteSample writes the embedded sample configuration to the given path.
func WriteSample(path string) error {
	expanded, err := expandPath(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return fmt.Errorf("ensure config directory: %w", err)
	}
	if _, err := os.Stat(expanded); err == nil {
		return fmt.Errorf("config file already exists: %s", expanded)
	}
	return os.WriteFile(expanded, []byte(sampleConfig), 0o644)
}

// ZoneDir returns the directory backing one artifact lifecycle zone.
func (c *Config) ZoneDir(zone string) string {
	return filepath.Join(c.Paths.DataDir, zone)
}

// QueueDBPath returns the SQLite database location for the job store.
func (c *Config) QueueDBPath() string {
	return filepath.Join(c.Paths.DataDir, "jobs.db")
}

// EnsureDirectories creates the data root, zone directories, and log dir.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.DataDir, c.Paths.LogDir}
	for _, zone := range []string{"incoming", "working", "processing", "completed"} {
		dirs = append(dirs, c.ZoneDir(zone))
	}
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

func (c *Config) normalize() error {
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return err
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return err
	}
	if c.PipelineFile != "" {
		if c.PipelineFile, err = expandPath(c.PipelineFile); err != nil {
			return err
		}
	}
	if c.Workflow.Workers == nil {
		c.Workflow.Workers = map[string]int{}
	}
	return nil
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", nil
	}
	if trimmed == "~" || strings.HasPrefix(trimmed, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		trimmed = filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
	}
	return filepath.Abs(trimmed)
}
