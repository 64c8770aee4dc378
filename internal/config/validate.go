package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateRetention(); err != nil {
		return err
	}
	if err := c.validateTools(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		return errors.New("paths.data_dir must be set")
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		return errors.New("paths.log_dir must be set")
	}
	if strings.TrimSpace(c.Paths.MonitorBind) == "" {
		return errors.New("paths.monitor_bind must be set")
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if c.Workflow.QueuePollInterval <= 0 {
		return errors.New("workflow.queue_poll_interval must be positive")
	}
	if c.Workflow.ErrorRetryInterval <= 0 {
		return errors.New("workflow.error_retry_interval must be positive")
	}
	if c.Workflow.LeaseTTL <= 0 {
		return errors.New("workflow.lease_ttl must be positive")
	}
	if c.Workflow.HeartbeatInterval <= 0 {
		return errors.New("workflow.heartbeat_interval must be positive")
	}
	if c.Workflow.HeartbeatInterval*2 > c.Workflow.LeaseTTL {
		return fmt.Errorf("workflow.heartbeat_interval (%d) must be at most half of workflow.lease_ttl (%d)",
			c.Workflow.HeartbeatInterval, c.Workflow.LeaseTTL)
	}
	if len(c.Workflow.Workers) == 0 {
		return errors.New("workflow.workers must define at least one resource class")
	}
	for class, count := range c.Workflow.Workers {
		if strings.TrimSpace(class) == "" {
			return errors.New("workflow.workers class names must not be empty")
		}
		if count <= 0 {
			return fmt.Errorf("workflow.workers[%s] must be positive", class)
		}
	}
	return nil
}

func (c *Config) validateRetention() error {
	if c.Retention.SweepInterval <= 0 {
		return errors.New("retention.sweep_interval must be positive")
	}
	if c.Retention.TerminalAgeHours < 0 {
		return errors.New("retention.terminal_age_hours must not be negative")
	}
	if c.Retention.SubmitRatePerSec <= 0 {
		return errors.New("retention.submit_rate_per_sec must be positive")
	}
	if c.Retention.SubmitBurst < c.Retention.SubmitRatePerSec {
		return errors.New("retention.submit_burst must be at least submit_rate_per_sec")
	}
	return nil
}

func (c *Config) validateTools() error {
	if strings.TrimSpace(c.Tools.FFmpegBin) == "" {
		return errors.New("tools.ffmpeg_bin must be set")
	}
	if strings.TrimSpace(c.Tools.FFprobeBin) == "" {
		return errors.New("tools.ffprobe_bin must be set")
	}
	if c.Tools.ThumbnailCount <= 0 {
		return errors.New("tools.thumbnail_count must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(strings.TrimSpace(c.Logging.Format)) {
	case "", "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	return nil
}
