// Package config loads and validates the pipeline configuration: global
// settings plus the feed expectation table.
package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"

	"frontpipe/internal/collect"
	"frontpipe/internal/dates"
	"frontpipe/internal/models"
	"frontpipe/pkg/errors"
)

// CollectorConfig selects and configures the mail source shared by email
// feeds.
type CollectorConfig struct {
	// Kind is dir, mbox or imap.
	Kind string `mapstructure:"kind"`
	// Path is the .eml directory or mbox file, depending on Kind.
	Path string `mapstructure:"path"`

	IMAPHost     string `mapstructure:"imap_host"`
	IMAPPort     int    `mapstructure:"imap_port"`
	IMAPUsername string `mapstructure:"imap_username"`
	IMAPPassword string `mapstructure:"imap_password"`
	IMAPTLS      bool   `mapstructure:"imap_tls"`
	IMAPInsecure bool   `mapstructure:"imap_insecure_skip_verify"`
}

// Config is the full pipeline configuration.
type Config struct {
	// TargetDateRule decides which business date a run reconciles.
	TargetDateRule string `mapstructure:"target_date_rule"`
	// BusinessTimezone is the zone target dates are computed in.
	BusinessTimezone string `mapstructure:"business_timezone"`
	// BaseDir is the root under which dated drop directories are created.
	BaseDir string `mapstructure:"base_dir"`
	// StateDSN selects the state backend: a directory path, "memory", or
	// a postgres:// URL.
	StateDSN string `mapstructure:"state_dsn"`
	// EventsDir holds the per-date audit trail files.
	EventsDir string `mapstructure:"events_dir"`
	// ReportDir holds the generated status pages.
	ReportDir string `mapstructure:"report_dir"`
	// CacheDir is the scratch space attachments are written to before
	// relocation.
	CacheDir string `mapstructure:"cache_dir"`
	// ArrivalWindowHours is the candidate lookback window.
	ArrivalWindowHours int `mapstructure:"arrival_window_hours"`
	// PollIntervalMinutes is the watch-mode poll cadence.
	PollIntervalMinutes int `mapstructure:"poll_interval_minutes"`
	// ReportTimeLocal is the HH:MM wall time, in the business zone, at
	// which watch mode regenerates the end-of-day summary.
	ReportTimeLocal string `mapstructure:"report_time_local"`

	Collector CollectorConfig `mapstructure:"collector"`
	Feeds     []models.Feed   `mapstructure:"feeds"`
}

// DefaultConfig returns a configuration with working defaults for a local
// directory-collector setup. Feeds must still be supplied.
func DefaultConfig() *Config {
	return &Config{
		TargetDateRule:      dates.RulePrevBizday,
		BusinessTimezone:    dates.DefaultTimeZone,
		BaseDir:             ".",
		StateDSN:            "runtime/state",
		EventsDir:           "runtime/events",
		ReportDir:           "runtime/reports",
		CacheDir:            "runtime/inbox_email_cache",
		ArrivalWindowHours:  36,
		PollIntervalMinutes: 15,
		ReportTimeLocal:     "17:30",
		Collector:           CollectorConfig{Kind: collect.KindDir, Path: "runtime/inbox"},
	}
}

// Load reads the configuration file at path, applies FRONTPIPE_* overrides
// and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("FRONTPIPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := DefaultConfig()
	setDefaults(v, cfg)

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.ConfigError(errors.CodeMissingConfig, "config_file", path, err)
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.ConfigError(errors.CodeInvalidConfig, "config_file", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("target_date_rule", cfg.TargetDateRule)
	v.SetDefault("business_timezone", cfg.BusinessTimezone)
	v.SetDefault("base_dir", cfg.BaseDir)
	v.SetDefault("state_dsn", cfg.StateDSN)
	v.SetDefault("events_dir", cfg.EventsDir)
	v.SetDefault("report_dir", cfg.ReportDir)
	v.SetDefault("cache_dir", cfg.CacheDir)
	v.SetDefault("arrival_window_hours", cfg.ArrivalWindowHours)
	v.SetDefault("poll_interval_minutes", cfg.PollIntervalMinutes)
	v.SetDefault("report_time_local", cfg.ReportTimeLocal)
	v.SetDefault("collector.kind", cfg.Collector.Kind)
	v.SetDefault("collector.path", cfg.Collector.Path)
	v.SetDefault("collector.imap_port", 993)
	v.SetDefault("collector.imap_tls", true)
}

// Validate checks the configuration the way the run command needs it:
// every pattern must compile and every feed must be coherent, before any
// row is touched.
func (c *Config) Validate() error {
	if c.TargetDateRule != dates.RuleToday && c.TargetDateRule != dates.RulePrevBizday {
		return errors.ConfigError(errors.CodeUnsupportedDateRule, "target_date_rule", c.TargetDateRule, nil)
	}
	if c.BaseDir == "" {
		return errors.ConfigError(errors.CodeMissingConfig, "base_dir", "", nil)
	}
	if c.ArrivalWindowHours < 0 {
		return errors.ConfigError(errors.CodeInvalidConfig, "arrival_window_hours", c.ArrivalWindowHours, nil)
	}
	if c.PollIntervalMinutes <= 0 {
		return errors.ConfigError(errors.CodeInvalidConfig, "poll_interval_minutes", c.PollIntervalMinutes, nil)
	}
	if _, err := time.Parse("15:04", c.ReportTimeLocal); err != nil {
		return errors.ConfigError(errors.CodeInvalidConfig, "report_time_local", c.ReportTimeLocal, err)
	}

	switch c.Collector.Kind {
	case collect.KindDir, collect.KindMbox:
		if c.Collector.Path == "" {
			return errors.ConfigError(errors.CodeMissingConfig, "collector.path", "", nil)
		}
	case collect.KindIMAP:
		if c.Collector.IMAPHost == "" {
			return errors.ConfigError(errors.CodeMissingConfig, "collector.imap_host", "", nil)
		}
		if c.Collector.IMAPPort <= 0 {
			return errors.ConfigError(errors.CodeInvalidConfig, "collector.imap_port", c.Collector.IMAPPort, nil)
		}
	default:
		return errors.ConfigError(errors.CodeInvalidConfig, "collector.kind", c.Collector.Kind, nil)
	}

	if len(c.Feeds) == 0 {
		return errors.ConfigError(errors.CodeMissingConfig, "feeds", "", nil)
	}
	seen := make(map[string]bool)
	for i := range c.Feeds {
		feed := &c.Feeds[i]
		if err := feed.Validate(); err != nil {
			return errors.ConfigError(errors.CodeInvalidConfig, "feeds", feed.Key(), err)
		}
		if seen[feed.Key()] {
			return errors.ConfigError(errors.CodeInvalidConfig, "feeds", feed.Key(),
				fmt.Errorf("duplicate feed %s", feed.Key()))
		}
		seen[feed.Key()] = true
		if err := validatePatterns(feed); err != nil {
			return err
		}
	}
	return nil
}

// validatePatterns compiles every regex a feed declares so malformed
// patterns fail the whole run up front.
func validatePatterns(feed *models.Feed) error {
	patterns := map[string]string{
		"subject_regex":    feed.Patterns.SubjectRegex,
		"attachment_regex": feed.Patterns.AttachmentRegex,
		"filename_regex":   feed.Patterns.FilenameRegex,
		"content_regex":    feed.Patterns.ContentRegex,
		"extract_only":     feed.Patterns.ExtractOnly,
	}
	for setting, pattern := range patterns {
		if pattern == "" {
			continue
		}
		if _, err := regexp.Compile(pattern); err != nil {
			return errors.ConfigError(errors.CodeInvalidPattern, feed.Key()+"."+setting, pattern, err)
		}
	}
	for _, pattern := range feed.Patterns.RequiredAttachments {
		if _, err := regexp.Compile(pattern); err != nil {
			return errors.ConfigError(errors.CodeInvalidPattern, feed.Key()+".required_attachments", pattern, err)
		}
	}
	return nil
}

// ProviderOptions converts the collector section into collect options.
func (c *Config) ProviderOptions() collect.ProviderOptions {
	return collect.ProviderOptions{
		Kind: c.Collector.Kind,
		Path: c.Collector.Path,
		IMAP: collect.IMAPOptions{
			Host:               c.Collector.IMAPHost,
			Port:               c.Collector.IMAPPort,
			Username:           c.Collector.IMAPUsername,
			Password:           c.Collector.IMAPPassword,
			UseTLS:             c.Collector.IMAPTLS,
			InsecureSkipVerify: c.Collector.IMAPInsecure,
		},
	}
}
