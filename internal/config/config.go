package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// FeedConfig describes one ICS subscription source.
type FeedConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// Config is the daemon's file configuration.
type Config struct {
	// DBPath is the sqlite database location.
	DBPath string `yaml:"db_path"`

	// AccountID names the synced account; the settings row is keyed by it.
	AccountID string `yaml:"account_id"`

	// Timezone is the IANA zone used to define the local calendar day for
	// quota purposes (e.g. "Europe/Berlin"). Empty means the system zone.
	Timezone string `yaml:"timezone"`

	// SyncCron is the cron schedule for periodic reconciliation triggers.
	SyncCron string `yaml:"sync_cron"`

	SyncWindowDays     int  `yaml:"sync_window_days"`
	TriggerLeadMinutes int  `yaml:"trigger_lead_minutes"`
	DailyAlarmLimit    int  `yaml:"daily_alarm_limit"`
	Premium            bool `yaml:"premium"`

	FetchTimeout time.Duration `yaml:"fetch_timeout"`

	Feeds []FeedConfig `yaml:"feeds"`

	Debug bool `yaml:"debug"`
}

func DefaultConfig() *Config {
	return &Config{
		DBPath:             defaultDBPath(),
		AccountID:          "default",
		SyncCron:           "*/15 * * * *",
		SyncWindowDays:     7,
		TriggerLeadMinutes: 10,
		DailyAlarmLimit:    3,
		FetchTimeout:       15 * time.Second,
		Feeds:              []FeedConfig{},
	}
}

// Normalize fills zero values so partially-filled configs from older
// versions still behave.
func (c *Config) Normalize() {
	if c.DBPath == "" {
		c.DBPath = defaultDBPath()
	}
	if c.AccountID == "" {
		c.AccountID = "default"
	}
	if c.SyncCron == "" {
		c.SyncCron = "*/15 * * * *"
	}
	if c.SyncWindowDays <= 0 {
		c.SyncWindowDays = 7
	}
	if c.TriggerLeadMinutes <= 0 {
		c.TriggerLeadMinutes = 10
	}
	if c.DailyAlarmLimit <= 0 {
		c.DailyAlarmLimit = 3
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 15 * time.Second
	}
	if c.Feeds == nil {
		c.Feeds = []FeedConfig{}
	}
}

// Location resolves the configured timezone, defaulting to the system zone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

// Load reads the YAML config at path. A missing file is a first run: the
// default config is written there with 0600 perms and returned.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()
	return &cfg, nil
}

// Save writes cfg to path atomically (temp file + rename) with 0600 perms.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}
	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".calarmd-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "calarmd.db"
	}
	return filepath.Join(home, ".local", "state", "calarmd", "calarmd.db")
}
