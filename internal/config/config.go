package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ICSConfig describes an external iCalendar feed whose events are merged
// into the listing.
type ICSConfig struct {
	// URL is the ICS subscription endpoint.
	URL string `yaml:"url" json:"url"`
	// ID is an internal identifier used for item ids and logging.
	ID string `yaml:"id" json:"id"`
	// Category is applied to every item imported from this feed.
	Category string `yaml:"category" json:"category"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the site and API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA timezone used for parsing and display
	// (e.g. "Asia/Kathmandu").
	Timezone string `yaml:"timezone" json:"timezone"`

	// WeekStart controls the first column of the month grid:
	//   - "sunday" (default)
	//   - "monday"
	WeekStart string `yaml:"week_start" json:"week_start"`

	// RefreshCron is a standard 5-field cron schedule for reloading the
	// events file and ICS feeds.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// HorizonDays bounds recurring ICS expansion into the future.
	HorizonDays int `yaml:"horizon_days" json:"horizon_days"`

	EventsFile   string `yaml:"events_file" json:"events_file"`
	ListingsFile string `yaml:"listings_file" json:"listings_file"`

	// StaticDir serves the site from disk when set; otherwise the embedded
	// bundle is used.
	StaticDir string `yaml:"static_dir" json:"static_dir"`

	// CacheDir holds ICS ETag caches.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	// EstimatedDuration is how long an event without an explicit end is
	// considered to be happening.
	EstimatedDuration time.Duration `yaml:"estimated_duration" json:"estimated_duration"`

	// ExpiringSoonDays marks deals expiring within this many days.
	ExpiringSoonDays int `yaml:"expiring_soon_days" json:"expiring_soon_days"`

	// MaxCalendarDots caps category dots per calendar day cell.
	MaxCalendarDots int `yaml:"max_calendar_dots" json:"max_calendar_dots"`

	CORSOrigins []string `yaml:"cors_origins" json:"cors_origins"`

	// SubmitRatePerSec and SubmitBurst bound POST /api/quick-submit.
	SubmitRatePerSec float64 `yaml:"submit_rate_per_sec" json:"submit_rate_per_sec"`
	SubmitBurst      int     `yaml:"submit_burst" json:"submit_burst"`

	LogLevel string `yaml:"log_level" json:"log_level"`
	// LogFile, if set, receives a rotated copy of the log.
	LogFile string `yaml:"log_file" json:"log_file"`

	// PrefsPath stores the terminal client's filter and sort preferences.
	PrefsPath string `yaml:"prefs_path" json:"prefs_path"`

	// ICS is the list of external feeds.
	ICS []ICSConfig `yaml:"ics" json:"ics"`
}

const (
	defaultListen            = "127.0.0.1:3000"
	defaultTimezone          = "Asia/Kathmandu"
	defaultRefreshCron       = "*/15 * * * *"
	defaultHorizonDays       = 60
	defaultEventsFile        = "data/events.json"
	defaultListingsFile      = "data/listings.json"
	defaultCacheDir          = "cache/ics"
	defaultEstimatedDuration = 3 * time.Hour
	defaultExpiringSoonDays  = 3
	defaultMaxCalendarDots   = 3
	defaultPrefsPath         = "prefs.yaml"
)

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	c := &Config{}
	c.Normalize()
	return c
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	switch c.WeekStart {
	case "monday", "sunday":
	default:
		c.WeekStart = "sunday"
	}
	if c.RefreshCron == "" {
		c.RefreshCron = defaultRefreshCron
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = defaultHorizonDays
	}
	if c.EventsFile == "" {
		c.EventsFile = defaultEventsFile
	}
	if c.ListingsFile == "" {
		c.ListingsFile = defaultListingsFile
	}
	if c.CacheDir == "" {
		c.CacheDir = defaultCacheDir
	}
	if c.EstimatedDuration <= 0 {
		c.EstimatedDuration = defaultEstimatedDuration
	}
	if c.ExpiringSoonDays <= 0 {
		c.ExpiringSoonDays = defaultExpiringSoonDays
	}
	if c.MaxCalendarDots <= 0 {
		c.MaxCalendarDots = defaultMaxCalendarDots
	}
	if c.CORSOrigins == nil {
		c.CORSOrigins = []string{"*"}
	}
	if c.SubmitRatePerSec <= 0 {
		c.SubmitRatePerSec = 1
	}
	if c.SubmitBurst <= 0 {
		c.SubmitBurst = 3
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.PrefsPath == "" {
		c.PrefsPath = defaultPrefsPath
	}
	if c.ICS == nil {
		c.ICS = []ICSConfig{}
	}
}

// Location resolves Timezone, falling back to time.Local when it is not a
// known zone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local, err
	}
	return loc, nil
}

// FirstWeekday maps WeekStart to a time.Weekday.
func (c *Config) FirstWeekday() time.Weekday {
	if c.WeekStart == "monday" {
		return time.Monday
	}
	return time.Sunday
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms and returned.
//   - Otherwise the YAML is unmarshalled and normalized.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Caller decides whether an unsaved default is fatal.
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

// Save writes the configuration atomically (temp file + rename) with 0600
// permissions, creating the parent directory if needed.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return WriteFileAtomic(path, data, 0o600)
}

// WriteFileAtomic writes data to a temp file in the target directory and
// renames it over path, so readers never observe a partial file.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

func (c *Config) Save(path string) error {
	return Save(path, c)
}
