package config

import (
	"fmt"
	"log"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"str-manager/internal/parse"
)

// Config represents the overall application configuration.
type Config struct {
	HomeAssistant HomeAssistantConfig `yaml:"home_assistant"`
	Timezone      string              `yaml:"timezone"`
	Location      *time.Location      `yaml:"-"`
	Scheduler     SchedulerConfig     `yaml:"scheduler"`
	Thresholds    ThresholdsConfig    `yaml:"thresholds"`
	HVAC          HVACConfig          `yaml:"hvac"`
	CleanerCheck  CleanerCheckConfig  `yaml:"cleaner_check"`
	Alerts        AlertsConfig        `yaml:"alerts"`
	Database      DatabaseConfig      `yaml:"database"`
	Server        ServerConfig        `yaml:"server"`
	Push          PushConfig          `yaml:"push"`
	Units         []UnitConfig        `yaml:"units"`
}

// HomeAssistantConfig holds the connection settings for the Home Assistant REST API.
type HomeAssistantConfig struct {
	URL            string        `yaml:"url"`
	Token          string        `yaml:"token"`
	HTTPProxy      string        `yaml:"http_proxy"`
	TimeoutSeconds int           `yaml:"timeout_seconds"`
	Timeout        time.Duration `yaml:"-"`
}

// SchedulerConfig controls how often units are polled.
type SchedulerConfig struct {
	IntervalMinutes     int           `yaml:"interval_minutes"`
	Interval            time.Duration `yaml:"-"`
	Cron                string        `yaml:"cron"`
	StartupDelaySeconds int           `yaml:"startup_delay_seconds"`
	StartupDelay        time.Duration `yaml:"-"`
	Workers             int           `yaml:"workers"`
}

// ThresholdsConfig holds the times of day that gate the daily actions.
type ThresholdsConfig struct {
	DefaultCheckinTime string `yaml:"default_checkin_time"`
	CheckoutTime       string `yaml:"checkout_time"`
	CleanerCheckTime   string `yaml:"cleaner_check_time"`

	DefaultCheckin parse.TimeOfDay `yaml:"-"`
	Checkout       parse.TimeOfDay `yaml:"-"`
	CleanerCheck   parse.TimeOfDay `yaml:"-"`
}

// HVACConfig holds the pre-cool settings applied before check-in.
type HVACConfig struct {
	Mode              string  `yaml:"mode"`
	TargetTemperature float64 `yaml:"target_temperature"`
	PrecoolMinutes    int     `yaml:"precool_minutes"`
}

// CleanerCheckConfig controls how door unlock history is interpreted.
type CleanerCheckConfig struct {
	LookbackHours  int            `yaml:"lookback_hours"`
	Lookback       time.Duration  `yaml:"-"`
	GuestPattern   string         `yaml:"guest_pattern"`
	CleanerPattern string         `yaml:"cleaner_pattern"`
	Guest          *regexp.Regexp `yaml:"-"`
	Cleaner        *regexp.Regexp `yaml:"-"`
}

// AlertsConfig lists who is told when a cleaner has not serviced a unit.
type AlertsConfig struct {
	NotifyService string            `yaml:"notify_service"`
	Title         string            `yaml:"title"`
	Recipients    []RecipientConfig `yaml:"recipients"`
}

// RecipientConfig is one alert destination.
type RecipientConfig struct {
	Name    string `yaml:"name"`
	Channel string `yaml:"channel"` // "hass" or "webpush"
	Target  string `yaml:"target"`
}

// DatabaseConfig holds the guard store connection configuration.
type DatabaseConfig struct {
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// ServerConfig holds the status API configuration.
type ServerConfig struct {
	Enabled         bool    `yaml:"enabled"`
	Port            int     `yaml:"port"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int     `yaml:"rate_limit_burst"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
}

// PushConfig holds the VAPID keys for operator web push notifications.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// UnitConfig describes one rental unit as configured in Home Assistant.
type UnitConfig struct {
	Name         string `yaml:"name"`
	Code         string `yaml:"code"`
	CalendarCode string `yaml:"calendar_code"`
	ActuatorKey  string `yaml:"actuator_key"`
	DoorSensor   string `yaml:"door_sensor"`
}

// Load reads the configuration from the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize fills in missing values with defaults, validates units and
// derives the parsed fields (location, durations, thresholds, patterns).
func (cfg *Config) Normalize() error {
	if cfg.HomeAssistant.TimeoutSeconds <= 0 {
		cfg.HomeAssistant.TimeoutSeconds = 30
	}
	cfg.HomeAssistant.Timeout = time.Duration(cfg.HomeAssistant.TimeoutSeconds) * time.Second

	if cfg.Timezone == "" {
		cfg.Timezone = "Local"
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return fmt.Errorf("failed to load timezone %q: %w", cfg.Timezone, err)
	}
	cfg.Location = loc

	if cfg.Scheduler.IntervalMinutes <= 0 {
		cfg.Scheduler.IntervalMinutes = 15
	}
	cfg.Scheduler.Interval = time.Duration(cfg.Scheduler.IntervalMinutes) * time.Minute
	if cfg.Scheduler.StartupDelaySeconds <= 0 {
		cfg.Scheduler.StartupDelaySeconds = 2
	}
	cfg.Scheduler.StartupDelay = time.Duration(cfg.Scheduler.StartupDelaySeconds) * time.Second
	if cfg.Scheduler.Workers <= 0 {
		log.Printf("scheduler.workers is not set or invalid; defaulting to 1")
		cfg.Scheduler.Workers = 1
	}

	if err := cfg.Thresholds.parse(); err != nil {
		return err
	}

	if cfg.HVAC.Mode == "" {
		cfg.HVAC.Mode = "cool"
	}
	if cfg.HVAC.TargetTemperature == 0 {
		cfg.HVAC.TargetTemperature = 23
	}
	if cfg.HVAC.PrecoolMinutes <= 0 {
		cfg.HVAC.PrecoolMinutes = 30
	}

	if cfg.CleanerCheck.LookbackHours <= 0 {
		cfg.CleanerCheck.LookbackHours = 15 * 24
	}
	cfg.CleanerCheck.Lookback = time.Duration(cfg.CleanerCheck.LookbackHours) * time.Hour
	if cfg.CleanerCheck.GuestPattern == "" {
		// Guest codes are named after the stay's dates, e.g. "09/14 Smith".
		cfg.CleanerCheck.GuestPattern = `(?i)^\d{2}/\d{2}`
	}
	if cfg.CleanerCheck.CleanerPattern == "" {
		cfg.CleanerCheck.CleanerPattern = `(?i)^Maria\s+Reno\s+cleaning\s+fairies`
	}
	if cfg.CleanerCheck.Guest, err = regexp.Compile(cfg.CleanerCheck.GuestPattern); err != nil {
		return fmt.Errorf("invalid cleaner_check.guest_pattern: %w", err)
	}
	if cfg.CleanerCheck.Cleaner, err = regexp.Compile(cfg.CleanerCheck.CleanerPattern); err != nil {
		return fmt.Errorf("invalid cleaner_check.cleaner_pattern: %w", err)
	}

	if cfg.Alerts.Title == "" {
		cfg.Alerts.Title = "Check Cleaners"
	}
	if cfg.Alerts.NotifyService == "" {
		cfg.Alerts.NotifyService = "notify"
	}
	if len(cfg.Alerts.Recipients) == 0 {
		log.Printf("alerts.recipients is empty; cleaner alerts will only be logged")
	}
	for i := range cfg.Alerts.Recipients {
		r := &cfg.Alerts.Recipients[i]
		if r.Channel == "" {
			r.Channel = "hass"
		}
		if r.Target == "" {
			return fmt.Errorf("alerts.recipients[%d]: target is required", i)
		}
	}

	if cfg.Database.DSN == "" {
		cfg.Database.DSN = "file:state.db"
	}

	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 5
	}
	if cfg.Server.CacheTTLSeconds <= 0 {
		cfg.Server.CacheTTLSeconds = 30
	}

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}

	seen := make(map[string]bool, len(cfg.Units))
	for i := range cfg.Units {
		u := &cfg.Units[i]
		if u.Code == "" || u.CalendarCode == "" || u.ActuatorKey == "" {
			return fmt.Errorf("units[%d]: code, calendar_code and actuator_key are required", i)
		}
		if seen[u.Code] {
			return fmt.Errorf("units[%d]: duplicate unit code %q", i, u.Code)
		}
		seen[u.Code] = true
		if u.Name == "" {
			u.Name = u.Code
		}
		if u.DoorSensor == "" {
			u.DoorSensor = fmt.Sprintf("sensor.%s_front_door_operator", u.Code)
		}
	}

	return nil
}

func (t *ThresholdsConfig) parse() error {
	if t.DefaultCheckinTime == "" {
		t.DefaultCheckinTime = "16:00:00"
	}
	if t.CheckoutTime == "" {
		t.CheckoutTime = "11:00:00"
	}
	if t.CleanerCheckTime == "" {
		t.CleanerCheckTime = "14:00:00"
	}

	var err error
	if t.DefaultCheckin, err = parse.ParseTimeOfDay(t.DefaultCheckinTime); err != nil {
		return fmt.Errorf("thresholds.default_checkin_time: %w", err)
	}
	if t.Checkout, err = parse.ParseTimeOfDay(t.CheckoutTime); err != nil {
		return fmt.Errorf("thresholds.checkout_time: %w", err)
	}
	if t.CleanerCheck, err = parse.ParseTimeOfDay(t.CleanerCheckTime); err != nil {
		return fmt.Errorf("thresholds.cleaner_check_time: %w", err)
	}
	return nil
}
