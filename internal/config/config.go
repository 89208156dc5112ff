// Package config loads the YAML configuration shared by every view.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"daso/internal/models"
)

// DefaultPath is used when neither a flag nor DASO_CONFIG_PATH names a file.
const DefaultPath = "configs/config.yaml"

type Config struct {
	API struct {
		BaseURL           string  `yaml:"base_url"`
		APIKey            string  `yaml:"api_key"`
		TimeoutSeconds    int     `yaml:"timeout_seconds"`
		RequestsPerSecond float64 `yaml:"requests_per_second"`
		Burst             int     `yaml:"burst"`
		CacheTTLSeconds   int     `yaml:"cache_ttl_seconds"`
	} `yaml:"api"`

	Redis struct {
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	Polling struct {
		QueueSeconds        int  `yaml:"queue_seconds"`
		AppointmentsSeconds int  `yaml:"appointments_seconds"`
		AnalyticsSeconds    int  `yaml:"analytics_seconds"`
		StaffSeconds        int  `yaml:"staff_seconds"`
		DropStale           bool `yaml:"drop_stale"`
	} `yaml:"polling"`

	Counter struct {
		Number  int `yaml:"number"`
		StaffID int `yaml:"staff_id"`
	} `yaml:"counter"`

	Kiosk struct {
		ScanSeconds           int                `yaml:"scan_seconds"`
		SuccessDisplaySeconds int                `yaml:"success_display_seconds"`
		ResetSeconds          int                `yaml:"reset_seconds"`
		VoiceTimeoutSeconds   int                `yaml:"voice_timeout_seconds"`
		DefaultMode           models.BookingMode `yaml:"default_mode"`
		DaysAhead             int                `yaml:"days_ahead"`
	} `yaml:"kiosk"`

	Slots struct {
		Open        string `yaml:"open"`
		Close       string `yaml:"close"`
		LunchStart  string `yaml:"lunch_start"`
		LunchEnd    string `yaml:"lunch_end"`
		SlotMinutes int    `yaml:"slot_minutes"`
		Capacity    int    `yaml:"capacity"`
	} `yaml:"slots"`

	Monitoring struct {
		HealthCheckPort   int  `yaml:"health_check_port"`
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`

	Report struct {
		Dir     string `yaml:"dir"`
		DailyAt string `yaml:"daily_at"`
	} `yaml:"report"`
}

// Load reads path, expanding ${ENV_VAR} placeholders, and fills defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Support ${ENV_VAR} placeholders in YAML config.
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err = cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.API.BaseURL == "" {
		c.API.BaseURL = "http://localhost:8000"
	}
	if c.Counter.Number <= 0 {
		c.Counter.Number = 1
	}
	if c.Counter.StaffID <= 0 {
		c.Counter.StaffID = c.Counter.Number
	}
	if c.Kiosk.DefaultMode == "" {
		c.Kiosk.DefaultMode = models.ModeWalkIn
	}
	if c.Slots.Open == "" {
		c.Slots.Open = "09:00"
	}
	if c.Slots.Close == "" {
		c.Slots.Close = "17:00"
	}
	if c.Slots.SlotMinutes <= 0 {
		c.Slots.SlotMinutes = 30
	}
	if c.Slots.Capacity <= 0 {
		c.Slots.Capacity = 3
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Report.Dir == "" {
		c.Report.Dir = "reports"
	}
}

// Validate rejects settings no view can run with.
func (c *Config) Validate() error {
	if !c.Kiosk.DefaultMode.Valid() {
		return fmt.Errorf("kiosk.default_mode: unknown mode %q", c.Kiosk.DefaultMode)
	}
	open, err := time.Parse("15:04", c.Slots.Open)
	if err != nil {
		return fmt.Errorf("slots.open: %w", err)
	}
	closing, err := time.Parse("15:04", c.Slots.Close)
	if err != nil {
		return fmt.Errorf("slots.close: %w", err)
	}
	if !closing.After(open) {
		return fmt.Errorf("slots: close %s is not after open %s", c.Slots.Close, c.Slots.Open)
	}
	if c.Report.DailyAt != "" {
		if _, err := time.Parse("15:04", c.Report.DailyAt); err != nil {
			return fmt.Errorf("report.daily_at: %w", err)
		}
	}
	return nil
}

func seconds(n, def int) time.Duration {
	if n <= 0 {
		return time.Duration(def) * time.Second
	}
	return time.Duration(n) * time.Second
}

func (c *Config) APITimeout() time.Duration { return seconds(c.API.TimeoutSeconds, 10) }

func (c *Config) CacheTTL() time.Duration { return seconds(c.API.CacheTTLSeconds, 300) }

func (c *Config) PollQueueInterval() time.Duration { return seconds(c.Polling.QueueSeconds, 5) }

func (c *Config) PollAppointmentsInterval() time.Duration {
	return seconds(c.Polling.AppointmentsSeconds, 5)
}

func (c *Config) PollAnalyticsInterval() time.Duration { return seconds(c.Polling.AnalyticsSeconds, 10) }

func (c *Config) PollStaffInterval() time.Duration { return seconds(c.Polling.StaffSeconds, 10) }

func (c *Config) ScanDuration() time.Duration { return seconds(c.Kiosk.ScanSeconds, 3) }

func (c *Config) SuccessDisplay() time.Duration { return seconds(c.Kiosk.SuccessDisplaySeconds, 3) }

func (c *Config) KioskReset() time.Duration { return seconds(c.Kiosk.ResetSeconds, 15) }

func (c *Config) VoiceTimeout() time.Duration { return seconds(c.Kiosk.VoiceTimeoutSeconds, 10) }
