// Package config provides the configuration for the edgeship agent.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	shiperrors "github.com/airfi/edgeship/internal/errors"
)

// Config holds the agent configuration.
type Config struct {
	// DataDir is the base directory for the outbox databases
	DataDir string `json:"data_dir" yaml:"data_dir"`

	Device       DeviceConfig       `json:"device" yaml:"device"`
	API          APIConfig          `json:"api" yaml:"api"`
	Connectivity ConnectivityConfig `json:"connectivity" yaml:"connectivity"`
	Sync         SyncConfig         `json:"sync" yaml:"sync"`
	Passenger    PassengerConfig    `json:"passenger" yaml:"passenger"`
	Health       HealthConfig       `json:"health" yaml:"health"`
	GPS          GPSConfig          `json:"gps" yaml:"gps"`
	Attachments  AttachmentsConfig  `json:"attachments" yaml:"attachments"`
	HTTP         HTTPConfig         `json:"http" yaml:"http"`
	Metrics      MetricsConfig      `json:"metrics" yaml:"metrics"`
	Log          LogConfig          `json:"log" yaml:"log"`
}

// DeviceConfig controls how the device identity is resolved.
type DeviceConfig struct {
	// Interface is the network interface whose MAC address identifies the device
	Interface string `json:"interface" yaml:"interface"`

	// ID is used when the interface cannot be read
	ID string `json:"id" yaml:"id"`
}

// APIConfig holds ingestion API credentials.
type APIConfig struct {
	Key     string        `json:"key" yaml:"key"`
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

// ConnectivityConfig holds the reachability probe settings.
type ConnectivityConfig struct {
	Address string        `json:"address" yaml:"address"`
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

// SyncConfig holds sync worker settings shared by all streams.
type SyncConfig struct {
	Interval time.Duration `json:"interval" yaml:"interval"`

	// Concurrency is the number of in-flight submissions per stream
	Concurrency int `json:"concurrency" yaml:"concurrency"`
}

// PassengerConfig holds passenger-event stream configuration.
type PassengerConfig struct {
	Enabled     bool     `json:"enabled" yaml:"enabled"`
	URL         string   `json:"url" yaml:"url"`
	DBPath      string   `json:"db_path" yaml:"db_path"`
	SkipClasses []string `json:"skip_classes" yaml:"skip_classes"`
	RouteID     int      `json:"route_id" yaml:"route_id"`
}

// HealthConfig holds device-health stream configuration.
type HealthConfig struct {
	Enabled     bool   `json:"enabled" yaml:"enabled"`
	URL         string `json:"url" yaml:"url"`
	DBPath      string `json:"db_path" yaml:"db_path"`
	CounterFile string `json:"counter_file" yaml:"counter_file"`
	ThermalFile string `json:"thermal_file" yaml:"thermal_file"`
	UptimeFile  string `json:"uptime_file" yaml:"uptime_file"`
}

// GPSConfig holds the gpsd reader settings. An empty Command disables it.
type GPSConfig struct {
	Command  string        `json:"command" yaml:"command"`
	Interval time.Duration `json:"interval" yaml:"interval"`
}

// AttachmentsConfig selects where captured frames are read from.
type AttachmentsConfig struct {
	// Type is the storage type: local, s3
	Type string `json:"type" yaml:"type"`

	// Path is the base directory for relative attachment paths (local type)
	Path string `json:"path" yaml:"path"`

	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3 attachment storage configuration.
type S3Config struct {
	// Bucket is the S3 bucket name
	Bucket string `json:"bucket" yaml:"bucket"`

	// Region is the AWS region
	Region string `json:"region" yaml:"region"`

	// Endpoint is the S3 endpoint (for S3-compatible storage)
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// PathStyle forces path-style addressing, required by MinIO
	PathStyle bool `json:"path_style" yaml:"path_style"`

	// Prefix is prepended to every object key
	Prefix string `json:"prefix" yaml:"prefix"`
}

// HTTPConfig holds the local HTTP server configuration. An empty Addr disables it.
type HTTPConfig struct {
	Addr         string        `json:"addr" yaml:"addr"`
	ReadTimeout  time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`
}

// MetricsConfig holds the OTLP exporter settings. An empty endpoint disables export.
type MetricsConfig struct {
	OTLPEndpoint string        `json:"otlp_endpoint" yaml:"otlp_endpoint"`
	Interval     time.Duration `json:"interval" yaml:"interval"`
}

// LogConfig holds the logger settings.
type LogConfig struct {
	Level string `json:"level" yaml:"level"`
}

// DefaultConfig returns the configuration of the reference device.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "./data/edgeship",
		Device: DeviceConfig{
			Interface: "enP2p33s0",
		},
		API: APIConfig{
			Timeout: 30 * time.Second,
		},
		Connectivity: ConnectivityConfig{
			Address: "google.com:443",
			Timeout: 3 * time.Second,
		},
		Sync: SyncConfig{
			Interval:    10 * time.Second,
			Concurrency: 1,
		},
		Passenger: PassengerConfig{
			Enabled:     true,
			URL:         "https://apcsapi.airfi.in/upload",
			SkipClasses: []string{"kid"},
		},
		Health: HealthConfig{
			Enabled:     true,
			URL:         "https://apcsapi.airfi.in/device-data",
			ThermalFile: "/sys/class/thermal/thermal_zone0/temp",
			UptimeFile:  "/proc/uptime",
		},
		GPS: GPSConfig{
			Command:  "gpspipe -w -n 10",
			Interval: 10 * time.Second,
		},
		Attachments: AttachmentsConfig{
			Type: "local",
		},
		HTTP: HTTPConfig{
			Addr:         "127.0.0.1:8090",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Metrics: MetricsConfig{
			Interval: 30 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Resolve fills paths left empty from DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/edgeship"
	}
	if c.Passenger.DBPath == "" {
		c.Passenger.DBPath = filepath.Join(c.DataDir, "passengers_data.db")
	}
	if c.Health.DBPath == "" {
		c.Health.DBPath = filepath.Join(c.DataDir, "device_data.db")
	}
	if c.Health.CounterFile == "" {
		c.Health.CounterFile = filepath.Join(c.DataDir, "airfi_data")
	}
	if c.Attachments.Type == "local" && c.Attachments.Path == "" {
		c.Attachments.Path = filepath.Join(c.DataDir, "frames")
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return configError("data_dir is required")
	}
	if !c.Passenger.Enabled && !c.Health.Enabled {
		return configError("at least one of passenger.enabled or health.enabled must be set")
	}
	if c.Passenger.Enabled && c.Passenger.URL == "" {
		return configError("passenger.url is required when the passenger stream is enabled")
	}
	if c.Health.Enabled && c.Health.URL == "" {
		return configError("health.url is required when the health stream is enabled")
	}
	if c.Sync.Interval <= 0 {
		return configError("sync.interval must be positive, got %s", c.Sync.Interval)
	}
	if c.Sync.Concurrency < 1 {
		return configError("sync.concurrency must be at least 1, got %d", c.Sync.Concurrency)
	}
	if c.GPS.Command != "" && c.GPS.Interval <= 0 {
		return configError("gps.interval must be positive when gps.command is set")
	}
	if c.Attachments.Type != "local" && c.Attachments.Type != "s3" {
		return configError("invalid attachments type: %s (must be local or s3)", c.Attachments.Type)
	}
	if c.Attachments.Type == "s3" && c.Attachments.S3.Bucket == "" {
		return configError("attachments.s3.bucket is required when attachments type is s3")
	}
	if c.Passenger.RouteID < 0 {
		return configError("passenger.route_id must not be negative")
	}
	return nil
}

func configError(format string, args ...any) error {
	return shiperrors.NewConfigError(fmt.Sprintf(format, args...))
}

// LoadFromFile loads configuration from a YAML or JSON file on top of the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadDotEnv loads variables from the given .env files into the process environment.
// Variables already set are kept. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// LoadFromEnv overrides cfg from environment variables with the EDGESHIP_ prefix.
// Values that fail to parse are returned as an error.
func LoadFromEnv(cfg *Config) error {
	var errs []error
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	num := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	flag := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	str("EDGESHIP_DATA_DIR", &cfg.DataDir)

	str("EDGESHIP_DEVICE_INTERFACE", &cfg.Device.Interface)
	str("EDGESHIP_DEVICE_ID", &cfg.Device.ID)

	str("EDGESHIP_API_KEY", &cfg.API.Key)
	dur("EDGESHIP_API_TIMEOUT", &cfg.API.Timeout)

	str("EDGESHIP_CONNECTIVITY_ADDRESS", &cfg.Connectivity.Address)
	dur("EDGESHIP_CONNECTIVITY_TIMEOUT", &cfg.Connectivity.Timeout)

	dur("EDGESHIP_SYNC_INTERVAL", &cfg.Sync.Interval)
	num("EDGESHIP_SYNC_CONCURRENCY", &cfg.Sync.Concurrency)

	flag("EDGESHIP_PASSENGER_ENABLED", &cfg.Passenger.Enabled)
	str("EDGESHIP_PASSENGER_URL", &cfg.Passenger.URL)
	str("EDGESHIP_PASSENGER_DB_PATH", &cfg.Passenger.DBPath)
	num("EDGESHIP_PASSENGER_ROUTE_ID", &cfg.Passenger.RouteID)
	if v, ok := os.LookupEnv("EDGESHIP_PASSENGER_SKIP_CLASSES"); ok {
		cfg.Passenger.SkipClasses = splitList(v)
	}

	flag("EDGESHIP_HEALTH_ENABLED", &cfg.Health.Enabled)
	str("EDGESHIP_HEALTH_URL", &cfg.Health.URL)
	str("EDGESHIP_HEALTH_DB_PATH", &cfg.Health.DBPath)
	str("EDGESHIP_HEALTH_COUNTER_FILE", &cfg.Health.CounterFile)
	str("EDGESHIP_HEALTH_THERMAL_FILE", &cfg.Health.ThermalFile)
	str("EDGESHIP_HEALTH_UPTIME_FILE", &cfg.Health.UptimeFile)

	if v, ok := os.LookupEnv("EDGESHIP_GPS_COMMAND"); ok {
		cfg.GPS.Command = v
	}
	dur("EDGESHIP_GPS_INTERVAL", &cfg.GPS.Interval)

	str("EDGESHIP_ATTACHMENTS_TYPE", &cfg.Attachments.Type)
	str("EDGESHIP_ATTACHMENTS_PATH", &cfg.Attachments.Path)
	str("EDGESHIP_S3_BUCKET", &cfg.Attachments.S3.Bucket)
	str("EDGESHIP_S3_REGION", &cfg.Attachments.S3.Region)
	str("EDGESHIP_S3_ENDPOINT", &cfg.Attachments.S3.Endpoint)
	str("EDGESHIP_S3_PREFIX", &cfg.Attachments.S3.Prefix)
	flag("EDGESHIP_S3_PATH_STYLE", &cfg.Attachments.S3.PathStyle)

	if v, ok := os.LookupEnv("EDGESHIP_HTTP_ADDR"); ok {
		cfg.HTTP.Addr = v
	}
	dur("EDGESHIP_HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeout)
	dur("EDGESHIP_HTTP_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout)

	str("EDGESHIP_METRICS_OTLP_ENDPOINT", &cfg.Metrics.OTLPEndpoint)
	dur("EDGESHIP_METRICS_INTERVAL", &cfg.Metrics.Interval)

	str("EDGESHIP_LOG_LEVEL", &cfg.Log.Level)

	return errors.Join(errs...)
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.DataDir,
		filepath.Dir(c.Passenger.DBPath),
		filepath.Dir(c.Health.DBPath),
	}
	if c.Attachments.Type == "local" {
		dirs = append(dirs, c.Attachments.Path)
	}

	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
