// Package health samples device state for the health stream.
package health

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/airfi/edgeship/internal/counters"
	"github.com/airfi/edgeship/internal/gps"
	"github.com/airfi/edgeship/internal/outbox"
	"github.com/airfi/edgeship/pkg/types"
)

// Unavailable is stored for any integer field whose source could not be read.
const Unavailable = -1

const (
	DefaultUptimeFile  = "/proc/uptime"
	DefaultThermalFile = "/sys/class/thermal/thermal_zone0/temp"
)

// Config holds the source paths sampled by the collector.
type Config struct {
	CounterFile string
	UptimeFile  string
	ThermalFile string
}

// Collector builds one HealthSample per call from the device sources.
type Collector struct {
	cfg    Config
	gps    *gps.State
	logger *zap.Logger
	now    func() time.Time
}

// NewCollector creates a collector. gpsState may be nil; the GPS fields then report no fix.
func NewCollector(cfg Config, gpsState *gps.State, logger *zap.Logger) *Collector {
	if cfg.UptimeFile == "" {
		cfg.UptimeFile = DefaultUptimeFile
	}
	if cfg.ThermalFile == "" {
		cfg.ThermalFile = DefaultThermalFile
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{
		cfg:    cfg,
		gps:    gpsState,
		logger: logger,
		now:    time.Now,
	}
}

// Sample reads every source once. online is the current connectivity and becomes
// ServiceStatus. A source that fails is logged at debug and reported as Unavailable;
// Sample itself never fails.
func (c *Collector) Sample(online bool) types.HealthSample {
	s := types.HealthSample{
		CameraConnected: Unavailable,
		OnboardCount:    Unavailable,
		UptimeSeconds:   Unavailable,
		Temperature:     Unavailable,
	}

	if counts, err := counters.Read(c.cfg.CounterFile); err != nil {
		c.logger.Debug("counter file unavailable", zap.Error(err))
	} else {
		s.CameraConnected = counts.CameraConnected()
		s.OnboardCount = counts.Onboard()
	}

	var fix gps.Fix
	if c.gps != nil {
		fix = c.gps.Snapshot()
	}
	s.Latitude = fix.Latitude
	s.Longitude = fix.Longitude
	s.Speed = fix.SpeedKMH
	s.SatellitesVisible = fix.SatellitesVisible
	s.SatellitesUsed = fix.SatellitesUsed
	s.GPSStatus = fix.Status()

	if up, err := readUptime(c.cfg.UptimeFile); err != nil {
		c.logger.Debug("uptime unavailable", zap.Error(err))
	} else {
		s.UptimeSeconds = up
	}

	if temp, err := readTemperature(c.cfg.ThermalFile); err != nil {
		c.logger.Debug("temperature unavailable", zap.Error(err))
	} else {
		s.Temperature = temp
	}

	if online {
		s.ServiceStatus = 1
	}
	return s
}

// Collect wraps Sample into an outbox record timestamped at sampling time.
func (c *Collector) Collect(ctx context.Context, online bool) (*outbox.Record[types.HealthSample], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &outbox.Record[types.HealthSample]{
		Payload:   c.Sample(online),
		CreatedAt: c.now().UTC(),
	}, nil
}

// readUptime returns the first field of /proc/uptime truncated to whole seconds.
func readUptime(path string) (int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return 0, fmt.Errorf("health: %s is empty", path)
	}
	secs, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, fmt.Errorf("health: uptime: %w", err)
	}
	return int64(secs), nil
}

// readTemperature converts a thermal zone reading in millidegrees to degrees Celsius.
func readTemperature(path string) (float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	milli, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
	if err != nil {
		return 0, fmt.Errorf("health: temperature: %w", err)
	}
	return milli / 1000, nil
}
