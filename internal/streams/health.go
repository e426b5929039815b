package streams

import (
	"context"
	"sort"

	"github.com/airfi/edgeship/internal/outbox"
	"github.com/airfi/edgeship/internal/wire"
	"github.com/airfi/edgeship/pkg/types"
)

// HealthTable is the outbox table for device-health samples.
const HealthTable = "device_health"

// HealthSchema maps HealthSample onto its table. Samples are ordered by row id.
func HealthSchema() outbox.Schema[types.HealthSample] {
	return outbox.Schema[types.HealthSample]{
		Table: HealthTable,
		Columns: []types.ColumnDef{
			{Name: "camera_connected", Type: "INTEGER"},
			{Name: "onboard_count", Type: "INTEGER"},
			{Name: "satellites_visible", Type: "INTEGER"},
			{Name: "satellites_used", Type: "INTEGER"},
			{Name: "latitude", Type: "REAL"},
			{Name: "longitude", Type: "REAL"},
			{Name: "speed", Type: "REAL"},
			{Name: "uptime_seconds", Type: "INTEGER"},
			{Name: "service_status", Type: "INTEGER"},
			{Name: "temperature", Type: "REAL"},
			{Name: "gps_status", Type: "INTEGER"},
		},
		Values: func(s *types.HealthSample) []any {
			return []any{
				s.CameraConnected, s.OnboardCount, s.SatellitesVisible, s.SatellitesUsed,
				s.Latitude, s.Longitude, s.Speed, s.UptimeSeconds,
				s.ServiceStatus, s.Temperature, s.GPSStatus,
			}
		},
		Targets: func(s *types.HealthSample) []any {
			return []any{
				&s.CameraConnected, &s.OnboardCount, &s.SatellitesVisible, &s.SatellitesUsed,
				&s.Latitude, &s.Longitude, &s.Speed, &s.UptimeSeconds,
				&s.ServiceStatus, &s.Temperature, &s.GPSStatus,
			}
		},
	}
}

// HealthMetadata builds the JSON object posted for a sample.
func HealthMetadata(rec *outbox.Record[types.HealthSample]) *wire.Metadata {
	s := &rec.Payload
	m := wire.NewMetadata().
		Set("MacID", rec.DeviceID).
		Set("CameraConnected", s.CameraConnected).
		Set("OnBoardCount", s.OnboardCount).
		Set("SatellitesCount", s.SatellitesVisible).
		Set("SatellitesUsed", s.SatellitesUsed).
		Set("Lat", s.Latitude).
		Set("Lng", s.Longitude).
		Set("Speed", s.Speed).
		Set("DeviceUpTime", s.UptimeSeconds).
		Set("ServiceStatus", s.ServiceStatus).
		Set("Temperature", s.Temperature).
		Set("GpsStatus", s.GPSStatus).
		Set("UploadStatus", int(rec.Status))

	for _, k := range sortedKeys(rec.Extra) {
		m.SetDefault(k, rec.Extra[k])
	}
	return m
}

// EncodeHealth returns the application/json body for a sample.
func EncodeHealth(_ context.Context, rec *outbox.Record[types.HealthSample]) (*wire.Body, error) {
	return wire.JSON(HealthMetadata(rec))
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
