package types

// HealthSample is a periodic snapshot of device state.
// Integer fields use -1 when the underlying source could not be read.
type HealthSample struct {
	CameraConnected   int     `json:"camera_connected"`
	OnboardCount      int     `json:"onboard_count"`
	SatellitesVisible int     `json:"satellites_visible"`
	SatellitesUsed    int     `json:"satellites_used"`
	Latitude          float64 `json:"latitude"`
	Longitude         float64 `json:"longitude"`
	Speed             float64 `json:"speed"`
	UptimeSeconds     int64   `json:"uptime_seconds"`
	ServiceStatus     int     `json:"service_status"`
	Temperature       float64 `json:"temperature"`
	GPSStatus         int     `json:"gps_status"`
}

// GPS status values reported in HealthSample.GPSStatus.
const (
	GPSStatusNoFix = 1
	GPSStatusFix   = 2
)
