// Package gps tracks the current position and satellite fix reported by gpsd.
package gps

import (
	"encoding/json"
	"fmt"
)

// gpsd report classes the tracker understands.
const (
	ClassTPV = "TPV"
	ClassSKY = "SKY"
)

// mpsToKMH converts gpsd speed (m/s) to km/h.
const mpsToKMH = 3.6

// Report is one parsed gpsd JSON line. Only the fields of its Class are meaningful.
type Report struct {
	Class string

	// TPV
	Latitude  float64
	Longitude float64
	SpeedKMH  float64

	// SKY
	SatellitesVisible int
	SatellitesUsed    int
}

type rawReport struct {
	Class      string   `json:"class"`
	Lat        *float64 `json:"lat"`
	Lon        *float64 `json:"lon"`
	Speed      *float64 `json:"speed"`
	Satellites []struct {
		Used bool `json:"used"`
	} `json:"satellites"`
}

// ParseReport decodes a gpsd JSON line. ok is false for classes other than TPV and SKY.
// Missing TPV fields read as zero, as gpsd omits them when there is no fix.
func ParseReport(line []byte) (r Report, ok bool, err error) {
	var raw rawReport
	if err := json.Unmarshal(line, &raw); err != nil {
		return Report{}, false, fmt.Errorf("gps: invalid report: %w", err)
	}

	switch raw.Class {
	case ClassTPV:
		r.Class = ClassTPV
		r.Latitude = deref(raw.Lat)
		r.Longitude = deref(raw.Lon)
		r.SpeedKMH = deref(raw.Speed) * mpsToKMH
		return r, true, nil
	case ClassSKY:
		r.Class = ClassSKY
		r.SatellitesVisible = len(raw.Satellites)
		for _, sat := range raw.Satellites {
			if sat.Used {
				r.SatellitesUsed++
			}
		}
		return r, true, nil
	default:
		return Report{}, false, nil
	}
}

func deref(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}
