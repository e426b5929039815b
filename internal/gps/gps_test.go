package gps

import (
	"context"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/airfi/edgeship/pkg/types"
)

const (
	tpvLine = `{"class":"TPV","device":"/dev/ttyACM0","mode":3,"lat":12.971599,"lon":77.594566,"speed":5.0}`
	skyLine = `{"class":"SKY","satellites":[{"PRN":1,"used":true},{"PRN":7,"used":false},{"PRN":9,"used":true}]}`
	verLine = `{"class":"VERSION","release":"3.22"}`
)

func TestParseReport_TPV(t *testing.T) {
	r, ok, err := ParseReport([]byte(tpvLine))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ClassTPV, r.Class)
	assert.InDelta(t, 12.971599, r.Latitude, 1e-9)
	assert.InDelta(t, 77.594566, r.Longitude, 1e-9)
	assert.InDelta(t, 18.0, r.SpeedKMH, 1e-9)
}

func TestParseReport_TPVWithoutFix(t *testing.T) {
	r, ok, err := ParseReport([]byte(`{"class":"TPV","mode":1}`))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Zero(t, r.Latitude)
	assert.Zero(t, r.SpeedKMH)
}

func TestParseReport_SKY(t *testing.T) {
	r, ok, err := ParseReport([]byte(skyLine))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3, r.SatellitesVisible)
	assert.Equal(t, 2, r.SatellitesUsed)
}

func TestParseReport_OtherAndInvalid(t *testing.T) {
	_, ok, err := ParseReport([]byte(verLine))
	assert.NoError(t, err)
	assert.False(t, ok)

	_, _, err = ParseReport([]byte(`{"class":`))
	assert.Error(t, err)
}

func TestState_ApplyAndStatus(t *testing.T) {
	s := NewState()
	assert.Equal(t, types.GPSStatusNoFix, s.Status())

	tpv, _, _ := ParseReport([]byte(tpvLine))
	sky, _, _ := ParseReport([]byte(skyLine))
	s.Apply(tpv)
	s.Apply(sky)

	fix := s.Snapshot()
	assert.InDelta(t, 12.971599, fix.Latitude, 1e-9)
	assert.Equal(t, 3, fix.SatellitesVisible)
	assert.Equal(t, 2, fix.SatellitesUsed)
	assert.Equal(t, types.GPSStatusFix, s.Status())

	// a later SKY without used satellites drops the fix but keeps the position
	s.Apply(Report{Class: ClassSKY, SatellitesVisible: 4})
	assert.Equal(t, types.GPSStatusNoFix, s.Status())
	assert.InDelta(t, 77.594566, s.Snapshot().Longitude, 1e-9)
}

func TestState_Concurrent(t *testing.T) {
	s := NewState()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				s.Set(Fix{Latitude: float64(i), Longitude: float64(i), SatellitesUsed: i})
			}
		}(i)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				f := s.Snapshot()
				// snapshots are never torn
				if f.Latitude != f.Longitude || int(f.Latitude) != f.SatellitesUsed {
					t.Errorf("torn snapshot: %+v", f)
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestScanReports(t *testing.T) {
	input := strings.Join([]string{verLine, tpvLine, "garbage", "", skyLine}, "\n")
	s := NewState()
	n := ScanReports(strings.NewReader(input), s.Apply, zap.NewNop())
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, s.Snapshot().SatellitesUsed)
}

func TestNewPipeSource_Empty(t *testing.T) {
	_, err := NewPipeSource("   ", nil)
	assert.Error(t, err)
}

func TestPipeSource_Read(t *testing.T) {
	if _, err := exec.LookPath("printf"); err != nil {
		t.Skip("printf not available")
	}
	src, err := NewPipeSource(`printf %s\n%s\n `+tpvLine+" "+skyLine, nil)
	require.NoError(t, err)

	s := NewState()
	require.NoError(t, src.Read(context.Background(), s.Apply))
	assert.Equal(t, types.GPSStatusFix, s.Status())
}

func TestPipeSource_MissingCommand(t *testing.T) {
	src, err := NewPipeSource("definitely-not-gpspipe -w", nil)
	require.NoError(t, err)
	assert.Error(t, src.Read(context.Background(), func(Report) {}))
}

type countingSource struct{ rounds atomic.Int64 }

func (c *countingSource) Read(ctx context.Context, apply func(Report)) error {
	c.rounds.Add(1)
	apply(Report{Class: ClassSKY, SatellitesVisible: 5, SatellitesUsed: 1})
	return nil
}

func TestPoll_RepeatsUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	src := &countingSource{}
	s := NewState()

	done := make(chan struct{})
	go func() {
		Poll(ctx, src, s, 5*time.Millisecond, nil)
		close(done)
	}()

	require.Eventually(t, func() bool { return src.rounds.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Poll did not stop")
	}
	assert.Equal(t, 5, s.Snapshot().SatellitesVisible)
}
