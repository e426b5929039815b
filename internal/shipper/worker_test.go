package shipper

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airfi/edgeship/internal/connectivity"
	shiperr "github.com/airfi/edgeship/internal/errors"
	"github.com/airfi/edgeship/internal/observability"
	"github.com/airfi/edgeship/internal/outbox"
	"github.com/airfi/edgeship/internal/streams"
	"github.com/airfi/edgeship/internal/uploader"
	"github.com/airfi/edgeship/internal/wire"
	"github.com/airfi/edgeship/pkg/types"
)

// fakeSubmitter answers with a per-call function and records every submission.
type fakeSubmitter struct {
	mu     sync.Mutex
	calls  []uploader.Submission
	answer func(sub uploader.Submission) (*uploader.Ack, error)
}

func (f *fakeSubmitter) Submit(ctx context.Context, sub uploader.Submission) (*uploader.Ack, error) {
	f.mu.Lock()
	f.calls = append(f.calls, sub)
	f.mu.Unlock()
	if f.answer == nil {
		return &uploader.Ack{StatusCode: http.StatusOK}, nil
	}
	return f.answer(sub)
}

func (f *fakeSubmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// spyStore counts scans and can fail MarkDelivered.
type spyStore[P any] struct {
	Outbox[P]
	scans    atomic.Int64
	failMark atomic.Bool
}

func (s *spyStore[P]) ScanPending(ctx context.Context) ([]outbox.Record[P], error) {
	s.scans.Add(1)
	return s.Outbox.ScanPending(ctx)
}

func (s *spyStore[P]) MarkDelivered(ctx context.Context, id int64) (int64, error) {
	if s.failMark.Load() {
		return 0, shiperr.NewStoreError(shiperr.CodeWriteFailed, "disk I/O error", nil)
	}
	return s.Outbox.MarkDelivered(ctx, id)
}

func openHealthStore(t *testing.T) *outbox.Store[types.HealthSample] {
	t.Helper()
	s, err := outbox.Open(filepath.Join(t.TempDir(), "health.db"), streams.HealthSchema(),
		outbox.WithDeviceID("48:B0:2D:00:11:22"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func appendSample(t *testing.T, s Outbox[types.HealthSample], onboard int) int64 {
	t.Helper()
	id, err := s.Append(context.Background(), &outbox.Record[types.HealthSample]{
		Payload: types.HealthSample{OnboardCount: onboard, GPSStatus: types.GPSStatusNoFix},
	})
	require.NoError(t, err)
	return id
}

// onboardOf extracts the OnBoardCount the encoder wrote into a submission.
func onboardOf(t *testing.T, sub uploader.Submission) int {
	var body struct{ OnBoardCount int }
	require.NoError(t, json.Unmarshal(sub.Body.Data, &body))
	return body.OnBoardCount
}

func healthStream(store Outbox[types.HealthSample]) Stream[types.HealthSample] {
	return Stream[types.HealthSample]{
		Name:   "health",
		URL:    "http://ingest.invalid/device-health",
		Store:  store,
		Encode: streams.EncodeHealth,
	}
}

func TestWorker_DeliversAndMarks(t *testing.T) {
	ctx := context.Background()
	store := openHealthStore(t)
	a := appendSample(t, store, 1)

	sub := &fakeSubmitter{}
	w := NewWorker(Config{}, healthStream(store), connectivity.NewStatic(true), sub, nil, nil)

	res := w.RunOnce(ctx)
	assert.True(t, res.Online)
	assert.Equal(t, 1, res.Scanned)
	assert.Equal(t, 1, res.Delivered)

	pending, err := store.ScanPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	got, err := store.Get(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, types.StatusDelivered, got.Status)
	assert.Equal(t, got.Fingerprint, sub.calls[0].Fingerprint)
}

func TestWorker_FailureIsolatedPerRecord(t *testing.T) {
	ctx := context.Background()
	store := openHealthStore(t)
	a := appendSample(t, store, 1)
	b := appendSample(t, store, 2)

	sub := &fakeSubmitter{}
	sub.answer = func(s uploader.Submission) (*uploader.Ack, error) {
		if onboardOf(t, s) == 1 {
			return nil, shiperr.NewTransmissionError(shiperr.CodeRequestFailed, "timeout", context.DeadlineExceeded)
		}
		return &uploader.Ack{StatusCode: http.StatusOK}, nil
	}
	stats := observability.NewStats(nil)
	w := NewWorker(Config{}, healthStream(store), connectivity.NewStatic(true), sub, stats, nil)

	res := w.RunOnce(ctx)
	assert.Equal(t, 2, res.Scanned)
	assert.Equal(t, 1, res.Delivered)
	assert.Equal(t, 1, res.Failed)

	pending, err := store.ScanPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, a, pending[0].ID)

	got, err := store.Get(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, types.StatusDelivered, got.Status)

	st, _ := stats.Get("health")
	assert.Equal(t, int64(1), st.Failures["request_failed"])
}

func TestWorker_OfflineIsNoOp(t *testing.T) {
	ctx := context.Background()
	store := &spyStore[types.HealthSample]{Outbox: openHealthStore(t)}
	appendSample(t, store, 1)

	sub := &fakeSubmitter{}
	monitor := connectivity.NewStatic(false)
	w := NewWorker(Config{}, healthStream(store), monitor, sub, nil, nil)

	for i := 0; i < 3; i++ {
		res := w.RunOnce(ctx)
		assert.False(t, res.Online)
	}
	assert.Equal(t, int64(0), store.scans.Load())
	assert.Equal(t, 0, sub.count())

	monitor.Set(true)
	res := w.RunOnce(ctx)
	assert.Equal(t, 1, res.Delivered)
}

func TestWorker_ResendsWhenMarkFails(t *testing.T) {
	ctx := context.Background()
	store := &spyStore[types.HealthSample]{Outbox: openHealthStore(t)}
	appendSample(t, store, 1)

	sub := &fakeSubmitter{}
	w := NewWorker(Config{}, healthStream(store), connectivity.NewStatic(true), sub, nil, nil)

	store.failMark.Store(true)
	res := w.RunOnce(ctx)
	assert.Equal(t, 1, res.Failed)

	store.failMark.Store(false)
	res = w.RunOnce(ctx)
	assert.Equal(t, 1, res.Delivered)

	// delivered twice, marked once
	require.Equal(t, 2, sub.count())
	assert.Equal(t, sub.calls[0].Fingerprint, sub.calls[1].Fingerprint)

	pending, err := store.ScanPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestWorker_MalformedRecordDoesNotBlockOthers(t *testing.T) {
	ctx := context.Background()
	store := openHealthStore(t)
	bad := appendSample(t, store, 1)
	appendSample(t, store, 2)
	appendSample(t, store, 3)

	stream := healthStream(store)
	stream.Encode = func(ctx context.Context, rec *outbox.Record[types.HealthSample]) (*wire.Body, error) {
		if rec.ID == bad {
			return nil, shiperr.NewMalformedError(shiperr.CodeEncodeFailed, "non-finite temperature", nil)
		}
		return streams.EncodeHealth(ctx, rec)
	}
	sub := &fakeSubmitter{}
	w := NewWorker(Config{}, stream, connectivity.NewStatic(true), sub, nil, nil)

	res := w.RunOnce(ctx)
	assert.Equal(t, 2, res.Delivered)
	assert.Equal(t, 1, res.Failed)

	pending, err := store.ScanPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, bad, pending[0].ID)

	// retried every tick, never dropped
	res = w.RunOnce(ctx)
	assert.Equal(t, 1, res.Scanned)
	assert.Equal(t, 1, res.Failed)
}

func TestWorker_SkipKeepsRecordPending(t *testing.T) {
	ctx := context.Background()
	store := openHealthStore(t)
	skipped := appendSample(t, store, 99)
	appendSample(t, store, 1)

	stream := healthStream(store)
	stream.Skip = func(rec *outbox.Record[types.HealthSample]) bool {
		return rec.Payload.OnboardCount == 99
	}
	sub := &fakeSubmitter{}
	w := NewWorker(Config{}, stream, connectivity.NewStatic(true), sub, nil, nil)

	res := w.RunOnce(ctx)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 1, res.Delivered)
	assert.Equal(t, 1, sub.count())

	pending, err := store.ScanPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, skipped, pending[0].ID)
}

func TestWorker_SubmitsInScanOrder(t *testing.T) {
	ctx := context.Background()
	store := openHealthStore(t)
	for i := 1; i <= 5; i++ {
		appendSample(t, store, i)
	}

	sub := &fakeSubmitter{}
	w := NewWorker(Config{Concurrency: 1}, healthStream(store), connectivity.NewStatic(true), sub, nil, nil)
	w.RunOnce(ctx)

	require.Equal(t, 5, sub.count())
	for i, call := range sub.calls {
		assert.Equal(t, i+1, onboardOf(t, call))
	}
}

func TestWorker_BoundedConcurrency(t *testing.T) {
	ctx := context.Background()
	store := openHealthStore(t)
	for i := 0; i < 12; i++ {
		appendSample(t, store, i)
	}

	var inFlight, peak atomic.Int64
	sub := &fakeSubmitter{answer: func(uploader.Submission) (*uploader.Ack, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return &uploader.Ack{StatusCode: http.StatusOK}, nil
	}}
	w := NewWorker(Config{Concurrency: 3}, healthStream(store), connectivity.NewStatic(true), sub, nil, nil)

	res := w.RunOnce(ctx)
	assert.Equal(t, 12, res.Delivered)
	assert.LessOrEqual(t, peak.Load(), int64(3))

	n, err := store.CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestWorker_CollectorAppendsEvenWhenOffline(t *testing.T) {
	ctx := context.Background()
	store := openHealthStore(t)

	stream := healthStream(store)
	stream.Collect = func(context.Context, bool) (*outbox.Record[types.HealthSample], error) {
		return &outbox.Record[types.HealthSample]{Payload: types.HealthSample{CameraConnected: 1}}, nil
	}
	monitor := connectivity.NewStatic(false)
	sub := &fakeSubmitter{}
	w := NewWorker(Config{}, stream, monitor, sub, nil, nil)

	w.RunOnce(ctx)
	w.RunOnce(ctx)
	n, err := store.CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	monitor.Set(true)
	res := w.RunOnce(ctx)
	assert.True(t, res.Collected)
	assert.Equal(t, 3, res.Delivered)
}

func TestWorker_CollectorFailureDoesNotStopTick(t *testing.T) {
	ctx := context.Background()
	store := openHealthStore(t)
	appendSample(t, store, 1)

	stream := healthStream(store)
	stream.Collect = func(context.Context, bool) (*outbox.Record[types.HealthSample], error) {
		return nil, errors.New("thermal zone unreadable")
	}
	w := NewWorker(Config{}, stream, connectivity.NewStatic(true), &fakeSubmitter{}, nil, nil)

	res := w.RunOnce(ctx)
	assert.False(t, res.Collected)
	assert.Equal(t, 1, res.Delivered)
}

func TestWorker_RunTicksUntilCancelled(t *testing.T) {
	store := openHealthStore(t)
	appendSample(t, store, 1)

	sub := &fakeSubmitter{}
	w := NewWorker(Config{Interval: 10 * time.Millisecond}, healthStream(store),
		connectivity.NewStatic(true), sub, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()

	require.Eventually(t, func() bool { return sub.count() == 1 }, time.Second, 5*time.Millisecond)
	appendSample(t, store, 2)
	require.Eventually(t, func() bool { return sub.count() == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, "health", w.Name())
}

func TestWorker_MarksAcknowledgedRecordAfterCancel(t *testing.T) {
	store := openHealthStore(t)
	id := appendSample(t, store, 1)
	appendSample(t, store, 2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// shutdown signal arrives while the first request is in flight
	sub := &fakeSubmitter{answer: func(uploader.Submission) (*uploader.Ack, error) {
		cancel()
		return &uploader.Ack{StatusCode: http.StatusOK}, nil
	}}
	w := NewWorker(Config{}, healthStream(store), connectivity.NewStatic(true), sub, nil, nil)

	res := w.RunOnce(ctx)
	assert.Equal(t, 1, res.Delivered)
	assert.Zero(t, res.Failed)
	assert.Equal(t, 1, sub.count(), "no new submissions after cancel")

	got, err := store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, types.StatusDelivered, got.Status)

	n, err := store.CountPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

// countingMonitor counts probes.
type countingMonitor struct {
	calls atomic.Int64
}

func (m *countingMonitor) IsOnline(context.Context) bool {
	m.calls.Add(1)
	return true
}

func TestWorker_ProbesOncePerTick(t *testing.T) {
	store := openHealthStore(t)
	monitor := &countingMonitor{}

	var sawOnline bool
	stream := healthStream(store)
	stream.Collect = func(_ context.Context, online bool) (*outbox.Record[types.HealthSample], error) {
		sawOnline = online
		return &outbox.Record[types.HealthSample]{}, nil
	}
	w := NewWorker(Config{}, stream, monitor, &fakeSubmitter{}, nil, nil)

	res := w.RunOnce(context.Background())
	assert.True(t, res.Collected)
	assert.Equal(t, 1, res.Delivered)
	assert.True(t, sawOnline)
	assert.Equal(t, int64(1), monitor.calls.Load())
}

func TestWorker_EndToEndWithIngestionAPI(t *testing.T) {
	ctx := context.Background()
	store := openHealthStore(t)
	appendSample(t, store, 1)
	appendSample(t, store, 2)

	var mu sync.Mutex
	var bodies []map[string]any
	fail := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(uploader.HeaderAPIKey) != "k3y" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		data, _ := io.ReadAll(r.Body)
		var m map[string]any
		_ = json.Unmarshal(data, &m)

		mu.Lock()
		defer mu.Unlock()
		if fail && m["OnBoardCount"] == float64(1) {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		bodies = append(bodies, m)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	stream := healthStream(store)
	stream.URL = srv.URL + "/device-health"
	client := uploader.NewClient("k3y", time.Second, nil)
	w := NewWorker(Config{}, stream, connectivity.NewStatic(true), client, nil, nil)

	res := w.RunOnce(ctx)
	assert.Equal(t, 1, res.Delivered)
	assert.Equal(t, 1, res.Failed)

	mu.Lock()
	fail = false
	mu.Unlock()

	res = w.RunOnce(ctx)
	assert.Equal(t, 1, res.Scanned)
	assert.Equal(t, 1, res.Delivered)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, bodies, 2)
	assert.Equal(t, "48:B0:2D:00:11:22", bodies[0]["MacID"])
	assert.Equal(t, float64(0), bodies[0]["UploadStatus"])
}

func TestWorker_CancelledContextSkipsTick(t *testing.T) {
	store := &spyStore[types.HealthSample]{Outbox: openHealthStore(t)}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w := NewWorker(Config{}, healthStream(store), connectivity.NewStatic(true), &fakeSubmitter{}, nil, nil)
	res := w.RunOnce(ctx)
	assert.False(t, res.Online)
	assert.Equal(t, int64(0), store.scans.Load())
}
