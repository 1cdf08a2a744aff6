package monitor

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GRID-Lords/digital-twin-opendss-sub000/internal/alerting"
	"github.com/GRID-Lords/digital-twin-opendss-sub000/internal/anomaly"
	"github.com/GRID-Lords/digital-twin-opendss-sub000/internal/model"
)

type fakeSamples struct {
	mu      sync.Mutex
	samples map[string]*model.MetricSample
}

func newFakeSamples() *fakeSamples {
	return &fakeSamples{samples: make(map[string]*model.MetricSample)}
}

func (f *fakeSamples) set(assetID, metricKey string, value float64, ts time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.samples[assetID+"|"+metricKey] = &model.MetricSample{
		AssetID: assetID, MetricKey: metricKey, Value: value, Timestamp: ts,
	}
}

func (f *fakeSamples) GetLatest(_ context.Context, assetID, metricKey string) (*model.MetricSample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.samples[assetID+"|"+metricKey], nil
}

type fakeThresholds struct {
	thresholds []model.Threshold
}

func (f *fakeThresholds) ListEnabled(context.Context) ([]model.Threshold, error) {
	return f.thresholds, nil
}

type memAlertStore struct {
	mu     sync.Mutex
	alerts []*model.Alert
}

func (s *memAlertStore) Create(_ context.Context, alert *model.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	alert.ID = uuid.NewString()
	s.alerts = append(s.alerts, alert)
	return nil
}

func (s *memAlertStore) FindOpenByCondition(_ context.Context, assetID, conditionKey string) (*model.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.alerts {
		if a.AssetID == assetID && a.ConditionKey == conditionKey && !a.Resolved {
			return a, nil
		}
	}
	return nil, nil
}

func (s *memAlertStore) all() []*model.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*model.Alert(nil), s.alerts...)
}

func newTestMonitor(samples *fakeSamples, thresholds []model.Threshold) (*Monitor, *memAlertStore) {
	store := &memAlertStore{}
	guard := alerting.NewGuard(store, nil, slog.Default())
	m := New(samples, &fakeThresholds{thresholds: thresholds}, guard,
		time.Minute, 5*time.Minute, slog.Default())
	return m, store
}

func busVoltageThreshold() model.Threshold {
	return model.Threshold{
		AssetID:    "400kV_BUS",
		MetricKey:  "voltage",
		MetricUnit: "kV",
		Min:        380,
		Max:        420,
		Severity:   model.SeverityMedium,
		Enabled:    true,
	}
}

func TestCycleRaisesAlertOnViolation(t *testing.T) {
	now := time.Now()
	samples := newFakeSamples()
	samples.set("400kV_BUS", "voltage", 425, now)
	m, store := newTestMonitor(samples, []model.Threshold{busVoltageThreshold()})

	m.RunCycle(context.Background(), now)

	alerts := store.all()
	require.Len(t, alerts, 1)
	assert.Equal(t, model.AlertTypeThreshold, alerts[0].AlertType)
	assert.Equal(t, model.SeverityMedium, alerts[0].Severity)
	assert.Equal(t, "voltage", alerts[0].ConditionKey)
	assert.Contains(t, alerts[0].Message, "voltage on 400kV_BUS is 425.00 kV")
	assert.Contains(t, alerts[0].Message, "[380.00, 420.00]")
}

func TestCycleInRangeIsQuiet(t *testing.T) {
	now := time.Now()
	samples := newFakeSamples()
	samples.set("400kV_BUS", "voltage", 400, now)
	m, store := newTestMonitor(samples, []model.Threshold{busVoltageThreshold()})

	m.RunCycle(context.Background(), now)
	assert.Empty(t, store.all())
}

func TestCycleBoundaryValuesAreInRange(t *testing.T) {
	now := time.Now()
	samples := newFakeSamples()
	samples.set("400kV_BUS", "voltage", 420, now)
	m, store := newTestMonitor(samples, []model.Threshold{busVoltageThreshold()})

	m.RunCycle(context.Background(), now)
	assert.Empty(t, store.all(), "value equal to max is not a violation")

	samples.set("400kV_BUS", "voltage", 380, now)
	m.RunCycle(context.Background(), now)
	assert.Empty(t, store.all(), "value equal to min is not a violation")
}

func TestCycleSkipsStaleSample(t *testing.T) {
	now := time.Now()
	samples := newFakeSamples()
	samples.set("400kV_BUS", "voltage", 500, now.Add(-10*time.Minute))
	m, store := newTestMonitor(samples, []model.Threshold{busVoltageThreshold()})

	m.RunCycle(context.Background(), now)
	assert.Empty(t, store.all(), "stale samples must not raise alerts")
}

func TestCycleSkipsMissingSample(t *testing.T) {
	m, store := newTestMonitor(newFakeSamples(), []model.Threshold{busVoltageThreshold()})
	m.RunCycle(context.Background(), time.Now())
	assert.Empty(t, store.all())
}

func TestRepeatedCyclesDoNotDuplicate(t *testing.T) {
	now := time.Now()
	samples := newFakeSamples()
	samples.set("400kV_BUS", "voltage", 430, now)
	m, store := newTestMonitor(samples, []model.Threshold{busVoltageThreshold()})

	ctx := context.Background()
	m.RunCycle(ctx, now)
	m.RunCycle(ctx, now)
	m.RunCycle(ctx, now)

	assert.Len(t, store.all(), 1, "an open alert suppresses repeats of the same condition")
}

func TestSeverityEscalatesWithDeviation(t *testing.T) {
	th := busVoltageThreshold() // span 40
	cases := []struct {
		name     string
		value    float64
		expected model.Severity
	}{
		{"just outside", 425, model.SeverityMedium},       // deviation 5, ratio 0.125
		{"quarter span above", 430, model.SeverityHigh},   // deviation 10, ratio 0.25
		{"half span above", 440, model.SeverityCritical},  // deviation 20, ratio 0.5
		{"far below", 340, model.SeverityCritical},        // deviation 40, ratio 1.0
		{"slightly below", 378, model.SeverityMedium},     // deviation 2, ratio 0.05
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, classifyDeviation(th, tc.value))
		})
	}
}

func TestSeverityEscalationCapsAtCritical(t *testing.T) {
	th := busVoltageThreshold()
	th.Severity = model.SeverityCritical
	assert.Equal(t, model.SeverityCritical, classifyDeviation(th, 1000))
}

func TestDegenerateBandStillClassifies(t *testing.T) {
	th := model.Threshold{AssetID: "X", MetricKey: "m", Min: 50, Max: 50, Severity: model.SeverityLow}
	// span clamps to 1, so a deviation of 0.3 stays at the base severity
	assert.Equal(t, model.SeverityLow, classifyDeviation(th, 50.3))
	// and a deviation of 0.6 escalates twice
	assert.Equal(t, model.SeverityHigh, classifyDeviation(th, 50.6))
}

type recordingBroadcaster struct {
	mu            sync.Mutex
	notifications []model.Notification
}

func (r *recordingBroadcaster) Notify(n model.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifications = append(r.notifications, n)
}

func TestThresholdViolationThenAnomalyIsSuppressed(t *testing.T) {
	now := time.Now()
	samples := newFakeSamples()
	samples.set("400kV_BUS", "voltage", 425, now)

	store := &memAlertStore{}
	bc := &recordingBroadcaster{}
	guard := alerting.NewGuard(store, bc, slog.Default())
	m := New(samples, &fakeThresholds{thresholds: []model.Threshold{busVoltageThreshold()}}, guard,
		time.Minute, 5*time.Minute, slog.Default())
	ingestor := anomaly.NewIngestor(guard, slog.Default())

	ctx := context.Background()
	m.RunCycle(ctx, now)

	require.Len(t, store.all(), 1)
	require.Len(t, bc.notifications, 1)
	assert.Equal(t, model.NotificationMedium, bc.notifications[0].NotificationType)

	// The detector reports the same condition before the operator resolves it.
	outcome, err := ingestor.Ingest(ctx, anomaly.Event{
		AssetID:        "400kV_BUS",
		ConditionLabel: "voltage",
		Severity:       "critical",
	})
	require.NoError(t, err)
	assert.False(t, outcome.Created)
	assert.Len(t, store.all(), 1, "no second alert")
	assert.Len(t, bc.notifications, 1, "no second notification")
}

func TestRunSkipsOverlappingCycles(t *testing.T) {
	samples := newFakeSamples()
	m, _ := newTestMonitor(samples, nil)

	require.True(t, m.busy.CompareAndSwap(false, true), "simulate an in-flight cycle")
	m.interval = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	// Several ticks fire while busy is held; none may flip the flag back.
	time.Sleep(30 * time.Millisecond)
	assert.True(t, m.busy.Load(), "skipped ticks must leave the busy flag untouched")

	cancel()
	<-done
}
