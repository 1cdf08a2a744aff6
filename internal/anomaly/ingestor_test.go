package anomaly

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GRID-Lords/digital-twin-opendss-sub000/internal/alerting"
	"github.com/GRID-Lords/digital-twin-opendss-sub000/internal/model"
)

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

func newTestIngestor() (*Ingestor, *memAlertStore) {
	store := &memAlertStore{}
	guard := alerting.NewGuard(store, nil, slog.Default())
	return NewIngestor(guard, slog.Default()), store
}

func TestIngestCreatesAnomalyAlert(t *testing.T) {
	ing, store := newTestIngestor()

	outcome, err := ing.Ingest(context.Background(), Event{
		AssetID:        "TX1",
		ConditionLabel: "harmonic_distortion",
		Severity:       "high",
		Description:    "THD spike on phase B",
	})
	require.NoError(t, err)
	assert.True(t, outcome.Created)

	require.Len(t, store.alerts, 1)
	alert := store.alerts[0]
	assert.Equal(t, model.AlertTypeAnomaly, alert.AlertType)
	assert.Equal(t, model.SeverityHigh, alert.Severity)
	assert.Equal(t, "harmonic_distortion", alert.ConditionKey)
	assert.Equal(t, "THD spike on phase B", alert.Message)
}

func TestIngestDefaultsMessageAndSeverity(t *testing.T) {
	ing, store := newTestIngestor()

	_, err := ing.Ingest(context.Background(), Event{
		AssetID:        "CB1",
		ConditionLabel: "switching_transient",
		Severity:       "weird-value",
	})
	require.NoError(t, err)

	require.Len(t, store.alerts, 1)
	assert.Equal(t, model.SeverityMedium, store.alerts[0].Severity)
	assert.Equal(t, "Anomaly switching_transient detected on CB1", store.alerts[0].Message)
}

func TestIngestSuppressedByOpenAlert(t *testing.T) {
	ing, store := newTestIngestor()
	ctx := context.Background()
	ev := Event{AssetID: "TX1", ConditionLabel: "harmonic_distortion", Severity: "high"}

	first, err := ing.Ingest(ctx, ev)
	require.NoError(t, err)
	require.True(t, first.Created)

	second, err := ing.Ingest(ctx, ev)
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.Alert.ID, second.Alert.ID)
	assert.Len(t, store.alerts, 1)
}

func TestIngestRejectsIncompleteEvents(t *testing.T) {
	ing, _ := newTestIngestor()

	_, err := ing.Ingest(context.Background(), Event{ConditionLabel: "x"})
	assert.ErrorIs(t, err, ErrIncompleteEvent)
	_, err = ing.Ingest(context.Background(), Event{AssetID: "TX1"})
	assert.ErrorIs(t, err, ErrIncompleteEvent)
}
