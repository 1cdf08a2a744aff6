// Package alerting turns detected conditions into persisted, broadcast
// alerts. The deduplication guard is the single gate in front of alert
// creation: both the threshold monitor and the anomaly ingestor go through
// it, so at most one open alert exists per (asset, condition) pair no matter
// which detector fired first.
package alerting

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/GRID-Lords/digital-twin-opendss-sub000/internal/model"
)

var (
	alertsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "substation_alerts_created_total",
		Help: "Alerts persisted by the deduplication guard, by producer type",
	}, []string{"type"})
	alertsSuppressed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "substation_alerts_suppressed_total",
		Help: "Alert requests suppressed because an equivalent alert was already open",
	})
)

// AlertStore is the committed-state surface the guard decides against.
type AlertStore interface {
	Create(ctx context.Context, alert *model.Alert) error
	FindOpenByCondition(ctx context.Context, assetID, conditionKey string) (*model.Alert, error)
}

// Broadcaster fans a notification out to every live observer.
type Broadcaster interface {
	Notify(n model.Notification)
}

// Request asks the guard to raise an alert for one condition.
type Request struct {
	AssetID      string
	ConditionKey string
	Type         model.AlertType
	Severity     model.Severity
	Message      string
}

// Outcome reports whether the request created a new alert or was suppressed
// by an existing open one. Suppression is a normal result, not an error.
type Outcome struct {
	Created bool
	// Alert is the newly created alert, or the already-open alert that
	// suppressed the request.
	Alert *model.Alert
}

const lockShards = 64

// Guard serializes check-then-create per condition key. Requests for
// different keys proceed in parallel across the shard table.
type Guard struct {
	store       AlertStore
	broadcaster Broadcaster
	logger      *slog.Logger
	locks       [lockShards]sync.Mutex
}

func NewGuard(store AlertStore, broadcaster Broadcaster, logger *slog.Logger) *Guard {
	return &Guard{
		store:       store,
		broadcaster: broadcaster,
		logger:      logger.With("component", "dedup_guard"),
	}
}

// RequestAlert atomically checks for an open alert on the same condition key
// and either suppresses the request or persists a new alert and notifies
// observers. The decision is based on committed store state only.
func (g *Guard) RequestAlert(ctx context.Context, req Request) (Outcome, error) {
	if req.AssetID == "" || req.ConditionKey == "" {
		return Outcome{}, fmt.Errorf("alert request missing asset or condition key")
	}

	lock := &g.locks[shardFor(req.AssetID, req.ConditionKey)]
	lock.Lock()
	defer lock.Unlock()

	existing, err := g.store.FindOpenByCondition(ctx, req.AssetID, req.ConditionKey)
	if err != nil {
		return Outcome{}, err
	}
	if existing != nil {
		alertsSuppressed.Inc()
		g.logger.Debug("suppressed duplicate alert",
			"asset", req.AssetID, "condition", req.ConditionKey,
			"requested_by", req.Type, "open_alert", existing.ID)
		return Outcome{Created: false, Alert: existing}, nil
	}

	alert := &model.Alert{
		AlertType:    req.Type,
		Severity:     req.Severity,
		AssetID:      req.AssetID,
		ConditionKey: req.ConditionKey,
		Message:      req.Message,
	}
	if err := g.store.Create(ctx, alert); err != nil {
		return Outcome{}, err
	}
	alertsCreated.WithLabelValues(string(req.Type)).Inc()
	g.logger.Info("alert created",
		"id", alert.ID, "asset", alert.AssetID, "condition", alert.ConditionKey,
		"type", alert.AlertType, "severity", alert.Severity)

	if g.broadcaster != nil {
		g.broadcaster.Notify(NotificationFor(*alert))
	}
	return Outcome{Created: true, Alert: alert}, nil
}

func shardFor(assetID, conditionKey string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(assetID))
	h.Write([]byte{'|'})
	h.Write([]byte(conditionKey))
	return h.Sum32() % lockShards
}
