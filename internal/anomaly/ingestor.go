// Package anomaly receives externally computed anomaly events and feeds them
// into the alert pipeline. How the scores are computed is the detector
// collaborator's business; this side only classifies and forwards.
package anomaly

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/GRID-Lords/digital-twin-opendss-sub000/internal/alerting"
	"github.com/GRID-Lords/digital-twin-opendss-sub000/internal/model"
)

// ErrIncompleteEvent is returned when an event lacks the asset or condition
// identity needed to key an alert.
var ErrIncompleteEvent = errors.New("anomaly event missing asset_id or anomaly_type")

// Ingestor submits anomaly events through the deduplication guard, on the
// same path the threshold monitor uses.
type Ingestor struct {
	guard  *alerting.Guard
	logger *slog.Logger
}

func NewIngestor(guard *alerting.Guard, logger *slog.Logger) *Ingestor {
	return &Ingestor{guard: guard, logger: logger.With("component", "anomaly_ingestor")}
}

// Event is one anomaly reported by the detection collaborator.
type Event struct {
	AssetID        string `json:"asset_id"`
	ConditionLabel string `json:"anomaly_type"`
	Severity       string `json:"severity"`
	Description    string `json:"description"`
}

// Ingest raises an anomaly alert request for the event's condition. A request
// suppressed by an already-open alert for the same (asset, condition) is a
// normal outcome, reported in the returned outcome rather than as an error.
func (i *Ingestor) Ingest(ctx context.Context, ev Event) (alerting.Outcome, error) {
	if ev.AssetID == "" || ev.ConditionLabel == "" {
		return alerting.Outcome{}, ErrIncompleteEvent
	}

	message := ev.Description
	if message == "" {
		message = fmt.Sprintf("Anomaly %s detected on %s", ev.ConditionLabel, ev.AssetID)
	}

	outcome, err := i.guard.RequestAlert(ctx, alerting.Request{
		AssetID:      ev.AssetID,
		ConditionKey: ev.ConditionLabel,
		Type:         model.AlertTypeAnomaly,
		Severity:     model.ParseSeverity(ev.Severity),
		Message:      message,
	})
	if err != nil {
		return alerting.Outcome{}, fmt.Errorf("ingesting anomaly %s/%s: %w", ev.AssetID, ev.ConditionLabel, err)
	}
	if !outcome.Created {
		i.logger.Debug("anomaly event suppressed by open alert",
			"asset", ev.AssetID, "condition", ev.ConditionLabel)
	}
	return outcome, nil
}
