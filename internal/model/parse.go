package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// measurementPayload is the wire shape pushed by the simulation/SCADA feed.
// Metrics is kept flexible because different translators report different
// metric sets per asset.
type measurementPayload struct {
	Timestamp string                 `json:"timestamp"`
	AssetID   string                 `json:"asset_id"`
	Metrics   map[string]interface{} `json:"metrics"`
}

// ParseMeasurements decodes an ingest payload into metric samples. Non-numeric
// metric values are skipped; a missing timestamp defaults to the receive time.
func ParseMeasurements(raw []byte, now time.Time) ([]MetricSample, error) {
	var payload measurementPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decoding measurement payload: %w", err)
	}
	if payload.AssetID == "" {
		return nil, fmt.Errorf("measurement payload missing asset_id")
	}
	if len(payload.Metrics) == 0 {
		return nil, fmt.Errorf("measurement payload for %s carries no metrics", payload.AssetID)
	}

	ts := now
	if payload.Timestamp != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, payload.Timestamp); err == nil {
			ts = parsed
		}
	}

	samples := make([]MetricSample, 0, len(payload.Metrics))
	for name, value := range payload.Metrics {
		v, ok := numeric(value)
		if !ok {
			continue
		}
		samples = append(samples, MetricSample{
			MetricKey: name,
			AssetID:   payload.AssetID,
			Value:     v,
			Timestamp: ts,
		})
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("measurement payload for %s carries no numeric metrics", payload.AssetID)
	}
	return samples, nil
}

func numeric(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
