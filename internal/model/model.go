// Package model defines the domain types shared across the monitoring
// pipeline: measurement samples, thresholds, alerts and their lifecycle,
// notifications, rollups and trend results.
package model

import "time"

// Severity classifies how serious an alert condition is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityOrder = []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}

var severityRank = map[Severity]int{
	SeverityLow:      0,
	SeverityMedium:   1,
	SeverityHigh:     2,
	SeverityCritical: 3,
}

// ParseSeverity normalizes an externally supplied severity string. Unknown
// values degrade to medium rather than failing the ingest path.
func ParseSeverity(s string) Severity {
	sev := Severity(s)
	if _, ok := severityRank[sev]; ok {
		return sev
	}
	return SeverityMedium
}

// Escalate returns the severity raised by n steps, capped at critical.
func (s Severity) Escalate(n int) Severity {
	rank, ok := severityRank[s]
	if !ok {
		rank = severityRank[SeverityMedium]
	}
	rank += n
	if rank >= len(severityOrder) {
		rank = len(severityOrder) - 1
	}
	if rank < 0 {
		rank = 0
	}
	return severityOrder[rank]
}

// AlertType identifies which producer raised an alert.
type AlertType string

const (
	AlertTypeThreshold AlertType = "threshold"
	AlertTypeAnomaly   AlertType = "anomaly"
	AlertTypeManual    AlertType = "manual"
)

// NotificationType drives how the dashboard presents a notification.
type NotificationType string

const (
	NotificationCritical NotificationType = "critical"
	NotificationMedium   NotificationType = "medium"
	NotificationInfo     NotificationType = "info"
)

// MetricSample is one measurement for one asset metric. Immutable once
// written; produced continuously by the simulation/SCADA feed.
type MetricSample struct {
	ID        uint      `json:"-" gorm:"primaryKey"`
	MetricKey string    `json:"metric_key" gorm:"not null;index:idx_samples_metric_ts,priority:1"`
	AssetID   string    `json:"asset_id" gorm:"index"`
	Value     float64   `json:"value" gorm:"not null"`
	Timestamp time.Time `json:"timestamp" gorm:"not null;index:idx_samples_metric_ts,priority:2"`
}

func (MetricSample) TableName() string { return "metric_samples" }

// Threshold is an operator-configured min/max band for one asset metric.
// The monitor treats it as read-only; mutation happens through the config API.
type Threshold struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	AssetID     string    `json:"asset_id" gorm:"not null;uniqueIndex:idx_threshold_asset_metric,priority:1"`
	AssetName   string    `json:"asset_name"`
	AssetType   string    `json:"asset_type"`
	MetricKey   string    `json:"metric_key" gorm:"not null;uniqueIndex:idx_threshold_asset_metric,priority:2"`
	MetricUnit  string    `json:"metric_unit"`
	Min         float64   `json:"min"`
	Max         float64   `json:"max"`
	Severity    Severity  `json:"severity" gorm:"default:medium"`
	Enabled     bool      `json:"enabled" gorm:"default:true;index"`
	Description string    `json:"description"`
}

func (Threshold) TableName() string { return "threshold_config" }

// Alert is the durable record of a detected condition. Lifecycle:
// created -> (optionally) acknowledged -> resolved. An alert is open while
// Resolved is false, and at most one open alert exists per condition key.
type Alert struct {
	ID           string     `json:"id" gorm:"primaryKey"`
	Timestamp    time.Time  `json:"timestamp" gorm:"not null;index:idx_alerts_ts,sort:desc"`
	AlertType    AlertType  `json:"alert_type" gorm:"not null"`
	Severity     Severity   `json:"severity" gorm:"not null;index:idx_alerts_sev_resolved,priority:1"`
	AssetID      string     `json:"asset_id" gorm:"index"`
	ConditionKey string     `json:"condition_key" gorm:"not null;index:idx_alerts_condition"`
	Message      string     `json:"message"`
	Acknowledged bool       `json:"acknowledged" gorm:"default:false"`
	Resolved     bool       `json:"resolved" gorm:"default:false;index:idx_alerts_sev_resolved,priority:2"`
	ResolvedAt   *time.Time `json:"resolved_at,omitempty"`
}

func (Alert) TableName() string { return "alerts" }

// Open reports whether the alert still represents an active condition.
func (a *Alert) Open() bool { return !a.Resolved }

// Notification is the ephemeral message fanned out to observers for a newly
// created alert. It is never persisted.
type Notification struct {
	Type             string           `json:"type"`
	NotificationType NotificationType `json:"notification_type"`
	Alert            Alert            `json:"alert"`
}

// RollupRecord is a pre-aggregated summary of raw samples over one bucket.
type RollupRecord struct {
	ID          uint          `json:"-" gorm:"primaryKey"`
	MetricKey   string        `json:"metric_key" gorm:"not null;uniqueIndex:idx_rollup_bucket,priority:1"`
	BucketWidth time.Duration `json:"bucket_width" gorm:"not null;uniqueIndex:idx_rollup_bucket,priority:2"`
	BucketStart time.Time     `json:"bucket_start" gorm:"not null;uniqueIndex:idx_rollup_bucket,priority:3"`
	Avg         float64       `json:"avg"`
	Min         float64       `json:"min"`
	Max         float64       `json:"max"`
	Count       int64         `json:"count"`
}

func (RollupRecord) TableName() string { return "metric_rollups" }

// TrendDirection reports which way a metric moved over a comparison period.
type TrendDirection string

const (
	TrendUp     TrendDirection = "up"
	TrendDown   TrendDirection = "down"
	TrendStable TrendDirection = "stable"
)

// TrendResult carries both the raw numbers and the rendered percentage so
// callers needing either form do not recompute.
type TrendResult struct {
	CurrentValue     float64        `json:"current_value"`
	PreviousValue    float64        `json:"previous_value"`
	AbsoluteChange   float64        `json:"absolute_change"`
	PercentageChange float64        `json:"percentage_change"`
	Direction        TrendDirection `json:"direction"`
	ComparisonPeriod time.Duration  `json:"comparison_period"`
	IsSignificant    bool           `json:"is_significant"`
	Rendered         string         `json:"rendered"`
}
