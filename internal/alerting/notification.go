package alerting

import (
	"github.com/GRID-Lords/digital-twin-opendss-sub000/internal/model"
)

// NotificationFor maps an alert to its broadcast presentation. Critical
// severities and anomaly detections get the critical banner, plain threshold
// violations the medium one, anything else is informational.
func NotificationFor(alert model.Alert) model.Notification {
	return model.Notification{
		Type:             "alert_notification",
		NotificationType: classify(alert),
		Alert:            alert,
	}
}

func classify(alert model.Alert) model.NotificationType {
	switch {
	case alert.Severity == model.SeverityCritical || alert.AlertType == model.AlertTypeAnomaly:
		return model.NotificationCritical
	case alert.AlertType == model.AlertTypeThreshold:
		return model.NotificationMedium
	default:
		return model.NotificationInfo
	}
}
