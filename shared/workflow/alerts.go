package workflow

import "strings"

const (
	AlertStatusActive       = "active"
	AlertStatusAcknowledged = "acknowledged"
	AlertStatusResolved     = "resolved"
	AlertStatusSuppressed   = "suppressed"
)

const (
	AlertEventCreated      = "alert_created"
	AlertEventAcknowledged = "alert_acknowledged"
	AlertEventResolved     = "alert_resolved"
	AlertEventSuppressed   = "alert_suppressed"
)

const (
	SeverityInfo      = "info"
	SeverityWarning   = "warning"
	SeverityCritical  = "critical"
	SeverityEmergency = "emergency"
)

var alertTransitions = map[string]map[string]string{
	AlertStatusActive: {
		AlertStatusAcknowledged: AlertEventAcknowledged,
		AlertStatusResolved:     AlertEventResolved,
		AlertStatusSuppressed:   AlertEventSuppressed,
	},
	AlertStatusAcknowledged: {
		AlertStatusResolved: AlertEventResolved,
	},
}

func NormalizeStatus(status string) string {
	return strings.ToLower(strings.TrimSpace(status))
}

func CanTransition(fromStatus string, toStatus string) bool {
	fromStatus = NormalizeStatus(fromStatus)
	toStatus = NormalizeStatus(toStatus)
	if fromStatus == toStatus {
		return true
	}
	next := alertTransitions[fromStatus]
	if next == nil {
		return false
	}
	_, ok := next[toStatus]
	return ok
}

func EventTypeForTransition(fromStatus string, toStatus string) string {
	fromStatus = NormalizeStatus(fromStatus)
	toStatus = NormalizeStatus(toStatus)
	if fromStatus == toStatus {
		return ""
	}
	next := alertTransitions[fromStatus]
	if next == nil {
		return ""
	}
	return next[toStatus]
}

func IsTerminal(status string) bool {
	status = NormalizeStatus(status)
	return status == AlertStatusResolved || status == AlertStatusSuppressed
}

func AllAlertStatuses() []string {
	return []string{
		AlertStatusActive,
		AlertStatusAcknowledged,
		AlertStatusResolved,
		AlertStatusSuppressed,
	}
}

func ValidSeverity(severity string) bool {
	switch NormalizeStatus(severity) {
	case SeverityInfo, SeverityWarning, SeverityCritical, SeverityEmergency:
		return true
	}
	return false
}
