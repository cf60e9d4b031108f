package config

import (
	"os"
	"strings"
)

// EscalationSchedulerEnabled controls whether the periodic sanction scan runs
// in this process. Disable it when ticks are driven by an external job runner
// or when running more than one replica without the redis lock available.
//
// Set via env:
// - ESCALATION_SCHEDULER_ENABLED=false
func EscalationSchedulerEnabled() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("ESCALATION_SCHEDULER_ENABLED")))
	if v == "" {
		return true
	}
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

// NotificationDispatchEnabled controls the background notification dispatcher.
//
// Set via env:
// - NOTIFICATION_DISPATCH_ENABLED=false
func NotificationDispatchEnabled() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("NOTIFICATION_DISPATCH_ENABLED")))
	if v == "" {
		return true
	}
	return v == "1" || v == "true" || v == "yes" || v == "y"
}
