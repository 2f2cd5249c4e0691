package scheduler

import "fmt"

// Job names.
const (
	JobRefreshPlatformTokens = "refresh_platform_tokens"
	JobPruneAuditEvents      = "prune_audit_events"
	JobExpireSubscriptions   = "expire_subscriptions"
	JobPurgeOAuthStates      = "purge_oauth_states"
	JobFailAbandonedUploads  = "fail_abandoned_uploads"
)

// Maintenance holds the periodic tasks. Nil tasks are not scheduled.
type Maintenance struct {
	RefreshPlatformTokens Task
	PruneAuditEvents      Task
	ExpireSubscriptions   Task
	PurgeOAuthStates      Task
	FailAbandonedUploads  Task
}

var maintenanceSpecs = []struct {
	name string
	spec string
	task func(Maintenance) Task
}{
	{JobRefreshPlatformTokens, "@every 5m", func(m Maintenance) Task { return m.RefreshPlatformTokens }},
	{JobPruneAuditEvents, "@daily", func(m Maintenance) Task { return m.PruneAuditEvents }},
	{JobExpireSubscriptions, "@hourly", func(m Maintenance) Task { return m.ExpireSubscriptions }},
	{JobPurgeOAuthStates, "@every 10m", func(m Maintenance) Task { return m.PurgeOAuthStates }},
	{JobFailAbandonedUploads, "@every 15m", func(m Maintenance) Task { return m.FailAbandonedUploads }},
}

// RegisterMaintenance schedules the non-nil maintenance tasks.
func RegisterMaintenance(s *Scheduler, m Maintenance) error {
	for _, spec := range maintenanceSpecs {
		task := spec.task(m)
		if task == nil {
			continue
		}
		if err := s.Register(spec.name, spec.spec, task); err != nil {
			return fmt.Errorf("register %s: %w", spec.name, err)
		}
	}
	return nil
}
