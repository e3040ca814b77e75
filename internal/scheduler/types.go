// Package scheduler implements the scheduled maintenance jobs of the billing
// service.
//
// EventBridge rules invoke the maintenance Lambda with a MaintenancePayload;
// the TaskType selects the job.
package scheduler

import "time"

// TaskType identifies which maintenance job should run.
type TaskType string

const (
	// TaskSyncStripe re-reads stale subscriptions from the provider to
	// repair state left behind by missed or failed webhook deliveries.
	TaskSyncStripe TaskType = "sync_stripe"

	// TaskMigrate applies pending database migrations.
	TaskMigrate TaskType = "migrate"
)

// MaintenancePayload is the event sent to the maintenance function:
//
//	{
//	  "task": "sync_stripe",
//	  "reference_time": "2026-10-01T03:00:00Z"  // optional
//	}
type MaintenancePayload struct {
	Task TaskType `json:"task"`

	// ReferenceTime overrides "now" for manual runs and backfills.
	ReferenceTime *time.Time `json:"reference_time,omitempty"`
}
