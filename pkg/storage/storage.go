package storage

import (
	"context"

	"github.com/agrovista/agromonitor/pkg/model"
)

// Storage defines the persistence layer for the monitoring engine.
type Storage interface {
	// PutPlannedResource creates or replaces a planned resource in the local
	// registry mirror. The plan itself is owned by an external system.
	PutPlannedResource(ctx context.Context, res *model.PlannedResource) error

	// GetPlannedResource retrieves a planned resource by id. Returns
	// model.ErrResourceNotFound when it does not exist.
	GetPlannedResource(ctx context.Context, id string) (*model.PlannedResource, error)

	// ListPlannedResources returns resources for a project, or all resources
	// when projectID is empty. Used by the periodic sweep.
	ListPlannedResources(ctx context.Context, projectID string) ([]model.PlannedResource, error)

	// AppendConsumption atomically checks the cumulative total and inserts
	// the record. The check and insert run in one transaction: when the new
	// total would exceed the limit (or drop below zero for adjustments) it
	// returns *model.OverconsumptionError and writes nothing.
	AppendConsumption(ctx context.Context, record *model.ConsumptionRecord, limit float64) error

	// ConsumedTotal returns the cumulative consumed quantity for a resource.
	ConsumedTotal(ctx context.Context, plannedResourceID string) (float64, error)

	// ListConsumption retrieves consumption records matching the filter,
	// newest first.
	ListConsumption(ctx context.Context, filter model.ConsumptionFilter) ([]model.ConsumptionRecord, error)

	// UpsertThreshold creates a threshold or, when one already exists for the
	// same (resource type, project, kind) scope, overwrites its trigger
	// fields instead of creating a duplicate.
	UpsertThreshold(ctx context.Context, t *model.Threshold) error

	// ListThresholds returns thresholds matching the filter. Scoped filters
	// also include wildcard thresholds that could apply to the scope.
	ListThresholds(ctx context.Context, filter model.ThresholdFilter) ([]model.Threshold, error)

	// InsertAlert persists a new alert in the active state. Returns
	// model.ErrDuplicateAlert when an active alert for the same
	// (project, resource, kind) already exists.
	InsertAlert(ctx context.Context, alert *model.Alert) error

	// GetAlert retrieves an alert by id. Returns model.ErrAlertNotFound when
	// it does not exist.
	GetAlert(ctx context.Context, id string) (*model.Alert, error)

	// FindActiveAlert returns the active alert for the tuple, or nil.
	FindActiveAlert(ctx context.Context, projectID, plannedResourceID string, kind model.AlertKind) (*model.Alert, error)

	// ListAlerts retrieves alerts matching the filter, most severe and
	// newest first.
	ListAlerts(ctx context.Context, filter model.AlertFilter) ([]model.Alert, error)

	// UpdateAlertState transitions an alert with an optimistic state check:
	// the update applies only while the stored state still equals fromState.
	// Returns false without error when another writer got there first.
	UpdateAlertState(ctx context.Context, alert *model.Alert, fromState model.AlertState) (bool, error)

	// EnsurePreference returns the user's notification preference, inserting
	// the documented defaults first when none exists. Idempotent.
	EnsurePreference(ctx context.Context, userID string) (*model.NotificationPreference, error)

	// SavePreference overwrites a user's notification preference.
	SavePreference(ctx context.Context, pref *model.NotificationPreference) error

	// Close releases resources.
	Close() error
}
