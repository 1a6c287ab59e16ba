package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/agrovista/agromonitor/pkg/model"
	"github.com/agrovista/agromonitor/pkg/notify"
	"github.com/agrovista/agromonitor/pkg/storage"
)

// Candidate describes a crossed threshold awaiting alert creation.
type Candidate struct {
	ProjectID         string
	PlannedResourceID string
	Kind              model.AlertKind
	Severity          model.Severity
	Message           string
	Context           map[string]any
}

// Manager creates, deduplicates, and transitions alerts.
type Manager struct {
	storage   storage.Storage
	notifiers []notify.Notifier
	logger    *slog.Logger
}

// NewManager creates an alert manager. Notifiers receive an event for every
// created alert; their failures are logged and never propagated.
func NewManager(store storage.Storage, notifiers []notify.Notifier, logger *slog.Logger) *Manager {
	return &Manager{
		storage:   store,
		notifiers: notifiers,
		logger:    logger,
	}
}

// Create persists an alert for the candidate. Returns (nil, nil) when an
// active alert for the same (project, resource, kind) already exists, which
// makes repeated evaluation idempotent.
func (m *Manager) Create(ctx context.Context, cand Candidate) (*model.Alert, error) {
	existing, err := m.storage.FindActiveAlert(ctx, cand.ProjectID, cand.PlannedResourceID, cand.Kind)
	if err != nil {
		return nil, fmt.Errorf("check active alert: %w", err)
	}
	if existing != nil {
		return nil, nil
	}

	alert := &model.Alert{
		ProjectID:         cand.ProjectID,
		PlannedResourceID: cand.PlannedResourceID,
		Kind:              cand.Kind,
		Severity:          cand.Severity,
		Message:           cand.Message,
		Context:           cand.Context,
		State:             model.StateActive,
		GeneratedAt:       time.Now().UTC(),
	}

	if err := m.storage.InsertAlert(ctx, alert); err != nil {
		// A racing evaluation created the alert first.
		if errors.Is(err, model.ErrDuplicateAlert) {
			return nil, nil
		}
		return nil, fmt.Errorf("insert alert: %w", err)
	}

	m.logger.Warn("alert created",
		"alert", alert.ID,
		"project", alert.ProjectID,
		"resource", alert.PlannedResourceID,
		"kind", alert.Kind,
		"severity", alert.Severity,
	)

	m.dispatch(ctx, alert)
	return alert, nil
}

// Transition moves an alert to a new lifecycle state. Terminal transitions
// stamp the resolver and timestamp. The stored state is checked optimistically:
// a concurrent transition makes this one fail rather than silently overwrite.
func (m *Manager) Transition(ctx context.Context, alertID string, next model.AlertState, actorID, note string) (*model.Alert, error) {
	if !next.Valid() {
		return nil, &model.ValidationError{Field: "state", Message: fmt.Sprintf("unknown state %q", next)}
	}

	alert, err := m.storage.GetAlert(ctx, alertID)
	if err != nil {
		return nil, err
	}

	if !alert.State.CanTransitionTo(next) {
		return nil, &model.InvalidTransitionError{From: alert.State, To: next}
	}

	from := alert.State
	alert.State = next
	if note != "" {
		alert.Note = note
	}
	if next.Terminal() {
		now := time.Now().UTC()
		alert.ResolvedAt = &now
		alert.ResolvedBy = actorID
	}

	ok, err := m.storage.UpdateAlertState(ctx, alert, from)
	if err != nil {
		return nil, fmt.Errorf("transition alert: %w", err)
	}
	if !ok {
		// Lost the race; report against the state that actually won.
		current, err := m.storage.GetAlert(ctx, alertID)
		if err != nil {
			return nil, err
		}
		return nil, &model.InvalidTransitionError{From: current.State, To: next}
	}

	m.logger.Info("alert transitioned",
		"alert", alert.ID,
		"from", from,
		"to", next,
		"actor", actorID,
	)
	return alert, nil
}

func (m *Manager) dispatch(ctx context.Context, alert *model.Alert) {
	event := notify.Event{Kind: "alert_created", Alert: alert}
	for _, notifier := range m.notifiers {
		if err := notifier.Send(ctx, event); err != nil {
			m.logger.Error("alert relay failed",
				"notifier", notifier.Name(),
				"alert", alert.ID,
				"error", err,
			)
		}
	}
}
