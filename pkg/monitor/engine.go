package monitor

import (
	"context"
	"log/slog"

	"github.com/agrovista/agromonitor/pkg/model"
	"github.com/agrovista/agromonitor/pkg/notify"
	"github.com/agrovista/agromonitor/pkg/storage"
)

// Engine bundles the monitoring components wired over one storage backend.
type Engine struct {
	Storage   storage.Storage
	Recorder  *Recorder
	Evaluator *Evaluator
	Alerts    *Manager
	Filter    *Filter
	Access    AccessChecker
}

// NewEngine wires the recorder, evaluator, alert manager, and notification
// filter together. access may be nil to allow every user.
func NewEngine(store storage.Storage, notifiers []notify.Notifier, access AccessChecker, logger *slog.Logger) *Engine {
	if access == nil {
		access = AllowAll{}
	}
	manager := NewManager(store, notifiers, logger)
	evaluator := NewEvaluator(store, manager, nil, logger)
	return &Engine{
		Storage:   store,
		Recorder:  NewRecorder(store, evaluator, access, logger),
		Evaluator: evaluator,
		Alerts:    manager,
		Filter:    NewFilter(store, logger),
		Access:    access,
	}
}

// SetThreshold validates a threshold and upserts it by scope and kind.
// Updating an existing scoped threshold overwrites its trigger fields rather
// than creating a duplicate.
func (e *Engine) SetThreshold(ctx context.Context, t *model.Threshold) error {
	if err := model.ValidateThreshold(t); err != nil {
		return err
	}
	return e.Storage.UpsertThreshold(ctx, t)
}
