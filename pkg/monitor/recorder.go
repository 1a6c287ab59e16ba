package monitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/agrovista/agromonitor/pkg/model"
	"github.com/agrovista/agromonitor/pkg/storage"
)

// AccessChecker answers whether a user may act on a project. Role and
// ownership logic lives outside this engine.
type AccessChecker interface {
	CanAccess(ctx context.Context, userID, projectID string) (bool, error)
}

// AllowAll grants every user access to every project. It is the default when
// no external access policy is wired in.
type AllowAll struct{}

func (AllowAll) CanAccess(context.Context, string, string) (bool, error) { return true, nil }

// RecordInput carries a consumption record request.
type RecordInput struct {
	PlannedResourceID string    `json:"planned_resource_id"`
	Quantity          float64   `json:"quantity"`
	Date              time.Time `json:"date"`
	Note              string    `json:"note,omitempty"`
}

// Recorder appends consumption records against planned resources, enforcing
// the non-overconsumption invariant, and triggers threshold evaluation after
// each successful write.
type Recorder struct {
	storage   storage.Storage
	evaluator *Evaluator
	access    AccessChecker
	logger    *slog.Logger
}

// NewRecorder creates a recorder. The evaluator may be nil, in which case
// writes are recorded without triggering evaluation.
func NewRecorder(store storage.Storage, evaluator *Evaluator, access AccessChecker, logger *slog.Logger) *Recorder {
	if access == nil {
		access = AllowAll{}
	}
	return &Recorder{
		storage:   store,
		evaluator: evaluator,
		access:    access,
		logger:    logger,
	}
}

// Record validates and persists a consumption record. The overconsumption
// check and the insert are atomic in storage. A failed evaluation after the
// committed write degrades alert freshness but never rolls the write back.
func (r *Recorder) Record(ctx context.Context, userID string, in RecordInput) (*model.ConsumptionRecord, error) {
	if err := validateRecordInput(&in); err != nil {
		return nil, err
	}

	res, err := r.storage.GetPlannedResource(ctx, in.PlannedResourceID)
	if err != nil {
		return nil, err
	}

	ok, err := r.access.CanAccess(ctx, userID, res.ProjectID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, model.ErrAccessDenied
	}

	record := &model.ConsumptionRecord{
		PlannedResourceID: res.ID,
		Quantity:          in.Quantity,
		Date:              in.Date,
		Note:              in.Note,
		RecordedBy:        userID,
	}

	if err := r.storage.AppendConsumption(ctx, record, res.PlannedQuantity); err != nil {
		return nil, err
	}

	r.logger.Info("consumption recorded",
		"resource", res.ID,
		"project", res.ProjectID,
		"quantity", in.Quantity,
		"recorded_by", userID,
	)

	if r.evaluator != nil {
		if _, evalErr := r.evaluator.EvaluateResource(ctx, res.ID); evalErr != nil {
			r.logger.Error("threshold evaluation failed, alerting degraded",
				"resource", res.ID,
				"error", evalErr,
			)
		}
	}

	return record, nil
}

func validateRecordInput(in *RecordInput) error {
	var errs model.ValidationErrors
	if in.PlannedResourceID == "" {
		errs = append(errs, model.ValidationError{Field: "planned_resource_id", Message: "required"})
	}
	if in.Quantity == 0 {
		errs = append(errs, model.ValidationError{Field: "quantity", Message: "must not be zero"})
	}
	if len(in.Note) > 500 {
		errs = append(errs, model.ValidationError{Field: "note", Message: "must be at most 500 characters"})
	}
	if in.Date.IsZero() {
		in.Date = time.Now().UTC().Truncate(24 * time.Hour)
	}
	return errs.ErrOrNil()
}
