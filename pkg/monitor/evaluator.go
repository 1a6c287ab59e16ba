package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/agrovista/agromonitor/pkg/model"
	"github.com/agrovista/agromonitor/pkg/storage"
)

// Snapshot is the computed consumption state of a planned resource. The
// dashboard classifications are informational; alerts come only from
// configured thresholds.
type Snapshot struct {
	Resource         model.PlannedResource  `json:"resource"`
	ConsumedQuantity float64                `json:"consumed_quantity"`
	ConsumptionPct   float64                `json:"consumption_pct"`
	PlannedCost      float64                `json:"planned_cost"`
	ConsumedCost     float64                `json:"consumed_cost"`
	CostPct          float64                `json:"cost_pct"`
	DaysRemaining    *int                   `json:"days_remaining,omitempty"`
	Level            model.ConsumptionLevel `json:"level"`
	TemporalStatus   model.TemporalStatus   `json:"temporal_status"`
}

// ProjectSummary is the dashboard view of a whole project.
type ProjectSummary struct {
	ProjectID    string        `json:"project_id"`
	Resources    []Snapshot    `json:"resources"`
	Stats        ProjectStats  `json:"statistics"`
	ActiveAlerts []model.Alert `json:"active_alerts"`
}

// ProjectStats aggregates consumption across a project's resources.
type ProjectStats struct {
	TotalResources int     `json:"total_resources"`
	TotalPlanned   float64 `json:"total_planned"`
	TotalConsumed  float64 `json:"total_consumed"`
	AveragePct     float64 `json:"average_pct"`
	PlannedCost    float64 `json:"planned_cost"`
	ConsumedCost   float64 `json:"consumed_cost"`
}

// Evaluator matches resource consumption state against configured thresholds
// and hands crossed ones to the alert manager.
type Evaluator struct {
	storage storage.Storage
	manager *Manager
	now     func() time.Time
	logger  *slog.Logger
}

// NewEvaluator creates an evaluator. now may be nil to use the wall clock.
func NewEvaluator(store storage.Storage, manager *Manager, now func() time.Time, logger *slog.Logger) *Evaluator {
	if now == nil {
		now = time.Now
	}
	return &Evaluator{
		storage: store,
		manager: manager,
		now:     now,
		logger:  logger,
	}
}

// EvaluateResource evaluates a single resource and returns the alerts it
// created. Deduplicated candidates create nothing, so re-running after a
// retry is safe.
func (e *Evaluator) EvaluateResource(ctx context.Context, plannedResourceID string) ([]*model.Alert, error) {
	res, err := e.storage.GetPlannedResource(ctx, plannedResourceID)
	if err != nil {
		return nil, err
	}
	return e.evaluate(ctx, res)
}

// EvaluateProject re-evaluates every resource of a project. A failing
// resource is logged and skipped so one bad row cannot stall the rest.
func (e *Evaluator) EvaluateProject(ctx context.Context, projectID string) ([]*model.Alert, error) {
	resources, err := e.storage.ListPlannedResources(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("list resources: %w", err)
	}

	var created []*model.Alert
	for i := range resources {
		alerts, err := e.evaluate(ctx, &resources[i])
		if err != nil {
			e.logger.Error("resource evaluation failed",
				"resource", resources[i].ID,
				"error", err,
			)
			continue
		}
		created = append(created, alerts...)
	}
	return created, nil
}

// Sweep re-evaluates all resources across all projects. It is the periodic
// entry point for time-based thresholds that no write event drives.
func (e *Evaluator) Sweep(ctx context.Context) ([]*model.Alert, error) {
	return e.EvaluateProject(ctx, "")
}

// Snapshot computes the consumption state of one resource.
func (e *Evaluator) Snapshot(ctx context.Context, res *model.PlannedResource) (*Snapshot, error) {
	consumed, err := e.storage.ConsumedTotal(ctx, res.ID)
	if err != nil {
		return nil, fmt.Errorf("consumed total: %w", err)
	}

	snap := &Snapshot{
		Resource:         *res,
		ConsumedQuantity: consumed,
		PlannedCost:      res.PlannedCost(),
		ConsumedCost:     consumed * res.UnitCost,
		TemporalStatus:   model.TemporalUndated,
	}
	if res.PlannedQuantity > 0 {
		snap.ConsumptionPct = consumed / res.PlannedQuantity * 100
	}
	if snap.PlannedCost > 0 {
		snap.CostPct = snap.ConsumedCost / snap.PlannedCost * 100
	}
	snap.Level = model.ClassifyConsumption(snap.ConsumptionPct)
	if res.EndDate != nil {
		days := model.DaysRemaining(*res.EndDate, e.now())
		snap.DaysRemaining = &days
		snap.TemporalStatus = model.ClassifyDeadline(days)
	}
	return snap, nil
}

// ProjectConsumption builds the dashboard summary for a project: per-resource
// snapshots sorted worst first, aggregate statistics, and the ten most
// urgent active alerts.
func (e *Evaluator) ProjectConsumption(ctx context.Context, projectID string) (*ProjectSummary, error) {
	resources, err := e.storage.ListPlannedResources(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("list resources: %w", err)
	}

	summary := &ProjectSummary{ProjectID: projectID}
	for i := range resources {
		snap, err := e.Snapshot(ctx, &resources[i])
		if err != nil {
			return nil, err
		}
		summary.Resources = append(summary.Resources, *snap)

		summary.Stats.TotalResources++
		summary.Stats.TotalPlanned += snap.Resource.PlannedQuantity
		summary.Stats.TotalConsumed += snap.ConsumedQuantity
		summary.Stats.AveragePct += snap.ConsumptionPct
		summary.Stats.PlannedCost += snap.PlannedCost
		summary.Stats.ConsumedCost += snap.ConsumedCost
	}
	if summary.Stats.TotalResources > 0 {
		summary.Stats.AveragePct /= float64(summary.Stats.TotalResources)
	}

	sort.SliceStable(summary.Resources, func(i, j int) bool {
		a, b := summary.Resources[i], summary.Resources[j]
		if a.ConsumptionPct != b.ConsumptionPct {
			return a.ConsumptionPct > b.ConsumptionPct
		}
		return daysOrInf(a.DaysRemaining) < daysOrInf(b.DaysRemaining)
	})

	alerts, err := e.storage.ListAlerts(ctx, model.AlertFilter{
		ProjectID: projectID,
		State:     model.StateActive,
		Limit:     10,
	})
	if err != nil {
		return nil, fmt.Errorf("list active alerts: %w", err)
	}
	summary.ActiveAlerts = alerts

	return summary, nil
}

func (e *Evaluator) evaluate(ctx context.Context, res *model.PlannedResource) ([]*model.Alert, error) {
	snap, err := e.Snapshot(ctx, res)
	if err != nil {
		return nil, err
	}

	thresholds, err := e.storage.ListThresholds(ctx, model.ThresholdFilter{
		ProjectID:      res.ProjectID,
		ResourceTypeID: res.ResourceTypeID,
	})
	if err != nil {
		return nil, fmt.Errorf("list thresholds: %w", err)
	}

	var created []*model.Alert
	for _, kind := range model.KnownKinds {
		th := model.ResolveThreshold(thresholds, kind, res.ResourceTypeID, res.ProjectID)
		if th == nil {
			continue
		}

		cand, crossed := e.buildCandidate(snap, th)
		if !crossed {
			continue
		}

		alert, err := e.manager.Create(ctx, cand)
		if err != nil {
			return created, fmt.Errorf("create %s alert: %w", kind, err)
		}
		if alert != nil {
			created = append(created, alert)
		}
	}
	return created, nil
}

// buildCandidate checks one resolved threshold against the snapshot and, when
// crossed, describes the alert to create.
func (e *Evaluator) buildCandidate(snap *Snapshot, th *model.Threshold) (Candidate, bool) {
	res := &snap.Resource
	cand := Candidate{
		ProjectID:         res.ProjectID,
		PlannedResourceID: res.ID,
		Kind:              th.Kind,
		Context: map[string]any{
			"threshold_id":      th.ID,
			"consumed_quantity": snap.ConsumedQuantity,
			"planned_quantity":  res.PlannedQuantity,
			"consumption_pct":   snap.ConsumptionPct,
		},
	}

	switch th.Kind {
	case model.KindExhaustion:
		if snap.ConsumptionPct < th.Percent {
			return cand, false
		}
		cand.Severity = severityFor(th, model.SeverityForLevel(snap.Level))
		cand.Message = fmt.Sprintf("Resource %q reached %.1f%% of planned quantity (%.3f of %.3f %s)",
			res.Name, snap.ConsumptionPct, snap.ConsumedQuantity, res.PlannedQuantity, res.Unit)

	case model.KindCostOverrun:
		if snap.PlannedCost <= 0 || snap.CostPct < th.Percent {
			return cand, false
		}
		cand.Context["consumed_cost"] = snap.ConsumedCost
		cand.Context["planned_cost"] = snap.PlannedCost
		cand.Severity = severityFor(th, model.SeverityForLevel(model.ClassifyConsumption(snap.CostPct)))
		cand.Message = fmt.Sprintf("Resource %q consumed cost is %.1f%% of plan (%.2f of %.2f)",
			res.Name, snap.CostPct, snap.ConsumedCost, snap.PlannedCost)

	case model.KindDelay, model.KindReassignment:
		if snap.DaysRemaining == nil || *snap.DaysRemaining > th.Days {
			return cand, false
		}
		remaining := res.PlannedQuantity - snap.ConsumedQuantity
		if th.Kind == model.KindReassignment && th.MinQuantity > 0 && remaining < th.MinQuantity {
			// Too little left to be worth reassigning.
			return cand, false
		}
		cand.Context["days_remaining"] = *snap.DaysRemaining
		cand.Context["remaining_quantity"] = remaining
		cand.Severity = severityFor(th, severityForDeadline(snap.TemporalStatus))
		if th.Kind == model.KindDelay {
			cand.Message = fmt.Sprintf("Resource %q usage window ends in %d day(s) with %.1f%% consumed",
				res.Name, *snap.DaysRemaining, snap.ConsumptionPct)
		} else {
			cand.Message = fmt.Sprintf("Resource %q has %.3f %s unconsumed with %d day(s) left",
				res.Name, remaining, res.Unit, *snap.DaysRemaining)
		}

	default:
		return cand, false
	}

	return cand, true
}

// severityFor prefers the threshold's configured severity and falls back to
// the ratio-derived one.
func severityFor(th *model.Threshold, derived model.Severity) model.Severity {
	if th.Severity != "" {
		return th.Severity
	}
	return derived
}

func severityForDeadline(status model.TemporalStatus) model.Severity {
	switch status {
	case model.TemporalOverdue:
		return model.SeverityCritical
	case model.TemporalDueSoon:
		return model.SeverityHigh
	case model.TemporalWatch:
		return model.SeverityMedium
	default:
		return model.SeverityLow
	}
}

func daysOrInf(d *int) int {
	if d == nil {
		return int(^uint(0) >> 1)
	}
	return *d
}
