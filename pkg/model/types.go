package model

import (
	"math"
	"sort"
	"time"
)

// AlertKind identifies the condition a threshold watches for.
type AlertKind string

const (
	KindExhaustion   AlertKind = "agotamiento"  // Planned quantity nearly consumed
	KindCostOverrun  AlertKind = "sobrecosto"   // Consumed cost approaching planned cost
	KindDelay        AlertKind = "retraso"      // Resource usage window about to close
	KindReassignment AlertKind = "reasignacion" // Remaining quantity should be reassigned
)

// KnownKinds lists every valid alert kind.
var KnownKinds = []AlertKind{KindExhaustion, KindCostOverrun, KindDelay, KindReassignment}

// Valid reports whether the kind is one of the known alert kinds.
func (k AlertKind) Valid() bool {
	for _, known := range KnownKinds {
		if k == known {
			return true
		}
	}
	return false
}

// DayBased reports whether the kind triggers on days remaining rather than
// a consumption percentage.
func (k AlertKind) DayBased() bool {
	return k == KindDelay || k == KindReassignment
}

// Severity grades how urgent an alert is.
type Severity string

const (
	SeverityLow      Severity = "baja"
	SeverityMedium   Severity = "media"
	SeverityHigh     Severity = "alta"
	SeverityCritical Severity = "critica"
)

// Valid reports whether the severity is recognized.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Rank orders severities for sorting; higher is more urgent.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	default:
		return 0
	}
}

// AlertState is the lifecycle state of an alert.
type AlertState string

const (
	StateActive   AlertState = "activa"
	StateRead     AlertState = "leida"
	StateResolved AlertState = "resuelta"
	StateIgnored  AlertState = "ignorada"
)

// StateAll is accepted by list filters to mean "any state".
const StateAll AlertState = "todas"

// Valid reports whether the state is a real lifecycle state.
func (s AlertState) Valid() bool {
	switch s {
	case StateActive, StateRead, StateResolved, StateIgnored:
		return true
	}
	return false
}

// Terminal reports whether the state admits no further transitions.
func (s AlertState) Terminal() bool {
	return s == StateResolved || s == StateIgnored
}

// CanTransitionTo reports whether a transition from s to next is allowed.
// Active alerts may be read, resolved, or ignored; read alerts may be
// resolved or ignored. Nothing leaves a terminal state.
func (s AlertState) CanTransitionTo(next AlertState) bool {
	if s.Terminal() || s == next {
		return false
	}
	switch s {
	case StateActive:
		return next == StateRead || next == StateResolved || next == StateIgnored
	case StateRead:
		return next == StateResolved || next == StateIgnored
	}
	return false
}

// ConsumptionLevel is the informational dashboard classification of how far
// along a resource's consumption is. It never creates alerts by itself.
type ConsumptionLevel string

const (
	LevelNormal   ConsumptionLevel = "normal"
	LevelMedium   ConsumptionLevel = "medio"
	LevelHigh     ConsumptionLevel = "alto"
	LevelCritical ConsumptionLevel = "critico"
)

// ClassifyConsumption maps a consumption percentage to a dashboard level.
func ClassifyConsumption(pct float64) ConsumptionLevel {
	switch {
	case pct >= 95:
		return LevelCritical
	case pct >= 85:
		return LevelHigh
	case pct >= 70:
		return LevelMedium
	default:
		return LevelNormal
	}
}

// SeverityForLevel maps a dashboard consumption level to the alert severity
// used when a threshold carries no explicit severity of its own.
func SeverityForLevel(level ConsumptionLevel) Severity {
	switch level {
	case LevelCritical:
		return SeverityCritical
	case LevelHigh:
		return SeverityHigh
	case LevelMedium:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// TemporalStatus is the informational classification of how close a
// resource's usage window is to its end date.
type TemporalStatus string

const (
	TemporalNormal  TemporalStatus = "normal"
	TemporalWatch   TemporalStatus = "atencion"
	TemporalDueSoon TemporalStatus = "proximo_vencer"
	TemporalOverdue TemporalStatus = "vencido"
	TemporalUndated TemporalStatus = "sin_fecha"
)

// ClassifyDeadline maps days remaining to a temporal status.
func ClassifyDeadline(daysRemaining int) TemporalStatus {
	switch {
	case daysRemaining <= 0:
		return TemporalOverdue
	case daysRemaining <= 3:
		return TemporalDueSoon
	case daysRemaining <= 7:
		return TemporalWatch
	default:
		return TemporalNormal
	}
}

// DaysRemaining returns the whole days between today and the end date,
// floored, negative when the date has passed. Both dates are compared at
// midnight UTC so time-of-day never shifts the count.
func DaysRemaining(endDate, now time.Time) int {
	end := time.Date(endDate.Year(), endDate.Month(), endDate.Day(), 0, 0, 0, 0, time.UTC)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return int(math.Floor(end.Sub(today).Hours() / 24))
}

// DigestFrequency controls how often a user receives alert summaries.
type DigestFrequency string

const (
	DigestNever  DigestFrequency = "nunca"
	DigestDaily  DigestFrequency = "diario"
	DigestWeekly DigestFrequency = "semanal"
)

// Valid reports whether the frequency is recognized.
func (f DigestFrequency) Valid() bool {
	switch f {
	case DigestNever, DigestDaily, DigestWeekly:
		return true
	}
	return false
}

// PlannedResource is an allocation of a resource type to a project phase.
// It is owned by the plan registry; the monitoring engine only reads it.
type PlannedResource struct {
	ID              string     `json:"id"`
	ProjectID       string     `json:"project_id"`
	PhaseID         string     `json:"phase_id"`
	ResourceTypeID  string     `json:"resource_type_id"`
	Name            string     `json:"name"`
	Unit            string     `json:"unit"`
	PlannedQuantity float64    `json:"planned_quantity"`
	UnitCost        float64    `json:"unit_cost"`
	StartDate       *time.Time `json:"start_date,omitempty"`
	EndDate         *time.Time `json:"end_date,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// PlannedCost returns the total cost the plan budgeted for this resource.
func (r *PlannedResource) PlannedCost() float64 {
	return r.PlannedQuantity * r.UnitCost
}

// ConsumptionRecord is an immutable fact of resource usage. Corrections are
// recorded as new entries, negative quantities included, never as edits.
type ConsumptionRecord struct {
	ID                string    `json:"id"`
	PlannedResourceID string    `json:"planned_resource_id"`
	Quantity          float64   `json:"quantity"`
	Date              time.Time `json:"date"`
	Note              string    `json:"note,omitempty"`
	RecordedBy        string    `json:"recorded_by"`
	CreatedAt         time.Time `json:"created_at"`
}

// Threshold is a configured trigger condition. Empty ResourceTypeID or
// ProjectID means the threshold applies to any resource type or project.
type Threshold struct {
	ID             string    `json:"id"`
	ResourceTypeID string    `json:"resource_type_id,omitempty"`
	ProjectID      string    `json:"project_id,omitempty"`
	Kind           AlertKind `json:"kind"`
	Percent        float64   `json:"percent,omitempty"`
	Days           int       `json:"days,omitempty"`
	MinQuantity    float64   `json:"min_quantity,omitempty"`
	Severity       Severity  `json:"severity,omitempty"`
	CreatedBy      string    `json:"created_by,omitempty"`
	Active         bool      `json:"active"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// specificity scores how narrowly scoped the threshold is. Both fields set
// beats type-only, which beats project-only, which beats fully global.
func (t *Threshold) specificity() int {
	score := 0
	if t.ResourceTypeID != "" {
		score += 2
	}
	if t.ProjectID != "" {
		score++
	}
	return score
}

// appliesTo reports whether the threshold's scope covers the given
// resource type and project.
func (t *Threshold) appliesTo(resourceTypeID, projectID string) bool {
	if t.ResourceTypeID != "" && t.ResourceTypeID != resourceTypeID {
		return false
	}
	if t.ProjectID != "" && t.ProjectID != projectID {
		return false
	}
	return true
}

// ResolveThreshold picks the most specific active threshold of the given
// kind that covers (resourceTypeID, projectID). Precedence:
// (type, project) > (type, any) > (any, project) > (any, any).
// Returns nil when nothing applies.
func ResolveThreshold(thresholds []Threshold, kind AlertKind, resourceTypeID, projectID string) *Threshold {
	var candidates []*Threshold
	for i := range thresholds {
		t := &thresholds[i]
		if !t.Active || t.Kind != kind {
			continue
		}
		if t.appliesTo(resourceTypeID, projectID) {
			candidates = append(candidates, t)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].specificity() > candidates[j].specificity()
	})
	return candidates[0]
}

// Alert is a generated notice that a threshold was crossed. Its lifecycle is
// independent of the condition that caused it: resolving an alert does not
// clear the condition, and a re-crossed condition produces a new alert.
type Alert struct {
	ID                string         `json:"id"`
	ProjectID         string         `json:"project_id"`
	PlannedResourceID string         `json:"planned_resource_id,omitempty"`
	Kind              AlertKind      `json:"kind"`
	Severity          Severity       `json:"severity"`
	Message           string         `json:"message"`
	Context           map[string]any `json:"context,omitempty"`
	State             AlertState     `json:"state"`
	Note              string         `json:"note,omitempty"`
	GeneratedAt       time.Time      `json:"generated_at"`
	ResolvedAt        *time.Time     `json:"resolved_at,omitempty"`
	ResolvedBy        string         `json:"resolved_by,omitempty"`
}

// NotificationPreference holds a user's alerting settings. Kinds is a typed
// set in the domain; it is serialized to JSON only at the storage boundary.
type NotificationPreference struct {
	UserID          string          `json:"user_id"`
	PlatformAlerts  bool            `json:"platform_alerts"`
	EmailAlerts     bool            `json:"email_alerts"`
	DigestFrequency DigestFrequency `json:"digest_frequency"`
	Kinds           KindSet         `json:"kinds"`
	PreferredTime   string          `json:"preferred_time"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// DefaultPreference returns the documented defaults materialized on a user's
// first preference read.
func DefaultPreference(userID string) *NotificationPreference {
	return &NotificationPreference{
		UserID:          userID,
		PlatformAlerts:  true,
		EmailAlerts:     false,
		DigestFrequency: DigestWeekly,
		Kinds:           NewKindSet(KindExhaustion, KindCostOverrun, KindDelay),
		PreferredTime:   "09:00:00",
	}
}

// AlertFilter narrows alert listings. Zero values mean "no constraint";
// State defaults to active, pass StateAll to list every state.
type AlertFilter struct {
	ProjectID string
	State     AlertState
	Severity  Severity
	Limit     int
}

// ThresholdFilter narrows threshold listings. Scoped filters also match
// wildcard thresholds, mirroring how evaluation resolves them.
type ThresholdFilter struct {
	ProjectID       string
	ResourceTypeID  string
	Kind            AlertKind
	IncludeInactive bool
}

// ConsumptionFilter narrows consumption record listings.
type ConsumptionFilter struct {
	PlannedResourceID string
	RecordedBy        string
	Since             time.Time
	Until             time.Time
}
