package model

import (
	"errors"
	"fmt"
	"regexp"
)

// Sentinel errors for lookup and access failures. Callers match them with
// errors.Is to pick response codes.
var (
	ErrResourceNotFound   = errors.New("planned resource not found")
	ErrAlertNotFound      = errors.New("alert not found")
	ErrPreferenceNotFound = errors.New("notification preference not found")
	ErrAccessDenied       = errors.New("access denied")

	// ErrDuplicateAlert reports that an active alert already exists for the
	// same (project, resource, kind) tuple. The alert manager treats it as a
	// deduplicated create, not a failure.
	ErrDuplicateAlert = errors.New("active alert already exists")
)

// OverconsumptionError rejects a consumption record that would push the
// cumulative total past the planned quantity. It carries the numbers the
// caller needs to correct the input.
type OverconsumptionError struct {
	Prior     float64
	Attempted float64
	Limit     float64
}

func (e *OverconsumptionError) Error() string {
	return fmt.Sprintf("total consumption %.3f would exceed planned quantity %.3f (already consumed %.3f)",
		e.Prior+e.Attempted, e.Limit, e.Prior)
}

// InvalidTransitionError rejects an alert state change that the lifecycle
// does not allow.
type InvalidTransitionError struct {
	From AlertState
	To   AlertState
}

func (e *InvalidTransitionError) Error() string {
	if e.From.Terminal() {
		return fmt.Sprintf("alert state %q is terminal, cannot transition to %q", e.From, e.To)
	}
	return fmt.Sprintf("invalid alert state transition %q -> %q", e.From, e.To)
}

// ValidationError annotates a rejected input with the field that caused it.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors aggregates per-field failures so a caller sees every
// problem in one response.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 1 {
		return e[0].Error()
	}
	return fmt.Sprintf("%s (and %d more)", e[0].Error(), len(e)-1)
}

// ErrOrNil returns the slice as an error, or nil when empty.
func (e ValidationErrors) ErrOrNil() error {
	if len(e) == 0 {
		return nil
	}
	return e
}

var timeOfDayRE = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]:[0-5][0-9]$`)

// ValidTimeOfDay reports whether s is an HH:MM:SS clock time.
func ValidTimeOfDay(s string) bool {
	return timeOfDayRE.MatchString(s)
}

// ValidateThreshold checks a threshold's trigger configuration: percentage
// inside [0,100], day count non-negative, known kind and severity.
func ValidateThreshold(t *Threshold) error {
	var errs ValidationErrors
	if !t.Kind.Valid() {
		errs = append(errs, ValidationError{Field: "kind", Message: fmt.Sprintf("unknown kind %q", t.Kind)})
	}
	if t.Percent < 0 || t.Percent > 100 {
		errs = append(errs, ValidationError{Field: "percent", Message: "must be between 0 and 100"})
	}
	if t.Days < 0 {
		errs = append(errs, ValidationError{Field: "days", Message: "must not be negative"})
	}
	if t.MinQuantity < 0 {
		errs = append(errs, ValidationError{Field: "min_quantity", Message: "must not be negative"})
	}
	if t.Severity != "" && !t.Severity.Valid() {
		errs = append(errs, ValidationError{Field: "severity", Message: fmt.Sprintf("unknown severity %q", t.Severity)})
	}
	return errs.ErrOrNil()
}

// ValidatePreference checks a notification preference update.
func ValidatePreference(p *NotificationPreference) error {
	var errs ValidationErrors
	if !p.DigestFrequency.Valid() {
		errs = append(errs, ValidationError{Field: "digest_frequency", Message: fmt.Sprintf("unknown frequency %q", p.DigestFrequency)})
	}
	if !ValidTimeOfDay(p.PreferredTime) {
		errs = append(errs, ValidationError{Field: "preferred_time", Message: "must be HH:MM:SS"})
	}
	for k := range p.Kinds {
		if !k.Valid() {
			errs = append(errs, ValidationError{Field: "kinds", Message: fmt.Sprintf("unknown alert kind %q", k)})
		}
	}
	return errs.ErrOrNil()
}
