package monitor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/agrovista/agromonitor/pkg/model"
	"github.com/agrovista/agromonitor/pkg/storage"
)

// Decision says how an alert should be surfaced to one user. Actual delivery
// is external; digest assembly is external too, DeferUntilDigest only marks
// that the email belongs in the next digest rather than an immediate send.
type Decision struct {
	Platform         bool `json:"platform"`
	Email            bool `json:"email"`
	DeferUntilDigest bool `json:"defer_until_digest"`
}

// Filter decides per-user alert visibility from notification preferences.
type Filter struct {
	storage storage.Storage
	logger  *slog.Logger
}

// NewFilter creates a notification filter.
func NewFilter(store storage.Storage, logger *slog.Logger) *Filter {
	return &Filter{storage: store, logger: logger}
}

// Decide loads the user's preference, creating the defaults on first use, and
// applies it to the alert.
func (f *Filter) Decide(ctx context.Context, userID string, alert *model.Alert) (Decision, error) {
	pref, err := f.storage.EnsurePreference(ctx, userID)
	if err != nil {
		return Decision{}, fmt.Errorf("load preference: %w", err)
	}

	if !pref.Kinds.Contains(alert.Kind) {
		return Decision{}, nil
	}

	d := Decision{
		Platform: pref.PlatformAlerts,
		Email:    pref.EmailAlerts,
	}

	switch pref.DigestFrequency {
	case model.DigestNever:
		// Platform visibility is independent of digest frequency.
		d.Email = false
	case model.DigestDaily, model.DigestWeekly:
		d.DeferUntilDigest = d.Email
	}

	return d, nil
}

// Preference returns the user's notification preference, materializing the
// defaults on first read.
func (f *Filter) Preference(ctx context.Context, userID string) (*model.NotificationPreference, error) {
	return f.storage.EnsurePreference(ctx, userID)
}

// UpdatePreference validates and saves a user's notification preference.
func (f *Filter) UpdatePreference(ctx context.Context, pref *model.NotificationPreference) error {
	if err := model.ValidatePreference(pref); err != nil {
		return err
	}
	if err := f.storage.SavePreference(ctx, pref); err != nil {
		return err
	}
	f.logger.Info("notification preference updated", "user", pref.UserID)
	return nil
}
