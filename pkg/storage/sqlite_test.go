package storage_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrovista/agromonitor/pkg/model"
	"github.com/agrovista/agromonitor/pkg/storage"
)

func newTestDB(t *testing.T) *storage.SQLite {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := storage.NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func seedResource(t *testing.T, db *storage.SQLite, planned float64) *model.PlannedResource {
	t.Helper()
	res := &model.PlannedResource{
		ProjectID:       "proj-1",
		PhaseID:         "phase-1",
		ResourceTypeID:  "fertilizer",
		Name:            "Nitrogen fertilizer",
		Unit:            "kg",
		PlannedQuantity: planned,
		UnitCost:        2.5,
	}
	require.NoError(t, db.PutPlannedResource(context.Background(), res))
	return res
}

func TestSQLite_PutGetPlannedResource(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	end := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	res := &model.PlannedResource{
		ProjectID:       "proj-1",
		PhaseID:         "phase-1",
		ResourceTypeID:  "seed",
		Name:            "Corn seed",
		Unit:            "kg",
		PlannedQuantity: 500,
		UnitCost:        1.2,
		EndDate:         &end,
	}
	require.NoError(t, db.PutPlannedResource(ctx, res))
	assert.NotEmpty(t, res.ID)

	got, err := db.GetPlannedResource(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, "Corn seed", got.Name)
	assert.Equal(t, 500.0, got.PlannedQuantity)
	require.NotNil(t, got.EndDate)
	assert.Equal(t, end, got.EndDate.UTC())
	assert.Nil(t, got.StartDate)

	// Upsert replaces the plan fields, keeps the id
	res.PlannedQuantity = 600
	require.NoError(t, db.PutPlannedResource(ctx, res))
	got, err = db.GetPlannedResource(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, 600.0, got.PlannedQuantity)

	_, err = db.GetPlannedResource(ctx, "missing")
	assert.ErrorIs(t, err, model.ErrResourceNotFound)
}

func TestSQLite_ListPlannedResources(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	for _, proj := range []string{"proj-a", "proj-a", "proj-b"} {
		res := &model.PlannedResource{ProjectID: proj, ResourceTypeID: "seed", PlannedQuantity: 10}
		require.NoError(t, db.PutPlannedResource(ctx, res))
	}

	all, err := db.ListPlannedResources(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	projA, err := db.ListPlannedResources(ctx, "proj-a")
	require.NoError(t, err)
	assert.Len(t, projA, 2)
}

func TestSQLite_AppendConsumption_RejectsOverLimit(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	res := seedResource(t, db, 100)

	ok := &model.ConsumptionRecord{
		PlannedResourceID: res.ID,
		Quantity:          80,
		Date:              time.Now().UTC(),
		RecordedBy:        "u1",
	}
	require.NoError(t, db.AppendConsumption(ctx, ok, res.PlannedQuantity))

	over := &model.ConsumptionRecord{
		PlannedResourceID: res.ID,
		Quantity:          30,
		Date:              time.Now().UTC(),
		RecordedBy:        "u1",
	}
	err := db.AppendConsumption(ctx, over, res.PlannedQuantity)
	require.Error(t, err)

	var overErr *model.OverconsumptionError
	require.ErrorAs(t, err, &overErr)
	assert.Equal(t, 80.0, overErr.Prior)
	assert.Equal(t, 30.0, overErr.Attempted)
	assert.Equal(t, 100.0, overErr.Limit)

	// Rejected write leaves the total unchanged
	total, err := db.ConsumedTotal(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, 80.0, total)

	// Exactly reaching the limit is allowed
	exact := &model.ConsumptionRecord{PlannedResourceID: res.ID, Quantity: 20, Date: time.Now().UTC(), RecordedBy: "u1"}
	require.NoError(t, db.AppendConsumption(ctx, exact, res.PlannedQuantity))
}

func TestSQLite_AppendConsumption_NegativeAdjustment(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	res := seedResource(t, db, 100)

	first := &model.ConsumptionRecord{PlannedResourceID: res.ID, Quantity: 50, Date: time.Now().UTC(), RecordedBy: "u1"}
	require.NoError(t, db.AppendConsumption(ctx, first, 100))

	correction := &model.ConsumptionRecord{PlannedResourceID: res.ID, Quantity: -20, Date: time.Now().UTC(), RecordedBy: "u1"}
	require.NoError(t, db.AppendConsumption(ctx, correction, 100))

	total, err := db.ConsumedTotal(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, 30.0, total)

	// An adjustment below zero is rejected
	tooMuch := &model.ConsumptionRecord{PlannedResourceID: res.ID, Quantity: -40, Date: time.Now().UTC(), RecordedBy: "u1"}
	err = db.AppendConsumption(ctx, tooMuch, 100)
	var valErr *model.ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Equal(t, "quantity", valErr.Field)
}

func TestSQLite_AppendConsumption_ConcurrentWriters(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	res := seedResource(t, db, 100)

	// 20 writers of 10 units against a limit of 100. The transactional
	// check means committed writes never push the total past the limit,
	// no matter how the writers interleave.
	var wg sync.WaitGroup
	var mu sync.Mutex
	committed := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := &model.ConsumptionRecord{
				PlannedResourceID: res.ID,
				Quantity:          10,
				Date:              time.Now().UTC(),
				RecordedBy:        "u1",
			}
			if err := db.AppendConsumption(ctx, rec, 100); err == nil {
				mu.Lock()
				committed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	total, err := db.ConsumedTotal(ctx, res.ID)
	require.NoError(t, err)
	assert.LessOrEqual(t, total, 100.0)
	assert.Equal(t, float64(committed)*10, total)

	records, err := db.ListConsumption(ctx, model.ConsumptionFilter{PlannedResourceID: res.ID})
	require.NoError(t, err)
	assert.Len(t, records, committed)
}

func TestSQLite_UpsertThreshold_NoDuplicateScopes(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	first := &model.Threshold{
		ResourceTypeID: "fertilizer",
		ProjectID:      "proj-1",
		Kind:           model.KindExhaustion,
		Percent:        80,
		Active:         true,
	}
	require.NoError(t, db.UpsertThreshold(ctx, first))

	second := &model.Threshold{
		ResourceTypeID: "fertilizer",
		ProjectID:      "proj-1",
		Kind:           model.KindExhaustion,
		Percent:        90,
		Active:         true,
	}
	require.NoError(t, db.UpsertThreshold(ctx, second))

	thresholds, err := db.ListThresholds(ctx, model.ThresholdFilter{})
	require.NoError(t, err)
	require.Len(t, thresholds, 1)
	assert.Equal(t, 90.0, thresholds[0].Percent)
}

func TestSQLite_UpsertThreshold_KeepsStoredIdentity(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	first := &model.Threshold{
		ResourceTypeID: "seeds",
		ProjectID:      "proj-1",
		Kind:           model.KindExhaustion,
		Percent:        75,
		CreatedBy:      "ana",
		Active:         true,
	}
	require.NoError(t, db.UpsertThreshold(ctx, first))

	second := &model.Threshold{
		ResourceTypeID: "seeds",
		ProjectID:      "proj-1",
		Kind:           model.KindExhaustion,
		Percent:        85,
		CreatedBy:      "luis",
		Active:         true,
	}
	require.NoError(t, db.UpsertThreshold(ctx, second))

	thresholds, err := db.ListThresholds(ctx, model.ThresholdFilter{})
	require.NoError(t, err)
	require.Len(t, thresholds, 1)

	// The caller must see the persisted row, not a freshly minted id.
	assert.Equal(t, thresholds[0].ID, second.ID)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "ana", second.CreatedBy)
	assert.True(t, first.CreatedAt.Equal(second.CreatedAt))
}

func TestSQLite_ListThresholds_ScopedIncludesWildcards(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.UpsertThreshold(ctx, &model.Threshold{Kind: model.KindExhaustion, Percent: 80, Active: true}))
	require.NoError(t, db.UpsertThreshold(ctx, &model.Threshold{ProjectID: "proj-1", Kind: model.KindDelay, Days: 3, Active: true}))
	require.NoError(t, db.UpsertThreshold(ctx, &model.Threshold{ProjectID: "proj-2", Kind: model.KindDelay, Days: 5, Active: true}))
	require.NoError(t, db.UpsertThreshold(ctx, &model.Threshold{Kind: model.KindCostOverrun, Percent: 70, Active: false}))

	scoped, err := db.ListThresholds(ctx, model.ThresholdFilter{ProjectID: "proj-1"})
	require.NoError(t, err)
	assert.Len(t, scoped, 2) // wildcard exhaustion + proj-1 delay

	all, err := db.ListThresholds(ctx, model.ThresholdFilter{IncludeInactive: true})
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestSQLite_InsertAlert_DeduplicatesActive(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	alert := &model.Alert{
		ProjectID:         "proj-1",
		PlannedResourceID: "res-1",
		Kind:              model.KindExhaustion,
		Severity:          model.SeverityHigh,
		Message:           "consumo al 87%",
	}
	require.NoError(t, db.InsertAlert(ctx, alert))
	assert.Equal(t, model.StateActive, alert.State)

	dup := &model.Alert{
		ProjectID:         "proj-1",
		PlannedResourceID: "res-1",
		Kind:              model.KindExhaustion,
		Severity:          model.SeverityHigh,
		Message:           "consumo al 88%",
	}
	err := db.InsertAlert(ctx, dup)
	assert.ErrorIs(t, err, model.ErrDuplicateAlert)

	// Different kind on the same resource is a separate alert
	other := &model.Alert{
		ProjectID:         "proj-1",
		PlannedResourceID: "res-1",
		Kind:              model.KindDelay,
		Severity:          model.SeverityMedium,
		Message:           "quedan 2 dias",
	}
	require.NoError(t, db.InsertAlert(ctx, other))
}

func TestSQLite_InsertAlert_AllowedAfterResolution(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	alert := &model.Alert{
		ProjectID:         "proj-1",
		PlannedResourceID: "res-1",
		Kind:              model.KindExhaustion,
		Severity:          model.SeverityHigh,
		Message:           "consumo al 87%",
	}
	require.NoError(t, db.InsertAlert(ctx, alert))

	now := time.Now().UTC()
	alert.State = model.StateResolved
	alert.ResolvedAt = &now
	alert.ResolvedBy = "u1"
	ok, err := db.UpdateAlertState(ctx, alert, model.StateActive)
	require.NoError(t, err)
	assert.True(t, ok)

	fresh := &model.Alert{
		ProjectID:         "proj-1",
		PlannedResourceID: "res-1",
		Kind:              model.KindExhaustion,
		Severity:          model.SeverityCritical,
		Message:           "consumo al 96%",
	}
	require.NoError(t, db.InsertAlert(ctx, fresh))
}

func TestSQLite_FindActiveAlert(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	found, err := db.FindActiveAlert(ctx, "proj-1", "res-1", model.KindExhaustion)
	require.NoError(t, err)
	assert.Nil(t, found)

	alert := &model.Alert{
		ProjectID:         "proj-1",
		PlannedResourceID: "res-1",
		Kind:              model.KindExhaustion,
		Severity:          model.SeverityHigh,
		Message:           "consumo al 87%",
		Context:           map[string]any{"consumption_pct": 87.0},
	}
	require.NoError(t, db.InsertAlert(ctx, alert))

	found, err = db.FindActiveAlert(ctx, "proj-1", "res-1", model.KindExhaustion)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, alert.ID, found.ID)
	assert.Equal(t, 87.0, found.Context["consumption_pct"])
}

func TestSQLite_ListAlerts_OrderAndFilter(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	alerts := []*model.Alert{
		{ProjectID: "proj-1", PlannedResourceID: "r1", Kind: model.KindExhaustion, Severity: model.SeverityMedium, Message: "m"},
		{ProjectID: "proj-1", PlannedResourceID: "r2", Kind: model.KindExhaustion, Severity: model.SeverityCritical, Message: "c"},
		{ProjectID: "proj-2", PlannedResourceID: "r3", Kind: model.KindDelay, Severity: model.SeverityLow, Message: "l"},
	}
	for _, a := range alerts {
		require.NoError(t, db.InsertAlert(ctx, a))
	}

	active, err := db.ListAlerts(ctx, model.AlertFilter{})
	require.NoError(t, err)
	require.Len(t, active, 3)
	assert.Equal(t, model.SeverityCritical, active[0].Severity)

	proj1, err := db.ListAlerts(ctx, model.AlertFilter{ProjectID: "proj-1"})
	require.NoError(t, err)
	assert.Len(t, proj1, 2)

	// Resolve one, default listing drops it, StateAll keeps it
	resolved := alerts[0]
	resolved.State = model.StateResolved
	ok, err := db.UpdateAlertState(ctx, resolved, model.StateActive)
	require.NoError(t, err)
	require.True(t, ok)

	active, err = db.ListAlerts(ctx, model.AlertFilter{})
	require.NoError(t, err)
	assert.Len(t, active, 2)

	all, err := db.ListAlerts(ctx, model.AlertFilter{State: model.StateAll})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	limited, err := db.ListAlerts(ctx, model.AlertFilter{State: model.StateAll, Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestSQLite_UpdateAlertState_OptimisticCheck(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	alert := &model.Alert{
		ProjectID:         "proj-1",
		PlannedResourceID: "r1",
		Kind:              model.KindExhaustion,
		Severity:          model.SeverityHigh,
		Message:           "m",
	}
	require.NoError(t, db.InsertAlert(ctx, alert))

	alert.State = model.StateRead
	ok, err := db.UpdateAlertState(ctx, alert, model.StateActive)
	require.NoError(t, err)
	assert.True(t, ok)

	// Second writer still assuming the active state loses
	stale := *alert
	stale.State = model.StateIgnored
	ok, err = db.UpdateAlertState(ctx, &stale, model.StateActive)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := db.GetAlert(ctx, alert.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateRead, got.State)
}

func TestSQLite_EnsurePreference(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	pref, err := db.EnsurePreference(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, pref.PlatformAlerts)
	assert.False(t, pref.EmailAlerts)
	assert.Equal(t, model.DigestWeekly, pref.DigestFrequency)
	assert.Equal(t, "09:00:00", pref.PreferredTime)
	assert.True(t, pref.Kinds.Contains(model.KindExhaustion))

	// Customize, then re-ensure: the stored value wins over defaults
	pref.EmailAlerts = true
	pref.DigestFrequency = model.DigestDaily
	require.NoError(t, db.SavePreference(ctx, pref))

	again, err := db.EnsurePreference(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, again.EmailAlerts)
	assert.Equal(t, model.DigestDaily, again.DigestFrequency)
}
