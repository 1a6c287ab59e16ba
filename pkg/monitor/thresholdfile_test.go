package monitor_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrovista/agromonitor/pkg/model"
	"github.com/agrovista/agromonitor/pkg/monitor"
)

func writeThresholdFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "thresholds.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadThresholdFile(t *testing.T) {
	path := writeThresholdFile(t, `
thresholds:
  - kind: agotamiento
    percent: 85
    severity: alta
  - kind: retraso
    days: 7
  - kind: reasignacion
    days: 5
    min_quantity: 10
    resource_type: fertilizer
`)

	defs, err := monitor.LoadThresholdFile(path)
	require.NoError(t, err)
	require.Len(t, defs, 3)

	assert.Equal(t, model.KindExhaustion, defs[0].Kind)
	assert.Equal(t, 85.0, defs[0].Percent)
	assert.Equal(t, model.SeverityHigh, defs[0].Severity)
	assert.True(t, defs[0].Active)

	assert.Equal(t, model.KindDelay, defs[1].Kind)
	assert.Equal(t, 7, defs[1].Days)

	assert.Equal(t, "fertilizer", defs[2].ResourceTypeID)
	assert.Equal(t, 10.0, defs[2].MinQuantity)
}

func TestLoadThresholdFile_InvalidEntry(t *testing.T) {
	path := writeThresholdFile(t, `
thresholds:
  - kind: inundacion
    percent: 85
`)

	_, err := monitor.LoadThresholdFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "threshold 1")
}

func TestLoadThresholdFile_Missing(t *testing.T) {
	_, err := monitor.LoadThresholdFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestSeedThresholds_KeepsOperatorValues(t *testing.T) {
	engine := newTestEngine(t, nil)
	ctx := context.Background()

	// Operator tuned this one before the seed runs
	putThreshold(t, engine, &model.Threshold{Kind: model.KindExhaustion, Percent: 92, Active: true})

	defs := []model.Threshold{
		{Kind: model.KindExhaustion, Percent: 85, Active: true},
		{Kind: model.KindDelay, Days: 7, Active: true},
	}
	require.NoError(t, monitor.SeedThresholds(ctx, engine.Storage, defs))

	thresholds, err := engine.Storage.ListThresholds(ctx, model.ThresholdFilter{})
	require.NoError(t, err)
	require.Len(t, thresholds, 2)

	byKind := make(map[model.AlertKind]model.Threshold)
	for _, th := range thresholds {
		byKind[th.Kind] = th
	}
	assert.Equal(t, 92.0, byKind[model.KindExhaustion].Percent) // untouched
	assert.Equal(t, 7, byKind[model.KindDelay].Days)            // seeded

	// Re-seeding changes nothing
	require.NoError(t, monitor.SeedThresholds(ctx, engine.Storage, defs))
	thresholds, err = engine.Storage.ListThresholds(ctx, model.ThresholdFilter{})
	require.NoError(t, err)
	assert.Len(t, thresholds, 2)
}
