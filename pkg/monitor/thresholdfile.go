package monitor

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/agrovista/agromonitor/pkg/model"
	"github.com/agrovista/agromonitor/pkg/storage"
)

// thresholdFile is the YAML layout of a threshold seed file:
//
//	thresholds:
//	  - kind: agotamiento
//	    percent: 85
//	    severity: alta
//	  - kind: retraso
//	    days: 7
type thresholdFile struct {
	Thresholds []thresholdDef `yaml:"thresholds"`
}

type thresholdDef struct {
	Kind         string  `yaml:"kind"`
	ResourceType string  `yaml:"resource_type"`
	Project      string  `yaml:"project"`
	Percent      float64 `yaml:"percent"`
	Days         int     `yaml:"days"`
	MinQuantity  float64 `yaml:"min_quantity"`
	Severity     string  `yaml:"severity"`
}

// LoadThresholdFile reads default threshold definitions from a YAML file.
func LoadThresholdFile(path string) ([]model.Threshold, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read threshold file: %w", err)
	}

	var file thresholdFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse threshold file: %w", err)
	}

	thresholds := make([]model.Threshold, 0, len(file.Thresholds))
	for i, def := range file.Thresholds {
		t := model.Threshold{
			ResourceTypeID: def.ResourceType,
			ProjectID:      def.Project,
			Kind:           model.AlertKind(def.Kind),
			Percent:        def.Percent,
			Days:           def.Days,
			MinQuantity:    def.MinQuantity,
			Severity:       model.Severity(def.Severity),
			Active:         true,
		}
		if err := model.ValidateThreshold(&t); err != nil {
			return nil, fmt.Errorf("threshold %d in %s: %w", i+1, path, err)
		}
		thresholds = append(thresholds, t)
	}
	return thresholds, nil
}

// SeedThresholds inserts definitions whose scope and kind have no threshold
// yet. Existing thresholds keep their operator-tuned values, so seeding at
// every startup is harmless.
func SeedThresholds(ctx context.Context, store storage.Storage, defs []model.Threshold) error {
	existing, err := store.ListThresholds(ctx, model.ThresholdFilter{IncludeInactive: true})
	if err != nil {
		return fmt.Errorf("list thresholds: %w", err)
	}

	present := make(map[string]bool, len(existing))
	for _, t := range existing {
		present[scopeKey(&t)] = true
	}

	for i := range defs {
		def := defs[i]
		if present[scopeKey(&def)] {
			continue
		}
		if err := store.UpsertThreshold(ctx, &def); err != nil {
			return fmt.Errorf("seed threshold %s: %w", def.Kind, err)
		}
	}
	return nil
}

func scopeKey(t *model.Threshold) string {
	return t.ResourceTypeID + "\x00" + t.ProjectID + "\x00" + string(t.Kind)
}
