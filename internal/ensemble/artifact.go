package ensemble

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// CurrentArtifactVersion is written into new artifacts. Version 2 artifacts
// (two families, no quinella head) load through the same path.
const CurrentArtifactVersion = 3

// SaveArtifact serializes the model to path atomically: the JSON is written
// next to the target and renamed into place.
func SaveArtifact(m *Model, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create artifact directory: %w", err)
	}

	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode artifact: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write artifact: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to move artifact into place: %w", err)
	}
	return nil
}

// LoadArtifact reads and validates a model artifact.
func LoadArtifact(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact %s: %w", path, err)
	}

	m := &Model{}
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("failed to decode artifact %s: %w", path, err)
	}
	if err := validateArtifact(m); err != nil {
		return nil, fmt.Errorf("invalid artifact %s: %w", path, err)
	}
	return m, nil
}

func validateArtifact(m *Model) error {
	if len(m.Families) == 0 {
		return fmt.Errorf("no families")
	}
	if len(m.FeatureNames) == 0 {
		return fmt.Errorf("no feature schema")
	}
	for i := range m.Families {
		f := &m.Families[i]
		if f.Ranker == nil || f.Win == nil || f.Place == nil {
			return fmt.Errorf("family %d is missing learners", i)
		}
	}
	if m.Calibrators == nil {
		return fmt.Errorf("no calibrators")
	}
	for _, task := range []Task{TaskWin, TaskPlace} {
		if m.Calibrators[task] == nil {
			return fmt.Errorf("missing %s calibrator", task)
		}
	}
	if m.HasQuinellaHead() && m.Calibrators[TaskQuinella] == nil {
		return fmt.Errorf("missing quinella calibrator")
	}
	return nil
}
