package modelmanager

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourusername/keiba-engine/internal/config"
	"github.com/yourusername/keiba-engine/internal/ensemble"
	"github.com/yourusername/keiba-engine/internal/models"
)

// Surface variant slot names.
const (
	SurfaceMixed = "mixed"
	SurfaceTurf  = "turf"
	SurfaceDirt  = "dirt"
)

var surfaces = []string{SurfaceMixed, SurfaceTurf, SurfaceDirt}

// Manager holds the live artifact per surface variant behind atomic
// pointers. Callers get a stable immutable reference; promotion and reload
// swap in a new one without blocking readers. Promotions are serialized.
type Manager struct {
	cfg   config.ModelConfig
	log   *logrus.Logger
	slots map[string]*atomic.Value

	// promoteMu serializes promotion and reload; concurrent retrains are
	// prohibited at this level.
	promoteMu sync.Mutex
}

// NewManager creates a manager with empty slots. Call Reload to populate.
func NewManager(cfg config.ModelConfig, log *logrus.Logger) *Manager {
	m := &Manager{
		cfg:   cfg,
		log:   log,
		slots: make(map[string]*atomic.Value, len(surfaces)),
	}
	for _, s := range surfaces {
		m.slots[s] = &atomic.Value{}
	}
	return m
}

// Load returns the live artifact for a surface, falling back to the mixed
// slot when the variant has none.
func (m *Manager) Load(surface string) (*ensemble.Model, error) {
	if slot, ok := m.slots[surface]; ok {
		if model, _ := slot.Load().(*ensemble.Model); model != nil {
			return model, nil
		}
	}
	if model, _ := m.slots[SurfaceMixed].Load().(*ensemble.Model); model != nil {
		return model, nil
	}
	return nil, models.ErrModelNotReady
}

// LoadForSurface maps a race surface to its slot.
func (m *Manager) LoadForSurface(surface models.Surface) (*ensemble.Model, error) {
	switch surface {
	case models.SurfaceTurf:
		return m.Load(SurfaceTurf)
	case models.SurfaceDirt:
		return m.Load(SurfaceDirt)
	}
	return m.Load(SurfaceMixed)
}

// Ready reports whether at least the mixed artifact is live.
func (m *Manager) Ready() bool {
	model, _ := m.slots[SurfaceMixed].Load().(*ensemble.Model)
	return model != nil
}

// ActiveVersion returns the live mixed artifact's version, or empty.
func (m *Manager) ActiveVersion() string {
	model, _ := m.slots[SurfaceMixed].Load().(*ensemble.Model)
	if model == nil {
		return ""
	}
	return model.Meta.Version
}

// Reload loads every surface variant from disk. Idempotent: a missing
// variant file leaves that slot falling back to mixed; a missing mixed
// artifact is an error only if nothing was ever loaded.
func (m *Manager) Reload() error {
	m.promoteMu.Lock()
	defer m.promoteMu.Unlock()
	return m.reloadLocked()
}

func (m *Manager) reloadLocked() error {
	for _, surface := range surfaces {
		path := m.cfg.ActivePath(surface)
		model, err := ensemble.LoadArtifact(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				if surface == SurfaceMixed && !m.Ready() {
					return fmt.Errorf("active artifact missing at %s: %w", path, models.ErrModelNotReady)
				}
				continue
			}
			return fmt.Errorf("failed to load %s artifact: %w", surface, err)
		}
		m.slots[surface].Store(model)
		m.log.WithFields(logrus.Fields{
			"surface": surface,
			"version": model.Meta.Version,
			"path":    path,
		}).Info("Loaded model artifact")
	}
	return nil
}

// Promote backs up the current active artifact with a timestamp and moves
// the staged artifact into the active path, then reloads the slot. The
// decision to promote is the evaluator's; this only performs the swap.
func (m *Manager) Promote(stagedPath, surface string) error {
	m.promoteMu.Lock()
	defer m.promoteMu.Unlock()

	activePath := m.cfg.ActivePath(surface)

	if _, err := os.Stat(activePath); err == nil {
		backup := filepath.Join(m.cfg.BackupDir(),
			fmt.Sprintf("%s_%s.json", filepath.Base(activePath), time.Now().Format("20060102_150405")))
		if err := os.MkdirAll(m.cfg.BackupDir(), 0o755); err != nil {
			return fmt.Errorf("failed to create backup dir: %w", err)
		}
		if err := copyFile(activePath, backup); err != nil {
			return fmt.Errorf("failed to back up active artifact: %w", err)
		}
		m.log.WithField("backup", backup).Info("Backed up active artifact")
	}

	if err := os.MkdirAll(filepath.Dir(activePath), 0o755); err != nil {
		return fmt.Errorf("failed to create model dir: %w", err)
	}
	if err := os.Rename(stagedPath, activePath); err != nil {
		// staging may live on another filesystem
		if err := copyFile(stagedPath, activePath); err != nil {
			return fmt.Errorf("failed to activate staged artifact: %w", err)
		}
		os.Remove(stagedPath)
	}

	model, err := ensemble.LoadArtifact(activePath)
	if err != nil {
		return fmt.Errorf("promoted artifact failed to load: %w", err)
	}
	m.slots[surface].Store(model)

	m.log.WithFields(logrus.Fields{
		"surface": surface,
		"version": model.Meta.Version,
	}).Info("Promoted model artifact")
	return nil
}

// SchemaDrifted reports whether the live artifact's feature schema differs
// from the candidate's. Drift forces adoption of the new artifact.
func SchemaDrifted(old, candidate *ensemble.Model) bool {
	if old == nil {
		return true
	}
	if len(old.FeatureNames) != len(candidate.FeatureNames) {
		return true
	}
	for i := range old.FeatureNames {
		if old.FeatureNames[i] != candidate.FeatureNames[i] {
			return true
		}
	}
	return false
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}
