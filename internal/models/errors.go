package models

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the store and service layers.
var (
	ErrNotFound      = errors.New("record not found")
	ErrDuplicateKey  = errors.New("duplicate key violation")
	ErrInvalidRaceID = errors.New("invalid race id format")
	ErrNoStarters    = errors.New("race has no starters")
	ErrModelNotReady = errors.New("model artifact not loaded")
)

// MissingDataError signals that a requested race (or required input) does
// not exist in the store.
type MissingDataError struct {
	RaceID string
	Detail string
}

func (e *MissingDataError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("missing data for race %s: %s", e.RaceID, e.Detail)
	}
	return fmt.Sprintf("missing data for race %s", e.RaceID)
}

// PredictionError wraps a failure inside the feature/model/derivation path.
type PredictionError struct {
	RaceID string
	Stage  string
	Err    error
}

func (e *PredictionError) Error() string {
	return fmt.Sprintf("prediction failed for race %s at %s: %v", e.RaceID, e.Stage, e.Err)
}

func (e *PredictionError) Unwrap() error { return e.Err }

// DatabaseQueryError wraps a store-level failure so the facade can surface
// it as a 5xx without inspecting driver errors.
type DatabaseQueryError struct {
	Op  string
	Err error
}

func (e *DatabaseQueryError) Error() string {
	return fmt.Sprintf("database query %s failed: %v", e.Op, e.Err)
}

func (e *DatabaseQueryError) Unwrap() error { return e.Err }

// TrainingError aborts a retrain run; the active artifact stays live.
type TrainingError struct {
	Stage string
	Err   error
}

func (e *TrainingError) Error() string {
	return fmt.Sprintf("training failed at %s: %v", e.Stage, e.Err)
}

func (e *TrainingError) Unwrap() error { return e.Err }
