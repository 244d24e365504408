package domain

import (
	"errors"
	"fmt"
)

// Stage names the step of the localization flow that failed.
type Stage string

const (
	StageInput  Stage = "input"
	StageDecode Stage = "decode"
	StageMerge  Stage = "merge"
	StagePick   Stage = "pick"
	StageDelay  Stage = "delay"
	StageSolve  Stage = "solve"
)

// LocalizationError is an event-scoped failure.
type LocalizationError struct {
	Stage   Stage
	EventID string
	Station string // empty when the failure is not tied to one station
	Err     error
}

func (e *LocalizationError) Error() string {
	if e.Station != "" {
		return fmt.Sprintf("event %s: %s failed at %s: %v", e.EventID, e.Stage, e.Station, e.Err)
	}
	return fmt.Sprintf("event %s: %s failed: %v", e.EventID, e.Stage, e.Err)
}

func (e *LocalizationError) Unwrap() error {
	return e.Err
}

// NewLocalizationError wraps err with its stage and event context.
func NewLocalizationError(stage Stage, eventID, station string, err error) *LocalizationError {
	return &LocalizationError{Stage: stage, EventID: eventID, Station: station, Err: err}
}

// StageOf reports the stage recorded in err, or StageInput when err carries
// no localization context.
func StageOf(err error) Stage {
	var le *LocalizationError
	if errors.As(err, &le) {
		return le.Stage
	}
	return StageInput
}
