// Package progress defines the telemetry events emitted by pipeline runs.
package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart     Stage = "RUN_START"
	StagePrimaryReady Stage = "PRIMARY_READY"
	StageRelatedReady Stage = "RELATED_READY"
	StageScored       Stage = "SCORED"
	StageRunDone      Stage = "RUN_DONE"
	StageRunError     Stage = "RUN_ERROR"
)

// Event captures a single pipeline milestone.
type Event struct {
	// RunID identifies the pipeline run that produced the event.
	RunID string `json:"run_id"`
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time `json:"ts"`
	// Stage denotes which milestone occurred.
	Stage Stage `json:"stage"`
	// Handle is the store identifier driving the run.
	Handle int64 `json:"handle"`
	// AppTitle scopes keyword milestones to an app when known.
	AppTitle string `json:"app_title,omitempty"`
	// Keywords counts generated or scored keywords for the milestone.
	Keywords int `json:"keywords,omitempty"`
	// RelatedOK / RelatedFailed report the related-app fan-out outcome.
	RelatedOK     int `json:"related_ok,omitempty"`
	RelatedFailed int `json:"related_failed,omitempty"`
	// Dur captures elapsed time for the milestone.
	Dur time.Duration `json:"dur_ns,omitempty"`
	// Note lets emitters attach low-volume debug context (e.g. error text).
	Note string `json:"note,omitempty"`
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == "" {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StagePrimaryReady, StageRelatedReady, StageScored, StageRunDone:
	case StageRunError:
		if e.Note == "" {
			return errors.New("run error requires a note")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
