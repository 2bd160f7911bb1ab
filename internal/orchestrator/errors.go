package orchestrator

import "errors"

// ErrStageAborted is returned when a stage's channel enters an
// unrecoverable state mid-stage.
var ErrStageAborted = errors.New("orchestrator: stage aborted")

// ErrCancelled is returned when a host interrupt cuts a run short before
// every planned stage produced an artifact.
var ErrCancelled = errors.New("orchestrator: cancelled")
