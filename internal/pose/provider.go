// Package pose defines the face pose provider consumed by the pipeline and
// the clients that talk to concrete detectors.
package pose

import (
	"context"
	"errors"
	"fmt"

	"github.com/dj-oyu/face-status-server/internal/facestatus"
	"github.com/dj-oyu/face-status-server/pkg/types"
)

// ErrNotConnected is returned when a remote provider has no live connection
var ErrNotConnected = errors.New("pose provider not connected")

// Rect is a bounding rectangle in frame pixel coordinates
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Face is one detected face
type Face struct {
	Bounds       Rect    `json:"bounds"`
	PitchDegrees float64 `json:"pitch"` // head Euler angle X
	YawDegrees   float64 `json:"yaw"`   // head Euler angle Y
	RollDegrees  float64 `json:"roll"`  // head Euler angle Z
	SmileScore   float64 `json:"smile"` // smiling probability
}

// Pose returns the values the classifier needs
func (f Face) Pose() facestatus.Pose {
	return facestatus.Pose{
		PitchDegrees: f.PitchDegrees,
		YawDegrees:   f.YawDegrees,
		SmileScore:   f.SmileScore,
	}
}

// Provider detects faces in a frame. A nil error with an empty slice means
// no face was found; a non-nil error means detection itself failed.
type Provider interface {
	Detect(ctx context.Context, frame *types.Frame) ([]Face, error)
}

// Func adapts a function to Provider
type Func func(ctx context.Context, frame *types.Frame) ([]Face, error)

// Detect calls f
func (f Func) Detect(ctx context.Context, frame *types.Frame) ([]Face, error) {
	return f(ctx, frame)
}

// DetectError reports a provider failure for one frame
type DetectError struct {
	Frame uint64
	Cause error
}

func (e *DetectError) Error() string {
	return fmt.Sprintf("detect frame %d: %v", e.Frame, e.Cause)
}

func (e *DetectError) Unwrap() error {
	return e.Cause
}
