// Package presenter turns per-frame detection results into what displays
// show and fans them out to the configured sinks.
package presenter

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dj-oyu/face-status-server/internal/logger"
	"github.com/dj-oyu/face-status-server/pkg/types"
)

// Outcome classifies how detection went for a frame
type Outcome uint8

const (
	Faces Outcome = iota
	NoFaces
	DetectFailed
)

var outcomeNames = map[Outcome]string{
	Faces:        "faces",
	NoFaces:      "no_faces",
	DetectFailed: "detect_failed",
}

func (o Outcome) String() string {
	if name, ok := outcomeNames[o]; ok {
		return name
	}
	return fmt.Sprintf("Outcome(%d)", uint8(o))
}

// MarshalText implements encoding.TextMarshaler
func (o Outcome) MarshalText() ([]byte, error) {
	name, ok := outcomeNames[o]
	if !ok {
		return nil, fmt.Errorf("invalid outcome: %d", uint8(o))
	}
	return []byte(name), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (o *Outcome) UnmarshalText(text []byte) error {
	for k, name := range outcomeNames {
		if name == string(text) {
			*o = k
			return nil
		}
	}
	return fmt.Errorf("invalid outcome: %q", text)
}

// Report is the result of processing one frame
type Report struct {
	FrameNumber uint64    `json:"frame_number"`
	Timestamp   time.Time `json:"timestamp"`
	Width       int       `json:"width"`
	Height      int       `json:"height"`
	Outcome     Outcome   `json:"outcome"`
	Faces       []Overlay `json:"faces"`
	Err         string    `json:"error,omitempty"`

	// Frame is the source frame, for sinks that draw on it
	Frame *types.Frame `json:"-"`
}

// Primary returns the face a single-face display shows: the last one
func (r Report) Primary() (Overlay, bool) {
	if len(r.Faces) == 0 {
		return Overlay{}, false
	}
	return r.Faces[len(r.Faces)-1], true
}

// Rect returns the rectangle to display, zero when there is no face
func (r Report) Rect() NormalizedRect {
	o, ok := r.Primary()
	if !ok {
		return NormalizedRect{}
	}
	return o.Rect
}

// UpdatesStatus reports whether displays should replace their status text
func (r Report) UpdatesStatus() bool {
	return r.Outcome == Faces && len(r.Faces) > 0
}

// Sink receives one report per processed frame. Present is called from the
// pipeline goroutine and must not block for long.
type Sink interface {
	Present(report Report)
}

// SinkFunc adapts a function to Sink
type SinkFunc func(report Report)

// Present calls f
func (f SinkFunc) Present(report Report) {
	f(report)
}

// Multi fans a report out to several sinks in order
type Multi []Sink

// Present forwards report to every non-nil sink
func (m Multi) Present(report Report) {
	for _, s := range m {
		if s != nil {
			s.Present(report)
		}
	}
}

// LogSink writes reports to the logger. The zero value is ready to use.
type LogSink struct {
	mu   sync.Mutex
	last string
}

// Present logs status changes at info and every frame at debug
func (l *LogSink) Present(report Report) {
	switch report.Outcome {
	case DetectFailed:
		logger.Debug("Presenter", "Frame %d: detection failed, clearing overlay", report.FrameNumber)
		return
	case NoFaces:
		logger.Debug("Presenter", "Frame %d: no faces", report.FrameNumber)
		return
	}

	if primary, ok := report.Primary(); ok && primary.Status != "" {
		l.mu.Lock()
		changed := primary.Status != l.last
		l.last = primary.Status
		l.mu.Unlock()
		if changed {
			logger.Info("Presenter", "Frame %d: status %s", report.FrameNumber, primary.Status)
		}
	}

	if !logger.Enabled(logger.DEBUG) {
		return
	}
	for i, face := range report.Faces {
		logger.Debug("Presenter", "Frame %d face %d: %s (%s)", report.FrameNumber, i,
			face.Status, strings.Join(face.ParamLabels(), ", "))
	}
}
