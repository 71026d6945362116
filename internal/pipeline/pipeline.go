// Package pipeline runs submitted frames through the pose provider and the
// classifier, and hands one report per frame to the presentation sink.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dj-oyu/face-status-server/internal/logger"
	"github.com/dj-oyu/face-status-server/internal/metrics"
	"github.com/dj-oyu/face-status-server/internal/pose"
	"github.com/dj-oyu/face-status-server/internal/presenter"
	"github.com/dj-oyu/face-status-server/pkg/types"
)

var (
	// ErrQueueFull is returned by Submit when the frame was dropped
	ErrQueueFull = errors.New("frame queue full")
	// ErrPaused is returned by Submit while the session is stopped
	ErrPaused = errors.New("pipeline paused")
)

// Options tunes the pipeline
type Options struct {
	QueueSize     int           // Frames buffered between Submit and Run
	DetectTimeout time.Duration // Per-frame provider deadline, 0 for none
}

// DefaultOptions returns the settings used by the server
func DefaultOptions() Options {
	return Options{
		QueueSize:     30,
		DetectTimeout: 2 * time.Second,
	}
}

// Pipeline processes frames one at a time on the Run goroutine
type Pipeline struct {
	provider pose.Provider
	sink     presenter.Sink
	metrics  *metrics.Metrics
	opts     Options

	queue    chan *types.Frame
	frameNum atomic.Uint64
	paused   atomic.Bool
}

// New creates a pipeline. m may be nil.
func New(provider pose.Provider, sink presenter.Sink, m *metrics.Metrics, opts Options) *Pipeline {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultOptions().QueueSize
	}
	if m == nil {
		m = metrics.New()
	}
	if sink == nil {
		sink = presenter.Multi{}
	}
	return &Pipeline{
		provider: provider,
		sink:     sink,
		metrics:  m,
		opts:     opts,
		queue:    make(chan *types.Frame, opts.QueueSize),
	}
}

// Submit queues a frame without blocking. Frames without a number or
// timestamp get one assigned.
func (p *Pipeline) Submit(frame *types.Frame) error {
	if frame == nil {
		return errors.New("nil frame")
	}
	if p.paused.Load() {
		return ErrPaused
	}

	p.metrics.FramesReceived.Add(1)
	if frame.FrameNum == 0 {
		frame.FrameNum = p.frameNum.Add(1)
	}
	if frame.Timestamp.IsZero() {
		frame.Timestamp = time.Now()
	}

	select {
	case p.queue <- frame:
		return nil
	default:
		p.metrics.FramesDropped.Add(1)
		return ErrQueueFull
	}
}

// Pause stops accepting frames; Run discards the ones already queued
func (p *Pipeline) Pause() {
	if !p.paused.Swap(true) {
		logger.Info("Pipeline", "Session stopped")
	}
}

// Resume accepts frames again
func (p *Pipeline) Resume() {
	if p.paused.Swap(false) {
		logger.Info("Pipeline", "Session started")
	}
}

// Paused reports whether the session is stopped
func (p *Pipeline) Paused() bool {
	return p.paused.Load()
}

// QueueLen returns the number of frames waiting
func (p *Pipeline) QueueLen() int {
	return len(p.queue)
}

// Run processes queued frames until ctx is canceled
func (p *Pipeline) Run(ctx context.Context) error {
	logger.Info("Pipeline", "Starting frame pipeline (queue=%d, detect timeout=%v)", cap(p.queue), p.opts.DetectTimeout)

	for {
		select {
		case <-ctx.Done():
			logger.Info("Pipeline", "Frame pipeline stopped")
			return nil
		case frame := <-p.queue:
			if p.paused.Load() {
				continue
			}
			p.ProcessFrame(ctx, frame)
		}
	}
}

// ProcessFrame detects, classifies and presents one frame. Provider and sink
// failures, panics included, are contained to this frame.
func (p *Pipeline) ProcessFrame(ctx context.Context, frame *types.Frame) presenter.Report {
	report := presenter.Report{
		FrameNumber: frame.FrameNum,
		Timestamp:   frame.Timestamp,
		Width:       frame.Width,
		Height:      frame.Height,
		Frame:       frame,
	}

	faces, err := p.detect(ctx, frame)
	p.metrics.FramesProcessed.Add(1)

	switch {
	case err != nil:
		detectErr := &pose.DetectError{Frame: frame.FrameNum, Cause: err}
		p.metrics.DetectErrors.Add(1)
		logger.Warn("Pipeline", "Failed to detect faces: %v", detectErr)
		report.Outcome = presenter.DetectFailed
		report.Err = detectErr.Error()

	case len(faces) == 0:
		p.metrics.EmptyFrames.Add(1)
		logger.Debug("Pipeline", "Frame %d: face detector returned no results", frame.FrameNum)
		report.Outcome = presenter.NoFaces

	default:
		report.Outcome = presenter.Faces
		report.Faces = make([]presenter.Overlay, 0, len(faces))
		for _, face := range faces {
			logger.Debug("Pipeline", "Frame %d: RotX: %v RotY: %v RotZ: %v Smiling Prob.: %v",
				frame.FrameNum, face.PitchDegrees, face.YawDegrees, face.RollDegrees, face.SmileScore)

			overlay := presenter.NewOverlay(face, frame.Width, frame.Height)
			for _, tag := range overlay.Tags {
				p.metrics.ObserveTag(tag.String())
			}
			report.Faces = append(report.Faces, overlay)
		}
		p.metrics.FacesDetected.Add(uint64(len(faces)))
	}

	p.present(report)
	return report
}

func (p *Pipeline) detect(ctx context.Context, frame *types.Frame) (faces []pose.Face, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.metrics.FramePanics.Add(1)
			err = fmt.Errorf("provider panic: %v", r)
		}
	}()

	if p.provider == nil {
		return nil, pose.ErrNotConnected
	}
	if p.opts.DetectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.DetectTimeout)
		defer cancel()
	}

	start := time.Now()
	faces, err = p.provider.Detect(ctx, frame)
	p.metrics.UpdateDetectLatency(time.Since(start))
	return faces, err
}

func (p *Pipeline) present(report presenter.Report) {
	defer func() {
		if r := recover(); r != nil {
			p.metrics.FramePanics.Add(1)
			logger.Error("Pipeline", "Sink panic on frame %d: %v", report.FrameNumber, r)
		}
	}()

	start := time.Now()
	p.sink.Present(report)
	p.metrics.UpdatePresentLatency(time.Since(start))
}

// Metrics returns the counters the pipeline updates
func (p *Pipeline) Metrics() *metrics.Metrics {
	return p.metrics
}
