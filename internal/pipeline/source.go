package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"time"

	"github.com/dj-oyu/face-status-server/internal/logger"
	"github.com/dj-oyu/face-status-server/internal/presenter"
	"github.com/dj-oyu/face-status-server/pkg/types"
	_ "golang.org/x/image/webp"
)

// NewFrame wraps an encoded image, reading its dimensions from the header.
// contentType is sniffed when empty.
func NewFrame(data []byte, contentType string, orientation types.Orientation) (*types.Frame, error) {
	if len(data) == 0 {
		return nil, errors.New("empty frame")
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("unsupported frame data: %w", err)
	}
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
		if contentType == "application/octet-stream" {
			contentType = "image/" + format
		}
	}

	return &types.Frame{
		Data:        data,
		ContentType: contentType,
		Width:       cfg.Width,
		Height:      cfg.Height,
		Orientation: orientation,
	}, nil
}

// SyntheticSource feeds color-bar frames at a fixed rate, standing in for a
// camera so a replay provider can drive the server
type SyntheticSource struct {
	FPS         float64
	Width       int
	Height      int
	Orientation types.Orientation
}

// Run submits frames to p until ctx is canceled
func (s SyntheticSource) Run(ctx context.Context, p *Pipeline) error {
	if s.FPS <= 0 {
		return fmt.Errorf("invalid synthetic frame rate: %v", s.FPS)
	}

	data, err := presenter.BlankJPEG(s.Width, s.Height)
	if err != nil {
		return fmt.Errorf("render synthetic frame: %w", err)
	}
	template, err := NewFrame(data, "image/jpeg", s.Orientation)
	if err != nil {
		return err
	}

	interval := time.Duration(float64(time.Second) / s.FPS)
	logger.Info("Source", "Starting synthetic source (%dx%d at %.1f fps)", template.Width, template.Height, s.FPS)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	dropped := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			frame := *template
			err := p.Submit(&frame)
			switch {
			case errors.Is(err, ErrQueueFull):
				dropped++
				if dropped%30 == 1 {
					logger.Debug("Source", "Pipeline busy, dropped %d synthetic frames", dropped)
				}
			case errors.Is(err, ErrPaused):
				// session stopped
			case err != nil:
				logger.Warn("Source", "Submit failed: %v", err)
			}
		}
	}
}
