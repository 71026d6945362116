package presenter

import (
	"image"
	"math"
	"strconv"
	"strings"

	"github.com/dj-oyu/face-status-server/internal/facestatus"
	"github.com/dj-oyu/face-status-server/internal/pose"
)

// displayPlaces is the rounding applied to angles and smile score on screen
const displayPlaces = 2

// NormalizedRect is a face rectangle in [0,1] frame-relative coordinates
type NormalizedRect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// IsZero reports whether r is the empty rectangle shown when no face is present
func (r NormalizedRect) IsZero() bool {
	return r == NormalizedRect{}
}

// Normalize divides a pixel rectangle by the frame dimensions. Frames with
// unknown dimensions yield the zero rectangle.
func Normalize(b pose.Rect, width, height int) NormalizedRect {
	if width <= 0 || height <= 0 {
		return NormalizedRect{}
	}
	w, h := float64(width), float64(height)
	return NormalizedRect{
		X:      b.X / w,
		Y:      b.Y / h,
		Width:  b.Width / w,
		Height: b.Height / h,
	}
}

// ToDisplay maps r onto a display of the given size. The result is
// canonical, so negative widths or heights are flipped.
func (r NormalizedRect) ToDisplay(width, height int) image.Rectangle {
	w, h := float64(width), float64(height)
	x0 := int(math.Round(r.X * w))
	y0 := int(math.Round(r.Y * h))
	x1 := int(math.Round((r.X + r.Width) * w))
	y1 := int(math.Round((r.Y + r.Height) * h))
	return image.Rect(x0, y0, x1, y1)
}

// Overlay is what a display shows for one face
type Overlay struct {
	Rect    NormalizedRect    `json:"rect"`
	Tags    facestatus.Result `json:"tags"`
	Status  string            `json:"status"`
	RotX    float64           `json:"rot_x"`
	RotY    float64           `json:"rot_y"`
	RotZ    float64           `json:"rot_z"`
	Smiling float64           `json:"smiling"`
}

// NewOverlay classifies face and prepares its display values
func NewOverlay(face pose.Face, width, height int) Overlay {
	tags := facestatus.Classify(face.Pose())
	return Overlay{
		Rect:    Normalize(face.Bounds, width, height),
		Tags:    tags,
		Status:  tags.String(),
		RotX:    facestatus.Round(face.PitchDegrees, displayPlaces),
		RotY:    facestatus.Round(face.YawDegrees, displayPlaces),
		RotZ:    facestatus.Round(face.RollDegrees, displayPlaces),
		Smiling: facestatus.Round(face.SmileScore, displayPlaces),
	}
}

// ParamLabels returns the per-face parameter lines
func (o Overlay) ParamLabels() []string {
	return []string{
		"RotX: " + formatValue(o.RotX),
		"RotY: " + formatValue(o.RotY),
		"RotZ: " + formatValue(o.RotZ),
		"Smiling Prob.: " + formatValue(o.Smiling),
	}
}

// formatValue prints the shortest form, keeping one decimal on whole numbers
func formatValue(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if math.IsInf(v, 0) || math.IsNaN(v) || strings.Contains(s, ".") {
		return s
	}
	return s + ".0"
}
