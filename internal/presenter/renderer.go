package presenter

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/png"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/dj-oyu/face-status-server/pkg/types"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	_ "golang.org/x/image/webp"
)

var (
	rectColor  = color.NRGBA{R: 255, G: 255, B: 0, A: 255}
	textColor  = color.NRGBA{R: 255, G: 255, B: 255, A: 255}
	labelColor = color.NRGBA{R: 0, G: 0, B: 0, A: 160}
)

// Renderer draws the latest report onto the latest frame for the MJPEG
// stream. Drawing happens lazily in Render.
type Renderer struct {
	quality int

	mu      sync.Mutex
	frame   *types.Frame
	report  Report
	status  string
	version int
}

// NewRenderer creates a renderer encoding at the given JPEG quality
func NewRenderer(quality int) *Renderer {
	if quality <= 0 || quality > 100 {
		quality = 75
	}
	return &Renderer{quality: quality}
}

// Present stores the report and its frame
func (r *Renderer) Present(report Report) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if report.Frame != nil {
		r.frame = report.Frame
	}
	if report.UpdatesStatus() {
		primary, _ := report.Primary()
		r.status = primary.Status
	}
	r.report = report
	r.version++
}

// Version increments on every Present
func (r *Renderer) Version() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.version
}

// Render returns the annotated frame as JPEG. ok is false until a frame has
// been presented.
func (r *Renderer) Render() (data []byte, ok bool, err error) {
	r.mu.Lock()
	frame := r.frame
	report := r.report
	status := r.status
	r.mu.Unlock()

	if frame == nil || len(frame.Data) == 0 {
		return nil, false, nil
	}

	src, err := imaging.Decode(bytes.NewReader(frame.Data))
	if err != nil {
		return nil, false, fmt.Errorf("decode frame %d: %w", frame.FrameNum, err)
	}

	img := Annotate(src, frame.Orientation, report, status)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(r.quality)); err != nil {
		return nil, false, fmt.Errorf("encode frame %d: %w", frame.FrameNum, err)
	}
	return buf.Bytes(), true, nil
}

// Annotate turns src upright and draws the face rectangle, the status and the
// parameter labels of the report's primary face.
func Annotate(src image.Image, orientation types.Orientation, report Report, status string) *image.NRGBA {
	img := Orient(src, orientation)
	bounds := img.Bounds()

	lines := []string{status}
	if primary, ok := report.Primary(); ok {
		rect := primary.Rect.ToDisplay(bounds.Dx(), bounds.Dy()).Add(bounds.Min)
		strokeRect(img, rect, rectColor)
		lines = append(lines, primary.ParamLabels()...)
	}

	drawLabels(img, lines)
	return img
}

// Orient rotates and flips src so that it displays upright
func Orient(src image.Image, o types.Orientation) *image.NRGBA {
	var img *image.NRGBA
	switch o {
	case types.OrientationDown, types.OrientationDownMirrored:
		img = imaging.Rotate180(src)
	case types.OrientationLeft, types.OrientationLeftMirrored:
		img = imaging.Rotate270(src)
	case types.OrientationRight, types.OrientationRightMirrored:
		img = imaging.Rotate90(src)
	default:
		img = imaging.Clone(src)
	}
	if o.Mirrored() {
		img = imaging.FlipH(img)
	}
	return img
}

// strokeRect draws a 1px outline, clipped to img
func strokeRect(img draw.Image, rect image.Rectangle, c color.Color) {
	if rect.Empty() {
		return
	}
	clip := img.Bounds()
	set := func(x, y int) {
		if (image.Point{X: x, Y: y}).In(clip) {
			img.Set(x, y, c)
		}
	}
	for x := rect.Min.X; x < rect.Max.X; x++ {
		set(x, rect.Min.Y)
		set(x, rect.Max.Y-1)
	}
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		set(rect.Min.X, y)
		set(rect.Max.X-1, y)
	}
}

// drawLabels writes one line per entry in the top-left corner over a
// translucent background
func drawLabels(img draw.Image, lines []string) {
	face := basicfont.Face7x13
	const pad = 4
	lineHeight := face.Metrics().Height.Ceil()

	d := &font.Drawer{Dst: img, Src: image.NewUniform(textColor), Face: face}
	y := img.Bounds().Min.Y + pad
	x := img.Bounds().Min.X + pad
	for _, line := range lines {
		if line == "" {
			continue
		}
		width := d.MeasureString(line).Ceil()
		bg := image.Rect(x-2, y, x+width+2, y+lineHeight)
		draw.Draw(img, bg, image.NewUniform(labelColor), image.Point{}, draw.Over)

		d.Dot = fixed.P(x, y+face.Metrics().Ascent.Ceil())
		d.DrawString(line)
		y += lineHeight + 2
	}
}
