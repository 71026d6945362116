package presenter

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"

	"github.com/disintegration/imaging"
)

// Color bars: White, Yellow, Cyan, Green, Magenta, Red, Blue, Black
var barColors = []color.NRGBA{
	{R: 255, G: 255, B: 255, A: 255},
	{R: 255, G: 255, B: 0, A: 255},
	{R: 0, G: 255, B: 255, A: 255},
	{R: 0, G: 255, B: 0, A: 255},
	{R: 255, G: 0, B: 255, A: 255},
	{R: 255, G: 0, B: 0, A: 255},
	{R: 0, G: 0, B: 255, A: 255},
	{R: 0, G: 0, B: 0, A: 255},
}

// BlankJPEG renders a color-bar test frame, shown while no camera frame is
// available and fed by the synthetic source
func BlankJPEG(width, height int) ([]byte, error) {
	if width <= 0 || height <= 0 {
		width, height = 640, 480
	}
	img := imaging.New(width, height, color.NRGBA{A: 255})

	barWidth := (width + len(barColors) - 1) / len(barColors)
	for i, c := range barColors {
		bar := image.Rect(i*barWidth, 0, (i+1)*barWidth, height)
		draw.Draw(img, bar, image.NewUniform(c), image.Point{}, draw.Src)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(75)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
