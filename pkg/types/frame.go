package types

import (
	"fmt"
	"strings"
	"time"
)

// Frame represents one encoded video frame with its capture metadata
type Frame struct {
	Data        []byte      // Encoded image (JPEG, PNG or WebP)
	ContentType string      // MIME type of Data, empty if unknown
	Timestamp   time.Time   // Frame capture timestamp
	FrameNum    uint64      // Sequential frame number
	Width       int         // Pixel width of the stored image
	Height      int         // Pixel height of the stored image
	Orientation Orientation // How the stored pixels relate to the display orientation
}

// Orientation describes how stored pixels must be transformed for display.
// The mirrored variants are what a front-facing camera produces.
type Orientation uint8

const (
	OrientationUp            Orientation = iota // Displayed as stored
	OrientationDown                             // Rotate 180°
	OrientationLeft                             // Rotate 90° clockwise
	OrientationRight                            // Rotate 90° counter-clockwise
	OrientationUpMirrored                       // Flip horizontally
	OrientationDownMirrored                     // Rotate 180°, then flip
	OrientationLeftMirrored                     // Rotate 90° clockwise, then flip
	OrientationRightMirrored                    // Rotate 90° counter-clockwise, then flip
)

var orientationNames = map[Orientation]string{
	OrientationUp:            "up",
	OrientationDown:          "down",
	OrientationLeft:          "left",
	OrientationRight:         "right",
	OrientationUpMirrored:    "upMirrored",
	OrientationDownMirrored:  "downMirrored",
	OrientationLeftMirrored:  "leftMirrored",
	OrientationRightMirrored: "rightMirrored",
}

// String returns the orientation name
func (o Orientation) String() string {
	if name, ok := orientationNames[o]; ok {
		return name
	}
	return "unknown"
}

// Mirrored reports whether the orientation includes a horizontal flip
func (o Orientation) Mirrored() bool {
	return o >= OrientationUpMirrored && o <= OrientationRightMirrored
}

// MarshalText implements encoding.TextMarshaler
func (o Orientation) MarshalText() ([]byte, error) {
	if _, ok := orientationNames[o]; !ok {
		return nil, fmt.Errorf("invalid orientation: %d", o)
	}
	return []byte(o.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (o *Orientation) UnmarshalText(text []byte) error {
	parsed, err := ParseOrientation(string(text))
	if err != nil {
		return err
	}
	*o = parsed
	return nil
}

// ParseOrientation parses an orientation name (case-insensitive).
// An empty string means OrientationUp.
func ParseOrientation(s string) (Orientation, error) {
	if s == "" {
		return OrientationUp, nil
	}
	for o, name := range orientationNames {
		if strings.EqualFold(name, s) {
			return o, nil
		}
	}
	return OrientationUp, fmt.Errorf("invalid orientation: %s", s)
}
