package facestatus

import "strings"

// Thresholds. All comparisons are inclusive.
const (
	UpPitch    = 18.0
	DownPitch  = -18.0
	RightYaw   = 35.0
	LeftYaw    = -35.0
	SmileScore = 0.95
)

// Pose is the part of a detected face the classifier looks at.
type Pose struct {
	PitchDegrees float64 `json:"pitch"` // rotation around the horizontal axis (nodding)
	YawDegrees   float64 `json:"yaw"`   // rotation around the vertical axis (turning)
	SmileScore   float64 `json:"smile"` // smiling confidence in [0,1]
}

// Result is the ordered list of tags that apply to one pose.
type Result []Tag

// Classify maps a pose to its status tags in the order Up, Down, Right, Left, Smiling.
// Every predicate is checked on its own; NaN never satisfies one.
func Classify(p Pose) Result {
	status := make(Result, 0, 3)

	if p.PitchDegrees >= UpPitch {
		status = append(status, Up)
	}
	if p.PitchDegrees <= DownPitch {
		status = append(status, Down)
	}
	if p.YawDegrees >= RightYaw {
		status = append(status, Right)
	}
	if p.YawDegrees <= LeftYaw {
		status = append(status, Left)
	}
	if p.SmileScore >= SmileScore {
		status = append(status, Smiling)
	}

	return status
}

// Contains reports whether t is in the result
func (r Result) Contains(t Tag) bool {
	for _, tag := range r {
		if tag == t {
			return true
		}
	}
	return false
}

// Strings returns the display values in order
func (r Result) Strings() []string {
	out := make([]string, len(r))
	for i, tag := range r {
		out[i] = tag.String()
	}
	return out
}

// String joins the display values with ", ". An empty result yields "".
func (r Result) String() string {
	return strings.Join(r.Strings(), ", ")
}
