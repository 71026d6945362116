// Package facestatus derives descriptive status tags from a face pose.
package facestatus

import (
	"fmt"
	"strings"
)

// Tag is one descriptive status of a face
type Tag uint8

const (
	Up Tag = iota + 1
	Down
	Left
	Right
	Smiling
)

var tagNames = map[Tag]string{
	Up:      "Up",
	Down:    "Down",
	Left:    "Left",
	Right:   "Right",
	Smiling: "Smiling",
}

// String returns the display value of the tag
func (t Tag) String() string {
	if name, ok := tagNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Tag(%d)", uint8(t))
}

// MarshalText implements encoding.TextMarshaler
func (t Tag) MarshalText() ([]byte, error) {
	name, ok := tagNames[t]
	if !ok {
		return nil, fmt.Errorf("invalid status tag: %d", uint8(t))
	}
	return []byte(name), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (t *Tag) UnmarshalText(text []byte) error {
	parsed, err := ParseTag(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseTag parses a display value such as "Up" (case-insensitive)
func ParseTag(s string) (Tag, error) {
	for t, name := range tagNames {
		if strings.EqualFold(name, s) {
			return t, nil
		}
	}
	return 0, fmt.Errorf("invalid status tag: %q", s)
}

// AllTags returns every tag in evaluation order
func AllTags() []Tag {
	return []Tag{Up, Down, Right, Left, Smiling}
}
