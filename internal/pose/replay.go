package pose

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/dj-oyu/face-status-server/pkg/types"
)

// ReplayEntry is one line of a replay script
type ReplayEntry struct {
	Frame uint64 `json:"frame,omitempty"`
	Faces []Face `json:"faces"`
	Error string `json:"error,omitempty"`
}

// ReplayProvider plays back recorded detection results.
//
// If any entry names a frame, entries are looked up by frame number and
// frames without an entry have no faces. Otherwise entries are returned in
// order, wrapping around at the end.
type ReplayProvider struct {
	mu      sync.Mutex
	entries []ReplayEntry
	byFrame map[uint64]int
	next    int
}

// LoadReplay reads a JSON-lines replay script from path
func LoadReplay(path string) (*ReplayProvider, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open replay script: %w", err)
	}
	defer f.Close()

	p, err := NewReplayProvider(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// NewReplayProvider parses a JSON-lines script. Blank lines and lines
// starting with '#' are skipped.
func NewReplayProvider(r io.Reader) (*ReplayProvider, error) {
	var entries []ReplayEntry

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		var entry ReplayEntry
		if err := json.Unmarshal([]byte(text), &entry); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read replay script: %w", err)
	}

	return NewReplayProviderFromEntries(entries)
}

// NewReplayProviderFromEntries builds a provider from in-memory entries
func NewReplayProviderFromEntries(entries []ReplayEntry) (*ReplayProvider, error) {
	if len(entries) == 0 {
		return nil, errors.New("replay script is empty")
	}

	p := &ReplayProvider{entries: entries}
	for i, entry := range entries {
		if entry.Frame == 0 {
			continue
		}
		if p.byFrame == nil {
			p.byFrame = make(map[uint64]int)
		}
		if _, dup := p.byFrame[entry.Frame]; dup {
			return nil, fmt.Errorf("duplicate entry for frame %d", entry.Frame)
		}
		p.byFrame[entry.Frame] = i
	}
	return p, nil
}

// Len returns the number of entries
func (p *ReplayProvider) Len() int {
	return len(p.entries)
}

// Detect returns the recorded faces for the frame
func (p *ReplayProvider) Detect(ctx context.Context, frame *types.Frame) ([]Face, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	var entry ReplayEntry
	if p.byFrame != nil {
		idx, ok := p.byFrame[frame.FrameNum]
		if !ok {
			p.mu.Unlock()
			return []Face{}, nil
		}
		entry = p.entries[idx]
	} else {
		entry = p.entries[p.next]
		p.next = (p.next + 1) % len(p.entries)
	}
	p.mu.Unlock()

	if entry.Error != "" {
		return nil, errors.New(entry.Error)
	}

	faces := make([]Face, len(entry.Faces))
	copy(faces, entry.Faces)
	return faces, nil
}
