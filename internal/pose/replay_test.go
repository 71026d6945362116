package pose

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dj-oyu/face-status-server/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const cycleScript = `
# two frames then a failure
{"faces":[{"bounds":{"x":10,"y":20,"width":100,"height":120},"pitch":20,"yaw":0,"roll":1.5,"smile":0.1}]}
{"faces":[]}
{"error":"camera busy"}
`

func TestReplayCycles(t *testing.T) {
	p, err := NewReplayProvider(strings.NewReader(cycleScript))
	require.NoError(t, err)
	assert.Equal(t, 3, p.Len())

	ctx := context.Background()
	frame := &types.Frame{FrameNum: 1}

	faces, err := p.Detect(ctx, frame)
	require.NoError(t, err)
	require.Len(t, faces, 1)
	assert.Equal(t, 20.0, faces[0].PitchDegrees)
	assert.Equal(t, Rect{X: 10, Y: 20, Width: 100, Height: 120}, faces[0].Bounds)

	faces, err = p.Detect(ctx, frame)
	require.NoError(t, err)
	assert.NotNil(t, faces)
	assert.Empty(t, faces)

	_, err = p.Detect(ctx, frame)
	require.EqualError(t, err, "camera busy")

	// wraps around
	faces, err = p.Detect(ctx, frame)
	require.NoError(t, err)
	assert.Len(t, faces, 1)
}

func TestReplayByFrame(t *testing.T) {
	p, err := NewReplayProviderFromEntries([]ReplayEntry{
		{Frame: 2, Faces: []Face{{SmileScore: 0.99}}},
		{Frame: 5, Error: "timeout"},
	})
	require.NoError(t, err)

	ctx := context.Background()

	faces, err := p.Detect(ctx, &types.Frame{FrameNum: 1})
	require.NoError(t, err)
	assert.Empty(t, faces)

	faces, err = p.Detect(ctx, &types.Frame{FrameNum: 2})
	require.NoError(t, err)
	require.Len(t, faces, 1)
	assert.Equal(t, 0.99, faces[0].SmileScore)

	_, err = p.Detect(ctx, &types.Frame{FrameNum: 5})
	assert.EqualError(t, err, "timeout")
}

func TestReplayReturnsCopies(t *testing.T) {
	p, err := NewReplayProviderFromEntries([]ReplayEntry{{Faces: []Face{{PitchDegrees: 1}}}})
	require.NoError(t, err)

	faces, err := p.Detect(context.Background(), &types.Frame{})
	require.NoError(t, err)
	faces[0].PitchDegrees = 99

	faces, err = p.Detect(context.Background(), &types.Frame{})
	require.NoError(t, err)
	assert.Equal(t, 1.0, faces[0].PitchDegrees)
}

func TestReplayRejectsBadScripts(t *testing.T) {
	_, err := NewReplayProvider(strings.NewReader("\n# nothing\n"))
	assert.Error(t, err)

	_, err = NewReplayProvider(strings.NewReader("{\"faces\":[]}\nnot json\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")

	_, err = NewReplayProviderFromEntries([]ReplayEntry{{Frame: 3}, {Frame: 3}})
	assert.Error(t, err)
}

func TestReplayCanceledContext(t *testing.T) {
	p, err := NewReplayProviderFromEntries([]ReplayEntry{{}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Detect(ctx, &types.Frame{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoadReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "faces.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(cycleScript), 0o644))

	p, err := LoadReplay(path)
	require.NoError(t, err)
	assert.Equal(t, 3, p.Len())

	_, err = LoadReplay(filepath.Join(t.TempDir(), "missing.jsonl"))
	assert.Error(t, err)
}

func TestFuncAndDetectError(t *testing.T) {
	var called bool
	var p Provider = Func(func(ctx context.Context, frame *types.Frame) ([]Face, error) {
		called = true
		return nil, ErrNotConnected
	})

	_, err := p.Detect(context.Background(), &types.Frame{FrameNum: 7})
	assert.True(t, called)

	wrapped := &DetectError{Frame: 7, Cause: err}
	assert.ErrorIs(t, wrapped, ErrNotConnected)
	assert.Equal(t, "detect frame 7: pose provider not connected", wrapped.Error())
}

func TestFacePose(t *testing.T) {
	f := Face{PitchDegrees: 1, YawDegrees: 2, RollDegrees: 3, SmileScore: 0.5}
	p := f.Pose()
	assert.Equal(t, 1.0, p.PitchDegrees)
	assert.Equal(t, 2.0, p.YawDegrees)
	assert.Equal(t, 0.5, p.SmileScore)
}
