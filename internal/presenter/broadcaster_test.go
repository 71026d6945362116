package presenter

import (
	"encoding/base64"
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/dj-oyu/face-status-server/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

func faceReport(frame uint64, status string) Report {
	return Report{
		FrameNumber: frame,
		Timestamp:   time.Unix(1700000000, 0).UTC(),
		Width:       640,
		Height:      480,
		Outcome:     Faces,
		Faces:       []Overlay{{Status: status, Rect: NormalizedRect{X: 0.1, Y: 0.2, Width: 0.3, Height: 0.4}}},
	}
}

func receive(t *testing.T, ch <-chan *SerializedEvent) *SerializedEvent {
	t.Helper()
	select {
	case ev := <-ch:
		require.NotNil(t, ev)
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event received")
		return nil
	}
}

func TestBroadcasterKeepsStatusWithoutFaces(t *testing.T) {
	b := NewBroadcaster(nil)

	b.Present(faceReport(1, "Up, Smiling"))
	b.Present(Report{FrameNumber: 2, Outcome: NoFaces})
	b.Present(Report{FrameNumber: 3, Outcome: DetectFailed, Err: "timeout"})

	st := b.Snapshot()
	assert.Equal(t, 3, st.Version)
	assert.Equal(t, "Up, Smiling", st.Status)
	assert.True(t, st.Rect.IsZero())
	require.NotNil(t, st.Latest)
	assert.Equal(t, DetectFailed, st.Latest.Outcome)
	assert.Equal(t, "timeout", st.Latest.Err)
	require.Len(t, st.History, 1)
	assert.Equal(t, uint64(1), st.History[0].FrameNumber)
}

func TestBroadcasterHistoryIsBounded(t *testing.T) {
	b := NewBroadcaster(nil)
	for i := uint64(1); i <= 12; i++ {
		b.Present(faceReport(i, "Up"))
	}
	st := b.Snapshot()
	require.Len(t, st.History, historySize)
	assert.Equal(t, uint64(12), st.History[0].FrameNumber)
	assert.Equal(t, uint64(5), st.History[historySize-1].FrameNumber)
}

func TestBroadcasterFanOut(t *testing.T) {
	m := metrics.New()
	b := NewBroadcaster(m)

	id1, ch1 := b.Subscribe()
	id2, ch2 := b.Subscribe()
	assert.Equal(t, 2, b.ClientCount())
	assert.Equal(t, int64(2), m.StreamClients.Load())

	b.Present(faceReport(7, "Right"))

	for _, ch := range []<-chan *SerializedEvent{ch1, ch2} {
		ev := receive(t, ch)

		var decoded map[string]any
		require.NoError(t, json.Unmarshal(ev.JSONData, &decoded))
		assert.Equal(t, "Right", decoded["status"])
		assert.Equal(t, "faces", decoded["outcome"])
		assert.EqualValues(t, 7, decoded["frame_number"])

		raw, err := base64.StdEncoding.DecodeString(string(ev.ProtobufData))
		require.NoError(t, err)
		var st structpb.Struct
		require.NoError(t, proto.Unmarshal(raw, &st))
		assert.Equal(t, "Right", st.Fields["status"].GetStringValue())
		assert.Equal(t, 7.0, st.Fields["frame_number"].GetNumberValue())
	}

	b.Unsubscribe(id1)
	b.Unsubscribe(id2)
	b.Unsubscribe(id2)
	assert.Equal(t, 0, b.ClientCount())
	assert.Equal(t, int64(0), m.StreamClients.Load())

	_, ok := <-ch1
	assert.False(t, ok)
}

func TestBroadcasterReplaysLatestToNewSubscriber(t *testing.T) {
	b := NewBroadcaster(nil)
	b.Present(faceReport(3, "Down"))

	_, ch := b.Subscribe()
	ev := receive(t, ch)
	assert.Contains(t, string(ev.JSONData), `"status":"Down"`)
}

func TestBroadcasterSlowClientDoesNotBlock(t *testing.T) {
	b := NewBroadcaster(nil)
	_, ch := b.Subscribe()

	done := make(chan struct{})
	go func() {
		for i := uint64(1); i <= 10; i++ {
			b.Present(faceReport(i, "Up"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Present blocked on a slow subscriber")
	}
	assert.Len(t, ch, 2)
}

func TestBroadcasterSkipsNonFiniteReports(t *testing.T) {
	b := NewBroadcaster(nil)
	_, ch := b.Subscribe()

	b.Present(faceReport(1, "Up"))
	receive(t, ch)

	bad := faceReport(2, "Smiling")
	bad.Faces[0].RotX = math.NaN()
	b.Present(bad)
	inf := faceReport(3, "Down")
	inf.Faces[0].Smiling = math.Inf(1)
	b.Present(inf)

	assert.Len(t, ch, 0, "unencodable reports are not broadcast")
	st := b.Snapshot()
	assert.Equal(t, 1, st.Version)
	assert.Equal(t, "Up", st.Status)
	require.NotNil(t, st.Latest)
	assert.Equal(t, uint64(1), st.Latest.FrameNumber)
	require.Len(t, st.History, 1)

	_, err := json.Marshal(st)
	require.NoError(t, err)

	b.Present(faceReport(4, "Left"))
	ev := receive(t, ch)
	assert.Contains(t, string(ev.JSONData), `"version":2`)
	assert.Equal(t, "Left", b.Snapshot().Status)
}
