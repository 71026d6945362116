package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/dj-oyu/face-status-server/internal/presenter"
	"github.com/dj-oyu/face-status-server/internal/webrtc"
	"github.com/dj-oyu/face-status-server/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

const partHeader = "--frame\r\nContent-Type: image/jpeg\r\n\r\n"

func newTestWebRTC() *webrtc.Server {
	return webrtc.NewServer(nil, 1, nil)
}

// readMJPEGPart returns the first JPEG part of the stream at url
func readMJPEGPart(t *testing.T, url string) (http.Header, []byte) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	r := bufio.NewReader(resp.Body)
	header := make([]byte, len(partHeader))
	_, err = io.ReadFull(r, header)
	require.NoError(t, err)
	require.Equal(t, partHeader, string(header))

	// a part ends at the next boundary
	var part []byte
	for !bytes.HasSuffix(part, []byte("\r\n--frame")) {
		b, err := r.ReadByte()
		require.NoError(t, err)
		part = append(part, b)
	}
	return resp.Header, bytes.TrimSuffix(part, []byte("\r\n--frame"))
}

func TestMJPEGStreamBlankFallback(t *testing.T) {
	client := newTestClient(t, New(Options{MJPEGInterval: 10 * time.Millisecond}))

	headers, part := readMJPEGPart(t, client.baseURL+"/stream")

	assert.Equal(t, "multipart/x-mixed-replace; boundary=frame", headers.Get("Content-Type"))
	assert.Equal(t, "no-cache", headers.Get("Cache-Control"))

	blank, err := presenter.BlankJPEG(0, 0)
	require.NoError(t, err)
	assert.Equal(t, blank, part)
}

func TestMJPEGStreamRendersLatestFrame(t *testing.T) {
	renderer := presenter.NewRenderer(80)
	srv := New(Options{Renderer: renderer, MJPEGInterval: 10 * time.Millisecond})
	client := newTestClient(t, srv)

	report := faceReport(1, smilingUp)
	report.Frame = &types.Frame{Data: blankFrame(t), ContentType: "image/jpeg", Width: 320, Height: 240}
	renderer.Present(report)

	_, part := readMJPEGPart(t, client.baseURL+"/stream")

	want, ok, err := renderer.Render()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want, part)
}

func TestLatestJPEGReusesEncoding(t *testing.T) {
	renderer := presenter.NewRenderer(80)
	srv := New(Options{Renderer: renderer})

	_, ok := srv.latestJPEG()
	assert.False(t, ok, "nothing rendered before the first frame")

	report := faceReport(1, smilingUp)
	report.Frame = &types.Frame{Data: blankFrame(t), ContentType: "image/jpeg", Width: 320, Height: 240}
	renderer.Present(report)

	first, ok := srv.latestJPEG()
	require.True(t, ok)
	second, ok := srv.latestJPEG()
	require.True(t, ok)
	assert.Same(t, &first[0], &second[0])

	renderer.Present(faceReport(2))
	third, ok := srv.latestJPEG()
	require.True(t, ok)
	assert.NotSame(t, &first[0], &third[0])
}

func TestStatusStreamJSON(t *testing.T) {
	broadcaster := presenter.NewBroadcaster(nil)
	client := newTestClient(t, New(Options{Broadcaster: broadcaster}))

	broadcaster.Present(faceReport(7, smilingUp))

	event, headers, err := readSSEEvent(client.baseURL+"/api/status/stream", "", 3*time.Second)
	require.NoError(t, err)
	assert.Contains(t, headers.Get("Content-Type"), "text/event-stream")
	assert.Equal(t, "application/json", headers.Get("X-Content-Format"))

	payload := decodeJSONMap(t, []byte(sseData(t, event)))
	assertFaceEvent(t, payload, "event")
	assert.Equal(t, float64(7), payload["frame_number"])
	assert.Equal(t, "Up, Smiling", payload["status"])
	assert.Equal(t, "faces", payload["outcome"])
}

func TestStatusStreamKeepsStatusWithoutFaces(t *testing.T) {
	broadcaster := presenter.NewBroadcaster(nil)
	client := newTestClient(t, New(Options{Broadcaster: broadcaster}))

	broadcaster.Present(faceReport(1, smilingUp))
	broadcaster.Present(faceReport(2))

	event, _, err := readSSEEvent(client.baseURL+"/api/status/stream", "", 3*time.Second)
	require.NoError(t, err)

	payload := decodeJSONMap(t, []byte(sseData(t, event)))
	assert.Equal(t, "no_faces", payload["outcome"])
	assert.Equal(t, "Up, Smiling", payload["status"])
	assert.Empty(t, payload["faces"])
}

func TestStatusStreamProtobuf(t *testing.T) {
	broadcaster := presenter.NewBroadcaster(nil)
	client := newTestClient(t, New(Options{Broadcaster: broadcaster}))

	broadcaster.Present(faceReport(3, smilingUp))

	event, headers, err := readSSEEvent(client.baseURL+"/api/status/stream", "application/x-protobuf", 3*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "application/protobuf", headers.Get("X-Content-Format"))

	raw, err := base64.StdEncoding.DecodeString(sseData(t, event))
	require.NoError(t, err)

	var st structpb.Struct
	require.NoError(t, proto.Unmarshal(raw, &st))
	assert.Equal(t, "Up, Smiling", st.Fields["status"].GetStringValue())
	assert.Equal(t, float64(3), st.Fields["frame_number"].GetNumberValue())
}

func TestStatusStreamKeepAlive(t *testing.T) {
	client := newTestClient(t, New(Options{KeepAlive: 20 * time.Millisecond}))

	event, _, err := readSSEEvent(client.baseURL+"/api/status/stream", "", 3*time.Second)
	require.NoError(t, err)
	assert.Equal(t, ": keepalive", event)
}

func TestStatusStreamUnsubscribesOnDisconnect(t *testing.T) {
	broadcaster := presenter.NewBroadcaster(nil)
	client := newTestClient(t, New(Options{Broadcaster: broadcaster}))
	broadcaster.Present(faceReport(1, smilingUp))

	_, _, err := readSSEEvent(client.baseURL+"/api/status/stream", "", 3*time.Second)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return broadcaster.ClientCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStatusStreamEventsInOrder(t *testing.T) {
	broadcaster := presenter.NewBroadcaster(nil)
	client := newTestClient(t, New(Options{Broadcaster: broadcaster}))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, client.baseURL+"/api/status/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Eventually(t, func() bool {
		return broadcaster.ClientCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	broadcaster.Present(faceReport(1, smilingUp))
	scanner := bufio.NewScanner(resp.Body)
	var frames []float64
	for len(frames) < 2 && scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var event struct {
			FrameNumber float64 `json:"frame_number"`
		}
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event))
		frames = append(frames, event.FrameNumber)
		if len(frames) == 1 {
			broadcaster.Present(faceReport(2))
		}
	}
	assert.Equal(t, []float64{1, 2}, frames)
}
