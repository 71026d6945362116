package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerExportsCounters(t *testing.T) {
	m := New()
	m.FramesReceived.Add(3)
	m.DetectErrors.Add(1)
	m.ObserveTag("Up")
	m.ObserveTag("Up")
	m.ObserveTag("Smiling")
	m.UpdateDetectLatency(42 * time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	text := string(body)

	assert.Contains(t, text, "facestatus_frames_received_total 3")
	assert.Contains(t, text, "facestatus_detect_errors_total 1")
	assert.Contains(t, text, `facestatus_status_tags_total{tag="Up"} 2`)
	assert.Contains(t, text, `facestatus_status_tags_total{tag="Smiling"} 1`)
	assert.Contains(t, text, "facestatus_detect_latency_ms 42")
}

func TestTagCountAndSnapshot(t *testing.T) {
	m := New()
	assert.Equal(t, 0.0, m.TagCount("Left"))
	m.ObserveTag("Left")
	assert.Equal(t, 1.0, m.TagCount("Left"))

	m.EmptyFrames.Add(2)
	m.StreamClients.Add(1)
	snap := m.Snapshot()
	assert.Equal(t, uint64(2), snap.EmptyFrames)
	assert.Equal(t, int64(1), snap.StreamClients)
}
