package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const defaultRequestTimeout = 2 * time.Second

type testClient struct {
	baseURL string
	client  *http.Client
}

func newTestClient(t *testing.T, srv *Server) *testClient {
	t.Helper()
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testClient{
		baseURL: ts.URL,
		client:  &http.Client{Timeout: defaultRequestTimeout},
	}
}

func (c *testClient) do(t *testing.T, req *http.Request) (*http.Response, []byte) {
	t.Helper()
	resp, err := c.client.Do(req)
	require.NoError(t, err, "request failed")
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err, "read response")
	_ = resp.Body.Close()
	return resp, body
}

func (c *testClient) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, c.baseURL+path, nil)
	require.NoError(t, err)
	return c.do(t, req)
}

func (c *testClient) post(t *testing.T, path, contentType string, body []byte) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	require.NoError(t, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return c.do(t, req)
}

func (c *testClient) postJSON(t *testing.T, path string, payload any) (*http.Response, []byte) {
	t.Helper()
	var data []byte
	if payload != nil {
		var err error
		data, err = json.Marshal(payload)
		require.NoError(t, err, "marshal payload")
	}
	return c.post(t, path, "application/json", data)
}

// readSSEEvent returns the first complete event on the stream at url
func readSSEEvent(url, accept string, timeout time.Duration) (string, http.Header, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", nil, fmt.Errorf("build request: %w", err)
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	buf := make([]byte, 0, 4096)
	tmp := make([]byte, 256)
	for {
		n, readErr := resp.Body.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
			if idx := bytes.Index(buf, []byte("\n\n")); idx >= 0 {
				return string(buf[:idx]), resp.Header, nil
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				return "", nil, fmt.Errorf("sse stream closed before event")
			}
			return "", nil, fmt.Errorf("read sse: %w", readErr)
		}
	}
}

// sseData returns the data line of an event
func sseData(t *testing.T, event string) string {
	t.Helper()
	for _, line := range strings.Split(event, "\n") {
		if strings.HasPrefix(line, "data:") {
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			require.NotEmpty(t, payload, "empty sse data line")
			return payload
		}
	}
	t.Fatalf("no data line in sse event: %q", event)
	return ""
}

func decodeJSONMap(t *testing.T, body []byte) map[string]any {
	t.Helper()
	var payload map[string]any
	require.NoError(t, json.Unmarshal(body, &payload), "decode json\nbody=%s", string(body))
	return payload
}

func requireString(t *testing.T, value any, field string) string {
	t.Helper()
	str, ok := value.(string)
	require.True(t, ok, "expected %s to be string, got %T", field, value)
	return str
}

func requireNumber(t *testing.T, value any, field string) float64 {
	t.Helper()
	num, ok := value.(float64)
	require.True(t, ok, "expected %s to be number, got %T", field, value)
	return num
}

func requireMap(t *testing.T, value any, field string) map[string]any {
	t.Helper()
	m, ok := value.(map[string]any)
	require.True(t, ok, "expected %s to be object, got %T", field, value)
	return m
}

func requireSlice(t *testing.T, value any, field string) []any {
	t.Helper()
	s, ok := value.([]any)
	require.True(t, ok, "expected %s to be array, got %T", field, value)
	return s
}

// assertFaceEvent checks the shape shared by stream events and status history
func assertFaceEvent(t *testing.T, payload map[string]any, field string) {
	t.Helper()
	requireNumber(t, payload["frame_number"], field+".frame_number")
	requireString(t, payload["timestamp"], field+".timestamp")
	requireString(t, payload["outcome"], field+".outcome")
	faces := requireSlice(t, payload["faces"], field+".faces")
	for i, raw := range faces {
		face := requireMap(t, raw, fmt.Sprintf("%s.faces[%d]", field, i))
		requireString(t, face["status"], "faces.status")
		requireSlice(t, face["tags"], "faces.tags")
		requireNumber(t, face["rot_x"], "faces.rot_x")
		requireNumber(t, face["rot_y"], "faces.rot_y")
		requireNumber(t, face["rot_z"], "faces.rot_z")
		requireNumber(t, face["smiling"], "faces.smiling")
		rect := requireMap(t, face["rect"], "faces.rect")
		for _, key := range []string{"x", "y", "width", "height"} {
			requireNumber(t, rect[key], "faces.rect."+key)
		}
	}
}
