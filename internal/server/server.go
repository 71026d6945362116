// Package server exposes the face status pipeline over HTTP: frame ingest,
// status queries and streams, recording control and WebRTC signalling.
package server

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dj-oyu/face-status-server/internal/facestatus"
	"github.com/dj-oyu/face-status-server/internal/logger"
	"github.com/dj-oyu/face-status-server/internal/metrics"
	"github.com/dj-oyu/face-status-server/internal/pipeline"
	"github.com/dj-oyu/face-status-server/internal/presenter"
	"github.com/dj-oyu/face-status-server/internal/recorder"
	"github.com/dj-oyu/face-status-server/internal/webrtc"
	"github.com/dj-oyu/face-status-server/pkg/types"
	"github.com/gorilla/mux"
)

// Options wires the server to the running components. Recorder and WebRTC
// may be nil, in which case their endpoints answer 503.
type Options struct {
	Pipeline    *pipeline.Pipeline
	Broadcaster *presenter.Broadcaster
	Renderer    *presenter.Renderer
	Recorder    *recorder.Recorder
	WebRTC      *webrtc.Server
	Metrics     *metrics.Metrics

	MetricsPath   string
	MJPEGInterval time.Duration
	KeepAlive     time.Duration // SSE keepalive comment interval
	MaxFrameBytes int64
}

// Server serves the face status endpoints.
type Server struct {
	opts      Options
	startTime time.Time

	jpegMu      sync.Mutex
	jpeg        []byte
	jpegVersion int
}

// New returns a configured server.
func New(opts Options) *Server {
	if opts.Metrics == nil {
		if opts.Pipeline != nil {
			opts.Metrics = opts.Pipeline.Metrics()
		} else {
			opts.Metrics = metrics.New()
		}
	}
	if opts.Broadcaster == nil {
		opts.Broadcaster = presenter.NewBroadcaster(opts.Metrics)
	}
	if opts.Renderer == nil {
		opts.Renderer = presenter.NewRenderer(75)
	}
	if opts.MetricsPath == "" {
		opts.MetricsPath = "/metrics"
	}
	if opts.MJPEGInterval <= 0 {
		opts.MJPEGInterval = 100 * time.Millisecond
	}
	if opts.KeepAlive <= 0 {
		opts.KeepAlive = 30 * time.Second
	}
	if opts.MaxFrameBytes <= 0 {
		opts.MaxFrameBytes = 10 << 20
	}

	return &Server{
		opts:        opts,
		startTime:   time.Now(),
		jpegVersion: -1,
	}
}

// Handler exposes the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/stream", s.handleStream).Methods(http.MethodGet)
	r.Handle(s.opts.MetricsPath, s.opts.Metrics.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/status/stream", s.handleStatusStream).Methods(http.MethodGet)
	api.HandleFunc("/frames", s.handleFrame).Methods(http.MethodPost)
	api.HandleFunc("/classify", s.handleClassify).Methods(http.MethodPost)
	api.HandleFunc("/session/start", s.handleSessionStart).Methods(http.MethodPost)
	api.HandleFunc("/session/stop", s.handleSessionStop).Methods(http.MethodPost)
	api.HandleFunc("/recording/start", s.handleRecordingStart).Methods(http.MethodPost)
	api.HandleFunc("/recording/stop", s.handleRecordingStop).Methods(http.MethodPost)
	api.HandleFunc("/recording/status", s.handleRecordingStatus).Methods(http.MethodGet)
	api.HandleFunc("/webrtc/offer", s.handleWebRTCOffer).Methods(http.MethodPost)

	return r
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexHTML))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{
		"status":         "ok",
		"uptime_seconds": time.Since(s.startTime).Seconds(),
		"session_active": s.sessionActive(),
		"stream_clients": s.opts.Broadcaster.ClientCount(),
		"recording":      s.opts.Recorder != nil && s.opts.Recorder.IsRecording(),
	}
	if s.opts.WebRTC != nil {
		payload["webrtc_clients"] = s.opts.WebRTC.ClientCount()
	}
	writeJSON(w, payload)
}

// sessionInfo describes the capture session
type sessionInfo struct {
	Active   bool `json:"active"`
	QueueLen int  `json:"queue_len"`
}

// statusResponse is the /api/status payload
type statusResponse struct {
	presenter.Status
	Session   sessionInfo      `json:"session"`
	Stats     metrics.Snapshot `json:"stats"`
	Timestamp float64          `json:"timestamp"`
}

func (s *Server) session() sessionInfo {
	info := sessionInfo{Active: s.sessionActive()}
	if s.opts.Pipeline != nil {
		info.QueueLen = s.opts.Pipeline.QueueLen()
	}
	return info
}

func (s *Server) sessionActive() bool {
	return s.opts.Pipeline != nil && !s.opts.Pipeline.Paused()
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, statusResponse{
		Status:    s.opts.Broadcaster.Snapshot(),
		Session:   s.session(),
		Stats:     s.opts.Metrics.Snapshot(),
		Timestamp: float64(time.Now().UnixMilli()) / 1000,
	})
}

func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	id, eventCh := s.opts.Broadcaster.Subscribe()
	defer s.opts.Broadcaster.Unsubscribe(id)

	// Content negotiation based on Accept header
	accept := r.Header.Get("Accept")
	useProtobuf := strings.Contains(accept, "application/protobuf") ||
		strings.Contains(accept, "application/x-protobuf")

	streamEventsFromChannel(w, r, eventCh, useProtobuf, s.opts.KeepAlive)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	streamMJPEG(w, r, s.opts.MJPEGInterval, s.latestJPEG)
}

// latestJPEG renders the newest report, reusing the last encoding while
// nothing changed
func (s *Server) latestJPEG() ([]byte, bool) {
	version := s.opts.Renderer.Version()

	s.jpegMu.Lock()
	defer s.jpegMu.Unlock()

	if version == s.jpegVersion && s.jpeg != nil {
		return s.jpeg, true
	}

	data, ok, err := s.opts.Renderer.Render()
	if err != nil {
		logger.Debug("MJPEG", "Render failed: %v", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	s.jpeg = data
	s.jpegVersion = version
	return data, true
}

// frameRequest is the JSON form of a frame upload
type frameRequest struct {
	Image       string `json:"image"` // base64
	Orientation string `json:"orientation"`
}

func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	if s.opts.Pipeline == nil {
		writeError(w, "pipeline is not running", http.StatusServiceUnavailable)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxFrameBytes)
	orientationName := r.URL.Query().Get("orientation")
	contentType := r.Header.Get("Content-Type")

	var data []byte
	var err error
	if strings.HasPrefix(contentType, "application/json") {
		var req frameRequest
		if err = json.NewDecoder(r.Body).Decode(&req); err == nil {
			data, err = base64.StdEncoding.DecodeString(req.Image)
			if req.Orientation != "" {
				orientationName = req.Orientation
			}
		}
		contentType = ""
	} else {
		data, err = io.ReadAll(r.Body)
	}
	if err != nil {
		writeError(w, fmt.Sprintf("invalid frame: %v", err), http.StatusBadRequest)
		return
	}

	orientation, err := types.ParseOrientation(orientationName)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	frame, err := pipeline.NewFrame(data, contentType, orientation)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	switch err := s.opts.Pipeline.Submit(frame); {
	case errors.Is(err, pipeline.ErrQueueFull):
		writeError(w, err.Error(), http.StatusServiceUnavailable)
		return
	case errors.Is(err, pipeline.ErrPaused):
		writeError(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSONWithStatus(w, map[string]any{
		"frame_number": frame.FrameNum,
		"width":        frame.Width,
		"height":       frame.Height,
		"orientation":  frame.Orientation,
	}, http.StatusAccepted)
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	var p facestatus.Pose
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, fmt.Sprintf("invalid pose: %v", err), http.StatusBadRequest)
		return
	}

	result := facestatus.Classify(p)
	writeJSON(w, map[string]any{
		"tags":   result.Strings(),
		"status": result.String(),
	})
}

func (s *Server) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	if s.opts.Pipeline == nil {
		writeError(w, "pipeline is not running", http.StatusServiceUnavailable)
		return
	}
	s.opts.Pipeline.Resume()
	writeJSON(w, s.session())
}

func (s *Server) handleSessionStop(w http.ResponseWriter, r *http.Request) {
	if s.opts.Pipeline == nil {
		writeError(w, "pipeline is not running", http.StatusServiceUnavailable)
		return
	}
	s.opts.Pipeline.Pause()
	writeJSON(w, s.session())
}

func (s *Server) handleRecordingStart(w http.ResponseWriter, r *http.Request) {
	if s.opts.Recorder == nil {
		writeError(w, "recorder is not configured", http.StatusServiceUnavailable)
		return
	}

	var req struct {
		Filename string `json:"filename"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, fmt.Sprintf("invalid request: %v", err), http.StatusBadRequest)
			return
		}
	}

	filename, err := s.opts.Recorder.Start(req.Filename)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, map[string]any{
		"status":     "recording",
		"file":       filename,
		"started_at": float64(time.Now().Unix()),
	})
}

func (s *Server) handleRecordingStop(w http.ResponseWriter, r *http.Request) {
	if s.opts.Recorder == nil {
		writeError(w, "recorder is not configured", http.StatusServiceUnavailable)
		return
	}

	filename, err := s.opts.Recorder.Stop()
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, map[string]any{
		"status":     "stopped",
		"file":       filename,
		"stats":      s.opts.Recorder.Status(),
		"stopped_at": float64(time.Now().Unix()),
	})
}

func (s *Server) handleRecordingStatus(w http.ResponseWriter, r *http.Request) {
	if s.opts.Recorder == nil {
		writeError(w, "recorder is not configured", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, s.opts.Recorder.Status())
}

func (s *Server) handleWebRTCOffer(w http.ResponseWriter, r *http.Request) {
	if s.opts.WebRTC == nil {
		writeError(w, "webrtc is not configured", http.StatusServiceUnavailable)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, "Invalid offer data", http.StatusBadRequest)
		return
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		writeError(w, "Invalid offer data", http.StatusBadRequest)
		return
	}
	if payload["sdp"] == nil || payload["type"] == nil {
		writeError(w, "Invalid offer data", http.StatusBadRequest)
		return
	}

	answer, err := s.opts.WebRTC.HandleOffer(body)
	if errors.Is(err, webrtc.ErrTooManyClients) {
		writeError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	if err != nil {
		logger.Warn("HTTP", "WebRTC offer error: %v", err)
		writeError(w, fmt.Sprintf("Failed to handle offer: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(answer)
}

func writeJSON(w http.ResponseWriter, payload any) {
	writeJSONWithStatus(w, payload, http.StatusOK)
}

func writeError(w http.ResponseWriter, message string, status int) {
	writeJSONWithStatus(w, map[string]any{"error": message}, status)
}

// writeJSONWithStatus encodes before writing the header, so a payload that
// cannot be encoded answers 500
func writeJSONWithStatus(w http.ResponseWriter, payload any, status int) {
	data, err := json.Marshal(payload)
	if err != nil {
		logger.Error("HTTP", "Failed to encode response: %v", err)
		status = http.StatusInternalServerError
		data, _ = json.Marshal(map[string]string{"error": err.Error()})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(data, '\n'))
}
