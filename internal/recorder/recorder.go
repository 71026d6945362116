package recorder

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dj-oyu/face-status-server/internal/logger"
	"github.com/dj-oyu/face-status-server/internal/metrics"
	"github.com/dj-oyu/face-status-server/internal/presenter"
	"github.com/google/uuid"
)

var (
	ErrAlreadyRecording = errors.New("already recording")
	ErrNotRecording     = errors.New("not recording")
)

// Recorder writes frame reports to a JSON-lines session file
type Recorder struct {
	mu           sync.RWMutex
	file         *os.File
	filename     string
	basePath     string
	sessionID    string
	recording    bool
	reportCount  uint64
	bytesWritten uint64
	dropped      atomic.Uint64
	startTime    time.Time
	reportChan   chan presenter.Report
	stop         chan struct{}
	done         chan struct{}
	metrics      *metrics.Metrics
}

// NewRecorder creates a recorder writing under basePath. m may be nil.
func NewRecorder(basePath string, m *metrics.Metrics) *Recorder {
	return &Recorder{
		basePath: basePath,
		metrics:  m,
	}
}

// Start opens a new session file and returns its path. An empty name gets a
// generated one.
func (r *Recorder) Start(name string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.recording {
		return "", ErrAlreadyRecording
	}

	if err := os.MkdirAll(r.basePath, 0o755); err != nil {
		return "", fmt.Errorf("failed to create recordings directory: %w", err)
	}

	sessionID := uuid.NewString()
	filename := filepath.Base(name)
	if name == "" || filename == "." || filename == string(filepath.Separator) {
		timestamp := time.Now().Format("20060102_150405")
		filename = fmt.Sprintf("facestatus_%s_%s.jsonl", timestamp, sessionID[:8])
	} else if !strings.HasSuffix(filename, ".jsonl") {
		filename += ".jsonl"
	}
	path := filepath.Join(r.basePath, filename)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}

	// Initialize state
	r.file = file
	r.filename = path
	r.sessionID = sessionID
	r.recording = true
	r.reportCount = 0
	r.bytesWritten = 0
	r.dropped.Store(0)
	r.startTime = time.Now()
	r.reportChan = make(chan presenter.Report, 60)
	r.stop = make(chan struct{})
	r.done = make(chan struct{})
	r.setActive(1)

	go r.writeReports(file, r.reportChan, r.stop, r.done)

	logger.Info("Recorder", "Recording started: %s (session %s)", path, sessionID)
	return path, nil
}

// Stop finishes the session and returns the file path
func (r *Recorder) Stop() (string, error) {
	r.mu.Lock()
	if !r.recording {
		r.mu.Unlock()
		return "", ErrNotRecording
	}
	r.recording = false
	stop, done := r.stop, r.done
	r.mu.Unlock()

	// Wait for write goroutine to drain the queue
	close(stop)
	<-done

	r.mu.Lock()
	defer r.mu.Unlock()
	r.setActive(0)

	path := r.filename
	if r.file != nil {
		if err := r.file.Sync(); err != nil {
			return path, fmt.Errorf("failed to sync file: %w", err)
		}
		if err := r.file.Close(); err != nil {
			return path, fmt.Errorf("failed to close file: %w", err)
		}
		r.file = nil
	}

	logger.Info("Recorder", "Recording stopped: %s (%d reports, %d bytes)", path, r.reportCount, r.bytesWritten)
	return path, nil
}

// Present queues the report for writing without blocking
func (r *Recorder) Present(report presenter.Report) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.recording {
		return
	}

	select {
	case r.reportChan <- report:
	default:
		r.dropped.Add(1)
		if r.metrics != nil {
			r.metrics.RecordingDropped.Add(1)
		}
	}
}

func (r *Recorder) writeReports(file *os.File, reports <-chan presenter.Report, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	w := bufio.NewWriter(file)
	defer func() {
		if err := w.Flush(); err != nil {
			logger.Error("Recorder", "Failed to flush recording: %v", err)
		}
	}()

	for {
		select {
		case report := <-reports:
			r.writeReport(w, report)
		case <-stop:
			// Drain remaining reports
			for {
				select {
				case report := <-reports:
					r.writeReport(w, report)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) writeReport(w *bufio.Writer, report presenter.Report) {
	line, err := json.Marshal(report)
	if err != nil {
		logger.Warn("Recorder", "Skipping frame %d: %v", report.FrameNumber, err)
		return
	}
	line = append(line, '\n')

	n, err := w.Write(line)
	if err != nil {
		logger.Error("Recorder", "Write failed: %v", err)
		return
	}

	r.mu.Lock()
	r.bytesWritten += uint64(n)
	r.reportCount++
	if r.metrics != nil {
		r.metrics.RecordingReports.Store(r.reportCount)
		r.metrics.RecordingBytes.Store(r.bytesWritten)
	}
	r.mu.Unlock()
}

func (r *Recorder) setActive(v uint64) {
	if r.metrics != nil {
		r.metrics.RecordingActive.Store(v)
	}
}

// IsRecording returns true if currently recording
func (r *Recorder) IsRecording() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.recording
}

// Status returns the current recording status
func (r *Recorder) Status() RecordingStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var duration time.Duration
	if r.recording {
		duration = time.Since(r.startTime)
	}

	return RecordingStatus{
		Recording:    r.recording,
		Filename:     r.filename,
		SessionID:    r.sessionID,
		ReportCount:  r.reportCount,
		BytesWritten: r.bytesWritten,
		Dropped:      r.dropped.Load(),
		DurationMs:   duration.Milliseconds(),
		StartTime:    r.startTime,
	}
}

// Close stops an active recording
func (r *Recorder) Close() error {
	if r.IsRecording() {
		_, err := r.Stop()
		return err
	}
	return nil
}

// RecordingStatus holds the current recording status
type RecordingStatus struct {
	Recording    bool      `json:"recording"`
	Filename     string    `json:"filename"`
	SessionID    string    `json:"session_id"`
	ReportCount  uint64    `json:"report_count"`
	BytesWritten uint64    `json:"bytes_written"`
	Dropped      uint64    `json:"dropped"`
	DurationMs   int64     `json:"duration_ms"`
	StartTime    time.Time `json:"start_time"`
}
