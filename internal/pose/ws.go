package pose

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dj-oyu/face-status-server/internal/logger"
	"github.com/dj-oyu/face-status-server/pkg/types"
	"github.com/gorilla/websocket"
)

// WSConfig configures a websocket pose provider
type WSConfig struct {
	URL              string
	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	PingInterval     time.Duration
}

// DefaultWSConfig returns timeouts suited to a detector on the local network
func DefaultWSConfig(url string) WSConfig {
	return WSConfig{
		URL:              url,
		HandshakeTimeout: 10 * time.Second,
		ReadTimeout:      10 * time.Second,
		WriteTimeout:     5 * time.Second,
		PingInterval:     30 * time.Second,
	}
}

// detectRequest is sent as one text message per frame. Data is base64 in JSON.
type detectRequest struct {
	Frame       uint64            `json:"frame"`
	Width       int               `json:"width"`
	Height      int               `json:"height"`
	Orientation types.Orientation `json:"orientation"`
	ContentType string            `json:"content_type,omitempty"`
	Data        []byte            `json:"data"`
}

type detectResponse struct {
	Frame uint64 `json:"frame"`
	Faces []Face `json:"faces"`
	Error string `json:"error,omitempty"`
}

// WSProvider sends frames to a remote detection service over a websocket
// and reads one JSON response per frame. Requests are serialized; a broken
// connection is dropped and re-dialed on the next Detect.
type WSProvider struct {
	cfg    WSConfig
	dialer *websocket.Dialer

	mu   sync.Mutex
	conn *websocket.Conn
	done chan struct{}
}

// NewWSProvider creates a provider. It does not dial until Connect or Detect.
func NewWSProvider(cfg WSConfig) *WSProvider {
	defaults := DefaultWSConfig(cfg.URL)
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaults.HandshakeTimeout
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaults.ReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}

	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = cfg.HandshakeTimeout

	return &WSProvider{
		cfg:    cfg,
		dialer: &dialer,
	}
}

// Connect dials the detection service, replacing any existing connection
func (p *WSProvider) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connectLocked(ctx)
}

func (p *WSProvider) connectLocked(ctx context.Context) error {
	p.dropLocked()

	if p.cfg.URL == "" {
		return fmt.Errorf("%w: no detector URL configured", ErrNotConnected)
	}

	logger.Info("PoseWS", "Connecting to detector at %s", p.cfg.URL)
	conn, _, err := p.dialer.DialContext(ctx, p.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", p.cfg.URL, err)
	}

	done := make(chan struct{})
	p.conn = conn
	p.done = done

	if p.cfg.PingInterval > 0 {
		go p.keepAlive(conn, done)
	}
	return nil
}

// dropLocked closes the current connection, if any
func (p *WSProvider) dropLocked() {
	if p.conn == nil {
		return
	}
	close(p.done)
	p.conn.Close()
	p.conn = nil
	p.done = nil
}

// IsConnected reports whether a connection is currently held
func (p *WSProvider) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn != nil
}

// Detect sends the frame and waits for the detector's answer
func (p *WSProvider) Detect(ctx context.Context, frame *types.Frame) ([]Face, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil {
		if err := p.connectLocked(ctx); err != nil {
			return nil, fmt.Errorf("cannot connect to face detection service: %w", err)
		}
	}
	conn := p.conn

	req := detectRequest{
		Frame:       frame.FrameNum,
		Width:       frame.Width,
		Height:      frame.Height,
		Orientation: frame.Orientation,
		ContentType: frame.ContentType,
		Data:        frame.Data,
	}

	conn.SetWriteDeadline(p.deadline(ctx, p.cfg.WriteTimeout))
	if err := conn.WriteJSON(req); err != nil {
		p.dropLocked()
		return nil, fmt.Errorf("error sending frame: %w", err)
	}

	conn.SetReadDeadline(p.deadline(ctx, p.cfg.ReadTimeout))
	_, message, err := conn.ReadMessage()
	if err != nil {
		p.dropLocked()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("error reading detection result: %w", err)
	}

	var resp detectResponse
	if err := json.Unmarshal(message, &resp); err != nil {
		return nil, fmt.Errorf("error unmarshaling detection result: %w", err)
	}
	if resp.Error != "" {
		return nil, errors.New(resp.Error)
	}
	if resp.Faces == nil {
		resp.Faces = []Face{}
	}
	return resp.Faces, nil
}

func (p *WSProvider) deadline(ctx context.Context, timeout time.Duration) time.Time {
	d := time.Now().Add(timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(d) {
		return ctxDeadline
	}
	return d
}

// keepAlive pings the detector until the connection is dropped
func (p *WSProvider) keepAlive(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(p.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(p.cfg.WriteTimeout))
			if err != nil {
				logger.Warn("PoseWS", "Ping failed, marking connection as dead: %v", err)
				p.mu.Lock()
				if p.conn == conn {
					p.dropLocked()
				}
				p.mu.Unlock()
				return
			}
		}
	}
}

// Close drops the connection
func (p *WSProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dropLocked()
	return nil
}
