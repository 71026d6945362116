package webrtc

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dj-oyu/face-status-server/internal/logger"
	"github.com/dj-oyu/face-status-server/internal/metrics"
	"github.com/dj-oyu/face-status-server/internal/presenter"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
)

// ChannelLabel is the data channel clients open to receive status reports
const ChannelLabel = "face-status"

// ErrTooManyClients is returned by HandleOffer when maxClients are connected
var ErrTooManyClients = errors.New("maximum clients reached")

// Client represents a connected WebRTC peer
type Client struct {
	id        string
	peerConn  *webrtc.PeerConnection
	sendChan  chan []byte
	closeChan chan struct{}
	sent      atomic.Uint64
	dropped   atomic.Uint64

	mu      sync.Mutex
	channel *webrtc.DataChannel
}

// Server pushes status reports to browsers over WebRTC data channels
type Server struct {
	clients    map[string]*Client
	pending    int // offers holding a slot while negotiating
	clientsMu  sync.RWMutex
	config     webrtc.Configuration
	maxClients int
	api        *webrtc.API
	metrics    *metrics.Metrics

	statusMu sync.Mutex
	status   string
	version  int
}

// NewServer creates a new WebRTC server. m may be nil.
func NewServer(stunServers []string, maxClients int, m *metrics.Metrics) *Server {
	// Configure ICE servers
	iceServers := make([]webrtc.ICEServer, 0, len(stunServers))
	for _, url := range stunServers {
		if url == "" {
			continue
		}
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs: []string{url},
		})
	}

	settingsEngine := webrtc.SettingEngine{}
	settingsEngine.SetDTLSRetransmissionInterval(time.Second * 2)
	settingsEngine.SetNetworkTypes([]webrtc.NetworkType{
		webrtc.NetworkTypeUDP4,
		webrtc.NetworkTypeUDP6,
	})

	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingsEngine))

	if maxClients <= 0 {
		maxClients = 10
	}

	return &Server{
		clients: make(map[string]*Client),
		config: webrtc.Configuration{
			ICEServers: iceServers,
		},
		maxClients: maxClients,
		api:        api,
		metrics:    m,
	}
}

// HandleOffer handles a WebRTC offer and returns an answer. The offer must
// carry a data channel; the one labelled ChannelLabel receives reports.
func (s *Server) HandleOffer(offerJSON []byte) ([]byte, error) {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(offerJSON, &offer); err != nil {
		return nil, fmt.Errorf("failed to parse offer: %w", err)
	}

	if err := s.reserveSlot(); err != nil {
		return nil, err
	}
	registered := false
	defer func() {
		if !registered {
			s.releaseSlot()
		}
	}()

	peerConn, err := s.api.NewPeerConnection(s.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	client := &Client{
		id:        "client-" + uuid.NewString(),
		peerConn:  peerConn,
		sendChan:  make(chan []byte, 8),
		closeChan: make(chan struct{}),
	}

	peerConn.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != ChannelLabel {
			logger.Debug("WebRTC", "Client %s opened unknown channel %q", client.id, dc.Label())
			return
		}
		dc.OnOpen(func() {
			logger.Info("WebRTC", "Client %s status channel open", client.id)
			client.mu.Lock()
			client.channel = dc
			client.mu.Unlock()
		})
	})

	// Remove client on disconnection, failure, or close
	peerConn.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		logger.Debug("WebRTC", "Client %s connection state: %s", client.id, state.String())

		if state == webrtc.PeerConnectionStateDisconnected ||
			state == webrtc.PeerConnectionStateFailed ||
			state == webrtc.PeerConnectionStateClosed {
			s.RemoveClient(client.id)
		}
	})

	if err := peerConn.SetRemoteDescription(offer); err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to set remote description: %w", err)
	}

	answer, err := peerConn.CreateAnswer(nil)
	if err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to create answer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(peerConn)

	if err := peerConn.SetLocalDescription(answer); err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to set local description: %w", err)
	}

	// Wait for ICE gathering to complete
	<-gatherComplete
	logger.Debug("WebRTC", "ICE gathering complete for client %s", client.id)

	s.clientsMu.Lock()
	s.pending--
	s.clients[client.id] = client
	count := len(s.clients)
	s.clientsMu.Unlock()
	registered = true
	if s.metrics != nil {
		s.metrics.WebRTCClients.Store(int64(count))
	}

	go s.sendReports(client)

	logger.Info("WebRTC", "Client %s connected", client.id)

	// The complete local description includes ICE candidates
	localDesc := peerConn.LocalDescription()
	if localDesc == nil {
		s.RemoveClient(client.id)
		return nil, fmt.Errorf("no local description available")
	}

	answerJSON, err := json.Marshal(localDesc)
	if err != nil {
		s.RemoveClient(client.id)
		return nil, fmt.Errorf("failed to marshal answer: %w", err)
	}

	return answerJSON, nil
}

// reserveSlot counts an offer against maxClients until it is registered or
// fails
func (s *Server) reserveSlot() error {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()

	if len(s.clients)+s.pending >= s.maxClients {
		return fmt.Errorf("%w (%d)", ErrTooManyClients, s.maxClients)
	}
	s.pending++
	return nil
}

func (s *Server) releaseSlot() {
	s.clientsMu.Lock()
	s.pending--
	s.clientsMu.Unlock()
}

// Present serializes the report once and queues it for every client
func (s *Server) Present(report presenter.Report) {
	event := s.trackStatus(report)
	if s.ClientCount() == 0 {
		return
	}

	event.Frame = nil
	payload, err := json.Marshal(event)
	if err != nil {
		logger.Warn("WebRTC", "Failed to marshal frame %d: %v", report.FrameNumber, err)
		return
	}

	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for _, client := range s.clients {
		// Non-blocking send
		select {
		case client.sendChan <- payload:
		default:
			client.dropped.Add(1)
			if s.metrics != nil {
				s.metrics.WebRTCDropped.Add(1)
			}
		}
	}
}

// trackStatus keeps the status text across reports without faces
func (s *Server) trackStatus(report presenter.Report) presenter.Event {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()

	s.version++
	if report.UpdatesStatus() {
		primary, _ := report.Primary()
		s.status = primary.Status
	}
	return presenter.Event{Version: s.version, Status: s.status, Report: report}
}

// sendReports writes queued payloads to the client's data channel
func (s *Server) sendReports(client *Client) {
	for {
		select {
		case <-client.closeChan:
			return

		case payload := <-client.sendChan:
			client.mu.Lock()
			dc := client.channel
			client.mu.Unlock()

			if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
				client.dropped.Add(1)
				continue
			}
			if err := dc.SendText(string(payload)); err != nil {
				logger.Warn("WebRTC", "Error sending status to client %s: %v", client.id, err)
				client.dropped.Add(1)
				continue
			}
			client.sent.Add(1)
		}
	}
}

// RemoveClient removes a client by ID
func (s *Server) RemoveClient(clientID string) {
	s.clientsMu.Lock()
	client, exists := s.clients[clientID]
	if exists {
		delete(s.clients, clientID)
	}
	count := len(s.clients)
	s.clientsMu.Unlock()

	if !exists {
		return
	}
	if s.metrics != nil {
		s.metrics.WebRTCClients.Store(int64(count))
	}

	close(client.closeChan)
	// Close triggers the state callback, which finds the client gone
	if err := client.peerConn.Close(); err != nil {
		logger.Debug("WebRTC", "Client %s close: %v", clientID, err)
	}

	logger.Info("WebRTC", "Client %s disconnected (sent: %d, dropped: %d)",
		clientID, client.sent.Load(), client.dropped.Load())
}

// ClientCount returns the number of connected clients
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// ClientStats returns stats for all clients
func (s *Server) ClientStats() map[string]map[string]uint64 {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	stats := make(map[string]map[string]uint64)
	for id, client := range s.clients {
		stats[id] = map[string]uint64{
			"reports_sent":    client.sent.Load(),
			"reports_dropped": client.dropped.Load(),
		}
	}
	return stats
}

// Close closes all client connections
func (s *Server) Close() error {
	s.clientsMu.RLock()
	ids := make([]string, 0, len(s.clients))
	for id := range s.clients {
		ids = append(ids, id)
	}
	s.clientsMu.RUnlock()

	for _, id := range ids {
		s.RemoveClient(id)
	}
	return nil
}
