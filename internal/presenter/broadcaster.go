package presenter

import (
	"encoding/base64"
	"encoding/json"
	"sync"

	"github.com/dj-oyu/face-status-server/internal/logger"
	"github.com/dj-oyu/face-status-server/internal/metrics"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// historySize is how many face reports the status API keeps
const historySize = 8

// SerializedEvent holds pre-serialized data in both formats.
// This avoids redundant serialization when broadcasting to multiple clients.
type SerializedEvent struct {
	JSONData     []byte // Pre-serialized JSON
	ProtobufData []byte // Pre-serialized Protobuf (base64 encoded for SSE)
}

// Event is the payload of one status stream message
type Event struct {
	Version int    `json:"version"`
	Status  string `json:"status"`
	Report
}

// Status is the broadcaster's current view, served by the status API
type Status struct {
	Version int            `json:"version"`
	Status  string         `json:"status"`
	Rect    NormalizedRect `json:"rect"`
	Latest  *Report        `json:"latest"`
	History []Report       `json:"history"`
}

// Broadcaster keeps the latest report and fans pre-serialized events out to
// stream subscribers. Slow subscribers miss events rather than block.
type Broadcaster struct {
	mu      sync.Mutex
	clients map[int]chan *SerializedEvent
	nextID  int
	metrics *metrics.Metrics

	version int
	status  string
	latest  *Report
	history []Report
	last    *SerializedEvent
}

// NewBroadcaster creates a broadcaster. m may be nil.
func NewBroadcaster(m *metrics.Metrics) *Broadcaster {
	return &Broadcaster{
		clients: make(map[int]chan *SerializedEvent),
		metrics: m,
	}
}

// Subscribe adds a new client and returns a channel for receiving events.
// The latest event, if any, is queued immediately.
func (b *Broadcaster) Subscribe() (int, <-chan *SerializedEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan *SerializedEvent, 2) // Buffer 2 events to avoid blocking
	if b.last != nil {
		ch <- b.last
	}
	b.clients[id] = ch
	if b.metrics != nil {
		b.metrics.StreamClients.Add(1)
	}

	logger.Debug("Broadcaster", "Client #%d subscribed (total clients: %d)", id, len(b.clients))
	return id, ch
}

// Unsubscribe removes a client.
func (b *Broadcaster) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.clients[id]; ok {
		close(ch)
		delete(b.clients, id)
		if b.metrics != nil {
			b.metrics.StreamClients.Add(-1)
		}
		logger.Debug("Broadcaster", "Client #%d unsubscribed (remaining clients: %d)", id, len(b.clients))
	}
}

// ClientCount returns the number of subscribers
func (b *Broadcaster) ClientCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// Present records the report and broadcasts it. Reports without faces clear
// the rectangle but keep the previous status text. A report that cannot be
// serialized (non-finite values) is skipped and leaves the state untouched.
func (b *Broadcaster) Present(report Report) {
	report.Frame = nil

	b.mu.Lock()
	defer b.mu.Unlock()

	status := b.status
	if report.UpdatesStatus() {
		primary, _ := report.Primary()
		status = primary.Status
	}
	event := Event{Version: b.version + 1, Status: status, Report: report}

	serialized, err := serializeEvent(event)
	if err != nil {
		logger.Warn("Broadcaster", "Skipping frame %d: %v", report.FrameNumber, err)
		return
	}

	b.version = event.Version
	b.status = status
	if report.UpdatesStatus() {
		b.history = append([]Report{report}, b.history...)
		if len(b.history) > historySize {
			b.history = b.history[:historySize]
		}
	}
	b.latest = &report
	b.last = serialized

	for _, ch := range b.clients {
		select {
		case ch <- serialized:
			// Sent successfully
		default:
			// Client too slow, skip this event for this client
		}
	}
}

// Snapshot returns the current status
func (b *Broadcaster) Snapshot() Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	history := make([]Report, len(b.history))
	copy(history, b.history)

	st := Status{
		Version: b.version,
		Status:  b.status,
		History: history,
	}
	if b.latest != nil {
		latest := *b.latest
		st.Latest = &latest
		st.Rect = latest.Rect()
	}
	return st
}

// serializeEvent renders event as JSON and as a base64 protobuf Struct
func serializeEvent(event Event) (*SerializedEvent, error) {
	jsonData, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}

	var st structpb.Struct
	if err := protojson.Unmarshal(jsonData, &st); err != nil {
		return nil, err
	}
	pbData, err := proto.Marshal(&st)
	if err != nil {
		return nil, err
	}

	return &SerializedEvent{
		JSONData:     jsonData,
		ProtobufData: []byte(base64.StdEncoding.EncodeToString(pbData)),
	}, nil
}
