package sse

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// EventType names an event on the wire.
type EventType string

const (
	// EventConnected is the first event of every stream.
	EventConnected EventType = "connected"
	// EventHeartbeat keeps idle connections open.
	EventHeartbeat EventType = "heartbeat"
	// EventDetailView carries a full book detail view.
	EventDetailView EventType = "detail.view"
	// EventClosed is sent when the server ends the stream.
	EventClosed EventType = "closed"
)

// Event is one message written to a stream.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
	Type      EventType `json:"type"`
}

// NewEvent stamps data with the current time.
func NewEvent(eventType EventType, data any) Event {
	return Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

const (
	defaultHeartbeat = 30 * time.Second
	writeDeadline    = 60 * time.Second
)

// Streamer writes event channels to HTTP clients.
type Streamer struct {
	logger    *slog.Logger
	heartbeat time.Duration
}

// NewStreamer creates a Streamer. A non-positive heartbeat uses the default.
func NewStreamer(logger *slog.Logger, heartbeat time.Duration) *Streamer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	return &Streamer{logger: logger, heartbeat: heartbeat}
}

// Stream copies events to w until the channel closes or the client goes away.
// A closed channel ends the stream with a "closed" event.
func (s *Streamer) Stream(w http.ResponseWriter, r *http.Request, streamID string, events <-chan Event) {
	if r.Context().Err() != nil {
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	rc := http.NewResponseController(w)
	if err := rc.Flush(); err != nil {
		s.logger.Error("failed to flush headers", slog.String("error", err.Error()))
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	logger := s.logger.With(slog.String("stream_id", streamID))

	if err := s.send(w, rc, NewEvent(EventConnected, map[string]string{"stream_id": streamID})); err != nil {
		logger.Warn("failed to send initial connection message", slog.String("error", err.Error()))
		return
	}

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case event, ok := <-events:
			if !ok {
				_ = s.send(w, rc, NewEvent(EventClosed, nil))
				logger.Debug("stream closed by server")
				return
			}
			if err := s.send(w, rc, event); err != nil {
				logger.Info("client disconnected during send")
				return
			}

		case <-ticker.C:
			if err := s.send(w, rc, NewEvent(EventHeartbeat, nil)); err != nil {
				logger.Info("client disconnected during heartbeat")
				return
			}

		case <-ctx.Done():
			logger.Debug("client context canceled")
			return
		}
	}
}

// send writes one event in SSE framing and flushes it.
func (s *Streamer) send(w http.ResponseWriter, rc *http.ResponseController, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data); err != nil {
		return err
	}
	if err := rc.Flush(); err != nil {
		return err
	}

	// Not every ResponseWriter supports deadlines.
	if err := rc.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
		s.logger.Debug("failed to set write deadline", slog.String("error", err.Error()))
	}
	return nil
}
