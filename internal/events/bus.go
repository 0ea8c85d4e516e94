// Package events is the in-process publish/subscribe bus the UI layer listens
// on. Delivery is fire-and-forget: a subscriber that falls behind loses events
// rather than stalling the publisher.
package events

import (
	"log/slog"
	"sync"
	"time"
)

// Type names an event.
type Type string

const (
	ProcessingStarted    Type = "processing_started"
	ProcessingCompleted  Type = "processing_completed"
	RecordingSaved       Type = "recording_saved"
	ContentUpdated       Type = "content_updated"
	MeetingState         Type = "meeting_state"
	MeetingError         Type = "meeting_error"
	WindowChoiceRequired Type = "window_choice_required"
)

// Event is one notification. Payload must be JSON encodable.
type Event struct {
	Type    Type      `json:"type"`
	At      time.Time `json:"at"`
	Payload any       `json:"payload,omitempty"`
}

// Processing is the payload of ProcessingStarted and ProcessingCompleted.
type Processing struct {
	RecordingID string `json:"recording_id"`
	Task        string `json:"task"`
	ElapsedMS   int64  `json:"elapsed_ms,omitempty"`
	Error       string `json:"error,omitempty"`
	Success     *bool  `json:"success,omitempty"`
}

// Recording is the payload of RecordingSaved.
type Recording struct {
	RecordingID string `json:"recording_id"`
	Title       string `json:"title"`
	AudioPath   string `json:"audio_path"`
	VideoPath   string `json:"video_path,omitempty"`
	DurationMS  int64  `json:"duration_ms"`
}

// Content is the payload of ContentUpdated.
type Content struct {
	RecordingID string `json:"recording_id"`
	Field       string `json:"field"`
}

// Content fields.
const (
	FieldTranscript  = "transcript"
	FieldSummary     = "summary"
	FieldActionItems = "action_items"
)

// Publisher is the producer side of the bus.
type Publisher interface {
	Publish(t Type, payload any)
}

// Bus fans events out to subscribers.
type Bus struct {
	mu     sync.RWMutex
	subs   map[chan Event]struct{}
	now    func() time.Time
	buffer int
}

// NewBus creates a bus whose subscriber channels hold buffer events.
func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Bus{subs: make(map[chan Event]struct{}), now: time.Now, buffer: buffer}
}

// Subscribe registers a new listener.
func (b *Bus) Subscribe() <-chan Event {
	ch := make(chan Event, b.buffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes ch. Unknown channels are ignored.
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for c := range b.subs {
		if c == ch {
			delete(b.subs, c)
			close(c)
			return
		}
	}
}

// Publish delivers to every subscriber with room in its buffer.
func (b *Bus) Publish(t Type, payload any) {
	ev := Event{Type: t, At: b.now(), Payload: payload}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
			slog.Debug("dropping event for slow subscriber", "type", t)
		}
	}
}

// Close unsubscribes everyone.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		delete(b.subs, ch)
		close(ch)
	}
}
