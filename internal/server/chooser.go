package server

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/GriffinCanCode/engram/internal/activity"
	apperrors "github.com/GriffinCanCode/engram/internal/errors"
	"github.com/GriffinCanCode/engram/internal/events"
	"github.com/GriffinCanCode/engram/internal/orchestrator"
	"github.com/GriffinCanCode/engram/internal/screen"
)

// WindowChoice is the payload of events.WindowChoiceRequired.
type WindowChoice struct {
	RequestID string          `json:"request_id"`
	App       string          `json:"app"`
	Windows   []screen.Window `json:"windows"`
	TimeoutMS int64           `json:"timeout_ms"`
}

// Chooser asks connected WebSocket clients which window to record. A client
// answers with a choose_window message carrying the request id.
type Chooser struct {
	bus     events.Publisher
	timeout time.Duration
	clients atomic.Int32

	mu      sync.Mutex
	pending map[string]chan string
}

// NewChooser creates a chooser that gives clients timeout to answer.
func NewChooser(bus events.Publisher, timeout time.Duration) *Chooser {
	if timeout <= 0 {
		timeout = DefaultChooserTimeout
	}
	return &Chooser{bus: bus, timeout: timeout, pending: make(map[string]chan string)}
}

// ChooseWindow implements orchestrator.Chooser.
func (c *Chooser) ChooseWindow(ctx context.Context, app activity.App, candidates []screen.Window) (screen.Window, error) {
	if c.clients.Load() == 0 {
		return screen.Window{}, orchestrator.ErrChooserUnavailable
	}

	id := uuid.NewString()
	reply := make(chan string, 1)
	c.mu.Lock()
	c.pending[id] = reply
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	c.bus.Publish(events.WindowChoiceRequired, WindowChoice{
		RequestID: id,
		App:       app.Name,
		Windows:   candidates,
		TimeoutMS: c.timeout.Milliseconds(),
	})

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()
	select {
	case windowID := <-reply:
		for _, w := range candidates {
			if windowID != "" && w.ID == windowID {
				return w, nil
			}
		}
		return screen.Window{}, orchestrator.ErrChoiceCancelled
	case <-timer.C:
		return screen.Window{}, apperrors.Wrapf(orchestrator.ErrChoiceCancelled, apperrors.Timeout, "no window chosen within %s", c.timeout)
	case <-ctx.Done():
		return screen.Window{}, ctx.Err()
	}
}

// Resolve delivers a client's answer. An empty windowID cancels. It reports
// false when no such request is waiting.
func (c *Chooser) Resolve(requestID, windowID string) bool {
	c.mu.Lock()
	reply, ok := c.pending[requestID]
	if ok {
		delete(c.pending, requestID)
	}
	c.mu.Unlock()
	if !ok {
		return false
	}
	reply <- windowID
	return true
}

func (c *Chooser) connected()    { c.clients.Add(1) }
func (c *Chooser) disconnected() { c.clients.Add(-1) }
