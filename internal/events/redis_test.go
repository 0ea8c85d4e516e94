package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/GriffinCanCode/engram/internal/resilience"
)

type fakeRedis struct {
	mu       sync.Mutex
	channels []string
	messages [][]byte
	err      error
	got      chan struct{}
}

func (f *fakeRedis) Publish(ctx context.Context, channel string, message any) *redis.IntCmd {
	f.mu.Lock()
	f.channels = append(f.channels, channel)
	f.messages = append(f.messages, message.([]byte))
	err := f.err
	f.mu.Unlock()
	f.got <- struct{}{}

	cmd := redis.NewIntCmd(ctx)
	if err != nil {
		cmd.SetErr(err)
	} else {
		cmd.SetVal(1)
	}
	return cmd
}

func TestRedisForwarderPublishesJSON(t *testing.T) {
	fake := &fakeRedis{got: make(chan struct{}, 8)}
	bus := NewBus(8)
	fwd := NewRedisForwarder(fake, "engram:events")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		fwd.Run(ctx, bus)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	// Run subscribes asynchronously
	deadline := time.Now().Add(time.Second)
	for {
		bus.mu.RLock()
		n := len(bus.subs)
		bus.mu.RUnlock()
		if n > 0 || time.Now().After(deadline) {
			break
		}
		time.Sleep(time.Millisecond)
	}

	bus.Publish(ContentUpdated, Content{RecordingID: "r9", Field: FieldSummary})
	select {
	case <-fake.got:
	case <-time.After(time.Second):
		t.Fatal("nothing forwarded")
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if fake.channels[0] != "engram:events" {
		t.Errorf("channel = %s", fake.channels[0])
	}
	var decoded struct {
		Type    Type    `json:"type"`
		Payload Content `json:"payload"`
	}
	if err := json.Unmarshal(fake.messages[0], &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.Type != ContentUpdated || decoded.Payload.RecordingID != "r9" || decoded.Payload.Field != FieldSummary {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestRedisForwarderTripsBreaker(t *testing.T) {
	fake := &fakeRedis{err: errors.New("connection refused"), got: make(chan struct{}, 64)}
	fwd := NewRedisForwarder(fake, "c")
	ctx := context.Background()

	for i := 0; i < resilience.EventSinkThreshold; i++ {
		if err := fwd.forward(ctx, Event{Type: MeetingState}); err == nil {
			t.Fatal("expected publish error")
		}
	}
	if err := fwd.forward(ctx, Event{Type: MeetingState}); !errors.Is(err, resilience.ErrOpen) {
		t.Errorf("err = %v, want open breaker", err)
	}
	if n := len(fake.channels); n != resilience.EventSinkThreshold {
		t.Errorf("redis calls = %d, want %d", n, resilience.EventSinkThreshold)
	}
}
