// Package server provides the HTTP and WebSocket surface of the recorder
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/GriffinCanCode/engram/internal/activity"
	"github.com/GriffinCanCode/engram/internal/events"
	"github.com/GriffinCanCode/engram/internal/meeting"
	"github.com/GriffinCanCode/engram/internal/orchestrator"
	"github.com/GriffinCanCode/engram/internal/scheduler"
	"github.com/GriffinCanCode/engram/internal/store"
	"github.com/GriffinCanCode/engram/internal/trace"
)

// Message types.
type Message struct {
	Type string `json:"type"`
}

type ChooseWindowMessage struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id"`
	WindowID  string `json:"window_id"`
}

type StopRecordingMessage struct {
	Type    string `json:"type"`
	TraceID string `json:"trace_id,omitempty"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type AckMessage struct {
	Type   string `json:"type"`
	Status string `json:"status"`
	ID     string `json:"id,omitempty"`
}

// rateLimiter tracks message timestamps using a sliding window.
type rateLimiter struct {
	timestamps []time.Time
	mu         sync.Mutex
	now        func() time.Time
}

// allow checks if a message is allowed and records the timestamp if so.
func (r *rateLimiter) allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if r.now != nil {
		now = r.now()
	}
	cutoff := now.Add(-RateLimitWindow)

	// Prune old timestamps
	valid := r.timestamps[:0]
	for _, t := range r.timestamps {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	r.timestamps = valid

	if len(r.timestamps) >= RateLimitMessages {
		return false
	}

	r.timestamps = append(r.timestamps, now)
	return true
}

// Controller is the meeting lifecycle controller.
type Controller interface {
	State(ctx context.Context) (meeting.State, error)
	HandlePowerEvent(e activity.PowerEvent)
	ResetRecordingState()
}

// Recorder is the recording orchestrator.
type Recorder interface {
	Current() (orchestrator.Session, bool)
	StopAndSave(ctx context.Context) (string, error)
}

// Queue is the background scheduler.
type Queue interface {
	Status(ctx context.Context) (scheduler.Status, error)
	SubmitTranscription(ctx context.Context, recordingID, audioPath string) (scheduler.SubmitResult, error)
	SubmitGeneration(ctx context.Context, recordingID string) (scheduler.SubmitResult, error)
	Cancel(ctx context.Context, recordingID string) (int, error)
}

// Recordings looks up saved recordings.
type Recordings interface {
	Recording(ctx context.Context, id string) (store.Recording, error)
}

// Feed is the event bus as seen by subscribers.
type Feed interface {
	Subscribe() <-chan events.Event
	Unsubscribe(ch <-chan events.Event)
}

// Deps are the components the server fronts.
type Deps struct {
	Controller Controller
	Recorder   Recorder
	Queue      Queue
	Recordings Recordings
	Feed       Feed
	Chooser    *Chooser
}

// Server handles HTTP and WebSocket connections.
type Server struct {
	Deps
	mu         sync.RWMutex
	conns      map[*websocket.Conn]struct{}
	rateLimits map[*websocket.Conn]*rateLimiter
}

// New creates a new server.
func New(deps Deps) *Server {
	return &Server{
		Deps:       deps,
		conns:      make(map[*websocket.Conn]struct{}),
		rateLimits: make(map[*websocket.Conn]*rateLimiter),
	}
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// WebSocket endpoint
	mux.HandleFunc("/ws", s.handleWebSocket)

	// REST API
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("POST /api/recording/stop", s.handleRecordingStop)
	mux.HandleFunc("POST /api/power/{event}", s.handlePower)
	mux.HandleFunc("GET /api/recordings/{id}", s.handleRecording)
	mux.HandleFunc("POST /api/recordings/{id}/transcribe", s.handleTranscribe)
	mux.HandleFunc("POST /api/recordings/{id}/generate", s.handleGenerate)
	mux.HandleFunc("DELETE /api/queue/{id}", s.handleCancel)

	// Apply middleware: trace -> CORS
	return corsMiddleware(trace.Middleware(mux))
}

// Broadcast forwards bus events to every connected client until ctx ends.
func (s *Server) Broadcast(ctx context.Context) {
	if s.Feed == nil {
		return
	}
	s.broadcast(ctx, s.Feed.Subscribe())
}

func (s *Server) broadcast(ctx context.Context, ch <-chan events.Event) {
	defer s.Feed.Unsubscribe(ch)
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			s.mu.RLock()
			for conn := range s.conns {
				go func(c *websocket.Conn) {
					wctx, cancel := context.WithTimeout(ctx, WriteTimeout)
					defer cancel()
					_ = wsjson.Write(wctx, c, evt)
				}(conn)
			}
			s.mu.RUnlock()
		}
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("websocket accept error", "error", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.rateLimits[conn] = &rateLimiter{}
	s.mu.Unlock()
	if s.Chooser != nil {
		s.Chooser.connected()
	}

	defer func() {
		if s.Chooser != nil {
			s.Chooser.disconnected()
		}
		s.mu.Lock()
		delete(s.conns, conn)
		delete(s.rateLimits, conn)
		s.mu.Unlock()
	}()

	// Get trace context from HTTP upgrade request
	baseCtx := r.Context()
	log := trace.Logger(baseCtx)
	log.Info("websocket connected", "remote", r.RemoteAddr)

	for {
		var msg json.RawMessage
		if err := wsjson.Read(baseCtx, conn, &msg); err != nil {
			log.Debug("websocket read error", "error", err)
			return
		}

		// Check rate limit
		s.mu.RLock()
		rl := s.rateLimits[conn]
		s.mu.RUnlock()

		if !rl.allow() {
			log.Warn("rate limit exceeded", "remote", r.RemoteAddr)
			_ = wsjson.Write(baseCtx, conn, ErrorMessage{
				Type:    "error",
				Message: "rate limit exceeded",
			})
			continue
		}

		var base Message
		if err := json.Unmarshal(msg, &base); err != nil {
			continue
		}

		switch base.Type {
		case "choose_window":
			var choice ChooseWindowMessage
			if err := json.Unmarshal(msg, &choice); err != nil {
				continue
			}
			s.handleChoice(baseCtx, conn, choice)
		case "stop_recording":
			var stop StopRecordingMessage
			if err := json.Unmarshal(msg, &stop); err != nil {
				continue
			}
			// Extract trace_id from message or create new trace context
			ctx := baseCtx
			if stop.TraceID != "" {
				tc := trace.Context{TraceID: stop.TraceID, SpanID: ""}
				tc = trace.NewChild(tc)
				ctx = trace.WithContext(ctx, tc)
			} else {
				ctx, _ = trace.EnsureContext(ctx)
			}
			id, err := s.stopRecording(ctx)
			if err != nil {
				_ = wsjson.Write(ctx, conn, ErrorMessage{Type: "error", Message: err.Error()})
				continue
			}
			_ = wsjson.Write(ctx, conn, AckMessage{Type: "ack", Status: "recording_stopped", ID: id})
		default:
			_ = wsjson.Write(baseCtx, conn, ErrorMessage{Type: "error", Message: "unknown message type " + base.Type})
		}
	}
}

func (s *Server) handleChoice(ctx context.Context, conn *websocket.Conn, m ChooseWindowMessage) {
	if s.Chooser == nil || !s.Chooser.Resolve(m.RequestID, m.WindowID) {
		_ = wsjson.Write(ctx, conn, ErrorMessage{Type: "error", Message: "no pending window choice " + m.RequestID})
		return
	}
	_ = wsjson.Write(ctx, conn, AckMessage{Type: "ack", Status: "window_chosen", ID: m.RequestID})
}

// stopRecording is the user-initiated stop: the orchestrator finishes the
// session, then the controller is told to stop tracking it.
func (s *Server) stopRecording(ctx context.Context) (string, error) {
	ctx, span := trace.StartSpan(ctx, "user_stop_recording")
	id, err := s.Recorder.StopAndSave(ctx)
	s.Controller.ResetRecordingState()
	span.EndErr(err)
	return id, err
}
