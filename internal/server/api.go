package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/GriffinCanCode/engram/internal/activity"
	apperrors "github.com/GriffinCanCode/engram/internal/errors"
	"github.com/GriffinCanCode/engram/internal/meeting"
	"github.com/GriffinCanCode/engram/internal/orchestrator"
	"github.com/GriffinCanCode/engram/internal/scheduler"
	"github.com/GriffinCanCode/engram/internal/store"
	"github.com/GriffinCanCode/engram/internal/trace"
)

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	Meeting   meeting.State         `json:"meeting"`
	Recording *orchestrator.Session `json:"recording,omitempty"`
	Queue     scheduler.Status      `json:"queue"`
}

// SubmitResponse is the body of the re-submission endpoints.
type SubmitResponse struct {
	RecordingID string                 `json:"recording_id"`
	Result      scheduler.SubmitResult `json:"result"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var resp StatusResponse
	var err error
	if resp.Meeting, err = s.Controller.State(ctx); err != nil {
		writeError(ctx, w, err)
		return
	}
	if sess, ok := s.Recorder.Current(); ok {
		resp.Recording = &sess
	}
	if resp.Queue, err = s.Queue.Status(ctx); err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRecordingStop(w http.ResponseWriter, r *http.Request) {
	id, err := s.stopRecording(r.Context())
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "recording_stopped", "recording_id": id})
}

func (s *Server) handlePower(w http.ResponseWriter, r *http.Request) {
	e, err := activity.ParsePowerEvent(r.PathValue("event"))
	if err != nil {
		writeError(r.Context(), w, apperrors.Wrap(err, apperrors.InvalidArgument, "bad power event"))
		return
	}
	s.Controller.HandlePowerEvent(e)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "event": e.String()})
}

func (s *Server) handleRecording(w http.ResponseWriter, r *http.Request) {
	rec, err := s.Recordings.Recording(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rec, err := s.Recordings.Recording(ctx, r.PathValue("id"))
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	res, err := s.Queue.SubmitTranscription(trace.WithRecording(ctx, rec.ID), rec.ID, rec.AudioPath)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, SubmitResponse{RecordingID: rec.ID, Result: res})
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rec, err := s.Recordings.Recording(ctx, r.PathValue("id"))
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	if rec.NeedsTranscription() {
		writeError(ctx, w, apperrors.Newf(apperrors.InvalidArgument, "recording %s has no transcript yet", rec.ID))
		return
	}
	res, err := s.Queue.SubmitGeneration(trace.WithRecording(ctx, rec.ID), rec.ID)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, SubmitResponse{RecordingID: rec.ID, Result: res})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	n, err := s.Queue.Cancel(r.Context(), id)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"recording_id": id, "removed": n})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	status, code := httpStatus(err)
	if status >= http.StatusInternalServerError {
		trace.Logger(ctx).Error("request failed", "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error(), "code": string(code)})
}

func httpStatus(err error) (int, apperrors.Code) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, apperrors.NotFound
	case errors.Is(err, scheduler.ErrNotRunning):
		return http.StatusServiceUnavailable, apperrors.Unavailable
	case errors.Is(err, meeting.ErrStopped):
		return http.StatusServiceUnavailable, apperrors.Unavailable
	}
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		return http.StatusInternalServerError, apperrors.Internal
	}
	switch appErr.Code {
	case apperrors.InvalidArgument:
		return http.StatusBadRequest, appErr.Code
	case apperrors.NotFound, apperrors.WindowNotFound:
		return http.StatusNotFound, appErr.Code
	case apperrors.NoSession, apperrors.SessionActive:
		return http.StatusConflict, appErr.Code
	case apperrors.PermissionDenied:
		return http.StatusForbidden, appErr.Code
	case apperrors.RateLimited:
		return http.StatusTooManyRequests, appErr.Code
	case apperrors.Unavailable, apperrors.DeviceUnavailable:
		return http.StatusServiceUnavailable, appErr.Code
	case apperrors.Timeout:
		return http.StatusGatewayTimeout, appErr.Code
	default:
		return http.StatusInternalServerError, appErr.Code
	}
}
