package app

import (
	"errors"

	apperrors "github.com/GriffinCanCode/engram/internal/errors"
	"github.com/GriffinCanCode/engram/internal/events"
	"github.com/GriffinCanCode/engram/internal/meeting"
	"github.com/GriffinCanCode/engram/internal/orchestrator"
)

// MeetingError is the payload of events.MeetingError.
type MeetingError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// delegate receives the controller's commands on the orchestrator and its
// notifications on the bus.
type delegate struct {
	*orchestrator.Orchestrator
	bus events.Publisher
}

func (d delegate) OnStateChanged(s meeting.State) {
	d.bus.Publish(events.MeetingState, s)
}

func (d delegate) OnError(err error) {
	payload := MeetingError{Code: string(apperrors.Internal), Message: err.Error()}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		payload.Code = string(appErr.Code)
	}
	d.bus.Publish(events.MeetingError, payload)
}
