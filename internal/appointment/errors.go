package appointment

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by the service wraps exactly one of
// these so callers can classify it with errors.Is.
var (
	ErrNotFound     = errors.New("not found")
	ErrForbidden    = errors.New("forbidden")
	ErrInvalidInput = errors.New("invalid input")
	ErrConflict     = errors.New("conflict")
)

var (
	ErrClientNotFound       = fmt.Errorf("client %w", ErrNotFound)
	ErrCoachNotFound        = fmt.Errorf("coach %w", ErrNotFound)
	ErrCoachProfileNotFound = fmt.Errorf("coach profile %w", ErrNotFound)
	ErrSlotNotFound         = fmt.Errorf("availability slot %w", ErrNotFound)
	ErrAppointmentNotFound  = fmt.Errorf("appointment %w", ErrNotFound)

	ErrNotSlotOwner        = fmt.Errorf("%w: availability belongs to another coach", ErrForbidden)
	ErrNotAssignedCoach    = fmt.Errorf("%w: coach is not assigned to this appointment", ErrForbidden)
	ErrNotAppointmentOwner = fmt.Errorf("%w: appointment belongs to another client or coach", ErrForbidden)

	ErrNoCoaches         = fmt.Errorf("%w: at least one coach required", ErrInvalidInput)
	ErrInvalidWindow     = fmt.Errorf("%w: end must be after start", ErrInvalidInput)
	ErrClientRequired    = fmt.Errorf("%w: client_id is required", ErrInvalidInput)
	ErrInvalidDuration   = fmt.Errorf("%w: duration must be positive", ErrInvalidInput)
	ErrMissingSchedule   = fmt.Errorf("%w: scheduled datetime is required", ErrInvalidInput)
	ErrSlotCoachMismatch = fmt.Errorf("%w: availability slot does not belong to a requested coach", ErrInvalidInput)

	ErrSlotBooked           = fmt.Errorf("%w: availability slot is already booked", ErrConflict)
	ErrInvalidTransition    = fmt.Errorf("%w: invalid status transition", ErrConflict)
	ErrAppointmentCancelled = fmt.Errorf("%w: appointment is cancelled", ErrConflict)
	ErrStaleAppointment     = fmt.Errorf("%w: appointment was modified concurrently, reload and retry", ErrConflict)
)
