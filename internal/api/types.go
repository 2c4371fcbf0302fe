package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/coaching-appointment-scheduling/internal/appointment"
)

type CreateAvailabilityRequest struct {
	CoachID   string    `json:"coach_id" validate:"required,uuid"`
	StartTime time.Time `json:"start_time" validate:"required"`
	EndTime   time.Time `json:"end_time" validate:"required"`
}

type CreateAppointmentRequest struct {
	ClientID *string  `json:"client_id" validate:"omitempty,uuid"`
	CoachIDs []string `json:"coach_ids" validate:"dive,uuid"`
	// CoachID is the single-coach form kept for older clients.
	CoachID         string    `json:"coach_id" validate:"omitempty,uuid"`
	ScheduledAt     time.Time `json:"scheduled_at" validate:"required"`
	DurationMinutes *int      `json:"duration_minutes" validate:"omitempty,gt=0,lte=480"`
	AppointmentType string    `json:"appointment_type" validate:"max=64"`
	MeetingURL      string    `json:"meeting_url" validate:"omitempty,url"`
	Notes           string    `json:"notes" validate:"max=2000"`
	AvailabilityIDs []string  `json:"availability_ids" validate:"dive,uuid"`
}

type UpdateAppointmentRequest struct {
	ScheduledAt     *time.Time `json:"scheduled_at"`
	DurationMinutes *int       `json:"duration_minutes" validate:"omitempty,gt=0,lte=480"`
	AppointmentType *string    `json:"appointment_type" validate:"omitempty,max=64"`
	MeetingURL      *string    `json:"meeting_url" validate:"omitempty,max=2048"`
	Notes           *string    `json:"notes" validate:"omitempty,max=2000"`
}

type SlotResponse struct {
	ID        uuid.UUID `json:"id"`
	CoachID   uuid.UUID `json:"coach_id"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	IsBooked  bool      `json:"is_booked"`
}

type PersonResponse struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Email string    `json:"email"`
}

type AppointmentResponse struct {
	ID              uuid.UUID        `json:"id"`
	ClientID        uuid.UUID        `json:"client_id"`
	CoachID         uuid.UUID        `json:"coach_id"`
	CoachIDs        []uuid.UUID      `json:"coach_ids"`
	Client          *PersonResponse  `json:"client,omitempty"`
	Coaches         []PersonResponse `json:"coaches"`
	ScheduledAt     time.Time        `json:"scheduled_at"`
	DurationMinutes int              `json:"duration_minutes"`
	AppointmentType string           `json:"appointment_type,omitempty"`
	MeetingURL      string           `json:"meeting_url,omitempty"`
	Notes           string           `json:"notes,omitempty"`
	Status          string           `json:"status"`
	Version         int64            `json:"version"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toSlotResponses(slots []appointment.AvailabilitySlot) []SlotResponse {
	out := make([]SlotResponse, 0, len(slots))
	for _, s := range slots {
		out = append(out, SlotResponse{
			ID:        s.ID,
			CoachID:   s.CoachID,
			StartTime: s.StartTime,
			EndTime:   s.EndTime,
			IsBooked:  s.Booked,
		})
	}
	return out
}

func toAppointmentResponse(d *appointment.AppointmentDetail) AppointmentResponse {
	resp := AppointmentResponse{
		ID:              d.ID,
		ClientID:        d.ClientID,
		CoachID:         d.CoachID,
		CoachIDs:        d.CoachIDs(),
		Coaches:         make([]PersonResponse, 0, len(d.Coaches)),
		ScheduledAt:     d.ScheduledAt,
		DurationMinutes: d.DurationMinutes,
		AppointmentType: d.AppointmentType,
		MeetingURL:      d.MeetingURL,
		Notes:           d.Notes,
		Status:          string(d.Status),
		Version:         d.Version,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
	if d.Client != nil {
		resp.Client = &PersonResponse{ID: d.Client.ID, Name: d.Client.DisplayName(), Email: d.Client.Email}
	}
	for _, c := range d.Coaches {
		resp.Coaches = append(resp.Coaches, PersonResponse{ID: c.ID, Name: c.DisplayName(), Email: c.Email})
	}
	return resp
}

func toAppointmentResponses(ds []appointment.AppointmentDetail) []AppointmentResponse {
	out := make([]AppointmentResponse, 0, len(ds))
	for i := range ds {
		out = append(out, toAppointmentResponse(&ds[i]))
	}
	return out
}
