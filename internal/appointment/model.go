package appointment

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type AvailabilitySlot struct {
	ID        uuid.UUID
	CoachID   uuid.UUID
	StartTime time.Time
	EndTime   time.Time
	Booked    bool
	CreatedAt time.Time
}

type Client struct {
	ID        uuid.UUID
	Name      string
	LastName  string
	FirstName string
	Email     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (c Client) DisplayName() string {
	return displayName(c.Name, c.LastName, c.FirstName)
}

type Coach struct {
	ID         uuid.UUID
	Name       string
	LastName   string
	FirstName  string
	Email      string
	MeetingURL string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (c Coach) DisplayName() string {
	return displayName(c.Name, c.LastName, c.FirstName)
}

func displayName(name, last, first string) string {
	if name != "" {
		return name
	}
	return strings.TrimSpace(last + " " + first)
}

// Appointment is a meeting between one client and one or more coaches.
// CoachID is the primary coach and is always one of the assigned coaches.
type Appointment struct {
	ID              uuid.UUID
	ClientID        uuid.UUID
	CoachID         uuid.UUID
	ScheduledAt     time.Time
	DurationMinutes int
	AppointmentType string
	MeetingURL      string
	Notes           string
	Status          Status
	Version         int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type Assignment struct {
	AppointmentID uuid.UUID
	CoachID       uuid.UUID
	CreatedAt     time.Time
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

// AppointmentDetail is an appointment with its client and assigned coaches
// resolved. Coaches[0] is the primary coach.
type AppointmentDetail struct {
	Appointment
	Client  *Client
	Coaches []Coach
}

func (d *AppointmentDetail) CoachIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(d.Coaches))
	for _, c := range d.Coaches {
		ids = append(ids, c.ID)
	}
	return ids
}

type CreateAppointmentInput struct {
	ClientID        *uuid.UUID // ignored for client callers
	CoachIDs        []uuid.UUID
	ScheduledAt     time.Time
	DurationMinutes *int
	AppointmentType string
	MeetingURL      string
	Notes           string
	AvailabilityIDs []uuid.UUID
}

// AppointmentPatch holds the fields a caller wants to change. Nil means
// unchanged. Status is not patchable; it moves only through approve, reject
// and cancel.
type AppointmentPatch struct {
	ScheduledAt     *time.Time
	DurationMinutes *int
	AppointmentType *string
	MeetingURL      *string
	Notes           *string
}

type SlotFilter struct {
	CoachID *uuid.UUID
	From    *time.Time
	To      *time.Time
}

// AppointmentFilter narrows ListAppointments. CoachID matches any assigned
// coach, not only the primary one. From is inclusive, To is exclusive.
type AppointmentFilter struct {
	ClientID *uuid.UUID
	CoachID  *uuid.UUID
	From     *time.Time
	To       *time.Time
}
