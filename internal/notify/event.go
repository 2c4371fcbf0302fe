package notify

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

type Kind string

const (
	KindApproved  Kind = "approved"
	KindUpdated   Kind = "updated"
	KindCancelled Kind = "cancelled"
)

type RecipientRole string

const (
	RecipientClient RecipientRole = "client"
	RecipientCoach  RecipientRole = "coach"
)

// Event is one outbound notification intent for a single recipient.
// The ID doubles as the outbox row key and the delivery idempotency key.
type Event struct {
	ID             uuid.UUID
	Kind           Kind
	AppointmentID  uuid.UUID
	RecipientRole  RecipientRole
	RecipientEmail string
	Payload        Payload
	CreatedAt      time.Time
}

// Payload carries the appointment facts a message is rendered from.
type Payload struct {
	ClientName          string     `json:"client_name"`
	RecipientName       string     `json:"recipient_name"`
	CoachNames          []string   `json:"coach_names"`
	ScheduledAt         time.Time  `json:"scheduled_at"`
	PreviousScheduledAt *time.Time `json:"previous_scheduled_at,omitempty"`
	DurationMinutes     int        `json:"duration_minutes"`
	MeetingURL          string     `json:"meeting_url,omitempty"`
	Notes               string     `json:"notes,omitempty"`
}

func EncodePayload(p Payload) ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode notification payload: %w", err)
	}
	return data, nil
}

func DecodePayload(data []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return Payload{}, fmt.Errorf("decode notification payload: %w", err)
	}
	return p, nil
}
