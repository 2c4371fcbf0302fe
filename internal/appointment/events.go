package appointment

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/coaching-appointment-scheduling/internal/notify"
)

// buildNotifications produces one event for the client and one for each
// assigned coach. previous is set only for reschedules.
func buildNotifications(kind notify.Kind, d *AppointmentDetail, previous *time.Time, now time.Time) []notify.Event {
	coachNames := make([]string, 0, len(d.Coaches))
	for _, c := range d.Coaches {
		coachNames = append(coachNames, c.DisplayName())
	}

	clientName := d.Client.DisplayName()
	base := notify.Payload{
		ClientName:          clientName,
		CoachNames:          coachNames,
		ScheduledAt:         d.ScheduledAt,
		PreviousScheduledAt: previous,
		DurationMinutes:     d.DurationMinutes,
		MeetingURL:          d.MeetingURL,
		Notes:               d.Notes,
	}

	newEvent := func(role notify.RecipientRole, email, name string) notify.Event {
		p := base
		p.RecipientName = name
		return notify.Event{
			ID:             uuid.New(),
			Kind:           kind,
			AppointmentID:  d.ID,
			RecipientRole:  role,
			RecipientEmail: email,
			Payload:        p,
			CreatedAt:      now,
		}
	}

	events := make([]notify.Event, 0, len(d.Coaches)+1)
	events = append(events, newEvent(notify.RecipientClient, d.Client.Email, clientName))
	for _, c := range d.Coaches {
		events = append(events, newEvent(notify.RecipientCoach, c.Email, c.DisplayName()))
	}
	return events
}
