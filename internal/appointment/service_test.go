package appointment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hackgods/coaching-appointment-scheduling/internal/config"
	"github.com/hackgods/coaching-appointment-scheduling/internal/identity"
	"github.com/hackgods/coaching-appointment-scheduling/internal/notify"
)

type recordingNotifier struct {
	mu      sync.Mutex
	batches [][]notify.Event
}

func (n *recordingNotifier) Dispatch(_ context.Context, events []notify.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.batches = append(n.batches, events)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	total := 0
	for _, b := range n.batches {
		total += len(b)
	}
	return total
}

type fixture struct {
	store    *memStore
	notifier *recordingNotifier
	svc      *Service

	client Client
	coachA Coach
	coachB Coach
	coachC Coach
}

func fakeClient() Client {
	return Client{
		ID:        uuid.New(),
		LastName:  gofakeit.LastName(),
		FirstName: gofakeit.FirstName(),
		Email:     gofakeit.Email(),
	}
}

func fakeCoach(meetingURL string) Coach {
	return Coach{
		ID:         uuid.New(),
		Name:       gofakeit.Name(),
		Email:      gofakeit.Email(),
		MeetingURL: meetingURL,
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		store:    newMemStore(),
		notifier: &recordingNotifier{},
		client:   fakeClient(),
		coachA:   fakeCoach("https://meet.example.com/coach-a"),
		coachB:   fakeCoach(""),
		coachC:   fakeCoach(""),
	}
	f.store.addClient(f.client)
	f.store.addCoach(f.coachA)
	f.store.addCoach(f.coachB)
	f.store.addCoach(f.coachC)

	f.svc = NewService(f.store, f.notifier, config.Config{SlotGranularity: 30 * time.Minute}, zap.NewNop())
	return f
}

func (f *fixture) clientActor() identity.Actor {
	return identity.Actor{UserID: uuid.New(), Role: identity.RoleClient, ProfileID: f.client.ID}
}

func (f *fixture) coachActor(c Coach) identity.Actor {
	return identity.Actor{UserID: uuid.New(), Role: identity.RoleCoach, ProfileID: c.ID}
}

func adminActor() identity.Actor {
	return identity.Actor{UserID: uuid.New(), Role: identity.RoleAdmin}
}

// book creates a pending appointment for the fixture client with coaches A and B.
func (f *fixture) book(t *testing.T, scheduledAt time.Time) *AppointmentDetail {
	t.Helper()
	d, err := f.svc.CreateAppointment(context.Background(), f.clientActor(), CreateAppointmentInput{
		CoachIDs:    []uuid.UUID{f.coachA.ID, f.coachB.ID},
		ScheduledAt: scheduledAt,
	})
	require.NoError(t, err)
	return d
}

func recipients(events []notify.Event) map[string]notify.RecipientRole {
	out := make(map[string]notify.RecipientRole, len(events))
	for _, ev := range events {
		out[ev.RecipientEmail] = ev.RecipientRole
	}
	return out
}

func (f *fixture) allParties() map[string]notify.RecipientRole {
	return map[string]notify.RecipientRole{
		f.client.Email: notify.RecipientClient,
		f.coachA.Email: notify.RecipientCoach,
		f.coachB.Email: notify.RecipientCoach,
	}
}

func TestService_CreateAppointment(t *testing.T) {
	ctx := context.Background()

	t.Run("Client books for themself with several coaches", func(t *testing.T) {
		f := newFixture(t)
		other := uuid.New()

		d, err := f.svc.CreateAppointment(ctx, f.clientActor(), CreateAppointmentInput{
			ClientID:    &other,
			CoachIDs:    []uuid.UUID{f.coachB.ID, f.coachA.ID, f.coachB.ID},
			ScheduledAt: at(1, 10, 0),
			Notes:       "first session",
		})
		require.NoError(t, err)

		assert.Equal(t, f.client.ID, d.ClientID)
		assert.Equal(t, StatusPending, d.Status)
		assert.Equal(t, f.coachB.ID, d.CoachID)
		assert.Equal(t, []uuid.UUID{f.coachB.ID, f.coachA.ID}, d.CoachIDs())
		assert.Equal(t, defaultDurationMinutes, d.DurationMinutes)
		assert.Equal(t, int64(1), d.Version)

		ids, err := f.store.ListAssignedCoachIDs(ctx, d.ID)
		require.NoError(t, err)
		assert.ElementsMatch(t, []uuid.UUID{f.coachA.ID, f.coachB.ID}, ids)

		assert.Empty(t, f.store.outboxEvents())
		assert.Zero(t, f.notifier.count())
	})

	t.Run("Empty coach list", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.CreateAppointment(ctx, f.clientActor(), CreateAppointmentInput{ScheduledAt: at(1, 10, 0)})
		assert.ErrorIs(t, err, ErrInvalidInput)
		assert.ErrorIs(t, err, ErrNoCoaches)

		_, err = f.svc.CreateAppointment(ctx, f.clientActor(), CreateAppointmentInput{
			CoachIDs:    []uuid.UUID{uuid.Nil},
			ScheduledAt: at(1, 10, 0),
		})
		assert.ErrorIs(t, err, ErrNoCoaches)
	})

	t.Run("Coach books on behalf of a client", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.svc.CreateAppointment(ctx, f.coachActor(f.coachA), CreateAppointmentInput{
			CoachIDs:    []uuid.UUID{f.coachA.ID},
			ScheduledAt: at(1, 10, 0),
		})
		assert.ErrorIs(t, err, ErrInvalidInput)

		missing := uuid.New()
		_, err = f.svc.CreateAppointment(ctx, f.coachActor(f.coachA), CreateAppointmentInput{
			ClientID:    &missing,
			CoachIDs:    []uuid.UUID{f.coachA.ID},
			ScheduledAt: at(1, 10, 0),
		})
		assert.ErrorIs(t, err, ErrNotFound)

		d, err := f.svc.CreateAppointment(ctx, adminActor(), CreateAppointmentInput{
			ClientID:    &f.client.ID,
			CoachIDs:    []uuid.UUID{f.coachA.ID},
			ScheduledAt: at(1, 10, 0),
		})
		require.NoError(t, err)
		assert.Equal(t, f.client.ID, d.ClientID)
	})

	t.Run("Unknown coach", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.CreateAppointment(ctx, f.clientActor(), CreateAppointmentInput{
			CoachIDs:    []uuid.UUID{f.coachA.ID, uuid.New()},
			ScheduledAt: at(1, 10, 0),
		})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("Invalid duration", func(t *testing.T) {
		f := newFixture(t)
		zero := 0
		_, err := f.svc.CreateAppointment(ctx, f.clientActor(), CreateAppointmentInput{
			CoachIDs:        []uuid.UUID{f.coachA.ID},
			ScheduledAt:     at(1, 10, 0),
			DurationMinutes: &zero,
		})
		assert.ErrorIs(t, err, ErrInvalidInput)
	})

	t.Run("Books availability slots atomically", func(t *testing.T) {
		f := newFixture(t)
		aSlots, err := f.svc.CreateAvailability(ctx, f.coachActor(f.coachA), f.coachA.ID, at(1, 9, 0), at(1, 10, 0))
		require.NoError(t, err)
		cSlots, err := f.svc.CreateAvailability(ctx, f.coachActor(f.coachC), f.coachC.ID, at(1, 9, 0), at(1, 9, 30))
		require.NoError(t, err)

		// a slot of a coach that is not on the appointment fails the whole booking
		_, err = f.svc.CreateAppointment(ctx, f.clientActor(), CreateAppointmentInput{
			CoachIDs:        []uuid.UUID{f.coachA.ID},
			ScheduledAt:     at(1, 9, 0),
			AvailabilityIDs: []uuid.UUID{aSlots[0].ID, cSlots[0].ID},
		})
		assert.ErrorIs(t, err, ErrInvalidInput)
		s, _ := f.store.slot(aSlots[0].ID)
		assert.False(t, s.Booked)

		_, err = f.svc.CreateAppointment(ctx, f.clientActor(), CreateAppointmentInput{
			CoachIDs:        []uuid.UUID{f.coachA.ID},
			ScheduledAt:     at(1, 9, 0),
			AvailabilityIDs: []uuid.UUID{uuid.New()},
		})
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = f.svc.CreateAppointment(ctx, f.clientActor(), CreateAppointmentInput{
			CoachIDs:        []uuid.UUID{f.coachA.ID},
			ScheduledAt:     at(1, 9, 0),
			AvailabilityIDs: []uuid.UUID{aSlots[0].ID, aSlots[1].ID},
		})
		require.NoError(t, err)
		for _, sl := range aSlots {
			s, _ := f.store.slot(sl.ID)
			assert.True(t, s.Booked)
		}

		_, err = f.svc.CreateAppointment(ctx, f.clientActor(), CreateAppointmentInput{
			CoachIDs:        []uuid.UUID{f.coachA.ID},
			ScheduledAt:     at(1, 9, 0),
			AvailabilityIDs: []uuid.UUID{aSlots[1].ID},
		})
		assert.ErrorIs(t, err, ErrConflict)
	})
}

func TestService_ApproveAppointment(t *testing.T) {
	ctx := context.Background()

	t.Run("Assigned coach approves and everyone is notified", func(t *testing.T) {
		f := newFixture(t)
		d := f.book(t, at(1, 10, 0))

		out, err := f.svc.ApproveAppointment(ctx, f.coachActor(f.coachB), d.ID)
		require.NoError(t, err)

		assert.Equal(t, StatusConfirmed, out.Appointment.Status)
		assert.Equal(t, int64(2), out.Appointment.Version)
		// coach B has no meeting url, the appointment stays unset
		assert.Empty(t, out.Appointment.MeetingURL)

		require.Len(t, out.Events, 3)
		assert.Equal(t, f.allParties(), recipients(out.Events))
		for _, ev := range out.Events {
			assert.Equal(t, notify.KindApproved, ev.Kind)
			assert.Equal(t, d.ID, ev.AppointmentID)
			assert.Len(t, ev.Payload.CoachNames, 2)
			assert.Equal(t, f.client.LastName+" "+f.client.FirstName, ev.Payload.ClientName)
		}
		assert.Len(t, f.store.outboxEvents(), 3)
		assert.Equal(t, 3, f.notifier.count())
	})

	t.Run("Meeting url is taken from the approving coach", func(t *testing.T) {
		f := newFixture(t)
		d := f.book(t, at(1, 10, 0))

		out, err := f.svc.ApproveAppointment(ctx, f.coachActor(f.coachA), d.ID)
		require.NoError(t, err)
		assert.Equal(t, f.coachA.MeetingURL, out.Appointment.MeetingURL)
		assert.Equal(t, f.coachA.MeetingURL, out.Events[0].Payload.MeetingURL)
		assert.Equal(t, f.coachA.MeetingURL, f.store.appointment(d.ID).MeetingURL)
	})

	t.Run("Re-approval keeps status and bumps version", func(t *testing.T) {
		f := newFixture(t)
		d := f.book(t, at(1, 10, 0))

		first, err := f.svc.ApproveAppointment(ctx, f.coachActor(f.coachA), d.ID)
		require.NoError(t, err)
		second, err := f.svc.ApproveAppointment(ctx, f.coachActor(f.coachB), d.ID)
		require.NoError(t, err)

		assert.Equal(t, StatusConfirmed, second.Appointment.Status)
		assert.Equal(t, first.Appointment.Version+1, second.Appointment.Version)
		assert.Equal(t, first.Appointment.MeetingURL, second.Appointment.MeetingURL)
		assert.Len(t, second.Events, 3)
		assert.Len(t, f.store.outboxEvents(), 6)
	})

	t.Run("Coach not assigned", func(t *testing.T) {
		f := newFixture(t)
		d := f.book(t, at(1, 10, 0))

		_, err := f.svc.ApproveAppointment(ctx, f.coachActor(f.coachC), d.ID)
		assert.ErrorIs(t, err, ErrForbidden)
		assert.Equal(t, StatusPending, f.store.appointment(d.ID).Status)
	})

	t.Run("Caller without coach profile", func(t *testing.T) {
		f := newFixture(t)
		d := f.book(t, at(1, 10, 0))

		_, err := f.svc.ApproveAppointment(ctx, f.clientActor(), d.ID)
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = f.svc.ApproveAppointment(ctx, identity.Actor{Role: identity.RoleCoach, ProfileID: uuid.New()}, d.ID)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("Unknown appointment", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.ApproveAppointment(ctx, f.coachActor(f.coachA), uuid.New())
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("Cancelled stays cancelled", func(t *testing.T) {
		f := newFixture(t)
		d := f.book(t, at(1, 10, 0))
		_, err := f.svc.CancelAppointment(ctx, f.clientActor(), d.ID)
		require.NoError(t, err)

		_, err = f.svc.ApproveAppointment(ctx, f.coachActor(f.coachA), d.ID)
		assert.ErrorIs(t, err, ErrConflict)
		assert.Equal(t, StatusCancelled, f.store.appointment(d.ID).Status)
	})
}

func TestService_RejectAppointment(t *testing.T) {
	ctx := context.Background()

	t.Run("Pending to cancelled without notifications", func(t *testing.T) {
		f := newFixture(t)
		d := f.book(t, at(1, 10, 0))

		out, err := f.svc.RejectAppointment(ctx, f.coachActor(f.coachB), d.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusCancelled, out.Appointment.Status)
		assert.Empty(t, out.Events)
		assert.Empty(t, f.store.outboxEvents())
		assert.Zero(t, f.notifier.count())
		assert.Contains(t, f.store.eventTypes(), EventAppointmentRejected)
	})

	t.Run("Confirmed to cancelled", func(t *testing.T) {
		f := newFixture(t)
		d := f.book(t, at(1, 10, 0))
		_, err := f.svc.ApproveAppointment(ctx, f.coachActor(f.coachA), d.ID)
		require.NoError(t, err)

		out, err := f.svc.RejectAppointment(ctx, f.coachActor(f.coachA), d.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusCancelled, out.Appointment.Status)
	})

	t.Run("Already cancelled is a no-op", func(t *testing.T) {
		f := newFixture(t)
		d := f.book(t, at(1, 10, 0))
		_, err := f.svc.RejectAppointment(ctx, f.coachActor(f.coachA), d.ID)
		require.NoError(t, err)
		version := f.store.appointment(d.ID).Version

		out, err := f.svc.RejectAppointment(ctx, f.coachActor(f.coachA), d.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusCancelled, out.Appointment.Status)
		assert.Equal(t, version, f.store.appointment(d.ID).Version)
	})

	t.Run("Coach not assigned", func(t *testing.T) {
		f := newFixture(t)
		d := f.book(t, at(1, 10, 0))
		_, err := f.svc.RejectAppointment(ctx, f.coachActor(f.coachC), d.ID)
		assert.ErrorIs(t, err, ErrForbidden)
	})
}

func TestService_UpdateAppointment(t *testing.T) {
	ctx := context.Background()

	t.Run("Reschedule notifies with both datetimes", func(t *testing.T) {
		f := newFixture(t)
		d := f.book(t, at(1, 10, 0))
		newTime := at(2, 10, 0)

		out, err := f.svc.UpdateAppointment(ctx, f.clientActor(), d.ID, AppointmentPatch{ScheduledAt: &newTime})
		require.NoError(t, err)

		assert.Equal(t, newTime, out.Appointment.ScheduledAt)
		require.Len(t, out.Events, 3)
		assert.Equal(t, f.allParties(), recipients(out.Events))
		for _, ev := range out.Events {
			assert.Equal(t, notify.KindUpdated, ev.Kind)
			require.NotNil(t, ev.Payload.PreviousScheduledAt)
			assert.Equal(t, at(1, 10, 0), *ev.Payload.PreviousScheduledAt)
			assert.Equal(t, newTime, ev.Payload.ScheduledAt)
		}
	})

	t.Run("Other fields change silently", func(t *testing.T) {
		f := newFixture(t)
		d := f.book(t, at(1, 10, 0))
		notes := "bring the plan"
		duration := 45

		out, err := f.svc.UpdateAppointment(ctx, f.coachActor(f.coachA), d.ID, AppointmentPatch{
			Notes:           &notes,
			DurationMinutes: &duration,
		})
		require.NoError(t, err)
		assert.Equal(t, notes, out.Appointment.Notes)
		assert.Equal(t, 45, out.Appointment.DurationMinutes)
		assert.Empty(t, out.Events)
		assert.Zero(t, f.notifier.count())
	})

	t.Run("Same datetime is not a reschedule", func(t *testing.T) {
		f := newFixture(t)
		d := f.book(t, at(1, 10, 0))
		same := at(1, 10, 0)

		out, err := f.svc.UpdateAppointment(ctx, f.clientActor(), d.ID, AppointmentPatch{ScheduledAt: &same})
		require.NoError(t, err)
		assert.Empty(t, out.Events)
		assert.Equal(t, int64(1), out.Appointment.Version)
	})

	t.Run("Only owner, primary coach or admin", func(t *testing.T) {
		f := newFixture(t)
		d := f.book(t, at(1, 10, 0))
		notes := "x"

		_, err := f.svc.UpdateAppointment(ctx, f.coachActor(f.coachB), d.ID, AppointmentPatch{Notes: &notes})
		assert.ErrorIs(t, err, ErrForbidden)

		stranger := identity.Actor{Role: identity.RoleClient, ProfileID: uuid.New()}
		_, err = f.svc.UpdateAppointment(ctx, stranger, d.ID, AppointmentPatch{Notes: &notes})
		assert.ErrorIs(t, err, ErrForbidden)

		_, err = f.svc.UpdateAppointment(ctx, adminActor(), d.ID, AppointmentPatch{Notes: &notes})
		assert.NoError(t, err)
	})

	t.Run("Cancelled appointment", func(t *testing.T) {
		f := newFixture(t)
		d := f.book(t, at(1, 10, 0))
		_, err := f.svc.CancelAppointment(ctx, f.clientActor(), d.ID)
		require.NoError(t, err)

		newTime := at(3, 10, 0)
		_, err = f.svc.UpdateAppointment(ctx, f.clientActor(), d.ID, AppointmentPatch{ScheduledAt: &newTime})
		assert.ErrorIs(t, err, ErrConflict)
	})

	t.Run("Invalid duration", func(t *testing.T) {
		f := newFixture(t)
		d := f.book(t, at(1, 10, 0))
		negative := -5
		_, err := f.svc.UpdateAppointment(ctx, f.clientActor(), d.ID, AppointmentPatch{DurationMinutes: &negative})
		assert.ErrorIs(t, err, ErrInvalidInput)
	})
}

func TestService_CancelAppointment(t *testing.T) {
	ctx := context.Background()

	t.Run("Cancel notifies everyone once", func(t *testing.T) {
		f := newFixture(t)
		d := f.book(t, at(1, 10, 0))

		out, err := f.svc.CancelAppointment(ctx, f.clientActor(), d.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusCancelled, out.Appointment.Status)
		require.Len(t, out.Events, 3)
		for _, ev := range out.Events {
			assert.Equal(t, notify.KindCancelled, ev.Kind)
		}

		again, err := f.svc.CancelAppointment(ctx, f.clientActor(), d.ID)
		require.NoError(t, err)
		assert.Empty(t, again.Events)
		assert.Len(t, f.store.outboxEvents(), 3)
	})

	t.Run("Non-primary coach cannot cancel", func(t *testing.T) {
		f := newFixture(t)
		d := f.book(t, at(1, 10, 0))
		_, err := f.svc.CancelAppointment(ctx, f.coachActor(f.coachB), d.ID)
		assert.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("Outbox failure rolls back", func(t *testing.T) {
		f := newFixture(t)
		d := f.book(t, at(1, 10, 0))
		f.store.failEnqueue = errors.New("disk full")

		_, err := f.svc.CancelAppointment(ctx, f.clientActor(), d.ID)
		assert.Error(t, err)
		assert.Equal(t, StatusPending, f.store.appointment(d.ID).Status)
		assert.Zero(t, f.notifier.count())
	})
}

func TestService_GetAndListAppointments(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	other := fakeClient()
	f.store.addClient(other)

	later := f.book(t, at(5, 10, 0))
	earlier := f.book(t, at(2, 10, 0))
	onlyC, err := f.svc.CreateAppointment(ctx, adminActor(), CreateAppointmentInput{
		ClientID:    &other.ID,
		CoachIDs:    []uuid.UUID{f.coachC.ID, f.coachB.ID},
		ScheduledAt: at(3, 10, 0),
	})
	require.NoError(t, err)

	ids := func(ds []AppointmentDetail) []uuid.UUID {
		var out []uuid.UUID
		for _, d := range ds {
			out = append(out, d.ID)
		}
		return out
	}

	t.Run("Client sees own, ordered", func(t *testing.T) {
		list, err := f.svc.ListAppointments(ctx, f.clientActor(), nil, nil)
		require.NoError(t, err)
		assert.Equal(t, []uuid.UUID{earlier.ID, later.ID}, ids(list))
	})

	t.Run("Coach sees assignments, not just primary", func(t *testing.T) {
		list, err := f.svc.ListAppointments(ctx, f.coachActor(f.coachB), nil, nil)
		require.NoError(t, err)
		assert.Equal(t, []uuid.UUID{earlier.ID, onlyC.ID, later.ID}, ids(list))

		list, err = f.svc.ListAppointments(ctx, f.coachActor(f.coachA), nil, nil)
		require.NoError(t, err)
		assert.Equal(t, []uuid.UUID{earlier.ID, later.ID}, ids(list))
	})

	t.Run("Admin sees all within range", func(t *testing.T) {
		from, to := at(2, 0, 0), at(4, 0, 0)
		list, err := f.svc.ListAppointments(ctx, adminActor(), &from, &to)
		require.NoError(t, err)
		assert.Equal(t, []uuid.UUID{earlier.ID, onlyC.ID}, ids(list))
	})

	t.Run("Get by assigned coach", func(t *testing.T) {
		d, err := f.svc.GetAppointment(ctx, f.coachActor(f.coachB), onlyC.ID)
		require.NoError(t, err)
		assert.Equal(t, f.coachC.ID, d.Coaches[0].ID)
		assert.Equal(t, other.ID, d.Client.ID)
	})

	t.Run("Get by stranger", func(t *testing.T) {
		_, err := f.svc.GetAppointment(ctx, f.coachActor(f.coachA), onlyC.ID)
		assert.ErrorIs(t, err, ErrForbidden)

		_, err = f.svc.GetAppointment(ctx, f.clientActor(), onlyC.ID)
		assert.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("Get unknown", func(t *testing.T) {
		_, err := f.svc.GetAppointment(ctx, adminActor(), uuid.New())
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestService_EndToEnd(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	d := f.book(t, time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC))
	assert.Equal(t, StatusPending, d.Status)
	assert.ElementsMatch(t, []uuid.UUID{f.coachA.ID, f.coachB.ID}, d.CoachIDs())

	approved, err := f.svc.ApproveAppointment(ctx, f.coachActor(f.coachA), d.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, approved.Appointment.Status)
	assert.Equal(t, f.allParties(), recipients(approved.Events))

	newTime := time.Date(2025, 3, 2, 10, 0, 0, 0, time.UTC)
	updated, err := f.svc.UpdateAppointment(ctx, f.clientActor(), d.ID, AppointmentPatch{ScheduledAt: &newTime})
	require.NoError(t, err)
	assert.Equal(t, f.allParties(), recipients(updated.Events))
	for _, ev := range updated.Events {
		assert.Equal(t, time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC), *ev.Payload.PreviousScheduledAt)
		assert.Equal(t, newTime, ev.Payload.ScheduledAt)
	}

	cancelled, err := f.svc.CancelAppointment(ctx, f.clientActor(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Appointment.Status)
	assert.Equal(t, f.allParties(), recipients(cancelled.Events))

	again, err := f.svc.CancelAppointment(ctx, f.clientActor(), d.ID)
	require.NoError(t, err)
	assert.Empty(t, again.Events)

	// approve, update and cancel each produced one event per party
	assert.Len(t, f.store.outboxEvents(), 9)
	assert.Equal(t, 9, f.notifier.count())
	assert.Equal(t, []string{
		EventAppointmentCreated,
		EventAppointmentApproved,
		EventAppointmentUpdated,
		EventAppointmentCancelled,
	}, f.store.eventTypes())
}

// raceBarrier makes the next n transactions take their snapshot before any
// of them proceeds, so they all read the same version.
func raceBarrier(st *memStore, n int) {
	var ready sync.WaitGroup
	ready.Add(n)
	st.onBegin = func() {
		ready.Done()
		ready.Wait()
	}
}

func TestService_ConcurrentTransitions(t *testing.T) {
	ctx := context.Background()

	t.Run("Approve and cancel race", func(t *testing.T) {
		for i := 0; i < 20; i++ {
			f := newFixture(t)
			d := f.book(t, at(1, 10, 0))
			raceBarrier(f.store, 2)

			var wg sync.WaitGroup
			var approveErr, cancelErr error
			wg.Add(2)
			go func() {
				defer wg.Done()
				_, approveErr = f.svc.ApproveAppointment(ctx, f.coachActor(f.coachA), d.ID)
			}()
			go func() {
				defer wg.Done()
				_, cancelErr = f.svc.CancelAppointment(ctx, f.clientActor(), d.ID)
			}()
			wg.Wait()

			errs := []error{approveErr, cancelErr}
			succeeded := 0
			for _, err := range errs {
				if err == nil {
					succeeded++
				} else {
					assert.ErrorIs(t, err, ErrConflict)
				}
			}
			require.Equal(t, 1, succeeded)

			final := f.store.appointment(d.ID)
			assert.Equal(t, int64(2), final.Version)
			if approveErr == nil {
				assert.Equal(t, StatusConfirmed, final.Status)
			} else {
				assert.Equal(t, StatusCancelled, final.Status)
			}
			assert.Len(t, f.store.outboxEvents(), 3)
		}
	})

	t.Run("Re-approve and cancel race on a confirmed appointment", func(t *testing.T) {
		for i := 0; i < 20; i++ {
			f := newFixture(t)
			d := f.book(t, at(1, 10, 0))
			_, err := f.svc.ApproveAppointment(ctx, f.coachActor(f.coachA), d.ID)
			require.NoError(t, err)
			raceBarrier(f.store, 2)

			var wg sync.WaitGroup
			var approveErr, cancelErr error
			wg.Add(2)
			go func() {
				defer wg.Done()
				_, approveErr = f.svc.ApproveAppointment(ctx, f.coachActor(f.coachA), d.ID)
			}()
			go func() {
				defer wg.Done()
				_, cancelErr = f.svc.CancelAppointment(ctx, f.clientActor(), d.ID)
			}()
			wg.Wait()

			if approveErr == nil {
				require.ErrorIs(t, cancelErr, ErrConflict)
			} else {
				require.NoError(t, cancelErr)
				assert.ErrorIs(t, approveErr, ErrConflict)
			}

			final := f.store.appointment(d.ID)
			assert.Equal(t, int64(3), final.Version)

			var approved, cancelled int
			for _, ev := range f.store.outboxEvents() {
				switch ev.Kind {
				case notify.KindApproved:
					approved++
				case notify.KindCancelled:
					cancelled++
				}
			}
			if approveErr == nil {
				assert.Equal(t, StatusConfirmed, final.Status)
				assert.Equal(t, 6, approved)
				assert.Zero(t, cancelled)
			} else {
				assert.Equal(t, StatusCancelled, final.Status)
				assert.Equal(t, 3, approved)
				assert.Equal(t, 3, cancelled)
			}
		}
	})

	t.Run("Two bookings of one slot", func(t *testing.T) {
		f := newFixture(t)
		slots, err := f.svc.CreateAvailability(ctx, f.coachActor(f.coachA), f.coachA.ID, at(1, 9, 0), at(1, 9, 30))
		require.NoError(t, err)
		raceBarrier(f.store, 2)

		errs := make([]error, 2)
		var wg sync.WaitGroup
		for i := range errs {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = f.svc.CreateAppointment(ctx, f.clientActor(), CreateAppointmentInput{
					CoachIDs:        []uuid.UUID{f.coachA.ID},
					ScheduledAt:     at(1, 9, 0),
					AvailabilityIDs: []uuid.UUID{slots[0].ID},
				})
			}(i)
		}
		wg.Wait()

		failed := 0
		for _, err := range errs {
			if err != nil {
				failed++
				assert.ErrorIs(t, err, ErrConflict)
			}
		}
		assert.Equal(t, 1, failed)

		list, err := f.svc.ListAppointments(ctx, f.clientActor(), nil, nil)
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})
}
