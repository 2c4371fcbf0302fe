package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/coaching-appointment-scheduling/internal/config"
	"github.com/hackgods/coaching-appointment-scheduling/internal/identity"
	"github.com/hackgods/coaching-appointment-scheduling/internal/notify"
)

const (
	EventAppointmentCreated   = "APPOINTMENT_CREATED"
	EventAppointmentApproved  = "APPOINTMENT_APPROVED"
	EventAppointmentRejected  = "APPOINTMENT_REJECTED"
	EventAppointmentUpdated   = "APPOINTMENT_UPDATED"
	EventAppointmentCancelled = "APPOINTMENT_CANCELLED"
)

const defaultDurationMinutes = 30

// Notifier receives outbound events once their transaction has committed.
type Notifier interface {
	Dispatch(ctx context.Context, events []notify.Event)
}

// Outcome is the result of a state transition: the appointment after the
// change and the notifications it produced. Events are already persisted in
// the outbox when the Outcome is returned.
type Outcome struct {
	Appointment *AppointmentDetail
	Events      []notify.Event
}

type Service struct {
	store       Store
	notifier    Notifier
	log         *zap.Logger
	granularity time.Duration
	now         func() time.Time
}

func NewService(store Store, notifier Notifier, cfg config.Config, log *zap.Logger) *Service {
	granularity := cfg.SlotGranularity
	if granularity <= 0 {
		granularity = 30 * time.Minute
	}
	return &Service{
		store:       store,
		notifier:    notifier,
		log:         log,
		granularity: granularity,
		now:         time.Now,
	}
}

// CreateAppointment books an appointment for a client with one or more
// coaches. Client callers always book for themselves. Requested
// availability slots are booked in the same transaction.
func (s *Service) CreateAppointment(ctx context.Context, actor identity.Actor, in CreateAppointmentInput) (*AppointmentDetail, error) {
	var clientID uuid.UUID
	switch {
	case actor.IsClient():
		clientID = actor.ProfileID
	case in.ClientID == nil || *in.ClientID == uuid.Nil:
		return nil, ErrClientRequired
	default:
		clientID = *in.ClientID
	}

	coachIDs := dedupeIDs(in.CoachIDs)
	if len(coachIDs) == 0 {
		return nil, ErrNoCoaches
	}
	if in.ScheduledAt.IsZero() {
		return nil, ErrMissingSchedule
	}
	duration := defaultDurationMinutes
	if in.DurationMinutes != nil {
		duration = *in.DurationMinutes
	}
	if duration <= 0 {
		return nil, ErrInvalidDuration
	}

	var detail *AppointmentDetail

	err := s.store.WithTx(ctx, func(repo Repository) error {
		client, err := repo.GetClientByID(ctx, clientID)
		if err != nil {
			return err
		}

		coaches := make([]Coach, 0, len(coachIDs))
		for _, id := range coachIDs {
			c, err := repo.GetCoachByID(ctx, id)
			if err != nil {
				return err
			}
			coaches = append(coaches, *c)
		}

		for _, slotID := range dedupeIDs(in.AvailabilityIDs) {
			if err := s.bookSlot(ctx, repo, slotID, coachIDs); err != nil {
				return err
			}
		}

		appt, err := repo.InsertAppointment(ctx, Appointment{
			ID:              uuid.New(),
			ClientID:        client.ID,
			CoachID:         coachIDs[0],
			ScheduledAt:     in.ScheduledAt,
			DurationMinutes: duration,
			AppointmentType: strings.TrimSpace(in.AppointmentType),
			MeetingURL:      strings.TrimSpace(in.MeetingURL),
			Notes:           in.Notes,
			Status:          StatusPending,
		})
		if err != nil {
			return fmt.Errorf("insert appointment: %w", err)
		}

		if err := repo.InsertAssignments(ctx, appt.ID, coachIDs); err != nil {
			return err
		}

		detail = &AppointmentDetail{Appointment: *appt, Client: client, Coaches: coaches}

		return s.logEvent(ctx, repo, &appt.ID, EventAppointmentCreated, map[string]any{
			"client_id":        client.ID.String(),
			"coach_ids":        idStrings(coachIDs),
			"availability_ids": idStrings(dedupeIDs(in.AvailabilityIDs)),
			"scheduled_at":     appt.ScheduledAt,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("create appointment: %w", err)
	}

	s.log.Info("appointment created",
		zap.String("appointment_id", detail.ID.String()),
		zap.String("client_id", detail.ClientID.String()),
		zap.Int("coaches", len(detail.Coaches)))
	return detail, nil
}

func (s *Service) bookSlot(ctx context.Context, repo Repository, slotID uuid.UUID, coachIDs []uuid.UUID) error {
	slot, err := repo.GetSlotByID(ctx, slotID)
	if err != nil {
		return err
	}
	if !containsID(coachIDs, slot.CoachID) {
		return ErrSlotCoachMismatch
	}
	booked, err := repo.BookSlot(ctx, slotID)
	if err != nil {
		return err
	}
	if !booked {
		return ErrSlotBooked
	}
	return nil
}

// ApproveAppointment confirms a pending appointment. Approving an already
// confirmed appointment keeps its status, bumps the version and notifies
// every party again.
func (s *Service) ApproveAppointment(ctx context.Context, actor identity.Actor, id uuid.UUID) (*Outcome, error) {
	if !actor.IsCoach() {
		return nil, ErrCoachProfileNotFound
	}

	out, err := s.transition(ctx, id, func(repo Repository, d *AppointmentDetail) ([]notify.Event, error) {
		coach, err := repo.GetCoachByID(ctx, actor.ProfileID)
		if err != nil {
			if errors.Is(err, ErrCoachNotFound) {
				return nil, ErrCoachProfileNotFound
			}
			return nil, err
		}
		if !containsID(d.CoachIDs(), coach.ID) {
			return nil, ErrNotAssignedCoach
		}

		if d.Status != StatusConfirmed && !CanTransition(d.Status, StatusConfirmed) {
			return nil, ErrInvalidTransition
		}

		next := d.Appointment
		next.Status = StatusConfirmed
		if next.MeetingURL == "" {
			next.MeetingURL = coach.MeetingURL
		}
		// Always write, even when nothing changed, so the version check
		// orders a repeat approval against a concurrent cancel.
		if err := s.save(ctx, repo, d, next); err != nil {
			return nil, err
		}

		if err := s.logEvent(ctx, repo, &d.ID, EventAppointmentApproved, map[string]any{
			"coach_id": coach.ID.String(),
		}); err != nil {
			return nil, err
		}

		return buildNotifications(notify.KindApproved, d, nil, s.now()), nil
	})
	if err != nil {
		return nil, fmt.Errorf("approve appointment %s: %w", id, err)
	}
	return out, nil
}

// RejectAppointment cancels an appointment on behalf of an assigned coach.
// It emits no notifications.
func (s *Service) RejectAppointment(ctx context.Context, actor identity.Actor, id uuid.UUID) (*Outcome, error) {
	if !actor.IsCoach() {
		return nil, ErrCoachProfileNotFound
	}

	out, err := s.transition(ctx, id, func(repo Repository, d *AppointmentDetail) ([]notify.Event, error) {
		if _, err := repo.GetCoachByID(ctx, actor.ProfileID); err != nil {
			if errors.Is(err, ErrCoachNotFound) {
				return nil, ErrCoachProfileNotFound
			}
			return nil, err
		}
		if !containsID(d.CoachIDs(), actor.ProfileID) {
			return nil, ErrNotAssignedCoach
		}
		if d.Status == StatusCancelled {
			return nil, nil
		}

		next := d.Appointment
		next.Status = StatusCancelled
		if err := s.save(ctx, repo, d, next); err != nil {
			return nil, err
		}

		return nil, s.logEvent(ctx, repo, &d.ID, EventAppointmentRejected, map[string]any{
			"coach_id": actor.ProfileID.String(),
		})
	})
	if err != nil {
		return nil, fmt.Errorf("reject appointment %s: %w", id, err)
	}
	return out, nil
}

// UpdateAppointment applies a partial update. Only a change of the
// scheduled datetime notifies the parties.
func (s *Service) UpdateAppointment(ctx context.Context, actor identity.Actor, id uuid.UUID, patch AppointmentPatch) (*Outcome, error) {
	if patch.ScheduledAt != nil && patch.ScheduledAt.IsZero() {
		return nil, ErrMissingSchedule
	}
	if patch.DurationMinutes != nil && *patch.DurationMinutes <= 0 {
		return nil, ErrInvalidDuration
	}

	out, err := s.transition(ctx, id, func(repo Repository, d *AppointmentDetail) ([]notify.Event, error) {
		if !canModify(actor, &d.Appointment) {
			return nil, ErrNotAppointmentOwner
		}
		if d.Status == StatusCancelled {
			return nil, ErrAppointmentCancelled
		}

		next := d.Appointment
		var changed []string
		if patch.ScheduledAt != nil && !patch.ScheduledAt.Equal(next.ScheduledAt) {
			next.ScheduledAt = *patch.ScheduledAt
			changed = append(changed, "scheduled_at")
		}
		if patch.DurationMinutes != nil && *patch.DurationMinutes != next.DurationMinutes {
			next.DurationMinutes = *patch.DurationMinutes
			changed = append(changed, "duration_minutes")
		}
		if patch.AppointmentType != nil && *patch.AppointmentType != next.AppointmentType {
			next.AppointmentType = *patch.AppointmentType
			changed = append(changed, "appointment_type")
		}
		if patch.MeetingURL != nil && *patch.MeetingURL != next.MeetingURL {
			next.MeetingURL = *patch.MeetingURL
			changed = append(changed, "meeting_url")
		}
		if patch.Notes != nil && *patch.Notes != next.Notes {
			next.Notes = *patch.Notes
			changed = append(changed, "notes")
		}
		if len(changed) == 0 {
			return nil, nil
		}

		previous := d.ScheduledAt
		if err := s.save(ctx, repo, d, next); err != nil {
			return nil, err
		}

		payload := map[string]any{"fields": changed}
		rescheduled := !previous.Equal(d.ScheduledAt)
		if rescheduled {
			payload["previous_scheduled_at"] = previous
			payload["scheduled_at"] = d.ScheduledAt
		}
		if err := s.logEvent(ctx, repo, &d.ID, EventAppointmentUpdated, payload); err != nil {
			return nil, err
		}

		if !rescheduled {
			return nil, nil
		}
		return buildNotifications(notify.KindUpdated, d, &previous, s.now()), nil
	})
	if err != nil {
		return nil, fmt.Errorf("update appointment %s: %w", id, err)
	}
	return out, nil
}

// CancelAppointment moves the appointment to cancelled. Cancelling an
// already cancelled appointment is a no-op without notifications.
func (s *Service) CancelAppointment(ctx context.Context, actor identity.Actor, id uuid.UUID) (*Outcome, error) {
	out, err := s.transition(ctx, id, func(repo Repository, d *AppointmentDetail) ([]notify.Event, error) {
		if !canModify(actor, &d.Appointment) {
			return nil, ErrNotAppointmentOwner
		}
		if d.Status == StatusCancelled {
			return nil, nil
		}
		if !CanTransition(d.Status, StatusCancelled) {
			return nil, ErrInvalidTransition
		}

		next := d.Appointment
		next.Status = StatusCancelled
		if err := s.save(ctx, repo, d, next); err != nil {
			return nil, err
		}

		if err := s.logEvent(ctx, repo, &d.ID, EventAppointmentCancelled, map[string]any{
			"actor_role": string(actor.Role),
		}); err != nil {
			return nil, err
		}

		return buildNotifications(notify.KindCancelled, d, nil, s.now()), nil
	})
	if err != nil {
		return nil, fmt.Errorf("cancel appointment %s: %w", id, err)
	}
	return out, nil
}

// transition loads the appointment inside a transaction, lets apply mutate
// it, stores the events it returns in the outbox and hands them to the
// notifier after commit.
func (s *Service) transition(ctx context.Context, id uuid.UUID, apply func(repo Repository, d *AppointmentDetail) ([]notify.Event, error)) (*Outcome, error) {
	var out Outcome

	err := s.store.WithTx(ctx, func(repo Repository) error {
		appt, err := repo.GetAppointmentByID(ctx, id)
		if err != nil {
			return err
		}
		d, err := s.loadDetail(ctx, repo, appt)
		if err != nil {
			return err
		}

		events, err := apply(repo, d)
		if err != nil {
			return err
		}
		if len(events) > 0 {
			if err := repo.EnqueueNotifications(ctx, events); err != nil {
				return err
			}
		}

		out = Outcome{Appointment: d, Events: events}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("appointment transitioned",
		zap.String("appointment_id", id.String()),
		zap.String("status", string(out.Appointment.Status)),
		zap.Int64("version", out.Appointment.Version),
		zap.Int("notifications", len(out.Events)))

	if s.notifier != nil && len(out.Events) > 0 {
		s.notifier.Dispatch(ctx, out.Events)
	}
	return &out, nil
}

// save writes next with an optimistic version check and refreshes d.
func (s *Service) save(ctx context.Context, repo Repository, d *AppointmentDetail, next Appointment) error {
	updated, err := repo.UpdateAppointment(ctx, next)
	if err != nil {
		return err
	}
	d.Appointment = *updated
	return nil
}

// GetAppointment returns the appointment if the caller owns it, is assigned
// to it, or is an administrator.
func (s *Service) GetAppointment(ctx context.Context, actor identity.Actor, id uuid.UUID) (*AppointmentDetail, error) {
	appt, err := s.store.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	d, err := s.loadDetail(ctx, s.store, appt)
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	if !canView(actor, appt, d.CoachIDs()) {
		return nil, ErrNotAppointmentOwner
	}
	return d, nil
}

// ListAppointments returns the caller's appointments ordered by scheduled
// datetime. Clients see their own, coaches see the ones they are assigned
// to, administrators see all.
func (s *Service) ListAppointments(ctx context.Context, actor identity.Actor, from, to *time.Time) ([]AppointmentDetail, error) {
	f := AppointmentFilter{From: from, To: to}
	switch actor.Role {
	case identity.RoleClient:
		f.ClientID = &actor.ProfileID
	case identity.RoleCoach:
		f.CoachID = &actor.ProfileID
	case identity.RoleAdmin:
	default:
		return nil, ErrForbidden
	}

	appts, err := s.store.ListAppointments(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}

	cache := newProfileCache(s.store)
	result := make([]AppointmentDetail, 0, len(appts))
	for i := range appts {
		d, err := cache.detail(ctx, &appts[i])
		if err != nil {
			return nil, fmt.Errorf("list appointments: %w", err)
		}
		result = append(result, *d)
	}
	return result, nil
}

func (s *Service) loadDetail(ctx context.Context, repo Repository, appt *Appointment) (*AppointmentDetail, error) {
	return newProfileCache(repo).detail(ctx, appt)
}

// profileCache resolves clients and coaches once per call.
type profileCache struct {
	repo    Repository
	clients map[uuid.UUID]*Client
	coaches map[uuid.UUID]*Coach
}

func newProfileCache(repo Repository) *profileCache {
	return &profileCache{
		repo:    repo,
		clients: make(map[uuid.UUID]*Client),
		coaches: make(map[uuid.UUID]*Coach),
	}
}

func (c *profileCache) detail(ctx context.Context, appt *Appointment) (*AppointmentDetail, error) {
	client, ok := c.clients[appt.ClientID]
	if !ok {
		var err error
		client, err = c.repo.GetClientByID(ctx, appt.ClientID)
		if err != nil {
			return nil, err
		}
		c.clients[appt.ClientID] = client
	}

	ids, err := c.repo.ListAssignedCoachIDs(ctx, appt.ID)
	if err != nil {
		return nil, fmt.Errorf("list assigned coaches: %w", err)
	}

	// primary coach first, the rest in assignment order
	ordered := make([]uuid.UUID, 0, len(ids)+1)
	ordered = append(ordered, appt.CoachID)
	for _, id := range ids {
		if id != appt.CoachID {
			ordered = append(ordered, id)
		}
	}

	coaches := make([]Coach, 0, len(ordered))
	for _, id := range ordered {
		coach, ok := c.coaches[id]
		if !ok {
			coach, err = c.repo.GetCoachByID(ctx, id)
			if err != nil {
				return nil, err
			}
			c.coaches[id] = coach
		}
		coaches = append(coaches, *coach)
	}

	return &AppointmentDetail{Appointment: *appt, Client: client, Coaches: coaches}, nil
}

func (s *Service) logEvent(ctx context.Context, repo Repository, appointmentID *uuid.UUID, eventType string, payload map[string]any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Warn("failed to marshal event payload", zap.String("event_type", eventType), zap.Error(err))
		data = nil
	}

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: appointmentID,
		Payload:       data,
		CreatedAt:     s.now(),
	}

	if err := repo.InsertEvent(ctx, ev); err != nil {
		return fmt.Errorf("log %s: %w", eventType, err)
	}
	return nil
}

func idStrings(ids []uuid.UUID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}
