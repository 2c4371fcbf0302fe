package appointment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/coaching-appointment-scheduling/internal/identity"
)

const (
	EventAvailabilityCreated = "AVAILABILITY_CREATED"
	EventAvailabilityDeleted = "AVAILABILITY_DELETED"
)

type Window struct {
	Start time.Time
	End   time.Time
}

// SplitWindow partitions [start, end) into consecutive windows of the given
// granularity. The last window is shorter when the length is not an exact
// multiple. The caller guarantees start < end and granularity > 0.
func SplitWindow(start, end time.Time, granularity time.Duration) []Window {
	n := int((end.Sub(start) + granularity - 1) / granularity)
	windows := make([]Window, 0, n)
	for cur := start; cur.Before(end); cur = cur.Add(granularity) {
		next := cur.Add(granularity)
		if next.After(end) {
			next = end
		}
		windows = append(windows, Window{Start: cur, End: next})
	}
	return windows
}

// CreateAvailability publishes a coach's window as bookable slots.
func (s *Service) CreateAvailability(ctx context.Context, actor identity.Actor, coachID uuid.UUID, start, end time.Time) ([]AvailabilitySlot, error) {
	if !actor.IsCoach() || actor.ProfileID != coachID {
		return nil, ErrNotSlotOwner
	}
	if start.IsZero() || end.IsZero() || !end.After(start) {
		return nil, ErrInvalidWindow
	}

	now := s.now()
	windows := SplitWindow(start, end, s.granularity)
	slots := make([]AvailabilitySlot, 0, len(windows))
	for _, w := range windows {
		slots = append(slots, AvailabilitySlot{
			ID:        uuid.New(),
			CoachID:   coachID,
			StartTime: w.Start,
			EndTime:   w.End,
			CreatedAt: now,
		})
	}

	err := s.store.WithTx(ctx, func(repo Repository) error {
		if _, err := repo.GetCoachByID(ctx, coachID); err != nil {
			return err
		}
		if err := repo.InsertSlots(ctx, slots); err != nil {
			return err
		}
		return s.logEvent(ctx, repo, nil, EventAvailabilityCreated, map[string]any{
			"coach_id": coachID.String(),
			"start":    start,
			"end":      end,
			"slots":    len(slots),
		})
	})
	if err != nil {
		return nil, fmt.Errorf("create availability: %w", err)
	}

	s.log.Info("availability created",
		zap.String("coach_id", coachID.String()),
		zap.Int("slots", len(slots)))
	return slots, nil
}

// ListAvailability returns unbooked slots ordered by start time. A nil
// CoachID spans all coaches; From and To select slots overlapping the range.
func (s *Service) ListAvailability(ctx context.Context, f SlotFilter) ([]AvailabilitySlot, error) {
	slots, err := s.store.ListOpenSlots(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list availability: %w", err)
	}
	return slots, nil
}

func (s *Service) DeleteAvailability(ctx context.Context, actor identity.Actor, slotID uuid.UUID) error {
	err := s.store.WithTx(ctx, func(repo Repository) error {
		slot, err := repo.GetSlotByID(ctx, slotID)
		if err != nil {
			return err
		}
		if !actor.IsCoach() || actor.ProfileID != slot.CoachID {
			return ErrNotSlotOwner
		}
		if slot.Booked {
			return ErrSlotBooked
		}

		deleted, err := repo.DeleteOpenSlot(ctx, slotID)
		if err != nil {
			return err
		}
		if !deleted {
			// booked by a concurrent appointment after we read it
			return ErrSlotBooked
		}

		return s.logEvent(ctx, repo, nil, EventAvailabilityDeleted, map[string]any{
			"slot_id":  slotID.String(),
			"coach_id": slot.CoachID.String(),
		})
	})
	if err != nil {
		return fmt.Errorf("delete availability %s: %w", slotID, err)
	}
	return nil
}
