package appointment

import (
	"context"

	"github.com/google/uuid"

	"github.com/hackgods/coaching-appointment-scheduling/internal/notify"
)

// Repository contains all DB interactions needed by the service. Inside
// Store.WithTx every call runs on the same transaction.
type Repository interface {
	GetClientByID(ctx context.Context, id uuid.UUID) (*Client, error)
	GetCoachByID(ctx context.Context, id uuid.UUID) (*Coach, error)

	// Availability
	InsertSlots(ctx context.Context, slots []AvailabilitySlot) error
	GetSlotByID(ctx context.Context, id uuid.UUID) (*AvailabilitySlot, error)
	ListOpenSlots(ctx context.Context, f SlotFilter) ([]AvailabilitySlot, error)
	// BookSlot flips is_booked to true only if it was false.
	BookSlot(ctx context.Context, id uuid.UUID) (bool, error)
	// DeleteOpenSlot removes the slot only if it is not booked.
	DeleteOpenSlot(ctx context.Context, id uuid.UUID) (bool, error)

	// Appointments
	InsertAppointment(ctx context.Context, a Appointment) (*Appointment, error)
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// UpdateAppointment writes a when the stored version still equals
	// a.Version and returns the row with the bumped version. A version
	// mismatch yields ErrStaleAppointment.
	UpdateAppointment(ctx context.Context, a Appointment) (*Appointment, error)
	ListAppointments(ctx context.Context, f AppointmentFilter) ([]Appointment, error)

	// Assignments
	InsertAssignments(ctx context.Context, appointmentID uuid.UUID, coachIDs []uuid.UUID) error
	ListAssignedCoachIDs(ctx context.Context, appointmentID uuid.UUID) ([]uuid.UUID, error)

	// Event logging and notification outbox
	InsertEvent(ctx context.Context, ev EventLog) error
	EnqueueNotifications(ctx context.Context, events []notify.Event) error
}

// Store is a Repository that can also run a unit of work atomically.
type Store interface {
	Repository
	WithTx(ctx context.Context, fn func(repo Repository) error) error
}
