package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/coaching-appointment-scheduling/internal/notify"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

type PgRepository struct {
	db querier
}

// PgStore runs repository calls on the pool, or on a transaction in WithTx.
type PgStore struct {
	*PgRepository
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{
		PgRepository: &PgRepository{db: pool},
		pool:         pool,
	}
}

func (s *PgStore) WithTx(ctx context.Context, fn func(repo Repository) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(&PgRepository{db: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Helpers

const (
	clientColumns      = `id, name, last_name, first_name, email, created_at, updated_at`
	coachColumns       = `id, name, last_name, first_name, email, meeting_url, created_at, updated_at`
	slotColumns        = `id, coach_id, start_time, end_time, is_booked, created_at`
	appointmentColumns = `id, client_id, coach_id, scheduled_at, duration_minutes, appointment_type, meeting_url, notes, status, version, created_at, updated_at`
)

func scanClient(row pgx.Row) (*Client, error) {
	var c Client
	var name, lastName, firstName *string

	err := row.Scan(
		&c.ID,
		&name,
		&lastName,
		&firstName,
		&c.Email,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrClientNotFound
		}
		return nil, err
	}

	c.Name = deref(name)
	c.LastName = deref(lastName)
	c.FirstName = deref(firstName)
	return &c, nil
}

func scanCoach(row pgx.Row) (*Coach, error) {
	var c Coach
	var name, lastName, firstName, meetingURL *string

	err := row.Scan(
		&c.ID,
		&name,
		&lastName,
		&firstName,
		&c.Email,
		&meetingURL,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCoachNotFound
		}
		return nil, err
	}

	c.Name = deref(name)
	c.LastName = deref(lastName)
	c.FirstName = deref(firstName)
	c.MeetingURL = deref(meetingURL)
	return &c, nil
}

func scanSlot(row pgx.Row) (*AvailabilitySlot, error) {
	var s AvailabilitySlot

	err := row.Scan(
		&s.ID,
		&s.CoachID,
		&s.StartTime,
		&s.EndTime,
		&s.Booked,
		&s.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}

	return &s, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var appointmentType, meetingURL, notes *string

	err := row.Scan(
		&a.ID,
		&a.ClientID,
		&a.CoachID,
		&a.ScheduledAt,
		&a.DurationMinutes,
		&appointmentType,
		&meetingURL,
		&notes,
		&a.Status,
		&a.Version,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.AppointmentType = deref(appointmentType)
	a.MeetingURL = deref(meetingURL)
	a.Notes = deref(notes)
	return &a, nil
}

// Interface methods

func (r *PgRepository) GetClientByID(ctx context.Context, id uuid.UUID) (*Client, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+clientColumns+`
		FROM clients
		WHERE id = $1
	`, id)
	return scanClient(row)
}

func (r *PgRepository) GetCoachByID(ctx context.Context, id uuid.UUID) (*Coach, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+coachColumns+`
		FROM coaches
		WHERE id = $1
	`, id)
	return scanCoach(row)
}

func (r *PgRepository) InsertSlots(ctx context.Context, slots []AvailabilitySlot) error {
	batch := &pgx.Batch{}
	for _, s := range slots {
		batch.Queue(`
			INSERT INTO coach_availability (id, coach_id, start_time, end_time, is_booked, created_at)
			VALUES ($1, $2, $3, $4, false, $5)
		`, s.ID, s.CoachID, s.StartTime, s.EndTime, s.CreatedAt)
	}

	results := r.db.SendBatch(ctx, batch)
	defer results.Close()

	for range slots {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("insert availability slot: %w", err)
		}
	}
	return nil
}

func (r *PgRepository) GetSlotByID(ctx context.Context, id uuid.UUID) (*AvailabilitySlot, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+slotColumns+`
		FROM coach_availability
		WHERE id = $1
	`, id)
	return scanSlot(row)
}

func (r *PgRepository) ListOpenSlots(ctx context.Context, f SlotFilter) ([]AvailabilitySlot, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+slotColumns+`
		FROM coach_availability
		WHERE is_booked = false
		  AND ($1::uuid IS NULL OR coach_id = $1)
		  AND ($2::timestamptz IS NULL OR end_time > $2)
		  AND ($3::timestamptz IS NULL OR start_time < $3)
		ORDER BY start_time, coach_id
	`, f.CoachID, f.From, f.To)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []AvailabilitySlot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) BookSlot(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE coach_availability
		SET is_booked = true
		WHERE id = $1
		  AND is_booked = false
	`, id)
	if err != nil {
		return false, fmt.Errorf("book availability slot: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PgRepository) DeleteOpenSlot(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM coach_availability
		WHERE id = $1
		  AND is_booked = false
	`, id)
	if err != nil {
		return false, fmt.Errorf("delete availability slot: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PgRepository) InsertAppointment(ctx context.Context, a Appointment) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		INSERT INTO appointments (id, client_id, coach_id, scheduled_at, duration_minutes, appointment_type, meeting_url, notes, status, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 1, now(), now())
		RETURNING `+appointmentColumns+`
	`, a.ID, a.ClientID, a.CoachID, a.ScheduledAt, a.DurationMinutes,
		nullableString(a.AppointmentType), nullableString(a.MeetingURL), nullableString(a.Notes), a.Status)

	return scanAppointment(row)
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) UpdateAppointment(ctx context.Context, a Appointment) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE appointments
		SET scheduled_at = $3,
		    duration_minutes = $4,
		    appointment_type = $5,
		    meeting_url = $6,
		    notes = $7,
		    status = $8,
		    version = version + 1,
		    updated_at = now()
		WHERE id = $1
		  AND version = $2
		RETURNING `+appointmentColumns+`
	`, a.ID, a.Version, a.ScheduledAt, a.DurationMinutes,
		nullableString(a.AppointmentType), nullableString(a.MeetingURL), nullableString(a.Notes), a.Status)

	updated, err := scanAppointment(row)
	if errors.Is(err, ErrAppointmentNotFound) {
		return nil, ErrStaleAppointment
	}
	return updated, err
}

func (r *PgRepository) ListAppointments(ctx context.Context, f AppointmentFilter) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments a
		WHERE ($1::uuid IS NULL OR a.client_id = $1)
		  AND ($2::uuid IS NULL OR EXISTS (
		        SELECT 1 FROM appointment_coaches ac
		        WHERE ac.appointment_id = a.id AND ac.coach_id = $2
		      ))
		  AND ($3::timestamptz IS NULL OR a.scheduled_at >= $3)
		  AND ($4::timestamptz IS NULL OR a.scheduled_at < $4)
		ORDER BY a.scheduled_at, a.id
	`, f.ClientID, f.CoachID, f.From, f.To)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) InsertAssignments(ctx context.Context, appointmentID uuid.UUID, coachIDs []uuid.UUID) error {
	// Offsets keep the caller's coach order in created_at.
	base := time.Now()
	for i, coachID := range coachIDs {
		_, err := r.db.Exec(ctx, `
			INSERT INTO appointment_coaches (appointment_id, coach_id, created_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (appointment_id, coach_id) DO NOTHING
		`, appointmentID, coachID, base.Add(time.Duration(i)*time.Microsecond))
		if err != nil {
			return fmt.Errorf("insert assignment for coach %s: %w", coachID, err)
		}
	}
	return nil
}

func (r *PgRepository) ListAssignedCoachIDs(ctx context.Context, appointmentID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.db.Query(ctx, `
		SELECT coach_id
		FROM appointment_coaches
		WHERE appointment_id = $1
		ORDER BY created_at, coach_id
	`, appointmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func (r *PgRepository) EnqueueNotifications(ctx context.Context, events []notify.Event) error {
	return notify.Enqueue(ctx, r.db, events)
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
