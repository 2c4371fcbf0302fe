package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Outbox is the delivery-attempt ledger. A row is claimed exactly once;
// claimed rows are never handed out again.
type Outbox interface {
	Claim(ctx context.Context, id uuid.UUID) (bool, error)
	ClaimStale(ctx context.Context, olderThan time.Time, limit int) ([]Event, error)
	MarkDelivered(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
}

// Execer is satisfied by both *pgxpool.Pool and pgx.Tx.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Enqueue writes events into the outbox. Callers pass their transaction so
// the rows commit together with the state change that produced them.
func Enqueue(ctx context.Context, db Execer, events []Event) error {
	for _, ev := range events {
		payload, err := EncodePayload(ev.Payload)
		if err != nil {
			return err
		}
		_, err = db.Exec(ctx, `
			INSERT INTO notification_outbox (id, appointment_id, kind, recipient_role, recipient_email, payload, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, ev.ID, ev.AppointmentID, ev.Kind, ev.RecipientRole, ev.RecipientEmail, payload, ev.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert outbox event %s: %w", ev.ID, err)
		}
	}
	return nil
}

type PgOutbox struct {
	pool *pgxpool.Pool
}

func NewPgOutbox(pool *pgxpool.Pool) *PgOutbox {
	return &PgOutbox{pool: pool}
}

func (o *PgOutbox) Claim(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := o.pool.Exec(ctx, `
		UPDATE notification_outbox
		SET claimed_at = now()
		WHERE id = $1
		  AND claimed_at IS NULL
	`, id)
	if err != nil {
		return false, fmt.Errorf("claim outbox event %s: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (o *PgOutbox) ClaimStale(ctx context.Context, olderThan time.Time, limit int) ([]Event, error) {
	rows, err := o.pool.Query(ctx, `
		UPDATE notification_outbox
		SET claimed_at = now()
		WHERE id IN (
			SELECT id FROM notification_outbox
			WHERE claimed_at IS NULL
			  AND created_at < $1
			ORDER BY created_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, appointment_id, kind, recipient_role, recipient_email, payload, created_at
	`, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("claim stale outbox events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func (o *PgOutbox) MarkDelivered(ctx context.Context, id uuid.UUID) error {
	_, err := o.pool.Exec(ctx, `
		UPDATE notification_outbox SET delivered_at = now() WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("mark outbox event %s delivered: %w", id, err)
	}
	return nil
}

func (o *PgOutbox) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	_, err := o.pool.Exec(ctx, `
		UPDATE notification_outbox SET failed_at = now(), last_error = $2 WHERE id = $1
	`, id, reason)
	if err != nil {
		return fmt.Errorf("mark outbox event %s failed: %w", id, err)
	}
	return nil
}

func scanEvent(row pgx.Row) (*Event, error) {
	var ev Event
	var payload []byte

	err := row.Scan(
		&ev.ID,
		&ev.AppointmentID,
		&ev.Kind,
		&ev.RecipientRole,
		&ev.RecipientEmail,
		&payload,
		&ev.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("outbox event not found: %w", err)
		}
		return nil, err
	}

	ev.Payload, err = DecodePayload(payload)
	if err != nil {
		return nil, err
	}
	return &ev, nil
}
