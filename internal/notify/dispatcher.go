package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type DispatcherOptions struct {
	Workers   int
	QueueSize int
	Timeout   time.Duration // per delivery
	Rate      float64       // deliveries per second, 0 means unlimited
}

// Dispatcher delivers outbound events after their transaction committed.
// Delivery is at-most-once: an event is claimed in the outbox before the
// gateway is called, and a claimed event is never attempted again.
type Dispatcher struct {
	gateway Gateway
	outbox  Outbox
	log     *zap.Logger
	limiter *rate.Limiter
	timeout time.Duration
	workers int
	queue   chan Event
}

func NewDispatcher(gateway Gateway, outbox Outbox, log *zap.Logger, opts DispatcherOptions) *Dispatcher {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 128
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}

	limit := rate.Inf
	burst := 1
	if opts.Rate > 0 {
		limit = rate.Limit(opts.Rate)
		burst = int(opts.Rate) + 1
	}

	return &Dispatcher{
		gateway: gateway,
		outbox:  outbox,
		log:     log,
		limiter: rate.NewLimiter(limit, burst),
		timeout: opts.Timeout,
		workers: opts.Workers,
		queue:   make(chan Event, opts.QueueSize),
	}
}

// Dispatch hands events to the delivery workers without blocking. Events
// that do not fit in the queue stay unclaimed in the outbox for the sweeper.
func (d *Dispatcher) Dispatch(_ context.Context, events []Event) {
	for _, ev := range events {
		select {
		case d.queue <- ev:
		default:
			d.log.Warn("notification queue full, leaving event for sweeper",
				zap.String("event_id", ev.ID.String()),
				zap.String("appointment_id", ev.AppointmentID.String()))
		}
	}
}

// Run starts the delivery workers and blocks until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < d.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case ev := <-d.queue:
					if err := d.Deliver(ctx, ev); err != nil {
						d.logFailure(ev, err)
					}
				}
			}
		}()
	}
	wg.Wait()
	return nil
}

// Deliver claims and sends one event. It returns nil when another process
// already claimed it. The rate limiter is waited on before the claim, so an
// event whose slot does not fit the deadline stays unclaimed for the sweeper.
func (d *Dispatcher) Deliver(ctx context.Context, ev Event) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait for delivery slot: %w", err)
	}

	claimed, err := d.outbox.Claim(ctx, ev.ID)
	if err != nil {
		return err
	}
	if !claimed {
		d.log.Debug("notification already claimed", zap.String("event_id", ev.ID.String()))
		return nil
	}
	return d.send(ctx, ev)
}

// send delivers an event that the caller has already claimed and paced.
func (d *Dispatcher) send(ctx context.Context, ev Event) error {
	sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if err := d.gateway.Send(sendCtx, ev); err != nil {
		d.markFailed(ev, err)
		return err
	}

	// The ledger update must not depend on the delivery deadline.
	if err := d.outbox.MarkDelivered(context.WithoutCancel(ctx), ev.ID); err != nil {
		d.log.Warn("failed to mark notification delivered",
			zap.String("event_id", ev.ID.String()), zap.Error(err))
	}

	d.log.Info("notification delivered",
		zap.String("event_id", ev.ID.String()),
		zap.String("appointment_id", ev.AppointmentID.String()),
		zap.String("kind", string(ev.Kind)),
		zap.String("recipient_role", string(ev.RecipientRole)))
	return nil
}

func (d *Dispatcher) markFailed(ev Event, cause error) {
	if err := d.outbox.MarkFailed(context.Background(), ev.ID, cause.Error()); err != nil {
		d.log.Warn("failed to mark notification failed",
			zap.String("event_id", ev.ID.String()), zap.Error(err))
	}
}

func (d *Dispatcher) logFailure(ev Event, err error) {
	d.log.Error("notification delivery failed",
		zap.String("event_id", ev.ID.String()),
		zap.String("appointment_id", ev.AppointmentID.String()),
		zap.String("kind", string(ev.Kind)),
		zap.String("recipient", ev.RecipientEmail),
		zap.Error(err))
}

// Sweep delivers events that were committed but never claimed, for example
// because the process crashed between commit and dispatch. Rows are claimed
// one at a time after a delivery slot is reserved, so rows that do not fit
// before the ctx deadline are left for the next sweep.
func (d *Dispatcher) Sweep(ctx context.Context, grace time.Duration, limit int) (int, error) {
	olderThan := time.Now().Add(-grace)

	delivered := 0
	for i := 0; i < limit; i++ {
		if err := d.limiter.Wait(ctx); err != nil {
			d.log.Debug("sweep stopped before deadline", zap.Int("delivered", delivered), zap.Error(err))
			return delivered, nil
		}

		events, err := d.outbox.ClaimStale(ctx, olderThan, 1)
		if err != nil {
			return delivered, err
		}
		if len(events) == 0 {
			break
		}

		ev := events[0]
		if err := d.send(ctx, ev); err != nil {
			d.logFailure(ev, err)
			continue
		}
		delivered++
	}
	return delivered, nil
}

// Locker serializes sweeps across processes.
type Locker interface {
	WithLock(ctx context.Context, name string, fn func(ctx context.Context) error) error
}

const sweepLockName = "notification-outbox-sweep"

// RunSweeper periodically delivers stale outbox rows until ctx is cancelled.
// When locker is nil every tick sweeps without coordination.
func (d *Dispatcher) RunSweeper(ctx context.Context, interval, grace time.Duration, locker Locker) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	sweep := func(ctx context.Context) error {
		n, err := d.Sweep(ctx, grace, 100)
		if err != nil {
			return err
		}
		if n > 0 {
			d.log.Info("swept stale notifications", zap.Int("delivered", n))
		}
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			d.log.Info("notification sweeper stopping")
			return nil
		case <-ticker.C:
			var err error
			if locker != nil {
				err = locker.WithLock(ctx, sweepLockName, sweep)
			} else {
				err = sweep(ctx)
			}
			if err != nil {
				d.log.Debug("notification sweep skipped", zap.Error(err))
			}
		}
	}
}
