package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hackgods/coaching-appointment-scheduling/internal/appointment"
	"github.com/hackgods/coaching-appointment-scheduling/internal/identity"
)

// Scheduler is the part of appointment.Service the HTTP layer uses.
type Scheduler interface {
	CreateAvailability(ctx context.Context, actor identity.Actor, coachID uuid.UUID, start, end time.Time) ([]appointment.AvailabilitySlot, error)
	ListAvailability(ctx context.Context, f appointment.SlotFilter) ([]appointment.AvailabilitySlot, error)
	DeleteAvailability(ctx context.Context, actor identity.Actor, slotID uuid.UUID) error

	CreateAppointment(ctx context.Context, actor identity.Actor, in appointment.CreateAppointmentInput) (*appointment.AppointmentDetail, error)
	GetAppointment(ctx context.Context, actor identity.Actor, id uuid.UUID) (*appointment.AppointmentDetail, error)
	ListAppointments(ctx context.Context, actor identity.Actor, from, to *time.Time) ([]appointment.AppointmentDetail, error)
	UpdateAppointment(ctx context.Context, actor identity.Actor, id uuid.UUID, patch appointment.AppointmentPatch) (*appointment.Outcome, error)
	ApproveAppointment(ctx context.Context, actor identity.Actor, id uuid.UUID) (*appointment.Outcome, error)
	RejectAppointment(ctx context.Context, actor identity.Actor, id uuid.UUID) (*appointment.Outcome, error)
	CancelAppointment(ctx context.Context, actor identity.Actor, id uuid.UUID) (*appointment.Outcome, error)
}

type RouterConfig struct {
	Service     Scheduler
	Resolver    identity.Resolver
	Logger      *zap.Logger
	PgPool      *pgxpool.Pool
	Redis       *redis.Client
	Env         string
	Version     string
	CORSOrigins []string
	RateLimit   int // requests per second per IP, 0 disables
}

func NewRouter(cfg RouterConfig) http.Handler {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	if cfg.RateLimit > 0 {
		r.Use(httprate.LimitByIP(cfg.RateLimit, time.Second))
	}

	// Health endpoints
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Resolver))

		// Availability endpoints
		r.Post("/coach-availability", createAvailabilityHandler(cfg.Service, log))
		r.Get("/coach-availability", listAvailabilityHandler(cfg.Service, log))
		// GET takes a coach id, DELETE a slot id
		r.Get("/coach-availability/{id}", listCoachAvailabilityHandler(cfg.Service, log))
		r.Delete("/coach-availability/{id}", deleteAvailabilityHandler(cfg.Service, log))

		// Appointment endpoints
		r.Post("/appointments", createAppointmentHandler(cfg.Service, log))
		r.Get("/appointments", listAppointmentsHandler(cfg.Service, log))
		r.Get("/appointments/{id}", getAppointmentHandler(cfg.Service, log))
		r.Put("/appointments/{id}", updateAppointmentHandler(cfg.Service, log))
		r.Delete("/appointments/{id}", cancelAppointmentHandler(cfg.Service, log))
		r.Post("/appointments/{id}/approve", approveAppointmentHandler(cfg.Service, log))
		r.Post("/appointments/{id}/reject", rejectAppointmentHandler(cfg.Service, log))
	})

	return r
}
