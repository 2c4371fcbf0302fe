package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hackgods/coaching-appointment-scheduling/internal/appointment"
	"github.com/hackgods/coaching-appointment-scheduling/internal/config"
	"github.com/hackgods/coaching-appointment-scheduling/internal/db"
	"github.com/hackgods/coaching-appointment-scheduling/internal/identity"
	"github.com/hackgods/coaching-appointment-scheduling/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	log.Info("seed starting")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{})
	if err != nil {
		log.Fatal("connect postgres", zap.Error(err))
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		log.Fatal("migrate", zap.Error(err))
	}

	faker := gofakeit.New(uint64(time.Now().UnixNano()))

	coaches, err := seedCoaches(ctx, pool, faker, getInt("SEED_COACHES", 20))
	if err != nil {
		log.Fatal("seed coaches", zap.Error(err))
	}
	log.Info("coaches seeded", zap.Int("count", len(coaches)))

	clients, err := seedClients(ctx, pool, faker, getInt("SEED_CLIENTS", 500))
	if err != nil {
		log.Fatal("seed clients", zap.Error(err))
	}
	log.Info("clients seeded", zap.Int("count", len(clients)))

	// Availability goes through the service so slots are split the same way
	// the API splits them.
	svc := appointment.NewService(appointment.NewPgStore(pool), nil, cfg, log)
	days := getInt("SEED_AVAILABILITY_DAYS", 5)
	slots := 0
	for _, coachID := range coaches {
		actor := identity.Actor{UserID: uuid.New(), Role: identity.RoleCoach, ProfileID: coachID}
		for d := 1; d <= days; d++ {
			day := time.Now().UTC().Truncate(24*time.Hour).AddDate(0, 0, d)
			start := day.Add(time.Duration(faker.Number(8, 12)) * time.Hour)
			created, err := svc.CreateAvailability(ctx, actor, coachID, start, start.Add(4*time.Hour))
			if err != nil {
				log.Fatal("seed availability", zap.Error(err), zap.String("coach_id", coachID.String()))
			}
			slots += len(created)
		}
	}
	log.Info("availability seeded", zap.Int("slots", slots))

	if err := printTokens(cfg, clients[0], coaches[0]); err != nil {
		log.Fatal("issue tokens", zap.Error(err))
	}

	log.Info("seed complete")
}

func seedCoaches(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, count int) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, count)
	batch := &pgx.Batch{}
	for i := 0; i < count; i++ {
		id := uuid.New()
		ids = append(ids, id)
		batch.Queue(`
			INSERT INTO coaches (id, last_name, first_name, email, meeting_url, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, now(), now())
		`, id, faker.LastName(), faker.FirstName(), uniqueEmail(faker, id), faker.URL())
	}
	if err := sendBatch(ctx, pool, batch); err != nil {
		return nil, err
	}
	return ids, nil
}

func seedClients(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, count int) ([]uuid.UUID, error) {
	const batchSize = 500

	ids := make([]uuid.UUID, 0, count)
	for offset := 0; offset < count; offset += batchSize {
		end := offset + batchSize
		if end > count {
			end = count
		}

		batch := &pgx.Batch{}
		for i := offset; i < end; i++ {
			id := uuid.New()
			ids = append(ids, id)
			batch.Queue(`
				INSERT INTO clients (id, name, email, created_at, updated_at)
				VALUES ($1, $2, $3, now(), now())
			`, id, faker.Name(), uniqueEmail(faker, id))
		}
		if err := sendBatch(ctx, pool, batch); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

func sendBatch(ctx context.Context, pool *pgxpool.Pool, batch *pgx.Batch) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// uniqueEmail keeps generated addresses unique across runs.
func uniqueEmail(faker *gofakeit.Faker, id uuid.UUID) string {
	return fmt.Sprintf("%s.%s@%s", faker.Username(), id.String()[:8], faker.DomainName())
}

func printTokens(cfg config.Config, clientID, coachID uuid.UUID) error {
	resolver := identity.NewJWTResolver(cfg.JWTSecret, cfg.JWTTTL)

	actors := []struct {
		label string
		actor identity.Actor
	}{
		{"client", identity.Actor{UserID: uuid.New(), Role: identity.RoleClient, ProfileID: clientID}},
		{"coach", identity.Actor{UserID: uuid.New(), Role: identity.RoleCoach, ProfileID: coachID}},
		{"admin", identity.Actor{UserID: uuid.New(), Role: identity.RoleAdmin}},
	}

	for _, a := range actors {
		token, err := resolver.Issue(a.actor)
		if err != nil {
			return err
		}
		fmt.Printf("%s (%s): %s\n", a.label, a.actor.ProfileID, token)
	}
	return nil
}

func getInt(key string, def int) int {
	var n int
	if v := os.Getenv(key); v != "" {
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil && n > 0 {
			return n
		}
	}
	return def
}
