package bootstrap

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	redisstorage "github.com/gofiber/storage/redis"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/ManuelReschke/Kassenwart/app/controllers"
	"github.com/ManuelReschke/Kassenwart/app/repository"
	"github.com/ManuelReschke/Kassenwart/internal/pkg/archive"
	"github.com/ManuelReschke/Kassenwart/internal/pkg/billing"
	"github.com/ManuelReschke/Kassenwart/internal/pkg/env"
	"github.com/ManuelReschke/Kassenwart/internal/pkg/events"
	metrics "github.com/ManuelReschke/Kassenwart/internal/pkg/metrics/counter"
	"github.com/ManuelReschke/Kassenwart/internal/pkg/realtime"
	"github.com/ManuelReschke/Kassenwart/internal/pkg/settlement"
	"github.com/ManuelReschke/Kassenwart/internal/pkg/sweeper"
)

const (
	defaultOverdueInterval   = time.Hour
	defaultReconcileInterval = 15 * time.Second
)

// Services is the wired object graph shared by the server and the CLI.
type Services struct {
	DB                *gorm.DB
	Redis             *redis.Client
	Repos             *repository.Repositories
	Dispatcher        *events.Dispatcher
	Notifications     *events.RedisPublisher
	Engine            *settlement.Engine
	Billing           *billing.Service
	Sweeps            *sweeper.Manager
	SettlementCounter *metrics.Counter
	SweepCounter      *metrics.Counter
	RateLimitStorage  fiber.Storage
	Hub               *realtime.Hub

	stopHub context.CancelFunc
}

// New wires every service from the environment. rdb may be nil, in which
// case counters, the Redis publisher and the sweep slot lock are disabled.
// Extra publishers receive every emitted event next to the log, Redis and
// the websocket hub.
func New(ctx context.Context, db *gorm.DB, rdb *redis.Client, extra ...events.Publisher) (*Services, error) {
	s := &Services{
		DB:    db,
		Redis: rdb,
		Repos: repository.NewFactory(db).GetRepositories(),
		Hub:   realtime.NewHub(),
	}

	publishers := []events.Publisher{events.LogPublisher{}, s.Hub}
	if rdb != nil && env.GetBool("EVENTS_REDIS_ENABLED", true) {
		s.Notifications = events.NewRedisPublisher(rdb)
		publishers = append(publishers, s.Notifications)
	}
	publishers = append(publishers, extra...)
	s.Dispatcher = events.NewDispatcher(env.GetInt("EVENTS_BUFFER_SIZE", 0), publishers...)
	s.Dispatcher.SetPublishTimeout(env.GetDuration("EVENTS_PUBLISH_TIMEOUT", 0))

	s.SettlementCounter = metrics.New(rdb, metrics.SettlementKey)
	s.SweepCounter = metrics.New(rdb, metrics.SweepKey)

	s.Engine = settlement.NewEngineFromDB(db, s.Dispatcher, settlement.WithCounters(s.SettlementCounter))

	archiver, err := archive.NewFromEnv(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to set up webhook archive: %w", err)
	}
	policy := RetryPolicyFromEnv()
	s.Billing = billing.NewServiceFromDB(db, s.Engine,
		billing.WithArchiver(archiver),
		billing.WithSecrets(billing.SecretsFromEnv()),
		billing.WithRetryPolicy(policy),
	)

	batch := env.GetInt("SWEEP_BATCH_SIZE", sweeper.DefaultBatchSize)
	store := sweeper.NewStore(db)
	reconcile := sweeper.NewReconcileSweeper(store, s.Engine, batch)
	reconcile.SetRetryPolicy(policy)

	var lock sweeper.SlotLock = sweeper.NopSlotLock{}
	if rdb != nil && env.GetBool("SWEEP_SLOT_LOCK", true) {
		lock = sweeper.NewRedisSlotLock(rdb)
	}
	s.Sweeps = sweeper.NewManager(lock, s.SweepCounter,
		sweeper.Schedule{
			Sweep:    sweeper.NewOverdueSweeper(store, s.Dispatcher, batch),
			Interval: env.GetDuration("OVERDUE_SWEEP_INTERVAL", defaultOverdueInterval),
		},
		sweeper.Schedule{
			Sweep:    reconcile,
			Interval: env.GetDuration("RECONCILE_SWEEP_INTERVAL", defaultReconcileInterval),
		},
	)

	s.RateLimitStorage = rateLimitStorage(ctx, rdb)

	log.Infof("[Bootstrap] services wired (publishers=%d, redis=%t)", len(publishers), rdb != nil)
	return s, nil
}

// rateLimitStorage shares API rate limits across nodes through Redis. The
// storage constructor panics when Redis is down, so the client is pinged
// first and nil (in-memory limits) is returned on failure.
func rateLimitStorage(ctx context.Context, rdb *redis.Client) fiber.Storage {
	if rdb == nil || !env.GetBool("RATE_LIMIT_REDIS", true) {
		return nil
	}
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Warnf("[Bootstrap] redis unavailable, rate limits are per node: %v", err)
		return nil
	}

	opts := rdb.Options()
	host, port := "localhost", 6379
	if h, p, err := net.SplitHostPort(opts.Addr); err == nil {
		host = h
		if v, err := strconv.Atoi(p); err == nil {
			port = v
		}
	}
	// Separate database so limiter keys never mix with counters and locks.
	return redisstorage.New(redisstorage.Config{
		Host:     host,
		Port:     port,
		Password: opts.Password,
		Database: env.GetInt("RATE_LIMIT_REDIS_DB", 1),
		Reset:    false,
	})
}

// RetryPolicyFromEnv reads SETTLE_RETRY_* on top of the default policy.
func RetryPolicyFromEnv() settlement.RetryPolicy {
	p := settlement.DefaultRetryPolicy
	p.Attempts = env.GetInt("SETTLE_RETRY_ATTEMPTS", p.Attempts)
	p.BaseDelay = env.GetDuration("SETTLE_RETRY_BASE_DELAY", p.BaseDelay)
	p.MaxDelay = env.GetDuration("SETTLE_RETRY_MAX_DELAY", p.MaxDelay)
	return p
}

// Deps exposes the services to the HTTP handlers.
func (s *Services) Deps() controllers.Deps {
	return controllers.Deps{
		Repos:             s.Repos,
		Billing:           s.Billing,
		Engine:            s.Engine,
		Sweeps:            s.Sweeps,
		Dispatcher:        s.Dispatcher,
		Notifications:     s.Notifications,
		SettlementCounter: s.SettlementCounter,
		SweepCounter:      s.SweepCounter,
		RateLimitStorage:  s.RateLimitStorage,
		Hub:               s.Hub,
	}
}

// Start launches the background workers.
func (s *Services) Start(withSweeps bool) {
	hubCtx, cancel := context.WithCancel(context.Background())
	s.stopHub = cancel
	go s.Hub.Run(hubCtx)

	s.Dispatcher.Start()
	if withSweeps {
		s.Sweeps.Start()
	}
}

// Stop halts the sweeps first so their last events still reach the dispatcher.
func (s *Services) Stop() {
	s.Sweeps.Stop()
	s.Dispatcher.Stop()
	if s.stopHub != nil {
		s.stopHub()
	}
}
