package di

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"private-chat/backend/internal/admission"
	"private-chat/backend/internal/identity"
	"private-chat/backend/internal/presence"
	"private-chat/backend/internal/relay"
	"private-chat/backend/internal/store"
	"private-chat/backend/pkg/cache"
	"private-chat/backend/pkg/config"
	"private-chat/backend/pkg/health"
	"private-chat/backend/pkg/jwt"
	"private-chat/backend/pkg/logger"
	"private-chat/backend/pkg/resilience"
	"private-chat/backend/pkg/secrets"
	sharedredis "private-chat/backend/shared/redis"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

// Container holds all the dependencies for the application
type Container struct {
	Config    *config.Config
	Logger    *logger.Logger
	DB        *gorm.DB
	Redis     *redis.Client
	Secrets   *secrets.VaultManager
	Approvals *cache.Cache

	Store      store.Store
	JWTService *jwt.Service
	Gate       *identity.Gate
	Pipeline   *admission.Pipeline
	Registry   *presence.Registry
	Hub        *relay.Hub
	Health     *health.Checker
}

// New builds the container for cfg. Depending on the store backend it
// connects to postgres, redis, or neither.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Container, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	c := &Container{
		Config:   cfg,
		Logger:   log,
		Registry: presence.NewRegistry(),
		Health:   health.NewChecker(log, 30*time.Second),
	}

	sm, err := secrets.NewVaultManager(secrets.VaultConfig{
		Enabled:    cfg.Vault.Enabled,
		Address:    cfg.Vault.Address,
		Token:      cfg.Vault.Token,
		Namespace:  cfg.Vault.Namespace,
		MountPath:  cfg.Vault.MountPath,
		SecretPath: cfg.Vault.SecretPath,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("init secrets: %w", err)
	}
	c.Secrets = sm
	jwtSecret := sm.GetSecretWithDefault(ctx, "jwt-secret", cfg.JWT.Secret)
	if jwtSecret == "" {
		log.Warn("No JWT secret configured, using development secret")
	}
	c.JWTService = jwt.NewService(jwtSecret, cfg.JWT.Expiry)

	var repo identity.Repository
	switch cfg.Store.Backend {
	case config.BackendMemory:
		repo = identity.NewMemoryRepository()
		c.Store = store.NewMemoryStore()

	case config.BackendPostgres, config.BackendRedis:
		db, err := config.NewDB(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		if err := config.Migrate(db); err != nil {
			return nil, err
		}
		c.DB = db
		repo = identity.NewGormRepository(db)
		c.Health.RegisterPingCheck("database", true, func(ctx context.Context) error {
			return config.TestConnection(ctx, db)
		})

		if cfg.Store.Backend == config.BackendRedis {
			client, err := sharedredis.NewClient(ctx, sharedredis.Options{
				Addr:     cfg.Redis.URL,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
			if err != nil {
				return nil, err
			}
			c.Redis = client
			c.Store = store.NewRedisStore(client)
			c.Health.RegisterPingCheck("redis", true, func(ctx context.Context) error {
				return client.Ping(ctx).Err()
			})
		} else {
			c.Store = store.NewGormStore(db)
		}
	}
	c.Store = store.Instrument(c.Store)
	c.Health.RegisterPingCheck("store", true, c.Store.Ping)

	c.Approvals = cache.New(cfg.Cache.TTL, cfg.Cache.PurgeWindow, cfg.Cache.MaxSize)
	c.Gate = identity.NewGate(repo, c.JWTService, c.Approvals, log)
	if err := c.Gate.SeedApproved(ctx, cfg.Identity.ApprovedEmails); err != nil {
		return nil, fmt.Errorf("seed approval list: %w", err)
	}

	breaker := resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig("message-store"), log)
	c.Pipeline = admission.NewPipeline(c.Store, admission.Policy{
		MaxMessages:   cfg.Retention.MaxMessages,
		MaxAge:        cfg.Retention.MaxAge,
		HistoryLimit:  cfg.Retention.HistoryLimit,
		MaxBodyLength: cfg.Retention.MaxBodyLength,
	}, log, admission.WithBreaker(breaker))

	c.Hub = relay.NewHub(c.Registry, relay.Config{
		SendBuffer: cfg.Relay.SendBuffer,
		EventRate:  rate.Limit(cfg.Relay.EventRate),
		EventBurst: cfg.Relay.EventBurst,
	}, log)
	c.Health.RegisterCheck("relay", false, func(context.Context) (health.Status, string, error) {
		return health.StatusUp, strconv.Itoa(c.Hub.ActiveConnections()) + " active connections", nil
	})

	return c, nil
}

// Start launches the relay hub, the retention sweeper and the health
// checker. They stop when ctx is cancelled.
func (c *Container) Start(ctx context.Context) {
	go c.Hub.Run(ctx)
	go c.Pipeline.RunSweeper(ctx, c.Config.Retention.SweepInterval)
	c.Health.Start(ctx)
}

// Close releases connections held by the container
func (c *Container) Close() error {
	c.Approvals.Close()
	c.Secrets.Close()
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			c.Logger.LogError(err, "Failed to close redis client")
		}
	}
	if c.DB != nil {
		sqlDB, err := c.DB.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
	return nil
}
