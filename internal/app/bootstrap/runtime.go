package bootstrap

import (
	"context"
	"crypto/tls"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/clinic-intake/internal/compliance"
	appconfig "github.com/wolfman30/clinic-intake/internal/config"
	"github.com/wolfman30/clinic-intake/internal/intake"
	"github.com/wolfman30/clinic-intake/internal/patients"
	"github.com/wolfman30/clinic-intake/pkg/logging"
)

// Runtime holds the collaborators both hosts share.
type Runtime struct {
	Patients *patients.Client
	Redis    *redis.Client
	DB       *sql.DB
	Audit    *compliance.AuditService
	// Locker is nil when Redis is not configured.
	Locker intake.Locker
}

// BuildRuntime connects the patient backend client and the optional Redis
// lock and audit database. Optional stores that cannot be reached are
// disabled with a warning rather than failing startup.
func BuildRuntime(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	client, err := patients.New(patients.Config{
		BaseURL:       cfg.BackendBaseURL,
		ServiceSecret: cfg.BackendServiceSecret,
		Timeout:       cfg.BackendTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("bootstrap: patients client: %w", err)
	}

	rt := &Runtime{Patients: client}
	if rt.Redis = BuildRedisClient(ctx, cfg, logger, true); rt.Redis != nil {
		rt.Locker = intake.NewRedisLocker(rt.Redis, "")
		logger.Info("distributed submit lock enabled", "redis_addr", cfg.RedisAddr)
	}

	db, err := OpenDatabase(ctx, cfg.DatabaseURL)
	switch {
	case err != nil:
		logger.Warn("audit database not available", "error", err)
	case db != nil:
		rt.DB = db
		rt.Audit = compliance.NewAuditService(db)
		logger.Info("intake audit trail enabled")
	}
	return rt, nil
}

// OrchestratorOptions wires the shared collaborators into an orchestrator.
func (rt *Runtime) OrchestratorOptions(lockTTL time.Duration, rec intake.SubmissionRecorder, logger *logging.Logger) []intake.OrchestratorOption {
	opts := []intake.OrchestratorOption{
		intake.WithRecorder(rec),
		intake.WithLogger(logger),
	}
	if rt.Locker != nil {
		opts = append(opts, intake.WithLocker(rt.Locker, lockTTL))
	}
	if rt.Audit != nil {
		opts = append(opts, intake.WithAuditor(rt.Audit))
	}
	return opts
}

// Close releases the optional connections.
func (rt *Runtime) Close() error {
	var errs []error
	if rt.Redis != nil {
		errs = append(errs, rt.Redis.Close())
	}
	if rt.DB != nil {
		errs = append(errs, rt.DB.Close())
	}
	return errors.Join(errs...)
}

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// OpenDatabase opens the audit database through the pgx stdlib driver.
// An empty URL returns a nil handle and no error.
func OpenDatabase(ctx context.Context, databaseURL string) (*sql.DB, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, nil
	}
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: ping database: %w", err)
	}
	return db, nil
}
