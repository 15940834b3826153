package app

import (
	"context"
	"fmt"
	"strings"

	goredis "github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/yungbote/biograph-backend/internal/data/db"
	"github.com/yungbote/biograph-backend/internal/domain/confidence"
	"github.com/yungbote/biograph-backend/internal/platform/logger"
	"github.com/yungbote/biograph-backend/internal/platform/redisdb"
)

type Clients struct {
	Database *db.Service
	Redis    *goredis.Client
	Engine   *confidence.Engine
}

func (c Clients) DB() *gorm.DB { return c.Database.DB() }

func wireClients(ctx context.Context, log *logger.Logger, cfg Config) (Clients, error) {
	log.Info("Wiring clients...")

	database, err := db.NewService(log, db.Config{
		Driver:       cfg.DBDriver,
		DSN:          cfg.DatabaseDSN(),
		SQLitePath:   cfg.SQLitePath,
		MaxOpenConns: cfg.DBMaxOpenConns,
	})
	if err != nil {
		return Clients{}, fmt.Errorf("init database: %w", err)
	}
	if cfg.AutoMigrate {
		licenses, err := db.LoadLicenseFile(cfg.LicenseAllowlistFile)
		if err != nil {
			_ = database.Close()
			return Clients{}, err
		}
		if err := db.Migrate(ctx, database.DB(), log, licenses); err != nil {
			_ = database.Close()
			return Clients{}, fmt.Errorf("migrate: %w", err)
		}
	}

	engine := confidence.Default()
	if path := strings.TrimSpace(cfg.ConfidencePolicyFile); path != "" {
		policy, err := confidence.LoadPolicy(path)
		if err != nil {
			_ = database.Close()
			return Clients{}, err
		}
		if engine, err = confidence.NewEngine(policy); err != nil {
			_ = database.Close()
			return Clients{}, err
		}
		log.Info("confidence policy loaded", "path", path)
	}

	// Redis
	var rdb *goredis.Client
	if strings.EqualFold(strings.TrimSpace(cfg.LookupCacheBackend), "redis") {
		rdb, err = redisdb.New(log, redisdb.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		if err != nil {
			_ = database.Close()
			return Clients{}, fmt.Errorf("init redis: %w", err)
		}
	}

	return Clients{Database: database, Redis: rdb, Engine: engine}, nil
}

func (c Clients) Close() {
	if c.Redis != nil {
		_ = c.Redis.Close()
	}
	if c.Database != nil {
		_ = c.Database.Close()
	}
}
