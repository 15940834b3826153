package testutil

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	dbpkg "github.com/yungbote/biograph-backend/internal/data/db"
	"github.com/yungbote/biograph-backend/internal/platform/logger"
)

var (
	logOnce sync.Once
	logg    *logger.Logger
	logErr  error
)

func Logger(tb testing.TB) *logger.Logger {
	tb.Helper()
	logOnce.Do(func() {
		logg, logErr = logger.New("test")
	})
	if logErr != nil {
		tb.Fatalf("failed to init logger: %v", logErr)
	}
	return logg
}

func gormConfig() *gorm.Config {
	return &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   gormLogger.Default.LogMode(gormLogger.Silent),
		NowFunc:                                  func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
}

// DB returns a migrated, empty database for one test. It uses TEST_POSTGRES_DSN when set
// and a private in-memory SQLite database otherwise.
func DB(tb testing.TB) *gorm.DB {
	tb.Helper()
	var (
		db  *gorm.DB
		err error
	)
	if dsn := os.Getenv("TEST_POSTGRES_DSN"); dsn != "" {
		db, err = gorm.Open(postgres.Open(dsn), gormConfig())
		if err != nil {
			tb.Fatalf("open postgres: %v", err)
		}
		if err := dbpkg.Migrate(context.Background(), db, nil, nil); err != nil {
			tb.Fatalf("migrate postgres: %v", err)
		}
		if err := db.Exec(`TRUNCATE evidence, assertion, assertion_evidence, explanation, lookup_cache`).Error; err != nil {
			tb.Fatalf("truncate: %v", err)
		}
	} else {
		name := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
		db, err = gorm.Open(sqlite.Open(name), gormConfig())
		if err != nil {
			tb.Fatalf("open sqlite: %v", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			tb.Fatalf("sqlite handle: %v", err)
		}
		// A single connection keeps the in-memory database alive and serializes writers.
		sqlDB.SetMaxOpenConns(1)
		if err := dbpkg.Migrate(context.Background(), db, nil, nil); err != nil {
			tb.Fatalf("migrate sqlite: %v", err)
		}
	}
	tb.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func Tx(tb testing.TB, db *gorm.DB) *gorm.DB {
	tb.Helper()
	tx := db.Begin()
	if tx.Error != nil {
		tb.Fatalf("begin tx: %v", tx.Error)
	}
	tb.Cleanup(func() {
		_ = tx.Rollback().Error
	})
	return tx
}
