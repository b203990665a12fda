package database

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ManuelReschke/Kassenwart/app/models"
	"github.com/ManuelReschke/Kassenwart/internal/pkg/env"
)

const maxRetries = 5
const retryDelay = 5 * time.Second

var DB *gorm.DB

// DSN builds the MySQL data source name from the environment.
// Times are stored and read as UTC.
func DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		env.GetEnv("DB_USER", ""),
		env.GetEnv("DB_PASSWORD", ""),
		env.GetEnv("DB_HOST", "127.0.0.1"),
		env.GetEnv("DB_PORT", "3306"),
		env.GetEnv("DB_NAME", ""),
	)
}

func SetupDatabase() {
	var err error
	dsn := DSN()

	gormLogLevel := logger.Warn
	if env.IsDev() {
		gormLogLevel = logger.Info
	}

	for i := 0; i < maxRetries; i++ {
		DB, err = gorm.Open(mysql.New(mysql.Config{
			DSN:                       dsn,
			DefaultStringSize:         256,
			DisableDatetimePrecision:  true,
			DontSupportRenameIndex:    true,
			DontSupportRenameColumn:   true,
			SkipInitializeWithVersion: false,
		}), &gorm.Config{
			Logger:  logger.Default.LogMode(gormLogLevel),
			NowFunc: func() time.Time { return time.Now().UTC() },
		})
		if err == nil {
			if sqlDB, dbErr := DB.DB(); dbErr == nil {
				sqlDB.SetMaxOpenConns(env.GetInt("DB_MAX_OPEN_CONNS", 25))
				sqlDB.SetMaxIdleConns(env.GetInt("DB_MAX_IDLE_CONNS", 10))
				sqlDB.SetConnMaxLifetime(30 * time.Minute)
			}
			if env.GetBool("DB_AUTO_MIGRATE", env.IsDev()) {
				if err := DB.AutoMigrate(models.All()...); err != nil {
					log.Errorf("[Database] auto migrate failed: %v", err)
				}
			}
			return
		}

		log.Warnf("[Database] failed to connect (try %d/%d): %v", i+1, maxRetries, err)
		if i < maxRetries-1 {
			log.Infof("[Database] retrying in %v...", retryDelay)
			time.Sleep(retryDelay)
		}
	}

	if err != nil {
		panic(err)
	}
}

// GetDB returns the shared database handle.
func GetDB() *gorm.DB {
	return DB
}
