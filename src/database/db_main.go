package database

import (
	"fmt"
	"time"

	"coinpulse/src/database/migrations"
	"coinpulse/src/model"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// MainDB is the primary read/write database connection used by the application.
var MainDB *gorm.DB

// Open connects to the database described by config without touching MainDB.
func Open(config Config) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch config.DatabaseDriver {
	case "postgres", "":
		dialector = postgres.Open(config.DatabaseURLMain)
	case "sqlite":
		dialector = sqlite.Open(config.DatabaseURLMain)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", config.DatabaseDriver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.LogLevel(config.GormLogLevel)),
	})
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", config.DatabaseDriver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB from gorm: %w", err)
	}
	if config.DatabaseDriver == "sqlite" {
		// sqlite allows a single writer
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(config.MaxOpenConns)
		sqlDB.SetMaxIdleConns(config.MaxIdleConns)
	}
	sqlDB.SetConnMaxLifetime(1 * time.Hour)

	return db, nil
}

// InitMainDB initializes the main (read/write) database connection and runs migrations.
// This should be called once at application startup (e.g. in main()).
func InitMainDB() error {
	db, err := Open(GetConfig())
	if err != nil {
		logrus.WithError(err).Fatal("Failed to connect to database")
	}

	// Assign to the global variable only after a successful connection.
	MainDB = db

	logrus.Info("[database] MainDB connection established")

	if err := Migrate(MainDB); err != nil {
		return err
	}

	logrus.Info("[database] MainDB migrations completed")

	return nil
}

// Migrate creates the schema for every model the engine owns and applies data migrations.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&model.User{},
		&model.UserExchange{},
		&model.UserTradingConfig{},
		&model.Order{},
		&model.SyncCursor{},
		&model.Position{},
		&model.PositionHistory{},
		&model.PositionLog{},
		&model.Exception{},
		&migrations.DataMigration{},
	); err != nil {
		return fmt.Errorf("failed to run migrations on MainDB: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		return fmt.Errorf("failed to run data migrations on MainDB: %w", err)
	}
	return nil
}
