package db

import (
	"fmt"
	"log"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"seat-queue-backend/config"
	"seat-queue-backend/internal/model"
)

// Init initializes the database connection and runs migrations.
func Init(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	db, err := gorm.Open(dialector(cfg.DSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	if isSQLite(cfg.DSN) {
		// sqlite allows a single writer
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
		sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute)
	}

	log.Println("Running database migrations...")
	if err := Migrate(db); err != nil {
		return nil, err
	}

	if cfg.EnableTimescale && !isSQLite(cfg.DSN) {
		log.Println("TimescaleDB is enabled, applying TimescaleDB-specific DDL...")
		if err := applyTimescaleDDL(db); err != nil {
			log.Printf("Warning: failed to apply some TimescaleDB DDL: %v. Continuing without them.", err)
		}
	}

	log.Println("Database initialization complete.")
	return db, nil
}

// Migrate creates or updates every table the service uses.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&model.OccupancyEvent{},
		&model.OccupancySession{},
		&model.AcademicPeriod{},
		&model.ReservationRequest{},
		&model.RoomSlot{},
		&model.AutoExtensionConfig{},
		&model.PushSubscription{},
	); err != nil {
		return fmt.Errorf("automigrate failed: %w", err)
	}
	return nil
}

func isSQLite(dsn string) bool {
	return strings.HasPrefix(dsn, "file:") || strings.HasPrefix(dsn, "sqlite:") || dsn == ":memory:"
}

func dialector(dsn string) gorm.Dialector {
	if isSQLite(dsn) {
		return sqlite.Open(strings.TrimPrefix(dsn, "sqlite:"))
	}
	return postgres.Open(dsn)
}

func applyTimescaleDDL(db *gorm.DB) error {
	ddls := []string{
		"CREATE EXTENSION IF NOT EXISTS timescaledb;",

		// occupancy_events is append-only and timestamp ordered; a hypertable needs the
		// time column in the primary key.
		"ALTER TABLE occupancy_events DROP CONSTRAINT IF EXISTS occupancy_events_pkey;",
		"ALTER TABLE occupancy_events ADD PRIMARY KEY (id, timestamp);",
		"SELECT create_hypertable('occupancy_events', 'timestamp', if_not_exists => TRUE, migrate_data => TRUE);",

		"CREATE INDEX IF NOT EXISTS idx_occupancy_events_room_seat_ts ON occupancy_events (room, seat, timestamp DESC);",

		// closed sessions drive the predictor
		"CREATE INDEX IF NOT EXISTS idx_occupancy_sessions_closed ON occupancy_sessions (period_type, day_type, start_hour) WHERE end_time IS NOT NULL;",
	}

	for _, ddl := range ddls {
		if err := db.Exec(ddl).Error; err != nil {
			return fmt.Errorf("DDL failed on %q: %w", ddl, err)
		}
	}
	return nil
}
