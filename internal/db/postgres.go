package db

import (
	"context"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/nurture-app/nurture-backend/internal/logger"
	"github.com/nurture-app/nurture-backend/internal/types"
	"github.com/nurture-app/nurture-backend/internal/utils"
)

type PostgresService struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPostgresService(log *logger.Logger) (*PostgresService, error) {
	serviceLog := log.With("service", "PostgresService")

	//1) Get and Set Environment Variables
	log.Info("Attempting to load environment variables for Postgres now...")
	postgresHost := utils.GetEnv("POSTGRES_HOST", "localhost", log)
	postgresPort := utils.GetEnv("POSTGRES_PORT", "5432", log)
	postgresUser := utils.GetEnv("POSTGRES_USER", "postgres", log)
	postgresPassword := utils.GetEnv("POSTGRES_PASSWORD", "", log)
	postgresName := utils.GetEnv("POSTGRES_NAME", "nurture", log)
	postgresSSLMode := utils.GetEnv("POSTGRES_SSLMODE", "disable", log)
	log.Debug("Environment variables loaded for Postgres",
		"host", postgresHost,
		"port", postgresPort,
		"user", postgresUser,
		"dbname", postgresName,
		"sslmode", postgresSSLMode,
	)

	//2) Construct DSN From Environment Variables
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", postgresUser, postgresPassword, postgresHost, postgresPort, postgresName, postgresSSLMode)

	//3) Attempt DB Connection
	log.Info("Attempting to connect to Postgres DB now...")
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		log.Error("Failed to connect to Postgres DB", "error", err)
		return nil, fmt.Errorf("failed to connect to Postgres DB: %w", err)
	}
	log.Info("Successfully Connected to Postgres DB :)")

	//4) Enable uuid-ossp Extension
	if err := db.Exec(`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`).Error; err != nil {
		log.Error("Failed to enable uuid-ossp extension :(", "error", err)
		return nil, fmt.Errorf("failed to enable uuid-ossp extension: %w", err)
	}
	log.Info("uuid-ossp extension enabled or already exists :)")

	return &PostgresService{db: db, log: serviceLog}, nil
}

// foreignKeys are (re)created after every migration. Each entry drops the
// constraint first so restarts do not fail on an existing name.
var foreignKeys = []struct {
	table, name, column, refTable, onDelete string
}{
	// Deleting a series head removes its overrides.
	{"events", "fk_events_recurring_event_id", "recurring_event_id", "events", "CASCADE"},
	{"conversations", "fk_conversations_chat_room_id", "chat_room_id", "chat_rooms", "CASCADE"},
}

func (s *PostgresService) AutoMigrateAll() error {
	s.log.Info("Starting AutoMigrateAll for all GORM models now...")

	err := s.db.AutoMigrate(
		&types.Event{},
		&types.ChatRoom{},
		&types.ConversationTurn{},
		&types.PregnancyProfile{},
	)
	if err != nil {
		s.log.Error("AutoMigrateAll failed for Base Tables :(", "error", err)
		return err
	}
	s.log.Info("AutoMigrateAll completed successfully for Base Tables :)")

	s.log.Info("Configuring Foreign Key Relationships for Base Tables now...")
	for _, fk := range foreignKeys {
		stmt := fmt.Sprintf(`
      ALTER TABLE %q DROP CONSTRAINT IF EXISTS %q;
      ALTER TABLE %q
      ADD CONSTRAINT %q
      FOREIGN KEY (%q)
      REFERENCES %q ("id")
      ON DELETE %s
    `, fk.table, fk.name, fk.table, fk.name, fk.column, fk.refTable, fk.onDelete)
		if err := s.db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("failed to add %s: %w", fk.name, err)
		}
	}
	s.log.Info("Successfully Added Foreign Key Relationships to Base Tables :)")

	return nil
}

func (s *PostgresService) DB() *gorm.DB {
	return s.db
}

// Transaction runs fn inside a single database transaction. fn receives the
// transaction handle and must pass it to every repo call it makes.
func (s *PostgresService) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return s.db.WithContext(ctx).Transaction(fn)
}

func (s *PostgresService) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *PostgresService) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
