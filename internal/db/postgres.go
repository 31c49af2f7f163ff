package db

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/yungbote/neuroagent-backend/internal/logger"
	"github.com/yungbote/neuroagent-backend/internal/types"
	"github.com/yungbote/neuroagent-backend/internal/utils"
)

type PostgresService struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPostgresService(log *logger.Logger) (*PostgresService, error) {
	serviceLog := log.With("service", "PostgresService")

	postgresHost := utils.GetEnv("POSTGRES_HOST", "localhost", log)
	postgresPort := utils.GetEnv("POSTGRES_PORT", "5432", log)
	postgresUser := utils.GetEnv("POSTGRES_USER", "postgres", log)
	postgresPassword := utils.GetEnv("POSTGRES_PASSWORD", "", log)
	postgresName := utils.GetEnv("POSTGRES_NAME", "neuroagent", log)

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", postgresUser, postgresPassword, postgresHost, postgresPort, postgresName)

	serviceLog.Info("Connecting to Postgres...")
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		serviceLog.Error("Failed to connect to Postgres", "error", err)
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	return &PostgresService{db: gdb, log: serviceLog}, nil
}

func (s *PostgresService) DB() *gorm.DB { return s.db }

func (s *PostgresService) AutoMigrateAll() error {
	s.log.Info("Auto migrating postgres tables...")
	err := s.db.AutoMigrate(
		&types.Thread{},
		&types.Message{},
		&types.ToolCall{},
		&types.TokenConsumption{},
		&types.ComplexityEstimation{},
	)
	if err != nil {
		s.log.Error("Auto migration failed for postgres tables", "error", err)
		return err
	}

	// Thread deletion cascades through messages to every dependent row.
	constraints := []struct {
		table, name, sql string
	}{
		{"messages", "fk_messages_thread_id", `
			ALTER TABLE "messages"
			ADD CONSTRAINT "fk_messages_thread_id"
			FOREIGN KEY ("thread_id") REFERENCES "threads"("id")
			ON DELETE CASCADE`},
		{"tool_calls", "fk_tool_calls_message_id", `
			ALTER TABLE "tool_calls"
			ADD CONSTRAINT "fk_tool_calls_message_id"
			FOREIGN KEY ("message_id") REFERENCES "messages"("id")
			ON DELETE CASCADE`},
		{"token_consumption", "fk_token_consumption_message_id", `
			ALTER TABLE "token_consumption"
			ADD CONSTRAINT "fk_token_consumption_message_id"
			FOREIGN KEY ("message_id") REFERENCES "messages"("id")
			ON DELETE CASCADE`},
		{"complexity_estimation", "fk_complexity_estimation_message_id", `
			ALTER TABLE "complexity_estimation"
			ADD CONSTRAINT "fk_complexity_estimation_message_id"
			FOREIGN KEY ("message_id") REFERENCES "messages"("id")
			ON DELETE CASCADE`},
	}
	for _, c := range constraints {
		var count int64
		if err := s.db.Raw(
			`SELECT COUNT(*) FROM information_schema.table_constraints WHERE table_name = ? AND constraint_name = ?`,
			c.table, c.name,
		).Scan(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			continue
		}
		if err := s.db.Exec(c.sql).Error; err != nil {
			s.log.Error("Failed to add foreign key constraint", "constraint", c.name, "error", err)
			return err
		}
	}

	// Full-text search over message payloads (derived, not authoritative).
	if err := s.db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_messages_content_fts
		ON "messages"
		USING GIN (to_tsvector('english', content::text))
	`).Error; err != nil {
		s.log.Warn("Failed to create full-text search index (continuing)", "error", err)
	}

	return nil
}
