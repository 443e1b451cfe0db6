package db

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/yungbote/objective-cascade/internal/platform/envutil"
	"github.com/yungbote/objective-cascade/internal/platform/logger"
)

type Config struct {
	DSN      string `yaml:"dsn"`
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
}

// ConfigFromEnv overlays POSTGRES_* environment variables on base.
func ConfigFromEnv(base Config) Config {
	cfg := base
	cfg.DSN = envutil.String("POSTGRES_DSN", cfg.DSN)
	cfg.Host = envutil.String("POSTGRES_HOST", cfg.Host)
	cfg.Port = envutil.String("POSTGRES_PORT", cfg.Port)
	cfg.User = envutil.String("POSTGRES_USER", cfg.User)
	cfg.Password = envutil.String("POSTGRES_PASSWORD", cfg.Password)
	cfg.Name = envutil.String("POSTGRES_NAME", cfg.Name)
	return cfg
}

// Enabled reports whether enough is configured to connect.
func (c Config) Enabled() bool {
	return strings.TrimSpace(c.DSN) != "" || strings.TrimSpace(c.Host) != ""
}

func (c Config) dsn() string {
	if dsn := strings.TrimSpace(c.DSN); dsn != "" {
		return dsn
	}
	port := c.Port
	if port == "" {
		port = "5432"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.User,
		c.Password,
		c.Host,
		port,
		c.Name,
	)
}

type PostgresService struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPostgresService(logg *logger.Logger, cfg Config) (*PostgresService, error) {
	serviceLog := logg.With("service", "PostgresService")

	gormLog := gormLogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormLogger.Config{
			SlowThreshold:             1 * time.Second,
			LogLevel:                  gormLogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(postgres.Open(cfg.dsn()), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   gormLog,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}

	return &PostgresService{db: db, log: serviceLog}, nil
}

func (s *PostgresService) DB() *gorm.DB { return s.db }

func (s *PostgresService) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
