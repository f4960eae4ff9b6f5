// Package storage keeps the history of stress runs in SQLite or
// PostgreSQL.
package storage

import (
	"errors"
	"fmt"

	"github.com/OCAP2/mpsc/internal/config"
	"github.com/OCAP2/mpsc/internal/stress"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrUnknownType is returned by Open for an unsupported storage type.
var ErrUnknownType = errors.New("unknown storage type")

// Store persists stress runs.
type Store struct {
	db  *gorm.DB
	log zerolog.Logger
}

// Open connects to the backend selected by cfg.Type and migrates the
// schema.
func Open(cfg config.StorageConfig, log zerolog.Logger) (*Store, error) {
	var (
		db  *gorm.DB
		err error
	)

	switch cfg.Type {
	case "sqlite":
		db, err = openSQLite(cfg.SQLite.Path)
	case "postgres":
		db, err = openPostgres(cfg.Postgres)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, cfg.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", cfg.Type, err)
	}

	s := &Store{db: db, log: log}

	if err := db.AutoMigrate(&Run{}); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrating schema: %w", err)
	}

	log.Info().Str("type", cfg.Type).Msg("Run history ready")
	return s, nil
}

// PostgresDSN builds the connection string for cfg.
func PostgresDSN(cfg config.PostgresConfig) string {
	return fmt.Sprintf(`host=%s port=%s user=%s password=%s dbname=%s sslmode=%s`,
		cfg.Host, cfg.Port, cfg.Username, cfg.Password, cfg.Database, cfg.SSLMode)
}

func openPostgres(cfg config.PostgresConfig) (*gorm.DB, error) {
	return gorm.Open(postgres.New(postgres.Config{
		DSN:                  PostgresDSN(cfg),
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
}

// openSQLite opens the database at path. An empty path or ":memory:"
// gives a private in-memory database.
func openSQLite(path string) (*gorm.DB, error) {
	inMemory := path == "" || path == ":memory:"
	if inMemory {
		path = ":memory:"
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	if inMemory {
		// every connection would otherwise get its own empty database
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
	}
	for _, pragma := range pragmas {
		if err := db.Exec(pragma).Error; err != nil {
			return nil, fmt.Errorf("error setting PRAGMA: %w", err)
		}
	}

	return db, nil
}

// SaveRun stores a finished run.
func (s *Store) SaveRun(r stress.Result) error {
	run, err := NewRun(r)
	if err != nil {
		return err
	}
	if err := s.db.Create(&run).Error; err != nil {
		return fmt.Errorf("saving run %s: %w", r.ID, err)
	}
	s.log.Debug().Str("run", r.ID).Str("mode", run.Mode).Bool("passed", r.Passed).Msg("Run saved")
	return nil
}

// Recent returns up to n runs, newest first.
func (s *Store) Recent(n int) ([]stress.Result, error) {
	var runs []Run
	err := s.db.Order("created_at desc").Order("id desc").Limit(n).Find(&runs).Error
	if err != nil {
		return nil, fmt.Errorf("loading runs: %w", err)
	}

	results := make([]stress.Result, 0, len(runs))
	for _, run := range runs {
		r, err := run.Result()
		if err != nil {
			return nil, fmt.Errorf("run %s: %w", run.RunID, err)
		}
		results = append(results, r)
	}
	return results, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
