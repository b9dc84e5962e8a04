package db

import (
	"errors"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var errDBUnavailable = errors.New("db unavailable")

type Store struct {
	DB *gorm.DB
}

// NewStore connects to Postgres and migrates the log and policy tables.
// An empty DSN yields a no-db store; repositories built on it report
// errDBUnavailable instead of panicking.
func NewStore(dsn string) (*Store, error) {
	if dsn == "" {
		return &Store{DB: nil}, nil
	}

	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := gdb.AutoMigrate(&LogEntryModel{}, &PolicyModel{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &Store{DB: gdb}, nil
}
