package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestIsDuplicateKeyErr(t *testing.T) {
	assert.False(t, IsDuplicateKeyErr(nil))
	assert.True(t, IsDuplicateKeyErr(gorm.ErrDuplicatedKey))
	assert.True(t, IsDuplicateKeyErr(fmt.Errorf("insert user: %w", &pgconn.PgError{Code: "23505"})))
	assert.False(t, IsDuplicateKeyErr(&pgconn.PgError{Code: "23503"}))
	assert.True(t, IsDuplicateKeyErr(errors.New("UNIQUE constraint failed: users.email")))
	assert.False(t, IsDuplicateKeyErr(errors.New("connection refused")))
}

func TestNewTestIsolatesDatabases(t *testing.T) {
	type widget struct {
		ID   int
		Name string `gorm:"uniqueIndex"`
	}

	first, err := NewTest()
	assert.NoError(t, err)
	second, err := NewTest()
	assert.NoError(t, err)

	assert.NoError(t, first.AutoMigrate(&widget{}))
	assert.NoError(t, first.Create(&widget{ID: 1, Name: "a"}).Error)

	err = first.Create(&widget{ID: 2, Name: "a"}).Error
	assert.True(t, IsDuplicateKeyErr(err))

	assert.False(t, second.Migrator().HasTable(&widget{}))
	assert.False(t, IsPostgres(first))
}
