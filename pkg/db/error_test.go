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
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "gorm sentinel", err: fmt.Errorf("insert: %w", gorm.ErrDuplicatedKey), want: true},
		{name: "pg unique violation", err: &pgconn.PgError{Code: "23505"}, want: true},
		{name: "sqlite unique", err: errors.New("UNIQUE constraint failed: orders.provider, orders.provider_order_id"), want: true},
		{name: "mysql duplicate", err: errors.New("Error 1062 (23000): Duplicate entry"), want: true},
		{name: "other pg error", err: &pgconn.PgError{Code: "40001"}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsDuplicateKeyErr(tt.err))
		})
	}
}

func TestIsContentionErr(t *testing.T) {
	assert.True(t, IsContentionErr(&pgconn.PgError{Code: "40001"}))
	assert.True(t, IsContentionErr(fmt.Errorf("tx: %w", &pgconn.PgError{Code: "40P01"})))
	assert.True(t, IsContentionErr(errors.New("database is locked")))
	assert.False(t, IsContentionErr(&pgconn.PgError{Code: "23505"}))
	assert.False(t, IsContentionErr(nil))
}
