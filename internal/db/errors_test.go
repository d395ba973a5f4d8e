package db

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestWrapError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{name: "no rows", err: pgx.ErrNoRows, check: IsNotFound},
		{name: "unique violation", err: &pgconn.PgError{Code: "23505", ConstraintName: "subscriptions_destination_channel_key"}, check: IsDuplicateKey},
		{name: "foreign key", err: &pgconn.PgError{Code: "23503"}, check: IsForeignKeyViolation},
		{name: "serialization failure", err: &pgconn.PgError{Code: "40001"}, check: IsSerialization},
		{name: "deadlock", err: &pgconn.PgError{Code: "40P01"}, check: IsSerialization},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			wrapped := WrapError(tt.err, "op")
			assert.True(t, tt.check(wrapped))
			assert.Contains(t, wrapped.Error(), "op: ")
		})
	}

	assert.NoError(t, WrapError(nil, "op"))

	other := WrapError(errors.New("boom"), "op")
	assert.EqualError(t, other, "op: boom")
	assert.False(t, IsNotFound(other))
}
