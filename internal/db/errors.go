package db

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound is returned when a requested record is not found.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateKey is returned when attempting to insert a duplicate record.
	ErrDuplicateKey = errors.New("duplicate key violation")

	// ErrForeignKeyViolation is returned when a foreign key constraint is violated.
	ErrForeignKeyViolation = errors.New("foreign key violation")

	// ErrSerialization is returned when a transaction lost a concurrent update race.
	ErrSerialization = errors.New("serialization failure")
)

// WrapError wraps database errors with additional context and maps them to custom error types.
func WrapError(err error, operation string) error {
	if err == nil {
		return nil
	}

	// Handle pgx specific errors
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", operation, ErrNotFound)
	}

	// Handle PostgreSQL errors
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%s: %w (constraint: %s)", operation, ErrDuplicateKey, pgErr.ConstraintName)
		case "23503": // foreign_key_violation
			return fmt.Errorf("%s: %w (constraint: %s)", operation, ErrForeignKeyViolation, pgErr.ConstraintName)
		case "40001", "40P01", "55P03": // serialization_failure, deadlock_detected, lock_not_available
			return fmt.Errorf("%s: %w [%s]", operation, ErrSerialization, pgErr.Code)
		default:
			return fmt.Errorf("%s: database error [%s]: %w", operation, pgErr.Code, err)
		}
	}

	return fmt.Errorf("%s: %w", operation, err)
}

// IsNotFound returns true if the error is an ErrNotFound error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsDuplicateKey returns true if the error is an ErrDuplicateKey error.
func IsDuplicateKey(err error) bool {
	return errors.Is(err, ErrDuplicateKey)
}

// IsForeignKeyViolation returns true if the error is an ErrForeignKeyViolation error.
func IsForeignKeyViolation(err error) bool {
	return errors.Is(err, ErrForeignKeyViolation)
}

// IsSerialization returns true if the error is an ErrSerialization error.
func IsSerialization(err error) bool {
	return errors.Is(err, ErrSerialization)
}
