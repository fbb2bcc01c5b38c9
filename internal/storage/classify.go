package storage

import (
	"context"
	"errors"

	"github.com/aaron44445/salonbook/internal/booking"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Postgres SQLSTATE codes the retry loop cares about.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
	codeQueryCanceled        = "57014"
)

// Classify maps Postgres errors to the booking error classes. Serialization
// failures and deadlocks are the transient write conflicts worth retrying;
// lock-wait and statement timeouts mean the staff lock queue is saturated and
// the caller should come back later. Everything else is a plain persistence
// fault and propagates untouched.
func Classify(err error) booking.ErrorClass {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeSerializationFailure, codeDeadlockDetected:
			return booking.ClassRetryable
		case codeLockNotAvailable, codeQueryCanceled:
			return booking.ClassBusy
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return booking.ClassBusy
	}
	return booking.ClassPersistence
}

// IsNotFound reports whether err is the driver's no-rows sentinel.
func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
