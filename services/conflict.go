package services

import (
	"errors"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"gorm.io/gorm"
)

// ErrAllocationConflict marks contention detected while reserving a permit sequence.
var ErrAllocationConflict = errors.New("permit sequence allocation conflict")

const (
	mysqlDuplicateEntry   = 1062
	mysqlLockWaitTimeout  = 1205
	mysqlDeadlock         = 1213
	pgSerializationFailed = "40001"
	pgDeadlockDetected    = "40P01"
	pgUniqueViolation     = "23505"
	pgLockNotAvailable    = "55P03"
)

// IsAllocationConflict reports whether err is a storage-level contention error that a fresh
// transaction may succeed on: unique violations, serialization failures, deadlocks and lock
// wait timeouts. Business-rule failures are never conflicts.
func IsAllocationConflict(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAllocationConflict) || errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case mysqlDuplicateEntry, mysqlLockWaitTimeout, mysqlDeadlock:
			return true
		}
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgSerializationFailed, pgDeadlockDetected, pgUniqueViolation, pgLockNotAvailable:
			return true
		}
		return false
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return true
		}
		switch liteErr.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return true
		}
	}
	return false
}
