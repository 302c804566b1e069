package repo

import (
	"errors"
	"fmt"

	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

var (
	// ErrNotFound is returned when a looked-up row does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned on optimistic version clashes and duplicate keys.
	ErrConflict = errors.New("write conflict")
)

const (
	errorOperationStore = "store"
	errorOperationCache = "cache"
	errorOperationQueue = "queue"

	errorSubjectBalance     = "balance"
	errorSubjectTransaction = "transaction"
	errorSubjectOrder       = "order"
	errorSubjectOutbox      = "outbox"

	errorCodeLookup   = "lookup"
	errorCodeCreate   = "create"
	errorCodeUpdate   = "update"
	errorCodeQuery    = "query"
	errorCodeNotFound = "not_found"
	errorCodeConflict = "conflict"
	errorCodePublish  = "publish"
	errorCodeEncode   = "encode"

	pgUniqueViolationCode = "23505"
	sqliteConstraintCode  = 19
)

// OperationError tags a storage failure with where it happened.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

func (e OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", e.operation, e.subject, e.code, e.err)
}

func (e OperationError) Unwrap() error { return e.err }

func (e OperationError) Operation() string { return e.operation }
func (e OperationError) Subject() string   { return e.subject }
func (e OperationError) Code() string      { return e.code }

// WrapError wraps err with operation, subject and code metadata. nil stays nil.
func WrapError(operation, subject, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{operation: operation, subject: subject, code: code, err: err}
}

// wrapStoreError maps gorm sentinels onto package errors before wrapping.
func wrapStoreError(subject, code string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return WrapError(errorOperationStore, subject, errorCodeNotFound, ErrNotFound)
	case isUniqueViolation(err):
		return WrapError(errorOperationStore, subject, errorCodeConflict, fmt.Errorf("%w: %v", ErrConflict, err))
	}
	return WrapError(errorOperationStore, subject, code, err)
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
