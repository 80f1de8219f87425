// Package errors classifies database errors raised by gorm and the MySQL driver.
package errors

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

// DatabaseErrorType represents the type of database error.
type DatabaseErrorType int

const (
	// ErrorTypeUnknown represents an unknown database error.
	ErrorTypeUnknown DatabaseErrorType = iota
	// ErrorTypeDuplicateKey represents a duplicate key constraint violation (MySQL 1062).
	ErrorTypeDuplicateKey
	// ErrorTypeConstraintViolation represents a foreign key constraint violation.
	ErrorTypeConstraintViolation
	// ErrorTypeInvalidJSON represents invalid JSON column data (MySQL 3140-3143).
	ErrorTypeInvalidJSON
	// ErrorTypeDataTooLong represents a data too long error (MySQL 1406).
	ErrorTypeDataTooLong
	// ErrorTypeNotFound represents a record not found error.
	ErrorTypeNotFound
	// ErrorTypeDeadlock represents a deadlock or lock wait timeout.
	ErrorTypeDeadlock
	// ErrorTypeConnectionError represents a lost or refused connection.
	ErrorTypeConnectionError
	// ErrorTypeInvalidValue represents a null or truncated column value.
	ErrorTypeInvalidValue
	// ErrorTypeMissingTable represents a query against a table that does not exist (MySQL 1146).
	ErrorTypeMissingTable
)

// DatabaseError wraps a database error with classification information.
type DatabaseError struct {
	Type         DatabaseErrorType
	OriginalErr  error
	MySQLErrCode uint16
	Message      string
}

// Error implements the error interface.
func (e *DatabaseError) Error() string {
	if e.MySQLErrCode > 0 {
		return fmt.Sprintf("%s (MySQL error %d): %v", e.Message, e.MySQLErrCode, e.OriginalErr)
	}
	return fmt.Sprintf("%s: %v", e.Message, e.OriginalErr)
}

// Unwrap returns the underlying error for errors.Is and errors.As compatibility.
func (e *DatabaseError) Unwrap() error {
	return e.OriginalErr
}

type mysqlClass struct {
	typ     DatabaseErrorType
	message string
}

var mysqlCodes = map[uint16]mysqlClass{
	1062: {ErrorTypeDuplicateKey, "duplicate key constraint violation"},
	3140: {ErrorTypeInvalidJSON, "invalid JSON data"},
	3141: {ErrorTypeInvalidJSON, "invalid JSON data"},
	3142: {ErrorTypeInvalidJSON, "invalid JSON data"},
	3143: {ErrorTypeInvalidJSON, "invalid JSON data"},
	1406: {ErrorTypeDataTooLong, "data too long for column"},
	1451: {ErrorTypeConstraintViolation, "cannot delete/update record due to foreign key constraint"},
	1452: {ErrorTypeConstraintViolation, "foreign key constraint violation"},
	1205: {ErrorTypeDeadlock, "lock wait timeout exceeded"},
	1213: {ErrorTypeDeadlock, "deadlock detected"},
	1048: {ErrorTypeInvalidValue, "column cannot be null"},
	1265: {ErrorTypeInvalidValue, "invalid or truncated value"},
	1366: {ErrorTypeInvalidValue, "invalid or truncated value"},
	1146: {ErrorTypeMissingTable, "table does not exist"},
	2006: {ErrorTypeConnectionError, "database connection error"},
	2013: {ErrorTypeConnectionError, "database connection error"},
}

var connectionKeywords = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"no such host",
	"i/o timeout",
	"connection lost",
	"can't connect",
	"dial tcp",
	"bad connection",
}

// ClassifyDBError classifies a database error. It returns nil for a nil error.
//
//	if dbErr := errors.ClassifyDBError(err); dbErr.Type == errors.ErrorTypeNotFound {
//	    return nil, nil
//	}
func ClassifyDBError(err error) *DatabaseError {
	if err == nil {
		return nil
	}

	var classified *DatabaseError
	if errors.As(err, &classified) {
		return classified
	}

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &DatabaseError{Type: ErrorTypeNotFound, OriginalErr: err, Message: "record not found"}
	}

	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		class, ok := mysqlCodes[mysqlErr.Number]
		if !ok {
			class = mysqlClass{ErrorTypeUnknown, "MySQL error"}
		}
		return &DatabaseError{
			Type:         class.typ,
			OriginalErr:  err,
			MySQLErrCode: mysqlErr.Number,
			Message:      class.message,
		}
	}

	if isConnectionError(err.Error()) {
		return &DatabaseError{Type: ErrorTypeConnectionError, OriginalErr: err, Message: "database connection error"}
	}

	return &DatabaseError{Type: ErrorTypeUnknown, OriginalErr: err, Message: "unknown database error"}
}

func isConnectionError(msg string) bool {
	msg = strings.ToLower(msg)
	for _, keyword := range connectionKeywords {
		if strings.Contains(msg, keyword) {
			return true
		}
	}
	return false
}

func is(err error, typ DatabaseErrorType) bool {
	dbErr := ClassifyDBError(err)
	return dbErr != nil && dbErr.Type == typ
}

// IsNotFoundError reports whether err is a record not found error.
func IsNotFoundError(err error) bool { return is(err, ErrorTypeNotFound) }

// IsDuplicateKeyError reports whether err is a duplicate key violation.
func IsDuplicateKeyError(err error) bool { return is(err, ErrorTypeDuplicateKey) }

// IsConnectionError reports whether err means the database is unreachable.
func IsConnectionError(err error) bool { return is(err, ErrorTypeConnectionError) }

// IsMissingTableError reports whether err is a query against a missing table.
func IsMissingTableError(err error) bool { return is(err, ErrorTypeMissingTable) }

// IsRetryable reports whether repeating the statement may succeed.
func IsRetryable(err error) bool {
	dbErr := ClassifyDBError(err)
	if dbErr == nil {
		return false
	}
	return dbErr.Type == ErrorTypeDeadlock || dbErr.Type == ErrorTypeConnectionError
}
