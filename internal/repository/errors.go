// Package repository defines error types that are reused across multiple
// repositories. These sentinel values allow higher layers such as the
// queue service to distinguish between different failure scenarios
// without inspecting driver errors.
package repository

import (
	"errors"

	"github.com/go-sql-driver/mysql"
)

// ErrForbidden is returned when the caller attempts an operation on a
// resource owned by someone else, e.g. removing a ticket through an
// attendant it does not belong to.
var ErrForbidden = errors.New("forbidden")

// ErrConflict is returned when a write collides with a uniqueness rule,
// such as two open tickets competing for the same number.
var ErrConflict = errors.New("conflict")

// ErrAttendantNotFound indicates that no attendant has the requested id.
var ErrAttendantNotFound = errors.New("attendant not found")

// ErrTicketNotFound indicates that no ticket has the requested id.
var ErrTicketNotFound = errors.New("ticket not found")

// ErrUserNotFound indicates that no user matches the lookup.
var ErrUserNotFound = errors.New("user not found")

// ErrUsernameExists is returned when creating a user whose username is taken.
var ErrUsernameExists = errors.New("username already exists")

// mysqlDuplicateEntry is ER_DUP_ENTRY.
const mysqlDuplicateEntry = 1062

// isDuplicate reports whether err is a MySQL duplicate-key violation.
func isDuplicate(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == mysqlDuplicateEntry
}
