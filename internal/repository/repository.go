package repository

import (
	"errors"

	"github.com/lib/pq"
)

// Sentinel errors surfaced by the write paths so services can map storage
// facts onto the domain taxonomy without parsing driver errors themselves.
var (
	// ErrDuplicate reports a unique-index violation, e.g. a second booking
	// or outcome for the same (appeal, student) pair.
	ErrDuplicate = errors.New("duplicate row")
	// ErrAppealClosed reports a booking attempt against an appeal whose date
	// has already passed.
	ErrAppealClosed = errors.New("appeal date has passed")
	// ErrNoBooking reports an outcome insert for a student without an active
	// booking on the appeal.
	ErrNoBooking = errors.New("no booking for student")
	// ErrOutcomesExist blocks appeal deletion while outcomes reference it.
	ErrOutcomesExist = errors.New("appeal has recorded outcomes")
)

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
