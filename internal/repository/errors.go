package repository

import (
	"errors"
	"fmt"

	"github.com/lib/pq"
)

var (
	ErrActiveAssignmentExists = errors.New("reviewer already has an active assignment for this submission")
	ErrDuplicateVote          = errors.New("voter already voted on this submission")
	ErrPoolExhausted          = errors.New("database connection pool exhausted")
	ErrBalanceChanged         = errors.New("running total changed since it was read")
)

const (
	pqUniqueViolation       = "23505"
	pqTooManyConnections    = "53300"
	pqConnectionRejected    = "08004"
	activeAssignmentIndex   = "review_assignments_active_uniq"
	judgmentVoteUniqueIndex = "judgment_votes_voter_submission_uniq"
)

// IsTransient - только класс исчерпания соединений. Все остальное повторять бессмысленно.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrPoolExhausted) {
		return true
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case pqTooManyConnections, pqConnectionRejected:
			return true
		}
	}

	return false
}

func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	if pqErr.Code != pqUniqueViolation {
		return false
	}
	return constraint == "" || pqErr.Constraint == constraint
}

// mapError оборачивает ошибки исчерпания пула в ErrPoolExhausted, сохраняя исходную.
func mapError(err error) error {
	if err == nil {
		return nil
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case pqTooManyConnections, pqConnectionRejected:
			return fmt.Errorf("%w: %v", ErrPoolExhausted, err)
		}
	}

	return err
}
