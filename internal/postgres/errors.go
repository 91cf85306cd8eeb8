// Package postgres implements the check-in, wave and conversation
// repositories on PostgreSQL. Uniqueness is enforced by the schema; unique
// violations are mapped back to each domain's sentinel errors.
package postgres

import (
	"errors"

	"github.com/lib/pq"
)

// SQLSTATE codes the stores react to.
const (
	codeUniqueViolation      = "23505"
	codeCheckViolation       = "23514"
	codeInvalidTextRepresent = "22P02"
)

// Constraint names from the migrations.
const (
	constraintCheckInParticipant = "event_checkins_participant_event_key"
	constraintCheckInPIN         = "event_checkins_event_pin_key"
	constraintWaveKey            = "waves_from_to_event_key"
	constraintWaveNotSelf        = "waves_not_self"
)

func pqError(err error) (*pq.Error, bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr, true
	}
	return nil, false
}

// uniqueViolation returns the violated constraint name for SQLSTATE 23505.
func uniqueViolation(err error) (string, bool) {
	if pqErr, ok := pqError(err); ok && pqErr.Code == codeUniqueViolation {
		return pqErr.Constraint, true
	}
	return "", false
}

// checkViolation returns the violated constraint name for SQLSTATE 23514.
func checkViolation(err error) (string, bool) {
	if pqErr, ok := pqError(err); ok && pqErr.Code == codeCheckViolation {
		return pqErr.Constraint, true
	}
	return "", false
}

// invalidID reports whether err is Postgres rejecting a malformed UUID.
func invalidID(err error) bool {
	pqErr, ok := pqError(err)
	return ok && pqErr.Code == codeInvalidTextRepresent
}
