package db

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/clinicsuite/clinic/internal/platform/apperr"
)

// SQLSTATE codes the repositories care about.
const (
	CodeUniqueViolation     = "23505"
	CodeForeignKeyViolation = "23503"
	CodeCheckViolation      = "23514"
	CodeExclusionViolation  = "23P01"
)

// Classify turns driver errors into apperr kinds. entity names the record in
// the client-facing message, e.g. "service".
func Classify(err error, entity string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound("%s not found", entity)
	}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case CodeUniqueViolation, CodeExclusionViolation:
			return &apperr.Error{Kind: apperr.KindConflict, Message: entity + " already exists", Err: err}
		case CodeForeignKeyViolation:
			return &apperr.Error{Kind: apperr.KindValidation, Message: entity + " references a record that does not exist", Err: err}
		case CodeCheckViolation:
			return &apperr.Error{Kind: apperr.KindValidation, Message: entity + " violates constraint " + pgErr.ConstraintName, Err: err}
		}
	}
	return apperr.Internal(err)
}

// IsUniqueViolation reports whether err is a unique-constraint failure on the
// named constraint ("" matches any).
func IsUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != CodeUniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}
