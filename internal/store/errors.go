package store

import (
	"context"
	"database/sql"
	stderrors "errors"

	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/tarbox/tarbox/pkg/errors"
)

// MapError translates a driver or database/sql error into the filesystem
// taxonomy. Unique violations become AlreadyExists, foreign-key violations
// against a deleted parent become NotFound, check violations become
// InvalidArgument, lock contention and connectivity become Unavailable, and a
// full database becomes NoSpace. FsError values pass through untouched so the
// mapping is idempotent.
func MapError(err error) error {
	if err == nil {
		return nil
	}
	var fe *errors.FsError
	if stderrors.As(err, &fe) {
		return err
	}
	if stderrors.Is(err, sql.ErrNoRows) {
		return errors.NotFound("")
	}
	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, context.Canceled) {
		return errors.Unavailable("deadline elapsed", err)
	}

	var serr sqlite3.Error
	if stderrors.As(err, &serr) {
		switch serr.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return errors.Wrap(errors.KindAlreadyExists, "uniqueness violation", err)
		case sqlite3.ErrConstraintForeignKey:
			return errors.Wrap(errors.KindNotFound, "referenced row does not exist", err)
		case sqlite3.ErrConstraintCheck, sqlite3.ErrConstraintNotNull:
			return errors.Wrap(errors.KindInvalidArgument, "constraint violation", err)
		}
		switch serr.Code {
		case sqlite3.ErrConstraint:
			return errors.Wrap(errors.KindInvalidArgument, "constraint violation", err)
		case sqlite3.ErrBusy, sqlite3.ErrLocked, sqlite3.ErrIoErr, sqlite3.ErrCantOpen:
			return errors.Unavailable("store contention", err)
		case sqlite3.ErrFull:
			return errors.NoSpace(err)
		}
	}
	return errors.Wrap(errors.KindOther, "store error", err)
}
