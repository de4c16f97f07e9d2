package badger

import (
	"errors"
	"fmt"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/peto/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// classify maps store errors onto the error taxonomy once, at the storage
// boundary. Callers upstream dispatch on models.KindOf without knowing
// which engine produced the failure.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, badgerhold.ErrNotFound):
		return fmt.Errorf("%s: %w", op, models.ErrNotFound)
	case errors.Is(err, badgerhold.ErrKeyExists):
		return models.NewKindError(models.ErrKindStoragePrecondition, fmt.Sprintf("%s: key already exists", op), err)
	case errors.Is(err, badgerdb.ErrConflict):
		return models.NewKindError(models.ErrKindStorageTransient, fmt.Sprintf("%s: transaction conflict", op), err)
	default:
		return models.NewKindError(models.ErrKindStorageTransient, fmt.Sprintf("%s failed", op), err)
	}
}

// preconditionFailed builds the error for a conditional update whose
// expectation did not hold (wrong status, lost claim race, lower score).
func preconditionFailed(op, detail string) error {
	return models.NewKindError(models.ErrKindStoragePrecondition, fmt.Sprintf("%s: %s", op, detail), nil)
}
