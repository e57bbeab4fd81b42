package metadata

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/objectgate/gateway/pkg/apierror"
)

// MapPgError classifies a PostgreSQL error into the gateway's renderable
// error taxonomy (§4.K), retaining the original error for logging.
func MapPgError(err error, operation string) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return apierror.Wrap(apierror.KindObjectNotFound, fmt.Sprintf("%s: not found", operation), err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return mapPgErrorCode(pgErr, operation)
	}

	return apierror.Internal(err)
}

func mapPgErrorCode(pgErr *pgconn.PgError, operation string) error {
	switch pgErr.Code {
	case "23505": // unique_violation
		return apierror.Wrap(apierror.KindConflict, fmt.Sprintf("%s: already exists", operation), pgErr)
	case "23503": // foreign_key_violation
		return apierror.Wrap(apierror.KindBucketNotFound, fmt.Sprintf("%s: referenced bucket or object not found", operation), pgErr)
	case "23514": // check_constraint_violation
		return apierror.Wrap(apierror.KindInvalidParameter, fmt.Sprintf("%s: invalid value", operation), pgErr)
	case "23502": // not_null_violation
		return apierror.Wrap(apierror.KindMetadataRequired, fmt.Sprintf("%s: missing required field", operation), pgErr)
	case "40001", "40P01": // serialization_failure, deadlock_detected
		return apierror.Wrap(apierror.KindTransactionError, fmt.Sprintf("%s: transaction conflict, retry", operation), pgErr)
	case "55P03": // lock_not_available
		return apierror.Wrap(apierror.KindResourceLocked, fmt.Sprintf("%s: resource locked", operation), pgErr)
	case "57014": // query_canceled
		return apierror.Wrap(apierror.KindDatabaseTimeout, fmt.Sprintf("%s: query canceled", operation), pgErr)
	case "53300": // too_many_connections
		return apierror.Wrap(apierror.KindDatabaseTimeout, fmt.Sprintf("%s: connection pool exhausted", operation), pgErr)
	case "08000", "08003", "08006": // connection_exception family
		return apierror.Wrap(apierror.KindBackendUnavailable, fmt.Sprintf("%s: database unavailable", operation), pgErr)
	default:
		return apierror.Wrap(apierror.KindInternalError, fmt.Sprintf("%s: %v", operation, pgErr), pgErr)
	}
}

// IsRetryable reports whether err is a transaction conflict that
// WithTransaction should retry (§4.B, §4.C).
func IsRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40P01", "40001":
			return true
		}
	}
	return false
}
