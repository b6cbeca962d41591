package store

import (
	"errors"

	"github.com/aws/smithy-go"

	"factoid-api/internal/apierror"
	"factoid-api/internal/logging"
)

var (
	// ErrInvalidCursor is returned for any cursor that cannot be decoded,
	// decrypted or parsed back into a key
	ErrInvalidCursor = apierror.BadRequest("Invalid cursor")

	// ErrInvalidArguments is returned by the count helpers when no usable
	// table name is given. No request is issued in that case.
	ErrInvalidArguments = errors.New("store: invalid arguments")
)

var log = logging.Source("Store")

// storeError logs a failed store call and maps it onto the API error
// taxonomy
func storeError(op, table string, err error) error {
	log.WithError(err).WithField("table", table).Warnf("%s failed", op)
	return apierror.FromStoreError(err)
}

// IsConditionFailed reports whether err comes from a failed condition
// expression, as opposed to any other rejected request
func IsConditionFailed(err error) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "ConditionalCheckFailedException"
}
