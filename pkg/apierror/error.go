// Package apierror defines the gateway's error taxonomy and its HTTP
// rendering, mirroring the structured-sentinel-plus-wrapper idiom used
// throughout this codebase for storage errors.
package apierror

import (
	"errors"
	"fmt"
)

// Kind identifies a category of renderable error (§4.K).
type Kind string

const (
	KindInvalidJWT           Kind = "InvalidJWT"
	KindInvalidSignature     Kind = "InvalidSignature"
	KindAccessDenied         Kind = "AccessDenied"
	KindBucketNotFound       Kind = "BucketNotFound"
	KindObjectNotFound       Kind = "ObjectNotFound"
	KindInvalidMimeType      Kind = "InvalidMimeType"
	KindEntityTooLarge       Kind = "EntityTooLarge"
	KindPayloadTooLarge      Kind = "PayloadTooLarge"
	KindInvalidMetadata      Kind = "InvalidMetadata"
	KindMetadataRequired     Kind = "MetadataRequired"
	KindInvalidParameter     Kind = "InvalidParameter"
	KindConflict             Kind = "Conflict"
	KindBucketNotEmpty       Kind = "BucketNotEmpty"
	KindResourceLocked       Kind = "ResourceLocked"
	KindAcquiringLockTimeout Kind = "AcquiringLockTimeout"
	KindDatabaseTimeout      Kind = "DatabaseTimeout"
	KindBackendUnavailable   Kind = "BackendUnavailable"
	KindNoActiveShard        Kind = "NoActiveShard"
	KindNoAvailableShard     Kind = "NoAvailableShard"
	KindReservationNotFound  Kind = "ReservationNotFound"
	KindExpiredReservation   Kind = "ExpiredReservation"
	KindTransactionError     Kind = "TransactionError"
	KindInternalError        Kind = "InternalError"
)

// statusByKind is the §7 kind-to-HTTP-status mapping. Kinds absent from this
// table (including the zero Kind) render as 500, matching the "unrecognized
// -> 500" rule.
var statusByKind = map[Kind]int{
	KindInvalidJWT:           400,
	KindInvalidSignature:     400,
	KindInvalidMetadata:      400,
	KindMetadataRequired:     400,
	KindInvalidParameter:     400,
	KindAccessDenied:         403,
	KindBucketNotFound:       404,
	KindObjectNotFound:       404,
	KindReservationNotFound:  404,
	KindConflict:             409,
	KindBucketNotEmpty:       409,
	KindResourceLocked:       409,
	KindExpiredReservation:   409,
	KindEntityTooLarge:       413,
	KindPayloadTooLarge:      413,
	KindInvalidMimeType:      415,
	KindNoActiveShard:        507,
	KindNoAvailableShard:     507,
	KindDatabaseTimeout:      544,
	KindAcquiringLockTimeout: 503,
	KindBackendUnavailable:   503,
	KindTransactionError:     500,
	KindInternalError:        500,
}

// StatusCode returns the HTTP status for a Kind, defaulting to 500 for any
// kind not in the §7 mapping table.
func (k Kind) StatusCode() int {
	if status, ok := statusByKind[k]; ok {
		return status
	}
	return 500
}

// Error is a renderable error: {statusCode, errorKind, message, originalError?} (§4.K).
//
// It wraps an optional underlying error via Unwrap so errors.Is/As continue
// to work through the taxonomy, the same way PayloadError wraps its
// sentinel errors.
type Error struct {
	Kind Kind
	// Message is the user-visible, sanitized description.
	Message string
	// Original is the underlying cause, logged but never rendered to the client.
	Original error
}

// New creates an Error of the given kind with a user-visible message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an Error of the given kind, attaching an underlying cause
// that is retained for logging/errors.Is but not exposed to the client.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Original: cause}
}

// Internal wraps any error as an InternalError, its message always replaced
// with "Internal Server Error" per the §7 sanitization rule.
func Internal(cause error) *Error {
	return &Error{Kind: KindInternalError, Message: "Internal Server Error", Original: cause}
}

func (e *Error) Error() string {
	if e.Original != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Original)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause, enabling errors.Is/As to see through
// the taxonomy wrapper.
func (e *Error) Unwrap() error {
	return e.Original
}

// StatusCode returns the HTTP status this error renders as.
func (e *Error) StatusCode() int {
	return e.Kind.StatusCode()
}

// As reports whether err is, or wraps, an *Error, returning it if so. It is
// a thin convenience wrapper over errors.As for call sites that only need
// the taxonomy error, not a caller-supplied target pointer.
func As(err error) (*Error, bool) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// FromError classifies any error into a renderable *Error. If err already
// is (or wraps) an *Error, it is returned unchanged; otherwise it is
// classified as an unrecognized InternalError per §7.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	if apiErr, ok := As(err); ok {
		return apiErr
	}
	return Internal(err)
}
