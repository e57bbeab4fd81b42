package s3

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/objectgate/gateway/pkg/apierror"
)

// mapS3Error classifies an S3 SDK error into the §4.A renderable taxonomy
// {NotFound, AccessDenied, BackendUnavailable, Conflict}.
func mapS3Error(operation string, err error) error {
	if err == nil {
		return nil
	}
	if isNotFoundError(err) {
		return apierror.Wrap(apierror.KindObjectNotFound, operation+": object not found", err)
	}
	if isAccessDeniedError(err) {
		return apierror.Wrap(apierror.KindAccessDenied, operation+": access denied", err)
	}
	if isConflictError(err) {
		return apierror.Wrap(apierror.KindConflict, operation+": conflicting write", err)
	}
	return apierror.Wrap(apierror.KindBackendUnavailable, operation+": backend unavailable", err)
}

// isRetryableError reports whether err is a transient condition worth
// retrying with backoff (throttling, 5xx, network resets).
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		switch code {
		case "Throttling", "ThrottlingException", "RequestThrottled", "SlowDown",
			"ProvisionedThroughputExceededException":
			return true
		case "InternalError", "ServiceUnavailable", "ServiceException", "InternalServiceException":
			return true
		case "NoSuchKey", "NotFound", "AccessDenied", "Forbidden", "InvalidRange", "InvalidRequest":
			return false
		}
	}

	errStr := err.Error()
	for _, pattern := range []string{"connection reset", "connection refused", "i/o timeout", "temporary failure", "503", "500"} {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}

func isNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		if code == "NoSuchKey" || code == "NotFound" || code == "404" {
			return true
		}
	}
	return false
}

func isAccessDeniedError(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "AccessDenied" || code == "Forbidden"
	}
	return false
}

func isConflictError(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "PreconditionFailed" || code == "ConditionalRequestConflict"
	}
	return false
}
