package apierror

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
)

// renderedError is the wire shape errors render to (§6): {statusCode, error, message}.
type renderedError struct {
	StatusCode int    `json:"statusCode"`
	Error      string `json:"error"`
	Message    string `json:"message"`
}

// Render writes err as a JSON error response per §6's wire shape, logging
// the original cause (if any) at error level but never exposing it to the
// client. Non-*Error values are classified via FromError first.
func Render(ctx context.Context, logger *slog.Logger, w http.ResponseWriter, err error) {
	apiErr := FromError(err)

	if apiErr.Original != nil && logger != nil {
		logger.ErrorContext(ctx, "request failed",
			slog.String("error_kind", string(apiErr.Kind)),
			slog.Any("cause", apiErr.Original),
		)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apiErr.StatusCode())
	_ = json.NewEncoder(w).Encode(renderedError{
		StatusCode: apiErr.StatusCode(),
		Error:      string(apiErr.Kind),
		Message:    apiErr.Message,
	})
}
