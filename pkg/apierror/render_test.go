package apierror

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderWritesWireShape(t *testing.T) {
	rec := httptest.NewRecorder()

	Render(context.Background(), nil, rec, New(KindObjectNotFound, "object \"a/b.txt\" not found"))

	assert.Equal(t, 404, rec.Code)

	var body renderedError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 404, body.StatusCode)
	assert.Equal(t, "ObjectNotFound", body.Error)
	assert.Equal(t, "object \"a/b.txt\" not found", body.Message)
}

func TestRenderSanitizesUnrecognizedErrors(t *testing.T) {
	rec := httptest.NewRecorder()

	Render(context.Background(), nil, rec, errors.New("pq: syntax error near SELECT"))

	assert.Equal(t, 500, rec.Code)

	var body renderedError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "InternalError", body.Error)
	assert.Equal(t, "Internal Server Error", body.Message)
	assert.NotContains(t, rec.Body.String(), "syntax error")
}

func TestRenderSetsContentType(t *testing.T) {
	rec := httptest.NewRecorder()

	Render(context.Background(), nil, rec, New(KindConflict, "conflict"))

	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}
