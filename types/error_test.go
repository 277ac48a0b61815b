package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_ChainingAndHelpers(t *testing.T) {
	t.Parallel()

	root := errors.New("root")
	err := NewError(ErrUpstreamError, "upstream failed").
		WithCause(root).
		WithHTTPStatus(502).
		WithRetryable(true).
		WithProvider("openai")

	assert.Equal(t, ErrUpstreamError, GetErrorCode(err))
	assert.True(t, IsRetryable(err))
	assert.True(t, errors.Is(err, root))
	assert.Contains(t, err.Error(), "UPSTREAM_ERROR")
}

func TestError_WrappedLookup(t *testing.T) {
	t.Parallel()

	inner := Errorf(ErrActionFailed, "click %s", "#btn")
	wrapped := fmt.Errorf("step 2: %w", inner)

	e, ok := AsError(wrapped)
	assert.True(t, ok)
	assert.Equal(t, "click #btn", e.Message)
	assert.True(t, IsErrorCode(wrapped, ErrActionFailed))
	assert.False(t, IsRetryable(wrapped))
	assert.Equal(t, ErrorCode(""), GetErrorCode(errors.New("plain")))
}
