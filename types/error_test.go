package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Error(t *testing.T) {
	e := NewError(ErrRateLimited, "rate limit exceeded")
	assert.Equal(t, "[RATE_LIMITED] rate limit exceeded", e.Error())

	e = e.WithCause(fmt.Errorf("429 from upstream"))
	assert.Equal(t, "[RATE_LIMITED] rate limit exceeded: 429 from upstream", e.Error())
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	e := NewError(ErrConnection, "upstream unreachable").WithCause(cause)

	require.ErrorIs(t, e, cause)
}

func TestGetErrorCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"nil", nil, ""},
		{"structured", NewError(ErrUpstreamTimeout, "deadline"), ErrUpstreamTimeout},
		{"plain", errors.New("boom"), ErrUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetErrorCode(tt.err))
		})
	}
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(NewError(ErrRateLimited, "slow down").WithRetryable(true)))
	assert.False(t, IsRetryable(NewError(ErrInvalidRequest, "bad body")))
	assert.False(t, IsRetryable(errors.New("plain")))
}
