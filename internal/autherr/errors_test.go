package autherr

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransportError_Matching(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"status", &TransportError{Op: "refresh", StatusCode: 502}, true},
		{"wrapped network", fmt.Errorf("call: %w", &TransportError{Op: "refresh", Err: context.DeadlineExceeded}), true},
		{"auth expired", ErrAuthExpired, false},
		{"plain", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransport(tt.err))
		})
	}
}

func TestTransportError_Unwrap(t *testing.T) {
	err := &TransportError{Op: "refresh", Err: context.DeadlineExceeded}
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, "refresh: context deadline exceeded", err.Error())

	status := &TransportError{Op: "refresh", StatusCode: 503}
	assert.Equal(t, "refresh: unexpected status 503", status.Error())
}

func TestAPIError(t *testing.T) {
	var target *APIError
	err := fmt.Errorf("get jobs: %w", &APIError{StatusCode: 401})
	assert.True(t, errors.As(err, &target))
	assert.Equal(t, 401, target.StatusCode)
	assert.Equal(t, "api returned status 401", target.Error())
}
