package recognition

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestShouldRetry(t *testing.T) {
	tests := []struct {
		status int
		want   bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
		{http.StatusServiceUnavailable, true},
		{http.StatusGatewayTimeout, true},
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
		{http.StatusNotFound, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, shouldRetry(tt.status), "status %d", tt.status)
	}
}

func TestBackoffDelay(t *testing.T) {
	base := 1 * time.Second
	max := 30 * time.Second

	for attempt := 0; attempt < 8; attempt++ {
		expected := base << attempt
		if expected > max {
			expected = max
		}
		for i := 0; i < 20; i++ {
			d := backoffDelay(attempt, base, max)
			assert.GreaterOrEqual(t, d, expected, "attempt %d below floor", attempt)
			assert.LessOrEqual(t, d, expected+expected/10, "attempt %d above jitter ceiling", attempt)
		}
	}
}
