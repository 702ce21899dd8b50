package worker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/yanun0323/go-autotrader/internal/errors"
	"github.com/yanun0323/go-autotrader/pkg/exception"
)

func TestRetryPolicyBackoff(t *testing.T) {
	p := RetryPolicy{MaxRetries: 5, Base: time.Second, Max: 5 * time.Second}
	testCases := []struct {
		desc    string
		attempt int
		want    time.Duration
	}{
		{desc: "first attempt", attempt: 1, want: time.Second},
		{desc: "second attempt doubles", attempt: 2, want: 2 * time.Second},
		{desc: "third attempt doubles again", attempt: 3, want: 4 * time.Second},
		{desc: "capped at max", attempt: 4, want: 5 * time.Second},
		{desc: "stays capped", attempt: 30, want: 5 * time.Second},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			assert.Equal(t, tc.want, p.Backoff(tc.attempt))
		})
	}
}

func TestRetryFail(t *testing.T) {
	p := RetryPolicy{MaxRetries: 2, Base: time.Second, Max: time.Minute}
	err := errors.Wrap(exception.ErrGatewayTransient, "place")
	var r Retry

	assert.True(t, r.Ready(testNow))
	assert.False(t, r.Fail(p, err, testNow))
	assert.Equal(t, 1, r.Attempts)
	assert.False(t, r.Ready(testNow.Add(999*time.Millisecond)))
	assert.True(t, r.Ready(testNow.Add(time.Second)))

	assert.False(t, r.Fail(p, err, testNow.Add(time.Second)))
	assert.Equal(t, testNow.Add(3*time.Second), r.NextAt)

	assert.True(t, r.Fail(p, err, testNow.Add(3*time.Second)))
	assert.Equal(t, 0, r.Attempts)
	assert.True(t, r.Ready(testNow.Add(3*time.Second)))
	assert.Contains(t, r.LastErr, "transient")

	r.Reset()
	assert.Empty(t, r.LastErr)
}
