package errors

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/yanun0323/go-autotrader/pkg/exception"
)

var errWrapped = New("wrapped error")

func TestWrap(t *testing.T) {
	testCases := []struct {
		desc     string
		err      error
		expected string
	}{
		{"plain", Wrap(errWrapped, "place order"), "place order, err: wrapped error"},
		{"formatted", Wrapf(errWrapped, "place %s", "buy"), "place buy, err: wrapped error"},
		{"empty text", Wrap(errWrapped, ""), "wrapped error"},
		{"nested", Wrap(Wrap(errWrapped, "inner"), "outer"), "outer, err: inner, err: wrapped error"},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			assert.EqualError(t, tc.err, tc.expected)
			assert.True(t, Is(tc.err, errWrapped))
		})
	}
}

func TestWrapNil(t *testing.T) {
	assert.NoError(t, Wrap(nil, "noop"))
	assert.NoError(t, Wrapf(nil, "noop %d", 1))
}

func TestWrapKeepsBlocked(t *testing.T) {
	until := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	err := Wrapf(NewBlocked(until, "418"), "worker %s", "spot-1")

	got, ok := BlockedUntil(err)
	assert.True(t, ok)
	assert.Equal(t, until, got)
	assert.ErrorIs(t, err, exception.ErrAccessBlocked)
}
