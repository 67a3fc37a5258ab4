package errors

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSentinelErrors_ImplementErrorInterface(t *testing.T) {
	sentinels := []error{
		ErrConfigUnavailable,
		ErrTypeMismatch,
		ErrInvalidMessage,
		ErrIteratorClosed,
	}
	for _, err := range sentinels {
		assert.NotEmpty(t, err.Error(), "sentinel error should have non-empty message")
	}
}

func TestSentinelErrors_AreDistinct(t *testing.T) {
	sentinels := []error{
		ErrConfigUnavailable,
		ErrTypeMismatch,
		ErrInvalidMessage,
		ErrIteratorClosed,
	}
	for i := 0; i < len(sentinels); i++ {
		for j := i + 1; j < len(sentinels); j++ {
			assert.NotEqual(t, sentinels[i], sentinels[j],
				"sentinel errors should be distinct: %q vs %q", sentinels[i], sentinels[j])
		}
	}
}

func TestSentinelErrors_ExpectedMessages(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{ErrConfigUnavailable, "config handle unavailable"},
		{ErrTypeMismatch, "record type mismatch"},
		{ErrInvalidMessage, "invalid control message"},
		{ErrIteratorClosed, "record iterator already closed"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.err.Error())
	}
}
