package bmerrors

import (
	"fmt"
	"io"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestErrNotFound_Message(t *testing.T) {
	err := &ErrNotFound{Type: "session", Value: "abc"}
	assert.Equal(t, `could not find session "abc"`, err.Error())

	err = &ErrNotFound{Value: "abc", Message: "gone"}
	assert.Equal(t, `could not find "abc"; gone`, err.Error())
}

func TestIsRetryable(t *testing.T) {
	tests := map[string]struct {
		err      error
		expected bool
	}{
		"unavailable": {
			err:      &ErrStoreUnavailable{Operation: "claim", Cause: io.EOF},
			expected: true,
		},
		"wrapped unavailable": {
			err:      errors.WithMessage(&ErrStoreUnavailable{Operation: "claim", Cause: io.EOF}, "claiming"),
			expected: true,
		},
		"duplicate": {
			err:      &ErrDuplicateEvent{EventId: "1"},
			expected: false,
		},
		"plain": {
			err:      fmt.Errorf("boom"),
			expected: false,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.expected, IsRetryable(tc.err))
		})
	}
}

func TestIsFatal(t *testing.T) {
	assert.True(t, IsFatal(errors.WithStack(&ErrUnknownEvent{EventName: "foo"})))
	assert.True(t, IsFatal(&ErrInvalidTransition{From: "STOPPED", To: "STARTED"}))
	assert.False(t, IsFatal(&ErrSessionEnded{SessionId: "s"}))
	assert.False(t, IsFatal(&ErrStoreUnavailable{Operation: "put", Cause: io.EOF}))
}

func TestErrStoreUnavailable_Unwrap(t *testing.T) {
	err := &ErrStoreUnavailable{Operation: "put", Cause: io.EOF}
	assert.True(t, errors.Is(err, io.EOF))
}
