package errs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOfUnwrapsWrappedError(t *testing.T) {
	base := New("fetch", Transient, errors.New("connection refused"))
	wrapped := errors.Join(errors.New("context"), base)

	assert.Equal(t, Transient, KindOf(wrapped))
}

func TestKindOfDefaultsToUnknown(t *testing.T) {
	assert.Equal(t, Unknown, KindOf(errors.New("plain error")))
}

func TestIsRetryableOnlyTransient(t *testing.T) {
	assert.True(t, IsRetryable(New("op", Transient, errors.New("boom"))))
	assert.False(t, IsRetryable(New("op", Fatal, errors.New("boom"))))
	assert.False(t, IsRetryable(errors.New("plain")))
}

func TestErrorString(t *testing.T) {
	e := New("blob.Fetch", NotFound, errors.New("missing"))
	assert.Contains(t, e.Error(), "blob.Fetch")
	assert.Contains(t, e.Error(), "missing")
}
