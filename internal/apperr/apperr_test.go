package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	err := New(KindNotFound, "task not found")
	assert.Equal(t, KindNotFound, KindOf(err))
	assert.True(t, IsNotFound(err))

	wrapped := fmt.Errorf("loading task: %w", err)
	assert.Equal(t, KindNotFound, KindOf(wrapped))

	assert.Equal(t, KindInternal, KindOf(errors.New("plain")))
}

func TestWrapNil(t *testing.T) {
	assert.NoError(t, Wrap(KindStorage, "query", nil))
}

func TestErrorString(t *testing.T) {
	err := Wrap(KindStorage, "update message", errors.New("db down"))
	assert.EqualError(t, err, "Storage: update message: db down")

	assert.EqualError(t, New(KindValidation, "bad status"), "Validation: bad status")
}

func TestSystemMessage(t *testing.T) {
	err := Wrap(KindUpstreamTimeout, "agent stream", errors.New("deadline exceeded"))
	assert.Equal(t, "System error (Upstream.Timeout). Check the server logs for details.", SystemMessage(err))

	assert.Equal(t, "System error (Internal). Check the server logs for details.", SystemMessage(errors.New("boom")))
}
