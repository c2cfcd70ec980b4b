package sentinelerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAsCode_ExtractsCodeFromSentinelError(t *testing.T) {
	err := AlreadyActive("start_session")

	code, ok := AsCode(err)
	require.True(t, ok)
	assert.Equal(t, CodeAlreadyActive, code)
}

func TestAsCode_FalseForPlainError(t *testing.T) {
	_, ok := AsCode(errors.New("plain"))
	assert.False(t, ok)
}

func TestError_UnwrapsCause(t *testing.T) {
	cause := errors.New("disk full")
	err := StoreUnavailable("insert_event", cause)

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, SeverityRecoverable, err.Severity)
}

func TestError_MessageIncludesCauseWhenPresent(t *testing.T) {
	cause := errors.New("boom")
	err := StoreUnavailable("insert_event", cause)

	assert.Contains(t, err.Error(), "boom")
}

func TestError_MessageOmitsCauseWhenAbsent(t *testing.T) {
	err := AlreadyActive("start_session")
	assert.NotContains(t, err.Error(), "%!v")
	assert.Contains(t, err.Error(), "already active")
}

func TestConfigInvalid_IsFatalSeverity(t *testing.T) {
	err := ConfigInvalid("new_engine", "weights must sum to 1")
	assert.Equal(t, SeverityFatal, err.Severity)
	assert.Equal(t, CodeConfigInvalid, err.Code)
}

func TestError_SatisfiesStandardErrorInterface(t *testing.T) {
	var err error = NotFound("get_session", "session 5")
	assert.EqualError(t, err, fmt.Sprintf("[store:get_session] %s: session 5", CodeNotFound))
}
