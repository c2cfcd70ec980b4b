package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecute_ClosedByDefault(t *testing.T) {
	b := New(Config{})
	assert.False(t, b.IsOpen())
}

func TestExecute_TripsOpenAfterMaxFailures(t *testing.T) {
	b := New(Config{MaxFailures: 3, ResetTimeout: time.Minute})
	boom := errors.New("boom")

	for i := 0; i < 3; i++ {
		err := b.Execute(func() error { return boom })
		require.ErrorIs(t, err, boom)
	}

	assert.True(t, b.IsOpen())
	err := b.Execute(func() error { return nil })
	assert.ErrorIs(t, err, ErrOpen)
}

func TestExecute_SuccessResetsFailureCount(t *testing.T) {
	b := New(Config{MaxFailures: 3, ResetTimeout: time.Minute})
	boom := errors.New("boom")

	require.Error(t, b.Execute(func() error { return boom }))
	require.Error(t, b.Execute(func() error { return boom }))
	require.NoError(t, b.Execute(func() error { return nil }))

	assert.False(t, b.IsOpen())

	require.Error(t, b.Execute(func() error { return boom }))
	require.Error(t, b.Execute(func() error { return boom }))
	assert.False(t, b.IsOpen(), "failure count should have reset after the intervening success")
}

func TestExecute_HalfOpenAfterResetTimeout(t *testing.T) {
	b := New(Config{MaxFailures: 1, ResetTimeout: 10 * time.Millisecond})
	boom := errors.New("boom")

	require.Error(t, b.Execute(func() error { return boom }))
	require.True(t, b.IsOpen())

	time.Sleep(20 * time.Millisecond)

	require.NoError(t, b.Execute(func() error { return nil }))
	assert.False(t, b.IsOpen())
}

func TestExecute_DefaultsAppliedWhenUnset(t *testing.T) {
	b := New(Config{})
	assert.Equal(t, int64(5), b.config.MaxFailures)
	assert.Equal(t, 30*time.Second, b.config.ResetTimeout)
}
