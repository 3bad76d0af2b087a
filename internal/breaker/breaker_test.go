package breaker

import (
	"bytes"
	"errors"
	"testing"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bizmatters/agent-builder/dev-orchestrator/internal/logging"
)

func TestNew_TripsAfterConsecutiveFailures(t *testing.T) {
	var buf bytes.Buffer
	cb := New("model-runtime", logging.New("DEBUG", "json", &buf))
	assert.Equal(t, "model-runtime", cb.Name())

	failure := errors.New("connection refused")
	for i := 0; i < TripAfter-1; i++ {
		_, err := cb.Execute(func() (interface{}, error) { return nil, failure })
		require.ErrorIs(t, err, failure)
		assert.Equal(t, gobreaker.StateClosed, cb.State())
	}

	_, err := cb.Execute(func() (interface{}, error) { return nil, failure })
	require.ErrorIs(t, err, failure)
	assert.Equal(t, gobreaker.StateOpen, cb.State())

	_, err = cb.Execute(func() (interface{}, error) { return "unreached", nil })
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)

	assert.Contains(t, buf.String(), `"breaker":"model-runtime"`)
	assert.Contains(t, buf.String(), `"to":"open"`)
}

func TestNew_SuccessResetsFailureRun(t *testing.T) {
	cb := New("developer-runtime", nil)
	failure := errors.New("boom")

	for i := 0; i < TripAfter-1; i++ {
		_, _ = cb.Execute(func() (interface{}, error) { return nil, failure })
	}
	_, err := cb.Execute(func() (interface{}, error) { return "ok", nil })
	require.NoError(t, err)

	_, _ = cb.Execute(func() (interface{}, error) { return nil, failure })
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}
