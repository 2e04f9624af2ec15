package shell

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecuteTrimsOutput(t *testing.T) {
	out, err := New().Execute(context.Background(), "printf '  42\\n\\n'")
	require.NoError(t, err)
	assert.Equal(t, "42", out)
}

func TestExecuteReportsExitError(t *testing.T) {
	_, err := New().Execute(context.Background(), "echo nope >&2; exit 3")

	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr), "error = %v", err)
	assert.Equal(t, 3, exitErr.Code)
	assert.Equal(t, "nope", exitErr.Stderr)
	assert.Contains(t, exitErr.Error(), "status 3")
}

func TestExecuteHonoursContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := New().Execute(ctx, "sleep 5")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestExecuteWithEnv(t *testing.T) {
	out, err := New(WithEnv("AGING_TAG=new")).Execute(context.Background(), "echo $AGING_TAG")
	require.NoError(t, err)
	assert.Equal(t, "new", out)
}

type scriptedExecutor struct {
	out string
	err error
}

func (s scriptedExecutor) Execute(context.Context, string) (string, error) {
	return s.out, s.err
}

func TestTry(t *testing.T) {
	out, ok := Try(context.Background(), scriptedExecutor{out: "10:00:00"}, "cat", false)
	assert.True(t, ok)
	assert.Equal(t, "10:00:00", out)

	out, ok = Try(context.Background(), scriptedExecutor{err: errors.New("boom")}, "cat", true)
	assert.False(t, ok)
	assert.Empty(t, out)
}
