package process

import (
	"os"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsProcessAlive(t *testing.T) {
	assert.True(t, IsProcessAlive(os.Getpid()))
	assert.False(t, IsProcessAlive(0))
	assert.False(t, IsProcessAlive(-1))

	cmd := exec.Command("true")
	require.NoError(t, cmd.Run())
	// The child has been reaped, so its pid no longer exists.
	assert.False(t, IsProcessAlive(cmd.Process.Pid))
}
