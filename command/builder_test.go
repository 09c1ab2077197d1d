package command

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/grovetools/agentwatch/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePaneTarget(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"session window pane", "work:1.0", false},
		{"pane id", "%12", false},
		{"session with dashes", "agent-main:0.1", false},
		{"empty", "", true},
		{"flag injection", "-t", true},
		{"shell metacharacters", "a;rm -rf", true},
		{"spaces", "my session:0", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validatePaneTarget(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("validatePaneTarget(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestValidateIssueID(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"beads id", "bd-a1b2", false},
		{"child id", "proj-12.3", false},
		{"empty", "", true},
		{"leading dash", "-x", true},
		{"spaces", "bd 1", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateIssueID(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateIssueID(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestSafeBuilder(t *testing.T) {
	sb := NewSafeBuilder()

	t.Run("empty name", func(t *testing.T) {
		_, err := sb.Build(context.Background(), "")
		assert.Error(t, err)
	})

	t.Run("unknown validator", func(t *testing.T) {
		assert.Error(t, sb.Validate("nope", "x"))
	})

	t.Run("timeout is capped", func(t *testing.T) {
		cmd, err := sb.Build(context.Background(), "true")
		require.NoError(t, err)
		cmd.WithTimeout(time.Hour)
		assert.Equal(t, MaxTimeout, cmd.timeout)
	})
}

func TestCommandOutput(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	sb := NewSafeBuilder()

	t.Run("stdout", func(t *testing.T) {
		cmd, err := sb.Build(context.Background(), "sh", "-c", "printf hello")
		require.NoError(t, err)
		out, err := cmd.Output()
		require.NoError(t, err)
		assert.Equal(t, "hello", out)
	})

	t.Run("non-zero exit carries stderr", func(t *testing.T) {
		cmd, err := sb.Build(context.Background(), "sh", "-c", "echo boom >&2; exit 3")
		require.NoError(t, err)
		_, err = cmd.Output()
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrCodeCommandFailed))
		assert.Equal(t, errors.GetCode(err), errors.ErrCodeCommandFailed)
	})

	t.Run("timeout", func(t *testing.T) {
		cmd, err := sb.Build(context.Background(), "sh", "-c", "sleep 5")
		require.NoError(t, err)
		_, err = cmd.WithTimeout(50 * time.Millisecond).Output()
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrCodeCommandTimeout))
	})
}
