package shell

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecRunner_Run(t *testing.T) {
	t.Run("captures output and honours dir and env", func(t *testing.T) {
		dir := t.TempDir()
		runner := NewExecRunner()

		out, err := runner.Run(context.Background(), Command{
			Dir:  dir,
			Env:  []string{"RELEASEPIPE_TEST=ok"},
			Name: "sh",
			Args: []string{"-c", "pwd; echo $RELEASEPIPE_TEST; echo oops >&2"},
		})

		require.NoError(t, err)
		assert.Contains(t, string(out), dir)
		assert.Contains(t, string(out), "ok")
		assert.Contains(t, string(out), "oops")
	})

	t.Run("returns output alongside a failing exit status", func(t *testing.T) {
		out, err := NewExecRunner().Run(context.Background(), Command{
			Name: "sh",
			Args: []string{"-c", "echo broken; exit 3"},
		})

		assert.Error(t, err)
		assert.Contains(t, string(out), "broken")
	})
}

func TestCommand_String(t *testing.T) {
	cmd := Command{Name: "cargo", Args: []string{"build", "--release"}}
	assert.Equal(t, "cargo build --release", cmd.String())
}
