package command

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecute(t *testing.T) {
	r := &ExecRunner{}
	dir := t.TempDir()

	res, err := r.Execute(context.Background(), Command{
		WorkDir:    dir,
		Executable: "sh",
		Args:       []string{"-c", `echo "$IMAGE_URI"; pwd; echo oops >&2; exit 3`},
		Env:        map[string]string{"IMAGE_URI": "host/repo:tag"},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)
	assert.Contains(t, res.Stdout, "host/repo:tag")
	assert.Contains(t, res.Stdout, dir)
	assert.Equal(t, "oops\n", res.Stderr)
}

func TestExecuteErrors(t *testing.T) {
	r := &ExecRunner{}
	_, err := r.Execute(context.Background(), Command{})
	assert.Error(t, err)

	_, err = r.Execute(context.Background(), Command{Executable: "definitely-not-a-real-binary"})
	assert.Error(t, err)
}

func TestEnvList(t *testing.T) {
	got := envList(map[string]string{"B": "2", "A": "1"})
	assert.Equal(t, []string{"A=1", "B=2"}, got)
}

func TestTail(t *testing.T) {
	assert.Equal(t, "abc", Tail("abc", 10))
	assert.Equal(t, "bc", Tail("abc", 2))
}
