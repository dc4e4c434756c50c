// Package command runs external processes such as docker buildx and the test
// harness.
package command

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

type Command struct {
	WorkDir    string
	Executable string
	Args       []string
	// Env is appended to the parent environment.
	Env map[string]string
}

// Result is returned even when the process exits non-zero.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

type Runner interface {
	// Execute returns an error only if the process could not be run. A
	// non-zero exit is reported through Result.ExitCode.
	Execute(ctx context.Context, cmd Command) (Result, error)
}

type ExecRunner struct {
	// Stream copies process output to the log as it is produced.
	Stream bool
}

func NewRunner() *ExecRunner {
	return &ExecRunner{Stream: true}
}

func (r *ExecRunner) Execute(ctx context.Context, c Command) (Result, error) {
	if c.Executable == "" {
		return Result{}, errors.New("command executable can not be empty")
	}
	// nolint:gosec
	cmd := exec.CommandContext(ctx, c.Executable, c.Args...)
	cmd.Dir = c.WorkDir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), envList(c.Env)...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout, cmd.Stderr = &stdout, &stderr
	if r.Stream {
		out := log.StandardLogger().WriterLevel(log.InfoLevel)
		defer out.Close()
		cmd.Stdout = io.MultiWriter(&stdout, out)
		cmd.Stderr = io.MultiWriter(&stderr, out)
	}

	log.Debugf("Running %s", cmd.String())
	err := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		return res, errors.Wrapf(err, "failed to run %s", c.Executable)
	}
	return res, nil
}

// envList renders env in a stable order.
func envList(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, fmt.Sprintf("%s=%s", k, env[k]))
	}
	return out
}

// Tail returns at most the last n bytes of s.
func Tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
