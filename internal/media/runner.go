// Package media wraps the external ffmpeg/ffprobe toolchain.
package media

import (
	"bytes"
	"context"
	"io"
	"os/exec"
)

// Runner executes an external command, streaming stdout to the given writer
// and returning whatever the process wrote to stderr.
type Runner interface {
	Run(ctx context.Context, name string, args []string, stdout io.Writer) (stderr []byte, err error)
}

// ExecRunner runs commands with os/exec, killing them when ctx is done.
type ExecRunner struct{}

// Run implements Runner.
func (ExecRunner) Run(ctx context.Context, name string, args []string, stdout io.Writer) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stdout = stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stderr.Bytes(), err
}

// Available reports whether a binary can be found on PATH.
func Available(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}
