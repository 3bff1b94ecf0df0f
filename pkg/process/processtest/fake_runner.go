// Package processtest provides a scripted process.Runner for tests.
package processtest

import (
	"context"
	"fmt"
	"os/exec"
	"sync"

	"github.com/core-tools/palantir-deploy/pkg/errors"
	"github.com/core-tools/palantir-deploy/pkg/process"
)

// HandlerFunc decides the outcome of a recorded command
type HandlerFunc func(cmd process.Command) (*process.Result, error)

// FakeRunner records every command and answers through Handler.
// Without a Handler every command succeeds with empty output.
type FakeRunner struct {
	Handler HandlerFunc
	Paths   map[string]string // Executables visible to LookPath

	mu    sync.Mutex
	calls []process.Command
}

func (f *FakeRunner) Run(ctx context.Context, cmd process.Command) (*process.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, cmd)
	handler := f.Handler
	f.mu.Unlock()

	if handler == nil {
		return &process.Result{}, nil
	}
	return handler(cmd)
}

func (f *FakeRunner) LookPath(file string) (string, error) {
	if path, ok := f.Paths[file]; ok {
		return path, nil
	}
	return "", &exec.Error{Name: file, Err: exec.ErrNotFound}
}

// Calls returns the recorded commands in order
func (f *FakeRunner) Calls() []process.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]process.Command(nil), f.calls...)
}

// CommandLines returns the recorded commands rendered as strings
func (f *FakeRunner) CommandLines() []string {
	calls := f.Calls()
	lines := make([]string, len(calls))
	for i, cmd := range calls {
		lines[i] = cmd.String()
	}
	return lines
}

// Reset forgets recorded commands
func (f *FakeRunner) Reset() {
	f.mu.Lock()
	f.calls = nil
	f.mu.Unlock()
}

// Success is a successful result with the given stdout
func Success(stdout string) (*process.Result, error) {
	return &process.Result{Stdout: stdout}, nil
}

// Exit mimics a command that ran and exited with code
func Exit(cmd process.Command, code int, stderr string) (*process.Result, error) {
	result := &process.Result{ExitCode: code, Stderr: stderr}
	return result, errors.NewProcessError(fmt.Sprintf("command '%s' failed", cmd), nil).
		WithContext("command", cmd.String()).
		WithContext("exit_code", code)
}

// NotStarted mimics a command that could not be started
func NotStarted(cmd process.Command) (*process.Result, error) {
	return nil, errors.NewProcessError("failed to run command", exec.ErrNotFound).WithContext("command", cmd.String())
}
