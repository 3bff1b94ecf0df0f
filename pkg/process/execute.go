package process

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"

	"github.com/core-tools/palantir-deploy/pkg/errors"
	"github.com/core-tools/palantir-deploy/pkg/logging"
)

// Command describes a single external program invocation
type Command struct {
	Name string
	Args []string
	Env  []string // Appended to the inherited environment
}

func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	return c.Name + " " + strings.Join(c.Args, " ")
}

// Result holds the outcome of a command that was started
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Runner executes external commands on the host
type Runner interface {
	// Run starts cmd and waits for it. A command that ran and exited non-zero
	// returns both a Result and a process error carrying the exit code.
	Run(ctx context.Context, cmd Command) (*Result, error)

	// LookPath resolves an executable name against PATH
	LookPath(file string) (string, error)
}

type execRunner struct {
	logger logging.Logger
}

// NewExecRunner returns a Runner backed by os/exec
func NewExecRunner(logger logging.Logger) Runner {
	return &execRunner{logger: logger}
}

func (r *execRunner) Run(ctx context.Context, cmd Command) (*Result, error) {
	if ctx == nil {
		return nil, errors.NewValidationError("context cannot be nil", nil)
	}
	if err := ValidateCommand(cmd); err != nil {
		return nil, err
	}
	// Steps are not interruptible once started, so the context only gates the start.
	if err := ctx.Err(); err != nil {
		return nil, errors.NewCancelledError("command not started", err).WithContext("command", cmd.String())
	}

	r.logger.Debugf("$ %s", cmd)

	c := exec.Command(cmd.Name, cmd.Args...)
	c.Env = append(os.Environ(), cmd.Env...)
	c.Dir = "/"
	setupProcessAttributes(c)

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	err := c.Run()
	result := &Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if err != nil {
		exitErr, ok := err.(*exec.ExitError)
		if !ok {
			return nil, errors.NewProcessError("failed to run command", err).WithContext("command", cmd.String())
		}
		result.ExitCode = exitErr.ExitCode()
		r.logger.Debugf("Command exited with %d, command: %s, stderr: %s", result.ExitCode, cmd, strings.TrimSpace(result.Stderr))
		return result, errors.NewProcessError(describeFailure(cmd, result), err).
			WithContext("command", cmd.String()).
			WithContext("exit_code", result.ExitCode)
	}

	return result, nil
}

func (r *execRunner) LookPath(file string) (string, error) {
	return exec.LookPath(file)
}

// ExitCode returns the exit code carried by a Run error, if the command ran at all
func ExitCode(err error) (int, bool) {
	for err != nil {
		if domainErr, ok := err.(*errors.DomainError); ok {
			if code, ok := domainErr.Context["exit_code"].(int); ok {
				return code, true
			}
			err = domainErr.Cause
			continue
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return 0, false
		}
		err = unwrapper.Unwrap()
	}
	return 0, false
}

func describeFailure(cmd Command, result *Result) string {
	msg := "command '" + cmd.String() + "' failed"
	if detail := strings.TrimSpace(result.Stderr); detail != "" {
		if idx := strings.LastIndex(detail, "\n"); idx >= 0 {
			detail = detail[idx+1:]
		}
		msg += ": " + detail
	}
	return msg
}
