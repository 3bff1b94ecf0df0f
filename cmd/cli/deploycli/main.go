package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/core-tools/palantir-deploy/pkg/deploy"
	"github.com/core-tools/palantir-deploy/pkg/logging"

	flags "github.com/jessevdk/go-flags"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

type globalOptions struct {
	Config   string `short:"c" long:"config" description:"path to the deployment configuration" default:"/etc/palantir-deploy/deploy.yaml"`
	LogLevel string `long:"log-level" description:"override the configured log level" choice:"debug" choice:"info" choice:"warn" choice:"error"`
}

type app struct {
	opts   globalOptions
	stdout io.Writer
	stderr io.Writer
	code   int

	// newOrchestrator is replaced in tests
	newOrchestrator func(config *deploy.Config, logger logging.Logger) (*deploy.Orchestrator, error)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, argv []string, stdout, stderr io.Writer) int {
	return newApp(stdout, stderr).execute(ctx, argv)
}

func newApp(stdout, stderr io.Writer) *app {
	return &app{
		stdout: stdout,
		stderr: stderr,
		code:   exitOK,
		newOrchestrator: func(config *deploy.Config, logger logging.Logger) (*deploy.Orchestrator, error) {
			return deploy.NewOrchestrator(config, deploy.Dependencies{}, logger)
		},
	}
}

func (a *app) execute(ctx context.Context, argv []string) int {
	stdout, stderr := a.stdout, a.stderr

	parser := flags.NewParser(&a.opts, flags.HelpFlag)
	parser.Name = "deploycli"

	parser.AddCommand("deploy",
		"Deploy the collector service",
		"Installs packages, stops the service, replaces its artifact and unit definition, then reloads, enables and starts it.",
		&deployCommand{app: a, ctx: ctx})
	parser.AddCommand("rollback",
		"Restore the previous artifact and unit definition",
		"Restores the snapshot taken before the last successful replacement and starts the service.",
		&rollbackCommand{app: a, ctx: ctx})
	parser.AddCommand("status",
		"Show service and deployment state",
		"Reports whether the service is active and enabled, installed file hashes and the last recorded run.",
		&statusCommand{app: a, ctx: ctx})

	if _, err := parser.ParseArgs(argv); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				fmt.Fprintln(stdout, flagsErr.Message)
				return exitOK
			}
			fmt.Fprintf(stderr, "Command line flags parsing failed: %v\n", err)
			return exitUsage
		}
		if a.code == exitOK {
			a.code = exitFailure
		}
		fmt.Fprintln(stderr, failureLine(err.Error()))
	}
	return a.code
}

// setup loads configuration and builds the logger and orchestrator
func (a *app) setup() (*deploy.Orchestrator, func(), error) {
	config, err := deploy.LoadConfig(a.opts.Config)
	if err != nil {
		return nil, nil, err
	}
	if a.opts.LogLevel != "" {
		config.Deploy.LogLevel = a.opts.LogLevel
	}
	if err := deploy.ValidateConfig(config); err != nil {
		return nil, nil, err
	}

	zapConfig := logging.DefaultZapConfig()
	zapConfig.Level = config.Deploy.LogLevel
	zapConfig.Format = config.Deploy.LogFormat
	zapLogger, err := logging.NewZapLogger(zapConfig)
	if err != nil {
		return nil, nil, err
	}
	logger := logging.FromZap(logPrefix(config.Service.Name), zapLogger)

	orchestrator, err := a.newOrchestrator(config, logger)
	if err != nil {
		zapLogger.Sync()
		return nil, nil, err
	}
	return orchestrator, func() { zapLogger.Sync() }, nil
}

func logPrefix(service string) string {
	return fmt.Sprintf("service: %s , ", service)
}
