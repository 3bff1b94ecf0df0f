package main

import (
	"context"

	"github.com/core-tools/palantir-deploy/pkg/deploy"
)

type deployCommand struct {
	app *app
	ctx context.Context
}

func (c *deployCommand) Execute(args []string) error {
	orchestrator, done, err := c.app.setup()
	if err != nil {
		return err
	}
	defer done()

	result, err := orchestrator.Deploy(c.ctx)
	return c.app.report(result, err)
}

type rollbackCommand struct {
	app *app
	ctx context.Context
}

func (c *rollbackCommand) Execute(args []string) error {
	orchestrator, done, err := c.app.setup()
	if err != nil {
		return err
	}
	defer done()

	result, err := orchestrator.Rollback(c.ctx)
	return c.app.report(result, err)
}

type statusCommand struct {
	app *app
	ctx context.Context
}

func (c *statusCommand) Execute(args []string) error {
	orchestrator, done, err := c.app.setup()
	if err != nil {
		return err
	}
	defer done()

	status, err := orchestrator.Status(c.ctx)
	if err != nil {
		return err
	}
	printStatus(c.app.stdout, status)
	return nil
}

// report prints the run summary and sets the exit code. The failure has
// already been rendered, so it is not returned again.
func (a *app) report(result *deploy.Result, err error) error {
	printResult(a.stdout, result, err)
	if err != nil || !result.Succeeded() {
		a.code = exitFailure
	}
	return nil
}
