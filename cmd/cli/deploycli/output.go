package main

import (
	"fmt"
	"io"
	"time"

	"github.com/core-tools/palantir-deploy/pkg/deploy"
	"github.com/core-tools/palantir-deploy/pkg/errors"

	"github.com/fatih/color"
)

func printResult(w io.Writer, result *deploy.Result, err error) {
	if result == nil {
		if err != nil {
			fmt.Fprintln(w, failureLine(err.Error()))
		}
		return
	}

	for _, s := range result.Steps {
		fmt.Fprintf(w, "  %s %s (%s)\n", outcomeLabel(s.Outcome), s.Name, s.Duration.Round(time.Millisecond))
	}

	elapsed := result.FinishedAt.Sub(result.StartedAt).Round(time.Millisecond)
	if err == nil && result.Succeeded() {
		fmt.Fprintln(w, color.GreenString("%s succeeded: %s is %s (%s)", result.Operation, result.Service, result.State, elapsed))
		return
	}

	step := result.FailedStep
	if s := errors.StepOf(err); s != "" {
		step = s
	}
	msg := fmt.Sprintf("%s failed at step %q, service %s left in state %s", result.Operation, step, result.Service, result.State)
	if err != nil {
		msg += ": " + err.Error()
	}
	fmt.Fprintln(w, failureLine(msg))
}

func printStatus(w io.Writer, status *deploy.Status) {
	fmt.Fprintf(w, "service:   %s (%s)\n", status.Service, status.Unit)
	fmt.Fprintf(w, "active:    %s\n", yesNo(status.Active))
	fmt.Fprintf(w, "enabled:   %s\n", yesNo(status.Enabled))
	fmt.Fprintf(w, "artifact:  %s %s\n", status.ArtifactPath, hashOrMissing(status.ArtifactHash))
	fmt.Fprintf(w, "unit:      %s %s\n", status.UnitPath, hashOrMissing(status.UnitHash))
	fmt.Fprintf(w, "snapshot:  %s\n", yesNo(status.SnapshotAvailable))

	if status.LastRun == nil {
		fmt.Fprintln(w, "last run:  none recorded")
		return
	}
	run := status.LastRun
	line := fmt.Sprintf("last run:  %s at %s, state %s", run.Operation, run.FinishedAt.Format(time.RFC3339), run.State)
	if run.FailedStep != "" {
		line += fmt.Sprintf(", failed at step %q", run.FailedStep)
	}
	if run.Succeeded() {
		fmt.Fprintln(w, color.GreenString("%s", line))
	} else {
		fmt.Fprintln(w, color.RedString("%s", line))
	}
}

func outcomeLabel(outcome deploy.StepOutcome) string {
	label := fmt.Sprintf("%-9s", outcome)
	switch outcome {
	case deploy.OutcomeOK:
		return color.GreenString("%s", label)
	case deploy.OutcomeFailed:
		return color.RedString("%s", label)
	default:
		return color.YellowString("%s", label)
	}
}

func failureLine(msg string) string {
	return color.RedString("error: %s", msg)
}

func yesNo(v bool) string {
	if v {
		return color.GreenString("yes")
	}
	return color.YellowString("no")
}

func hashOrMissing(hash string) string {
	if hash == "" {
		return "(not installed)"
	}
	return hash
}
