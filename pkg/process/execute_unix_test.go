//go:build !windows

package process

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/core-tools/palantir-deploy/pkg/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestExecRunner_OwnProcessGroup(t *testing.T) {
	if _, err := os.Stat("/proc/self/stat"); err != nil {
		t.Skip("procfs not available")
	}
	runner := NewExecRunner(logging.NewNopLogger())

	result, err := runner.Run(context.Background(), Command{
		Name: "/bin/sh",
		Args: []string{"-c", "echo $$ $(cut -d' ' -f5 /proc/$$/stat)"},
	})

	require.NoError(t, err)
	fields := strings.Fields(result.Stdout)
	require.Len(t, fields, 2)
	assert.Equal(t, fields[0], fields[1], "command should lead its own process group")
	assert.NotEqual(t, strconv.Itoa(unix.Getpgrp()), fields[1])
}

func TestExecRunner_GroupInterruptDoesNotStopCommand(t *testing.T) {
	original := unix.Getpgrp()
	// Lead a private group so the interrupt below only reaches this test binary
	if err := unix.Setpgid(0, 0); err != nil {
		t.Skipf("cannot create process group: %v", err)
	}
	t.Cleanup(func() { _ = unix.Setpgid(0, original) })

	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)
	defer signal.Stop(interrupts)

	runner := NewExecRunner(logging.NewNopLogger())
	started := time.Now()
	done := make(chan error, 1)
	go func() {
		_, err := runner.Run(context.Background(), Command{Name: "/bin/sh", Args: []string{"-c", "sleep 1"}})
		done <- err
	}()

	time.Sleep(200 * time.Millisecond)
	require.NoError(t, unix.Kill(-unix.Getpgrp(), unix.SIGINT))

	select {
	case <-interrupts:
	case <-time.After(2 * time.Second):
		t.Fatal("interrupt was not delivered to the test process")
	}

	select {
	case err := <-done:
		assert.NoError(t, err)
		assert.GreaterOrEqual(t, time.Since(started), time.Second)
	case <-time.After(5 * time.Second):
		t.Fatal("command did not finish")
	}
}
