package agentrunner_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgepilot/forgepilot/internal/agentrunner"
)

func TestRunCapturesStructuredOutput(t *testing.T) {
	r := agentrunner.New(agentrunner.Config{
		Command: "/bin/sh",
		Args:    []string{"-c", `echo 'starting work'; echo '{"decision":"approved","costUsd":0.42}'`},
		Timeout: 5 * time.Second,
	})

	result, err := r.Run(context.Background(), agentrunner.Request{Prompt: "do the thing"}, nil)
	require.NoError(t, err)
	assert.True(t, result.Success())
	assert.Equal(t, 0.42, result.CostUsd)
	assert.Contains(t, string(result.Structured), "approved")
}

func TestRunReportsNonZeroExit(t *testing.T) {
	r := agentrunner.New(agentrunner.Config{
		Command: "/bin/sh",
		Args:    []string{"-c", `echo 'bad news' 1>&2; exit 3`},
		Timeout: 5 * time.Second,
	})

	result, err := r.Run(context.Background(), agentrunner.Request{Prompt: "do the thing"}, nil)
	require.Error(t, err)
	assert.Equal(t, agentrunner.OutcomeNonZeroExit, result.Outcome)
	assert.Equal(t, 3, result.ExitCode)
}

func TestRunReportsUnparseableOutput(t *testing.T) {
	r := agentrunner.New(agentrunner.Config{
		Command: "/bin/sh",
		Args:    []string{"-c", `echo 'no json here'`},
		Timeout: 5 * time.Second,
	})

	result, err := r.Run(context.Background(), agentrunner.Request{Prompt: "do the thing"}, nil)
	require.Error(t, err)
	assert.Equal(t, agentrunner.OutcomeUnparseable, result.Outcome)
}

func TestRunTimesOutLongRunningAgent(t *testing.T) {
	r := agentrunner.New(agentrunner.Config{
		Command: "/bin/sh",
		Args:    []string{"-c", `sleep 30`},
		Timeout: 300 * time.Millisecond,
	})

	result, err := r.Run(context.Background(), agentrunner.Request{Prompt: "do the thing"}, nil)
	require.Error(t, err)
	assert.Equal(t, agentrunner.OutcomeTimeout, result.Outcome)
}

func TestRunStreamsStdoutChunks(t *testing.T) {
	r := agentrunner.New(agentrunner.Config{
		Command: "/bin/sh",
		Args:    []string{"-c", `echo 'line one'; echo 'line two'; echo '{"ok":true}'`},
		Timeout: 5 * time.Second,
	})

	var chunks []string
	_, err := r.Run(context.Background(), agentrunner.Request{Prompt: "x"}, func(line string) {
		chunks = append(chunks, line)
	})
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Equal(t, "line one", chunks[0])
}
