package logging

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eval_harness/internal/eval"
)

func TestResultLoggerWritesRecords(t *testing.T) {
	dir := t.TempDir()
	template := filepath.Join(dir, "results-%s.jsonl")

	rl, err := NewResultLogger(template, 1<<20, 3, 100, 10*time.Millisecond)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		result := eval.Success("output", &eval.TokenUsage{Prompt: 1, Completion: 1, Total: 2})
		rec := NewResultRecord("echo:chat:test", "echo", "chat", "test", result)
		require.NoError(t, rl.Enqueue(rec))
	}
	require.NoError(t, rl.Close())

	matches, err := filepath.Glob(filepath.Join(dir, "results-*.jsonl"))
	require.NoError(t, err)
	require.Len(t, matches, 1)

	file, err := os.Open(matches[0])
	require.NoError(t, err)
	defer file.Close()

	lines := 0
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var rec ResultRecord
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		assert.Equal(t, "echo:chat:test", rec.Provider)
		assert.Equal(t, "output", rec.Output)
		lines++
	}
	assert.Equal(t, 5, lines, "Close must drain queued records")
}

func TestResultLoggerFailureRecord(t *testing.T) {
	result := eval.Failure(eval.NewTimeoutError("vendor call timed out"))
	rec := NewResultRecord("echo:chat:test", "echo", "chat", "test", result)

	assert.Equal(t, string(eval.KindTimeout), rec.ErrorKind)
	assert.NotEmpty(t, rec.ErrorMessage)
	assert.Empty(t, rec.Output)
}

func TestResultLoggerCloseIdempotent(t *testing.T) {
	template := filepath.Join(t.TempDir(), "results-%s.jsonl")
	rl, err := NewResultLogger(template, 1<<20, 3, 10, time.Second)
	require.NoError(t, err)

	require.NoError(t, rl.Close())
	require.NoError(t, rl.Close())
}

func TestNoopSink(t *testing.T) {
	sink := NewNoopSink()
	require.NoError(t, sink.Enqueue(&ResultRecord{}))
	require.NoError(t, sink.Close())
}
