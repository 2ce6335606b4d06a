package eventlog

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestAppendFormat tests the line format: RFC3339 UTC timestamp, a space,
// compact JSON, newline.
func TestAppendFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "worker.log")

	require.NoError(t, Append(path, map[string]any{"event": "worker_exit", "completed": 3}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	line := strings.TrimSuffix(string(data), "\n")
	assert.NotContains(t, line, "\n")

	ts, payload, found := strings.Cut(line, " ")
	require.True(t, found)

	_, err = time.Parse(time.RFC3339, ts)
	assert.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal([]byte(payload), &fields))
	assert.Equal(t, "worker_exit", fields["event"])
	assert.Equal(t, float64(3), fields["completed"])
}

// TestAppendAccumulates tests that records append rather than replace.
func TestAppendAccumulates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.log")

	for i := 0; i < 3; i++ {
		require.NoError(t, Append(path, map[string]any{"event": "tick", "n": i}))
	}

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Len(t, lines, 3)
}
