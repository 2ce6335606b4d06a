// Package eventlog appends structured records to the workspace event logs.
//
// Each record is a single UTF-8 line: an ISO-8601 UTC timestamp followed by
// compact JSON. Appends are serialized through a sibling .lock file so that
// concurrent processes on the same host never interleave partial lines. The
// logs are diagnostic: a crash before flush may leave a partial final line,
// and they must never be used for mutual exclusion.
package eventlog

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/archi3d/archi3d/pkg/atomicio"
)

// lockTimeout bounds how long an append waits on a contended log.
const lockTimeout = 10 * time.Second

// Append writes one event record to the log at path. The fields map should
// carry an "event" tag naming the record type. Parent directories are
// created on demand.
func Append(path string, fields map[string]any) error {
	payload, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	unlock, err := atomicio.Lock(path+".lock", lockTimeout)
	if err != nil {
		return err
	}
	defer unlock()

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log %s: %w", path, err)
	}
	defer f.Close()

	line := fmt.Sprintf("%s %s\n", time.Now().UTC().Format(time.RFC3339), payload)
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("failed to append to log %s: %w", path, err)
	}
	return nil
}
