package worker

import (
	"context"
	"os"
	"os/exec"
	"os/user"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Identity describes the worker process for observability. It is captured
// once per process and stamped onto every row this worker upserts.
type Identity struct {
	Host    string
	User    string
	GPU     string
	Env     string
	Commit  string
	Session string
}

// probeTimeout bounds the external probes (nvidia-smi, git); identity
// capture must never stall worker startup.
const probeTimeout = 2 * time.Second

// CaptureIdentity gathers the worker identity: host name, user name, GPU
// descriptor, environment tag, VCS commit when discoverable, and a unique
// session id for correlating log lines from one process.
func CaptureIdentity(envTag string) Identity {
	id := Identity{
		Env:     envTag,
		Session: uuid.NewString(),
	}

	if host, err := os.Hostname(); err == nil {
		id.Host = host
	}
	if u, err := user.Current(); err == nil {
		id.User = u.Username
	} else if v := os.Getenv("USER"); v != "" {
		id.User = v
	}

	if v := os.Getenv("ARCHI3D_GPU"); v != "" {
		id.GPU = v
	} else {
		id.GPU = probe("nvidia-smi", "--query-gpu=name", "--format=csv,noheader")
	}

	id.Commit = probe("git", "rev-parse", "HEAD")
	return id
}

// probe runs a short external command and returns its first output line, or
// empty when the command is unavailable or fails.
func probe(name string, args ...string) string {
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		return ""
	}
	lines := strings.SplitN(strings.TrimSpace(string(out)), "\n", 2)
	if len(lines) == 0 {
		return ""
	}
	return strings.TrimSpace(lines[0])
}
