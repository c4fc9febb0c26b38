// Package heartbeat implements the ping/heartbeat protocol of spec.md
// §4.5: queued- and executing-ping YAML files under a run's output_dir,
// periodic mtime renewal while a run executes, and staleness detection
// for orphaned executions.
package heartbeat

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/uap-go/uap/internal/engine"
	"github.com/uap-go/uap/internal/xlog"
)

// PingRenew is how often an armed executing-ping's mtime is touched.
const PingRenew = 30 * time.Second

// PingTimeout is how long an executing-ping may go un-renewed before
// the run it names is considered stale.
const PingTimeout = 300 * time.Second

// QueuedPing is written at submission time (spec.md §4.5).
type QueuedPing struct {
	ClusterJobID string    `yaml:"cluster_job_id,omitempty"`
	WrittenAt    time.Time `yaml:"written_at"`
}

// ExecutingPing is written when the executor arms the run (spec.md §4.4
// step 2).
type ExecutingPing struct {
	StartTime     time.Time `yaml:"start_time"`
	Host          string    `yaml:"host"`
	PID           int       `yaml:"pid"`
	User          string    `yaml:"user"`
	TempDirectory string    `yaml:"temp_directory"`
	ClusterJobID  string    `yaml:"cluster_job_id,omitempty"`
}

// ErrAlreadyRunning is returned when an executing-ping is already
// present at pre-flight time.
var ErrAlreadyRunning = errors.New("run is already executing")

// WriteQueuedPing writes a queued-ping file.
func WriteQueuedPing(path string, ping QueuedPing) error {
	return writeYAML(path, ping)
}

// ReadQueuedPing reads a queued-ping file, if present.
func ReadQueuedPing(path string) (QueuedPing, bool, error) {
	var ping QueuedPing
	ok, err := readYAML(path, &ping)
	return ping, ok, err
}

// PreflightCheck fails with ErrAlreadyRunning if an executing-ping
// already exists at executingPath (spec.md §4.4 step 1).
func PreflightCheck(executingPath string) error {
	if _, err := os.Stat(executingPath); err == nil {
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, executingPath)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("%w: checking %s: %v", engine.ErrEnvironment, executingPath, err)
	}
	return nil
}

// Heartbeat owns a live executing-ping: a background goroutine
// refreshes its mtime every PingRenew until Stop is called.
type Heartbeat struct {
	path   string
	cancel context.CancelFunc
	done   chan struct{}
}

// Arm writes the executing-ping at path and starts renewing its mtime.
func Arm(ctx context.Context, path string, ping ExecutingPing) (*Heartbeat, error) {
	if err := writeYAML(path, ping); err != nil {
		return nil, err
	}
	hctx, cancel := context.WithCancel(ctx)
	h := &Heartbeat{path: path, cancel: cancel, done: make(chan struct{})}
	go h.loop(hctx)
	return h, nil
}

func (h *Heartbeat) loop(ctx context.Context) {
	defer close(h.done)
	ticker := time.NewTicker(PingRenew)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			if err := os.Chtimes(h.path, now, now); err != nil {
				xlog.Warn(ctx, "failed to renew executing ping", "path", h.path, "err", err)
			}
		}
	}
}

// Stop halts renewal. It does not remove the ping file; callers decide
// whether to remove it (clean exit) or mark it bad (abnormal exit).
func (h *Heartbeat) Stop() {
	h.cancel()
	<-h.done
}

// Finish removes the executing-ping on clean completion.
func Finish(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: removing %s: %v", engine.ErrEnvironment, path, err)
	}
	return nil
}

// MarkBad renames the ping at path (callers pass the queued ping) to
// "<path>.bad" and, when debug is set, additionally leaves a timestamped
// copy for postmortem (spec.md §4.4 step 2 "rename the queued ping to
// <ping>.bad (with a timestamped copy when debugging)").
func MarkBad(path string, debug bool) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	badPath := path + ".bad"
	if debug {
		data, err := os.ReadFile(path)
		if err == nil {
			stamped := fmt.Sprintf("%s.%d.bad", path, time.Now().Unix())
			_ = os.WriteFile(stamped, data, 0o644)
		}
	}
	if err := os.Rename(path, badPath); err != nil {
		return fmt.Errorf("%w: marking %s bad: %v", engine.ErrEnvironment, path, err)
	}
	return nil
}

// IsStale reports whether the executing-ping at path has not been
// renewed within PingTimeout (spec.md Invariant 6).
func IsStale(path string) (bool, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: stating %s: %v", engine.ErrEnvironment, path, err)
	}
	return time.Since(info.ModTime()) > PingTimeout, nil
}

func writeYAML(path string, v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: marshaling %s: %v", engine.ErrEnvironment, path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("%w: writing %s: %v", engine.ErrEnvironment, path, err)
	}
	return nil
}

func readYAML(path string, v any) (bool, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: reading %s: %v", engine.ErrEnvironment, path, err)
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("%w: parsing %s: %v", engine.ErrEnvironment, path, err)
	}
	return true, nil
}
