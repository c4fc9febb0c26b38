// Package procpool launches the CommandInfo/PipelineInfo members of an
// ExecGroup (spec.md §4.3): single commands and OS-pipe-chained
// pipelines, run concurrently within a group and sequentially across
// groups, with a process watcher sampling resource usage and signal
// propagation on cancellation.
package procpool

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/uap-go/uap/internal/engine"
)

// watchInterval is how often the process watcher samples live children.
const watchInterval = 500 * time.Millisecond

// killGrace is how long a cancelled member is given to exit after
// SIGTERM/SIGINT before it is hard-killed.
const killGrace = 5 * time.Second

// streamCaptureLimit bounds the in-process buffer used when a command
// has no explicit stdout/stderr redirect path.
const streamCaptureLimit = 1 << 20 // 1 MiB

// MemberResult is one member's outcome: its argv (flattened across
// pipeline stages), exit codes, signal if killed, byte/line counts per
// stream, and resource-usage peaks contributed by ProcessStats.
type MemberResult struct {
	Label      string
	Argv       [][]string
	ExitCodes  []int
	Signalled  bool
	Signal     string
	OKToFail   []bool
	StartedAt  time.Time
	FinishedAt time.Time
	Stats      ProcessStats
	Err        error
}

// Failed reports whether this member's outcome should fail the run:
// any non-zero exit not covered by OKToFail, or a signal.
func (m MemberResult) Failed() bool {
	if m.Signalled {
		return true
	}
	for i, code := range m.ExitCodes {
		ok := i < len(m.OKToFail) && m.OKToFail[i]
		if code != 0 && !ok {
			return true
		}
	}
	return false
}

// runSingle launches one CommandInfo under dir, redirecting its streams
// per the configured paths (falling back to bounded capture buffers),
// and waits for it to exit.
func runSingle(ctx context.Context, dir string, c engine.CommandInfo, watcher *Watcher) (MemberResult, error) {
	res := MemberResult{Label: c.Label, Argv: [][]string{c.Argv}, OKToFail: []bool{c.OkToFail}, StartedAt: time.Now()}
	if len(c.Argv) == 0 {
		return res, fmt.Errorf("%w: empty command argv", engine.ErrConfiguration)
	}

	cmd := exec.CommandContext(ctx, c.Argv[0], c.Argv[1:]...)
	cmd.Dir = dir
	if c.Env != nil {
		cmd.Env = os.Environ()
		for k, v := range c.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}
	setupProcessGroup(cmd)
	armGracefulCancel(cmd)

	stdinDone, err := wireStdin(cmd, dir, c.StdinPath)
	if err != nil {
		return res, err
	}
	defer stdinDone()

	outBuf, outClose, err := wireOutput(cmd, dir, c.StdoutPath, c.AppendOut, false)
	if err != nil {
		return res, err
	}
	defer outClose()
	errBuf, errClose, err := wireOutput(cmd, dir, c.StderrPath, c.AppendErr, true)
	if err != nil {
		return res, err
	}
	defer errClose()

	if err := cmd.Start(); err != nil {
		res.Err = fmt.Errorf("%w: starting %s: %v", engine.ErrExecution, c.Label, err)
		return res, res.Err
	}
	if watcher != nil {
		watcher.Track(cmd.Process.Pid, c.Label)
	}

	waitErr := cmd.Wait()
	res.FinishedAt = time.Now()
	res.Stats = statsFromBuffers(outBuf, errBuf)

	code, signalled, sig := exitOutcome(cmd, waitErr)
	res.ExitCodes = []int{code}
	res.Signalled = signalled
	res.Signal = sig
	if signalled {
		res.Err = fmt.Errorf("%w: %s killed by signal %s", engine.ErrCancellation, c.Label, sig)
	} else if code != 0 && !c.OkToFail {
		res.Err = fmt.Errorf("%w: %s exited %d", engine.ErrExecution, c.Label, code)
	}
	return res, nil
}

func exitOutcome(cmd *exec.Cmd, waitErr error) (code int, signalled bool, sig string) {
	if waitErr == nil {
		return 0, false, ""
	}
	if exitErr, ok := waitErr.(*exec.ExitError); ok {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return -1, true, ws.Signal().String()
		}
		return exitErr.ExitCode(), false, ""
	}
	return -1, false, ""
}

func wireStdin(cmd *exec.Cmd, dir, path string) (func(), error) {
	if path == "" {
		cmd.Stdin = nil
		return func() {}, nil
	}
	p := resolvePath(dir, path)
	f, err := os.Open(p)
	if err != nil {
		return func() {}, fmt.Errorf("%w: opening stdin %s: %v", engine.ErrEnvironment, p, err)
	}
	cmd.Stdin = f
	return func() { _ = f.Close() }, nil
}

func wireOutput(cmd *exec.Cmd, dir, path string, appendMode, stderr bool) (*bytes.Buffer, func(), error) {
	if path == "" {
		buf := &boundedBuffer{limit: streamCaptureLimit}
		if stderr {
			cmd.Stderr = buf
		} else {
			cmd.Stdout = buf
		}
		return &buf.Buffer, func() {}, nil
	}
	p := resolvePath(dir, path)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return nil, func() {}, fmt.Errorf("%w: %v", engine.ErrEnvironment, err)
	}
	flags := os.O_CREATE | os.O_WRONLY
	if appendMode {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(p, flags, 0o644)
	if err != nil {
		return nil, func() {}, fmt.Errorf("%w: opening %s: %v", engine.ErrEnvironment, p, err)
	}
	if stderr {
		cmd.Stderr = f
	} else {
		cmd.Stdout = f
	}
	return nil, func() { _ = f.Close() }, nil
}

func resolvePath(dir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}

// boundedBuffer caps in-memory stdout/stderr capture so a chatty
// command with no redirect can't exhaust memory.
type boundedBuffer struct {
	bytes.Buffer
	limit int
	mu    sync.Mutex
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.Buffer.Len() >= b.limit {
		return len(p), nil
	}
	remaining := b.limit - b.Buffer.Len()
	if len(p) > remaining {
		p = p[:remaining]
	}
	return b.Buffer.Write(p)
}

func statsFromBuffers(out, errB *bytes.Buffer) ProcessStats {
	var s ProcessStats
	if out != nil {
		s.StdoutBytes = int64(out.Len())
		s.StdoutLines = bytes.Count(out.Bytes(), []byte("\n"))
	}
	if errB != nil {
		s.StderrBytes = int64(errB.Len())
		s.StderrLines = bytes.Count(errB.Bytes(), []byte("\n"))
	}
	return s
}
