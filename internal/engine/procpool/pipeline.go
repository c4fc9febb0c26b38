package procpool

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/uap-go/uap/internal/engine"
)

// runPipeline launches p's stages chained by OS pipes: stage i's stdout
// feeds stage i+1's stdin. Only the first stage's StdinPath and the
// last stage's StdoutPath are honored; every stage's StderrPath is
// honored for that stage (spec.md §3
// PipelineInfo, §4.3 "stdout of position i is connected to stdin of
// position i+1 via an OS pipe").
func runPipeline(ctx context.Context, dir string, p engine.PipelineInfo, watcher *Watcher) (MemberResult, error) {
	res := MemberResult{Label: p.Label, StartedAt: time.Now()}
	if len(p.Stages) == 0 {
		return res, fmt.Errorf("%w: empty pipeline", engine.ErrConfiguration)
	}

	cmds := make([]*exec.Cmd, len(p.Stages))
	closers := make([]func(), 0, len(p.Stages)*2)
	defer func() {
		for _, c := range closers {
			c()
		}
	}()

	for i, stage := range p.Stages {
		res.Argv = append(res.Argv, stage.Argv)
		res.OKToFail = append(res.OKToFail, stage.OkToFail)
		if len(stage.Argv) == 0 {
			return res, fmt.Errorf("%w: empty pipeline stage argv", engine.ErrConfiguration)
		}
		cmd := exec.CommandContext(ctx, stage.Argv[0], stage.Argv[1:]...)
		cmd.Dir = dir
		setupProcessGroup(cmd)
		armGracefulCancel(cmd)
		cmds[i] = cmd
	}

	if first := p.Stages[0]; first.StdinPath != "" {
		done, err := wireStdin(cmds[0], dir, first.StdinPath)
		if err != nil {
			return res, err
		}
		closers = append(closers, done)
	}

	for i := 0; i < len(cmds)-1; i++ {
		r, w, err := os.Pipe()
		if err != nil {
			return res, fmt.Errorf("%w: creating pipe: %v", engine.ErrEnvironment, err)
		}
		cmds[i].Stdout = w
		cmds[i+1].Stdin = r
		closers = append(closers, func() { _ = w.Close() }, func() { _ = r.Close() })
	}

	last := p.Stages[len(p.Stages)-1]
	outBuf, outClose, err := wireOutput(cmds[len(cmds)-1], dir, last.StdoutPath, last.AppendOut, false)
	if err != nil {
		return res, err
	}
	closers = append(closers, outClose)

	var errBufs []interface{ Len() int }
	for i, stage := range p.Stages {
		buf, done, err := wireOutput(cmds[i], dir, stage.StderrPath, stage.AppendErr, true)
		if err != nil {
			return res, err
		}
		closers = append(closers, done)
		if buf != nil {
			errBufs = append(errBufs, buf)
		}
	}

	for _, cmd := range cmds {
		if err := cmd.Start(); err != nil {
			res.Err = fmt.Errorf("%w: starting %s: %v", engine.ErrExecution, p.Label, err)
			return res, res.Err
		}
		if watcher != nil && cmd.Process != nil {
			watcher.Track(cmd.Process.Pid, p.Label)
		}
	}

	// stdout write-ends must close in this process once the producing
	// command has started, or the consumer never sees EOF.
	for i := 0; i < len(cmds)-1; i++ {
		if wc, ok := cmds[i].Stdout.(*os.File); ok {
			_ = wc.Close()
		}
	}

	res.ExitCodes = make([]int, len(cmds))
	firstFailure := -1
	for i, cmd := range cmds {
		waitErr := cmd.Wait()
		code, signalled, sig := exitOutcome(cmd, waitErr)
		res.ExitCodes[i] = code
		if signalled {
			res.Signalled = true
			res.Signal = sig
		}
		if (code != 0 || signalled) && firstFailure == -1 && !p.Stages[i].OkToFail {
			firstFailure = i
		}
	}
	res.FinishedAt = time.Now()

	stderrTotal := int64(0)
	stderrLines := 0
	for _, b := range errBufs {
		stderrTotal += int64(b.Len())
	}
	res.Stats.StderrBytes = stderrTotal
	res.Stats.StderrLines = stderrLines
	if outBuf != nil {
		res.Stats = statsFromBuffers(outBuf, nil)
		res.Stats.StderrBytes = stderrTotal
	}

	if firstFailure >= 0 {
		res.Err = fmt.Errorf("%w: pipeline %s stage %d (%v) failed: exit %d", engine.ErrExecution, p.Label, firstFailure, p.Stages[firstFailure].Argv, res.ExitCodes[firstFailure])
	}
	return res, nil
}
