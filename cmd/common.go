// Copyright (C) 2024 The Dagu Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/uap-go/uap/internal/engine"
	"github.com/uap-go/uap/internal/engineconfig"
	"github.com/uap-go/uap/internal/engine/executor"
	"github.com/uap-go/uap/internal/engine/scheduler"
	"github.com/uap-go/uap/internal/fscache"
	"github.com/uap-go/uap/internal/xlog"
)

// setup wires one CLI invocation's shared state: the loaded pipeline,
// a process-wide fscache, and a context carrying the configured logger.
type setup struct {
	Pipeline *engine.Pipeline
	Doc      *engineconfig.Document
	Cache    *fscache.Cache
	Logger   xlog.Logger
}

func newSetup() (*setup, context.Context, error) {
	if err := requireConfigPath(); err != nil {
		return nil, nil, err
	}

	var opts []xlog.Option
	if flags.debugging || flags.verbose {
		opts = append(opts, xlog.WithDebug())
	}
	logger := xlog.NewLogger(opts...)
	ctx := xlog.WithLogger(context.Background(), logger)
	ctx, cancel := context.WithCancel(ctx)
	listenSignals(ctx, abortOnSignal(cancel))

	p, doc, err := engineconfig.Load(flags.configPath, engineconfig.LoadOptions{NoToolChecks: flags.noToolChecks})
	if err != nil {
		cancel()
		return nil, nil, err
	}

	return &setup{Pipeline: p, Doc: doc, Cache: fscache.New(0), Logger: logger}, ctx, nil
}

// abortOnSignal adapts a cancel func to signalListener: the first
// SIGTERM/SIGINT this process sees cancels every in-flight run's
// context, letting the process pool's own graceful-then-hard-kill
// sequence (internal/engine/procpool) take over from there.
type abortOnSignal context.CancelFunc

func (a abortOnSignal) Signal(os.Signal) { a() }

// localDispatch adapts executor.ExecuteRun to scheduler.Dispatch.
func (s *setup) localDispatch(force bool) scheduler.Dispatch {
	return func(ctx context.Context, run *engine.Run, kindName string) error {
		start := time.Now()
		res, err := executor.ExecuteRun(ctx, run, kindName, executor.Options{
			Force: force, Debug: flags.debugging, FSCache: s.Cache,
		})
		host, _ := os.Hostname()
		printOutcome(run.TaskID(), host, time.Since(start), res.Skipped, err)
		return err
	}
}

// printOutcome emits the single trailing summary line spec.md §7
// requires per run: "[BAD] <step>/<run> failed on <host> after
// <duration>" or a matching "[OK] ..." line.
func printOutcome(taskID, host string, elapsed time.Duration, skipped bool, err error) {
	if err != nil {
		fmt.Printf("[BAD] %s failed on %s after %s: %v\n", taskID, host, elapsed.Round(time.Millisecond), err)
		return
	}
	if skipped {
		fmt.Printf("[OK] %s already finished, skipped\n", taskID)
		return
	}
	fmt.Printf("[OK] %s finished on %s in %s\n", taskID, host, elapsed.Round(time.Millisecond))
}

// clusterJobQuota builds the step-name -> quota map Execute needs from
// the loaded document's raw steps table.
func clusterJobQuota(doc *engineconfig.Document) map[string]int {
	quota := make(map[string]int)
	for _, item := range doc.Steps {
		name, ok := item.Key.(string)
		if !ok {
			continue
		}
		fields, ok := item.Value.(map[string]any)
		if !ok {
			continue
		}
		if q := engineconfig.ClusterJobQuota(fields); q > 0 {
			quota[name] = q
		}
	}
	return quota
}

// binaryPath resolves this executable's own path, for submit scripts
// that re-enter run-locally.
func binaryPath() string {
	p, err := os.Executable()
	if err != nil {
		return os.Args[0]
	}
	return p
}

// exitNonZero reports err (if any) and exits 1, matching spec.md §6
// "Exit code is 0 on success, 1 on any engine failure; the UI prints a
// single trailing error line and, with --debugging, a trace."
func exitNonZero(err error) {
	if err == nil {
		return
	}
	if flags.debugging {
		fmt.Printf("Error: %+v\n", err)
	} else {
		fmt.Printf("Error: %v\n", err)
	}
	os.Exit(1)
}
