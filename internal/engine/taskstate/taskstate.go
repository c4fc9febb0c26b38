// Package taskstate computes the observable task state of a run from
// its on-disk ping/annotation files, per spec.md §4.4/§4.5. It is read
// by the status and fix-problems subcommands; no part of the execution
// state machine itself depends on it.
package taskstate

import (
	"os"
	"time"

	"github.com/uap-go/uap/internal/engine"
	"github.com/uap-go/uap/internal/engine/annotate"
	"github.com/uap-go/uap/internal/engine/heartbeat"
	"github.com/uap-go/uap/internal/engine/volatile"
	"github.com/uap-go/uap/internal/fscache"
)

// State is one of the observable task states spec.md names.
type State string

const (
	Pending     State = "PENDING"
	Queued      State = "QUEUED"
	Executing   State = "EXECUTING"
	BadStale    State = "BAD (stale)"
	Bad         State = "BAD"
	Finished    State = "FINISHED"
	Changed     State = "CHANGED"
	Volatilized State = "VOLATILIZED"
)

// Observe computes run's current state by reading its ping and
// annotation files from disk.
func Observe(run *engine.Run, cache *fscache.Cache) State {
	executingPath := run.ExecutingPingPath()
	if info, err := os.Stat(executingPath); err == nil {
		if time.Since(info.ModTime()) > heartbeat.PingTimeout {
			return BadStale
		}
		return Executing
	}

	if ann, ok, _ := annotate.Read(run.AnnotationPath()); ok {
		if ann.Error != "" {
			return Bad
		}
		allGood := true
		allVolatile := true
		for path, rec := range ann.KnownPaths {
			if rec.Designation != "output" {
				continue
			}
			if volatile.IsVolatilized(path) {
				continue
			}
			allVolatile = false
			sum, err := cache.SHA256(path)
			if err != nil || sum != rec.SHA256 {
				allGood = false
			}
		}
		switch {
		case !allGood:
			return Changed
		case allVolatile && len(ann.KnownPaths) > 0:
			return Volatilized
		default:
			return Finished
		}
	}

	if _, ok, _ := heartbeat.ReadQueuedPing(run.QueuedPingPath()); ok {
		return Queued
	}
	return Pending
}
