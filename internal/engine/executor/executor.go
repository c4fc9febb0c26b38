// Package executor implements the run executor state machine of
// spec.md §4.4: pre-flight, heartbeat arming, sequential ExecGroup
// execution, post-run integrity checking, concurrent hashing, atomic
// publish, annotation, and teardown.
package executor

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"os/user"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/gofrs/flock"

	"github.com/uap-go/uap/internal/engine"
	"github.com/uap-go/uap/internal/engine/annotate"
	"github.com/uap-go/uap/internal/engine/heartbeat"
	"github.com/uap-go/uap/internal/engine/procpool"
	"github.com/uap-go/uap/internal/engine/volatile"
	"github.com/uap-go/uap/internal/fscache"
)

// Options configures one ExecuteRun call.
type Options struct {
	Force        bool
	Debug        bool
	ClusterJobID string
	FSCache      *fscache.Cache
}

// Result is what ExecuteRun reports back to the DAG driver.
type Result struct {
	Annotation annotate.Annotation
	Skipped    bool // already finished with matching hashes
}

// ExecuteRun runs a single run to completion, or determines it is
// already finished and skips it (spec.md §4.4 Idempotence). Source
// runs — those with no declared ExecGroups — are a degenerate case:
// their "outputs" already exist on disk by construction, so only
// hashing and annotation apply; steps 1-3 and 6 are not meaningful for
// them and are skipped.
func ExecuteRun(ctx context.Context, run *engine.Run, kindName string, opts Options) (Result, error) {
	cache := opts.FSCache
	if cache == nil {
		cache = fscache.New(0)
	}

	if len(run.ExecGroups) == 0 {
		return executeSourceRun(run, kindName, cache)
	}

	if skip, ann, err := checkIdempotence(run, cache, opts.Force); err != nil {
		return Result{}, err
	} else if skip {
		return Result{Annotation: ann, Skipped: true}, nil
	}

	if err := os.MkdirAll(run.OutputDir(), 0o755); err != nil {
		return Result{}, fmt.Errorf("%w: creating output dir: %v", engine.ErrEnvironment, err)
	}

	lockPath := filepath.Join(run.OutputDir(), ".lock")
	fl := flock.New(lockPath)
	locked, err := fl.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil || !locked {
		return Result{}, fmt.Errorf("%w: could not acquire run lock for %s", engine.ErrPreflight, run.TaskID())
	}
	defer fl.Unlock()

	executingPath := run.ExecutingPingPath()
	if err := heartbeat.PreflightCheck(executingPath); err != nil {
		return Result{}, fmt.Errorf("%w: %v", engine.ErrPreflight, err)
	}

	queuedPing, hadQueued, _ := heartbeat.ReadQueuedPing(run.QueuedPingPath())
	clusterJobID := opts.ClusterJobID
	if hadQueued && clusterJobID == "" {
		clusterJobID = queuedPing.ClusterJobID
	}

	startTime := time.Now()
	tempDir := run.TempDir(startTime)
	if err := os.Mkdir(tempDir, 0o755); err != nil {
		return Result{}, fmt.Errorf("%w: creating temp dir %s: %v", engine.ErrPreflight, tempDir, err)
	}

	host, _ := os.Hostname()
	username := "unknown"
	if u, err := user.Current(); err == nil {
		username = u.Username
	}

	hb, err := heartbeat.Arm(ctx, executingPath, heartbeat.ExecutingPing{
		StartTime: startTime, Host: host, PID: os.Getpid(), User: username,
		TempDirectory: tempDir, ClusterJobID: clusterJobID,
	})
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", engine.ErrEnvironment, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	var caughtSignal string
	var sigOnce sync.Once
	go func() {
		select {
		case sig := <-sigCh:
			sigOnce.Do(func() { caughtSignal = signalName(sig) })
			cancel()
		case <-runCtx.Done():
		}
	}()

	var groups []procpool.GroupResult
	var runErr error
	for _, g := range run.ExecGroups {
		gr, err := procpool.RunGroup(runCtx, tempDir, g)
		groups = append(groups, gr)
		if err != nil {
			runErr = err
			break
		}
		if gr.Failed() {
			runErr = gr.FirstError()
			break
		}
	}

	signal.Stop(sigCh)
	cancel()
	hb.Stop()

	if caughtSignal != "" && runErr == nil {
		runErr = fmt.Errorf("%w: run cancelled by %s", engine.ErrCancellation, caughtSignal)
	}

	var toBeMoved map[string]string
	if runErr == nil {
		toBeMoved, runErr = checkAnnouncedOutputs(run, tempDir)
	}

	if runErr == nil {
		runErr = hashAndPublish(runCtx, run, toBeMoved, cache)
	}

	endTime := time.Now()
	ann := annotate.FromRun(run, kindName, host, startTime, endTime, clusterJobID, caughtSignal, groups, runErr)

	annErr := annotate.Write(run.AnnotationPath(), ann)
	if annErr != nil && runErr == nil {
		runErr = annErr
	}

	teardown(run, executingPath, tempDir, runErr != nil, opts.Debug)

	if runErr != nil {
		return Result{Annotation: ann}, runErr
	}
	return Result{Annotation: ann}, nil
}

// signalName canonicalizes the signals ExecuteRun listens for to the
// names spec.md §5/E2E-4 expect in the annotation (os.Signal.String()
// gives "terminated"/"interrupt" on Linux, not "SIGTERM"/"SIGINT").
func signalName(sig os.Signal) string {
	switch sig {
	case syscall.SIGTERM:
		return "SIGTERM"
	case syscall.SIGINT:
		return "SIGINT"
	default:
		return sig.String()
	}
}

// checkIdempotence implements spec.md §4.4 Idempotence: a finished run
// whose existing outputs all still match the annotated hash is skipped;
// otherwise it is refused unless Force, in which case the prior outputs
// and annotation are unlinked before the caller proceeds.
func checkIdempotence(run *engine.Run, cache *fscache.Cache, force bool) (bool, annotate.Annotation, error) {
	ann, ok, err := annotate.Read(run.AnnotationPath())
	if err != nil {
		return false, annotate.Annotation{}, err
	}
	if !ok {
		return false, annotate.Annotation{}, nil
	}

	matches := true
	for path, rec := range ann.KnownPaths {
		if rec.Designation != "output" {
			continue
		}
		sum, err := cache.SHA256(path)
		if err != nil || sum != rec.SHA256 {
			matches = false
			break
		}
	}
	if matches {
		return true, ann, nil
	}
	if !force {
		return false, annotate.Annotation{}, fmt.Errorf("%w: run %s has changed outputs; rerun with --force", engine.ErrPreflight, run.TaskID())
	}
	for path, rec := range ann.KnownPaths {
		if rec.Designation == "output" {
			_ = os.Remove(path)
		}
	}
	_ = os.Remove(run.AnnotationPath())
	return false, annotate.Annotation{}, nil
}

// checkAnnouncedOutputs verifies every declared output basename exists
// under tempDir (spec.md §4.4 step 4) and returns the temp->final move
// table.
func checkAnnouncedOutputs(run *engine.Run, tempDir string) (map[string]string, error) {
	toBeMoved := make(map[string]string)
	for _, basename := range run.OutputBasenames() {
		tempPath := filepath.Join(tempDir, basename)
		if _, err := os.Stat(tempPath); err != nil {
			return nil, fmt.Errorf("%w: announced output %q missing from %s", engine.ErrIntegrity, basename, tempDir)
		}
		toBeMoved[tempPath] = filepath.Join(run.OutputDir(), basename)
	}
	return toBeMoved, nil
}

// hashAndPublish computes SHA-256 for every to-be-moved path (bounded
// concurrency), records it in known_paths, then atomically renames temp
// paths to their final location, removing any stale volatile
// placeholder first (spec.md §4.4 steps 5-6).
func hashAndPublish(ctx context.Context, run *engine.Run, toBeMoved map[string]string, cache *fscache.Cache) error {
	const maxConcurrentHashes = 4
	sem := make(chan struct{}, maxConcurrentHashes)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for tempPath, finalPath := range toBeMoved {
		wg.Add(1)
		sem <- struct{}{}
		go func(tempPath, finalPath string) {
			defer wg.Done()
			defer func() { <-sem }()

			select {
			case <-ctx.Done():
				mu.Lock()
				if firstErr == nil {
					firstErr = fmt.Errorf("%w: hashing cancelled", engine.ErrCancellation)
				}
				mu.Unlock()
				return
			default:
			}

			sum, err := cache.SHA256(tempPath)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("%w: hashing %s: %v", engine.ErrIntegrity, tempPath, err)
				}
				return
			}
			if info, ok := run.KnownPaths[finalPath]; ok {
				info.SHA256 = sum
				if st, statErr := os.Stat(tempPath); statErr == nil {
					info.Size = st.Size()
					info.SizeSet = true
					info.ModTime = st.ModTime()
					info.ModTimeSet = true
				}
			}
		}(tempPath, finalPath)
	}
	wg.Wait()
	if firstErr != nil {
		return firstErr
	}

	for tempPath, finalPath := range toBeMoved {
		if volatile.IsVolatilized(finalPath) {
			_ = os.Remove(volatile.PlaceholderPath(finalPath))
		}
		if err := os.Rename(tempPath, finalPath); err != nil {
			return fmt.Errorf("%w: publishing %s: %v", engine.ErrIntegrity, finalPath, err)
		}
	}
	return nil
}

// teardown removes the executing-ping and attempts best-effort cleanup
// of the temp directory (spec.md §4.4 step 8).
func teardown(run *engine.Run, executingPath, tempDir string, failed, debug bool) {
	_ = heartbeat.Finish(executingPath)

	queuedPath := run.QueuedPingPath()
	if failed {
		_ = heartbeat.MarkBad(queuedPath, debug)
	} else {
		_ = os.Remove(queuedPath)
	}

	_ = os.Remove(tempDir)
	_ = os.Remove(filepath.Dir(tempDir))
}

// executeSourceRun handles a run with no ExecGroups: its declared
// outputs are pre-existing files, so only hashing and annotation apply.
func executeSourceRun(run *engine.Run, kindName string, cache *fscache.Cache) (Result, error) {
	host, _ := os.Hostname()
	start := time.Now()
	for path, info := range run.KnownPaths {
		if info.Designation != engine.DesignationOutput {
			continue
		}
		sum, err := cache.SHA256(path)
		if err != nil {
			return Result{}, fmt.Errorf("%w: hashing source output %s: %v", engine.ErrIntegrity, path, err)
		}
		info.SHA256 = sum
		if st, statErr := os.Stat(path); statErr == nil {
			info.Size = st.Size()
			info.SizeSet = true
			info.ModTime = st.ModTime()
			info.ModTimeSet = true
		}
	}
	end := time.Now()
	ann := annotate.FromRun(run, kindName, host, start, end, "", "", nil, nil)
	if err := os.MkdirAll(run.OutputDir(), 0o755); err != nil {
		return Result{}, fmt.Errorf("%w: %v", engine.ErrEnvironment, err)
	}
	if err := annotate.Write(run.AnnotationPath(), ann); err != nil {
		return Result{}, err
	}
	return Result{Annotation: ann}, nil
}
