// Package sandbox provides isolated execution of AI-generated Python code
// with a strict acquire/execute/release lifecycle.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/mmagent/internal/metrics"
)

// ProvisionError reports a failed sandbox acquisition. No handle exists when
// this error is returned.
type ProvisionError struct {
	TaskID string
	Cause  error
}

func (e *ProvisionError) Error() string {
	return fmt.Sprintf("sandbox provision failed for task %s: %v", e.TaskID, e.Cause)
}

func (e *ProvisionError) Unwrap() error { return e.Cause }

// ExecutionErrorKind classifies execution failures.
type ExecutionErrorKind string

const (
	// KindTimeout means the execution hit the wall-clock limit.
	KindTimeout ExecutionErrorKind = "timeout"
	// KindRuntimeFailure means the interpreter could not be run at all.
	KindRuntimeFailure ExecutionErrorKind = "runtime_failure"
)

// ExecutionError reports an execution that produced no usable result.
// Ordinary script failures (non-zero exit) are reported in the
// ExecutionResult status instead.
type ExecutionError struct {
	Kind   ExecutionErrorKind
	Detail string
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("sandbox execution %s: %s", e.Kind, e.Detail)
}

// ErrReleased is returned when Execute is called after Release.
var ErrReleased = errors.New("sandbox: interpreter already released")

// ExecutionResult is the outcome of one code execution.
type ExecutionResult struct {
	Stdout    string
	Stderr    string
	ExitCode  int
	Success   bool
	Artifacts []string // files created under the work dir, relative paths
	Images    []string // subset of Artifacts with image extensions
	Duration  time.Duration
	Truncated bool
}

// ExecutionBackend runs code. The interpreter owns artifact tracking,
// notebook recording and output truncation; backends only execute.
type ExecutionBackend interface {
	// Provision prepares the backend. Called once, from Acquire.
	Provision(ctx context.Context, taskID, workDir string) error
	// Run executes code with ctx carrying the wall-clock deadline.
	Run(ctx context.Context, code string) (*ExecutionResult, error)
	// Cleanup releases backend resources. Must be safe to call in any
	// state.
	Cleanup() error
	// Name identifies the backend.
	Name() string
}

// Config configures the interpreter.
type Config struct {
	Timeout        time.Duration
	MaxOutputBytes int
}

// Interpreter is the per-run sandbox handle. It is exclusively owned by the
// workflow driver for the run's duration and must not be used after Release.
type Interpreter struct {
	taskID  string
	workDir string
	cfg     Config
	backend ExecutionBackend
	logger  *zap.Logger

	notebook *Notebook

	mu          sync.Mutex
	released    bool
	releaseOnce sync.Once
	releaseErr  error

	stats Stats
}

// Stats tracks execution counts for a run.
type Stats struct {
	Total    int
	Success  int
	Failed   int
	Timeout  int
	Duration time.Duration
}

// Acquire provisions an interpreter bound to taskID and workDir. On failure
// it returns a *ProvisionError and no handle.
func Acquire(ctx context.Context, taskID, workDir string, cfg Config, backend ExecutionBackend, logger *zap.Logger) (*Interpreter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = 1024 * 1024
	}

	if info, err := os.Stat(workDir); err != nil || !info.IsDir() {
		return nil, &ProvisionError{TaskID: taskID, Cause: fmt.Errorf("work dir %s unavailable: %w", workDir, err)}
	}
	if err := backend.Provision(ctx, taskID, workDir); err != nil {
		return nil, &ProvisionError{TaskID: taskID, Cause: err}
	}

	logger.Info("sandbox acquired",
		zap.String("task_id", taskID),
		zap.String("backend", backend.Name()),
		zap.Duration("timeout", cfg.Timeout))

	return &Interpreter{
		taskID:   taskID,
		workDir:  workDir,
		cfg:      cfg,
		backend:  backend,
		logger:   logger,
		notebook: NewNotebook(),
	}, nil
}

// WorkDir returns the interpreter's working directory.
func (i *Interpreter) WorkDir() string { return i.workDir }

// Execute runs code synchronously under the configured wall-clock timeout.
// A timeout returns *ExecutionError{KindTimeout}; a script that runs but
// exits non-zero returns a result with Success=false and a nil error.
func (i *Interpreter) Execute(ctx context.Context, code string) (*ExecutionResult, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.released {
		return nil, ErrReleased
	}

	before, err := snapshotDir(i.workDir)
	if err != nil {
		return nil, fmt.Errorf("snapshot work dir: %w", err)
	}

	execCtx, cancel := context.WithTimeout(ctx, i.cfg.Timeout)
	defer cancel()

	start := time.Now()
	result, runErr := i.backend.Run(execCtx, code)
	elapsed := time.Since(start)

	i.stats.Total++
	i.stats.Duration += elapsed

	if runErr != nil {
		if execCtx.Err() == context.DeadlineExceeded {
			i.stats.Timeout++
			metrics.Default().ObserveSandboxExecution("timeout", elapsed)
			i.notebook.AddCell(code, "", fmt.Sprintf("execution timed out after %s", i.cfg.Timeout))
			return nil, &ExecutionError{Kind: KindTimeout, Detail: fmt.Sprintf("exceeded %s", i.cfg.Timeout)}
		}
		i.stats.Failed++
		metrics.Default().ObserveSandboxExecution("error", elapsed)
		i.notebook.AddCell(code, "", runErr.Error())
		return nil, &ExecutionError{Kind: KindRuntimeFailure, Detail: runErr.Error()}
	}

	result.Duration = elapsed
	i.truncate(result)

	if created, err := snapshotDir(i.workDir); err == nil {
		result.Artifacts, result.Images = diffArtifacts(before, created)
	}

	if result.Success {
		i.stats.Success++
		metrics.Default().ObserveSandboxExecution("ok", elapsed)
	} else {
		i.stats.Failed++
		metrics.Default().ObserveSandboxExecution("failed", elapsed)
	}

	i.notebook.AddCell(code, result.Stdout, result.Stderr)

	i.logger.Debug("sandbox execution finished",
		zap.String("task_id", i.taskID),
		zap.Bool("success", result.Success),
		zap.Int("exit_code", result.ExitCode),
		zap.Int("artifacts", len(result.Artifacts)),
		zap.Duration("duration", elapsed))

	return result, nil
}

// Release tears the sandbox down. It is unconditional, idempotent, and safe
// to call in any state; only the first call does work. The recorded notebook
// is persisted on release.
func (i *Interpreter) Release() error {
	i.releaseOnce.Do(func() {
		i.mu.Lock()
		i.released = true
		i.mu.Unlock()

		if err := i.notebook.Save(filepath.Join(i.workDir, "notebook.ipynb")); err != nil {
			i.logger.Warn("save notebook failed", zap.String("task_id", i.taskID), zap.Error(err))
		}

		i.releaseErr = i.backend.Cleanup()
		i.logger.Info("sandbox released",
			zap.String("task_id", i.taskID),
			zap.Int("executions", i.stats.Total),
			zap.Int("failed", i.stats.Failed))
	})
	return i.releaseErr
}

// Stats returns execution statistics for the run.
func (i *Interpreter) Stats() Stats {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.stats
}

func (i *Interpreter) truncate(result *ExecutionResult) {
	if len(result.Stdout) > i.cfg.MaxOutputBytes {
		result.Stdout = result.Stdout[:i.cfg.MaxOutputBytes]
		result.Truncated = true
	}
	if len(result.Stderr) > i.cfg.MaxOutputBytes {
		result.Stderr = result.Stderr[:i.cfg.MaxOutputBytes]
		result.Truncated = true
	}
}

var imageExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".svg": true,
}

func snapshotDir(dir string) (map[string]bool, error) {
	seen := make(map[string]bool)
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		seen[rel] = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	return seen, nil
}

func diffArtifacts(before, after map[string]bool) (artifacts, images []string) {
	for rel := range after {
		if before[rel] {
			continue
		}
		artifacts = append(artifacts, rel)
		if imageExtensions[strings.ToLower(filepath.Ext(rel))] {
			images = append(images, rel)
		}
	}
	sort.Strings(artifacts)
	sort.Strings(images)
	return artifacts, images
}
