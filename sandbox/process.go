package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"go.uber.org/zap"
)

// ProcessBackend runs Python code as local subprocesses inside the task
// working directory. Each execution writes the code to a numbered cell file
// and invokes the configured interpreter on it. Cell files live in a scratch
// directory outside the work dir so they never show up in the artifact diff.
type ProcessBackend struct {
	pythonBin  string
	workDir    string
	scratchDir string
	logger     *zap.Logger
	cellSeq    int
}

// NewProcessBackend creates a process execution backend.
func NewProcessBackend(pythonBin string, logger *zap.Logger) *ProcessBackend {
	if pythonBin == "" {
		pythonBin = "python3"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProcessBackend{pythonBin: pythonBin, logger: logger}
}

// Name identifies the backend.
func (b *ProcessBackend) Name() string { return "process" }

// Provision verifies the interpreter binary is available and creates the
// scratch directory for cell files.
func (b *ProcessBackend) Provision(ctx context.Context, taskID, workDir string) error {
	path, err := exec.LookPath(b.pythonBin)
	if err != nil {
		return fmt.Errorf("python interpreter %q not found: %w", b.pythonBin, err)
	}
	scratch, err := os.MkdirTemp("", "mmagent-cells-")
	if err != nil {
		return fmt.Errorf("create cell scratch dir: %w", err)
	}
	b.pythonBin = path
	b.workDir = workDir
	b.scratchDir = scratch
	b.logger.Debug("process backend provisioned",
		zap.String("task_id", taskID),
		zap.String("python", path))
	return nil
}

// Run executes one code cell. Script failures surface as Success=false with
// captured stderr; failing to start the interpreter at all is an error.
func (b *ProcessBackend) Run(ctx context.Context, code string) (*ExecutionResult, error) {
	b.cellSeq++
	cellPath := filepath.Join(b.scratchDir, fmt.Sprintf("cell_%d.py", b.cellSeq))
	if err := os.WriteFile(cellPath, []byte(code), 0o644); err != nil {
		return nil, fmt.Errorf("write cell file: %w", err)
	}

	cmd := exec.CommandContext(ctx, b.pythonBin, cellPath)
	cmd.Dir = b.workDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	// Deadline hits surface through the interpreter as timeout errors.
	if ctx.Err() == context.DeadlineExceeded {
		return nil, ctx.Err()
	}

	result := &ExecutionResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if err == nil {
		result.Success = true
		return result, nil
	}

	if exitErr, ok := err.(*exec.ExitError); ok {
		result.ExitCode = exitErr.ExitCode()
		return result, nil
	}

	return nil, fmt.Errorf("run %s: %w", b.pythonBin, err)
}

// Cleanup removes the scratch directory and the cell files in it. Safe to
// call even when provisioning failed.
func (b *ProcessBackend) Cleanup() error {
	if b.scratchDir == "" {
		return nil
	}
	return os.RemoveAll(b.scratchDir)
}
