package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBackend scripts Run behavior per call and records lifecycle calls.
type fakeBackend struct {
	provisionErr error
	runs         []func(ctx context.Context, code string) (*ExecutionResult, error)
	runCount     int
	cleanups     int
	provisioned  bool
}

func (f *fakeBackend) Provision(ctx context.Context, taskID, workDir string) error {
	f.provisioned = true
	return f.provisionErr
}

func (f *fakeBackend) Run(ctx context.Context, code string) (*ExecutionResult, error) {
	if f.runCount < len(f.runs) {
		fn := f.runs[f.runCount]
		f.runCount++
		return fn(ctx, code)
	}
	f.runCount++
	return &ExecutionResult{Stdout: "ok", Success: true}, nil
}

func (f *fakeBackend) Cleanup() error { f.cleanups++; return nil }
func (f *fakeBackend) Name() string   { return "fake" }

func acquireTest(t *testing.T, backend ExecutionBackend, cfg Config) *Interpreter {
	t.Helper()
	interp, err := Acquire(context.Background(), "t1", t.TempDir(), cfg, backend, nil)
	require.NoError(t, err)
	return interp
}

func TestAcquireProvisionFailure(t *testing.T) {
	backend := &fakeBackend{provisionErr: errors.New("no interpreter available")}
	interp, err := Acquire(context.Background(), "t1", t.TempDir(), Config{}, backend, nil)

	require.Nil(t, interp)
	var provErr *ProvisionError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, "t1", provErr.TaskID)
	assert.ErrorContains(t, provErr, "no interpreter available")
}

func TestAcquireMissingWorkDir(t *testing.T) {
	backend := &fakeBackend{}
	_, err := Acquire(context.Background(), "t1", filepath.Join(t.TempDir(), "absent"), Config{}, backend, nil)

	var provErr *ProvisionError
	require.ErrorAs(t, err, &provErr)
	// The backend must not be touched when the work dir check fails.
	assert.False(t, backend.provisioned)
}

func TestExecuteSuccessAndFailureStats(t *testing.T) {
	backend := &fakeBackend{runs: []func(ctx context.Context, code string) (*ExecutionResult, error){
		func(ctx context.Context, code string) (*ExecutionResult, error) {
			return &ExecutionResult{Stdout: "done", Success: true}, nil
		},
		func(ctx context.Context, code string) (*ExecutionResult, error) {
			return &ExecutionResult{Stderr: "Traceback: ValueError", ExitCode: 1, Success: false}, nil
		},
	}}
	interp := acquireTest(t, backend, Config{})
	defer interp.Release()

	res, err := interp.Execute(context.Background(), "print('done')")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "done", res.Stdout)

	// A script that runs but fails is a result, not an error.
	res, err = interp.Execute(context.Background(), "raise ValueError")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, 1, res.ExitCode)
	assert.Contains(t, res.Stderr, "ValueError")

	stats := interp.Stats()
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Success)
	assert.Equal(t, 1, stats.Failed)
}

func TestExecuteTimeout(t *testing.T) {
	backend := &fakeBackend{runs: []func(ctx context.Context, code string) (*ExecutionResult, error){
		func(ctx context.Context, code string) (*ExecutionResult, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}}
	interp := acquireTest(t, backend, Config{Timeout: 50 * time.Millisecond})
	defer interp.Release()

	_, err := interp.Execute(context.Background(), "while True: pass")
	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, KindTimeout, execErr.Kind)
	assert.Equal(t, 1, interp.Stats().Timeout)
}

func TestExecuteRuntimeFailure(t *testing.T) {
	backend := &fakeBackend{runs: []func(ctx context.Context, code string) (*ExecutionResult, error){
		func(ctx context.Context, code string) (*ExecutionResult, error) {
			return nil, errors.New("interpreter crashed")
		},
	}}
	interp := acquireTest(t, backend, Config{})
	defer interp.Release()

	_, err := interp.Execute(context.Background(), "print(1)")
	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, KindRuntimeFailure, execErr.Kind)
}

func TestExecuteArtifactDiff(t *testing.T) {
	var workDir string
	backend := &fakeBackend{runs: []func(ctx context.Context, code string) (*ExecutionResult, error){
		func(ctx context.Context, code string) (*ExecutionResult, error) {
			require.NoError(t, os.WriteFile(filepath.Join(workDir, "plot.png"), []byte("png"), 0o644))
			require.NoError(t, os.WriteFile(filepath.Join(workDir, "result.csv"), []byte("a,b"), 0o644))
			return &ExecutionResult{Success: true}, nil
		},
	}}

	workDir = t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(workDir, "data_file_1.csv"), []byte("x"), 0o644))

	interp, err := Acquire(context.Background(), "t1", workDir, Config{}, backend, nil)
	require.NoError(t, err)
	defer interp.Release()

	res, err := interp.Execute(context.Background(), "plot()")
	require.NoError(t, err)
	// Pre-existing inputs are not artifacts.
	assert.Equal(t, []string{"plot.png", "result.csv"}, res.Artifacts)
	assert.Equal(t, []string{"plot.png"}, res.Images)
}

func TestExecuteTruncation(t *testing.T) {
	big := make([]byte, 100)
	for i := range big {
		big[i] = 'x'
	}
	backend := &fakeBackend{runs: []func(ctx context.Context, code string) (*ExecutionResult, error){
		func(ctx context.Context, code string) (*ExecutionResult, error) {
			return &ExecutionResult{Stdout: string(big), Success: true}, nil
		},
	}}
	interp := acquireTest(t, backend, Config{MaxOutputBytes: 10})
	defer interp.Release()

	res, err := interp.Execute(context.Background(), "print('x'*100)")
	require.NoError(t, err)
	assert.Len(t, res.Stdout, 10)
	assert.True(t, res.Truncated)
}

func TestReleaseIdempotent(t *testing.T) {
	backend := &fakeBackend{}
	interp := acquireTest(t, backend, Config{})

	require.NoError(t, interp.Release())
	require.NoError(t, interp.Release())
	assert.Equal(t, 1, backend.cleanups)

	_, err := interp.Execute(context.Background(), "print(1)")
	assert.ErrorIs(t, err, ErrReleased)
}

func TestReleaseSavesNotebook(t *testing.T) {
	workDir := t.TempDir()
	backend := &fakeBackend{}
	interp, err := Acquire(context.Background(), "t1", workDir, Config{}, backend, nil)
	require.NoError(t, err)

	_, err = interp.Execute(context.Background(), "print('hello')")
	require.NoError(t, err)
	require.NoError(t, interp.Release())

	data, err := os.ReadFile(filepath.Join(workDir, "notebook.ipynb"))
	require.NoError(t, err)

	var nb map[string]any
	require.NoError(t, json.Unmarshal(data, &nb))
	assert.EqualValues(t, 4, nb["nbformat"])
	cells, ok := nb["cells"].([]any)
	require.True(t, ok)
	assert.Len(t, cells, 1)
}
