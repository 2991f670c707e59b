package workflow

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/mmagent/agent"
	"github.com/BaSui01/mmagent/config"
	"github.com/BaSui01/mmagent/internal/channel"
	"github.com/BaSui01/mmagent/internal/metrics"
	"github.com/BaSui01/mmagent/llm"
	"github.com/BaSui01/mmagent/sandbox"
)

// State of the workflow state machine.
type State string

const (
	StateStaging      State = "staging"
	StateDecomposing  State = "decomposing"
	StateFormulating  State = "formulating"
	StateProvisioning State = "provisioning"
	StateSolving      State = "solving"
	StateWriting      State = "writing"
	StateFinalizing   State = "finalizing"
	StateDone         State = "done"
	StateFailed       State = "failed"
)

// Problem is the immutable input record of one run.
type Problem struct {
	TaskID  string
	QuesAll string
}

// Providers carries one llm.Provider per agent role.
type Providers struct {
	Coordinator llm.Provider
	Modeler     llm.Provider
	Coder       llm.Provider
	Writer      llm.Provider
}

// Workflow drives one run end to end: stage inputs, decompose, formulate,
// provision the sandbox, solve each subtask (coder then writer), release the
// sandbox, write the document-level sections, persist the aggregate.
//
// Failure policy: coordinator, modeler and sandbox provisioning failures are
// fatal, since they invalidate the whole plan. Once subtasks are executing, each
// one is independent: writer failures and degraded coder results are logged
// and skipped so already-completed work is never discarded.
type Workflow struct {
	cfg       *config.Config
	providers Providers
	backend   sandbox.ExecutionBackend
	searcher  agent.LiteratureSearcher
	publisher channel.Publisher
	logger    *zap.Logger

	state      State
	failReason string
}

// New creates a workflow. searcher may be nil (citations are skipped) and
// publisher may be nil (progress is discarded).
func New(cfg *config.Config, providers Providers, backend sandbox.ExecutionBackend, searcher agent.LiteratureSearcher, publisher channel.Publisher, logger *zap.Logger) *Workflow {
	if logger == nil {
		logger = zap.NewNop()
	}
	if publisher == nil {
		publisher = channel.NopPublisher{}
	}
	return &Workflow{
		cfg:       cfg,
		providers: providers,
		backend:   backend,
		searcher:  searcher,
		publisher: publisher,
		logger:    logger,
		state:     StateStaging,
	}
}

// State returns the current state.
func (w *Workflow) State() State { return w.state }

// FailReason returns the cause recorded when the state is StateFailed.
func (w *Workflow) FailReason() string { return w.failReason }

func (w *Workflow) setState(ctx context.Context, taskID string, s State) {
	w.state = s
	w.logger.Info("workflow state", zap.String("task_id", taskID), zap.String("state", string(s)))
	_ = w.publisher.Publish(ctx, channel.SystemMessage(taskID, "state: "+string(s)))
}

func (w *Workflow) fail(ctx context.Context, taskID, reason string, err error) error {
	w.state = StateFailed
	w.failReason = reason
	w.logger.Error("workflow failed",
		zap.String("task_id", taskID),
		zap.String("reason", reason),
		zap.Error(err))
	_ = w.publisher.Publish(ctx, channel.SystemMessage(taskID, "failed: "+reason))
	return fmt.Errorf("%s: %w", reason, err)
}

// Execute runs the whole pipeline for problem, staging auxiliary inputs from
// problemDir. It returns the aggregate document; on fatal failures the
// returned aggregate holds whatever was completed before the failure.
func (w *Workflow) Execute(ctx context.Context, problem Problem, problemDir string) (*UserOutput, error) {
	taskID := problem.TaskID

	// Staging.
	workDir, err := CreateWorkDir(w.cfg.Output.RootDir, taskID)
	if err != nil {
		return nil, w.fail(ctx, taskID, "create work dir", err)
	}
	output := NewUserOutput(workDir, w.logger)

	staged, err := StageInputs(problemDir, workDir)
	if err != nil {
		return output, w.fail(ctx, taskID, "stage inputs", err)
	}
	w.logger.Info("inputs staged",
		zap.String("task_id", taskID),
		zap.Strings("staged", staged))

	// Decomposing.
	w.setState(ctx, taskID, StateDecomposing)
	coordinator := agent.NewCoordinatorAgent(taskID, w.providers.Coordinator, &w.cfg.Coordinator, w.publisher, w.logger)
	decomp, err := coordinator.Run(ctx, problem.QuesAll)
	if err != nil {
		return output, w.fail(ctx, taskID, "coordinator", err)
	}

	// Formulating.
	w.setState(ctx, taskID, StateFormulating)
	modeler := agent.NewModelerAgent(taskID, w.providers.Modeler, &w.cfg.Modeler, w.publisher, w.logger)
	formulation, err := modeler.Run(ctx, decomp)
	if err != nil {
		return output, w.fail(ctx, taskID, "modeler", err)
	}

	// Provisioning. No partial handle exists when acquisition fails.
	w.setState(ctx, taskID, StateProvisioning)
	interp, err := sandbox.Acquire(ctx, taskID, workDir, sandbox.Config{
		Timeout:        w.cfg.Sandbox.Timeout,
		MaxOutputBytes: w.cfg.Sandbox.MaxOutputBytes,
	}, w.backend, w.logger)
	if err != nil {
		return output, w.fail(ctx, taskID, "sandbox provisioning", err)
	}
	// Release is idempotent; the defer guarantees teardown on every exit
	// path after acquisition, the explicit call below does it before the
	// write phase on the normal path.
	defer interp.Release()

	coder := agent.NewCoderAgent(taskID, w.providers.Coder, &w.cfg.Coder, interp, w.cfg.Workflow, w.publisher, w.logger)
	writer := agent.NewWriterAgent(taskID, w.providers.Writer, &w.cfg.Writer, w.searcher, w.publisher, w.logger)

	flows := NewFlows(decomp)
	plans := flows.GetSolutionFlows(formulation)

	// Solving, in decomposition order.
	w.setState(ctx, taskID, StateSolving)
	for _, plan := range plans {
		if err := w.solveSubtask(ctx, plan, coder, writer, flows, output); err != nil {
			// Context cancellation is the only error that aborts the
			// solve loop; everything else is per-subtask degradation.
			_ = interp.Release()
			return output, w.fail(ctx, taskID, "solve "+plan.Label, err)
		}
	}

	// The sandbox is released before the write phase begins, exactly once.
	if err := interp.Release(); err != nil {
		w.logger.Warn("sandbox release", zap.String("task_id", taskID), zap.Error(err))
	}

	w.logger.Info("solve phase complete",
		zap.String("task_id", taskID),
		zap.Int("sections", output.Len()))

	// Writing, in fixed template order.
	w.setState(ctx, taskID, StateWriting)
	for _, section := range flows.GetWriteFlows(output, problem.QuesAll) {
		res, err := writer.Run(ctx, agent.WriteRequest{
			Label:         section.Label,
			Prompt:        section.Prompt,
			WithCitations: section.WithCitations,
			CitationQuery: CitationQuery(problem.QuesAll),
		})
		if err != nil {
			if ctx.Err() != nil {
				return output, w.fail(ctx, taskID, "write "+section.Label, ctx.Err())
			}
			// A single section's failure never blocks the remaining
			// sections.
			metrics.Default().IncSection("failed")
			w.logger.Warn("section failed, continuing",
				zap.String("task_id", taskID),
				zap.String("label", section.Label),
				zap.Error(err))
			continue
		}
		metrics.Default().IncSection("ok")
		output.SetRes(section.Label, res)
	}

	// Finalizing.
	w.setState(ctx, taskID, StateFinalizing)
	if err := output.SaveResult(); err != nil {
		return output, w.fail(ctx, taskID, "persist aggregate", err)
	}

	w.setState(ctx, taskID, StateDone)
	return output, nil
}

// solveSubtask runs coder then writer for one subtask. Only context
// cancellation is returned as an error; agent failures degrade the subtask
// and leave the rest of the run untouched.
func (w *Workflow) solveSubtask(ctx context.Context, plan SubtaskPlan, coder *agent.CoderAgent, writer *agent.WriterAgent, flows *Flows, output *UserOutput) error {
	coderRes, err := coder.Run(ctx, plan.CoderPrompt, plan.Label)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		metrics.Default().IncSubtask("coder_failed")
		w.logger.Warn("coder failed, skipping subtask",
			zap.String("label", plan.Label),
			zap.Error(err))
		return nil
	}
	if coderRes.Degraded {
		metrics.Default().IncSubtask("degraded")
	} else {
		metrics.Default().IncSubtask("ok")
	}

	prompt, err := flows.GetWriterPrompt(plan, coderRes)
	if err != nil {
		w.logger.Warn("writer prompt build failed, skipping section",
			zap.String("label", plan.Label),
			zap.Error(err))
		return nil
	}

	writerRes, err := writer.Run(ctx, agent.WriteRequest{
		Label:           plan.Label,
		Prompt:          prompt,
		AvailableImages: coderRes.CreatedImages,
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// Writer failure is logged but the remaining subtasks proceed.
		w.logger.Warn("writer failed for subtask, continuing",
			zap.String("label", plan.Label),
			zap.Error(err))
		return nil
	}

	output.SetRes(plan.Label, writerRes)
	return nil
}
