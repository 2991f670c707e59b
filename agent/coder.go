package agent

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/mmagent/config"
	"github.com/BaSui01/mmagent/internal/channel"
	"github.com/BaSui01/mmagent/internal/metrics"
	"github.com/BaSui01/mmagent/llm"
	"github.com/BaSui01/mmagent/sandbox"
)

const coderSystemPrompt = `You are the coder of a mathematical modeling team.
You solve one subtask at a time by writing Python code that runs in a
sandboxed working directory. Data files staged for the problem are in the
current directory. Save any plots as image files instead of showing them.

Reply with exactly one fenced code block:

` + "```python" + `
# your code
` + "```" + `

When asked to summarize results, reply with plain text and no code block.`

// CodeRunner is the slice of the sandbox lifecycle the coder needs. The
// handle itself stays owned by the workflow driver.
type CodeRunner interface {
	Execute(ctx context.Context, code string) (*sandbox.ExecutionResult, error)
	WorkDir() string
}

// CoderResult is the per-subtask coding outcome. Retry exhaustion is a
// signaled outcome (Degraded=true), never an error.
type CoderResult struct {
	Subtask       string
	Code          string
	CodeResponse  string
	CreatedImages []string
	Artifacts     []string
	Stdout        string
	Success       bool
	Degraded      bool
	Retries       int
	Turns         int
}

// CoderAgent generates code, executes it in the sandbox and revises it on
// failure, bounded by MaxRetries failed executions and MaxChatTurns model
// calls per subtask.
type CoderAgent struct {
	taskID    string
	provider  llm.Provider
	role      *config.RoleConfig
	runner    CodeRunner
	wf        config.WorkflowConfig
	tokenizer *llm.Tokenizer
	publisher channel.Publisher
	logger    *zap.Logger

	// historyBudget caps the chat history tokens before each model call.
	historyBudget int
}

// NewCoderAgent creates a coder adapter bound to a sandbox runner.
func NewCoderAgent(taskID string, provider llm.Provider, role *config.RoleConfig, runner CodeRunner, wf config.WorkflowConfig, publisher channel.Publisher, logger *zap.Logger) *CoderAgent {
	if logger == nil {
		logger = zap.NewNop()
	}
	if publisher == nil {
		publisher = channel.NopPublisher{}
	}
	return &CoderAgent{
		taskID:        taskID,
		provider:      provider,
		role:          role,
		runner:        runner,
		wf:            wf,
		tokenizer:     llm.NewTokenizer(role.Model),
		publisher:     publisher,
		logger:        logger,
		historyBudget: 48000,
	}
}

// Run solves one subtask. It returns an error only when not a single model
// call could be completed; every other outcome, including retry exhaustion,
// is a returned CoderResult.
func (a *CoderAgent) Run(ctx context.Context, prompt, subtask string) (*CoderResult, error) {
	result := &CoderResult{Subtask: subtask}

	history := []llm.Message{
		{Role: llm.RoleSystem, Content: coderSystemPrompt},
		{Role: llm.RoleUser, Content: prompt},
	}

	for result.Turns < a.wf.MaxChatTurns {
		history = trimHistory(history, a.tokenizer, a.historyBudget)

		resp, err := a.provider.Completion(ctx, &llm.ChatRequest{
			Model:       a.role.Model,
			Temperature: a.role.Temperature,
			MaxTokens:   a.role.MaxTokens,
			Messages:    history,
		})
		result.Turns++
		if err != nil {
			if result.Turns == 1 {
				return nil, fmt.Errorf("coder completion for %s: %w", subtask, err)
			}
			a.logger.Warn("coder completion failed mid-subtask, degrading",
				zap.String("subtask", subtask), zap.Error(err))
			return a.degrade(ctx, result), nil
		}

		text := resp.Content()
		history = append(history, llm.Message{Role: llm.RoleAssistant, Content: text})

		code, ok := extractPythonCode(text)
		if !ok {
			if result.Success {
				// Post-success summary turn.
				result.CodeResponse = text
				return a.finish(ctx, result), nil
			}
			if failed := a.recordFailure(result, "response contained no python code block"); failed {
				return a.degrade(ctx, result), nil
			}
			history = append(history, llm.Message{Role: llm.RoleUser,
				Content: "Your reply did not contain a python code block. Reply with exactly one fenced ```python block."})
			continue
		}

		execRes, execErr := a.runner.Execute(ctx, code)
		switch {
		case execErr != nil:
			var execFailure *sandbox.ExecutionError
			detail := execErr.Error()
			if !errors.As(execErr, &execFailure) && ctx.Err() != nil {
				// The run itself is being torn down; nothing to revise.
				return nil, ctx.Err()
			}
			if failed := a.recordFailure(result, detail); failed {
				return a.degrade(ctx, result), nil
			}
			history = append(history, llm.Message{Role: llm.RoleUser,
				Content: fmt.Sprintf("Execution failed:\n%s\nRevise the code and reply with a corrected ```python block.", detail)})

		case !execRes.Success:
			detail := execRes.Stderr
			if detail == "" {
				detail = fmt.Sprintf("exit code %d", execRes.ExitCode)
			}
			if failed := a.recordFailure(result, detail); failed {
				return a.degrade(ctx, result), nil
			}
			history = append(history, llm.Message{Role: llm.RoleUser,
				Content: fmt.Sprintf("Execution failed:\n%s\nRevise the code and reply with a corrected ```python block.", detail)})

		default:
			result.Success = true
			result.Code = code
			result.Stdout = execRes.Stdout
			result.CreatedImages = append(result.CreatedImages, execRes.Images...)
			result.Artifacts = append(result.Artifacts, execRes.Artifacts...)
			result.CodeResponse = execRes.Stdout

			if result.Turns >= a.wf.MaxChatTurns {
				return a.finish(ctx, result), nil
			}
			history = append(history, llm.Message{Role: llm.RoleUser,
				Content: fmt.Sprintf("Execution succeeded. Output:\n%s\nSummarize the numerical results and conclusions for this subtask in plain text.", execRes.Stdout)})
		}
	}

	if result.Success {
		return a.finish(ctx, result), nil
	}
	return a.degrade(ctx, result), nil
}

// recordFailure books one failed execution round. It returns true when the
// retry budget is exhausted.
func (a *CoderAgent) recordFailure(result *CoderResult, detail string) bool {
	result.Retries++
	metrics.Default().IncCoderRetry()
	a.logger.Debug("coder execution round failed",
		zap.String("subtask", result.Subtask),
		zap.Int("retries", result.Retries),
		zap.String("detail", truncateDetail(detail)))
	return result.Retries >= a.wf.MaxRetries
}

func (a *CoderAgent) finish(ctx context.Context, result *CoderResult) *CoderResult {
	_ = a.publisher.Publish(ctx, channel.AgentMessage(a.taskID, "coder",
		fmt.Sprintf("%s solved in %d turns (%d retries)", result.Subtask, result.Turns, result.Retries)))
	return result
}

// degrade returns the best-available result annotated as degraded.
func (a *CoderAgent) degrade(ctx context.Context, result *CoderResult) *CoderResult {
	result.Degraded = true
	if result.CodeResponse == "" {
		result.CodeResponse = fmt.Sprintf("No verified execution result for %s after %d retries.", result.Subtask, result.Retries)
	}
	_ = a.publisher.Publish(ctx, channel.AgentMessage(a.taskID, "coder",
		fmt.Sprintf("%s degraded after %d retries", result.Subtask, result.Retries)))
	a.logger.Warn("coder degraded",
		zap.String("task_id", a.taskID),
		zap.String("subtask", result.Subtask),
		zap.Int("retries", result.Retries),
		zap.Int("turns", result.Turns))
	return result
}

func truncateDetail(s string) string {
	if len(s) > 300 {
		return s[:300] + "..."
	}
	return s
}
