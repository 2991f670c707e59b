package agent

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/mmagent/config"
	"github.com/BaSui01/mmagent/internal/channel"
	"github.com/BaSui01/mmagent/llm"
)

const modelerSystemPrompt = `You are the modeler of a mathematical modeling team.
For each subtask below, produce the mathematical formulation: the modeling
approach, governing equations, assumptions and the solution method the coder
should implement. Reply with a single JSON object mapping each subtask label
to its formulation text:

{"ques1": "<formulation>", "ques2": "<formulation>", ...}

Cover every subtask exactly once. Do not add text outside the JSON object.`

// ModelerAgent turns the decomposition into a per-subtask mathematical
// formulation. Failures here are fatal: no meaningful coder prompts can be
// built without it.
type ModelerAgent struct {
	taskID    string
	provider  llm.Provider
	role      *config.RoleConfig
	publisher channel.Publisher
	logger    *zap.Logger
}

// NewModelerAgent creates a modeler adapter.
func NewModelerAgent(taskID string, provider llm.Provider, role *config.RoleConfig, publisher channel.Publisher, logger *zap.Logger) *ModelerAgent {
	if logger == nil {
		logger = zap.NewNop()
	}
	if publisher == nil {
		publisher = channel.NopPublisher{}
	}
	return &ModelerAgent{taskID: taskID, provider: provider, role: role, publisher: publisher, logger: logger}
}

// Run produces the formulation for every subtask of the decomposition.
func (a *ModelerAgent) Run(ctx context.Context, decomp *Decomposition) (*Formulation, error) {
	var b strings.Builder
	b.WriteString("Subtasks:\n")
	decomp.Questions.Range(func(label, text string) bool {
		fmt.Fprintf(&b, "\n%s: %s\n", label, text)
		return true
	})

	resp, err := a.provider.Completion(ctx, &llm.ChatRequest{
		Model:       a.role.Model,
		Temperature: a.role.Temperature,
		MaxTokens:   a.role.MaxTokens,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: modelerSystemPrompt},
			{Role: llm.RoleUser, Content: b.String()},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("modeler completion: %w", err)
	}

	raw := resp.Content()
	obj, ok := extractJSONObject(raw)
	if !ok {
		return nil, &OutputError{Agent: "modeler", Reason: "no JSON object in response", Raw: raw}
	}

	sections, err := decodeOrderedObject([]byte(obj))
	if err != nil {
		return nil, &OutputError{Agent: "modeler", Reason: fmt.Sprintf("invalid formulation object: %v", err), Raw: raw}
	}

	// Every subtask needs a formulation slice for its coder prompt.
	var missing []string
	decomp.Questions.Range(func(label, _ string) bool {
		if !sections.Has(label) {
			missing = append(missing, label)
		}
		return true
	})
	if len(missing) > 0 {
		return nil, &OutputError{
			Agent:  "modeler",
			Reason: fmt.Sprintf("formulation missing subtasks: %s", strings.Join(missing, ", ")),
			Raw:    raw,
		}
	}

	_ = a.publisher.Publish(ctx, channel.AgentMessage(a.taskID, "modeler",
		fmt.Sprintf("formulation built for %d subtasks", sections.Len())))

	a.logger.Info("formulation built",
		zap.String("task_id", a.taskID),
		zap.Int("sections", sections.Len()))

	return &Formulation{Sections: sections}, nil
}
