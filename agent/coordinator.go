package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/mmagent/config"
	"github.com/BaSui01/mmagent/internal/channel"
	"github.com/BaSui01/mmagent/llm"
)

const coordinatorSystemPrompt = `You are the coordinator of a mathematical modeling team.
Given a competition problem statement, break it down into independent,
concretely solvable subtasks. Reply with a single JSON object:

{
  "questions": {"ques1": "<subtask text>", "ques2": "<subtask text>", ...},
  "ques_count": <number of subtasks>
}

Order the subtasks so later ones may build on earlier results. Do not add
any text outside the JSON object.`

// CoordinatorAgent decomposes the raw problem into labeled subtasks.
// Failures here are fatal to the run: without a decomposition no downstream
// work is definable.
type CoordinatorAgent struct {
	taskID    string
	provider  llm.Provider
	role      *config.RoleConfig
	publisher channel.Publisher
	logger    *zap.Logger
}

// NewCoordinatorAgent creates a coordinator adapter.
func NewCoordinatorAgent(taskID string, provider llm.Provider, role *config.RoleConfig, publisher channel.Publisher, logger *zap.Logger) *CoordinatorAgent {
	if logger == nil {
		logger = zap.NewNop()
	}
	if publisher == nil {
		publisher = channel.NopPublisher{}
	}
	return &CoordinatorAgent{taskID: taskID, provider: provider, role: role, publisher: publisher, logger: logger}
}

type coordinatorPayload struct {
	Questions json.RawMessage `json:"questions"`
	QuesCount int             `json:"ques_count"`
}

// Run decomposes the full problem text into subtasks.
func (a *CoordinatorAgent) Run(ctx context.Context, quesAll string) (*Decomposition, error) {
	resp, err := a.provider.Completion(ctx, &llm.ChatRequest{
		Model:       a.role.Model,
		Temperature: a.role.Temperature,
		MaxTokens:   a.role.MaxTokens,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: coordinatorSystemPrompt},
			{Role: llm.RoleUser, Content: quesAll},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("coordinator completion: %w", err)
	}

	raw := resp.Content()
	obj, ok := extractJSONObject(raw)
	if !ok {
		return nil, &OutputError{Agent: "coordinator", Reason: "no JSON object in response", Raw: raw}
	}

	var payload coordinatorPayload
	if err := json.Unmarshal([]byte(obj), &payload); err != nil {
		return nil, &OutputError{Agent: "coordinator", Reason: fmt.Sprintf("invalid JSON: %v", err), Raw: raw}
	}
	if len(payload.Questions) == 0 {
		return nil, &OutputError{Agent: "coordinator", Reason: "missing questions field", Raw: raw}
	}

	questions, err := decodeOrderedObject(payload.Questions)
	if err != nil {
		return nil, &OutputError{Agent: "coordinator", Reason: fmt.Sprintf("questions is not an object of strings: %v", err), Raw: raw}
	}
	if questions.Len() == 0 {
		return nil, &OutputError{Agent: "coordinator", Reason: "empty questions object", Raw: raw}
	}
	if payload.QuesCount != questions.Len() {
		a.logger.Warn("ques_count mismatch, using actual question count",
			zap.Int("reported", payload.QuesCount),
			zap.Int("actual", questions.Len()))
	}

	decomp := &Decomposition{Questions: questions, Count: questions.Len()}

	_ = a.publisher.Publish(ctx, channel.AgentMessage(a.taskID, "coordinator",
		fmt.Sprintf("problem decomposed into %d subtasks", decomp.Count)))

	a.logger.Info("problem decomposed",
		zap.String("task_id", a.taskID),
		zap.Int("subtasks", decomp.Count))

	return decomp, nil
}
