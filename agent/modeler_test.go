package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/mmagent/internal/ordered"
	"github.com/BaSui01/mmagent/llm"
)

func testDecomposition() *Decomposition {
	m := ordered.NewMap()
	m.Set("ques1", "model demand")
	m.Set("ques2", "optimize routes")
	return &Decomposition{Questions: m, Count: 2}
}

func TestModelerRun(t *testing.T) {
	provider := &mockProvider{fn: func(req *llm.ChatRequest) (*llm.ChatResponse, error) {
		// The user message lists every subtask.
		user := lastUser(req)
		assert.Contains(t, user, "ques1: model demand")
		assert.Contains(t, user, "ques2: optimize routes")
		return reply(`{"ques1": "use Poisson regression", "ques2": "use a VRP MILP"}`)
	}}

	a := NewModelerAgent("t1", provider, testRole(), nil, nil)
	form, err := a.Run(context.Background(), testDecomposition())
	require.NoError(t, err)

	assert.Equal(t, []string{"ques1", "ques2"}, form.Sections.Keys())
	text, _ := form.Sections.Get("ques2")
	assert.Equal(t, "use a VRP MILP", text)
}

func TestModelerRunMissingSubtask(t *testing.T) {
	provider := &mockProvider{fn: func(req *llm.ChatRequest) (*llm.ChatResponse, error) {
		return reply(`{"ques1": "use Poisson regression"}`)
	}}

	a := NewModelerAgent("t1", provider, testRole(), nil, nil)
	_, err := a.Run(context.Background(), testDecomposition())

	var outErr *OutputError
	require.ErrorAs(t, err, &outErr)
	assert.Equal(t, "modeler", outErr.Agent)
	assert.Contains(t, outErr.Reason, "ques2")
}

func TestModelerRunNoJSON(t *testing.T) {
	provider := &mockProvider{fn: func(req *llm.ChatRequest) (*llm.ChatResponse, error) {
		return reply("here is my thinking, but no object")
	}}

	a := NewModelerAgent("t1", provider, testRole(), nil, nil)
	_, err := a.Run(context.Background(), testDecomposition())

	var outErr *OutputError
	require.ErrorAs(t, err, &outErr)
}
