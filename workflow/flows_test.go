package workflow

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/mmagent/agent"
	"github.com/BaSui01/mmagent/internal/ordered"
)

func testDecomposition(labels ...string) *agent.Decomposition {
	m := ordered.NewMap()
	for _, l := range labels {
		m.Set(l, "text for "+l)
	}
	return &agent.Decomposition{Questions: m, Count: m.Len()}
}

func testFormulation(labels ...string) *agent.Formulation {
	m := ordered.NewMap()
	for _, l := range labels {
		m.Set(l, "formulation for "+l)
	}
	return &agent.Formulation{Sections: m}
}

func TestGetSolutionFlows(t *testing.T) {
	f := NewFlows(testDecomposition("ques1", "ques2", "ques3"))
	plans := f.GetSolutionFlows(testFormulation("ques1", "ques2", "ques3"))

	require.Len(t, plans, 3)
	for i, label := range []string{"ques1", "ques2", "ques3"} {
		assert.Equal(t, label, plans[i].Label)
		assert.Contains(t, plans[i].CoderPrompt, "text for "+label)
		assert.Contains(t, plans[i].CoderPrompt, "formulation for "+label)
		assert.Contains(t, plans[i].WriterTemplate, resultsMarker)
	}
}

func TestGetWriterPrompt(t *testing.T) {
	f := NewFlows(testDecomposition("ques1"))
	plan := f.GetSolutionFlows(testFormulation("ques1"))[0]

	prompt, err := f.GetWriterPrompt(plan, &agent.CoderResult{
		Subtask:      "ques1",
		CodeResponse: "optimum is 42",
		Artifacts:    []string{"plot.png", "result.csv"},
	})
	require.NoError(t, err)
	assert.Contains(t, prompt, "optimum is 42")
	assert.Contains(t, prompt, "Produced files: plot.png, result.csv")
	assert.NotContains(t, prompt, resultsMarker)
}

func TestGetWriterPromptDegraded(t *testing.T) {
	f := NewFlows(testDecomposition("ques1"))
	plan := f.GetSolutionFlows(testFormulation("ques1"))[0]

	prompt, err := f.GetWriterPrompt(plan, &agent.CoderResult{
		Subtask:      "ques1",
		CodeResponse: "best attempt output",
		Degraded:     true,
	})
	require.NoError(t, err)
	assert.Contains(t, prompt, "results are unverified")
}

func TestGetWriterPromptErrors(t *testing.T) {
	f := NewFlows(testDecomposition("ques1"))
	plan := f.GetSolutionFlows(testFormulation("ques1"))[0]

	var promptErr *PromptError

	_, err := f.GetWriterPrompt(plan, nil)
	require.ErrorAs(t, err, &promptErr)
	assert.Equal(t, "ques1", promptErr.Label)

	_, err = f.GetWriterPrompt(plan, &agent.CoderResult{Subtask: "ques1", CodeResponse: "  "})
	require.ErrorAs(t, err, &promptErr)

	broken := plan
	broken.WriterTemplate = "no slot here"
	_, err = f.GetWriterPrompt(broken, &agent.CoderResult{Subtask: "ques1", CodeResponse: "x"})
	require.ErrorAs(t, err, &promptErr)
}

func TestGetWriteFlows(t *testing.T) {
	f := NewFlows(testDecomposition("ques1"))

	aggregate := NewUserOutput(t.TempDir(), nil)
	aggregate.SetRes("ques1", &agent.WriterResult{Label: "ques1", Content: "solved section text"})

	plans := f.GetWriteFlows(aggregate, "the full problem statement")
	require.Len(t, plans, 4)

	labels := make([]string, 0, len(plans))
	for _, p := range plans {
		labels = append(labels, p.Label)
	}
	assert.Equal(t, []string{"abstract", "sensitivity_analysis", "conclusion", "references"}, labels)

	for _, p := range plans {
		assert.Equal(t, p.Label == "references", p.WithCitations, "label %s", p.Label)
		assert.NotEmpty(t, p.Prompt)
	}

	// Solved sections feed the abstract prompt.
	assert.Contains(t, plans[0].Prompt, "solved section text")
	assert.Contains(t, plans[0].Prompt, "the full problem statement")
}

func TestCitationQuery(t *testing.T) {
	assert.Equal(t, "short problem", CitationQuery("  short   problem  "))

	long := strings.Repeat("word ", 50)
	q := CitationQuery(long)
	assert.LessOrEqual(t, len(q), 120)
	assert.NotContains(t, q, "  ")
}
