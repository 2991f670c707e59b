// Package workflow sequences the four agents over a shared sandbox and
// assembles their output into the final solution document.
package workflow

import (
	"fmt"
	"strings"

	"github.com/BaSui01/mmagent/agent"
)

// resultsMarker is the slot in a writer template filled with the coder's
// verified results after the subtask is solved.
const resultsMarker = "{{RESULTS}}"

// PromptError reports a writer template that cannot be filled because the
// coder response lacks a required field. Failing loudly beats emitting a
// malformed prompt.
type PromptError struct {
	Label  string
	Reason string
}

func (e *PromptError) Error() string {
	return fmt.Sprintf("prompt build for %s: %s", e.Label, e.Reason)
}

// SubtaskPlan is one solve-phase entry: the coder prompt and the writer
// prompt template still missing the coder's results.
type SubtaskPlan struct {
	Label          string
	CoderPrompt    string
	WriterTemplate string
}

// SectionPlan is one write-phase entry.
type SectionPlan struct {
	Label  string
	Prompt string
	// WithCitations marks sections grounded in literature search.
	WithCitations bool
}

// writeSections is the fixed post-solve document template. Its order is
// static and independent of the decomposition.
var writeSections = []string{"abstract", "sensitivity_analysis", "conclusion", "references"}

// Flows plans the solve phase and the write phase. Deterministic: identical
// inputs produce identical plans, no model calls involved.
type Flows struct {
	decomp *agent.Decomposition
}

// NewFlows creates a planner over a decomposition.
func NewFlows(decomp *agent.Decomposition) *Flows {
	return &Flows{decomp: decomp}
}

// GetSolutionFlows builds one plan per subtask, in decomposition order,
// combining the subtask text with its slice of the formulation.
func (f *Flows) GetSolutionFlows(form *agent.Formulation) []SubtaskPlan {
	plans := make([]SubtaskPlan, 0, f.decomp.Count)
	f.decomp.Questions.Range(func(label, text string) bool {
		formulation, _ := form.Sections.Get(label)

		coderPrompt := fmt.Sprintf(
			"Subtask %s:\n%s\n\nMathematical formulation:\n%s\n\nImplement the formulation in Python, compute the results, and print the key numbers.",
			label, text, formulation)

		writerTemplate := fmt.Sprintf(
			"Write the solution section for subtask %s.\n\nSubtask:\n%s\n\nVerified results from code execution:\n%s\n\nPresent the approach, the results and their interpretation.",
			label, text, resultsMarker)

		plans = append(plans, SubtaskPlan{
			Label:          label,
			CoderPrompt:    coderPrompt,
			WriterTemplate: writerTemplate,
		})
		return true
	})
	return plans
}

// GetWriterPrompt fills a subtask's writer template with the coder's final
// response and produced artifacts.
func (f *Flows) GetWriterPrompt(plan SubtaskPlan, coder *agent.CoderResult) (string, error) {
	if coder == nil {
		return "", &PromptError{Label: plan.Label, Reason: "missing coder result"}
	}
	if strings.TrimSpace(coder.CodeResponse) == "" {
		return "", &PromptError{Label: plan.Label, Reason: "coder result has no textual response"}
	}
	if !strings.Contains(plan.WriterTemplate, resultsMarker) {
		return "", &PromptError{Label: plan.Label, Reason: "writer template lacks results slot"}
	}

	results := coder.CodeResponse
	if coder.Degraded {
		results = "NOTE: results are unverified (execution retries exhausted).\n" + results
	}
	if len(coder.Artifacts) > 0 {
		results += "\n\nProduced files: " + strings.Join(coder.Artifacts, ", ")
	}

	return strings.Replace(plan.WriterTemplate, resultsMarker, results, 1), nil
}

// GetWriteFlows builds the fixed write-phase plan. The solved sections feed
// the prompts; the ordering comes from the static template.
func (f *Flows) GetWriteFlows(aggregate *UserOutput, quesAll string) []SectionPlan {
	var solved strings.Builder
	for _, sec := range aggregate.GetRes() {
		fmt.Fprintf(&solved, "\n## %s\n%s\n", sec.Label, sec.Content)
	}

	plans := make([]SectionPlan, 0, len(writeSections))
	for _, label := range writeSections {
		var prompt string
		switch label {
		case "abstract":
			prompt = fmt.Sprintf(
				"Write the abstract of the solution paper.\n\nProblem statement:\n%s\n\nSolved sections:\n%s",
				quesAll, solved.String())
		case "sensitivity_analysis":
			prompt = fmt.Sprintf(
				"Write the sensitivity analysis section: discuss how the results react to changes in assumptions and parameters.\n\nSolved sections:\n%s",
				solved.String())
		case "conclusion":
			prompt = fmt.Sprintf(
				"Write the conclusion: strengths, weaknesses and possible model improvements.\n\nSolved sections:\n%s",
				solved.String())
		case "references":
			prompt = fmt.Sprintf(
				"Write the references section as a numbered list of the cited literature.\n\nProblem statement:\n%s",
				quesAll)
		}
		plans = append(plans, SectionPlan{
			Label:         label,
			Prompt:        prompt,
			WithCitations: label == "references",
		})
	}
	return plans
}

// CitationQuery derives a literature search query from the problem text.
func CitationQuery(quesAll string) string {
	text := strings.TrimSpace(quesAll)
	if len(text) > 120 {
		text = text[:120]
	}
	return strings.Join(strings.Fields(text), " ")
}
