package workflow

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/BaSui01/mmagent/agent"
)

func TestUserOutputOrder(t *testing.T) {
	out := NewUserOutput(t.TempDir(), nil)
	out.SetRes("ques1", &agent.WriterResult{Label: "ques1", Content: "one"})
	out.SetRes("ques2", &agent.WriterResult{Label: "ques2", Content: "two"})
	out.SetRes("abstract", &agent.WriterResult{Label: "abstract", Content: "summary"})

	sections := out.GetRes()
	require.Len(t, sections, 3)
	assert.Equal(t, "ques1", sections[0].Label)
	assert.Equal(t, "ques2", sections[1].Label)
	assert.Equal(t, "abstract", sections[2].Label)
}

func TestUserOutputOverwriteKeepsPosition(t *testing.T) {
	out := NewUserOutput(t.TempDir(), nil)
	out.SetRes("ques1", &agent.WriterResult{Label: "ques1", Content: "draft"})
	out.SetRes("ques2", &agent.WriterResult{Label: "ques2", Content: "two"})
	out.SetRes("ques1", &agent.WriterResult{Label: "ques1", Content: "final"})

	sections := out.GetRes()
	require.Len(t, sections, 2)
	assert.Equal(t, "ques1", sections[0].Label)
	assert.Equal(t, "final", sections[0].Content)
}

func TestUserOutputNilResultIgnored(t *testing.T) {
	out := NewUserOutput(t.TempDir(), nil)
	out.SetRes("ques1", nil)
	assert.Zero(t, out.Len())
}

func TestUserOutputSaveResult(t *testing.T) {
	dir := t.TempDir()
	out := NewUserOutput(dir, nil)
	out.SetRes("ques1", &agent.WriterResult{Label: "ques1", Content: "one"})

	require.NoError(t, out.SaveResult())

	data, err := os.ReadFile(filepath.Join(dir, SolutionFile))
	require.NoError(t, err)
	assert.Equal(t, "## ques1\n\none\n\n", string(data))

	// Later sections do not reach the file: only the first save writes.
	out.SetRes("ques2", &agent.WriterResult{Label: "ques2", Content: "two"})
	require.NoError(t, out.SaveResult())
	data, err = os.ReadFile(filepath.Join(dir, SolutionFile))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "ques2")
}

func TestUserOutputSaveEmpty(t *testing.T) {
	dir := t.TempDir()
	out := NewUserOutput(dir, nil)

	require.NoError(t, out.SaveResult())
	data, err := os.ReadFile(filepath.Join(dir, SolutionFile))
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestUserOutputOrderProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		out := NewUserOutput(os.TempDir(), nil)

		n := rapid.IntRange(1, 8).Draw(t, "labels")
		labels := make([]string, n)
		for i := range labels {
			labels[i] = fmt.Sprintf("ques%d", i+1)
		}

		var firstSeen []string
		ops := rapid.IntRange(1, 30).Draw(t, "ops")
		for i := 0; i < ops; i++ {
			label := rapid.SampledFrom(labels).Draw(t, "label")
			out.SetRes(label, &agent.WriterResult{Label: label, Content: fmt.Sprintf("v%d", i)})

			seen := false
			for _, l := range firstSeen {
				if l == label {
					seen = true
					break
				}
			}
			if !seen {
				firstSeen = append(firstSeen, label)
			}
		}

		sections := out.GetRes()
		require.Len(t, sections, len(firstSeen))
		for i, l := range firstSeen {
			assert.Equal(t, l, sections[i].Label)
		}
	})
}
