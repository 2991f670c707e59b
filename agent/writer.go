package agent

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/mmagent/config"
	"github.com/BaSui01/mmagent/internal/channel"
	"github.com/BaSui01/mmagent/llm"
	"github.com/BaSui01/mmagent/scholar"
)

const writerSystemPrompt = `You are the writer of a mathematical modeling team.
You turn verified results into polished sections of the final solution paper,
written in formal academic Markdown. Use the provided execution results as
the factual basis; never invent numbers. Reference available images with
standard Markdown image syntax where they support the text.`

// LiteratureSearcher is the slice of the scholar client the writer needs.
type LiteratureSearcher interface {
	Search(ctx context.Context, query string, limit int) ([]scholar.Paper, error)
}

// WriteRequest is one writer invocation.
type WriteRequest struct {
	Label           string
	Prompt          string
	AvailableImages []string
	// WithCitations asks the writer to ground the section in literature
	// search results.
	WithCitations bool
	// CitationQuery overrides the search query; defaults to the label.
	CitationQuery string
}

// WriterResult is a finished prose section.
type WriterResult struct {
	Label   string
	Content string
	// Degraded is set when a requested citation search failed and the
	// section was written without citations.
	Degraded bool
}

// WriterAgent produces prose sections, optionally grounded in literature
// search results. A failed search degrades the section to "no citations"
// instead of failing it.
type WriterAgent struct {
	taskID    string
	provider  llm.Provider
	role      *config.RoleConfig
	searcher  LiteratureSearcher
	publisher channel.Publisher
	logger    *zap.Logger
}

// NewWriterAgent creates a writer adapter.
func NewWriterAgent(taskID string, provider llm.Provider, role *config.RoleConfig, searcher LiteratureSearcher, publisher channel.Publisher, logger *zap.Logger) *WriterAgent {
	if logger == nil {
		logger = zap.NewNop()
	}
	if publisher == nil {
		publisher = channel.NopPublisher{}
	}
	return &WriterAgent{taskID: taskID, provider: provider, role: role, searcher: searcher, publisher: publisher, logger: logger}
}

// Run writes one section.
func (a *WriterAgent) Run(ctx context.Context, req WriteRequest) (*WriterResult, error) {
	prompt := req.Prompt
	degraded := false

	if req.WithCitations && a.searcher != nil {
		query := req.CitationQuery
		if query == "" {
			query = req.Label
		}
		papers, err := a.searcher.Search(ctx, query, 0)
		if err != nil {
			a.logger.Warn("literature search failed, writing without citations",
				zap.String("task_id", a.taskID),
				zap.String("label", req.Label),
				zap.Error(err))
			degraded = true
		} else if len(papers) > 0 {
			prompt += "\n\nGround the section in these papers and cite them:\n" + scholar.PapersToPrompt(papers)
		}
	}

	if len(req.AvailableImages) > 0 {
		prompt += "\n\nImages available in the working directory:\n"
		for _, img := range req.AvailableImages {
			prompt += "- " + img + "\n"
		}
	}

	resp, err := a.provider.Completion(ctx, &llm.ChatRequest{
		Model:       a.role.Model,
		Temperature: a.role.Temperature,
		MaxTokens:   a.role.MaxTokens,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: writerSystemPrompt},
			{Role: llm.RoleUser, Content: prompt},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("writer completion for %s: %w", req.Label, err)
	}

	content := strings.TrimSpace(resp.Content())
	if content == "" {
		return nil, &OutputError{Agent: "writer", Reason: "empty section content", Raw: resp.Content()}
	}

	_ = a.publisher.Publish(ctx, channel.AgentMessage(a.taskID, "writer",
		fmt.Sprintf("section %s written (%d chars)", req.Label, len(content))))

	a.logger.Info("section written",
		zap.String("task_id", a.taskID),
		zap.String("label", req.Label),
		zap.Bool("degraded", degraded))

	return &WriterResult{Label: req.Label, Content: content, Degraded: degraded}, nil
}
