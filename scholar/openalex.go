// Package scholar searches academic literature through the OpenAlex API to
// ground the writer's citations.
package scholar

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/mmagent/config"
	"github.com/BaSui01/mmagent/internal/channel"
)

// SearchError reports a failed literature search. Callers degrade to "no
// citations" rather than failing the requesting section.
type SearchError struct {
	Query      string
	HTTPStatus int
	Cause      error
}

func (e *SearchError) Error() string {
	if e.HTTPStatus != 0 {
		return fmt.Sprintf("scholar search %q failed: HTTP %d", e.Query, e.HTTPStatus)
	}
	return fmt.Sprintf("scholar search %q failed: %v", e.Query, e.Cause)
}

func (e *SearchError) Unwrap() error { return e.Cause }

// Author is one paper author.
type Author struct {
	Name        string `json:"name"`
	Position    string `json:"position,omitempty"`
	Institution string `json:"institution,omitempty"`
}

// Paper is one literature search result.
type Paper struct {
	Title          string   `json:"title"`
	Abstract       string   `json:"abstract"`
	Authors        []Author `json:"authors"`
	CitationsCount int      `json:"citations_count"`
	DOI            string   `json:"doi"`
	Year           int      `json:"publication_year"`
	Citation       string   `json:"citation_format"`
}

// Client queries the OpenAlex works endpoint. OpenAlex requires a contact
// email for its polite pool; the client refuses to issue requests without
// one.
type Client struct {
	baseURL   string
	email     string
	limit     int
	taskID    string
	client    *http.Client
	publisher channel.Publisher
	logger    *zap.Logger
}

// NewClient creates an OpenAlex client bound to a task.
func NewClient(cfg config.ScholarConfig, taskID string, publisher channel.Publisher, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if publisher == nil {
		publisher = channel.NopPublisher{}
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openalex.org"
	}
	limit := cfg.Limit
	if limit <= 0 {
		limit = 8
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		email:     cfg.Email,
		limit:     limit,
		taskID:    taskID,
		client:    &http.Client{Timeout: 30 * time.Second},
		publisher: publisher,
		logger:    logger,
	}
}

type worksResponse struct {
	Results []workRecord `json:"results"`
}

type workRecord struct {
	Title       string `json:"title"`
	DisplayName string `json:"display_name"`
	Authorships []struct {
		AuthorPosition string `json:"author_position"`
		Author         struct {
			DisplayName string `json:"display_name"`
		} `json:"author"`
		Institutions []struct {
			DisplayName string `json:"display_name"`
		} `json:"institutions"`
	} `json:"authorships"`
	CitedByCount          int              `json:"cited_by_count"`
	DOI                   string           `json:"doi"`
	PublicationYear       int              `json:"publication_year"`
	AbstractInvertedIndex map[string][]int `json:"abstract_inverted_index"`
}

// Search queries papers matching query. A missing contact email is a
// configuration error raised before any request is made. On success a
// progress message carrying the query and result titles is broadcast.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]Paper, error) {
	if c.email == "" {
		return nil, &config.ValidationError{Field: "scholar.email", Reason: "required for OpenAlex polite pool access"}
	}
	if limit <= 0 {
		limit = c.limit
	}

	params := url.Values{}
	params.Set("search", query)
	params.Set("per_page", fmt.Sprintf("%d", limit))
	params.Set("select", "title,display_name,authorships,cited_by_count,doi,publication_year,abstract_inverted_index")
	params.Set("mailto", c.email)

	reqURL := c.baseURL + "/works?" + params.Encode()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, &SearchError{Query: query, Cause: err}
	}
	httpReq.Header.Set("User-Agent", fmt.Sprintf("mmagent/1.0 (mailto:%s)", c.email))

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, &SearchError{Query: query, Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, &SearchError{Query: query, HTTPStatus: resp.StatusCode}
	}

	var works worksResponse
	if err := json.NewDecoder(resp.Body).Decode(&works); err != nil {
		return nil, &SearchError{Query: query, Cause: fmt.Errorf("decode response: %w", err)}
	}

	papers := make([]Paper, 0, len(works.Results))
	titles := make([]string, 0, len(works.Results))
	for _, work := range works.Results {
		p := Paper{
			Title:          firstNonEmpty(work.DisplayName, work.Title),
			Abstract:       rebuildAbstract(work.AbstractInvertedIndex),
			CitationsCount: work.CitedByCount,
			DOI:            work.DOI,
			Year:           work.PublicationYear,
		}
		for _, a := range work.Authorships {
			author := Author{Name: a.Author.DisplayName, Position: a.AuthorPosition}
			if len(a.Institutions) > 0 {
				author.Institution = a.Institutions[0].DisplayName
			}
			p.Authors = append(p.Authors, author)
		}
		p.Citation = formatCitation(p)
		papers = append(papers, p)
		titles = append(titles, p.Title)
	}

	// Progress carries the query and result titles only.
	_ = c.publisher.Publish(ctx, channel.ScholarMessage(c.taskID, query, titles))

	c.logger.Info("literature search finished",
		zap.String("task_id", c.taskID),
		zap.String("query", query),
		zap.Int("results", len(papers)))

	return papers, nil
}

// rebuildAbstract reconstructs prose from the OpenAlex inverted index.
func rebuildAbstract(index map[string][]int) string {
	if len(index) == 0 {
		return ""
	}
	maxPos := 0
	for _, positions := range index {
		for _, pos := range positions {
			if pos > maxPos {
				maxPos = pos
			}
		}
	}
	words := make([]string, maxPos+1)
	for word, positions := range index {
		for _, pos := range positions {
			words[pos] = word
		}
	}
	return strings.TrimSpace(strings.Join(words, " "))
}

// formatCitation renders "Authors (Year). Title. DOI: ..." with "et al."
// beyond three authors.
func formatCitation(p Paper) string {
	names := make([]string, 0, len(p.Authors))
	for _, a := range p.Authors {
		if a.Name != "" {
			names = append(names, a.Name)
		}
	}
	authors := strings.Join(names, ", ")
	if len(names) > 3 {
		authors = names[0] + " et al."
	}

	citation := fmt.Sprintf("%s (%d). %s.", authors, p.Year, p.Title)
	if p.DOI != "" {
		citation += " DOI: " + p.DOI
	}
	return citation
}

// PapersToPrompt renders search results for inclusion in a writer prompt.
func PapersToPrompt(papers []Paper) string {
	var b strings.Builder
	for _, p := range papers {
		b.WriteString("\n" + strings.Repeat("=", 80))
		fmt.Fprintf(&b, "\nTitle: %s", p.Title)
		fmt.Fprintf(&b, "\nAbstract: %s", p.Abstract)
		b.WriteString("\nAuthors: ")
		for i, a := range p.Authors {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(a.Name)
		}
		fmt.Fprintf(&b, "\nCited by: %d", p.CitationsCount)
		fmt.Fprintf(&b, "\nYear: %d", p.Year)
		fmt.Fprintf(&b, "\nCitation:\n%s", p.Citation)
	}
	return b.String()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
