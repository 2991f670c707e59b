package workflow

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/mmagent/agent"
	"github.com/BaSui01/mmagent/internal/ordered"
)

// SolutionFile is the name of the persisted aggregate document.
const SolutionFile = "solution.md"

// Section is one finished document section.
type Section struct {
	Label   string
	Content string
}

// UserOutput accumulates written sections into the final document. Section
// order is insertion order: solved subtasks first, then the write-phase
// sections. It is the single owner of the aggregate; callers go through
// SetRes/GetRes/SaveResult only.
type UserOutput struct {
	workDir string
	logger  *zap.Logger

	mu       sync.Mutex
	sections *ordered.Map
	saveOnce sync.Once
	saveErr  error
}

// NewUserOutput creates an empty aggregate bound to a working directory.
func NewUserOutput(workDir string, logger *zap.Logger) *UserOutput {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UserOutput{
		workDir:  workDir,
		logger:   logger,
		sections: ordered.NewMap(),
	}
}

// SetRes stores a section. Setting the same label twice overwrites the
// content without changing the label's position.
func (u *UserOutput) SetRes(label string, res *agent.WriterResult) {
	if res == nil {
		return
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.sections.Set(label, res.Content)
}

// GetRes returns a read-only snapshot of the document in order.
func (u *UserOutput) GetRes() []Section {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]Section, 0, u.sections.Len())
	u.sections.Range(func(label, content string) bool {
		out = append(out, Section{Label: label, Content: content})
		return true
	})
	return out
}

// Len returns the number of stored sections.
func (u *UserOutput) Len() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.sections.Len()
}

// Markdown renders the document.
func (u *UserOutput) Markdown() string {
	var b strings.Builder
	for _, sec := range u.GetRes() {
		fmt.Fprintf(&b, "## %s\n\n%s\n\n", sec.Label, sec.Content)
	}
	return b.String()
}

// SaveResult persists the document to the working directory. Only the first
// call writes; an empty document is legal and produces an empty file, since
// partial runs still hand over whatever was completed.
func (u *UserOutput) SaveResult() error {
	u.saveOnce.Do(func() {
		path := filepath.Join(u.workDir, SolutionFile)
		u.saveErr = os.WriteFile(path, []byte(u.Markdown()), 0o644)
		if u.saveErr == nil {
			u.logger.Info("solution document saved",
				zap.String("path", path),
				zap.Int("sections", u.Len()))
		}
	})
	return u.saveErr
}
