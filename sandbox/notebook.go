package sandbox

import (
	"encoding/json"
	"os"
	"strings"
	"sync"
)

// Notebook records executed code cells and serializes them in Jupyter
// nbformat 4 so a run can be replayed and audited.
type Notebook struct {
	mu    sync.Mutex
	cells []notebookCell
}

type notebookCell struct {
	Code   string
	Stdout string
	Stderr string
}

// NewNotebook creates an empty notebook.
func NewNotebook() *Notebook {
	return &Notebook{}
}

// AddCell records one executed cell with its outputs.
func (n *Notebook) AddCell(code, stdout, stderr string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cells = append(n.cells, notebookCell{Code: code, Stdout: stdout, Stderr: stderr})
}

// Len returns the number of recorded cells.
func (n *Notebook) Len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.cells)
}

// nbformat 4 structures, reduced to the fields we emit.
type nbRoot struct {
	Cells         []nbCell       `json:"cells"`
	Metadata      map[string]any `json:"metadata"`
	Nbformat      int            `json:"nbformat"`
	NbformatMinor int            `json:"nbformat_minor"`
}

type nbCell struct {
	CellType       string         `json:"cell_type"`
	ExecutionCount int            `json:"execution_count"`
	Metadata       map[string]any `json:"metadata"`
	Source         []string       `json:"source"`
	Outputs        []nbOutput     `json:"outputs"`
}

type nbOutput struct {
	OutputType string   `json:"output_type"`
	Name       string   `json:"name"`
	Text       []string `json:"text"`
}

// Save writes the notebook to path.
func (n *Notebook) Save(path string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	root := nbRoot{
		Metadata: map[string]any{
			"kernelspec": map[string]any{
				"display_name": "Python 3",
				"language":     "python",
				"name":         "python3",
			},
		},
		Nbformat:      4,
		NbformatMinor: 5,
		Cells:         []nbCell{},
	}

	for i, cell := range n.cells {
		c := nbCell{
			CellType:       "code",
			ExecutionCount: i + 1,
			Metadata:       map[string]any{},
			Source:         splitLines(cell.Code),
			Outputs:        []nbOutput{},
		}
		if cell.Stdout != "" {
			c.Outputs = append(c.Outputs, nbOutput{
				OutputType: "stream", Name: "stdout", Text: splitLines(cell.Stdout),
			})
		}
		if cell.Stderr != "" {
			c.Outputs = append(c.Outputs, nbOutput{
				OutputType: "stream", Name: "stderr", Text: splitLines(cell.Stderr),
			})
		}
		root.Cells = append(root.Cells, c)
	}

	data, err := json.MarshalIndent(&root, "", " ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// splitLines converts text into nbformat source lines, keeping newlines on
// every line but the last.
func splitLines(text string) []string {
	if text == "" {
		return []string{}
	}
	lines := strings.SplitAfter(text, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
