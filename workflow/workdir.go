package workflow

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
)

// QuestionsFile is the canonical problem-statement file inside a problem
// directory.
const QuestionsFile = "questions.txt"

// NewTaskID generates a unique task identifier.
func NewTaskID() string {
	return time.Now().UTC().Format("20060102150405") + "-" + uuid.NewString()[:8]
}

// CreateWorkDir creates the per-task working directory under root.
func CreateWorkDir(root, taskID string) (string, error) {
	workDir := filepath.Join(root, taskID)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return "", fmt.Errorf("create work dir %s: %w", workDir, err)
	}
	return workDir, nil
}

// ReadProblem reads the canonical problem statement from problemDir. A
// missing directory or questions file is fatal before any other work.
func ReadProblem(problemDir string) (string, error) {
	info, err := os.Stat(problemDir)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("problem directory %s not found", problemDir)
	}
	data, err := os.ReadFile(filepath.Join(problemDir, QuestionsFile))
	if err != nil {
		return "", fmt.Errorf("%s not found in %s", QuestionsFile, problemDir)
	}
	return string(data), nil
}

// StageInputs copies auxiliary data from problemDir into workDir under
// synthetic sequential names: data_file_<n>.<ext> for files, data_dir_<n>
// for directories. The questions file is skipped (it is read directly), and
// no original input name leaks into downstream prompts.
func StageInputs(problemDir, workDir string) ([]string, error) {
	entries, err := os.ReadDir(problemDir)
	if err != nil {
		return nil, fmt.Errorf("read problem dir %s: %w", problemDir, err)
	}

	// Deterministic staging order regardless of directory listing order.
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var staged []string
	counter := 1
	for _, entry := range entries {
		if entry.Name() == QuestionsFile {
			continue
		}
		src := filepath.Join(problemDir, entry.Name())

		var name string
		if entry.IsDir() {
			name = fmt.Sprintf("data_dir_%d", counter)
			if err := copyDir(src, filepath.Join(workDir, name)); err != nil {
				return nil, fmt.Errorf("stage directory %s: %w", entry.Name(), err)
			}
		} else {
			name = fmt.Sprintf("data_file_%d%s", counter, filepath.Ext(entry.Name()))
			if err := copyFile(src, filepath.Join(workDir, name)); err != nil {
				return nil, fmt.Errorf("stage file %s: %w", entry.Name(), err)
			}
		}
		staged = append(staged, name)
		counter++
	}
	return staged, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}

func copyDir(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if d.Type()&os.ModeSymlink != 0 {
			// Symlinks are not followed into the sandbox work dir.
			return nil
		}
		return copyFile(path, target)
	})
}
