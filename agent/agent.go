// Package agent implements the four role-specific model adapters of the
// workflow: coordinator, modeler, coder and writer. Each adapter wraps the
// shared llm.Provider contract and enforces its own response schema.
package agent

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/BaSui01/mmagent/internal/ordered"
	"github.com/BaSui01/mmagent/llm"
)

// OutputError reports a model response that failed schema parsing. The raw
// text is attached for diagnostics and never silently coerced.
type OutputError struct {
	Agent  string
	Reason string
	Raw    string
}

func (e *OutputError) Error() string {
	raw := e.Raw
	if len(raw) > 200 {
		raw = raw[:200] + "..."
	}
	return fmt.Sprintf("%s agent: %s (raw: %q)", e.Agent, e.Reason, raw)
}

// Decomposition is the coordinator's output: an ordered mapping from
// subtask label to subtask text. Immutable after creation.
type Decomposition struct {
	Questions *ordered.Map
	Count     int
}

// Formulation is the modeler's output: modeling content per subtask.
type Formulation struct {
	Sections *ordered.Map
}

// jsonBlockRe matches a fenced json code block.
var jsonBlockRe = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// extractJSONObject pulls a JSON object out of a model response, accepting
// either a fenced code block or a bare object.
func extractJSONObject(text string) (string, bool) {
	if m := jsonBlockRe.FindStringSubmatch(text); m != nil {
		return m[1], true
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		return text[start : end+1], true
	}
	return "", false
}

// pythonBlockRe matches a fenced python code block.
var pythonBlockRe = regexp.MustCompile("(?s)```python\\s*(.*?)```")

// extractPythonCode pulls the first fenced python block out of a response.
func extractPythonCode(text string) (string, bool) {
	if m := pythonBlockRe.FindStringSubmatch(text); m != nil {
		code := strings.TrimSpace(m[1])
		if code != "" {
			return code, true
		}
	}
	return "", false
}

// decodeOrderedObject decodes a flat JSON object of string values while
// preserving key order, which encoding/json's map decoding discards.
func decodeOrderedObject(data []byte) (*ordered.Map, error) {
	dec := json.NewDecoder(strings.NewReader(string(data)))

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("expected JSON object, got %v", tok)
	}

	m := ordered.NewMap()
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("expected string key, got %v", keyTok)
		}
		var value string
		if err := dec.Decode(&value); err != nil {
			return nil, fmt.Errorf("value for key %q is not a string: %w", key, err)
		}
		m.Set(key, value)
	}
	return m, nil
}

// trimHistory drops the oldest non-system exchanges until the history fits
// the token budget. The system prompt and the latest exchange always stay.
func trimHistory(history []llm.Message, tok *llm.Tokenizer, budget int) []llm.Message {
	if budget <= 0 || len(history) <= 3 {
		return history
	}
	for tok.CountMessages(history) > budget && len(history) > 3 {
		// history[0] is the system prompt; drop the oldest exchange after it.
		history = append(history[:1], history[2:]...)
	}
	return history
}
