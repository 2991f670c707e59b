package llm

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// modelEncodings maps model-name prefixes to their tiktoken encoding.
// Longer prefixes come first so "gpt-4o" is not shadowed by "gpt-4".
var modelEncodings = []struct {
	prefix   string
	encoding string
}{
	{"gpt-4o", "o200k_base"},
	{"gpt-4.1", "o200k_base"},
	{"gpt-3.5-turbo", "cl100k_base"},
	{"gpt-4", "cl100k_base"},
	{"o1", "o200k_base"},
}

// Tokenizer counts tokens for chat-history budget enforcement.
type Tokenizer struct {
	encoding string
	once     sync.Once
	enc      *tiktoken.Tiktoken
	initErr  error
}

// NewTokenizer creates a tokenizer for the given model. Unknown models fall
// back to the cl100k_base encoding, which is close enough for budgeting.
func NewTokenizer(model string) *Tokenizer {
	encoding := "cl100k_base"
	for _, m := range modelEncodings {
		if strings.HasPrefix(model, m.prefix) {
			encoding = m.encoding
			break
		}
	}
	return &Tokenizer{encoding: encoding}
}

// init lazily loads the encoding (may fetch data on first use).
func (t *Tokenizer) init() error {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			t.initErr = fmt.Errorf("init tiktoken encoding %s: %w", t.encoding, err)
			return
		}
		t.enc = enc
	})
	return t.initErr
}

// CountTokens returns the token count for text. When the encoding cannot be
// initialized (offline environments), it falls back to a chars/4 estimate.
func (t *Tokenizer) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	if err := t.init(); err != nil {
		return len(text) / 4
	}
	return len(t.enc.Encode(text, nil, nil))
}

// CountMessages returns the token count of a chat history, including a small
// per-message framing overhead.
func (t *Tokenizer) CountMessages(messages []Message) int {
	total := 0
	for _, m := range messages {
		total += t.CountTokens(m.Content) + 4
	}
	return total
}
