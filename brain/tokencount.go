package brain

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// tokenCounter is a best-effort, lazily-initialized token counter used
// only for observability (a per-turn debug log line) — never for history
// eviction, which stays item-count bounded (spec §9). Grounded on
// BaSui01-agentflow/llm/tokenizer/tiktoken.go's lazy sync.Once init of a
// shared *tiktoken.Tiktoken encoding.
type tokenCounter struct {
	once sync.Once
	enc  *tiktoken.Tiktoken
	err  error
}

func newTokenCounter() *tokenCounter {
	return &tokenCounter{}
}

func (c *tokenCounter) count(text string) int {
	c.once.Do(func() {
		c.enc, c.err = tiktoken.GetEncoding("cl100k_base")
	})
	if c.err != nil || c.enc == nil || text == "" {
		return 0
	}
	return len(c.enc.Encode(text, nil, nil))
}
