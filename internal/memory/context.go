package memory

import (
	"fmt"
	"strings"
)

// ContextBudget controls how much recalled memory is injected into a prompt.
type ContextBudget struct {
	MaxTokens int // total token budget for memory context
	MaxBlocks int // max number of memories
}

// DefaultContextBudget returns sensible defaults.
func DefaultContextBudget() ContextBudget {
	return ContextBudget{
		MaxTokens: 2000,
		MaxBlocks: 10,
	}
}

// FormatContext renders ranked memories as a prompt section, in rank order,
// skipping entries that would overflow the budget.
func FormatContext(ranked []Ranked, budget ContextBudget) string {
	def := DefaultContextBudget()
	if budget.MaxTokens <= 0 {
		budget.MaxTokens = def.MaxTokens
	}
	if budget.MaxBlocks <= 0 {
		budget.MaxBlocks = def.MaxBlocks
	}

	var b strings.Builder
	used, blocks := 0, 0
	for _, r := range ranked {
		if blocks >= budget.MaxBlocks {
			break
		}
		line := fmt.Sprintf("- %s (score: %.2f)\n", r.Record, r.Score)
		est := estimateTokens(line)
		if used+est > budget.MaxTokens {
			continue
		}
		if blocks == 0 {
			b.WriteString("[Memory Context]\n")
		}
		b.WriteString(line)
		used += est
		blocks++
	}
	return b.String()
}

// estimateTokens gives a rough token count (~4 chars per token).
func estimateTokens(s string) int {
	n := len(s) / 4
	if n < 1 {
		return 1
	}
	return n
}
