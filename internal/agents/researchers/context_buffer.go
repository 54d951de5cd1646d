package researchers

import (
	"fmt"
	"strings"

	"github.com/dyike/stockbot/internal/models"
	"github.com/dyike/stockbot/pkg/utils"
)

// ContextBuffer is the running research context. The seed always stays but
// takes at most half of the limit; appended entries are evicted oldest first
// once the total passes the limit.
type ContextBuffer struct {
	seed    string
	entries []string
	limit   int
	size    int
}

func NewContextBuffer(seed string, limit int) *ContextBuffer {
	if limit > 0 {
		seed = utils.Truncate(seed, limit/2)
	}
	return &ContextBuffer{seed: seed, limit: limit}
}

func (b *ContextBuffer) budget() int {
	if b.limit <= 0 {
		return -1
	}
	left := b.limit - len(b.seed)
	if left < 0 {
		return 0
	}
	return left
}

// Append adds entry, evicting older entries to stay within the limit. An
// entry larger than the whole budget is cut to fit.
func (b *ContextBuffer) Append(entry string) {
	entry = strings.TrimSpace(entry)
	if entry == "" {
		return
	}
	budget := b.budget()
	if budget == 0 {
		return
	}
	// one separator per entry
	cost := len(entry) + 1
	if budget > 0 && cost > budget {
		entry = utils.Truncate(entry, budget-1)
		b.entries = b.entries[:0]
		b.size = 0
		if entry == "" {
			return
		}
		cost = len(entry) + 1
	}
	b.entries = append(b.entries, entry)
	b.size += cost
	for budget > 0 && b.size > budget && len(b.entries) > 1 {
		b.size -= len(b.entries[0]) + 1
		b.entries = b.entries[1:]
	}
}

func (b *ContextBuffer) String() string {
	if len(b.entries) == 0 {
		return b.seed
	}
	return b.seed + "\n" + strings.Join(b.entries, "\n")
}

func (b *ContextBuffer) Len() int {
	return len(b.String())
}

// Entries returns the appended entries still held, oldest first.
func (b *ContextBuffer) Entries() []string {
	return append([]string(nil), b.entries...)
}

// Summarize renders a record the way it is kept in the context.
func Summarize(r models.AnalysisRecord) string {
	return fmt.Sprintf("Market Impact: %s\nSentiment: %s\nKey Points: %s",
		r.MarketImpact, r.Sentiment, strings.Join(r.KeyPoints, ", "))
}
