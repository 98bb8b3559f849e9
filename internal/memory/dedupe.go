package memory

import (
	"strings"

	"github.com/modelexchange/mxf/pkg/models"
)

// dedupeSimilarity is the Jaccard threshold above which two messages from
// the same sender are considered duplicates.
const dedupeSimilarity = 0.8

// dedupeLookback bounds how far back duplicate detection scans.
const dedupeLookback = 10

// isDuplicate reports whether the message is a near-duplicate of a recent
// message from the same sender. Tool results and assistant messages
// bearing tool calls are never collapsed. Caller holds the write lock.
func (s *Store) isDuplicate(msg models.Message) bool {
	if msg.Role == models.RoleTool || (msg.Role == models.RoleAssistant && len(msg.ToolCalls) > 0) {
		return false
	}
	tokens := wordTokens(msg.Content)
	if len(tokens) == 0 {
		return false
	}

	start := len(s.messages) - dedupeLookback
	if start < 0 {
		start = 0
	}
	for i := len(s.messages) - 1; i >= start; i-- {
		prev := s.messages[i]
		if prev.Role != msg.Role || sender(prev) != sender(msg) {
			continue
		}
		if prev.Role == models.RoleTool || len(prev.ToolCalls) > 0 {
			continue
		}
		if jaccard(tokens, wordTokens(prev.Content)) >= dedupeSimilarity {
			return true
		}
	}
	return false
}

func sender(msg models.Message) string {
	if msg.Metadata != nil {
		if id, ok := msg.Metadata["sender_id"].(string); ok {
			return id
		}
	}
	return string(msg.Role)
}

// wordTokens splits normalized content into the set of words longer than
// two characters.
func wordTokens(content string) map[string]struct{} {
	normalized := strings.ToLower(strings.TrimSpace(content))
	fields := strings.FieldsFunc(normalized, func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
	tokens := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if len(f) > 2 {
			tokens[f] = struct{}{}
		}
	}
	return tokens
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersection := 0
	for t := range a {
		if _, ok := b[t]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
