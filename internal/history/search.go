package history

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/eva-ai/platform/internal/model"
)

// searchWindow is the number of context characters kept on each side of
// a match.
const searchWindow = 50

// SearchOptions narrows a message search.
type SearchOptions struct {
	ConversationID string
	AgentID        string
	From           *time.Time
	To             *time.Time
}

// SearchMessages scans conversations for messages containing query
// (case-insensitive) and returns one result per matching message with a
// context window around the first occurrence.
func (s *Service) SearchMessages(query string, opts *SearchOptions) []model.SearchResult {
	if query == "" {
		return nil
	}
	q := strings.ToLower(query)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []model.SearchResult
	for _, conv := range s.conversations {
		if !matchesSearchOptions(conv, opts) {
			continue
		}
		for i := range conv.Messages {
			msg := conv.Messages[i]
			idx := strings.Index(strings.ToLower(msg.Text), q)
			if idx < 0 {
				continue
			}
			results = append(results, model.SearchResult{
				Conversation: *cloneConversation(conv),
				Message:      msg,
				MatchedText:  matchWindow(msg.Text, idx, len(q)),
			})
		}
	}
	return results
}

func matchesSearchOptions(c *model.ChatConversation, opts *SearchOptions) bool {
	if opts == nil {
		return true
	}
	if opts.ConversationID != "" && c.ID != opts.ConversationID {
		return false
	}
	if opts.AgentID != "" && c.AgentID != opts.AgentID {
		return false
	}
	if opts.From != nil && c.UpdatedAt.Before(*opts.From) {
		return false
	}
	if opts.To != nil && c.UpdatedAt.After(*opts.To) {
		return false
	}
	return true
}

// matchWindow extracts text around the match at idx, prefixed and
// suffixed with an ellipsis when truncated. Boundaries are snapped to
// rune starts so the window is always valid UTF-8.
func matchWindow(text string, idx, matchLen int) string {
	start := idx - searchWindow
	if start < 0 {
		start = 0
	}
	end := idx + matchLen + searchWindow
	if end > len(text) {
		end = len(text)
	}

	for start > 0 && !utf8.RuneStart(text[start]) {
		start--
	}
	for end < len(text) && !utf8.RuneStart(text[end]) {
		end++
	}

	out := text[start:end]
	if start > 0 {
		out = "..." + out
	}
	if end < len(text) {
		out += "..."
	}
	return out
}
