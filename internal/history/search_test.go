package history

import (
	"strings"
	"testing"

	"github.com/eva-ai/platform/internal/model"
)

func TestSearchMessagesWindow(t *testing.T) {
	svc, _ := setupService(t)
	conv := svc.CreateConversation(model.CreateConversationRequest{Title: "windows"})

	// Query at the very start of a long message: no leading ellipsis,
	// trailing ellipsis, window is query plus 50 context characters.
	long := "alpha" + strings.Repeat("x", 195)
	addUserMessage(t, svc, conv.ID, long)

	results := svc.SearchMessages("alpha", nil)
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	matched := results[0].MatchedText
	if strings.HasPrefix(matched, "...") {
		t.Errorf("expected no leading ellipsis for a match at position 0, got %q", matched)
	}
	if !strings.HasSuffix(matched, "...") {
		t.Errorf("expected trailing ellipsis, got %q", matched)
	}
	if core := strings.TrimSuffix(matched, "..."); core != long[:55] {
		t.Errorf("expected 55-character window from the start, got %d chars", len(core))
	}
}

func TestSearchMessagesMidMatch(t *testing.T) {
	svc, _ := setupService(t)
	conv := svc.CreateConversation(model.CreateConversationRequest{})

	text := strings.Repeat("a", 100) + "needle" + strings.Repeat("b", 100)
	addUserMessage(t, svc, conv.ID, text)

	results := svc.SearchMessages("NEEDLE", nil)
	if len(results) != 1 {
		t.Fatalf("expected 1 case-insensitive result, got %d", len(results))
	}
	matched := results[0].MatchedText
	if !strings.HasPrefix(matched, "...") || !strings.HasSuffix(matched, "...") {
		t.Errorf("expected both ellipses for a mid-text match, got %q", matched)
	}
	if !strings.Contains(matched, "needle") {
		t.Errorf("expected match inside window, got %q", matched)
	}
	core := strings.TrimSuffix(strings.TrimPrefix(matched, "..."), "...")
	if len(core) != 106 {
		t.Errorf("expected 50+6+50 character window, got %d", len(core))
	}
}

func TestSearchMessagesShortTextNoEllipsis(t *testing.T) {
	svc, _ := setupService(t)
	conv := svc.CreateConversation(model.CreateConversationRequest{})
	addUserMessage(t, svc, conv.ID, "short note about fees")

	results := svc.SearchMessages("fees", nil)
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].MatchedText != "short note about fees" {
		t.Errorf("expected whole message without ellipses, got %q", results[0].MatchedText)
	}
}

func TestSearchMessagesOptions(t *testing.T) {
	svc, _ := setupService(t)

	a := svc.CreateConversation(model.CreateConversationRequest{AgentID: "agent-1"})
	b := svc.CreateConversation(model.CreateConversationRequest{AgentID: "agent-2"})
	addUserMessage(t, svc, a.ID, "transfer completed")
	addUserMessage(t, svc, b.ID, "transfer pending")

	all := svc.SearchMessages("transfer", nil)
	if len(all) != 2 {
		t.Fatalf("expected 2 results, got %d", len(all))
	}

	byConv := svc.SearchMessages("transfer", &SearchOptions{ConversationID: a.ID})
	if len(byConv) != 1 || byConv[0].Conversation.ID != a.ID {
		t.Errorf("expected conversation filter to narrow to one result")
	}

	byAgent := svc.SearchMessages("transfer", &SearchOptions{AgentID: "agent-2"})
	if len(byAgent) != 1 || byAgent[0].Message.Text != "transfer pending" {
		t.Errorf("expected agent filter to narrow to one result")
	}

	if got := svc.SearchMessages("", nil); got != nil {
		t.Errorf("expected nil for empty query, got %d results", len(got))
	}
	if got := svc.SearchMessages("nomatch", nil); len(got) != 0 {
		t.Errorf("expected no results, got %d", len(got))
	}
}

func TestMatchWindowRuneBoundaries(t *testing.T) {
	// Multibyte runes around the window edges must not be split.
	text := strings.Repeat("é", 60) + "find" + strings.Repeat("ü", 60)
	idx := strings.Index(text, "find")

	out := matchWindow(text, idx, len("find"))
	if !strings.Contains(out, "find") {
		t.Fatalf("expected match in window, got %q", out)
	}
	trimmed := strings.TrimSuffix(strings.TrimPrefix(out, "..."), "...")
	if !strings.Contains(trimmed, "é") || !strings.Contains(trimmed, "ü") {
		t.Errorf("expected context on both sides, got %q", trimmed)
	}
	for _, r := range trimmed {
		if r == '�' {
			t.Fatalf("window split a rune: %q", trimmed)
		}
	}
}
