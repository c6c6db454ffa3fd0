package history

import (
	"strings"

	"github.com/eva-ai/platform/internal/model"
)

// Lexical sentiment word lists. Matching is substring-based, so "thanks"
// also counts a "thank" hit.
var (
	positiveWords = []string{
		"good", "great", "excellent", "helpful", "thank", "thanks",
		"appreciate", "perfect", "wonderful",
	}
	negativeWords = []string{
		"bad", "poor", "terrible", "useless", "waste", "confusing",
		"difficult", "wrong", "problem", "issue",
	}
)

const (
	sentimentBase     = 50
	sentimentStep     = 5
	positiveThreshold = 70
	negativeThreshold = 30
)

// scoreSentiment recomputes the conversation sentiment from scratch over
// every user message. Conversations are bounded, so the full rescan is
// cheap.
func scoreSentiment(messages []model.ChatMessage) model.Sentiment {
	score := sentimentBase

	for i := range messages {
		if messages[i].Sender != model.SenderUser {
			continue
		}
		text := strings.ToLower(messages[i].Text)
		for _, w := range positiveWords {
			score += sentimentStep * strings.Count(text, w)
		}
		for _, w := range negativeWords {
			score -= sentimentStep * strings.Count(text, w)
		}
	}

	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}

	label := model.SentimentNeutral
	switch {
	case score >= positiveThreshold:
		label = model.SentimentPositive
	case score <= negativeThreshold:
		label = model.SentimentNegative
	}

	return model.Sentiment{Score: score, Label: label}
}
