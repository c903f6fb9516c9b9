package chat

import "strings"

const (
	titleMaxRunes = 40
	untitledLabel = "New Conversation"
	titleEllipsis = "..."
)

// deriveTitle builds a session title from the first message of a conversation.
func deriveTitle(content string) string {
	content = strings.Join(strings.Fields(content), " ")
	if content == "" {
		return untitledLabel
	}
	runes := []rune(content)
	if len(runes) <= titleMaxRunes {
		return content
	}
	return strings.TrimSpace(string(runes[:titleMaxRunes])) + titleEllipsis
}
