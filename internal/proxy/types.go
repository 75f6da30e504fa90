package proxy

import "strings"

// Conversation roles accepted by the remote service.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one prior conversation turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// AskRequest is the body posted to the remote chat endpoint.
type AskRequest struct {
	Message string    `json:"message"`
	UserID  string    `json:"userId"`
	History []Message `json:"history"`
}

// TrimHistory returns the last max valid turns of history. Turns with an
// unknown role or blank content are dropped before counting. A max of zero
// or less returns an empty history.
func TrimHistory(history []Message, max int) []Message {
	valid := make([]Message, 0, len(history))
	for _, m := range history {
		if m.Role != RoleUser && m.Role != RoleAssistant {
			continue
		}
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		valid = append(valid, m)
	}
	if max <= 0 {
		return []Message{}
	}
	if len(valid) > max {
		valid = valid[len(valid)-max:]
	}
	return valid
}
