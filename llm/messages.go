package llm

import (
	"fmt"
	"strings"
	"time"

	"github.com/becomeliminal/nim-assistant/core"
	"github.com/becomeliminal/nim-assistant/tools"
)

// Role of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one provider-neutral chat message.
type Message struct {
	Role    Role
	Content string
}

// Request is a single completion request.
type Request struct {
	// Prompt is the user's turn text.
	Prompt string

	// Memories are prior utterances relevant to Prompt.
	Memories []string

	// NetworkIdentity is the public address reported to the model.
	NetworkIdentity string

	// Answer is the assistant's earlier completion on a second pass.
	Answer string

	// FollowUp carries fetched data on a second pass.
	FollowUp string

	// Tools offered to the model. Profiles that do not call tools ignore it.
	Tools []tools.Definition
}

// Completion is the provider's reply.
type Completion struct {
	Text      string
	ToolCalls []core.ToolCall
}

// HasToolCalls reports whether the completion requested any tool.
func (c *Completion) HasToolCalls() bool {
	return c != nil && len(c.ToolCalls) > 0
}

const contextTimeLayout = "2006-01-02 15:04:05"

// contextBlock renders the network identity, local time and memories.
func contextBlock(identity string, now time.Time, memories []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "My IP address is %s and the current time is %s.\n<memories>\n",
		identity, now.Format(contextTimeLayout))
	for _, m := range memories {
		b.WriteString("<memory>")
		b.WriteString(m)
		b.WriteString("</memory>")
	}
	b.WriteString("\n</memories>")
	return b.String()
}

// buildMessages orders the conversation as system prompt, context block,
// prompt, then the optional prior answer and follow-up.
func buildMessages(systemPrompt string, req Request, now time.Time) []Message {
	msgs := []Message{
		{Role: RoleSystem, Content: systemPrompt},
		{Role: RoleUser, Content: contextBlock(req.NetworkIdentity, now, req.Memories)},
		{Role: RoleUser, Content: req.Prompt},
	}
	if req.Answer != "" {
		msgs = append(msgs, Message{Role: RoleAssistant, Content: req.Answer})
	}
	if req.FollowUp != "" {
		msgs = append(msgs, Message{Role: RoleUser, Content: req.FollowUp})
	}
	return msgs
}
