// Package turns holds the ordered message log of one conversation turn.
package turns

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
)

type Role string

const (
	RoleSystem      Role = "system"
	RoleUser        Role = "user"
	RoleAssistant   Role = "assistant"
	RoleObservation Role = "observation"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

func System(content string) Message    { return Message{Role: RoleSystem, Content: content} }
func User(content string) Message      { return Message{Role: RoleUser, Content: content} }
func Assistant(content string) Message { return Message{Role: RoleAssistant, Content: content} }

// Context is append-only. The first preamble messages (policy, framing,
// anchors) are re-derived on every request and never persisted.
type Context struct {
	messages []Message
	preamble int
}

func NewContext(preamble ...Message) *Context {
	return &Context{
		messages: append([]Message(nil), preamble...),
		preamble: len(preamble),
	}
}

func (c *Context) Append(msgs ...Message) {
	c.messages = append(c.messages, msgs...)
}

// Messages returns a copy of the full log.
func (c *Context) Messages() []Message {
	return append([]Message(nil), c.messages...)
}

// Tail returns everything after the preamble: prior memory plus what this
// turn appended.
func (c *Context) Tail() []Message {
	return append([]Message(nil), c.messages[c.preamble:]...)
}

func (c *Context) Last() (Message, bool) {
	if len(c.messages) == 0 {
		return Message{}, false
	}
	return c.messages[len(c.messages)-1], true
}

func (c *Context) Len() int {
	return len(c.messages)
}

// ValidRole reports whether r is one of the known roles.
func ValidRole(r Role) bool {
	switch Role(strings.ToLower(string(r))) {
	case RoleSystem, RoleUser, RoleAssistant, RoleObservation:
		return true
	}
	return false
}

// ExtractJSON returns the text between the first '{' and the last '}' of
// content when it is a valid JSON object. Models often wrap their JSON in
// prose or code fences.
func ExtractJSON(content string) (json.RawMessage, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return nil, errors.New("turns: no JSON object in content")
	}
	raw := json.RawMessage(content[start : end+1])
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, errors.Wrap(err, "turns: invalid JSON object")
	}
	return raw, nil
}
