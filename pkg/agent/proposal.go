package agent

import (
	"encoding/json"

	"github.com/go-go-golems/tablechat/pkg/turns"
)

// FinalAnswerAction is the action the model names when it answers instead of
// calling a tool.
const FinalAnswerAction = "final_answer"

// Proposal is a tool call extracted from an assistant message.
type Proposal struct {
	Action string          `json:"action"`
	Input  json.RawMessage `json:"action_input"`
}

// ParseProposal reports whether content carries a JSON object with both an
// action and an action_input key. The object may be surrounded by prose. An
// object whose action is final_answer is an answer, not a proposal.
func ParseProposal(content string) (Proposal, bool) {
	raw, err := turns.ExtractJSON(content)
	if err != nil {
		return Proposal{}, false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Proposal{}, false
	}
	action, hasAction := fields["action"]
	input, hasInput := fields["action_input"]
	if !hasAction || !hasInput {
		return Proposal{}, false
	}
	var name string
	if err := json.Unmarshal(action, &name); err != nil {
		// a non-string action names no tool
		name = string(action)
	}
	if name == FinalAnswerAction {
		return Proposal{}, false
	}
	return Proposal{Action: name, Input: input}, true
}
