package responder

import (
	"encoding/json"
	"strings"
)

// DecodeReply extracts the assistant text from an upstream response body.
// Shapes are tried in order:
//
//  1. {"text": "..."}: the plain answer.
//  2. {"agentReasoning": [...]}: an agent trail; the trail is walked from
//     the last agent backwards, taking the last message (its "content" when
//     the message is an object, the string itself otherwise) or, failing
//     that, the agent's "instructions".
//  3. A body that is not JSON at all is used verbatim.
//
// When none of these produce text, UnparsedReplyText is returned.
func DecodeReply(raw []byte) string {
	var envelope struct {
		Text           string          `json:"text"`
		AgentReasoning json.RawMessage `json:"agentReasoning"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		if s := strings.TrimSpace(string(raw)); s != "" {
			return s
		}
		return UnparsedReplyText
	}

	if s := strings.TrimSpace(envelope.Text); s != "" {
		return s
	}

	if len(envelope.AgentReasoning) > 0 {
		if s := decodeAgentTrail(envelope.AgentReasoning); s != "" {
			return s
		}
	}

	return UnparsedReplyText
}

// agentStep is one entry of the reasoning trail. Messages are RawMessage
// because upstream mixes plain strings and {"content": ...} objects in the
// same list.
type agentStep struct {
	Messages     []json.RawMessage `json:"messages"`
	Instructions string            `json:"instructions"`
}

// decodeAgentTrail walks the trail from the final agent backwards and
// returns the first usable text.
func decodeAgentTrail(raw json.RawMessage) string {
	var trail []agentStep
	if err := json.Unmarshal(raw, &trail); err != nil {
		return ""
	}
	for i := len(trail) - 1; i >= 0; i-- {
		step := trail[i]
		if n := len(step.Messages); n > 0 {
			if s := decodeTrailMessage(step.Messages[n-1]); s != "" {
				return s
			}
		}
		if s := strings.TrimSpace(step.Instructions); s != "" {
			return s
		}
	}
	return ""
}

// decodeTrailMessage accepts either a bare string or an object carrying a
// "content" field.
func decodeTrailMessage(raw json.RawMessage) string {
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return strings.TrimSpace(asString)
	}
	var asObject struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(raw, &asObject); err == nil {
		return strings.TrimSpace(asObject.Content)
	}
	return ""
}
