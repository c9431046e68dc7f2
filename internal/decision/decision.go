// Package decision asks a language model what to say and do next in a demo.
package decision

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"demoagent-server/internal/action"
	"demoagent-server/internal/conversation"
)

// ErrDecisionService covers transport failures and replies that do not
// match the decision schema.
var ErrDecisionService = errors.New("decision service error")

// Decision is the validated reply for one turn. Action is nil when the model
// chose not to act.
type Decision struct {
	AIResponse      string
	Action          action.Descriptor
	ProposedFeature string
}

// Request is everything the model sees for one turn.
type Request struct {
	CurrentURL string
	Message    string
	Features   []string
	// Screenshot is raw JPEG bytes; nil when capture failed.
	Screenshot []byte
	History    []conversation.Turn
}

// Service picks the reply and optional action for a turn.
type Service interface {
	Decide(ctx context.Context, req Request) (Decision, error)
}

type reply struct {
	AIResponse      *string         `json:"ai_response"`
	WebAction       json.RawMessage `json:"web_action"`
	Action          json.RawMessage `json:"action"`
	ProposedFeature *string         `json:"proposed_feature"`
}

// ParseDecision validates a raw model reply. Markdown code fences around the
// JSON are tolerated. ai_response is mandatory; the action may be given as
// web_action or action and may be null.
func ParseDecision(raw []byte) (Decision, error) {
	body := stripFences(raw)

	var r reply
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(&r); err != nil {
		return Decision{}, fmt.Errorf("%w: malformed reply: %v", ErrDecisionService, err)
	}
	if r.AIResponse == nil || strings.TrimSpace(*r.AIResponse) == "" {
		return Decision{}, fmt.Errorf("%w: reply is missing ai_response", ErrDecisionService)
	}

	d := Decision{AIResponse: *r.AIResponse}
	if r.ProposedFeature != nil {
		d.ProposedFeature = strings.TrimSpace(*r.ProposedFeature)
	}

	rawAction := r.WebAction
	if isNull(rawAction) {
		rawAction = r.Action
	}
	if !isNull(rawAction) {
		trimmed := bytes.TrimSpace(rawAction)
		if trimmed[0] != '{' {
			return Decision{}, fmt.Errorf("%w: web_action must be an object", ErrDecisionService)
		}
		d.Action = action.Decode(trimmed)
	}
	return d, nil
}

// isNull reports an absent action: missing, null or an empty object.
func isNull(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	if len(t) == 0 || bytes.Equal(t, []byte("null")) {
		return true
	}
	if t[0] != '{' {
		return false
	}
	var fields map[string]json.RawMessage
	return json.Unmarshal(t, &fields) == nil && len(fields) == 0
}

func stripFences(raw []byte) []byte {
	s := strings.TrimSpace(string(raw))
	if !strings.HasPrefix(s, "```") {
		return []byte(s)
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return []byte(strings.TrimSpace(s))
}
