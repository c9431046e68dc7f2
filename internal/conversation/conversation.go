// Package conversation tracks the confirm/decline sub-protocol around a
// feature the assistant has offered to demonstrate.
package conversation

import (
	"fmt"
	"strings"
	"sync"
)

// Reply classifies a user message against a pending proposal.
type Reply int

const (
	Unclassified Reply = iota
	Confirmed
	Declined
)

func (r Reply) String() string {
	switch r {
	case Confirmed:
		return "confirmed"
	case Declined:
		return "declined"
	default:
		return "unclassified"
	}
}

var (
	confirmKeywords = []string{"yes", "show me", "sure", "ok"}
	declineKeywords = []string{"no", "not now", "later", "something else"}
)

// ClassifyReply matches message case-insensitively against the confirm
// keywords, then the decline keywords. Matching is by substring, so "know"
// counts as a decline. Without a pending proposal every message is
// Unclassified.
func ClassifyReply(message string, hasPending bool) Reply {
	if !hasPending {
		return Unclassified
	}
	lower := strings.ToLower(message)
	for _, kw := range confirmKeywords {
		if strings.Contains(lower, kw) {
			return Confirmed
		}
	}
	for _, kw := range declineKeywords {
		if strings.Contains(lower, kw) {
			return Declined
		}
	}
	return Unclassified
}

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one prior exchange in the client-held chat history.
type Turn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// FilterHistory keeps user and assistant turns with text, in order.
func FilterHistory(turns []Turn) []Turn {
	out := make([]Turn, 0, len(turns))
	for _, t := range turns {
		if (t.Role == RoleUser || t.Role == RoleAssistant) && strings.TrimSpace(t.Text) != "" {
			out = append(out, t)
		}
	}
	return out
}

// Context is what the decision service sees about the running demo.
type Context struct {
	ProductFeatures []string `json:"product_features"`
	ProposedFeature string   `json:"proposed_feature,omitempty"`
}

// Rewrite is the outcome of applying a reply to the pending proposal.
type Rewrite struct {
	Message string
	Reply   Reply
	Feature string
}

// State is the per-demo conversation context.
type State struct {
	mu       sync.RWMutex
	features []string
	proposed string
}

func NewState() *State {
	return &State{}
}

// Reset installs the features of a freshly started demo and drops any proposal.
func (s *State) Reset(features []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.features = append([]string(nil), features...)
	s.proposed = ""
}

// Clear empties the state; used when the session closes.
func (s *State) Clear() {
	s.Reset(nil)
}

// Context returns a copy of the current context.
func (s *State) Context() Context {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Context{
		ProductFeatures: append([]string(nil), s.features...),
		ProposedFeature: s.proposed,
	}
}

// Proposed returns the pending feature, if any.
func (s *State) Proposed() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.proposed, s.proposed != ""
}

// Rewrite classifies message against the pending proposal. A confirmation or
// decline consumes the proposal and replaces the message with an instruction
// for the decision service; anything else passes through unchanged.
func (s *State) Rewrite(message string) Rewrite {
	s.mu.Lock()
	defer s.mu.Unlock()

	feature := s.proposed
	out := Rewrite{Message: message, Reply: ClassifyReply(message, feature != "")}
	switch out.Reply {
	case Confirmed:
		out.Feature = feature
		out.Message = fmt.Sprintf("User confirmed to see: %s. Now, please demonstrate this feature.", feature)
		s.proposed = ""
	case Declined:
		out.Feature = feature
		out.Message = fmt.Sprintf("User declined to see: %s. User now asks: %s. Please suggest another feature or ask what they want.", feature, message)
		s.proposed = ""
	}
	return out
}

// Observe records the feature offered by the latest decision, or clears the
// proposal when none was offered.
func (s *State) Observe(proposedFeature string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.proposed = strings.TrimSpace(proposedFeature)
}
