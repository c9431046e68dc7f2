// Package action models the closed set of browser actions a demo can take
// and executes them against a live page.
package action

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind names an action on the wire.
type Kind string

const (
	KindClick           Kind = "click"
	KindType            Kind = "type"
	KindNavigate        Kind = "navigate"
	KindScroll          Kind = "scroll"
	KindWait            Kind = "wait"
	KindWaitForSelector Kind = "wait_for_selector"
	KindUnknown         Kind = "unknown"
)

// Direction is the scroll direction.
type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

// Descriptor is one abstract browser action. The set of implementations is
// closed: Click, Type, Navigate, Scroll, Wait, WaitForSelector and Inert.
type Descriptor interface {
	Kind() Kind
	// Target is the selector or URL the action addresses, if any.
	Target() string
	isDescriptor()
}

type Click struct {
	Selector string
}

type Type struct {
	Selector string
	Value    string
}

type Navigate struct {
	URL string
}

type Scroll struct {
	Direction Direction
}

type Wait struct {
	Duration time.Duration
}

// WaitForSelector polls for Selector; a zero Timeout uses DefaultSelectorTimeout.
type WaitForSelector struct {
	Selector string
	Timeout  time.Duration
}

// Inert stands in for an unrecognized or incomplete descriptor. Executing it
// touches nothing and yields a warning.
type Inert struct {
	Action string
	Reason string
}

func (Click) Kind() Kind           { return KindClick }
func (Type) Kind() Kind            { return KindType }
func (Navigate) Kind() Kind        { return KindNavigate }
func (Scroll) Kind() Kind          { return KindScroll }
func (Wait) Kind() Kind            { return KindWait }
func (WaitForSelector) Kind() Kind { return KindWaitForSelector }
func (Inert) Kind() Kind           { return KindUnknown }

func (a Click) Target() string           { return a.Selector }
func (a Type) Target() string            { return a.Selector }
func (a Navigate) Target() string        { return a.URL }
func (a Scroll) Target() string          { return string(a.Direction) }
func (Wait) Target() string              { return "" }
func (a WaitForSelector) Target() string { return a.Selector }
func (a Inert) Target() string           { return a.Action }

func (Click) isDescriptor()           {}
func (Type) isDescriptor()            {}
func (Navigate) isDescriptor()        {}
func (Scroll) isDescriptor()          {}
func (Wait) isDescriptor()            {}
func (WaitForSelector) isDescriptor() {}
func (Inert) isDescriptor()           {}

// Millis is a millisecond count that decodes from a JSON number or numeric string.
type Millis int64

func (m *Millis) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		b = []byte(strings.TrimSpace(s))
	}
	f, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return fmt.Errorf("invalid millisecond value %s", b)
	}
	*m = Millis(f)
	return nil
}

// Duration converts the count to a time.Duration.
func (m Millis) Duration() time.Duration {
	return time.Duration(m) * time.Millisecond
}

// Wire is the loose JSON shape shared by demo configs and decision replies.
type Wire struct {
	Action    string  `json:"action"`
	Selector  *string `json:"selector,omitempty"`
	Value     *string `json:"value,omitempty"`
	URL       *string `json:"url,omitempty"`
	Direction *string `json:"direction,omitempty"`
	Duration  *Millis `json:"duration,omitempty"`
	Timeout   *Millis `json:"timeout,omitempty"`
}

// Decode parses one wire object. Malformed JSON and unknown or incomplete
// shapes decode to Inert rather than failing.
func Decode(raw json.RawMessage) Descriptor {
	var w Wire
	if err := json.Unmarshal(raw, &w); err != nil {
		return Inert{Reason: fmt.Sprintf("malformed action: %v", err)}
	}
	return w.Descriptor()
}

// DecodeList parses an array of wire objects in order.
func DecodeList(raws []json.RawMessage) []Descriptor {
	out := make([]Descriptor, 0, len(raws))
	for _, raw := range raws {
		out = append(out, Decode(raw))
	}
	return out
}

func nonEmpty(s *string) (string, bool) {
	if s == nil || strings.TrimSpace(*s) == "" {
		return "", false
	}
	return *s, true
}

// Descriptor converts the wire shape into the closed union.
func (w Wire) Descriptor() Descriptor {
	tag := strings.TrimSpace(w.Action)
	switch tag {
	case "click":
		if sel, ok := nonEmpty(w.Selector); ok {
			return Click{Selector: sel}
		}
		return Inert{Action: tag, Reason: "click requires a selector"}
	case "type":
		sel, ok := nonEmpty(w.Selector)
		if !ok || w.Value == nil {
			return Inert{Action: tag, Reason: "type requires a selector and a value"}
		}
		return Type{Selector: sel, Value: *w.Value}
	case "navigate":
		if u, ok := nonEmpty(w.URL); ok {
			return Navigate{URL: strings.TrimSpace(u)}
		}
		return Inert{Action: tag, Reason: "navigate requires a url"}
	case "scroll":
		if w.Direction != nil {
			switch d := Direction(strings.ToLower(strings.TrimSpace(*w.Direction))); d {
			case Up, Down:
				return Scroll{Direction: d}
			}
		}
		return Inert{Action: tag, Reason: "scroll requires direction up or down"}
	case "wait":
		if w.Duration == nil || *w.Duration < 0 {
			return Inert{Action: tag, Reason: "wait requires a non-negative duration"}
		}
		return Wait{Duration: w.Duration.Duration()}
	case "wait_for_selector", "waitForSelector":
		sel, ok := nonEmpty(w.Selector)
		if !ok {
			return Inert{Action: tag, Reason: "wait_for_selector requires a selector"}
		}
		var timeout time.Duration
		if w.Timeout != nil && *w.Timeout > 0 {
			timeout = w.Timeout.Duration()
		}
		return WaitForSelector{Selector: sel, Timeout: timeout}
	case "":
		return Inert{Reason: "missing action"}
	default:
		return Inert{Action: tag, Reason: fmt.Sprintf("unrecognized action %q", tag)}
	}
}

// ToWire renders a descriptor back into its wire shape.
func ToWire(d Descriptor) Wire {
	str := func(s string) *string { return &s }
	ms := func(d time.Duration) *Millis { m := Millis(d.Milliseconds()); return &m }

	switch a := d.(type) {
	case Click:
		return Wire{Action: string(KindClick), Selector: str(a.Selector)}
	case Type:
		return Wire{Action: string(KindType), Selector: str(a.Selector), Value: str(a.Value)}
	case Navigate:
		return Wire{Action: string(KindNavigate), URL: str(a.URL)}
	case Scroll:
		return Wire{Action: string(KindScroll), Direction: str(string(a.Direction))}
	case Wait:
		return Wire{Action: string(KindWait), Duration: ms(a.Duration)}
	case WaitForSelector:
		w := Wire{Action: string(KindWaitForSelector), Selector: str(a.Selector)}
		if a.Timeout > 0 {
			w.Timeout = ms(a.Timeout)
		}
		return w
	case Inert:
		return Wire{Action: a.Action}
	default:
		return Wire{}
	}
}
