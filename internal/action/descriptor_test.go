package action

import (
	"encoding/json"
	"testing"
	"time"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Descriptor
	}{
		{"click", `{"action":"click","selector":"#go"}`, Click{Selector: "#go"}},
		{"type", `{"action":"type","selector":"input","value":"hello"}`, Type{Selector: "input", Value: "hello"}},
		{"type empty value", `{"action":"type","selector":"input","value":""}`, Type{Selector: "input", Value: ""}},
		{"navigate", `{"action":"navigate","url":" https://example.com "}`, Navigate{URL: "https://example.com"}},
		{"scroll down", `{"action":"scroll","direction":"down"}`, Scroll{Direction: Down}},
		{"scroll up mixed case", `{"action":"scroll","direction":"Up"}`, Scroll{Direction: Up}},
		{"wait", `{"action":"wait","duration":1500}`, Wait{Duration: 1500 * time.Millisecond}},
		{"wait string duration", `{"action":"wait","duration":"250"}`, Wait{Duration: 250 * time.Millisecond}},
		{"wait for selector", `{"action":"wait_for_selector","selector":".feed","timeout":2000}`,
			WaitForSelector{Selector: ".feed", Timeout: 2 * time.Second}},
		{"camel wait for selector", `{"action":"waitForSelector","selector":".feed"}`,
			WaitForSelector{Selector: ".feed"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Decode(json.RawMessage(tt.raw))
			if got != tt.want {
				t.Errorf("Decode(%s) = %#v, want %#v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestDecodeInert(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"click without selector", `{"action":"click"}`},
		{"click blank selector", `{"action":"click","selector":"  "}`},
		{"type without value", `{"action":"type","selector":"input"}`},
		{"type without selector", `{"action":"type","value":"x"}`},
		{"navigate without url", `{"action":"navigate"}`},
		{"scroll sideways", `{"action":"scroll","direction":"left"}`},
		{"scroll without direction", `{"action":"scroll"}`},
		{"wait without duration", `{"action":"wait"}`},
		{"wait negative", `{"action":"wait","duration":-1}`},
		{"wait for selector without selector", `{"action":"wait_for_selector"}`},
		{"unknown action", `{"action":"hover","selector":"#x"}`},
		{"missing action", `{"selector":"#x"}`},
		{"not an object", `[1,2,3]`},
		{"bad duration", `{"action":"wait","duration":"soon"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Decode(json.RawMessage(tt.raw))
			inert, ok := got.(Inert)
			if !ok {
				t.Fatalf("Decode(%s) = %#v, want Inert", tt.raw, got)
			}
			if inert.Reason == "" {
				t.Error("expected a reason on inert descriptor")
			}
			if got.Kind() != KindUnknown {
				t.Errorf("Kind() = %q, want %q", got.Kind(), KindUnknown)
			}
		})
	}
}

func TestDecodeListPreservesOrder(t *testing.T) {
	raws := []json.RawMessage{
		json.RawMessage(`{"action":"click","selector":"a"}`),
		json.RawMessage(`{"action":"bogus"}`),
		json.RawMessage(`{"action":"scroll","direction":"down"}`),
	}
	got := DecodeList(raws)
	if len(got) != 3 {
		t.Fatalf("expected 3 descriptors, got %d", len(got))
	}
	if got[0].Kind() != KindClick || got[1].Kind() != KindUnknown || got[2].Kind() != KindScroll {
		t.Errorf("unexpected kinds: %s %s %s", got[0].Kind(), got[1].Kind(), got[2].Kind())
	}
}

func TestToWireRoundTrip(t *testing.T) {
	descriptors := []Descriptor{
		Click{Selector: "#a"},
		Type{Selector: "#b", Value: ""},
		Navigate{URL: "https://example.com/x"},
		Scroll{Direction: Up},
		Wait{Duration: 750 * time.Millisecond},
		WaitForSelector{Selector: ".c", Timeout: 3 * time.Second},
	}
	for _, d := range descriptors {
		raw, err := json.Marshal(ToWire(d))
		if err != nil {
			t.Fatalf("marshal %#v: %v", d, err)
		}
		if got := Decode(raw); got != d {
			t.Errorf("round trip of %#v via %s gave %#v", d, raw, got)
		}
	}
}
