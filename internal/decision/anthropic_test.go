package decision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"demoagent-server/internal/action"
	"demoagent-server/internal/conversation"
)

type capturedMessage struct {
	Role    string `json:"role"`
	Content []struct {
		Type   string `json:"type"`
		Text   string `json:"text"`
		Source struct {
			Type      string `json:"type"`
			MediaType string `json:"media_type"`
			Data      string `json:"data"`
		} `json:"source"`
	} `json:"content"`
}

type capturedRequest struct {
	Model     string            `json:"model"`
	MaxTokens int               `json:"max_tokens"`
	Messages  []capturedMessage `json:"messages"`
}

func messagesServer(t *testing.T, replyText string, status int, got *capturedRequest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/v1/messages") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got != nil {
			if err := json.NewDecoder(r.Body).Decode(got); err != nil {
				t.Errorf("decode request: %v", err)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			fmt.Fprint(w, `{"type":"error","error":{"type":"api_error","message":"boom"}}`)
			return
		}
		text, _ := json.Marshal(replyText)
		fmt.Fprintf(w, `{"id":"msg_1","type":"message","role":"assistant","model":"test-model",
			"content":[{"type":"text","text":%s}],"stop_reason":"end_turn",
			"usage":{"input_tokens":10,"output_tokens":5}}`, text)
	}))
}

func newTestService(url string) *AnthropicService {
	return NewAnthropicService(AnthropicConfig{
		APIKey:    "test-key",
		Model:     "test-model",
		MaxTokens: 256,
		Timeout:   5 * time.Second,
		BaseURL:   url,
	}, nil)
}

func TestAnthropicDecide(t *testing.T) {
	var got capturedRequest
	srv := messagesServer(t, `{"ai_response":"Let me open settings","web_action":{"action":"click","selector":"#settings"}}`, http.StatusOK, &got)
	defer srv.Close()

	d, err := newTestService(srv.URL).Decide(context.Background(), Request{
		CurrentURL: "https://app.example.com",
		Message:    "where are settings?",
		Screenshot: []byte{0xff, 0xd8, 0xff, 0xd9},
		History: []conversation.Turn{
			{Role: conversation.RoleAssistant, Text: "Welcome!"},
			{Role: "system", Text: "dropped"},
			{Role: conversation.RoleUser, Text: "hi"},
			{Role: conversation.RoleAssistant, Text: "Hello"},
		},
	})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if d.AIResponse != "Let me open settings" || d.Action != (action.Click{Selector: "#settings"}) {
		t.Errorf("unexpected decision %+v", d)
	}

	if got.Model != "test-model" || got.MaxTokens != 256 {
		t.Errorf("model/max_tokens = %q/%d", got.Model, got.MaxTokens)
	}
	roles := make([]string, len(got.Messages))
	for i, m := range got.Messages {
		roles[i] = m.Role
	}
	if strings.Join(roles, ",") != "user,assistant,user,assistant,user" {
		t.Fatalf("roles = %v", roles)
	}
	if got.Messages[1].Content[0].Text != "Welcome!" {
		t.Errorf("greeting turn = %q", got.Messages[1].Content[0].Text)
	}

	last := got.Messages[len(got.Messages)-1]
	if len(last.Content) != 2 {
		t.Fatalf("final message blocks = %d, want text + image", len(last.Content))
	}
	if last.Content[0].Type != "text" || !strings.Contains(last.Content[0].Text, "where are settings?") {
		t.Errorf("prompt block = %+v", last.Content[0])
	}
	img := last.Content[1]
	if img.Type != "image" || img.Source.Type != "base64" || img.Source.MediaType != "image/jpeg" || img.Source.Data != "/9j/2Q==" {
		t.Errorf("image block = %+v", img)
	}
}

func TestAnthropicDecideWithoutScreenshot(t *testing.T) {
	var got capturedRequest
	srv := messagesServer(t, `{"ai_response":"ok"}`, http.StatusOK, &got)
	defer srv.Close()

	if _, err := newTestService(srv.URL).Decide(context.Background(), Request{Message: "hi"}); err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if len(got.Messages) != 1 || len(got.Messages[0].Content) != 1 {
		t.Errorf("expected a single text-only message, got %+v", got.Messages)
	}
}

func TestAnthropicDecideErrors(t *testing.T) {
	t.Run("malformed reply", func(t *testing.T) {
		srv := messagesServer(t, "Sure! I'll click the button.", http.StatusOK, nil)
		defer srv.Close()
		if _, err := newTestService(srv.URL).Decide(context.Background(), Request{Message: "hi"}); !errors.Is(err, ErrDecisionService) {
			t.Errorf("error = %v, want ErrDecisionService", err)
		}
	})
	t.Run("api error", func(t *testing.T) {
		srv := messagesServer(t, "", http.StatusInternalServerError, nil)
		defer srv.Close()
		if _, err := newTestService(srv.URL).Decide(context.Background(), Request{Message: "hi"}); !errors.Is(err, ErrDecisionService) {
			t.Errorf("error = %v, want ErrDecisionService", err)
		}
	})
}

func TestAlternate(t *testing.T) {
	in := []conversation.Turn{
		{Role: conversation.RoleUser, Text: "a"},
		{Role: conversation.RoleUser, Text: "b"},
		{Role: conversation.RoleAssistant, Text: "c"},
	}
	out := alternate(in)
	if len(out) != 2 || out[0].Text != "a\n\nb" || out[1].Text != "c" {
		t.Errorf("alternate = %+v", out)
	}
	if in[0].Text != "a" {
		t.Error("alternate must not mutate its input")
	}
}
