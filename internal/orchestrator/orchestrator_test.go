package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"demoagent-server/internal/action"
	"demoagent-server/internal/browser"
	"demoagent-server/internal/browser/browsertest"
	"demoagent-server/internal/config"
	"demoagent-server/internal/conversation"
	"demoagent-server/internal/decision"
	"demoagent-server/internal/demo"
	"demoagent-server/internal/journal"
	"demoagent-server/internal/metrics"
)

type fakeDecider struct {
	mu        sync.Mutex
	decisions []decision.Decision
	err       error
	requests  []decision.Request
}

func (f *fakeDecider) Decide(_ context.Context, req decision.Request) (decision.Decision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return decision.Decision{}, f.err
	}
	if len(f.decisions) == 0 {
		return decision.Decision{AIResponse: "ok"}, nil
	}
	d := f.decisions[0]
	f.decisions = f.decisions[1:]
	return d, nil
}

func (f *fakeDecider) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeDecider) last() decision.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

type harness struct {
	orch     *Orchestrator
	launcher *browsertest.FakeLauncher
	page     *browsertest.FakePage
	decider  *fakeDecider
	state    *conversation.State
	sessions *browser.SessionManager
	journal  *journal.Journal
}

func noSleep(context.Context, time.Duration) error { return nil }

func newHarness(t *testing.T, demos map[string]string) *harness {
	t.Helper()
	dir := t.TempDir()
	for tag, body := range demos {
		if err := os.WriteFile(filepath.Join(dir, tag+".json"), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	page := browsertest.NewFakePage("#present", "#compose")
	launcher := &browsertest.FakeLauncher{Page: page}
	sessions := browser.NewSessionManager(launcher, nil)
	exec := action.NewExecutor(action.DefaultTimeouts,
		action.WithSleep(noSleep),
		action.WithURLSink(sessions),
	)
	j, err := journal.New(config.JournalConfig{Enable: true, FactBufferLimit: 512}, nil)
	if err != nil {
		t.Fatal(err)
	}
	state := conversation.NewState()
	decider := &fakeDecider{}

	orch := New(Options{
		Sessions: sessions,
		Executor: exec,
		Demos:    demo.NewLoader(dir),
		Decider:  decider,
		State:    state,
		Journal:  j,
		Metrics:  metrics.New(),
	})
	return &harness{
		orch:     orch,
		launcher: launcher,
		page:     page,
		decider:  decider,
		state:    state,
		sessions: sessions,
		journal:  j,
	}
}

const shopDemo = `{
	"start_url": "https://shop.example.com",
	"name": "Shop",
	"initial_greeting": "Welcome to Shop!",
	"product_features": ["dark mode", "checkout"],
	"predefined_actions": [
		{"action": "click", "selector": "#missing"},
		{"action": "scroll", "direction": "down"}
	]
}`

const twitterDemo = `{
	"start_url": "https://twitter.com",
	"product_features": ["Post a tweet"]
}`

func TestInteractBeforeStart(t *testing.T) {
	h := newHarness(t, map[string]string{"shop": shopDemo})

	_, err := h.orch.Interact(context.Background(), "hello", nil)
	if !errors.Is(err, browser.ErrSessionNotStarted) {
		t.Fatalf("error = %v, want ErrSessionNotStarted", err)
	}
	if h.decider.calls() != 0 {
		t.Error("decision service should not be called")
	}
	if len(h.launcher.Engines()) != 0 || len(h.page.Calls()) != 0 {
		t.Error("browser should not be touched")
	}
}

func TestStartDemoSetupFailureBecomesCaveat(t *testing.T) {
	h := newHarness(t, map[string]string{"shop": shopDemo})

	resp, err := h.orch.StartDemo(context.Background(), "shop")
	if err != nil {
		t.Fatalf("StartDemo: %v", err)
	}
	if !strings.HasPrefix(resp.AIResponse, "Welcome to Shop! I encountered an issue during setup: ") {
		t.Errorf("response = %q", resp.AIResponse)
	}
	if !strings.HasSuffix(resp.AIResponse, ". I'll proceed, but please be aware.") {
		t.Errorf("response = %q", resp.AIResponse)
	}
	if strings.Count(resp.AIResponse, "I encountered an issue") != 1 {
		t.Errorf("expected exactly one caveat, got %q", resp.AIResponse)
	}
	if len(resp.Screenshot) == 0 {
		t.Error("expected a screenshot")
	}

	// the failing click did not stop the script
	if len(h.page.CallsOf("evaluate")) != 1 {
		t.Error("scroll after the failed click should still run")
	}
	if n := len(h.page.CallsOf("click")); n != 3 {
		t.Errorf("click attempts = %d, want 3", n)
	}

	sess := h.orch.Session()
	if sess.Status != browser.StatusActive || sess.CurrentURL != "https://shop.example.com" {
		t.Errorf("session = %+v", sess)
	}
	if got := h.journal.FactsByPredicate("action_failed"); len(got) != 1 || got[0].Args[2] != "#missing" {
		t.Errorf("action_failed facts = %+v", got)
	}
}

func TestStartDemoDefaultsTag(t *testing.T) {
	h := newHarness(t, map[string]string{"twitter": twitterDemo})

	resp, err := h.orch.StartDemo(context.Background(), "")
	if err != nil {
		t.Fatalf("StartDemo: %v", err)
	}
	want := "Hello! Welcome to the demo of Twitter. I'm performing the initial setup steps. What would you like to explore first?"
	if resp.AIResponse != want {
		t.Errorf("response = %q, want %q", resp.AIResponse, want)
	}
}

func TestStartDemoErrors(t *testing.T) {
	t.Run("config not found", func(t *testing.T) {
		h := newHarness(t, nil)
		_, err := h.orch.StartDemo(context.Background(), "nope")
		if !errors.Is(err, demo.ErrConfigNotFound) {
			t.Fatalf("error = %v, want ErrConfigNotFound", err)
		}
		if len(h.launcher.Engines()) != 0 {
			t.Error("no engine should be launched")
		}
	})

	t.Run("invalid start url", func(t *testing.T) {
		h := newHarness(t, map[string]string{"bad": `{"start_url": "shop.example.com"}`})
		_, err := h.orch.StartDemo(context.Background(), "bad")
		if !errors.Is(err, demo.ErrInvalidConfig) {
			t.Fatalf("error = %v, want ErrInvalidConfig", err)
		}
	})

	t.Run("launch failure", func(t *testing.T) {
		h := newHarness(t, map[string]string{"shop": shopDemo})
		h.launcher.LaunchErr = errors.New("chrome missing")
		_, err := h.orch.StartDemo(context.Background(), "shop")
		if !errors.Is(err, browser.ErrSessionInit) {
			t.Fatalf("error = %v, want ErrSessionInit", err)
		}
		if h.orch.Session().Status != browser.StatusUninitialized {
			t.Error("session should be uninitialized")
		}
	})

	t.Run("navigation failure closes session", func(t *testing.T) {
		h := newHarness(t, map[string]string{"shop": shopDemo})
		h.page.NavigateErr = errors.New("net::ERR_CONNECTION_REFUSED")
		if _, err := h.orch.StartDemo(context.Background(), "shop"); err == nil {
			t.Fatal("expected error")
		}
		if h.orch.Session().Status != browser.StatusUninitialized {
			t.Error("session should be uninitialized")
		}
		engines := h.launcher.Engines()
		if len(engines) != 1 || engines[0].Closed() != 1 {
			t.Error("engine should be torn down")
		}
	})

	t.Run("screenshot failure closes session", func(t *testing.T) {
		h := newHarness(t, map[string]string{"twitter": twitterDemo})
		h.page.ScreenshotErr = errors.New("target closed")
		if _, err := h.orch.StartDemo(context.Background(), "twitter"); err == nil {
			t.Fatal("expected error")
		}
		if h.orch.Session().Status != browser.StatusUninitialized {
			t.Error("session should be uninitialized")
		}
	})
}

func TestInteractProposalWithoutAction(t *testing.T) {
	h := newHarness(t, map[string]string{"shop": shopDemo})
	ctx := context.Background()
	if _, err := h.orch.StartDemo(ctx, "shop"); err != nil {
		t.Fatal(err)
	}
	mutations := h.page.Mutations()

	h.decider.decisions = []decision.Decision{{AIResponse: "Want to see dark mode?", ProposedFeature: "dark mode"}}
	resp, err := h.orch.Interact(ctx, "what can it do?", nil)
	if err != nil {
		t.Fatalf("Interact: %v", err)
	}
	if resp.AIResponse != "Want to see dark mode?" {
		t.Errorf("response = %q", resp.AIResponse)
	}
	if h.page.Mutations() != mutations {
		t.Error("no browser mutation expected")
	}
	if f, ok := h.state.Proposed(); !ok || f != "dark mode" {
		t.Errorf("proposal = %q/%v, want dark mode", f, ok)
	}
	if len(resp.Screenshot) == 0 {
		t.Error("expected a screenshot")
	}
}

func TestInteractConfirmationRewritesMessage(t *testing.T) {
	h := newHarness(t, map[string]string{"shop": shopDemo})
	ctx := context.Background()
	if _, err := h.orch.StartDemo(ctx, "shop"); err != nil {
		t.Fatal(err)
	}
	h.decider.decisions = []decision.Decision{
		{AIResponse: "Want to see dark mode?", ProposedFeature: "dark mode"},
		{AIResponse: "Here it is", Action: action.Click{Selector: "#present"}},
	}
	if _, err := h.orch.Interact(ctx, "hi", nil); err != nil {
		t.Fatal(err)
	}

	history := []conversation.Turn{
		{Role: conversation.RoleAssistant, Text: "Welcome to Shop!"},
		{Role: "system", Text: "ignored"},
		{Role: conversation.RoleUser, Text: "hi"},
		{Role: conversation.RoleAssistant, Text: "Want to see dark mode?"},
	}
	resp, err := h.orch.Interact(ctx, "yes please", history)
	if err != nil {
		t.Fatal(err)
	}
	if resp.AIResponse != "Here it is" {
		t.Errorf("response = %q", resp.AIResponse)
	}

	req := h.decider.last()
	if req.Message != "User confirmed to see: dark mode. Now, please demonstrate this feature." {
		t.Errorf("effective message = %q", req.Message)
	}
	if len(req.History) != 3 {
		t.Errorf("history = %+v, want 3 turns", req.History)
	}
	if req.CurrentURL != "https://shop.example.com" {
		t.Errorf("current url = %q", req.CurrentURL)
	}
	if len(req.Features) != 2 || len(req.Screenshot) == 0 {
		t.Errorf("request features/screenshot = %v/%d", req.Features, len(req.Screenshot))
	}
	if _, ok := h.state.Proposed(); ok {
		t.Error("proposal should be cleared")
	}
}

func TestInteractActionOutcomes(t *testing.T) {
	tests := []struct {
		name   string
		action action.Descriptor
		want   string
	}{
		{"success", action.Click{Selector: "#present"}, "Done"},
		{"invalid url", action.Navigate{URL: "shop.example.com/pricing"},
			"Done I received an invalid URL for navigation. Please provide a full URL starting with http:// or https://."},
		{"inert", action.Inert{Action: "hover", Reason: "unrecognized action"},
			"Done I received an unrecognized web action from the AI."},
		{"failure", action.Click{Selector: "#gone"},
			"Done I tried to perform an action on the website but encountered an issue: "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, map[string]string{"twitter": twitterDemo})
			ctx := context.Background()
			if _, err := h.orch.StartDemo(ctx, "twitter"); err != nil {
				t.Fatal(err)
			}
			h.decider.decisions = []decision.Decision{{AIResponse: "Done", Action: tt.action}}

			resp, err := h.orch.Interact(ctx, "go", nil)
			if err != nil {
				t.Fatalf("Interact: %v", err)
			}
			if !strings.HasPrefix(resp.AIResponse, tt.want) {
				t.Errorf("response = %q, want prefix %q", resp.AIResponse, tt.want)
			}
			if tt.name == "failure" && !strings.HasSuffix(resp.AIResponse, ". Let's try something else.") {
				t.Errorf("response = %q", resp.AIResponse)
			}
		})
	}
}

func TestInteractNavigateUpdatesURL(t *testing.T) {
	h := newHarness(t, map[string]string{"twitter": twitterDemo})
	ctx := context.Background()
	if _, err := h.orch.StartDemo(ctx, "twitter"); err != nil {
		t.Fatal(err)
	}
	h.decider.decisions = []decision.Decision{{AIResponse: "Going", Action: action.Navigate{URL: "https://twitter.com/explore"}}}
	if _, err := h.orch.Interact(ctx, "explore", nil); err != nil {
		t.Fatal(err)
	}
	if got := h.orch.Session().CurrentURL; got != "https://twitter.com/explore" {
		t.Errorf("current url = %q", got)
	}
}

func TestInteractDecisionFailure(t *testing.T) {
	h := newHarness(t, map[string]string{"shop": shopDemo})
	ctx := context.Background()
	if _, err := h.orch.StartDemo(ctx, "shop"); err != nil {
		t.Fatal(err)
	}
	h.state.Observe("checkout")
	h.decider.err = errors.New("connection reset")

	_, err := h.orch.Interact(ctx, "what's the weather", nil)
	if !errors.Is(err, decision.ErrDecisionService) {
		t.Fatalf("error = %v, want ErrDecisionService", err)
	}
	if f, ok := h.state.Proposed(); !ok || f != "checkout" {
		t.Errorf("proposal = %q/%v, want checkout kept", f, ok)
	}
	if h.orch.Session().Status != browser.StatusActive {
		t.Error("session should stay active")
	}
}

func TestInteractScreenshotIsBestEffort(t *testing.T) {
	h := newHarness(t, map[string]string{"twitter": twitterDemo})
	ctx := context.Background()
	if _, err := h.orch.StartDemo(ctx, "twitter"); err != nil {
		t.Fatal(err)
	}
	h.page.FailScreenshots = 1

	resp, err := h.orch.Interact(ctx, "hi", nil)
	if err != nil {
		t.Fatalf("Interact: %v", err)
	}
	if h.decider.last().Screenshot != nil {
		t.Error("decision request should carry no image")
	}
	if len(resp.Screenshot) == 0 {
		t.Error("response should still carry the fresh screenshot")
	}

	h.page.ScreenshotErr = errors.New("target closed")
	if _, err := h.orch.Interact(ctx, "hi", nil); err == nil {
		t.Error("final screenshot failure should fail the turn")
	}
}

func TestStopThenStartTwiceLeavesOneSession(t *testing.T) {
	h := newHarness(t, map[string]string{"shop": shopDemo, "twitter": twitterDemo})
	ctx := context.Background()

	if _, err := h.orch.StartDemo(ctx, "shop"); err != nil {
		t.Fatal(err)
	}
	h.decider.decisions = []decision.Decision{{AIResponse: "Want to see dark mode?", ProposedFeature: "dark mode"}}
	if _, err := h.orch.Interact(ctx, "hi", nil); err != nil {
		t.Fatal(err)
	}

	if err := h.orch.StopDemo(ctx); err != nil {
		t.Fatal(err)
	}
	if h.orch.Session().Status != browser.StatusUninitialized {
		t.Error("stop should leave the session uninitialized")
	}
	if ctxState := h.orch.Conversation(); len(ctxState.ProductFeatures) != 0 || ctxState.ProposedFeature != "" {
		t.Errorf("stop should clear conversation state, got %+v", ctxState)
	}

	for i := 0; i < 2; i++ {
		if _, err := h.orch.StartDemo(ctx, "twitter"); err != nil {
			t.Fatal(err)
		}
	}

	open := 0
	for _, e := range h.launcher.Engines() {
		if e.Closed() == 0 {
			open++
		}
	}
	if open != 1 {
		t.Errorf("open engines = %d, want 1", open)
	}
	if h.orch.Session().Status != browser.StatusActive {
		t.Error("session should be active")
	}
	got := h.orch.Conversation()
	if len(got.ProductFeatures) != 1 || got.ProductFeatures[0] != "Post a tweet" || got.ProposedFeature != "" {
		t.Errorf("conversation = %+v", got)
	}
	if stopped := h.journal.FactsByPredicate("demo_stopped"); len(stopped) != 2 {
		t.Errorf("demo_stopped facts = %d, want 2", len(stopped))
	}
}

func TestStopDemoIsIdempotent(t *testing.T) {
	h := newHarness(t, nil)
	for i := 0; i < 2; i++ {
		if err := h.orch.StopDemo(context.Background()); err != nil {
			t.Fatalf("StopDemo: %v", err)
		}
	}
}
