package mcp

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"demoagent-server/internal/journal"
	"demoagent-server/internal/orchestrator"
)

func demoPayload(resp orchestrator.Response) map[string]interface{} {
	return map[string]interface{}{
		"ai_response":        resp.AIResponse,
		"current_screenshot": base64.StdEncoding.EncodeToString(resp.Screenshot),
	}
}

type StartDemoTool struct {
	demo Demo
}

func (t *StartDemoTool) Name() string { return "start-demo" }
func (t *StartDemoTool) Description() string {
	return `Start a product demo in a fresh browser session.

Any running demo is stopped first. The demo's start page is opened and its
setup script runs before the greeting is returned.

Returns: {ai_response, current_screenshot} - screenshot is base64 JPEG.`
}
func (t *StartDemoTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"demo_tag": map[string]interface{}{
				"type":        "string",
				"description": "Demo definition to load (letters, digits, '-' and '_'). Defaults to the server's default demo.",
			},
		},
	}
}
func (t *StartDemoTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	resp, err := t.demo.StartDemo(ctx, getStringArg(args, "demo_tag"))
	if err != nil {
		return nil, err
	}
	return demoPayload(resp), nil
}

type InteractTool struct {
	demo Demo
}

func (t *InteractTool) Name() string { return "interact" }
func (t *InteractTool) Description() string {
	return `Send one visitor message to the running demo.

PREREQUISITE: start-demo must have been called.

The agent replies and performs at most one browser action. "yes"/"no" style
replies confirm or decline the last proposed feature.

Returns: {ai_response, current_screenshot}`
}
func (t *InteractTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"message": map[string]interface{}{
				"type":        "string",
				"description": "The visitor's message",
			},
			"chat_history": map[string]interface{}{
				"type":        "array",
				"description": "Prior turns, oldest first",
				"items": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"role": map[string]interface{}{"type": "string", "enum": []string{"user", "assistant"}},
						"text": map[string]interface{}{"type": "string"},
					},
				},
			},
		},
		"required": []string{"message"},
	}
}
func (t *InteractTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	history, err := getHistoryArg(args, "chat_history")
	if err != nil {
		return nil, err
	}
	resp, err := t.demo.Interact(ctx, getStringArg(args, "message"), history)
	if err != nil {
		return nil, err
	}
	return demoPayload(resp), nil
}

type StopDemoTool struct {
	demo Demo
}

func (t *StopDemoTool) Name() string { return "stop-demo" }
func (t *StopDemoTool) Description() string {
	return `Stop the running demo and close the browser. Safe to call when nothing is running.`
}
func (t *StopDemoTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}
func (t *StopDemoTool) Execute(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
	if err := t.demo.StopDemo(ctx); err != nil {
		return nil, err
	}
	return map[string]interface{}{"message": "Demo stopped and browser closed."}, nil
}

type DemoStatusTool struct {
	demo Demo
}

func (t *DemoStatusTool) Name() string { return "demo-status" }
func (t *DemoStatusTool) Description() string {
	return `Report the demo session status, current URL, product features and the
feature awaiting the visitor's confirmation, if any.`
}
func (t *DemoStatusTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}
func (t *DemoStatusTool) Execute(_ context.Context, _ map[string]interface{}) (interface{}, error) {
	conv := t.demo.Conversation()
	features := conv.ProductFeatures
	if features == nil {
		features = []string{}
	}
	return map[string]interface{}{
		"session":          t.demo.Session(),
		"product_features": features,
		"proposed_feature": conv.ProposedFeature,
	}, nil
}

type DemoJournalTool struct {
	journal *journal.Journal
}

func (t *DemoJournalTool) Name() string { return "demo-journal" }
func (t *DemoJournalTool) Description() string {
	return `Read the demo fact journal.

Pass "predicate" to list facts of one kind (e.g. action_failed), or "query"
for a Mangle query such as friction(Run, Kind, Target) or troubled_run(R, T).
With neither, returns every buffered fact.`
}
func (t *DemoJournalTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"predicate": map[string]interface{}{
				"type":        "string",
				"description": "Base predicate to list",
			},
			"query": map[string]interface{}{
				"type":        "string",
				"description": "Mangle query atom; variables are returned as bindings",
			},
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "Maximum facts returned, newest kept (default 100)",
			},
		},
	}
}
func (t *DemoJournalTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	if !t.journal.Enabled() {
		return nil, journal.ErrDisabled
	}

	if q := strings.TrimSpace(getStringArg(args, "query")); q != "" {
		results, err := t.journal.Query(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("journal query: %w", err)
		}
		return map[string]interface{}{"results": results, "count": len(results)}, nil
	}

	limit := getIntArg(args, "limit", 100)
	predicate := strings.TrimSpace(getStringArg(args, "predicate"))
	var facts []journal.Fact
	if predicate != "" {
		facts = t.journal.FactsByPredicate(predicate)
	} else {
		facts = t.journal.Facts()
	}
	facts = newest(facts, limit)
	return map[string]interface{}{"predicate": predicate, "facts": facts, "count": len(facts)}, nil
}

// newest keeps the last limit facts in chronological order.
func newest(facts []journal.Fact, limit int) []journal.Fact {
	if facts == nil {
		return []journal.Fact{}
	}
	if limit > 0 && len(facts) > limit {
		return facts[len(facts)-limit:]
	}
	return facts
}
