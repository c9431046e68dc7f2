package mcp

import (
	"encoding/json"
	"fmt"

	"demoagent-server/internal/conversation"
)

func getStringArg(args map[string]interface{}, key string) string {
	val, ok := args[key]
	if !ok || val == nil {
		return ""
	}
	switch v := val.(type) {
	case string:
		return v
	default:
		return fmt.Sprintf("%v", v)
	}
}

func getIntArg(args map[string]interface{}, key string, fallback int) int {
	val, ok := args[key]
	if !ok {
		return fallback
	}
	switch v := val.(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return fallback
	}
}

// getHistoryArg decodes a chat_history argument into turns. Arguments arrive
// as generic JSON, so the value is round-tripped through encoding/json.
func getHistoryArg(args map[string]interface{}, key string) ([]conversation.Turn, error) {
	val, ok := args[key]
	if !ok || val == nil {
		return nil, nil
	}
	raw, err := json.Marshal(val)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", key, err)
	}
	var turns []conversation.Turn
	if err := json.Unmarshal(raw, &turns); err != nil {
		return nil, fmt.Errorf("invalid %s: expected an array of {role, text}", key)
	}
	return turns, nil
}
