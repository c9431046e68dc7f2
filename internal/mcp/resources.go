package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"demoagent-server/internal/journal"
)

const (
	resourceMIMEJSON = "application/json"
)

func (s *Server) registerAllResources() {
	if s == nil || s.mcpServer == nil {
		return
	}

	s.mcpServer.AddResource(
		mcp.NewResource(
			"demoagent://about",
			"Demo Agent About",
			mcp.WithMIMEType(resourceMIMEJSON),
			mcp.WithResourceDescription("Server info, current session and usage notes."),
		),
		s.handleAboutResource,
	)

	s.mcpServer.AddResourceTemplate(
		mcp.NewResourceTemplate(
			"demoagent://run/{runId}/facts{?predicate,limit}",
			"Run Facts",
			mcp.WithTemplateMIMEType(resourceMIMEJSON),
			mcp.WithTemplateDescription("Journal facts recorded for one demo run (optionally filtered by predicate)."),
		),
		s.handleRunFactsResource,
	)
}

func (s *Server) handleAboutResource(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	payload := map[string]interface{}{
		"name":    s.cfg.Server.Name,
		"version": s.cfg.Server.Version,
		"session": s.demo.Session(),
		"notes": []string{
			"Call start-demo before interact; stop-demo closes the browser.",
			"The current run id is the session id; use it with demoagent://run/{runId}/facts.",
		},
		"timestamp_ms": time.Now().UnixMilli(),
	}
	return jsonResource(request.Params.URI, payload)
}

func (s *Server) handleRunFactsResource(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	if !s.journal.Enabled() {
		return nil, journal.ErrDisabled
	}

	runID := argString(request.Params.Arguments["runId"])
	if runID == "" {
		return nil, fmt.Errorf("missing runId")
	}
	predicate := argString(request.Params.Arguments["predicate"])
	limit, _ := strconv.Atoi(strings.TrimSpace(argString(request.Params.Arguments["limit"])))
	if limit <= 0 {
		limit = 25
	}
	if limit > 500 {
		limit = 500
	}

	facts := selectRecentRunFacts(s.journal, runID, predicate, limit)
	return jsonResource(request.Params.URI, map[string]interface{}{
		"run_id":    runID,
		"predicate": predicate,
		"limit":     limit,
		"count":     len(facts),
		"facts":     facts,
	})
}

func jsonResource(uri string, payload interface{}) ([]mcp.ResourceContents, error) {
	text, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: resourceMIMEJSON,
			Text:     string(text),
		},
	}, nil
}

// selectRecentRunFacts returns up to limit of the newest facts whose first
// argument is runID, oldest first.
func selectRecentRunFacts(j *journal.Journal, runID, predicate string, limit int) []journal.Fact {
	if !j.Enabled() || runID == "" || limit <= 0 {
		return []journal.Fact{}
	}

	var source []journal.Fact
	if predicate != "" {
		source = j.FactsByPredicate(predicate)
	} else {
		source = j.Facts()
	}

	out := make([]journal.Fact, 0, min(limit, len(source)))
	for i := len(source) - 1; i >= 0 && len(out) < limit; i-- {
		f := source[i]
		if len(f.Args) == 0 || fmt.Sprintf("%v", f.Args[0]) != runID {
			continue
		}
		out = append(out, f)
	}

	for i, k := 0, len(out)-1; i < k; i, k = i+1, k-1 {
		out[i], out[k] = out[k], out[i]
	}
	return out
}

func argString(v any) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		return value
	case []string:
		if len(value) == 0 {
			return ""
		}
		return value[0]
	default:
		return fmt.Sprintf("%v", value)
	}
}
