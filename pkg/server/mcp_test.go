package server

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"sort"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikeboe/research-agent/pkg/research"
)

func mcpSession(t *testing.T, gw *routedLLM) *mcp.ClientSession {
	t.Helper()
	ts := httptest.NewServer(MCPHandler(NewMCPServer(newTestEngine(gw, discardLogger()))))
	t.Cleanup(ts.Close)

	client := mcp.NewClient(&mcp.Implementation{Name: "test", Version: "1.0.0"}, nil)
	session, err := client.Connect(context.Background(), &mcp.StreamableClientTransport{Endpoint: ts.URL}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })
	return session
}

func extractText(result *mcp.CallToolResult) string {
	for _, c := range result.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func callTool(t *testing.T, session *mcp.ClientSession, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)
	return result
}

func TestMCPListTools(t *testing.T) {
	session := mcpSession(t, newRoutedLLM())

	result, err := session.ListTools(context.Background(), nil)
	require.NoError(t, err)
	var names []string
	for _, tool := range result.Tools {
		names = append(names, tool.Name)
	}
	sort.Strings(names)
	assert.Equal(t, []string{"analyze_question", "answer_question", "expand_question", "fetch_urls", "search_web"}, names)
}

func TestMCPExpandQuestion(t *testing.T) {
	session := mcpSession(t, newRoutedLLM())

	result := callTool(t, session, "expand_question", map[string]any{"question": "batteries"})
	require.False(t, result.IsError, extractText(result))
	assert.JSONEq(t, `{"queries":["solid state battery lifespan","solid state battery cost"]}`, extractText(result))

	result = callTool(t, session, "expand_question", map[string]any{"question": "  "})
	assert.True(t, result.IsError)
}

func TestMCPSearchWeb(t *testing.T) {
	session := mcpSession(t, newRoutedLLM())

	result := callTool(t, session, "search_web", map[string]any{"queries": []string{"solid state battery lifespan"}})
	require.False(t, result.IsError, extractText(result))
	var resp searchWebResponse
	require.NoError(t, json.Unmarshal([]byte(extractText(result)), &resp))
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "https://a.example", resp.Results[0].Link)
}

func TestMCPFetchURLsReturnsMarkdown(t *testing.T) {
	session := mcpSession(t, newRoutedLLM())

	result := callTool(t, session, "fetch_urls", map[string]any{"urls": []string{"https://a.example"}})
	require.False(t, result.IsError, extractText(result))
	var resp fetchURLsResponse
	require.NoError(t, json.Unmarshal([]byte(extractText(result)), &resp))
	require.Len(t, resp.Sources, 1)
	assert.Contains(t, resp.Sources[0].Text, "## Findings")
}

func TestMCPAnswerQuestion(t *testing.T) {
	session := mcpSession(t, newRoutedLLM())

	result := callTool(t, session, "answer_question", map[string]any{"question": "How long do solid state batteries last?"})
	require.False(t, result.IsError, extractText(result))
	var answer research.ResearchAnswer
	require.NoError(t, json.Unmarshal([]byte(extractText(result)), &answer))
	assert.Equal(t, 75.0, answer.ConfidenceScore)
}

func TestMCPFatalErrorIsToolError(t *testing.T) {
	gw := newRoutedLLM()
	gw.err = unauthorized()
	session := mcpSession(t, gw)

	result := callTool(t, session, "analyze_question", map[string]any{"question": "batteries"})
	assert.True(t, result.IsError)
	assert.Contains(t, extractText(result), "incorrect api key")
}
