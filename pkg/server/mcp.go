package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mikeboe/research-agent/pkg/research"
)

const mcpServerName = "research-agent"

// Version is reported to MCP clients. Overridden at link time.
var Version = "dev"

// NewMCPServer exposes the research stages as MCP tools.
func NewMCPServer(engine *research.Engine) *mcp.Server {
	srv := mcp.NewServer(&mcp.Implementation{
		Name:    mcpServerName,
		Version: Version,
	}, nil)

	registerExpandQuestion(srv, engine)
	registerAnalyzeQuestion(srv, engine)
	registerSearchWeb(srv, engine)
	registerFetchURLs(srv, engine)
	registerAnswerQuestion(srv, engine)

	return srv
}

// MCPHandler serves the MCP server over streamable HTTP.
func MCPHandler(srv *mcp.Server) http.Handler {
	return mcp.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcp.Server { return srv },
		&mcp.StreamableHTTPOptions{Stateless: true},
	)
}

// --- expand_question ---

type questionInput struct {
	Question string `json:"question" jsonschema:"The research question"`
}

type expandResponse struct {
	Queries []string `json:"queries"`
}

func registerExpandQuestion(srv *mcp.Server, engine *research.Engine) {
	mcp.AddTool(srv,
		&mcp.Tool{
			Name:        "expand_question",
			Description: "Generate alternative search queries that approach a research question from different angles.",
		},
		func(ctx context.Context, _ *mcp.CallToolRequest, args questionInput) (*mcp.CallToolResult, any, error) {
			if strings.TrimSpace(args.Question) == "" {
				return toolError("question is required")
			}
			queries, err := engine.Expand(ctx, args.Question)
			if err != nil {
				return toolError(fmt.Sprintf("Question expansion failed: %v", err))
			}
			return toolSuccessJSON(expandResponse{Queries: queries})
		},
	)
}

// --- analyze_question ---

type analyzeResponse struct {
	Analysis      research.QuestionAnalysis   `json:"analysis"`
	CurrentEvents research.CurrentEventsCheck `json:"current_events"`
}

func registerAnalyzeQuestion(srv *mcp.Server, engine *research.Engine) {
	mcp.AddTool(srv,
		&mcp.Tool{
			Name:        "analyze_question",
			Description: "Break a research question into key components, scope boundaries, success criteria and conflicting viewpoints. Pulls in recent context when the question is about current events.",
		},
		func(ctx context.Context, _ *mcp.CallToolRequest, args questionInput) (*mcp.CallToolResult, any, error) {
			if strings.TrimSpace(args.Question) == "" {
				return toolError("question is required")
			}
			analysis, check, err := engine.AnalyzeQuestion(ctx, args.Question)
			if err != nil {
				return toolError(fmt.Sprintf("Question analysis failed: %v", err))
			}
			return toolSuccessJSON(analyzeResponse{Analysis: analysis, CurrentEvents: check})
		},
	)
}

// --- search_web ---

type searchWebInput struct {
	Queries []string `json:"queries" jsonschema:"Search queries to run concurrently; extra queries beyond the batch limit are ignored"`
}

type searchWebResponse struct {
	Results []research.SearchResult `json:"results"`
}

func registerSearchWeb(srv *mcp.Server, engine *research.Engine) {
	mcp.AddTool(srv,
		&mcp.Tool{
			Name:        "search_web",
			Description: "Run several search queries, score every result for relevance and return them merged and ranked.",
		},
		func(ctx context.Context, _ *mcp.CallToolRequest, args searchWebInput) (*mcp.CallToolResult, any, error) {
			if len(args.Queries) == 0 {
				return toolError("at least one query is required")
			}
			results, err := engine.ExecuteQueries(ctx, args.Queries)
			if err != nil {
				return toolError(fmt.Sprintf("Search failed: %v", err))
			}
			return toolSuccessJSON(searchWebResponse{Results: results})
		},
	)
}

// --- fetch_urls ---

type fetchURLsInput struct {
	URLs []string `json:"urls" jsonschema:"URLs to download and extract readable text from"`
}

type fetchURLsResponse struct {
	Sources []research.URLContent `json:"sources"`
}

func registerFetchURLs(srv *mcp.Server, engine *research.Engine) {
	mcp.AddTool(srv,
		&mcp.Tool{
			Name:        "fetch_urls",
			Description: "Fetch web pages, extract their main text and return it as markdown. Failed URLs carry an error message.",
		},
		func(ctx context.Context, _ *mcp.CallToolRequest, args fetchURLsInput) (*mcp.CallToolResult, any, error) {
			if len(args.URLs) == 0 {
				return toolError("at least one url is required")
			}
			if len(args.URLs) > maxFetchURLs {
				return toolError(fmt.Sprintf("at most %d urls per call", maxFetchURLs))
			}
			sources := engine.Fetcher.FetchAll(ctx, args.URLs)
			for i := range sources {
				if sources[i].OK() {
					sources[i].Text = sources[i].Markdown()
				}
			}
			return toolSuccessJSON(fetchURLsResponse{Sources: sources})
		},
	)
}

// --- answer_question ---

type answerQuestionInput struct {
	Question string                `json:"question" jsonschema:"The research question to answer"`
	Sources  []research.URLContent `json:"sources,omitempty" jsonschema:"Fetched sources to ground the answer in"`
}

func registerAnswerQuestion(srv *mcp.Server, engine *research.Engine) {
	mcp.AddTool(srv,
		&mcp.Tool{
			Name:        "answer_question",
			Description: "Write a cited answer to a question from the given sources, with a confidence score.",
		},
		func(ctx context.Context, _ *mcp.CallToolRequest, args answerQuestionInput) (*mcp.CallToolResult, any, error) {
			answer, err := engine.SynthesizeAnswer(ctx, args.Question, args.Sources)
			if err != nil {
				return toolError(fmt.Sprintf("Answer synthesis failed: %v", err))
			}
			return toolSuccessJSON(answer)
		},
	)
}

func toolError(message string) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: message},
		},
		IsError: true,
	}, nil, nil
}

func toolSuccessJSON(result any) (*mcp.CallToolResult, any, error) {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return toolError(fmt.Sprintf("Failed to format result: %v", err))
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(data)},
		},
	}, nil, nil
}
