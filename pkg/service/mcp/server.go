// Package mcp exposes project memory to agents over the Model Context
// Protocol: a stdio server with read-only tools for querying and dumping
// consolidated memory.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/m-mizutani/recall/pkg/model"
	"github.com/m-mizutani/recall/pkg/repository"
	"github.com/m-mizutani/recall/pkg/usecase/query"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type Server struct {
	repo   repository.Repository
	engine *query.Engine
}

func NewServer(repo repository.Repository, engine *query.Engine) *Server {
	return &Server{repo: repo, engine: engine}
}

type queryMemoryParams struct {
	Project string `json:"project" jsonschema:"Project name whose memory to search"`
	Query   string `json:"query" jsonschema:"Free-text query to rank memory items against"`
	Limit   int    `json:"limit,omitempty" jsonschema:"Maximum number of results (default 10)"`
}

type getMemoryParams struct {
	Project string `json:"project" jsonschema:"Project name whose consolidated memory to fetch"`
}

// Run serves the memory tools on stdio until the context is canceled.
func (s *Server) Run(ctx context.Context) error {
	return s.mcpServer().Run(ctx, &mcp.StdioTransport{})
}

func (s *Server) mcpServer() *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "recall",
		Version: "1.0.0",
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "query_memory",
		Description: "Search a project's consolidated memory for items relevant to a query, ranked by relevance and confidence",
	}, s.queryMemory)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_memory",
		Description: "Fetch a project's full consolidated memory snapshot as JSON",
	}, s.getMemory)

	return server
}

func (s *Server) queryMemory(ctx context.Context, req *mcp.CallToolRequest, params *queryMemoryParams) (*mcp.CallToolResult, any, error) {
	if params.Project == "" {
		return nil, nil, fmt.Errorf("project is required")
	}
	limit := params.Limit
	if limit <= 0 {
		limit = 10
	}

	results, err := s.engine.Query(ctx, params.Project, params.Query, limit)
	if err != nil {
		return nil, nil, err
	}

	var text string
	if len(results) == 0 {
		text = fmt.Sprintf("No memory items match %q in project %s", params.Query, params.Project)
	} else {
		var lines []string
		for _, r := range results {
			lines = append(lines, fmt.Sprintf("[%s] (%.2f, seen %dx) %s",
				r.Item.Category, r.Score, r.Item.Occurrences, r.Item.Text))
		}
		text = fmt.Sprintf("Found %d items:\n%s", len(results), strings.Join(lines, "\n"))
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}, nil, nil
}

func (s *Server) getMemory(ctx context.Context, req *mcp.CallToolRequest, params *getMemoryParams) (*mcp.CallToolResult, any, error) {
	if params.Project == "" {
		return nil, nil, fmt.Errorf("project is required")
	}

	memory, err := s.repo.GetMemory(ctx, params.Project)
	if err != nil {
		if model.IsNotFound(err) {
			return &mcp.CallToolResult{
				Content: []mcp.Content{&mcp.TextContent{
					Text: fmt.Sprintf("Project %s has no consolidated memory yet", params.Project),
				}},
			}, nil, nil
		}
		return nil, nil, err
	}

	data, err := json.MarshalIndent(memory, "", "  ")
	if err != nil {
		return nil, nil, err
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}, nil, nil
}
