// Package mcpserver exposes the memory operations as MCP tools over a
// stdio transport. Handler errors never propagate to the protocol layer;
// every outcome is returned as a structured JSON result.
package mcpserver

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ccforever/forever/pkg/log"
	"github.com/ccforever/forever/pkg/memory"
)

// ServerName identifies this server to MCP clients.
const ServerName = "forever-memory"

// ServerVersion is reported in the MCP handshake.
const ServerVersion = "1.0.0"

// Server wires a memory service into an MCP server.
type Server struct {
	service *memory.Service
	mcp     *mcp.Server
}

// New creates an MCP server with the four memory tools registered.
func New(service *memory.Service) *Server {
	s := &Server{service: service}

	s.mcp = mcp.NewServer(&mcp.Implementation{
		Name:    ServerName,
		Version: ServerVersion,
	}, nil)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "store_memory",
		Description: "Store conversation content as searchable memory. Content is split into question/answer pairs unless chunking is disabled.",
	}, s.storeMemory)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "retrieve_memory",
		Description: "Search stored memories by semantic similarity to a natural-language query.",
	}, s.retrieveMemory)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "delete_memory",
		Description: "Delete stored memories by ids, project, age, or entirely.",
	}, s.deleteMemory)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "get_stats",
		Description: "Report the number of stored memories, the active embedding model, and the configuration in effect.",
	}, s.getStats)

	return s
}

// Run serves MCP over stdio until the context is cancelled or the client
// disconnects.
func (s *Server) Run(ctx context.Context) error {
	log.Info("Starting MCP server", "name", ServerName, "version", ServerVersion)
	return s.mcp.Run(ctx, &mcp.StdioTransport{})
}

type storeMemoryParams struct {
	Content string   `json:"content" jsonschema:"The conversation content to store"`
	Project string   `json:"project,omitempty" jsonschema:"Project tag for the stored records (default: default)"`
	Tags    []string `json:"tags,omitempty" jsonschema:"Labels attached to the stored records (default: conversation)"`
	Chunk   *bool    `json:"chunk,omitempty" jsonschema:"Split content into question/answer pairs (default: true)"`
}

func (s *Server) storeMemory(ctx context.Context, req *mcp.CallToolRequest, params *storeMemoryParams) (*mcp.CallToolResult, any, error) {
	chunk := true
	if params.Chunk != nil {
		chunk = *params.Chunk
	}

	result, err := s.service.Store(ctx, params.Content, params.Project, params.Tags, chunk)
	if err != nil {
		return failure(err), nil, nil
	}
	return success(map[string]any{
		"success":       true,
		"chunks_stored": result.ChunksStored,
		"timestamp":     result.Timestamp,
	}), nil, nil
}

type retrieveMemoryParams struct {
	Query     string   `json:"query" jsonschema:"Natural-language search query"`
	NResults  *int     `json:"n_results,omitempty" jsonschema:"Maximum number of results, 1-100 (default: 5)"`
	Threshold *float64 `json:"threshold,omitempty" jsonschema:"Minimum similarity score, 0-1 (default: 0.3)"`
	Project   string   `json:"project,omitempty" jsonschema:"Only return results from this project"`
}

func (s *Server) retrieveMemory(ctx context.Context, req *mcp.CallToolRequest, params *retrieveMemoryParams) (*mcp.CallToolResult, any, error) {
	nResults := memory.DefaultNResults
	if params.NResults != nil {
		nResults = *params.NResults
	}
	threshold := memory.DefaultThreshold
	if params.Threshold != nil {
		threshold = *params.Threshold
	}

	result, err := s.service.Retrieve(ctx, params.Query, nResults, threshold, params.Project)
	if err != nil {
		return failure(err), nil, nil
	}
	return success(result), nil, nil
}

type deleteMemoryParams struct {
	IDs     []string `json:"ids,omitempty" jsonschema:"Record ids to delete"`
	Project string   `json:"project,omitempty" jsonschema:"Delete every record in this project"`
	Before  string   `json:"before,omitempty" jsonschema:"Delete records older than this ISO-8601 timestamp"`
	All     bool     `json:"all,omitempty" jsonschema:"Delete all records"`
}

func (s *Server) deleteMemory(ctx context.Context, req *mcp.CallToolRequest, params *deleteMemoryParams) (*mcp.CallToolResult, any, error) {
	result, err := s.service.Delete(ctx, memory.DeleteCriteria{
		IDs:     params.IDs,
		Project: params.Project,
		Before:  params.Before,
		All:     params.All,
	})
	if err != nil {
		return failure(err), nil, nil
	}
	return success(map[string]any{
		"success":       true,
		"deleted_count": result.DeletedCount,
		"criteria":      result.Criteria,
	}), nil, nil
}

type getStatsParams struct{}

func (s *Server) getStats(ctx context.Context, req *mcp.CallToolRequest, params *getStatsParams) (*mcp.CallToolResult, any, error) {
	stats, err := s.service.Stats(ctx)
	if err != nil {
		return failure(err), nil, nil
	}
	return success(map[string]any{
		"success":       true,
		"total_chunks":  stats.TotalChunks,
		"model":         stats.Model,
		"data_dir":      stats.DataDir,
		"config_source": stats.ConfigSource,
	}), nil, nil
}

func success(payload any) *mcp.CallToolResult {
	return textResult(payload)
}

func failure(err error) *mcp.CallToolResult {
	log.Warn("Tool call failed", "error", err)
	return textResult(map[string]any{
		"success": false,
		"error":   err.Error(),
	})
}

func textResult(payload any) *mcp.CallToolResult {
	data, err := json.Marshal(payload)
	if err != nil {
		data = []byte(`{"success":false,"error":"failed to encode result"}`)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(data)},
		},
	}
}
