package proxy

import (
	"context"
	"fmt"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mcpscan/mcpscan/pkg/defaults"
	"github.com/mcpscan/mcpscan/pkg/jsonutil"
)

const mcpInstructions = `Validation gateway for MCP traffic. Every tools/call request is
checked against scan findings and the guardrail service before anything
reaches a downstream server.

Use validate_request to ask for a verdict without side effects. Use
proxy_request to validate and, when approved, forward the request to a
target MCP server. Blocked requests return the denial reason and a
request id for correlation.`

// guardedMCP exposes the gateway over MCP itself, so agent hosts can
// route tool traffic through validation without speaking the REST
// surface.
type guardedMCP struct {
	server *Server
	mcp    *mcp.Server
}

func newGuardedMCP(s *Server) *guardedMCP {
	g := &guardedMCP{server: s}
	g.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    defaults.ToolName + "-proxy",
			Title:   "MCP Validation Gateway",
			Version: defaults.Version,
		},
		&mcp.ServerOptions{
			Instructions: mcpInstructions,
		},
	)
	g.addValidateTool()
	g.addProxyTool()
	return g
}

// handler mounts the MCP server over streamable HTTP.
func (g *guardedMCP) handler() http.Handler {
	return mcp.NewStreamableHTTPHandler(
		func(*http.Request) *mcp.Server { return g.mcp },
		&mcp.StreamableHTTPOptions{Stateless: false},
	)
}

func (g *guardedMCP) addValidateTool() {
	g.mcp.AddTool(
		&mcp.Tool{
			Name:        "validate_request",
			Title:       "Validate MCP Request",
			Description: `Run a JSON-RPC tools/call request through the security gateway and return the verdict without forwarding anything. The verdict includes the allow/deny decision, the reason, the decision source (cache, findings, guardrail, or policy), and a request id.`,
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"request": map[string]any{
						"type":        "object",
						"description": "The decoded JSON-RPC request to validate, e.g. {\"jsonrpc\": \"2.0\", \"id\": 1, \"method\": \"tools/call\", \"params\": {\"name\": \"read_file\", \"arguments\": {\"path\": \"a.txt\"}}}.",
					},
				},
				"required": []string{"request"},
			},
			Annotations: &mcp.ToolAnnotations{
				ReadOnlyHint: true,
			},
		},
		func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			var args struct {
				Request map[string]any `json:"request"`
			}
			if err := parseArgs(req, &args); err != nil {
				return errorResult(fmt.Sprintf("invalid arguments: %v", err)), nil
			}
			if len(args.Request) == 0 {
				return errorResult(`request is required. Example: {"request": {"jsonrpc": "2.0", "id": 1, "method": "tools/call", "params": {"name": "read_file", "arguments": {}}}}`), nil
			}
			d := g.server.validator.Validate(ctx, args.Request)
			return jsonResult(decisionBody(d))
		},
	)
}

func (g *guardedMCP) addProxyTool() {
	g.mcp.AddTool(
		&mcp.Tool{
			Name:        "proxy_request",
			Title:       "Validate and Forward MCP Request",
			Description: `Validate a JSON-RPC tools/call request and, when approved, forward it to the target MCP server and return the target's response. Blocked requests return the denial verdict instead; nothing reaches the target. Bare hostnames default to http://.`,
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"target": map[string]any{
						"type":        "string",
						"description": "Target MCP server, e.g. https://mcp.example.com/mcp or localhost:3000.",
					},
					"request": map[string]any{
						"type":        "object",
						"description": "The decoded JSON-RPC request to validate and forward.",
					},
				},
				"required": []string{"target", "request"},
			},
			Annotations: &mcp.ToolAnnotations{
				DestructiveHint: boolPtr(false),
				OpenWorldHint:   boolPtr(true),
			},
		},
		func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			var args struct {
				Target  string         `json:"target"`
				Request map[string]any `json:"request"`
			}
			if err := parseArgs(req, &args); err != nil {
				return errorResult(fmt.Sprintf("invalid arguments: %v", err)), nil
			}
			if args.Target == "" {
				return errorResult(`target is required. Example: {"target": "https://mcp.example.com/mcp", "request": {...}}`), nil
			}
			if len(args.Request) == 0 {
				return errorResult("request is required"), nil
			}

			d := g.server.validator.Validate(ctx, args.Request)
			if !d.Allow {
				return jsonResult(blockedEnvelope(args.Request["id"], d))
			}
			response, err := g.server.forwardToTarget(ctx, args.Target, args.Request, nil)
			if err != nil {
				return errorResult(fmt.Sprintf("forwarding to %s failed: %v", args.Target, err)), nil
			}
			return jsonResult(response)
		},
	)
}

// textResult creates a CallToolResult with a single text content block.
func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}
}

// jsonResult marshals v to indented JSON and wraps it in a CallToolResult.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := jsonutil.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling result: %w", err)
	}
	return textResult(string(data)), nil
}

// errorResult creates an IsError CallToolResult so the caller can see
// the problem and self-correct rather than raising a protocol error.
func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: msg},
		},
		IsError: true,
	}
}

// boolPtr returns a pointer to b for optional SDK bool fields.
func boolPtr(b bool) *bool { return &b }

// parseArgs unmarshals the raw JSON arguments from a tool call into dst.
func parseArgs(req *mcp.CallToolRequest, dst any) error {
	if len(req.Params.Arguments) == 0 {
		return nil
	}
	if err := jsonutil.Unmarshal(req.Params.Arguments, dst); err != nil {
		return fmt.Errorf("parsing tool arguments: %w", err)
	}
	return nil
}
