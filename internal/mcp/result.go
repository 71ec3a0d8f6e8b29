package mcp

import (
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/toolgate/toolgate/internal/dispatch"
)

// responseToResult renders a dispatcher response as MCP content.
// Payloads become a single JSON text block; failures become an error
// result carrying the kind and message, with a retry hint when the
// condition is transient.
func responseToResult(resp *dispatch.Response) *mcp.CallToolResult {
	if !resp.Succeeded() {
		text := fmt.Sprintf("[%s] %s", resp.Error.Kind, resp.Error.Message)
		if resp.Error.Retryable {
			text += " (retryable)"
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: text}},
			IsError: true,
		}
	}

	if resp.Payload == nil {
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: "{}"}},
		}
	}

	data, err := json.Marshal(resp.Payload)
	if err != nil {
		// Handlers return map/slice/string payloads, so this only
		// fires on a programming error in a handler.
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{
				Text: fmt.Sprintf("[%s] payload not serializable", dispatch.KindExecutionError),
			}},
			IsError: true,
		}
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}
}
