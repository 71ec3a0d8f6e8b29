// Package mcp exposes the dispatcher's tool registry over the Model
// Context Protocol using the official Go SDK.
//
// The protocol layer is deliberately thin: it advertises each registry
// entry as an MCP tool, forwards calls to the dispatcher unchanged, and
// renders the normalized response as MCP content. All validation,
// rate limiting, and error mapping happen in the dispatcher and gate;
// nothing here adds policy.
//
// Error results expose only the error kind and message. Wrapped causes
// stay in the server logs so internal paths and drivers never reach a
// client.
package mcp
