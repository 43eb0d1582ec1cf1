// Package gateway re-exposes the merged tool namespace of an mcphost.Client
// as a single Streamable MCP server over HTTP. Downstream MCP clients connect
// to one endpoint and transparently reach every upstream server the host
// manages, with collisions already resolved by the host's registry.
package gateway
