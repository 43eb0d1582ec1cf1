// Package mcphost connects a single Go process to several independent Model
// Context Protocol (MCP) tool servers at once — some launched as child
// processes over stdio, some reached over HTTP — and presents their combined
// tool catalogues as one collision-resolved namespace. It handles transport
// setup, the MCP handshake, tool discovery, and invocation routing so an
// agent or orchestration layer only ever deals with tool names, argument
// maps, and one uniform result shape.
//
// # Core entry points
//
//   - Start builds the multi-server Client: it dials every configured server
//     concurrently, best-effort, and reports unreachable servers through a
//     non-fatal PartialFailure while the rest stay usable.
//   - ServerConfig (with the StdioServerConfig / HTTPServerConfig variants)
//     declares how each server is launched or contacted.
//   - Client.ListTools and Client.Invoke are the entire surface an agent
//     collaborator needs; Invoke never returns infrastructure errors raw,
//     only an InvocationResult carrying either a payload or a Failure.
//
// Tool name collisions across servers are resolved deterministically: the
// first-registered server keeps the bare name and later servers' colliding
// tools stay reachable under a "server.tool" qualified alias. Every collision
// is recorded as an observable event (see Client.Collisions).
package mcphost
