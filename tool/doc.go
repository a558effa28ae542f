// Package tool discovers and invokes tools exposed by MCP providers.
//
// The package is split by concern:
//   - registry, catalog: concurrent discovery and last-wins merging of tool catalogs
//   - schema, descriptor: flat/wrapped input schema classification
//   - marshal, normalize: positional argument mapping and result reduction
//   - invoker: by-name, positional and call-expression invocation
//   - connector: process-per-exchange and pooled provider sessions
//   - health, snapshot: provider probing on a schedule and catalog persistence
//
// Failures are reported as *ToolError values whose codes match the package
// sentinels with errors.Is.
package tool
