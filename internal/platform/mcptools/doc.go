// Package mcptools exposes the tools of a Model Context Protocol server to the
// stream controller's tool-calling loop.
package mcptools
