package mcptools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/phrazzld/scribe/internal/llm"
)

const (
	clientName    = "scribe"
	clientVersion = "1.0.0"
)

// Source is a connected MCP client session whose tools are offered to the
// model.
type Source struct {
	session *mcp.ClientSession
	specs   []llm.ToolSpec
	logger  *slog.Logger
}

// Connect starts a session over transport and lists the server's tools.
func Connect(ctx context.Context, transport mcp.Transport, logger *slog.Logger) (*Source, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	client := mcp.NewClient(&mcp.Implementation{Name: clientName, Version: clientVersion}, nil)
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MCP server: %w", err)
	}

	src := &Source{session: session, logger: logger.With("component", "mcp_tools")}
	if err := src.refresh(ctx); err != nil {
		_ = session.Close()
		return nil, err
	}

	src.logger.InfoContext(ctx, "MCP tools loaded", "count", len(src.specs))
	return src, nil
}

// ConnectCommand launches command (split on whitespace) and connects to it
// over stdio.
func ConnectCommand(ctx context.Context, command string, logger *slog.Logger) (*Source, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil, errors.New("mcp command cannot be empty")
	}
	cmd := exec.Command(fields[0], fields[1:]...)
	return Connect(ctx, &mcp.CommandTransport{Command: cmd}, logger)
}

func (s *Source) refresh(ctx context.Context) error {
	result, err := s.session.ListTools(ctx, &mcp.ListToolsParams{})
	if err != nil {
		return fmt.Errorf("failed to list MCP tools: %w", err)
	}

	specs := make([]llm.ToolSpec, 0, len(result.Tools))
	for _, tool := range result.Tools {
		params, err := schemaMap(tool.InputSchema)
		if err != nil {
			s.logger.WarnContext(ctx, "skipping MCP tool with unreadable schema",
				"tool", tool.Name, "error", err)
			continue
		}
		specs = append(specs, llm.ToolSpec{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  params,
		})
	}

	s.specs = specs
	return nil
}

// Specs returns the tools advertised by the server.
func (s *Source) Specs() []llm.ToolSpec {
	return append([]llm.ToolSpec(nil), s.specs...)
}

// Call runs one tool and returns its text output. A result flagged as an
// error by the server is returned as an error carrying that text.
func (s *Source) Call(ctx context.Context, name string, args json.RawMessage) (string, error) {
	var arguments map[string]any
	if len(args) > 0 {
		if err := json.Unmarshal(args, &arguments); err != nil {
			return "", fmt.Errorf("invalid arguments for %s: %w", name, err)
		}
	}

	result, err := s.session.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: arguments})
	if err != nil {
		return "", fmt.Errorf("MCP call %s failed: %w", name, err)
	}

	text := contentText(result.Content)
	if result.IsError {
		return "", errors.New(text)
	}
	return text, nil
}

// Close ends the session.
func (s *Source) Close() error {
	return s.session.Close()
}

func contentText(content []mcp.Content) string {
	parts := make([]string, 0, len(content))
	for _, c := range content {
		if text, ok := c.(*mcp.TextContent); ok {
			parts = append(parts, text.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// schemaMap normalizes an input schema of any concrete type to a JSON object.
func schemaMap(schema any) (map[string]any, error) {
	if schema == nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}, nil
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}
