package gemini

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/phrazzld/scribe/internal/llm"
	"google.golang.org/genai"
)

const (
	roleUser  = "user"
	roleModel = "model"
)

// buildRequest maps a provider-neutral request onto Gemini contents. System
// messages become the system instruction; tool results are sent as user
// function responses.
func buildRequest(req llm.Request) ([]*genai.Content, *genai.GenerateContentConfig, error) {
	config := &genai.GenerateContentConfig{}
	if req.Temperature > 0 {
		t := req.Temperature
		config.Temperature = &t
	}

	var system []string
	contents := make([]*genai.Content, 0, len(req.Messages))

	for _, m := range req.Messages {
		switch m.Role {
		case llm.RoleSystem:
			system = append(system, m.Content)

		case llm.RoleUser:
			contents = append(contents, &genai.Content{
				Role:  roleUser,
				Parts: []*genai.Part{{Text: m.Content}},
			})

		case llm.RoleAssistant:
			parts := make([]*genai.Part, 0, 1+len(m.ToolCalls))
			if m.Content != "" {
				parts = append(parts, &genai.Part{Text: m.Content})
			}
			for _, call := range m.ToolCalls {
				args := map[string]any{}
				if len(call.Arguments) > 0 {
					if err := json.Unmarshal(call.Arguments, &args); err != nil {
						return nil, nil, fmt.Errorf("%w: tool call %s arguments: %v", llm.ErrInvalidResponse, call.Name, err)
					}
				}
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{
					ID:   call.ID,
					Name: call.Name,
					Args: args,
				}})
			}
			contents = append(contents, &genai.Content{Role: roleModel, Parts: parts})

		case llm.RoleTool:
			contents = append(contents, &genai.Content{
				Role: roleUser,
				Parts: []*genai.Part{{FunctionResponse: &genai.FunctionResponse{
					ID:       m.ToolCallID,
					Name:     m.Name,
					Response: map[string]any{"output": m.Content},
				}}},
			})

		default:
			return nil, nil, fmt.Errorf("%w: unsupported message role %q", llm.ErrInvalidConfig, m.Role)
		}
	}

	if len(system) > 0 {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: strings.Join(system, "\n\n")}},
		}
	}

	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, tool := range req.Tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  schemaFromJSON(tool.Parameters),
			})
		}
		config.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	return contents, config, nil
}

// convertResponse extracts text and function calls from the first candidate.
// callOffset numbers calls that arrive without an ID.
func convertResponse(resp *genai.GenerateContentResponse, callOffset int) (llm.Chunk, error) {
	if resp == nil {
		return llm.Chunk{}, fmt.Errorf("%w: nil response", llm.ErrInvalidResponse)
	}
	if len(resp.Candidates) == 0 {
		return llm.Chunk{}, nil
	}

	candidate := resp.Candidates[0]
	if candidate.FinishReason == genai.FinishReasonSafety {
		return llm.Chunk{}, fmt.Errorf("%w: content blocked by safety filters", llm.ErrContentBlocked)
	}
	if candidate.Content == nil {
		return llm.Chunk{}, nil
	}

	var (
		chunk llm.Chunk
		text  strings.Builder
	)
	for _, part := range candidate.Content.Parts {
		if part == nil {
			continue
		}
		text.WriteString(part.Text)

		if fc := part.FunctionCall; fc != nil {
			args, err := json.Marshal(fc.Args)
			if err != nil {
				return llm.Chunk{}, fmt.Errorf("%w: function call arguments: %v", llm.ErrInvalidResponse, err)
			}
			id := fc.ID
			if id == "" {
				id = fmt.Sprintf("call_%d", callOffset+len(chunk.ToolCalls)+1)
			}
			chunk.ToolCalls = append(chunk.ToolCalls, llm.ToolCall{ID: id, Name: fc.Name, Arguments: args})
		}
	}
	chunk.Content = text.String()

	return chunk, nil
}

// schemaFromJSON converts a JSON-schema map to a genai.Schema. Only the
// keywords tool parameters use are mapped.
func schemaFromJSON(m map[string]any) *genai.Schema {
	if m == nil {
		return nil
	}

	s := &genai.Schema{}
	if t, ok := m["type"].(string); ok {
		s.Type = genai.Type(strings.ToUpper(t))
	}
	if d, ok := m["description"].(string); ok {
		s.Description = d
	}
	if props, ok := m["properties"].(map[string]any); ok {
		s.Properties = make(map[string]*genai.Schema, len(props))
		for name, raw := range props {
			if sub, ok := raw.(map[string]any); ok {
				s.Properties[name] = schemaFromJSON(sub)
			}
		}
	}
	if items, ok := m["items"].(map[string]any); ok {
		s.Items = schemaFromJSON(items)
	}
	s.Required = stringList(m["required"])
	s.Enum = stringList(m["enum"])

	return s
}

func stringList(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
