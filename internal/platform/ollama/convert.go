package ollama

import (
	"encoding/json"
	"fmt"

	"github.com/ollama/ollama/api"
	"github.com/phrazzld/scribe/internal/llm"
)

// wireToolCall and wireTool mirror Ollama's JSON shapes. Tool calls and tool
// definitions are passed through JSON so arguments and schemas keep their
// original structure.
type wireToolCall struct {
	Function wireFunctionCall `json:"function"`
}

type wireFunctionCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type wireTool struct {
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

func (p *Provider) buildRequest(req llm.Request, stream bool) (*api.ChatRequest, error) {
	messages := make([]api.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		msg := api.Message{Role: string(m.Role), Content: m.Content}

		switch m.Role {
		case llm.RoleSystem, llm.RoleUser:
		case llm.RoleAssistant:
			calls, err := toolCalls(m.ToolCalls)
			if err != nil {
				return nil, err
			}
			msg.ToolCalls = calls
		case llm.RoleTool:
			msg.ToolName = m.Name
		default:
			return nil, fmt.Errorf("%w: unsupported message role %q", llm.ErrInvalidConfig, m.Role)
		}

		messages = append(messages, msg)
	}

	chatReq := &api.ChatRequest{
		Model:    p.model,
		Messages: messages,
		Stream:   &stream,
		Options:  map[string]any{},
	}
	if req.Temperature > 0 {
		chatReq.Options["temperature"] = req.Temperature
	}
	if req.MaxTokens > 0 {
		chatReq.Options["num_predict"] = req.MaxTokens
	}

	if len(req.Tools) > 0 {
		tools, err := toolDefinitions(req.Tools)
		if err != nil {
			return nil, err
		}
		chatReq.Tools = tools
	}

	return chatReq, nil
}

func toolCalls(calls []llm.ToolCall) ([]api.ToolCall, error) {
	if len(calls) == 0 {
		return nil, nil
	}

	wire := make([]wireToolCall, 0, len(calls))
	for _, c := range calls {
		args := c.Arguments
		if len(args) == 0 {
			args = json.RawMessage(`{}`)
		}
		wire = append(wire, wireToolCall{Function: wireFunctionCall{Name: c.Name, Arguments: args}})
	}

	raw, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("%w: encode tool calls: %v", llm.ErrInvalidResponse, err)
	}
	var out []api.ToolCall
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: encode tool calls: %v", llm.ErrInvalidResponse, err)
	}
	return out, nil
}

func toolDefinitions(specs []llm.ToolSpec) (api.Tools, error) {
	wire := make([]wireTool, 0, len(specs))
	for _, s := range specs {
		params := s.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		wire = append(wire, wireTool{
			Type:     "function",
			Function: wireFunction{Name: s.Name, Description: s.Description, Parameters: params},
		})
	}

	raw, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("%w: encode tools: %v", llm.ErrInvalidConfig, err)
	}
	var tools api.Tools
	if err := json.Unmarshal(raw, &tools); err != nil {
		return nil, fmt.Errorf("%w: encode tools: %v", llm.ErrInvalidConfig, err)
	}
	return tools, nil
}

// convertResponse maps one chat response. Ollama does not assign call IDs, so
// calls are numbered from callOffset.
func convertResponse(resp api.ChatResponse, callOffset int) (llm.Chunk, error) {
	chunk := llm.Chunk{Content: resp.Message.Content}

	for i, tc := range resp.Message.ToolCalls {
		args, err := json.Marshal(tc.Function.Arguments)
		if err != nil {
			return llm.Chunk{}, fmt.Errorf("%w: tool call arguments: %v", llm.ErrInvalidResponse, err)
		}
		chunk.ToolCalls = append(chunk.ToolCalls, llm.ToolCall{
			ID:        fmt.Sprintf("call_%d", callOffset+i+1),
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}

	if resp.Done {
		chunk.Usage = &llm.Usage{
			PromptTokens:     resp.PromptEvalCount,
			CompletionTokens: resp.EvalCount,
		}
	}

	return chunk, nil
}
