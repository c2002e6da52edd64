package rtconsole

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ToolDefinition describes a function the assistant may call.
type ToolDefinition struct {
	Type        string          `json:"type"` // always "function"
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"` // JSON schema
}

// ToolHandler runs a tool call. The result is JSON-encoded into the
// function_call_output item; an error is reported as {"error": "..."}.
type ToolHandler func(ctx context.Context, args map[string]any) (any, error)

type registeredTool struct {
	def     ToolDefinition
	handler ToolHandler
}

func validateToolDefinition(def ToolDefinition) error {
	if def.Name == "" {
		return errors.New("tool name is required")
	}
	if def.Type != "" && def.Type != "function" {
		return fmt.Errorf("invalid tool type %q, must be 'function'", def.Type)
	}
	if len(def.Parameters) > 0 && !json.Valid(def.Parameters) {
		return fmt.Errorf("tool %q: parameters must be valid JSON", def.Name)
	}
	return nil
}

// AddTool registers a tool. It is sent with the next session.update, so call
// UpdateSession afterwards on a connected client.
func (c *Client) AddTool(def ToolDefinition, handler ToolHandler) error {
	if err := validateToolDefinition(def); err != nil {
		return err
	}
	if handler == nil {
		return fmt.Errorf("tool %q: handler is required", def.Name)
	}
	def.Type = "function"

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.tools[def.Name]; ok {
		return fmt.Errorf("tool %q already added, remove it first", def.Name)
	}
	c.tools[def.Name] = registeredTool{def: def, handler: handler}
	return nil
}

// RemoveTool unregisters a tool.
func (c *Client) RemoveTool(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.tools[name]; !ok {
		return fmt.Errorf("tool %q does not exist", name)
	}
	delete(c.tools, name)
	return nil
}

// callTool runs a completed function call and replies with its output,
// then asks for a follow-up response.
func (c *Client) callTool(call ToolCall) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	output := func() string {
		c.mu.Lock()
		t, ok := c.tools[call.Name]
		c.mu.Unlock()
		if !ok {
			return toolError(fmt.Errorf("tool %q has not been added", call.Name))
		}

		var args map[string]any
		if call.Arguments != "" {
			if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
				return toolError(fmt.Errorf("invalid arguments: %w", err))
			}
		}
		res, err := t.handler(ctx, args)
		c.logDebug("tool_call", map[string]any{"name": call.Name, "call_id": call.CallID, "err": err})
		if err != nil {
			return toolError(err)
		}
		if res == nil {
			res = map[string]any{"success": true}
		}
		b, err := json.Marshal(res)
		if err != nil {
			return toolError(err)
		}
		return string(b)
	}()

	item := ConversationItem{Type: "function_call_output", CallID: call.CallID, Output: output}
	if err := c.CreateConversationItem(ctx, item); err != nil {
		c.logError("tool_output_failed", map[string]any{"name": call.Name, "err": err})
		return
	}
	if err := c.CreateResponse(ctx); err != nil {
		c.logError("tool_response_failed", map[string]any{"name": call.Name, "err": err})
	}
}

func toolError(err error) string {
	b, _ := json.Marshal(map[string]any{"error": err.Error()})
	return string(b)
}
