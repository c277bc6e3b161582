package orchestrator

import (
	"strings"

	"github.com/cloudwego/eino/schema"

	contractx "github.com/CallejaJ/solana-ai/agent/contract"
	toolx "github.com/CallejaJ/solana-ai/agent/tool"
)

// toSchemaMessages flattens the boundary transcript into model messages:
// system prompt first, then each message; assistant tool-call parts expand
// into the assistant message plus one tool message per resolved call.
func toSchemaMessages(system string, messages []contractx.Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(messages)*2+1)
	out = append(out, schema.SystemMessage(system))

	for _, msg := range messages {
		switch msg.Role {
		case contractx.RoleUser:
			out = append(out, schema.UserMessage(joinText(msg.Parts)))
		case contractx.RoleAssistant:
			var toolCalls []schema.ToolCall
			var toolResults []*schema.Message
			for _, part := range msg.Parts {
				if part.Type != contractx.PartToolCall {
					continue
				}
				toolCalls = append(toolCalls, schema.ToolCall{
					ID:   part.ToolCallID,
					Type: "function",
					Function: schema.FunctionCall{
						Name:      part.ToolName,
						Arguments: string(part.Input),
					},
				})
				if len(part.Output) > 0 {
					toolResults = append(toolResults, schema.ToolMessage(string(part.Output), part.ToolCallID))
				}
			}
			out = append(out, schema.AssistantMessage(joinText(msg.Parts), toolCalls))
			out = append(out, toolResults...)
		}
	}
	return out
}

// assistantRecord converts one model response into the persisted message
// shape. Executable tool calls start in the invoked state, deferred ones in
// pending-input; execution or injection moves them to fulfilled or failed.
func assistantRecord(full *schema.Message, registry *toolx.Registry) contractx.Message {
	parts := make([]contractx.Part, 0, len(full.ToolCalls)+1)
	if full.Content != "" {
		parts = append(parts, contractx.Part{Type: contractx.PartText, Text: full.Content})
	}
	for _, call := range full.ToolCalls {
		state := contractx.CallInvoked
		if decl, ok := registry.Lookup(call.Function.Name); ok && decl.Deferred() {
			state = contractx.CallPendingInput
		}
		parts = append(parts, contractx.Part{
			Type:       contractx.PartToolCall,
			ToolCallID: call.ID,
			ToolName:   call.Function.Name,
			Input:      []byte(call.Function.Arguments),
			State:      state,
		})
	}
	return contractx.Message{Role: contractx.RoleAssistant, Parts: parts}
}

func joinText(parts []contractx.Part) string {
	var texts []string
	for _, part := range parts {
		if part.Type == contractx.PartText && part.Text != "" {
			texts = append(texts, part.Text)
		}
	}
	return strings.Join(texts, "\n")
}
