package upstream

import (
	"testing"

	"github.com/kirogateway/kiro-gateway/internal/chatmodel"
)

func TestToWireEnvelopePreservesToolBlocks(t *testing.T) {
	env := chatmodel.Envelope{
		ModelID: "claude-haiku-4.5",
		History: []chatmodel.Message{
			{
				Role: chatmodel.RoleAssistant,
				Content: []chatmodel.ContentBlock{
					{Type: chatmodel.BlockToolUse, ToolUseID: "tu_1", ToolName: "get_weather", ToolRawArgs: `{"city":"nyc"}`},
				},
			},
			{
				Role: chatmodel.RoleUser,
				Content: []chatmodel.ContentBlock{
					{Type: chatmodel.BlockToolResult, ToolResultForID: "tu_1", ToolResultText: "72F and sunny", ToolResultIsErr: false},
				},
			},
		},
		CurrentUserMessage: chatmodel.Message{
			Role:    chatmodel.RoleUser,
			Content: []chatmodel.ContentBlock{{Type: chatmodel.BlockText, Text: "thanks"}},
		},
	}

	we := toWireEnvelope(env)

	if len(we.History) != 2 {
		t.Fatalf("got %d history entries, want 2", len(we.History))
	}
	toolUse := we.History[0].Content
	if len(toolUse) != 1 || toolUse[0].Type != "tool_use" || toolUse[0].ToolUseID != "tu_1" || toolUse[0].Input != `{"city":"nyc"}` {
		t.Errorf("history[0].Content = %+v, want a tool_use block for tu_1", toolUse)
	}
	toolResult := we.History[1].Content
	if len(toolResult) != 1 || toolResult[0].Type != "tool_result" || toolResult[0].ToolUseID != "tu_1" || toolResult[0].Text != "72F and sunny" {
		t.Errorf("history[1].Content = %+v, want a tool_result block for tu_1", toolResult)
	}
	if len(we.CurrentMessage) != 1 || we.CurrentMessage[0].Type != "text" || we.CurrentMessage[0].Text != "thanks" {
		t.Errorf("CurrentMessage = %+v, want a single text block \"thanks\"", we.CurrentMessage)
	}
}
