package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHistory_EvictsOldestBeyondBound(t *testing.T) {
	h := NewHistory(2)
	h.Append(UserItem("one"))
	h.Append(AssistantItem("two"))
	h.Append(UserItem("three"))

	items := h.Items()
	require := assert.New(t)
	require.Len(items, 2)
	require.Equal("two", items[0].Text)
	require.Equal("three", items[1].Text)
}

func TestHistory_NeverSplitsToolCallFromItsResult(t *testing.T) {
	h := NewHistory(3)
	h.Append(UserItem("calc this"))
	h.Append(ToolCallItem("call_1", "calculate", `{"expression":"1+1"}`))
	h.Append(ToolResultItem("call_1", `{"result":2}`))
	h.Append(AssistantItem("the answer is 2"))

	items := h.Items()
	for i, it := range items {
		if it.Kind == HistoryToolResult && (i == 0 || items[i-1].Kind != HistoryToolCall || items[i-1].ToolCallID != it.ToolResultID) {
			t.Fatalf("unexpected dangling ToolResult at %d with no preceding ToolCall", i)
		}
	}
	// the ToolCall/ToolResult pair evicted together, never split
	var sawCall, sawResult bool
	for _, it := range items {
		if it.Kind == HistoryToolCall {
			sawCall = true
		}
		if it.Kind == HistoryToolResult {
			sawResult = true
		}
	}
	assert.Equal(t, sawCall, sawResult)
}

func TestHistory_TruncateDanglingToolCall(t *testing.T) {
	h := NewHistory(10)
	h.Append(UserItem("hi"))
	h.Append(ToolCallItem("call_1", "calculate", `{"expression":"1+1"}`))

	h.TruncateDanglingToolCall()

	items := h.Items()
	require_ := assert.New(t)
	require_.Len(items, 1)
	require_.Equal(HistoryUser, items[0].Kind)
}
