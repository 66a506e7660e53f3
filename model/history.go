package model

// HistoryKind tags the variant held by a HistoryItem.
type HistoryKind int

const (
	HistoryUser HistoryKind = iota
	HistoryAssistant
	HistoryToolCall
	HistoryToolResult
)

func (k HistoryKind) String() string {
	switch k {
	case HistoryUser:
		return "user"
	case HistoryAssistant:
		return "assistant"
	case HistoryToolCall:
		return "tool_call"
	case HistoryToolResult:
		return "tool_result"
	default:
		return "unknown"
	}
}

// HistoryItem is the tagged union described in spec §3: User(text),
// Assistant(text), ToolCall(id,name,arguments_json), ToolResult(id,content).
// Exactly one of the payload fields is meaningful, selected by Kind.
type HistoryItem struct {
	Kind HistoryKind

	// User, Assistant
	Text string

	// ToolCall
	ToolCallID   string
	ToolName     string
	ArgumentsRaw string

	// ToolResult
	ToolResultID string
	Content      string
}

func UserItem(text string) HistoryItem {
	return HistoryItem{Kind: HistoryUser, Text: text}
}

func AssistantItem(text string) HistoryItem {
	return HistoryItem{Kind: HistoryAssistant, Text: text}
}

func ToolCallItem(id, name, argumentsRaw string) HistoryItem {
	return HistoryItem{Kind: HistoryToolCall, ToolCallID: id, ToolName: name, ArgumentsRaw: argumentsRaw}
}

func ToolResultItem(id, content string) HistoryItem {
	return HistoryItem{Kind: HistoryToolResult, ToolResultID: id, Content: content}
}

// History is a bounded, oldest-first-eviction list of HistoryItems. It
// never leaves a ToolCall without its paired ToolResult: eviction walks
// forward from the chosen cut point until it lands on a safe boundary.
type History struct {
	items    []HistoryItem
	maxItems int
}

// NewHistory creates a History bounded at maxItems (spec default 20).
func NewHistory(maxItems int) *History {
	if maxItems <= 0 {
		maxItems = 20
	}
	return &History{maxItems: maxItems}
}

// Append adds item, then evicts from the front until the bound is
// respected, never cutting a ToolCall away from its ToolResult.
func (h *History) Append(item HistoryItem) {
	h.items = append(h.items, item)
	h.evict()
}

func (h *History) evict() {
	for len(h.items) > h.maxItems {
		cut := len(h.items) - h.maxItems
		// Never evict a ToolCall without first evicting its ToolResult:
		// if the item just past the cut point is a ToolResult whose
		// ToolCall sits at or before the cut, push the cut forward so
		// the pair leaves together.
		if cut < len(h.items) && h.items[cut].Kind == HistoryToolResult {
			for j := cut - 1; j >= 0; j-- {
				if h.items[j].Kind == HistoryToolCall && h.items[j].ToolCallID == h.items[cut].ToolResultID {
					cut++
					break
				}
			}
		}
		if cut <= 0 || cut > len(h.items) {
			break
		}
		h.items = h.items[cut:]
	}
}

// Items returns a snapshot of the current history, oldest first.
func (h *History) Items() []HistoryItem {
	out := make([]HistoryItem, len(h.items))
	copy(out, h.items)
	return out
}

// Len reports the current history length.
func (h *History) Len() int { return len(h.items) }

// TruncateDanglingToolCall drops a trailing ToolCall (and any Assistant
// text immediately preceding it in the same turn) that never received its
// matching ToolResult, so a cancelled turn never leaves history in an
// inconsistent state (spec §4.5 cancellation contract).
func (h *History) TruncateDanglingToolCall() {
	dropped := false
	for len(h.items) > 0 && h.items[len(h.items)-1].Kind == HistoryToolCall {
		h.items = h.items[:len(h.items)-1]
		dropped = true
	}
	if dropped && len(h.items) > 0 && h.items[len(h.items)-1].Kind == HistoryAssistant {
		h.items = h.items[:len(h.items)-1]
	}
}

// History keeps no language: HistoryItem carries no language field, so
// language tracking lives on the caller (spec §3).
