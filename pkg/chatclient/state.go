package chatclient

// State is the client's position in the conversation lifecycle.
type State int

const (
	// StateNoConversation means nothing is selected yet.
	StateNoConversation State = iota
	// StateLoadingHistory means a selection is in flight and history is
	// being fetched.
	StateLoadingHistory
	// StateActive means a conversation is selected and idle.
	StateActive
	// StateStreaming means a reply is being received.
	StateStreaming
)

func (s State) String() string {
	switch s {
	case StateNoConversation:
		return "no_conversation"
	case StateLoadingHistory:
		return "loading_history"
	case StateActive:
		return "active"
	case StateStreaming:
		return "streaming"
	default:
		return "unknown"
	}
}

// Message is one rendered turn.
type Message struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Sources []Source `json:"sources,omitempty"`
}

// Source is a citation attached to an assistant message.
type Source struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Observer receives conversation lifecycle notifications, e.g. so a sidebar
// can refresh its list without watching the client's internals.
type Observer interface {
	ConversationCreated(id string)
	ConversationUpdated(id string)
}
