package chat

// Event names spoken on the duplex channel. One name per purpose; the
// protocol carries no request ids, so responses are correlated by name
// and arrival order alone.
const (
	EventGetHistories    = "get_histories"
	EventHistories       = "histories"
	EventInsertHistory   = "insert_history"
	EventHistoryInserted = "history_inserted"
	EventGetConversation = "get_conversation"
	EventConversation    = "conversation"
	EventChat            = "chat"
	EventChatResponse    = "chat_response"
	EventExportReady     = "export_ready"
	EventError           = "error"
)

// HistoriesPayload is the server's full session-list snapshot.
type HistoriesPayload struct {
	Histories []Session `json:"histories"`
}

// InsertHistoryPayload asks the server to create a named session.
type InsertHistoryPayload struct {
	HistoryName string `json:"history_name"`
}

// HistoryInsertedPayload confirms a creation with the authoritative id.
type HistoryInsertedPayload struct {
	HistoryID string `json:"history_id"`
}

// GetConversationPayload requests a timeline snapshot for one session.
type GetConversationPayload struct {
	HistoryID string `json:"history_id"`
}

// Exchange is one archived question/response pair. Either side may be
// absent; dates are opaque display strings.
type Exchange struct {
	Question       string `json:"question"`
	QuestionDate   string `json:"question_date,omitempty"`
	Response       string `json:"response"`
	ResponseDate   string `json:"response_date,omitempty"`
	FileContent    string `json:"file_content,omitempty"`
	SummaryFileURL string `json:"summaryFileUrl,omitempty"`
}

// ConversationPayload is a full timeline snapshot.
type ConversationPayload struct {
	Conversation []Exchange `json:"conversation"`
}

// FileAttachment carries one base64-encoded inline attachment.
type FileAttachment struct {
	Filename string `json:"filename"`
	Data     string `json:"data"`
}

// ChatPayload is an outgoing user message.
type ChatPayload struct {
	Message   string          `json:"message"`
	HistoryID string          `json:"history_id"`
	File      *FileAttachment `json:"file"`
}

// ChatResponsePayload is a pushed assistant reply.
type ChatResponsePayload struct {
	Summary        string   `json:"summary"`
	ResponseDate   string   `json:"response_date,omitempty"`
	SummaryFileURL string   `json:"summaryFileUrl,omitempty"`
	Recommend      []string `json:"recommend,omitempty"`
}

// ExportReadyPayload announces a server-prepared export artifact.
type ExportReadyPayload struct {
	FileURL string `json:"file_url"`
}

// ErrorPayload is the generic failure signal. The server's shape is
// implementation-defined; only Message is relied upon.
type ErrorPayload struct {
	Message string `json:"message,omitempty"`
}
