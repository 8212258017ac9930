// Package conversation holds the ordered message timeline for the
// active session and the rules for rebuilding it from server snapshots.
package conversation

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/phuongth20/chatbox-session/model/chat"
)

// WelcomeMessage seeds the timeline of a session whose archive is
// empty. Local-only; it is never sent to the server.
const WelcomeMessage = "Chào bạn! Tôi có thể hỗ trợ gì cho bạn hôm nay?"

// Phase is the loading state of the active session's timeline.
type Phase int

const (
	Idle Phase = iota
	Loading
	Ready
	Error
)

func (p Phase) String() string {
	switch p {
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case Error:
		return "error"
	default:
		return "idle"
	}
}

// Emitter is the outbound half of the channel the machine needs. The
// return value reports whether the frame was handed to the transport.
type Emitter interface {
	Send(event string, payload any) bool
}

// Machine reconstructs and extends one session's timeline. At most one
// session is active; switching sessions discards the previous in-memory
// timeline and re-selecting later always refetches from the server, so
// the client never shows a timeline that silently diverged from the
// authoritative log.
type Machine struct {
	emitter Emitter
	now     func() time.Time

	mu       sync.Mutex
	active   string
	phase    Phase
	timeline []chat.Message
	// Session ids of outstanding snapshot requests, oldest first. The
	// protocol has no request ids, so responses are attributed to
	// requests by arrival order and dropped when the session they were
	// issued for is no longer active.
	pendingSnaps []string
}

// New builds an idle machine on top of the given emitter.
func New(emitter Emitter) *Machine {
	return &Machine{
		emitter: emitter,
		now:     time.Now,
	}
}

// Select makes sessionID the active session, clears the visible
// timeline and requests a fresh snapshot. If the channel is down the
// request is lost and the machine stays in Loading until Reload is
// called after reconnection.
func (m *Machine) Select(sessionID string) {
	m.mu.Lock()
	m.active = sessionID
	m.timeline = nil
	m.phase = Loading
	m.pendingSnaps = append(m.pendingSnaps, sessionID)
	m.mu.Unlock()

	if !m.emitter.Send(chat.EventGetConversation, chat.GetConversationPayload{HistoryID: sessionID}) {
		m.mu.Lock()
		if n := len(m.pendingSnaps); n > 0 && m.pendingSnaps[n-1] == sessionID {
			m.pendingSnaps = m.pendingSnaps[:n-1]
		}
		m.mu.Unlock()
	}
}

// Reload re-issues the snapshot request for the active session. Called
// after the channel comes back up, since requests in flight during a
// drop are lost, not retried.
func (m *Machine) Reload() {
	m.mu.Lock()
	id := m.active
	m.mu.Unlock()
	if id == "" {
		return
	}
	m.Select(id)
}

// DropPending forgets all outstanding snapshot requests. Called when
// the channel disconnects: their responses died with the connection,
// and keeping them would misattribute snapshots after reconnect.
func (m *Machine) DropPending() {
	m.mu.Lock()
	m.pendingSnaps = nil
	m.mu.Unlock()
}

// AppendLive appends one message to the end of the current timeline.
// Used for the optimistic local echo of a sent message and for pushed
// assistant replies. Never reorders, never deduplicates.
func (m *Machine) AppendLive(msg chat.Message) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp == "" {
		msg.Timestamp = chat.Clock(m.now())
	}
	m.mu.Lock()
	m.timeline = append(m.timeline, msg)
	m.mu.Unlock()
}

// ActiveSession reports the id of the active session, or "".
func (m *Machine) ActiveSession() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Phase reports the timeline's loading phase.
func (m *Machine) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// Timeline returns a copy of the current timeline.
func (m *Machine) Timeline() []chat.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]chat.Message, len(m.timeline))
	copy(out, m.timeline)
	return out
}

// HandleConversation consumes a `conversation` snapshot event. A
// snapshot for a session that is no longer active is dropped silently.
func (m *Machine) HandleConversation(data json.RawMessage) {
	var p chat.ConversationPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Printf("[conversation] bad snapshot payload: %v", err)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.pendingSnaps) == 0 {
		log.Printf("[conversation] unsolicited snapshot dropped")
		return
	}
	requested := m.pendingSnaps[0]
	m.pendingSnaps = m.pendingSnaps[1:]
	if requested != m.active {
		log.Printf("[conversation] stale snapshot for %s dropped (active %s)", requested, m.active)
		return
	}

	m.timeline = m.expand(p.Conversation)
	m.phase = Ready
}

// HandleChatResponse consumes a pushed `chat_response` event and
// appends the assistant reply to the active timeline.
func (m *Machine) HandleChatResponse(data json.RawMessage) {
	var p chat.ChatResponsePayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Printf("[conversation] bad chat_response payload: %v", err)
		return
	}

	if m.ActiveSession() == "" {
		log.Printf("[conversation] chat_response with no active session dropped")
		return
	}

	ts := clockFromWire(p.ResponseDate)
	if ts == "" {
		ts = chat.Clock(m.now())
	}
	m.AppendLive(chat.Message{
		Role:          chat.RoleAssistant,
		Content:       p.Summary,
		Timestamp:     ts,
		AttachmentRef: p.SummaryFileURL,
		Recommend:     p.Recommend,
		Origin:        chat.Confirmed,
	})
}

// HandleChannelError moves the machine to Error if a snapshot load was
// in progress. The timeline is left as-is; the caller may retry by
// re-selecting the session.
func (m *Machine) HandleChannelError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase == Loading {
		m.phase = Error
	}
}

// expand turns an archive into timeline entries: for each exchange a
// user entry if a question was recorded, then an assistant entry if a
// response was recorded. An empty archive yields the welcome entry.
func (m *Machine) expand(exchanges []chat.Exchange) []chat.Message {
	if len(exchanges) == 0 {
		return []chat.Message{{
			ID:        uuid.NewString(),
			Role:      chat.RoleAssistant,
			Content:   WelcomeMessage,
			Timestamp: chat.Clock(m.now()),
			Origin:    chat.Confirmed,
		}}
	}

	out := make([]chat.Message, 0, 2*len(exchanges))
	for _, ex := range exchanges {
		if ex.Question != "" {
			out = append(out, chat.Message{
				ID:        uuid.NewString(),
				Role:      chat.RoleUser,
				Content:   ex.Question,
				Timestamp: clockFromWire(ex.QuestionDate),
				Origin:    chat.Confirmed,
			})
		}
		if ex.Response != "" {
			out = append(out, chat.Message{
				ID:            uuid.NewString(),
				Role:          chat.RoleAssistant,
				Content:       ex.Response,
				Timestamp:     clockFromWire(ex.ResponseDate),
				AttachmentRef: ex.SummaryFileURL,
				FileExcerpt:   ex.FileContent,
				Origin:        chat.Confirmed,
			})
		}
	}
	return out
}

// clockFromWire renders a server date string as a display clock, or ""
// when the date is absent or unparseable.
func clockFromWire(s string) string {
	if s == "" {
		return ""
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return ""
	}
	return chat.Clock(t.Local())
}
