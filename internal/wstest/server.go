// Package wstest runs an in-process chatbox server speaking the duplex
// event protocol, for use in tests across the module.
package wstest

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/phuongth20/chatbox-session/model/chat"
)

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Server is a scriptable protocol double: it serves the websocket
// endpoint plus the export endpoint and keeps an in-memory archive.
type Server struct {
	httpSrv  *httptest.Server
	upgrader websocket.Upgrader

	mu            sync.Mutex
	histories     []chat.Session
	conversations map[string][]chat.Exchange
	chats         []chat.ChatPayload
	reply         func(chat.ChatPayload) *chat.ChatResponsePayload
	holds         map[string]chan struct{}
	conns         map[*websocket.Conn]*sync.Mutex
}

// NewServer starts the double on an ephemeral port.
func NewServer() *Server {
	s := &Server{
		conversations: make(map[string][]chat.Exchange),
		holds:         make(map[string]chan struct{}),
		conns:         make(map[*websocket.Conn]*sync.Mutex),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/ws", s.handleWS)
	r.Post("/api/export", s.handleExport)
	s.httpSrv = httptest.NewServer(r)
	return s
}

// WSURL is the websocket endpoint.
func (s *Server) WSURL() string {
	return "ws" + strings.TrimPrefix(s.httpSrv.URL, "http") + "/ws"
}

// APIURL is the HTTP base URL (export endpoint).
func (s *Server) APIURL() string {
	return s.httpSrv.URL
}

// Close shuts the double down.
func (s *Server) Close() {
	s.DropConnections()
	s.httpSrv.Close()
}

// AddHistory seeds one session with the given archive.
func (s *Server) AddHistory(name string, exchanges []chat.Exchange) chat.Session {
	sess := chat.Session{ID: uuid.NewString(), Name: name, CreatedAt: time.Now().UTC()}
	s.mu.Lock()
	s.histories = append(s.histories, sess)
	s.conversations[sess.ID] = exchanges
	s.mu.Unlock()
	return sess
}

// SetReply scripts the assistant response to incoming chat events. A
// nil return means no chat_response is pushed.
func (s *Server) SetReply(fn func(chat.ChatPayload) *chat.ChatResponsePayload) {
	s.mu.Lock()
	s.reply = fn
	s.mu.Unlock()
}

// SentChats returns a copy of every chat payload received so far.
func (s *Server) SentChats() []chat.ChatPayload {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]chat.ChatPayload, len(s.chats))
	copy(out, s.chats)
	return out
}

// HoldConversation delays the snapshot response for one session until
// the returned release function is called.
func (s *Server) HoldConversation(historyID string) (release func()) {
	ch := make(chan struct{})
	s.mu.Lock()
	s.holds[historyID] = ch
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.holds, historyID)
			s.mu.Unlock()
			close(ch)
		})
	}
}

// DropConnections severs every open websocket, simulating a network
// drop. Server state survives, so clients may reconnect.
func (s *Server) DropConnections() {
	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
}

// Broadcast pushes one event to every connected client.
func (s *Server) Broadcast(event string, payload any) {
	s.mu.Lock()
	type target struct {
		conn *websocket.Conn
		mu   *sync.Mutex
	}
	targets := make([]target, 0, len(s.conns))
	for c, mu := range s.conns {
		targets = append(targets, target{c, mu})
	}
	s.mu.Unlock()

	for _, t := range targets {
		writeFrame(t.conn, t.mu, event, payload)
	}
}

// EmitError pushes a generic error event to every client.
func (s *Server) EmitError(msg string) {
	s.Broadcast(chat.EventError, chat.ErrorPayload{Message: msg})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[wstest] upgrade: %v", err)
		return
	}
	wmu := &sync.Mutex{}
	s.mu.Lock()
	s.conns[conn] = wmu
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			return
		}
		s.handleEvent(conn, wmu, f)
	}
}

func (s *Server) handleEvent(conn *websocket.Conn, wmu *sync.Mutex, f frame) {
	switch f.Event {
	case chat.EventGetHistories:
		s.mu.Lock()
		list := make([]chat.Session, len(s.histories))
		copy(list, s.histories)
		s.mu.Unlock()
		writeFrame(conn, wmu, chat.EventHistories, chat.HistoriesPayload{Histories: list})

	case chat.EventInsertHistory:
		var p chat.InsertHistoryPayload
		if err := json.Unmarshal(f.Data, &p); err != nil {
			writeFrame(conn, wmu, chat.EventError, chat.ErrorPayload{Message: "bad insert_history payload"})
			return
		}
		sess := s.AddHistory(p.HistoryName, nil)
		writeFrame(conn, wmu, chat.EventHistoryInserted, chat.HistoryInsertedPayload{HistoryID: sess.ID})

	case chat.EventGetConversation:
		var p chat.GetConversationPayload
		if err := json.Unmarshal(f.Data, &p); err != nil {
			writeFrame(conn, wmu, chat.EventError, chat.ErrorPayload{Message: "bad get_conversation payload"})
			return
		}
		s.mu.Lock()
		hold := s.holds[p.HistoryID]
		exchanges := append([]chat.Exchange(nil), s.conversations[p.HistoryID]...)
		s.mu.Unlock()
		if hold != nil {
			<-hold
		}
		if exchanges == nil {
			exchanges = []chat.Exchange{}
		}
		writeFrame(conn, wmu, chat.EventConversation, chat.ConversationPayload{Conversation: exchanges})

	case chat.EventChat:
		var p chat.ChatPayload
		if err := json.Unmarshal(f.Data, &p); err != nil {
			writeFrame(conn, wmu, chat.EventError, chat.ErrorPayload{Message: "bad chat payload"})
			return
		}
		s.mu.Lock()
		s.chats = append(s.chats, p)
		ex := chat.Exchange{Question: p.Message, QuestionDate: time.Now().UTC().Format(time.RFC3339)}
		reply := s.reply
		s.mu.Unlock()

		var resp *chat.ChatResponsePayload
		if reply != nil {
			resp = reply(p)
		}
		if resp != nil {
			ex.Response = resp.Summary
			ex.ResponseDate = resp.ResponseDate
		}
		s.mu.Lock()
		s.conversations[p.HistoryID] = append(s.conversations[p.HistoryID], ex)
		s.mu.Unlock()
		if resp != nil {
			writeFrame(conn, wmu, chat.EventChatResponse, *resp)
		}

	default:
		log.Printf("[wstest] unhandled event %q", f.Event)
	}
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Type      string `json:"type"`
		HistoryID string `json:"history_id"`
		Format    string `json:"format"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Type != "conversation" {
		http.Error(w, "bad export request", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	exchanges, ok := s.conversations[req.HistoryID]
	s.mu.Unlock()
	if !ok {
		http.Error(w, "history not found", http.StatusNotFound)
		return
	}

	switch req.Format {
	case "json":
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(exchanges)
	case "txt":
		w.Header().Set("Content-Type", "text/plain")
		for _, ex := range exchanges {
			fmt.Fprintf(w, "Q: %s\nA: %s\n", ex.Question, ex.Response)
		}
	default:
		http.Error(w, "unsupported format", http.StatusBadRequest)
	}
}

func writeFrame(conn *websocket.Conn, wmu *sync.Mutex, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[wstest] marshal %s: %v", event, err)
		return
	}
	wmu.Lock()
	defer wmu.Unlock()
	if err := conn.WriteJSON(frame{Event: event, Data: data}); err != nil {
		log.Printf("[wstest] write %s: %v", event, err)
	}
}
