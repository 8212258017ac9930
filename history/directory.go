// Package history lists and creates the named conversation sessions the
// server persists. The directory never invents state: the list is
// replaced wholesale from `histories` events and a created session is
// only inserted once the server confirms it with the authoritative id.
package history

import (
	"encoding/json"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/phuongth20/chatbox-session/model/chat"
	"github.com/phuongth20/chatbox-session/notify"
)

// ErrBlankName rejects a blank or whitespace-only session name before
// any channel traffic.
var ErrBlankName = errors.New("history name is blank")

// Emitter is the outbound half of the channel the directory needs.
type Emitter interface {
	Send(event string, payload any) bool
}

// Directory caches session metadata and drives the list/create
// commands. Refresh and create may overlap; each is correlated by its
// own event name, not by request id.
type Directory struct {
	emitter  Emitter
	notifier notify.Notifier
	onSelect func(sessionID string)
	now      func() time.Time

	mu          sync.Mutex
	sessions    []chat.Session
	refreshing  bool
	creating    bool
	pendingName string
}

// New builds a directory. onSelect, if non-nil, is invoked with the new
// session id after the server confirms a create.
func New(emitter Emitter, notifier notify.Notifier, onSelect func(sessionID string)) *Directory {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Directory{
		emitter:  emitter,
		notifier: notifier,
		onSelect: onSelect,
		now:      time.Now,
	}
}

// Refresh requests the full session list. The in-memory list is only
// touched when the `histories` event arrives.
func (d *Directory) Refresh() {
	d.mu.Lock()
	d.refreshing = true
	d.mu.Unlock()

	if !d.emitter.Send(chat.EventGetHistories, struct{}{}) {
		// Lost while disconnected; the caller re-issues after reconnect.
		d.mu.Lock()
		d.refreshing = false
		d.mu.Unlock()
	}
}

// Create asks the server for a new named session. No optimistic local
// insert: the session appears only once `history_inserted` arrives.
func (d *Directory) Create(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		d.notifier.Warning("Tên phiên trò chuyện không được để trống.")
		return ErrBlankName
	}

	d.mu.Lock()
	d.creating = true
	d.pendingName = trimmed
	d.mu.Unlock()

	if !d.emitter.Send(chat.EventInsertHistory, chat.InsertHistoryPayload{HistoryName: trimmed}) {
		d.mu.Lock()
		d.creating = false
		d.pendingName = ""
		d.mu.Unlock()
	}
	return nil
}

// Sessions returns a copy of the cached session list.
func (d *Directory) Sessions() []chat.Session {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]chat.Session, len(d.sessions))
	copy(out, d.sessions)
	return out
}

// Refreshing reports whether a list request is outstanding.
func (d *Directory) Refreshing() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.refreshing
}

// Creating reports whether a create request is outstanding.
func (d *Directory) Creating() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.creating
}

// HandleHistories consumes a `histories` event: last write wins, the
// previous list is replaced wholesale.
func (d *Directory) HandleHistories(data json.RawMessage) {
	var p chat.HistoriesPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Printf("[history] bad histories payload: %v", err)
		return
	}

	d.mu.Lock()
	d.sessions = p.Histories
	d.refreshing = false
	d.mu.Unlock()
}

// HandleInserted consumes a `history_inserted` confirmation, inserts
// the session under the server's id and selects it as active.
func (d *Directory) HandleInserted(data json.RawMessage) {
	var p chat.HistoryInsertedPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Printf("[history] bad history_inserted payload: %v", err)
		return
	}

	d.mu.Lock()
	name := d.pendingName
	d.creating = false
	d.pendingName = ""
	d.sessions = append(d.sessions, chat.Session{
		ID:        p.HistoryID,
		Name:      name,
		CreatedAt: d.now(),
	})
	d.mu.Unlock()

	d.notifier.Success("Tạo phiên trò chuyện mới thành công.")
	if d.onSelect != nil {
		d.onSelect(p.HistoryID)
	}
}

// HandleChannelError clears the in-flight flags so a failed server op
// does not leave the directory stuck in Refreshing/Creating.
func (d *Directory) HandleChannelError() {
	d.mu.Lock()
	d.refreshing = false
	d.creating = false
	d.pendingName = ""
	d.mu.Unlock()
}
