// Package manager assembles the channel, history directory,
// conversation machine, composer and export bridge into one scoped
// session manager with a guaranteed-release lifecycle.
package manager

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/phuongth20/chatbox-session/channel"
	"github.com/phuongth20/chatbox-session/composer"
	"github.com/phuongth20/chatbox-session/config"
	"github.com/phuongth20/chatbox-session/conversation"
	"github.com/phuongth20/chatbox-session/export"
	"github.com/phuongth20/chatbox-session/history"
	"github.com/phuongth20/chatbox-session/model/chat"
	"github.com/phuongth20/chatbox-session/notify"
)

// Manager owns the channel handle and passes it to each component that
// needs it. All server failures stay contained here: the only external
// effects are notifications and state-flag transitions.
type Manager struct {
	ch       *channel.Client
	notifier notify.Notifier

	Directory    *history.Directory
	Conversation *conversation.Machine
	Composer     *composer.Composer
	Export       *export.Bridge
}

// New assembles a manager from configuration. The channel stays idle
// until Start. A nil notifier falls back to the log notifier.
func New(cfg *config.Config, notifier notify.Notifier) *Manager {
	if notifier == nil {
		notifier = notify.Log{}
	}

	ch := channel.New(cfg.Channel.Endpoint, channel.Options{
		HandshakeTimeout: cfg.Channel.HandshakeTimeout,
		RetryInterval:    cfg.Channel.RetryInterval,
		MaxRetryInterval: cfg.Channel.MaxRetryInterval,
		QueuePending:     cfg.Channel.QueuePending,
		QueueLimit:       cfg.Channel.QueueLimit,
	})

	machine := conversation.New(ch)
	m := &Manager{
		ch:           ch,
		notifier:     notifier,
		Directory:    history.New(ch, notifier, machine.Select),
		Conversation: machine,
		Composer:     composer.New(ch, machine, notifier),
		Export:       export.New(cfg.Export.BaseURL, cfg.Export.OutputDir, &http.Client{Timeout: cfg.Export.Timeout}),
	}
	m.wire()
	return m
}

func (m *Manager) wire() {
	m.ch.Subscribe(chat.EventHistories, m.Directory.HandleHistories)
	m.ch.Subscribe(chat.EventHistoryInserted, m.Directory.HandleInserted)
	m.ch.Subscribe(chat.EventConversation, m.Conversation.HandleConversation)
	m.ch.Subscribe(chat.EventChatResponse, m.Conversation.HandleChatResponse)
	m.ch.Subscribe(chat.EventExportReady, m.handleExportReady)
	m.ch.Subscribe(chat.EventError, m.handleError)
	m.ch.OnPhase(m.handlePhase)
}

// Start opens the channel. It returns immediately; connectivity is
// observed through the Notifier and the channel phase.
func (m *Manager) Start(ctx context.Context) error {
	return m.ch.Connect(ctx)
}

// Close tears down the channel and releases its resources. Idempotent.
func (m *Manager) Close() {
	m.ch.Close()
}

// Channel exposes the underlying transport handle.
func (m *Manager) Channel() *channel.Client {
	return m.ch
}

// ExportActive exports the active session's transcript. Returns the
// saved artifact path.
func (m *Manager) ExportActive(ctx context.Context, format string) (string, error) {
	id := m.Conversation.ActiveSession()
	if id == "" {
		m.notifier.Warning("Vui lòng chọn một phiên trò chuyện trước.")
		return "", export.ErrNoSession
	}
	return m.Export.ExportConversation(ctx, id, format)
}

func (m *Manager) handlePhase(p channel.Phase) {
	switch p {
	case channel.Connected:
		m.notifier.Success("Đã kết nối với server.")
		// Commands issued while down were silently dropped; re-issue
		// the fetches needed to reflect server state.
		m.Directory.Refresh()
		m.Conversation.Reload()
	case channel.Disconnected:
		m.notifier.Warning("Đã ngắt kết nối với server.")
		m.Conversation.DropPending()
	}
}

func (m *Manager) handleError(data json.RawMessage) {
	var p chat.ErrorPayload
	if err := json.Unmarshal(data, &p); err == nil && p.Message != "" {
		log.Printf("[manager] server error: %s", p.Message)
	}
	m.notifier.Error("Đã có lỗi xảy ra.")
	m.Conversation.HandleChannelError()
	m.Directory.HandleChannelError()
}

func (m *Manager) handleExportReady(data json.RawMessage) {
	var p chat.ExportReadyPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Printf("[manager] bad export_ready payload: %v", err)
		return
	}
	m.notifier.Success("Xuất trò chuyện thành công: " + p.FileURL)
}
