// Package composer builds outgoing chat messages, including the
// base64 inline encoding of an optional attachment.
package composer

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/phuongth20/chatbox-session/model/chat"
	"github.com/phuongth20/chatbox-session/notify"
)

// PlaceholderText substitutes for the body of an attachment-only send
// so the timeline entry is never empty.
const PlaceholderText = "Đã gửi 1 tệp"

var (
	ErrEmptyMessage    = errors.New("message and attachment both empty")
	ErrNoActiveSession = errors.New("no active session selected")
)

// Attachment is one file picked for sending. The reader is consumed
// exactly once, fully into memory.
type Attachment struct {
	Filename string
	Reader   io.Reader
}

// Emitter is the outbound half of the channel the composer needs.
type Emitter interface {
	Send(event string, payload any) bool
}

// Timeline is the slice of the conversation machine the composer
// touches: the active session and the optimistic local echo.
type Timeline interface {
	ActiveSession() string
	AppendLive(chat.Message)
}

// Composer validates and emits user messages.
type Composer struct {
	emitter  Emitter
	timeline Timeline
	notifier notify.Notifier
	now      func() time.Time
}

// New builds a composer bound to an emitter and timeline.
func New(emitter Emitter, timeline Timeline, notifier notify.Notifier) *Composer {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Composer{
		emitter:  emitter,
		timeline: timeline,
		notifier: notifier,
		now:      time.Now,
	}
}

// Compose emits exactly one chat event for the given text and optional
// attachment. The local user entry is appended to the timeline before
// the encode/send completes, so the caller observes immediate feedback
// independent of network latency. A send dropped by a disconnected
// channel is not an error; it is simply lost.
func (c *Composer) Compose(text string, att *Attachment) error {
	text = strings.TrimSpace(text)
	if text == "" && att == nil {
		c.notifier.Warning("Vui lòng chọn tệp hoặc nhập tin nhắn trước khi gửi.")
		return ErrEmptyMessage
	}

	sessionID := c.timeline.ActiveSession()
	if sessionID == "" {
		c.notifier.Warning("Vui lòng chọn một phiên trò chuyện trước.")
		return ErrNoActiveSession
	}

	if att != nil && text == "" {
		text = PlaceholderText
	}

	c.timeline.AppendLive(chat.Message{
		ID:        uuid.NewString(),
		Role:      chat.RoleUser,
		Content:   text,
		Timestamp: chat.Clock(c.now()),
		Origin:    chat.Optimistic,
	})

	var file *chat.FileAttachment
	if att != nil {
		raw, err := io.ReadAll(att.Reader)
		if err != nil {
			c.notifier.Error("Không thể đọc tệp đính kèm.")
			return fmt.Errorf("read attachment %s: %w", att.Filename, err)
		}
		file = &chat.FileAttachment{
			Filename: att.Filename,
			Data:     base64.StdEncoding.EncodeToString(raw),
		}
	}

	c.emitter.Send(chat.EventChat, chat.ChatPayload{
		Message:   text,
		HistoryID: sessionID,
		File:      file,
	})
	return nil
}
