package composer_test

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/phuongth20/chatbox-session/composer"
	"github.com/phuongth20/chatbox-session/model/chat"
)

type fakeEmitter struct {
	mu       sync.Mutex
	payloads []chat.ChatPayload
}

func (f *fakeEmitter) Send(event string, payload any) bool {
	if event != chat.EventChat {
		return true
	}
	data, _ := json.Marshal(payload)
	var p chat.ChatPayload
	_ = json.Unmarshal(data, &p)
	f.mu.Lock()
	f.payloads = append(f.payloads, p)
	f.mu.Unlock()
	return true
}

func (f *fakeEmitter) sent() []chat.ChatPayload {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]chat.ChatPayload, len(f.payloads))
	copy(out, f.payloads)
	return out
}

type fakeTimeline struct {
	active   string
	appended []chat.Message
}

func (f *fakeTimeline) ActiveSession() string       { return f.active }
func (f *fakeTimeline) AppendLive(msg chat.Message) { f.appended = append(f.appended, msg) }

type recorder struct {
	warnings []string
	errors   []string
}

func (r *recorder) Success(string)     {}
func (r *recorder) Warning(msg string) { r.warnings = append(r.warnings, msg) }
func (r *recorder) Error(msg string)   { r.errors = append(r.errors, msg) }

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("đĩa hỏng") }

func TestComposeRejectsEmpty(t *testing.T) {
	em := &fakeEmitter{}
	tl := &fakeTimeline{active: "s1"}
	rec := &recorder{}
	c := composer.New(em, tl, rec)

	if err := c.Compose("   ", nil); err != composer.ErrEmptyMessage {
		t.Fatalf("got %v want ErrEmptyMessage", err)
	}
	if len(tl.appended) != 0 || len(em.sent()) != 0 {
		t.Fatal("validation failure must have no side effects")
	}
	if len(rec.warnings) != 1 {
		t.Fatalf("expected one warning, got %v", rec.warnings)
	}
}

func TestComposeRequiresActiveSession(t *testing.T) {
	em := &fakeEmitter{}
	tl := &fakeTimeline{}
	rec := &recorder{}
	c := composer.New(em, tl, rec)

	if err := c.Compose("hello", nil); err != composer.ErrNoActiveSession {
		t.Fatalf("got %v want ErrNoActiveSession", err)
	}
	if len(em.sent()) != 0 {
		t.Fatal("no session selected must not touch the channel")
	}
}

func TestComposeTextOnly(t *testing.T) {
	em := &fakeEmitter{}
	tl := &fakeTimeline{active: "s1"}
	c := composer.New(em, tl, nil)

	if err := c.Compose("hello", nil); err != nil {
		t.Fatalf("Compose err: %v", err)
	}

	if len(tl.appended) != 1 {
		t.Fatalf("appended: got %d entries want 1", len(tl.appended))
	}
	local := tl.appended[0]
	if local.Role != chat.RoleUser || local.Content != "hello" || local.Origin != chat.Optimistic {
		t.Fatalf("optimistic entry mismatch: %+v", local)
	}

	sent := em.sent()
	if len(sent) != 1 {
		t.Fatalf("sent: got %d events want 1", len(sent))
	}
	if sent[0].Message != "hello" || sent[0].HistoryID != "s1" || sent[0].File != nil {
		t.Fatalf("chat payload mismatch: %+v", sent[0])
	}
}

func TestComposeAttachmentOnlyUsesPlaceholder(t *testing.T) {
	em := &fakeEmitter{}
	tl := &fakeTimeline{active: "s1"}
	c := composer.New(em, tl, nil)

	att := &composer.Attachment{Filename: "bao-cao.pdf", Reader: strings.NewReader("nội dung tệp")}
	if err := c.Compose("", att); err != nil {
		t.Fatalf("Compose err: %v", err)
	}

	sent := em.sent()
	if len(sent) != 1 {
		t.Fatalf("sent: got %d events want 1", len(sent))
	}
	if sent[0].Message != composer.PlaceholderText {
		t.Fatalf("message: got %q want placeholder", sent[0].Message)
	}
	if sent[0].File == nil || sent[0].File.Filename != "bao-cao.pdf" {
		t.Fatalf("file mismatch: %+v", sent[0].File)
	}
	want := base64.StdEncoding.EncodeToString([]byte("nội dung tệp"))
	if sent[0].File.Data != want {
		t.Fatalf("file data: got %q want %q", sent[0].File.Data, want)
	}
	if tl.appended[0].Content != composer.PlaceholderText {
		t.Fatalf("optimistic entry: got %q want placeholder", tl.appended[0].Content)
	}
}

func TestComposeTextWithAttachmentKeepsText(t *testing.T) {
	em := &fakeEmitter{}
	tl := &fakeTimeline{active: "s1"}
	c := composer.New(em, tl, nil)

	att := &composer.Attachment{Filename: "ghi-chu.txt", Reader: strings.NewReader("x")}
	if err := c.Compose("xem tệp này", att); err != nil {
		t.Fatalf("Compose err: %v", err)
	}

	sent := em.sent()
	if sent[0].Message != "xem tệp này" {
		t.Fatalf("message: got %q", sent[0].Message)
	}
	if sent[0].File == nil {
		t.Fatal("attachment missing from payload")
	}
}

func TestComposeAttachmentReadError(t *testing.T) {
	em := &fakeEmitter{}
	tl := &fakeTimeline{active: "s1"}
	rec := &recorder{}
	c := composer.New(em, tl, rec)

	att := &composer.Attachment{Filename: "hong.bin", Reader: failingReader{}}
	err := c.Compose("", att)
	if err == nil {
		t.Fatal("expected read error")
	}
	if len(em.sent()) != 0 {
		t.Fatal("failed read must not emit a chat event")
	}
	// The optimistic echo happened before the read; it stays, per the
	// no-rollback rule for optimistic entries.
	if len(tl.appended) != 1 {
		t.Fatalf("appended: got %d entries want 1", len(tl.appended))
	}
	if len(rec.errors) != 1 {
		t.Fatalf("expected one error notification, got %v", rec.errors)
	}
}
