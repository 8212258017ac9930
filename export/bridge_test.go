package export_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/phuongth20/chatbox-session/export"
	"github.com/phuongth20/chatbox-session/internal/wstest"
	"github.com/phuongth20/chatbox-session/model/chat"
)

func TestExportJSON(t *testing.T) {
	srv := wstest.NewServer()
	defer srv.Close()
	sess := srv.AddHistory("Phiên 1", []chat.Exchange{
		{Question: "hỏi", Response: "đáp"},
	})

	dir := t.TempDir()
	b := export.New(srv.APIURL(), dir, nil)

	path, err := b.ExportConversation(context.Background(), sess.ID, "json")
	if err != nil {
		t.Fatalf("ExportConversation err: %v", err)
	}
	if want := filepath.Join(dir, "conversation_history.json"); path != want {
		t.Fatalf("path: got %q want %q", path, want)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	var exchanges []chat.Exchange
	if err := json.Unmarshal(data, &exchanges); err != nil {
		t.Fatalf("artifact is not JSON: %v", err)
	}
	if len(exchanges) != 1 || exchanges[0].Question != "hỏi" {
		t.Fatalf("artifact content mismatch: %+v", exchanges)
	}
}

func TestExportTxt(t *testing.T) {
	srv := wstest.NewServer()
	defer srv.Close()
	sess := srv.AddHistory("Phiên 1", []chat.Exchange{
		{Question: "hỏi", Response: "đáp"},
	})

	dir := t.TempDir()
	b := export.New(srv.APIURL(), dir, nil)

	path, err := b.ExportConversation(context.Background(), sess.ID, "txt")
	if err != nil {
		t.Fatalf("ExportConversation err: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if !strings.Contains(string(data), "hỏi") || !strings.Contains(string(data), "đáp") {
		t.Fatalf("artifact content mismatch: %q", data)
	}
}

func TestExportRejectsUnknownFormat(t *testing.T) {
	b := export.New("http://localhost:0", t.TempDir(), nil)

	_, err := b.ExportConversation(context.Background(), "s1", "pdf")
	if !errors.Is(err, export.ErrUnsupportedFormat) {
		t.Fatalf("got %v want ErrUnsupportedFormat", err)
	}
}

func TestExportRequiresSession(t *testing.T) {
	b := export.New("http://localhost:0", t.TempDir(), nil)

	_, err := b.ExportConversation(context.Background(), "", "json")
	if !errors.Is(err, export.ErrNoSession) {
		t.Fatalf("got %v want ErrNoSession", err)
	}
}

func TestExportUnknownSession(t *testing.T) {
	srv := wstest.NewServer()
	defer srv.Close()

	b := export.New(srv.APIURL(), t.TempDir(), nil)
	if _, err := b.ExportConversation(context.Background(), "không tồn tại", "json"); err == nil {
		t.Fatal("expected error for unknown session")
	}
}
