// Package export fires the synchronous export request against the
// collaborating export service and saves the returned artifact locally.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported export format")
	ErrNoSession         = errors.New("session id is required")
)

// Bridge is a stateless client for the export endpoint.
type Bridge struct {
	baseURL string
	dir     string
	httpc   *http.Client
}

// New builds a bridge. Artifacts are saved under dir; a nil client
// falls back to a 30s-timeout default.
func New(baseURL, dir string, client *http.Client) *Bridge {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if dir == "" {
		dir = "."
	}
	return &Bridge{baseURL: baseURL, dir: dir, httpc: client}
}

// ExportConversation requests the session's transcript in the given
// format (json or txt) and writes it to conversation_history.<format>
// under the bridge's output directory. Returns the saved path.
func (b *Bridge) ExportConversation(ctx context.Context, sessionID, format string) (string, error) {
	switch format {
	case "json", "txt":
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	if sessionID == "" {
		return "", ErrNoSession
	}

	body, err := json.Marshal(map[string]string{
		"type":       "conversation",
		"history_id": sessionID,
		"format":     format,
	})
	if err != nil {
		return "", fmt.Errorf("marshal export request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/api/export", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build export request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("export request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("export request: unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read export body: %w", err)
	}

	path := filepath.Join(b.dir, "conversation_history."+format)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("save export artifact: %w", err)
	}
	return path, nil
}
