package export

import (
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/lotas/cognito/internal/types"
)

// FormatVersion is written into every JSON document.
const FormatVersion = 1

// Document is the JSON form of a whole notebook.
type Document struct {
	Version    int          `json:"version"`
	ExportedAt time.Time    `json:"exported_at"`
	Cards      []types.Card `json:"cards"`
}

// JSON formats cards as a JSON document. Image content is kept as data URIs
// so the document can be restored.
func JSON(cards []types.Card, now time.Time) (string, error) {
	if cards == nil {
		cards = []types.Card{}
	}
	b, err := json.MarshalIndent(Document{Version: FormatVersion, ExportedAt: now, Cards: cards}, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b) + "\n", nil
}

// ParseJSON reads a document written by JSON.
func ParseJSON(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse notebook: %w", err)
	}
	if doc.Version != FormatVersion {
		return nil, fmt.Errorf("parse notebook: unsupported version %d", doc.Version)
	}
	return &doc, nil
}

func extractDomain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return u.Hostname()
}
