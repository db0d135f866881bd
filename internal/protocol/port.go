// Package protocol defines the JSON messages exchanged between the browser
// extension, the relay, and side panels.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/lotas/cognito/internal/types"
)

// Port message types.
const (
	SetContextTabID       = "SET_CONTEXT_TAB_ID"
	PanelReady            = "PANEL_READY"
	InitializeWithContent = "INITIALIZE_WITH_CONTENT"
)

var (
	// ErrBadTabID is returned for a tab id that is not a positive integer.
	ErrBadTabID = errors.New("invalid tab id")
	// ErrMalformed wraps every DecodePort failure.
	ErrMalformed = errors.New("malformed port message")
)

// TabID identifies a browser tab. On the wire it is a number, though a
// numeric string is accepted.
type TabID int64

// ParseTabID parses a port name or other textual tab id.
func ParseTabID(s string) (TabID, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrBadTabID, s)
	}
	return TabID(n), nil
}

func (t TabID) String() string {
	return strconv.FormatInt(int64(t), 10)
}

// UnmarshalJSON accepts 7 and "7".
func (t *TabID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*t = 0
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		id, err := ParseTabID(s)
		if err != nil {
			return err
		}
		*t = id
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("%w: %s", ErrBadTabID, data)
	}
	*t = TabID(n)
	return nil
}

// PortMessage travels over a panel port in either direction.
type PortMessage struct {
	Type          string             `json:"type"`
	OriginalTabID TabID              `json:"originalTabId"`
	Payload       *types.ClipPayload `json:"payload,omitempty"`
}

// DecodePort parses a port message. Unknown types and missing tab ids are
// errors wrapping ErrMalformed.
func DecodePort(data []byte) (PortMessage, error) {
	var m PortMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	switch m.Type {
	case SetContextTabID, PanelReady:
	case InitializeWithContent:
		if m.Payload == nil {
			return m, fmt.Errorf("%w: content message without payload", ErrMalformed)
		}
	default:
		return m, fmt.Errorf("%w: unknown type %q", ErrMalformed, m.Type)
	}
	if m.OriginalTabID <= 0 {
		return m, fmt.Errorf("%w: %w", ErrMalformed, ErrBadTabID)
	}
	return m, nil
}
