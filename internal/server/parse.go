package server

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lotas/cognito/internal/protocol"
)

// ParseIncoming decodes one extension message. Messages without a type are
// rejected; a context-menu click must carry its click info.
func ParseIncoming(data []byte) (protocol.IncomingMsg, error) {
	var msg protocol.IncomingMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, fmt.Errorf("parse extension message: %w", err)
	}
	if msg.Type == "" {
		if msg.ID == "" {
			return msg, errors.New("parse extension message: missing type")
		}
		// Command acknowledgments only carry id/ok/error.
		msg.Type = protocol.EventResponse
	}
	if msg.Type == protocol.EventContextMenuClick && msg.Info == nil {
		return msg, errors.New("parse extension message: click without info")
	}
	return msg, nil
}
