package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"nhooyr.io/websocket"

	"github.com/lotas/cognito/internal/protocol"
)

// wsURL turns an http base URL or bare host:port into a ws URL for path.
func wsURL(base, path string) string {
	switch {
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case !strings.Contains(base, "://"):
		base = "ws://" + base
	}
	return strings.TrimRight(base, "/") + path
}

func httpURL(base, path string) string {
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return strings.TrimRight(base, "/") + path
}

// PortConn is the panel end of a port.
type PortConn struct {
	conn *websocket.Conn
}

// DialPort opens the port named by tab on the relay at base.
func DialPort(ctx context.Context, base string, tab protocol.TabID) (*PortConn, error) {
	u := wsURL(base, "/port/"+url.PathEscape(tab.String()))
	conn, _, err := websocket.Dial(ctx, u, nil)
	if err != nil {
		return nil, fmt.Errorf("dial port %s: %w", tab, err)
	}
	conn.SetReadLimit(readLimit)
	return &PortConn{conn: conn}, nil
}

// Send writes one port message.
func (p *PortConn) Send(ctx context.Context, m protocol.PortMessage) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return p.conn.Write(ctx, websocket.MessageText, data)
}

// Recv blocks for the next port message.
func (p *PortConn) Recv(ctx context.Context) (protocol.PortMessage, error) {
	_, data, err := p.conn.Read(ctx)
	if err != nil {
		return protocol.PortMessage{}, err
	}
	return protocol.DecodePort(data)
}

// Close closes the port.
func (p *PortConn) Close() error {
	return p.conn.Close(websocket.StatusNormalClosure, "panel closed")
}

// PostEvent submits an extension event over HTTP, for tools that act on
// behalf of the extension without taking over its channel.
func PostEvent(ctx context.Context, base string, m protocol.IncomingMsg) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, httpURL(base, "/api/events"), bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("post event: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("post event: HTTP %d", resp.StatusCode)
	}
	return nil
}

// ActiveTab asks the relay for the most recently activated tab.
func ActiveTab(ctx context.Context, base string) (protocol.TabID, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, httpURL(base, "/api/active-tab"), nil)
	if err != nil {
		return 0, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("query active tab: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("query active tab: HTTP %d", resp.StatusCode)
	}
	var body struct {
		TabID protocol.TabID `json:"tabId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("decode active tab: %w", err)
	}
	if body.TabID <= 0 {
		return 0, protocol.ErrBadTabID
	}
	return body.TabID, nil
}
