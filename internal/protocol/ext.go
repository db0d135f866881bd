package protocol

import (
	"github.com/oklog/ulid/v2"

	"github.com/lotas/cognito/internal/types"
)

// Extension event types.
const (
	EventInstalled        = "installed"
	EventContextMenuClick = "contextMenuClick"
	EventActionClicked    = "actionClicked"
	EventTabActivated     = "tabActivated"
	EventResponse         = "response"
)

// Relay command actions.
const (
	ActionRemoveAllMenus = "removeAllMenus"
	ActionCreateMenu     = "createMenu"
	ActionOpenSidePanel  = "openSidePanel"
)

// ClickInfo is the context of a context-menu click.
type ClickInfo struct {
	MenuItemID    string `json:"menuItemId"`
	SelectionText string `json:"selectionText,omitempty"`
	SrcURL        string `json:"srcUrl,omitempty"`
	LinkURL       string `json:"linkUrl,omitempty"`
	PageURL       string `json:"pageUrl,omitempty"`
}

// Tab is the subset of a browser tab the relay needs.
type Tab struct {
	ID       TabID  `json:"id"`
	WindowID int64  `json:"windowId,omitempty"`
	URL      string `json:"url,omitempty"`
	Title    string `json:"title,omitempty"`
}

// IncomingMsg is a message from the extension to the relay.
type IncomingMsg struct {
	Type     string     `json:"type"`
	Info     *ClickInfo `json:"info,omitempty"`
	Tab      *Tab       `json:"tab,omitempty"`
	TabID    TabID      `json:"tabId,omitempty"`
	WindowID int64      `json:"windowId,omitempty"`
	// Command response fields
	ID    string `json:"id,omitempty"`
	OK    *bool  `json:"ok,omitempty"`
	Error string `json:"error,omitempty"`
}

// Payload builds the clip payload for a context-menu click. The page URL
// falls back to the tab URL.
func (m IncomingMsg) Payload() types.ClipPayload {
	var p types.ClipPayload
	if m.Info != nil {
		p.MenuItemID = m.Info.MenuItemID
		p.SelectionText = m.Info.SelectionText
		p.SrcURL = m.Info.SrcURL
		p.LinkURL = m.Info.LinkURL
		p.SourcePageURL = m.Info.PageURL
	}
	if m.Tab != nil {
		if p.SourcePageURL == "" {
			p.SourcePageURL = m.Tab.URL
		}
		p.SourcePageTitle = m.Tab.Title
	}
	return p
}

// MenuItem is a context-menu entry.
type MenuItem struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Contexts []string `json:"contexts"`
}

// Menus are the entries the relay installs.
var Menus = []MenuItem{
	{ID: types.MenuSaveSelection, Title: "Save selection to Cognito", Contexts: []string{"selection"}},
	{ID: types.MenuSaveImage, Title: "Save image to Cognito", Contexts: []string{"image"}},
	{ID: types.MenuSaveLink, Title: "Save link to Cognito", Contexts: []string{"link"}},
}

// OutgoingMsg is a command from the relay to the extension.
type OutgoingMsg struct {
	ID       string    `json:"id"`
	Action   string    `json:"action"`
	TabID    TabID     `json:"tabId,omitempty"`
	WindowID int64     `json:"windowId,omitempty"`
	Menu     *MenuItem `json:"menu,omitempty"`
}

// NewCommand returns a command with a fresh id.
func NewCommand(action string) OutgoingMsg {
	return OutgoingMsg{ID: ulid.Make().String(), Action: action}
}
