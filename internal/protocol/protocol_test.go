package protocol

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/lotas/cognito/internal/types"
)

func TestParseTabID(t *testing.T) {
	if id, err := ParseTabID(" 42 "); err != nil || id != 42 {
		t.Errorf("ParseTabID = %d, %v", id, err)
	}
	for _, s := range []string{"", "abc", "0", "-3", "1.5"} {
		if _, err := ParseTabID(s); !errors.Is(err, ErrBadTabID) {
			t.Errorf("ParseTabID(%q) err = %v, want ErrBadTabID", s, err)
		}
	}
}

func TestDecodePort(t *testing.T) {
	m, err := DecodePort([]byte(`{"type":"PANEL_READY","originalTabId":7}`))
	if err != nil {
		t.Fatalf("DecodePort: %v", err)
	}
	if m.Type != PanelReady || m.OriginalTabID != 7 {
		t.Errorf("got %+v", m)
	}

	m, err = DecodePort([]byte(`{"type":"SET_CONTEXT_TAB_ID","originalTabId":"9"}`))
	if err != nil || m.OriginalTabID != 9 {
		t.Errorf("string tab id: %+v, %v", m, err)
	}

	m, err = DecodePort([]byte(`{"type":"INITIALIZE_WITH_CONTENT","originalTabId":3,"payload":{"menuItemId":"save-selection-to-cognito","selectionText":"hi","sourcePageUrl":"http://x.com"}}`))
	if err != nil {
		t.Fatalf("content message: %v", err)
	}
	if m.Payload.SelectionText != "hi" || m.Payload.SourcePageURL != "http://x.com" {
		t.Errorf("payload = %+v", m.Payload)
	}
}

func TestDecodePort_Rejects(t *testing.T) {
	bad := []string{
		`not json`,
		`{"type":"PANEL_READY"}`,
		`{"type":"PANEL_READY","originalTabId":"seven"}`,
		`{"type":"PANEL_READY","originalTabId":{}}`,
		`{"type":"HELLO","originalTabId":1}`,
		`{"type":"INITIALIZE_WITH_CONTENT","originalTabId":1}`,
	}
	for _, b := range bad {
		if _, err := DecodePort([]byte(b)); !errors.Is(err, ErrMalformed) {
			t.Errorf("DecodePort(%s) err = %v, want ErrMalformed", b, err)
		}
	}
}

func TestPortMessageWireShape(t *testing.T) {
	b, err := json.Marshal(PortMessage{Type: SetContextTabID, OriginalTabID: 5})
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `{"type":"SET_CONTEXT_TAB_ID","originalTabId":5}` {
		t.Errorf("wire = %s", b)
	}
}

func TestIncomingPayload(t *testing.T) {
	var m IncomingMsg
	err := json.Unmarshal([]byte(`{
		"type": "contextMenuClick",
		"info": {"menuItemId": "save-image-to-cognito", "srcUrl": "https://cdn.x/a.png"},
		"tab": {"id": 12, "windowId": 3, "url": "https://x.com/post", "title": "A post"}
	}`), &m)
	if err != nil {
		t.Fatal(err)
	}
	p := m.Payload()
	want := types.ClipPayload{
		MenuItemID:      types.MenuSaveImage,
		SrcURL:          "https://cdn.x/a.png",
		SourcePageURL:   "https://x.com/post",
		SourcePageTitle: "A post",
	}
	if p != want {
		t.Errorf("payload = %+v, want %+v", p, want)
	}
	if m.Tab.ID != 12 || m.Tab.WindowID != 3 {
		t.Errorf("tab = %+v", m.Tab)
	}
}

func TestNewCommandIDsDiffer(t *testing.T) {
	a, b := NewCommand(ActionCreateMenu), NewCommand(ActionCreateMenu)
	if a.ID == "" || a.ID == b.ID {
		t.Errorf("ids %q %q", a.ID, b.ID)
	}
	if a.Action != ActionCreateMenu {
		t.Errorf("action = %q", a.Action)
	}
}
