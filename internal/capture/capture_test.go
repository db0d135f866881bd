package capture

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lotas/cognito/internal/ai"
	"github.com/lotas/cognito/internal/ai/aitest"
	"github.com/lotas/cognito/internal/datauri"
	"github.com/lotas/cognito/internal/storage"
	"github.com/lotas/cognito/internal/types"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

type stubImages struct {
	uri string
	err error
	got []string
}

func (s *stubImages) Fetch(ctx context.Context, url string) (string, error) {
	s.got = append(s.got, url)
	return s.uri, s.err
}

type stubPages struct {
	title, text string
	err         error
}

func (s stubPages) Read(ctx context.Context, url string) (string, string, error) {
	return s.title, s.text, s.err
}

func newStore(t *testing.T) *storage.CardStore {
	t.Helper()
	db, err := storage.OpenDB(filepath.Join(t.TempDir(), "cards.db"))
	if err != nil {
		t.Fatalf("OpenDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return storage.NewCardStore(db)
}

func newHandler(t *testing.T, model ai.Model, images ImageFetcher, pages PageReader) (*Handler, *storage.CardStore) {
	t.Helper()
	store := newStore(t)
	h := NewHandler(store, ai.NewGateway(model, "en", time.Second), images, pages)
	h.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return h, store
}

func onlyCard(t *testing.T, store *storage.CardStore) types.Card {
	t.Helper()
	cards, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(cards) != 1 {
		t.Fatalf("got %d cards, want 1", len(cards))
	}
	return cards[0]
}

func TestHandle_Selection(t *testing.T) {
	model := aitest.New(true).
		On("Summarize the following text", "Q3 revenue grew 15 percent.").
		On("organizational tags", "finance, quarterly results")
	h, store := newHandler(t, model, nil, nil)

	id, err := h.Handle(context.Background(), types.ClipPayload{
		MenuItemID:    types.MenuSaveSelection,
		SelectionText: "Q3 revenue up 15%",
		SourcePageURL: "http://x.com",
	})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if id == 0 {
		t.Fatal("expected a card id")
	}

	c := onlyCard(t, store)
	if c.ID != id || c.Type != types.CardText || c.Content != "Q3 revenue up 15%" {
		t.Errorf("card = %+v", c)
	}
	if c.SourceURL != "http://x.com" {
		t.Errorf("sourceUrl = %q", c.SourceURL)
	}
	if c.Summary != "Q3 revenue grew 15 percent." {
		t.Errorf("summary = %q", c.Summary)
	}
	if strings.Join(c.Tags, "|") != "finance|quarterly results" {
		t.Errorf("tags = %v", c.Tags)
	}
	if c.CreatedAt != 1700000000000 {
		t.Errorf("createdAt = %d", c.CreatedAt)
	}
	if c.Provenance != nil {
		t.Errorf("text card has provenance %+v", c.Provenance)
	}
}

func TestHandle_SelectionDegraded(t *testing.T) {
	h, store := newHandler(t, aitest.New(false), nil, nil)

	if _, err := h.Handle(context.Background(), types.ClipPayload{
		MenuItemID:    types.MenuSaveSelection,
		SelectionText: "Q3 revenue up 15%",
		SourcePageURL: "http://x.com",
	}); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	c := onlyCard(t, store)
	if c.Summary != ai.FallbackSummary("Q3 revenue up 15%") {
		t.Errorf("summary = %q", c.Summary)
	}
	if len(c.Tags) != 0 {
		t.Errorf("tags = %v, want none", c.Tags)
	}
}

func TestHandle_Image(t *testing.T) {
	uri := datauri.Encode("image/png", pngBytes)
	images := &stubImages{uri: uri}
	model := aitest.New(true).On("organizational tags", "chart, revenue")
	h, store := newHandler(t, model, images, nil)

	_, err := h.Handle(context.Background(), types.ClipPayload{
		MenuItemID:      types.MenuSaveImage,
		SrcURL:          "https://cdn.example.com/chart.png",
		SourcePageURL:   "https://example.com/report",
		SourcePageTitle: "Quarterly Report",
	})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}

	c := onlyCard(t, store)
	if c.Type != types.CardImage || c.Content != uri {
		t.Errorf("card type=%q content=%.40q", c.Type, c.Content)
	}
	if c.Summary != "Quarterly Report" {
		t.Errorf("summary = %q", c.Summary)
	}
	if strings.Join(c.Tags, "|") != "chart|revenue" {
		t.Errorf("tags = %v", c.Tags)
	}
	if c.Provenance == nil || c.Provenance.Status != types.ProvenanceUnverified || c.Provenance.Findings != "" {
		t.Errorf("provenance = %+v", c.Provenance)
	}
	for _, p := range model.Prompts {
		if strings.Contains(p, "Summarize the following text") {
			t.Error("image summary must not be model-derived")
		}
	}
}

func TestHandle_ImageWithoutTitle(t *testing.T) {
	images := &stubImages{uri: datauri.Encode("image/png", pngBytes)}
	h, store := newHandler(t, aitest.New(false), images, nil)

	if _, err := h.Handle(context.Background(), types.ClipPayload{
		MenuItemID:    types.MenuSaveImage,
		SrcURL:        "https://cdn.example.com/a.png",
		SourcePageURL: "https://example.com/",
	}); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if got := onlyCard(t, store).Summary; got != "Image from cdn.example.com" {
		t.Errorf("summary = %q", got)
	}
}

func TestHandle_ImageFetchFailureWritesNothing(t *testing.T) {
	images := &stubImages{err: errors.New("connection refused")}
	h, store := newHandler(t, aitest.New(true), images, nil)

	_, err := h.Handle(context.Background(), types.ClipPayload{
		MenuItemID: types.MenuSaveImage,
		SrcURL:     "https://cdn.example.com/a.png",
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if n, _ := store.Count(context.Background()); n != 0 {
		t.Errorf("store has %d cards after failed capture", n)
	}
}

func TestHandle_Link(t *testing.T) {
	article := strings.Repeat("The article body talks about reliable message delivery. ", 3)
	model := aitest.New(true).
		OnFunc("Summarize the following text", func(prompt string, _ ai.PromptOptions) (string, error) {
			if !strings.Contains(prompt, "reliable message delivery") {
				t.Errorf("summary prompt missing article text: %q", prompt)
			}
			return "An article on delivery.", nil
		}).
		On("organizational tags", "messaging, reliability")
	h, store := newHandler(t, model, nil, stubPages{title: "Delivery", text: article})

	if _, err := h.Handle(context.Background(), types.ClipPayload{
		MenuItemID:    types.MenuSaveLink,
		LinkURL:       "https://blog.example.com/delivery",
		SourcePageURL: "https://news.example.com",
	}); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	c := onlyCard(t, store)
	if c.Type != types.CardText || c.Content != "https://blog.example.com/delivery" {
		t.Errorf("card = %+v", c)
	}
	if c.Summary != "An article on delivery." {
		t.Errorf("summary = %q", c.Summary)
	}
}

func TestHandle_LinkUnreadable(t *testing.T) {
	h, store := newHandler(t, aitest.New(false), nil, stubPages{err: errors.New("HTTP 404")})

	if _, err := h.Handle(context.Background(), types.ClipPayload{
		MenuItemID: types.MenuSaveLink,
		LinkURL:    "https://blog.example.com/gone",
	}); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if got := onlyCard(t, store).Summary; got != "https://blog.example.com/gone" {
		t.Errorf("summary = %q", got)
	}
}

func TestHandle_UnrecognizedIsNoop(t *testing.T) {
	h, store := newHandler(t, aitest.New(true), &stubImages{}, nil)

	payloads := []types.ClipPayload{
		{MenuItemID: "something-else", SelectionText: "x"},
		{MenuItemID: types.MenuSaveSelection},
		{MenuItemID: types.MenuSaveSelection, SelectionText: "   "},
		{MenuItemID: types.MenuSaveImage},
		{MenuItemID: types.MenuSaveLink},
	}
	for _, p := range payloads {
		id, err := h.Handle(context.Background(), p)
		if err != nil || id != 0 {
			t.Errorf("Handle(%+v) = %d, %v; want 0, nil", p, id, err)
		}
	}
	if n, _ := store.Count(context.Background()); n != 0 {
		t.Errorf("store has %d cards", n)
	}
}

func TestReadable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") == "" {
			t.Error("missing User-Agent")
		}
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<!DOCTYPE html>
<html><head><title>Test Article</title></head>
<body>
<article>
<h1>Test Article</h1>
<p>This is the main content of the article. It has enough text to be considered readable content by the readability algorithm. The quick brown fox jumps over the lazy dog. This paragraph needs to be long enough for readability to pick it up as meaningful content.</p>
<p>Second paragraph with more meaningful content that helps the readability parser understand this is a real article and not just navigation or boilerplate. We need several sentences here to make this work properly.</p>
</article>
</body></html>`))
	}))
	defer srv.Close()

	title, text, err := NewReadable(5*time.Second).Read(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if title == "" {
		t.Error("expected non-empty title")
	}
	if !strings.Contains(text, "quick brown fox") {
		t.Errorf("text = %q", text)
	}
}

func TestReadable_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	r := NewReadable(5 * time.Second)
	if _, _, err := r.Read(context.Background(), srv.URL); err == nil {
		t.Error("expected error for 404")
	}
	for _, u := range []string{"about:blank", "chrome://settings", "data:text/plain,hi"} {
		if _, _, err := r.Read(context.Background(), u); err == nil {
			t.Errorf("expected error for %s", u)
		}
	}
}
