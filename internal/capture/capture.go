// Package capture turns a clip payload into one fully built research card.
package capture

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/lotas/cognito/internal/ai"
	"github.com/lotas/cognito/internal/applog"
	"github.com/lotas/cognito/internal/types"
)

// minReadableLen is the shortest page text worth summarizing.
const minReadableLen = 50

// CardInserter is the slice of the card store the handler writes to.
type CardInserter interface {
	Insert(ctx context.Context, c types.Card) (int64, error)
}

// Augmenter is the slice of the AI gateway the handler calls.
type Augmenter interface {
	SummarizeAndTag(ctx context.Context, text string) ai.SummaryResult
	Tag(ctx context.Context, text string) []string
}

// ImageFetcher converts an image URL to a data URI.
type ImageFetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// PageReader extracts readable text from a linked page.
type PageReader interface {
	Read(ctx context.Context, url string) (title, text string, err error)
}

// Handler builds and stores cards. A card is inserted only once every
// field is computed; any failure before that leaves the store untouched.
type Handler struct {
	store  CardInserter
	ai     Augmenter
	images ImageFetcher
	pages  PageReader
	now    func() time.Time
}

// NewHandler wires a handler. pages may be nil, in which case links are
// summarized from their link text.
func NewHandler(store CardInserter, gw Augmenter, images ImageFetcher, pages PageReader) *Handler {
	return &Handler{store: store, ai: gw, images: images, pages: pages, now: time.Now}
}

// Handle captures p. It returns the new card id, or 0 when the payload
// shape is not recognized.
func (h *Handler) Handle(ctx context.Context, p types.ClipPayload) (int64, error) {
	switch {
	case p.MenuItemID == types.MenuSaveSelection && strings.TrimSpace(p.SelectionText) != "":
		return h.saveSelection(ctx, p)
	case p.MenuItemID == types.MenuSaveImage && p.SrcURL != "":
		return h.saveImage(ctx, p)
	case p.MenuItemID == types.MenuSaveLink && p.LinkURL != "":
		return h.saveLink(ctx, p)
	}
	applog.Warn("capture.ignored", "menu", p.MenuItemID)
	return 0, nil
}

func (h *Handler) insert(ctx context.Context, c types.Card) (int64, error) {
	id, err := h.store.Insert(ctx, c)
	if err != nil {
		return 0, err
	}
	applog.Info("capture.saved", "id", id, "type", c.Type, "tags", len(c.Tags))
	return id, nil
}

func (h *Handler) saveSelection(ctx context.Context, p types.ClipPayload) (int64, error) {
	content := p.SelectionText
	res := h.ai.SummarizeAndTag(ctx, content)

	id, err := h.insert(ctx, types.Card{
		Type:      types.CardText,
		Content:   content,
		SourceURL: p.SourcePageURL,
		CreatedAt: h.now().UnixMilli(),
		Summary:   res.Summary,
		Tags:      res.Tags,
	})
	if err != nil {
		return 0, fmt.Errorf("save selection: %w", err)
	}
	return id, nil
}

func (h *Handler) saveImage(ctx context.Context, p types.ClipPayload) (int64, error) {
	content, err := h.images.Fetch(ctx, p.SrcURL)
	if err != nil {
		return 0, fmt.Errorf("save image: %w", err)
	}

	summary := strings.TrimSpace(p.SourcePageTitle)
	if summary == "" {
		summary = "Image from " + imageHost(p.SrcURL, p.SourcePageURL)
	}
	tags := h.ai.Tag(ctx, summary)

	id, err := h.insert(ctx, types.Card{
		Type:       types.CardImage,
		Content:    content,
		SourceURL:  p.SourcePageURL,
		CreatedAt:  h.now().UnixMilli(),
		Summary:    summary,
		Tags:       tags,
		Provenance: &types.ProvenanceResult{Status: types.ProvenanceUnverified},
	})
	if err != nil {
		return 0, fmt.Errorf("save image: %w", err)
	}
	return id, nil
}

// saveLink stores the URL as text content and summarizes the linked page
// when it can be read.
func (h *Handler) saveLink(ctx context.Context, p types.ClipPayload) (int64, error) {
	text := strings.TrimSpace(p.SelectionText)
	if h.pages != nil {
		title, body, err := h.pages.Read(ctx, p.LinkURL)
		switch {
		case err != nil:
			applog.Error("capture.link.read", err, "url", p.LinkURL)
		case len(strings.TrimSpace(body)) >= minReadableLen:
			text = body
		case title != "":
			text = title
		}
	}
	if text == "" {
		text = p.LinkURL
	}

	res := h.ai.SummarizeAndTag(ctx, text)
	id, err := h.insert(ctx, types.Card{
		Type:      types.CardText,
		Content:   p.LinkURL,
		SourceURL: p.SourcePageURL,
		CreatedAt: h.now().UnixMilli(),
		Summary:   res.Summary,
		Tags:      res.Tags,
	})
	if err != nil {
		return 0, fmt.Errorf("save link: %w", err)
	}
	return id, nil
}

// imageHost names where an image came from: the image URL's host, or the
// page's host for inline images.
func imageHost(src, page string) string {
	for _, raw := range []string{src, page} {
		if u, err := url.Parse(raw); err == nil && u.Hostname() != "" {
			return u.Hostname()
		}
	}
	return "unknown source"
}
