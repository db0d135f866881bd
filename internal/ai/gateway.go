package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/lotas/cognito/internal/applog"
	"github.com/lotas/cognito/internal/types"
)

const (
	// DefaultTimeout bounds every model call.
	DefaultTimeout = 60 * time.Second

	fallbackSummaryRunes = 120
	snippetRunes         = 100

	// maxInputRunes bounds the user text placed into summary and tag prompts.
	maxInputRunes = 16000

	// FindingsUnavailable is the provenance note when no model is available.
	FindingsUnavailable = "On-device model unavailable; analysis was not run."
	// FindingsError is the provenance note when the model call failed.
	FindingsError = "Analysis could not be completed due to an error."
)

// SummaryResult is the output of SummarizeAndTag.
type SummaryResult struct {
	Summary string
	Tags    []string
}

// Gateway is the only path to the model. Every operation checks
// availability first and degrades to a fixed fallback instead of failing.
type Gateway struct {
	model   Model
	locale  string
	timeout time.Duration
}

// NewGateway wraps model. A zero timeout means DefaultTimeout.
func NewGateway(model Model, locale string, timeout time.Duration) *Gateway {
	if model == nil {
		model = Disabled{}
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Gateway{model: model, locale: locale, timeout: timeout}
}

// Available reports whether the model can serve prompts right now.
func (g *Gateway) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	a, err := g.model.Availability(ctx, g.locale)
	if err != nil {
		applog.Error("ai.availability", err)
		return false
	}
	return a == Ready
}

// prompt runs one prompt in a freshly created session.
func (g *Gateway) prompt(ctx context.Context, text string, image []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	session, err := g.model.Create(ctx, g.locale)
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	defer session.Destroy()

	return session.Prompt(ctx, text, PromptOptions{Image: image, Locale: g.locale})
}

// FallbackSummary is the summary used when the model cannot produce one:
// the first 120 runes of text, with an ellipsis when truncated.
func FallbackSummary(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= fallbackSummaryRunes {
		return text
	}
	return string([]rune(text)[:fallbackSummaryRunes]) + "…"
}

// clip cuts text to maxInputRunes without splitting a rune.
func clip(text string) string {
	if utf8.RuneCountInString(text) <= maxInputRunes {
		return text
	}
	return string([]rune(text)[:maxInputRunes])
}

// SummarizeAndTag summarizes text and derives 2-5 tags. Without a model the
// summary is FallbackSummary(text) and the tags are empty.
func (g *Gateway) SummarizeAndTag(ctx context.Context, text string) SummaryResult {
	if !g.Available(ctx) {
		applog.Warn("ai.fallback", "op", "summarize")
		return SummaryResult{Summary: FallbackSummary(text), Tags: []string{}}
	}

	summary, err := g.prompt(ctx, fmt.Sprintf(summaryPrompt, clip(text)), nil)
	summary = strings.TrimSpace(summary)
	if err != nil || summary == "" {
		if err != nil {
			applog.Error("ai.summarize", err)
		}
		summary = FallbackSummary(text)
	}

	return SummaryResult{Summary: summary, Tags: g.tags(ctx, text)}
}

// Tag derives tags only. Without a model the result is empty.
func (g *Gateway) Tag(ctx context.Context, text string) []string {
	if !g.Available(ctx) {
		applog.Warn("ai.fallback", "op", "tag")
		return []string{}
	}
	return g.tags(ctx, text)
}

func (g *Gateway) tags(ctx context.Context, text string) []string {
	raw, err := g.prompt(ctx, fmt.Sprintf(tagPrompt, clip(text)), nil)
	if err != nil {
		applog.Error("ai.tag", err)
		return []string{}
	}
	return ParseTags(raw)
}

// AnalyzeProvenance classifies image. It never fails: without a model, or
// on any model error, the status is ProvenanceUnverified.
func (g *Gateway) AnalyzeProvenance(ctx context.Context, image []byte) types.ProvenanceResult {
	if !g.Available(ctx) {
		applog.Warn("ai.fallback", "op", "provenance")
		return types.ProvenanceResult{Status: types.ProvenanceUnverified, Findings: FindingsUnavailable}
	}
	raw, err := g.prompt(ctx, provenancePrompt, image)
	if err != nil {
		applog.Error("ai.provenance", err)
		return types.ProvenanceResult{Status: types.ProvenanceUnverified, Findings: FindingsError}
	}
	res := ParseProvenance(raw)
	if res.Status == types.ProvenanceUnverified {
		applog.Warn("ai.provenance.unparsed", "len", len(raw))
	}
	return res
}

// candidate is the compact projection of a card sent to the model.
type candidate struct {
	ID             int64    `json:"id"`
	Type           string   `json:"type"`
	Summary        string   `json:"summary"`
	Tags           []string `json:"tags"`
	ContentSnippet string   `json:"contentSnippet"`
}

func project(c types.Card) candidate {
	snippet := ""
	if c.Type == types.CardText {
		snippet = c.Content
		if utf8.RuneCountInString(snippet) > snippetRunes {
			snippet = string([]rune(snippet)[:snippetRunes])
		}
	}
	tags := c.Tags
	if tags == nil {
		tags = []string{}
	}
	return candidate{
		ID:             c.ID,
		Type:           string(c.Type),
		Summary:        c.Summary,
		Tags:           tags,
		ContentSnippet: snippet,
	}
}

// marshal encodes v as JSON without HTML escaping.
func marshal(v any, indent bool) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if indent {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// QueryRelevantIDs returns the ids of cards relevant to query. Without a
// model it falls back to a case-insensitive substring match over each
// serialized candidate. A model error yields no matches.
func (g *Gateway) QueryRelevantIDs(ctx context.Context, query string, cards []types.Card) map[int64]bool {
	ids := make(map[int64]bool)
	query = strings.TrimSpace(query)
	if query == "" || len(cards) == 0 {
		return ids
	}

	projected := make([]candidate, len(cards))
	for i, c := range cards {
		projected[i] = project(c)
	}

	if !g.Available(ctx) {
		applog.Warn("ai.fallback", "op", "query")
		needle := strings.ToLower(query)
		for _, p := range projected {
			b, err := marshal(p, false)
			if err != nil {
				continue
			}
			if strings.Contains(strings.ToLower(string(b)), needle) {
				ids[p.ID] = true
			}
		}
		return ids
	}

	payload, err := marshal(projected, true)
	if err != nil {
		applog.Error("ai.query.marshal", err)
		return ids
	}
	raw, err := g.prompt(ctx, fmt.Sprintf(queryPrompt, query, payload), nil)
	if err != nil {
		applog.Error("ai.query", err)
		return ids
	}
	for _, id := range ParseIDs(raw) {
		ids[id] = true
	}
	return ids
}

// FilterCards keeps the cards whose ids QueryRelevantIDs returned, in their
// original relative order.
func (g *Gateway) FilterCards(ctx context.Context, query string, cards []types.Card) []types.Card {
	ids := g.QueryRelevantIDs(ctx, query, cards)
	return SelectByID(cards, ids)
}

// SelectByID keeps cards whose id is in ids, preserving order.
func SelectByID(cards []types.Card, ids map[int64]bool) []types.Card {
	result := []types.Card{}
	for _, c := range cards {
		if ids[c.ID] {
			result = append(result, c)
		}
	}
	return result
}
