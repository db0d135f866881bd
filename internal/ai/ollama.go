package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
)

type ollamaRequest struct {
	Model  string   `json:"model"`
	Prompt string   `json:"prompt"`
	System string   `json:"system,omitempty"`
	Images []string `json:"images,omitempty"`
	Stream bool     `json:"stream"`
}

type ollamaResponse struct {
	Response string `json:"response"`
}

type ollamaTags struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// Ollama serves prompts from a local Ollama instance. Image prompts go to
// VisionModel when set.
type Ollama struct {
	Host        string
	Model       string
	VisionModel string
	Client      *http.Client
}

// NewOllama returns a client for host using model for every prompt.
func NewOllama(host, model string) *Ollama {
	return &Ollama{
		Host:   strings.TrimRight(host, "/"),
		Model:  model,
		Client: http.DefaultClient,
	}
}

// Availability lists the installed models and reports Ready when the
// configured ones are present.
func (o *Ollama) Availability(ctx context.Context, locale string) (Availability, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.Host+"/api/tags", nil)
	if err != nil {
		return Unavailable, fmt.Errorf("create request: %w", err)
	}
	resp, err := o.client().Do(req)
	if err != nil {
		return Unavailable, fmt.Errorf("ollama request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Unavailable, fmt.Errorf("ollama returned HTTP %d", resp.StatusCode)
	}
	var tags ollamaTags
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return Unavailable, fmt.Errorf("decode ollama tags: %w", err)
	}

	installed := make(map[string]bool)
	for _, m := range tags.Models {
		installed[m.Name] = true
		if base, _, ok := strings.Cut(m.Name, ":"); ok {
			installed[base] = true
		}
	}
	if !installed[o.Model] {
		return Unavailable, nil
	}
	if o.VisionModel != "" && !installed[o.VisionModel] {
		return Unavailable, nil
	}
	return Ready, nil
}

// Create returns a session bound to locale. Ollama keeps no per-session
// state, so the session only scopes the locale instruction.
func (o *Ollama) Create(ctx context.Context, locale string) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &ollamaSession{o: o, locale: locale}, nil
}

func (o *Ollama) client() *http.Client {
	if o.Client != nil {
		return o.Client
	}
	return http.DefaultClient
}

type ollamaSession struct {
	o      *Ollama
	locale string

	mu     sync.Mutex
	closed bool
}

func (s *ollamaSession) Prompt(ctx context.Context, text string, opts PromptOptions) (string, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return "", ErrSessionClosed
	}

	locale := opts.Locale
	if locale == "" {
		locale = s.locale
	}

	reqBody := ollamaRequest{
		Model:  s.o.Model,
		Prompt: text,
		Stream: false,
	}
	if locale != "" {
		reqBody.System = "Always answer in the language with code " + locale + "."
	}
	if len(opts.Image) > 0 {
		reqBody.Images = []string{base64.StdEncoding.EncodeToString(opts.Image)}
		if s.o.VisionModel != "" {
			reqBody.Model = s.o.VisionModel
		}
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.o.Host+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.o.client().Do(req)
	if err != nil {
		return "", fmt.Errorf("ollama request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ollama returned HTTP %d", resp.StatusCode)
	}

	var result ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode ollama response: %w", err)
	}

	return result.Response, nil
}

func (s *ollamaSession) Destroy() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}
