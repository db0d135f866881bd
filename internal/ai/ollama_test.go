package ai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/lotas/cognito/internal/types"
)

func TestOllamaPrompt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/api/generate" {
			t.Errorf("expected /api/generate, got %s", r.URL.Path)
		}

		var req ollamaRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Model != "llama3.2" {
			t.Errorf("expected model llama3.2, got %s", req.Model)
		}
		if req.Stream {
			t.Error("expected stream=false")
		}
		if req.System == "" {
			t.Error("expected locale system instruction")
		}

		json.NewEncoder(w).Encode(ollamaResponse{Response: "This is a test summary."})
	}))
	defer srv.Close()

	o := NewOllama(srv.URL, "llama3.2")
	s, err := o.Create(context.Background(), "en")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer s.Destroy()

	result, err := s.Prompt(context.Background(), "Some article text here.", PromptOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "This is a test summary." {
		t.Errorf("unexpected result: %q", result)
	}
}

func TestOllamaPrompt_ImageUsesVisionModel(t *testing.T) {
	img := []byte("image-bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ollamaRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Model != "llava" {
			t.Errorf("model = %s, want llava", req.Model)
		}
		if len(req.Images) != 1 || req.Images[0] != base64.StdEncoding.EncodeToString(img) {
			t.Errorf("images = %v", req.Images)
		}
		json.NewEncoder(w).Encode(ollamaResponse{Response: "ok"})
	}))
	defer srv.Close()

	o := NewOllama(srv.URL, "llama3.2")
	o.VisionModel = "llava"
	s, _ := o.Create(context.Background(), "en")
	if _, err := s.Prompt(context.Background(), "look", PromptOptions{Image: img}); err != nil {
		t.Fatalf("Prompt: %v", err)
	}
}

func TestOllamaPrompt_Error(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(500)
	}))
	defer srv.Close()

	s, _ := NewOllama(srv.URL, "llama3.2").Create(context.Background(), "en")
	if _, err := s.Prompt(context.Background(), "text", PromptOptions{}); err == nil {
		t.Error("expected error for 500 response")
	}
}

func TestOllamaPrompt_Cancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	s, _ := NewOllama(srv.URL, "llama3.2").Create(context.Background(), "en")
	cancel()

	if _, err := s.Prompt(ctx, "text", PromptOptions{}); err == nil {
		t.Error("expected error for cancelled context")
	}
}

func TestOllamaPrompt_AfterDestroy(t *testing.T) {
	s, _ := NewOllama("http://127.0.0.1:1", "llama3.2").Create(context.Background(), "en")
	s.Destroy()
	if _, err := s.Prompt(context.Background(), "text", PromptOptions{}); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("err = %v, want ErrSessionClosed", err)
	}
}

func TestOllamaAvailability(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			t.Errorf("expected /api/tags, got %s", r.URL.Path)
		}
		w.Write([]byte(`{"models":[{"name":"llama3.2:latest"},{"name":"llava:7b"}]}`))
	}))
	defer srv.Close()

	ctx := context.Background()
	tests := []struct {
		model, vision string
		want          Availability
	}{
		{"llama3.2", "", Ready},
		{"llama3.2:latest", "llava", Ready},
		{"mistral", "", Unavailable},
		{"llama3.2", "bakllava", Unavailable},
	}
	for _, tt := range tests {
		o := NewOllama(srv.URL, tt.model)
		o.VisionModel = tt.vision
		got, err := o.Availability(ctx, "en")
		if err != nil {
			t.Fatalf("Availability: %v", err)
		}
		if got != tt.want {
			t.Errorf("Availability(%s,%s) = %s, want %s", tt.model, tt.vision, got, tt.want)
		}
	}
}

func TestOllamaAvailability_Down(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	got, err := NewOllama(srv.URL, "llama3.2").Availability(context.Background(), "en")
	if err == nil || got != Unavailable {
		t.Errorf("Availability = %s, %v; want unavailable with error", got, err)
	}
}

func TestGatewayQuerySendsEveryCandidate(t *testing.T) {
	const n = 80
	var prompt string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			w.Write([]byte(`{"models":[{"name":"llama3.2:latest"}]}`))
		case "/api/generate":
			var req ollamaRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Errorf("decode request: %v", err)
			}
			prompt = req.Prompt
			json.NewEncoder(w).Encode(ollamaResponse{Response: fmt.Sprint(n)})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	cards := make([]types.Card, n)
	for i := range cards {
		cards[i] = types.Card{
			ID:      int64(i + 1),
			Type:    types.CardText,
			Content: strings.Repeat("research note ", 20),
			Summary: strings.Repeat("a fairly long summary of the card ", 5),
			Tags:    []string{"alpha", "beta", "gamma"},
		}
	}

	g := NewGateway(NewOllama(srv.URL, "llama3.2"), "en", 5*time.Second)
	ids := g.QueryRelevantIDs(context.Background(), "notes", cards)

	if len(prompt) <= 16000 {
		t.Fatalf("expected a prompt over 16000 bytes, got %d", len(prompt))
	}
	if !strings.Contains(prompt, fmt.Sprintf(`"id": %d,`, n)) {
		t.Errorf("last card missing from prompt")
	}
	if !ids[n] {
		t.Errorf("ids = %v, want %d", ids, n)
	}
}
