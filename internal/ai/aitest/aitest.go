// Package aitest provides a scripted ai.Model for tests.
package aitest

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/lotas/cognito/internal/ai"
)

// Reply answers one prompt.
type Reply func(prompt string, opts ai.PromptOptions) (string, error)

// Model is an in-memory ai.Model. Replies are chosen by the first Rule whose
// substring occurs in the prompt; otherwise Default answers.
type Model struct {
	mu        sync.Mutex
	available bool
	availErr  error
	rules     []rule
	Default   Reply

	Prompts   []string
	Created   int
	Destroyed int
}

type rule struct {
	contains string
	reply    Reply
}

// New returns a model reporting the given availability.
func New(available bool) *Model {
	return &Model{
		available: available,
		Default:   func(string, ai.PromptOptions) (string, error) { return "", nil },
	}
}

// SetAvailable flips availability.
func (m *Model) SetAvailable(v bool) {
	m.mu.Lock()
	m.available = v
	m.mu.Unlock()
}

// FailAvailability makes Availability return err.
func (m *Model) FailAvailability(err error) {
	m.mu.Lock()
	m.availErr = err
	m.mu.Unlock()
}

// On answers prompts containing substr with text.
func (m *Model) On(substr, text string) *Model {
	return m.OnFunc(substr, func(string, ai.PromptOptions) (string, error) { return text, nil })
}

// OnError fails prompts containing substr.
func (m *Model) OnError(substr string, err error) *Model {
	return m.OnFunc(substr, func(string, ai.PromptOptions) (string, error) { return "", err })
}

// OnFunc answers prompts containing substr with reply.
func (m *Model) OnFunc(substr string, reply Reply) *Model {
	m.mu.Lock()
	m.rules = append(m.rules, rule{contains: substr, reply: reply})
	m.mu.Unlock()
	return m
}

// PromptCount returns the number of prompts seen so far.
func (m *Model) PromptCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Prompts)
}

func (m *Model) Availability(ctx context.Context, locale string) (ai.Availability, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.availErr != nil {
		return ai.Unavailable, m.availErr
	}
	if m.available {
		return ai.Ready, nil
	}
	return ai.Unavailable, nil
}

func (m *Model) Create(ctx context.Context, locale string) (ai.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.available {
		return nil, errors.New("model unavailable")
	}
	m.Created++
	return &session{m: m}, nil
}

type session struct {
	m      *Model
	closed bool
}

func (s *session) Prompt(ctx context.Context, text string, opts ai.PromptOptions) (string, error) {
	if s.closed {
		return "", ai.ErrSessionClosed
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.m.mu.Lock()
	s.m.Prompts = append(s.m.Prompts, text)
	reply := s.m.Default
	for _, r := range s.m.rules {
		if strings.Contains(text, r.contains) {
			reply = r.reply
			break
		}
	}
	s.m.mu.Unlock()
	return reply(text, opts)
}

func (s *session) Destroy() {
	if s.closed {
		return
	}
	s.closed = true
	s.m.mu.Lock()
	s.m.Destroyed++
	s.m.mu.Unlock()
}
