package services

import (
	"context"
	"sync"

	"github.com/manthysbr/qagent/internal/core/domain"
)

// Session runs successive questions through one AgentLoop, carrying the
// question/answer history and the backend context between them.
type Session struct {
	mu          sync.Mutex
	loop        *AgentLoop
	history     []domain.Exchange
	context     []int
	historySize int
	keepContext bool
}

// NewSession keeps at most historySize exchanges. With keepContext the
// backend continuation token of each answer is passed to the next question.
func NewSession(loop *AgentLoop, historySize int, keepContext bool) *Session {
	if historySize <= 0 {
		historySize = 20
	}
	return &Session{loop: loop, historySize: historySize, keepContext: keepContext}
}

// Ask answers question with the session's history in the prompt.
func (s *Session) Ask(ctx context.Context, question string) (*domain.RunResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	in := RunInput{Question: question, History: append([]domain.Exchange(nil), s.history...)}
	if s.keepContext {
		in.PriorContext = s.context
	}

	res, err := s.loop.RunWith(ctx, in)
	if res != nil && res.Answer != "" {
		s.history = append(s.history, domain.Exchange{Question: res.Question, Answer: res.Answer})
		if over := len(s.history) - s.historySize; over > 0 {
			s.history = s.history[over:]
		}
		if s.keepContext {
			s.context = res.Context
		}
	}
	return res, err
}

// History returns a copy of the recorded exchanges.
func (s *Session) History() []domain.Exchange {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Exchange(nil), s.history...)
}

// Reset forgets history and backend context.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = nil
	s.context = nil
}
