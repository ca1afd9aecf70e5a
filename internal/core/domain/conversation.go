package domain

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

// RunID uniquely identifies one agent loop run.
type RunID string

// NewRunID generates a compact random run ID (run-<12 hex>)
func NewRunID() RunID {
	b := make([]byte, 6)
	_, _ = rand.Read(b)
	return RunID("run-" + hex.EncodeToString(b))
}

// Turn is one generate-decide-dispatch cycle of a run.
type Turn struct {
	Index       int           `json:"index"`
	Response    string        `json:"response"`
	Action      Action        `json:"action"`
	Observation Observation   `json:"observation,omitempty"`
	Error       string        `json:"error,omitempty"`
	Duration    time.Duration `json:"duration"`
}

// Exchange is a prior question/answer pair surfaced as history.
type Exchange struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// ConversationState is owned by a single run. It only grows.
type ConversationState struct {
	Question        string
	History         []Exchange
	Turns           []Turn
	LastObservation Observation
	// PriorContext is the backend's opaque continuation token, if any.
	PriorContext []int
}

// AppendTurn records a finished turn and carries its observation forward.
func (s *ConversationState) AppendTurn(t Turn) {
	s.Turns = append(s.Turns, t)
	s.LastObservation = t.Observation
}

// RunResult is the outcome of a terminated run.
type RunResult struct {
	ID       RunID         `json:"id"`
	TraceID  TraceID       `json:"trace_id,omitempty"`
	Question string        `json:"question"`
	Answer   string        `json:"answer"`
	Turns    []Turn        `json:"turns"`
	Context  []int         `json:"-"`
	Duration time.Duration `json:"duration"`
}

// StepKind classifies a StepEvent.
type StepKind string

const (
	StepPrompt      StepKind = "prompt"
	StepResponse    StepKind = "response"
	StepToolCall    StepKind = "tool_call"
	StepObservation StepKind = "observation"
	StepMalformed   StepKind = "malformed"
	StepFinal       StepKind = "final"
)

// StepEvent is published for every state transition of a run.
type StepEvent struct {
	RunID RunID    `json:"run_id"`
	Turn  int      `json:"turn"`
	Kind  StepKind `json:"kind"`
	Text  string   `json:"text"`
	Tool  string   `json:"tool,omitempty"`
}
