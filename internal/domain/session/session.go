// Package session implements the aggregation state machine that turns a
// sequence of stream events into per-entity text buffers and an ordered
// step log.
package session

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Strob0t/patternwatch/internal/domain"
	"github.com/Strob0t/patternwatch/internal/domain/stream"
)

// State is the lifecycle state of a session.
type State string

const (
	StateIdle      State = "idle"
	StateLoading   State = "loading"
	StateStreaming State = "streaming"
	StateComplete  State = "complete"
	StateError     State = "error"
)

// Active reports whether the session still accepts events.
func (s State) Active() bool { return s == StateLoading || s == StateStreaming }

// Pattern selects the remote agent pattern a session runs.
type Pattern string

const (
	PatternReflection   Pattern = "reflection"
	PatternOrchestrator Pattern = "orchestrator"
)

// Patterns lists every supported pattern in display order.
var Patterns = []Pattern{PatternReflection, PatternOrchestrator}

// Valid reports whether p is a supported pattern.
func (p Pattern) Valid() bool {
	return p == PatternReflection || p == PatternOrchestrator
}

// ErrTransition is returned when an event or transition does not apply in
// the current state.
var ErrTransition = fmt.Errorf("invalid session transition: %w", domain.ErrConflict)

type buffer struct {
	key       stream.EntityID
	agent     string
	workerID  *int
	iteration *int
	text      strings.Builder
	closed    bool
	usage     *stream.TokenUsage
}

// Session holds the state of one run. It is not safe for concurrent use;
// the driver serializes access.
type Session struct {
	ID      string
	Pattern Pattern
	Task    string

	state   State
	errMsg  string
	steps   []stream.Step
	buffers map[stream.EntityID]*buffer
	order   []stream.EntityID
	version uint64

	currentIteration *int
	startedAt        time.Time
	finishedAt       time.Time

	now func() time.Time
}

// New creates a session in the loading state.
func New(id string, pattern Pattern, task string) *Session {
	s := &Session{
		ID:      id,
		Pattern: pattern,
		Task:    task,
		state:   StateLoading,
		buffers: make(map[stream.EntityID]*buffer),
		now:     time.Now,
	}
	s.startedAt = s.now()
	s.version = 1
	return s
}

// State returns the current lifecycle state.
func (s *Session) State() State { return s.state }

// Version returns the mutation counter. It increases on every change.
func (s *Session) Version() uint64 { return s.version }

// StepCount returns the number of steps in the log.
func (s *Session) StepCount() int { return len(s.steps) }

// StartedAt returns when the session was submitted.
func (s *Session) StartedAt() time.Time { return s.startedAt }

func (s *Session) bump() { s.version++ }

// MarkStreaming records that the first byte of the response arrived.
// It is a no-op when already streaming.
func (s *Session) MarkStreaming() error {
	switch s.state {
	case StateStreaming:
		return nil
	case StateLoading:
		s.state = StateStreaming
		s.bump()
		return nil
	default:
		return fmt.Errorf("mark streaming from %s: %w", s.state, ErrTransition)
	}
}

// TokenUpdate describes the effect of one applied token delta.
type TokenUpdate struct {
	Entity    stream.EntityID `json:"entity"`
	Agent     string          `json:"agent"`
	WorkerID  *int            `json:"workerId,omitempty"`
	Iteration *int            `json:"iteration,omitempty"`
	Delta     string          `json:"delta"`
	Created   bool            `json:"created"`
	Version   uint64          `json:"version"`
}

// ApplyToken appends the delta to its entity buffer, creating the buffer
// on first use.
func (s *Session) ApplyToken(d stream.TokenDelta) (TokenUpdate, error) {
	if s.state != StateStreaming {
		return TokenUpdate{}, fmt.Errorf("token in %s: %w", s.state, ErrTransition)
	}
	key := d.Entity()
	b, created := s.ensure(key, d.Agent, d.WorkerID, d.Iteration)
	b.text.WriteString(d.Delta)
	if d.Iteration != nil {
		s.currentIteration = stream.Int(*d.Iteration)
	}
	s.bump()
	return TokenUpdate{
		Entity:    key,
		Agent:     d.Agent,
		WorkerID:  d.WorkerID,
		Iteration: d.Iteration,
		Delta:     d.Delta,
		Created:   created,
		Version:   s.version,
	}, nil
}

// ApplyStep appends the step to the log and updates the buffer it
// finalizes or opens.
func (s *Session) ApplyStep(step stream.Step) error {
	if s.state != StateStreaming {
		return fmt.Errorf("step %s in %s: %w", step.Type, s.state, ErrTransition)
	}
	step = step.Clone()
	s.steps = append(s.steps, step)

	if key, ok := stream.OpenKey(step); ok {
		s.ensure(key, stream.AgentWorker, step.WorkerID, nil)
	}

	if key, ok := stream.FinalizationKey(step); ok {
		b, exists := s.buffers[key]
		if !exists && step.Type == stream.StepFinal && step.Content != "" {
			agent := step.Agent
			if agent != stream.AgentSynthesizer {
				agent = stream.AgentSystem
			}
			b, _ = s.ensure(key, agent, nil, step.Iteration)
			b.text.WriteString(step.Content)
			exists = true
		}
		if exists {
			b.closed = true
			if step.TokenUsage != nil {
				u := *step.TokenUsage
				b.usage = &u
			}
		}
	}

	s.bump()
	return nil
}

// Apply dispatches a classified event. An ErrorEvent fails the session.
// The returned update is non-nil only for token deltas.
func (s *Session) Apply(ev stream.Event) (*TokenUpdate, error) {
	switch e := ev.(type) {
	case stream.TokenDelta:
		u, err := s.ApplyToken(e)
		if err != nil {
			return nil, err
		}
		return &u, nil
	case stream.Step:
		return nil, s.ApplyStep(e)
	case stream.ErrorEvent:
		return nil, s.Fail(e.Message)
	case nil:
		return nil, errors.New("apply: nil event")
	default:
		return nil, fmt.Errorf("apply: unsupported event %T", ev)
	}
}

func (s *Session) ensure(key stream.EntityID, agent string, workerID, iteration *int) (*buffer, bool) {
	if b, ok := s.buffers[key]; ok {
		return b, false
	}
	b := &buffer{key: key, agent: agent}
	if workerID != nil {
		b.workerID = stream.Int(*workerID)
	}
	if iteration != nil {
		b.iteration = stream.Int(*iteration)
	}
	s.buffers[key] = b
	s.order = append(s.order, key)
	return b, true
}

// Fail moves an active session to the error state. Data is kept.
func (s *Session) Fail(msg string) error {
	if !s.state.Active() {
		return fmt.Errorf("fail from %s: %w", s.state, ErrTransition)
	}
	s.state = StateError
	s.errMsg = msg
	s.finishedAt = s.now()
	s.bump()
	return nil
}

// Complete moves an active session to the complete state.
func (s *Session) Complete() error {
	if !s.state.Active() {
		return fmt.Errorf("complete from %s: %w", s.state, ErrTransition)
	}
	s.state = StateComplete
	s.finishedAt = s.now()
	s.bump()
	return nil
}

// Cancel returns an active session to idle and reports whether it did.
// Idle and finished sessions are left untouched.
func (s *Session) Cancel() bool {
	if !s.state.Active() {
		return false
	}
	s.state = StateIdle
	s.finishedAt = s.now()
	s.bump()
	return true
}

// Steps returns a copy of the step log.
func (s *Session) Steps() []stream.Step { return stream.CloneSteps(s.steps) }

// Buffer is an immutable view of one entity buffer.
type Buffer struct {
	Key       stream.EntityID    `json:"key"`
	Agent     string             `json:"agent"`
	WorkerID  *int               `json:"workerId,omitempty"`
	Iteration *int               `json:"iteration,omitempty"`
	Text      string             `json:"text"`
	Closed    bool               `json:"closed"`
	Usage     *stream.TokenUsage `json:"tokenUsage,omitempty"`
}

// Snapshot is an immutable copy of the session, safe to hand to observers
// and views.
type Snapshot struct {
	ID               string        `json:"id"`
	Pattern          Pattern       `json:"pattern"`
	Task             string        `json:"task"`
	State            State         `json:"state"`
	Error            string        `json:"error,omitempty"`
	Steps            []stream.Step `json:"steps"`
	Buffers          []Buffer      `json:"buffers"`
	Version          uint64        `json:"version"`
	CurrentIteration *int          `json:"currentIteration,omitempty"`
	StartedAt        time.Time     `json:"startedAt"`
	FinishedAt       *time.Time    `json:"finishedAt,omitempty"`
}

// Buffer returns the buffer with the given key.
func (snap Snapshot) Buffer(key stream.EntityID) (Buffer, bool) {
	for _, b := range snap.Buffers {
		if b.Key == key {
			return b, true
		}
	}
	return Buffer{}, false
}

// Snapshot copies the session state. Buffers are listed in creation order.
func (s *Session) Snapshot() Snapshot {
	snap := Snapshot{
		ID:        s.ID,
		Pattern:   s.Pattern,
		Task:      s.Task,
		State:     s.state,
		Error:     s.errMsg,
		Steps:     stream.CloneSteps(s.steps),
		Buffers:   make([]Buffer, 0, len(s.order)),
		Version:   s.version,
		StartedAt: s.startedAt,
	}
	if s.currentIteration != nil {
		snap.CurrentIteration = stream.Int(*s.currentIteration)
	}
	if !s.finishedAt.IsZero() {
		t := s.finishedAt
		snap.FinishedAt = &t
	}
	for _, key := range s.order {
		b := s.buffers[key]
		out := Buffer{
			Key:    b.key,
			Agent:  b.agent,
			Text:   b.text.String(),
			Closed: b.closed,
		}
		if b.workerID != nil {
			out.WorkerID = stream.Int(*b.workerID)
		}
		if b.iteration != nil {
			out.Iteration = stream.Int(*b.iteration)
		}
		if b.usage != nil {
			u := *b.usage
			out.Usage = &u
		}
		snap.Buffers = append(snap.Buffers, out)
	}
	return snap
}
