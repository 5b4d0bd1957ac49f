// Package stream defines the events emitted by a remote agent pattern run:
// incremental token deltas, step milestones and error reports.
package stream

import (
	"strings"
	"time"
)

// Kind discriminates the event envelope carried in a frame.
type Kind string

const (
	KindToken Kind = "token"
	KindStep  Kind = "step"
	KindError Kind = "error"
)

// StepType identifies a milestone in a pattern run.
type StepType string

const (
	StepDraft          StepType = "draft"
	StepCritique       StepType = "critique"
	StepRefinement     StepType = "refinement"
	StepPlanning       StepType = "planning"
	StepWorkerStart    StepType = "worker_start"
	StepWorkerComplete StepType = "worker_complete"
	StepSynthesizing   StepType = "synthesizing"
	StepFinal          StepType = "final"
)

// validStepTypes enumerates all known step types.
var validStepTypes = map[StepType]bool{
	StepDraft:          true,
	StepCritique:       true,
	StepRefinement:     true,
	StepPlanning:       true,
	StepWorkerStart:    true,
	StepWorkerComplete: true,
	StepSynthesizing:   true,
	StepFinal:          true,
}

// Known reports whether t is one of the step types emitted by the agent service.
func (t StepType) Known() bool { return validStepTypes[t] }

// Event is implemented by every decoded stream event.
type Event interface {
	EventKind() Kind
}

// TokenDelta is a fragment of text produced by one agent or worker.
type TokenDelta struct {
	Agent     string `json:"agent"`
	WorkerID  *int   `json:"workerId,omitempty"`
	Iteration *int   `json:"iteration,omitempty"`
	Delta     string `json:"delta"`
}

// EventKind returns KindToken.
func (TokenDelta) EventKind() Kind { return KindToken }

// Entity returns the buffer key the delta is appended to.
func (d TokenDelta) Entity() EntityID { return Resolve(d.Agent, d.WorkerID, d.Iteration) }

// TokenUsage is the usage block attached to a step. A zero total means
// the agent service did not report usage, not that the step was free.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Total returns the reported total, treating nil and negative values as 0.
func (u *TokenUsage) Total() int {
	if u == nil || u.TotalTokens < 0 {
		return 0
	}
	return u.TotalTokens
}

// Subtask is one unit of work produced by the orchestrator's plan.
type Subtask struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Approach    string `json:"approach,omitempty"`
}

// Step is a discrete milestone in the run. Timestamp is kept as sent
// (ISO 8601) and parsed on demand so a bad clock value never drops the step.
type Step struct {
	Type       StepType    `json:"type"`
	Agent      string      `json:"agent,omitempty"`
	WorkerID   *int        `json:"workerId,omitempty"`
	Iteration  *int        `json:"iteration,omitempty"`
	Content    string      `json:"content,omitempty"`
	Subtasks   []Subtask   `json:"subtasks,omitempty"`
	TokenUsage *TokenUsage `json:"tokenUsage,omitempty"`
	Timestamp  string      `json:"timestamp,omitempty"`
}

// EventKind returns KindStep.
func (Step) EventKind() Kind { return KindStep }

// Entity returns the key the step would have if it were a token.
func (s Step) Entity() EntityID { return Resolve(s.Agent, s.WorkerID, s.Iteration) }

// Tokens returns the reported total tokens of the step.
func (s Step) Tokens() int { return s.TokenUsage.Total() }

// Time parses the step timestamp. ok is false when it is missing or unparsable.
func (s Step) Time() (t time.Time, ok bool) {
	if s.Timestamp == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, s.Timestamp); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}

// Python's isoformat omits the zone for naive datetimes.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
}

// Preview returns the first n runes of the content, for log lines.
func (s Step) Preview(n int) string {
	content := strings.TrimSpace(s.Content)
	r := []rune(content)
	if len(r) <= n {
		return content
	}
	return string(r[:n]) + "..."
}

// Clone returns a deep copy of the step.
func (s Step) Clone() Step {
	c := s
	if s.WorkerID != nil {
		c.WorkerID = Int(*s.WorkerID)
	}
	if s.Iteration != nil {
		c.Iteration = Int(*s.Iteration)
	}
	if s.TokenUsage != nil {
		u := *s.TokenUsage
		c.TokenUsage = &u
	}
	if s.Subtasks != nil {
		c.Subtasks = append([]Subtask(nil), s.Subtasks...)
	}
	return c
}

// CloneSteps deep-copies a step log.
func CloneSteps(steps []Step) []Step {
	out := make([]Step, len(steps))
	for i := range steps {
		out[i] = steps[i].Clone()
	}
	return out
}

// ErrorEvent is an explicit failure reported by the agent service mid-stream.
type ErrorEvent struct {
	Message string `json:"message"`
}

// EventKind returns KindError.
func (ErrorEvent) EventKind() Kind { return KindError }

// Int returns a pointer to v, for optional integer fields.
func Int(v int) *int { return &v }
