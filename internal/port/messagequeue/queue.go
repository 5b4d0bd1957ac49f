// Package messagequeue defines the message queue port (interface) and the
// subjects and payloads patternwatch publishes session progress on.
package messagequeue

import (
	"context"
	"strings"
)

// Handler processes a message received from the queue.
// The context carries request-scoped values such as the session ID.
type Handler func(ctx context.Context, subject string, data []byte) error

// Publisher sends messages.
type Publisher interface {
	// Publish sends a message to the given subject.
	Publish(ctx context.Context, subject string, data []byte) error
}

// Queue is the port interface for publishing and subscribing to messages.
type Queue interface {
	Publisher

	// Subscribe registers a handler for messages on the given subject.
	// The returned function cancels the subscription.
	Subscribe(ctx context.Context, subject string, handler Handler) (cancel func(), err error)

	// Drain gracefully drains all subscriptions before closing.
	Drain() error

	// Close shuts down the queue connection immediately.
	Close() error

	// IsConnected reports whether the queue is currently connected.
	IsConnected() bool
}

// Subject segments. Full subjects are built with the helpers below:
//
//	<prefix>.steps.<pattern>
//	<prefix>.sessions.<pattern>.complete
//	<prefix>.sessions.<pattern>.error
const (
	SegmentSteps    = "steps"
	SegmentSessions = "sessions"
	OutcomeComplete = "complete"
	OutcomeError    = "error"
	SuffixDLQ       = "dlq"
)

// StepSubject returns the subject steps of pattern are published on.
func StepSubject(prefix, pattern string) string {
	return join(prefix, SegmentSteps, pattern)
}

// SessionSubject returns the subject the session outcome is published on.
func SessionSubject(prefix, pattern, outcome string) string {
	return join(prefix, SegmentSessions, pattern, outcome)
}

// AllSteps returns the wildcard subject matching the steps of every pattern.
func AllSteps(prefix string) string {
	return join(prefix, SegmentSteps, "*")
}

// DLQSubject returns the dead-letter subject for subject.
func DLQSubject(subject string) string {
	return subject + "." + SuffixDLQ
}

func join(parts ...string) string {
	return strings.Join(parts, ".")
}
