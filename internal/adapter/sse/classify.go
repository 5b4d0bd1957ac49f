package sse

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Strob0t/patternwatch/internal/domain/stream"
)

// Outcome tells the caller what to do with a classified frame.
type Outcome int

const (
	// OutcomeEvent carries an event to apply.
	OutcomeEvent Outcome = iota
	// OutcomeSkipped means the payload could not be decoded; keep reading.
	OutcomeSkipped
	// OutcomeFatal means the agent service reported an error; stop reading.
	OutcomeFatal
	// OutcomeDone means the sentinel was received.
	OutcomeDone
)

func (o Outcome) String() string {
	switch o {
	case OutcomeEvent:
		return "event"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeFatal:
		return "fatal"
	case OutcomeDone:
		return "done"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// ErrMalformedFrame is wrapped by the error of every skipped frame.
var ErrMalformedFrame = errors.New("malformed frame")

// Result is the classification of one frame payload.
type Result struct {
	Outcome Outcome
	Event   stream.Event // set for OutcomeEvent and OutcomeFatal
	Err     error        // set for OutcomeSkipped
}

// envelope is the union of all frame shapes; Type selects the variant.
type envelope struct {
	Type      stream.Kind  `json:"type"`
	Agent     string       `json:"agent"`
	WorkerID  *int         `json:"workerId"`
	Iteration *int         `json:"iteration"`
	Delta     string       `json:"delta"`
	Step      *stream.Step `json:"step"`
	Message   string       `json:"message"`
}

// Classify decodes one frame payload. Undecodable payloads are reported as
// OutcomeSkipped so a single corrupt frame never aborts a healthy stream;
// an error frame is reported as OutcomeFatal.
func Classify(payload string) Result {
	if payload == DoneSentinel {
		return Result{Outcome: OutcomeDone}
	}

	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return skipped("decode: %w", err)
	}

	switch env.Type {
	case stream.KindToken:
		return Result{Outcome: OutcomeEvent, Event: stream.TokenDelta{
			Agent:     env.Agent,
			WorkerID:  env.WorkerID,
			Iteration: env.Iteration,
			Delta:     env.Delta,
		}}
	case stream.KindStep:
		if env.Step == nil {
			return skipped("step frame without step object")
		}
		return Result{Outcome: OutcomeEvent, Event: *env.Step}
	case stream.KindError:
		return Result{Outcome: OutcomeFatal, Event: stream.ErrorEvent{Message: env.Message}}
	default:
		return skipped("unknown frame type %q", env.Type)
	}
}

// ClassifyFrame classifies a decoded frame, short-circuiting the sentinel.
func ClassifyFrame(f Frame) Result {
	if f.Done {
		return Result{Outcome: OutcomeDone}
	}
	return Classify(f.Payload)
}

func skipped(format string, args ...any) Result {
	return Result{
		Outcome: OutcomeSkipped,
		Err:     fmt.Errorf("%w: %w", ErrMalformedFrame, fmt.Errorf(format, args...)),
	}
}
