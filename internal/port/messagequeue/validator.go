package messagequeue

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Validate checks whether data is valid JSON conforming to the schema
// associated with the given subject. Unknown subjects pass validation
// (future-proof for new message types).
func Validate(subject string, data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("invalid JSON on subject %s", subject)
	}

	seg := strings.Split(subject, ".")
	n := len(seg)

	var (
		target any
		check  func() error
	)
	switch {
	case n >= 3 && seg[n-1] == SuffixDLQ:
		// Dead letters are kept verbatim.
		return nil
	case n >= 3 && seg[n-2] == SegmentSteps:
		p := &StepPayload{}
		target, check = p, func() error {
			if p.Step.Type == "" {
				return errors.New("step.type is required")
			}
			if p.Index < 0 {
				return errors.New("index must be >= 0")
			}
			return nil
		}
	case n >= 4 && seg[n-3] == SegmentSessions && seg[n-1] == OutcomeComplete:
		target = &SessionCompletePayload{}
	case n >= 4 && seg[n-3] == SegmentSessions && seg[n-1] == OutcomeError:
		p := &SessionErrorPayload{}
		target, check = p, func() error {
			if p.Error == "" {
				return errors.New("error is required")
			}
			return nil
		}
	default:
		return nil
	}

	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("schema validation failed for %s: %w", subject, err)
	}
	if check != nil {
		if err := check(); err != nil {
			return fmt.Errorf("schema validation failed for %s: %w", subject, err)
		}
	}
	return nil
}
