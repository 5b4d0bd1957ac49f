package messagequeue

import "github.com/Strob0t/patternwatch/internal/domain/stream"

// StepPayload is the schema for <prefix>.steps.<pattern> messages. Index
// is the position of the step in the session log.
type StepPayload struct {
	SessionID string      `json:"session_id"`
	Pattern   string      `json:"pattern"`
	Index     int         `json:"index"`
	Step      stream.Step `json:"step"`
}

// SessionCompletePayload is the schema for <prefix>.sessions.<pattern>.complete.
type SessionCompletePayload struct {
	SessionID      string  `json:"session_id"`
	Pattern        string  `json:"pattern"`
	Steps          int     `json:"steps"`
	TotalTokens    int     `json:"total_tokens"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
}

// SessionErrorPayload is the schema for <prefix>.sessions.<pattern>.error.
type SessionErrorPayload struct {
	SessionID string `json:"session_id"`
	Pattern   string `json:"pattern"`
	Error     string `json:"error"`
}
