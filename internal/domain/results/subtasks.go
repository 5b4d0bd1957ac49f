package results

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/Strob0t/patternwatch/internal/domain/stream"
)

// ParseSubtasks returns the orchestrator plan of a planning step. The
// step's own subtasks win; otherwise the content is parsed as JSON, either
// {"subtasks": [...]}, a bare array, or the first array-valued field of
// an object. ok is false when no plan can be recovered.
func ParseSubtasks(s stream.Step) (subtasks []stream.Subtask, ok bool) {
	if len(s.Subtasks) > 0 {
		return append([]stream.Subtask(nil), s.Subtasks...), true
	}
	content := bytes.TrimSpace([]byte(s.Content))
	if len(content) == 0 {
		return nil, false
	}

	switch content[0] {
	case '[':
		if err := json.Unmarshal(content, &subtasks); err != nil {
			return nil, false
		}
		return subtasks, true
	case '{':
		raw, found := firstArrayField(content)
		if !found {
			return nil, false
		}
		if err := json.Unmarshal(raw, &subtasks); err != nil {
			return nil, false
		}
		return subtasks, true
	default:
		return nil, false
	}
}

// firstArrayField returns the "subtasks" field of a JSON object when it is
// an array, else the first array-valued field in document order.
func firstArrayField(obj []byte) (json.RawMessage, bool) {
	dec := json.NewDecoder(bytes.NewReader(obj))
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return nil, false
	}

	var first json.RawMessage
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, false
		}
		key, _ := tok.(string)
		var val json.RawMessage
		if err := dec.Decode(&val); err != nil {
			return nil, false
		}
		if !strings.HasPrefix(string(bytes.TrimSpace(val)), "[") {
			continue
		}
		if key == "subtasks" {
			return val, true
		}
		if first == nil {
			first = val
		}
	}
	return first, first != nil
}
