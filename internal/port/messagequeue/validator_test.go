package messagequeue

import (
	"strings"
	"testing"
)

func TestSubjects(t *testing.T) {
	if got := StepSubject("pw", "reflection"); got != "pw.steps.reflection" {
		t.Errorf("StepSubject = %q", got)
	}
	if got := SessionSubject("pw", "orchestrator", OutcomeError); got != "pw.sessions.orchestrator.error" {
		t.Errorf("SessionSubject = %q", got)
	}
	if got := AllSteps("pw"); got != "pw.steps.*" {
		t.Errorf("AllSteps = %q", got)
	}
	if got := DLQSubject("pw.steps.reflection"); got != "pw.steps.reflection.dlq" {
		t.Errorf("DLQSubject = %q", got)
	}
}

func TestValidateValidStep(t *testing.T) {
	data := []byte(`{"session_id":"s1","pattern":"reflection","index":0,"step":{"type":"draft","agent":"generator","iteration":1}}`)
	if err := Validate(StepSubject("pw", "reflection"), data); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateStepWithoutType(t *testing.T) {
	data := []byte(`{"session_id":"s1","pattern":"reflection","index":0,"step":{}}`)
	err := Validate(StepSubject("pw", "reflection"), data)
	if err == nil || !strings.Contains(err.Error(), "step.type is required") {
		t.Fatalf("expected step.type error, got %v", err)
	}
}

func TestValidateValidSessionComplete(t *testing.T) {
	data := []byte(`{"session_id":"s1","pattern":"orchestrator","steps":7,"total_tokens":300,"elapsed_seconds":10.5}`)
	if err := Validate(SessionSubject("pw", "orchestrator", OutcomeComplete), data); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateSessionErrorRequiresMessage(t *testing.T) {
	subject := SessionSubject("pw", "orchestrator", OutcomeError)
	if err := Validate(subject, []byte(`{"session_id":"s1","error":"quota exceeded"}`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := Validate(subject, []byte(`{"session_id":"s1"}`)); err == nil {
		t.Fatal("expected error for missing message")
	}
}

func TestValidateDLQAcceptsAnything(t *testing.T) {
	if err := Validate(DLQSubject(StepSubject("pw", "reflection")), []byte(`"raw"`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateUnknownSubject(t *testing.T) {
	data := []byte(`{"foo":"bar"}`)
	if err := Validate("unknown.subject", data); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateInvalidJSON(t *testing.T) {
	err := Validate(StepSubject("pw", "reflection"), []byte(`{not valid json`))
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
	if !strings.Contains(err.Error(), "invalid JSON") {
		t.Fatalf("expected 'invalid JSON' in error, got: %v", err)
	}
}

func TestValidateInvalidSchema(t *testing.T) {
	err := Validate(SessionSubject("pw", "reflection", OutcomeComplete), []byte(`"just a string"`))
	if err == nil {
		t.Fatal("expected schema validation error")
	}
	if !strings.Contains(err.Error(), "schema validation failed") {
		t.Fatalf("expected 'schema validation failed' in error, got: %v", err)
	}
}
