package results

import (
	"github.com/Strob0t/patternwatch/internal/domain/session"
	"github.com/Strob0t/patternwatch/internal/domain/stream"
)

// Summary holds the headline numbers of a run.
type Summary struct {
	Steps          int     `json:"steps"`
	TotalTokens    int     `json:"totalTokens"`
	ElapsedSeconds float64 `json:"elapsedSeconds"`
	Iterations     int     `json:"iterations,omitempty"`
	Workers        int     `json:"workers,omitempty"`
}

// WorkerResult is the output of one orchestrator worker.
type WorkerResult struct {
	WorkerID int    `json:"workerId"`
	Label    string `json:"label"`
	Title    string `json:"title,omitempty"`
	Content  string `json:"content"`
	Tokens   int    `json:"tokens"`
}

// Report is the pattern-specific results view of a step log.
type Report struct {
	Pattern session.Pattern `json:"pattern"`
	Summary Summary         `json:"summary"`

	// Reflection.
	Iterations []IterationGroup `json:"iterations,omitempty"`

	// Orchestrator.
	Plan     []stream.Subtask `json:"plan,omitempty"`
	PlanRaw  string           `json:"planRaw,omitempty"`
	Workers  []WorkerResult   `json:"workers,omitempty"`
	Final    string           `json:"final,omitempty"`
	Timeline []TimelineEntry  `json:"timeline,omitempty"`

	Usage []UsageBar `json:"usage,omitempty"`
}

// Build derives the report for the given pattern. It is idempotent and
// safe to call on a partial log.
func Build(pattern session.Pattern, steps []stream.Step, opts Options) Report {
	r := Report{
		Pattern: pattern,
		Summary: Summary{
			Steps:          len(steps),
			TotalTokens:    TotalTokens(steps),
			ElapsedSeconds: Elapsed(steps).Seconds(),
		},
		Usage: UsageBars(steps),
	}

	switch pattern {
	case session.PatternReflection:
		r.Summary.Iterations = MaxIteration(steps)
		r.Iterations = GroupByIteration(steps)
	case session.PatternOrchestrator:
		buildOrchestrator(&r, steps, opts)
	}
	return r
}

func buildOrchestrator(r *Report, steps []stream.Step, opts Options) {
	var planned bool
	for _, s := range steps {
		switch s.Type {
		case stream.StepPlanning:
			if planned {
				continue
			}
			planned = true
			if plan, ok := ParseSubtasks(s); ok {
				r.Plan = plan
			} else {
				r.PlanRaw = s.Content
			}
		case stream.StepWorkerComplete:
			id := len(r.Workers)
			if s.WorkerID != nil {
				id = *s.WorkerID
			}
			w := WorkerResult{
				WorkerID: id,
				Label:    Label(stream.Step{Agent: stream.AgentWorker, WorkerID: stream.Int(id)}),
				Content:  s.Content,
				Tokens:   s.Tokens(),
			}
			if id >= 0 && id < len(r.Plan) {
				w.Title = r.Plan[id].Title
			}
			r.Workers = append(r.Workers, w)
		case stream.StepFinal:
			if r.Final == "" {
				r.Final = s.Content
			}
		}
	}
	r.Summary.Workers = len(r.Workers)
	r.Timeline = Timeline(steps, opts)
}
