// Package results derives summary analytics from a step log: iteration
// grouping, token totals, elapsed time, usage bars and a relative timeline.
// Every function is pure and accepts partial logs.
package results

import (
	"sort"
	"strconv"
	"time"

	"github.com/Strob0t/patternwatch/internal/domain/stream"
)

// Options tunes the timeline heuristics.
type Options struct {
	// WorkerStartFallback is subtracted from a step's timestamp when no
	// start time is known for it.
	WorkerStartFallback time.Duration `json:"worker_start_fallback" yaml:"worker_start_fallback"`
	// MinWidth is the minimum bar width as a fraction of the span.
	MinWidth float64 `json:"min_bar_width" yaml:"min_bar_width"`
}

// DefaultOptions returns the stock timeline heuristics.
func DefaultOptions() Options {
	return Options{
		WorkerStartFallback: time.Second,
		MinWidth:            0.02,
	}
}

// minSpan replaces a zero span so fractions stay finite.
const minSpan = time.Millisecond

// IterationGroup collects the steps of one reflection iteration.
type IterationGroup struct {
	Iteration int                             `json:"iteration"`
	Types     []stream.StepType               `json:"types"`
	Steps     map[stream.StepType]stream.Step `json:"steps"`
}

// Step returns the latest step of type t in the group.
func (g IterationGroup) Step(t stream.StepType) (stream.Step, bool) {
	s, ok := g.Steps[t]
	return s, ok
}

// GroupByIteration buckets steps by iteration number in ascending order.
// Types keep first-seen order; Steps keeps the latest step per type.
// Steps without an iteration are not grouped.
func GroupByIteration(steps []stream.Step) []IterationGroup {
	byIter := make(map[int]*IterationGroup)
	for _, s := range steps {
		if s.Iteration == nil {
			continue
		}
		n := *s.Iteration
		g, ok := byIter[n]
		if !ok {
			g = &IterationGroup{Iteration: n, Steps: make(map[stream.StepType]stream.Step)}
			byIter[n] = g
		}
		if _, seen := g.Steps[s.Type]; !seen {
			g.Types = append(g.Types, s.Type)
		}
		g.Steps[s.Type] = s.Clone()
	}

	out := make([]IterationGroup, 0, len(byIter))
	for _, g := range byIter {
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Iteration < out[j].Iteration })
	return out
}

// MaxIteration returns the highest iteration number, 0 when none.
func MaxIteration(steps []stream.Step) int {
	maxIter := 0
	for _, s := range steps {
		if s.Iteration != nil && *s.Iteration > maxIter {
			maxIter = *s.Iteration
		}
	}
	return maxIter
}

// TotalTokens sums the reported usage. Steps without usage contribute 0.
func TotalTokens(steps []stream.Step) int {
	total := 0
	for _, s := range steps {
		total += s.Tokens()
	}
	return total
}

// Elapsed returns the time between the first and last timestamped steps
// in log order. It is 0 with fewer than two timestamps and never negative.
func Elapsed(steps []stream.Step) time.Duration {
	first, last, n := bounds(steps)
	if n < 2 {
		return 0
	}
	if d := last.Sub(first); d > 0 {
		return d
	}
	return 0
}

// bounds returns the first and last parsable timestamps in log order.
func bounds(steps []stream.Step) (first, last time.Time, n int) {
	for _, s := range steps {
		t, ok := s.Time()
		if !ok {
			continue
		}
		if n == 0 {
			first = t
		}
		last = t
		n++
	}
	return first, last, n
}

// UsageBar is one row of the token usage chart.
type UsageBar struct {
	Label    string          `json:"label"`
	Agent    string          `json:"agent"`
	Type     stream.StepType `json:"type"`
	Tokens   int             `json:"tokens"`
	Fraction float64         `json:"fraction"`
}

// UsageBars returns a bar per step that reported usage, scaled to the
// largest one.
func UsageBars(steps []stream.Step) []UsageBar {
	maxTokens := 0
	for _, s := range steps {
		if s.Tokens() > maxTokens {
			maxTokens = s.Tokens()
		}
	}
	if maxTokens == 0 {
		return nil
	}

	var bars []UsageBar
	for _, s := range steps {
		tokens := s.Tokens()
		if tokens == 0 {
			continue
		}
		bars = append(bars, UsageBar{
			Label:    Label(s),
			Agent:    s.Agent,
			Type:     s.Type,
			Tokens:   tokens,
			Fraction: float64(tokens) / float64(maxTokens),
		})
	}
	return bars
}

// TimelineEntry is one bar of the execution timeline. Left and Width are
// fractions of the observed span.
type TimelineEntry struct {
	Label  string          `json:"label"`
	Agent  string          `json:"agent"`
	Type   stream.StepType `json:"type"`
	Tokens int             `json:"tokens"`
	Start  time.Time       `json:"start"`
	End    time.Time       `json:"end"`
	Left   float64         `json:"left"`
	Width  float64         `json:"width"`
}

// Timeline places every timestamped, usage-reporting step on the span
// between the first and last timestamps of the log. A worker_complete
// starts at the latest earlier worker_start of the same worker; any other
// step, and a worker without a recorded start, starts
// opts.WorkerStartFallback before its timestamp.
func Timeline(steps []stream.Step, opts Options) []TimelineEntry {
	first, last, n := bounds(steps)
	if n == 0 {
		return nil
	}
	span := last.Sub(first)
	if span <= 0 {
		span = minSpan
	}

	starts := make(map[int]time.Time)
	var entries []TimelineEntry
	for _, s := range steps {
		end, ok := s.Time()
		if !ok {
			continue
		}
		if s.Type == stream.StepWorkerStart && s.WorkerID != nil {
			starts[*s.WorkerID] = end
			continue
		}
		tokens := s.Tokens()
		if tokens == 0 {
			continue
		}

		start := end.Add(-opts.WorkerStartFallback)
		if s.Type == stream.StepWorkerComplete && s.WorkerID != nil {
			if ws, ok := starts[*s.WorkerID]; ok {
				start = ws
			}
		}

		left := float64(start.Sub(first)) / float64(span)
		width := float64(end.Sub(start)) / float64(span)
		if width < opts.MinWidth {
			width = opts.MinWidth
		}
		entries = append(entries, TimelineEntry{
			Label:  Label(s),
			Agent:  s.Agent,
			Type:   s.Type,
			Tokens: tokens,
			Start:  start,
			End:    end,
			Left:   clamp01(left),
			Width:  clamp01(width),
		})
	}
	return entries
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

var agentLabels = map[string]string{
	stream.AgentGenerator:    "Generator",
	stream.AgentCritic:       "Critic",
	stream.AgentRefiner:      "Refiner",
	stream.AgentOrchestrator: "Orchestrator",
	stream.AgentSynthesizer:  "Synthesizer",
	stream.AgentSystem:       "System",
}

// Label returns the display name of the agent that produced the step.
// Workers are numbered from 1.
func Label(s stream.Step) string {
	if s.Agent == stream.AgentWorker || (s.Agent == "" && isWorkerStep(s.Type)) {
		id := 0
		if s.WorkerID != nil {
			id = *s.WorkerID
		}
		return "Worker " + strconv.Itoa(id+1)
	}
	if l, ok := agentLabels[s.Agent]; ok {
		return l
	}
	if s.Agent == "" {
		return string(s.Type)
	}
	return s.Agent
}

func isWorkerStep(t stream.StepType) bool {
	return t == stream.StepWorkerStart || t == stream.StepWorkerComplete
}
