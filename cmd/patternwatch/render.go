package main

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"

	"github.com/Strob0t/patternwatch/internal/domain/results"
	"github.com/Strob0t/patternwatch/internal/domain/session"
	"github.com/Strob0t/patternwatch/internal/domain/stream"
	"github.com/Strob0t/patternwatch/internal/port/broadcast"
)

const (
	defaultWidth = 80
	minBarWidth  = 10
)

// terminalWidth returns the width of f when it is a terminal.
func terminalWidth(f *os.File) int {
	fd := int(f.Fd())
	if !term.IsTerminal(fd) {
		return defaultWidth
	}
	w, _, err := term.GetSize(fd)
	if err != nil || w <= 0 {
		return defaultWidth
	}
	return w
}

var _ broadcast.Observer = (*liveText)(nil)

// liveText prints token deltas as they stream, with a header whenever the
// speaking entity changes, and one line per completed step.
type liveText struct {
	mu      sync.Mutex
	w       io.Writer
	current stream.EntityID
}

func (v *liveText) Token(_ context.Context, _ session.Pattern, u session.TokenUpdate) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if u.Entity != v.current {
		label := results.Label(stream.Step{Agent: u.Agent, WorkerID: u.WorkerID})
		if u.Iteration != nil {
			label = fmt.Sprintf("%s (iteration %d)", label, *u.Iteration)
		}
		fmt.Fprintf(v.w, "\n--- %s ---\n", label)
		v.current = u.Entity
	}
	fmt.Fprint(v.w, u.Delta)
}

func (v *liveText) LogUpdated(_ context.Context, _ session.Pattern, steps []stream.Step) {
	if len(steps) == 0 {
		return
	}
	s := steps[len(steps)-1]
	v.mu.Lock()
	defer v.mu.Unlock()
	line := fmt.Sprintf("[%s] %s", results.Label(s), s.Type)
	if n := s.Tokens(); n > 0 {
		line += fmt.Sprintf(" (%d tokens)", n)
	}
	fmt.Fprintf(v.w, "\n%s\n", line)
	v.current = ""
}

func (v *liveText) Completed(context.Context, session.Pattern, []stream.Step) {}

func (v *liveText) Failed(_ context.Context, _ session.Pattern, message string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	fmt.Fprintf(v.w, "\nerror: %s\n", message)
}

// renderReport writes a plain-text rendering of r fitted to width columns.
func renderReport(w io.Writer, r results.Report, width int) {
	fmt.Fprintf(w, "\n== %s results ==\n", r.Pattern)
	fmt.Fprintf(w, "steps: %d  tokens: %d  elapsed: %.1fs", r.Summary.Steps, r.Summary.TotalTokens, r.Summary.ElapsedSeconds)
	switch r.Pattern {
	case session.PatternReflection:
		fmt.Fprintf(w, "  iterations: %d\n", r.Summary.Iterations)
		for _, g := range r.Iterations {
			types := make([]string, len(g.Types))
			for i, t := range g.Types {
				types[i] = string(t)
			}
			fmt.Fprintf(w, "  iteration %d: %s\n", g.Iteration, strings.Join(types, ", "))
		}
	case session.PatternOrchestrator:
		fmt.Fprintf(w, "  workers: %d\n", r.Summary.Workers)
		renderPlan(w, r)
		for _, wr := range r.Workers {
			title := wr.Label
			if wr.Title != "" {
				title += ": " + wr.Title
			}
			fmt.Fprintf(w, "  %s (%d tokens)\n", title, wr.Tokens)
		}
	default:
		fmt.Fprintln(w)
	}

	if len(r.Usage) > 0 {
		fmt.Fprintln(w, "\ntoken usage")
		labelW := labelWidth(len(r.Usage), func(i int) string { return r.Usage[i].Label })
		barW := barWidth(width, labelW)
		for _, b := range r.Usage {
			n := int(math.Round(b.Fraction * float64(barW)))
			fmt.Fprintf(w, "  %-*s %s %d\n", labelW, b.Label, strings.Repeat("#", n), b.Tokens)
		}
	}

	if len(r.Timeline) > 0 {
		fmt.Fprintln(w, "\ntimeline")
		labelW := labelWidth(len(r.Timeline), func(i int) string { return r.Timeline[i].Label })
		barW := barWidth(width, labelW)
		for _, e := range r.Timeline {
			fmt.Fprintf(w, "  %-*s |%s|\n", labelW, e.Label, timelineRow(e, barW))
		}
	}

	if r.Final != "" {
		fmt.Fprintf(w, "\nfinal\n%s\n", r.Final)
	}
}

func renderPlan(w io.Writer, r results.Report) {
	switch {
	case len(r.Plan) > 0:
		fmt.Fprintln(w, "  plan:")
		for i, st := range r.Plan {
			fmt.Fprintf(w, "    %d. %s\n", i+1, st.Title)
		}
	case r.PlanRaw != "":
		fmt.Fprintf(w, "  plan:\n    %s\n", r.PlanRaw)
	}
}

// timelineRow draws an entry as a run of '=' inside a barW-wide track.
// Every entry is at least one cell wide.
func timelineRow(e results.TimelineEntry, barW int) string {
	start := int(math.Round(e.Left * float64(barW)))
	n := int(math.Round(e.Width * float64(barW)))
	if n < 1 {
		n = 1
	}
	if start > barW-1 {
		start = barW - 1
	}
	if start+n > barW {
		n = barW - start
	}
	return strings.Repeat(" ", start) + strings.Repeat("=", n) + strings.Repeat(" ", barW-start-n)
}

func labelWidth(n int, label func(int) string) int {
	w := 0
	for i := range n {
		w = max(w, len(label(i)))
	}
	return w
}

// barWidth leaves room for indentation, the label and a token count.
func barWidth(width, labelW int) int {
	return max(width-labelW-12, minBarWidth)
}
